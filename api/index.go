package handler

import (
	"net/http"

	"commissions-backend/bootstrap"
)

var httpHandler http.Handler

func init() {
	rt, err := bootstrap.New()
	if err != nil {
		panic("app create: " + err.Error())
	}
	httpHandler = rt.Handler()
}

// Handler is the Vercel serverless entry point. All requests are rewritten here.
func Handler(w http.ResponseWriter, r *http.Request) {
	r.RequestURI = r.URL.String()
	httpHandler.ServeHTTP(w, r)
}

package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"commissions-backend/internal/config"
	"commissions-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupApp(t *testing.T) *fiber.App {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Env:            "test",
		RedisURL:       "redis://" + mr.Addr(),
		DatabaseURL:    "sqlite::memory:",
		HealthAdminKey: "k",
		SessionSecret:  "router-test-secret",
		LockBackend:    "local",
		LockTimeout:    2 * time.Second,
	}
	app, res, err := CreateApp(cfg)
	require.NoError(t, err)
	t.Cleanup(res.Close)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, cookie string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func sessionCookie(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c.Name + "=" + c.Value
		}
	}
	return ""
}

func login(t *testing.T, app *fiber.App, email, role string) string {
	resp, out := call(t, app, "POST", "/api/v1/users/register", "", map[string]string{
		"email": email, "password": "Secret#123", "fullname": "Test User", "role": role,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, out)
	resp, out = call(t, app, "POST", "/api/v1/auth/login", "", map[string]string{"email": email, "password": "Secret#123"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, out)
	cookie := sessionCookie(resp)
	require.NotEmpty(t, cookie)
	return cookie
}

func TestApp_SessionFlow(t *testing.T) {
	app := setupApp(t)

	resp, _ := call(t, app, "GET", "/api/v1/projects", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))

	client := login(t, app, "client@test.com", "client")
	resp, out := call(t, app, "POST", "/api/v1/projects", client, map[string]string{"title": "Poster"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, out)
	id := out["data"].(map[string]interface{})["project"].(map[string]interface{})["project_id"].(string)

	resp, _ = call(t, app, "POST", "/api/v1/projects/"+id+"/transitions", client, map[string]string{"event": "analyze"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = call(t, app, "POST", "/api/v1/projects/"+id+"/checkout", client, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, out = call(t, app, "GET", "/api/v1/wallet", client, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, out)

	fulfiller := login(t, app, "fulfiller@test.com", "fulfiller")
	resp, _ = call(t, app, "POST", "/api/v1/projects", fulfiller, map[string]string{"title": "Nope"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp, _ = call(t, app, "GET", "/api/v1/projects/"+id, fulfiller, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = call(t, app, "PATCH", "/api/v1/users/update-role", client, map[string]string{"user_id": id, "role": "admin"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = call(t, app, "DELETE", "/api/v1/auth/logout", client, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, _ = call(t, app, "GET", "/api/v1/projects", client, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestApp_HealthAndWebhook(t *testing.T) {
	app := setupApp(t)

	resp, out := call(t, app, "GET", "/health/json", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "ok", out["status"])

	req := httptest.NewRequest("POST", "/api/v1/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	wresp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, wresp.StatusCode)
}

package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"commissions-backend/internal/application/deliverables"
	"commissions-backend/internal/application/escrow"
	"commissions-backend/internal/application/ledger"
	"commissions-backend/internal/application/payments"
	"commissions-backend/internal/application/workflow"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/infrastructure/database"
	"commissions-backend/internal/infrastructure/locks"
	"commissions-backend/internal/middleware"
	"commissions-backend/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIntents struct{ calls int }

func (s *stubIntents) CreateIntent(ctx context.Context, in payments.IntentParams) (*payments.Intent, error) {
	s.calls++
	return &payments.Intent{ID: "pi_" + in.IdempotencyKey, ClientSecret: "cs_" + in.IdempotencyKey}, nil
}

type harness struct {
	app        *fiber.App
	wf         *workflow.Service
	intents    *stubIntents
	client     domain.Actor
	fulfiller  domain.Actor
	supervisor domain.Actor
}

func setupProjects(t *testing.T) *harness {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	lk := locks.NewLocal()
	l := &ledger.Service{DB: db, Locks: lk, LockTimeout: 5 * time.Second}
	wf := &workflow.Service{DB: db, Locks: lk, LockTimeout: 5 * time.Second, Escrow: &escrow.Service{Ledger: l}}
	intents := &stubIntents{}
	h := &Handlers{
		Workflow:     wf,
		Deliverables: &deliverables.Service{DB: db, Locks: lk, LockTimeout: 5 * time.Second},
		Payments:     &payments.Service{DB: db, Workflow: wf, Intents: intents},
	}
	x := &harness{
		wf:         wf,
		intents:    intents,
		client:     domain.Actor{UserID: uuid.New(), Role: constants.Client},
		fulfiller:  domain.Actor{UserID: uuid.New(), Role: constants.Fulfiller},
		supervisor: domain.Actor{UserID: uuid.New(), Role: constants.Supervisor},
	}
	for _, a := range []domain.Actor{x.client, x.fulfiller, x.supervisor} {
		require.NoError(t, db.Create(&domain.User{UserID: a.UserID, Fullname: "U", Email: a.UserID.String() + "@test.com", PasswordHash: "x", Role: a.Role}).Error)
	}

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(nil)})
	app.Use(func(c *fiber.Ctx) error {
		if id := c.Get("X-Test-User"); id != "" {
			c.Locals("user", map[string]interface{}{"user_id": id, "role": c.Get("X-Test-Role")})
		}
		return c.Next()
	})
	pg := app.Group("/projects", middleware.RequireAuth())
	pg.Post("/", middleware.AuthorizePermission(constants.SubmitProject), h.Submit)
	pg.Get("/", h.List)
	pg.Get("/:id", h.Get)
	pg.Get("/:id/history", h.History)
	pg.Post("/:id/transitions", h.Transition)
	pg.Post("/:id/checkout", h.Checkout)
	pg.Post("/:id/deliverables", middleware.AuthorizePermission(constants.SubmitDeliverable), h.SubmitDeliverable)
	pg.Get("/:id/deliverables", h.ListDeliverables)
	app.Patch("/deliverables/:id/qc", middleware.RequireAuth(), h.ReviewDeliverable)
	x.app = app
	return x
}

func (x *harness) do(t *testing.T, as domain.Actor, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if as.UserID != uuid.Nil {
		req.Header.Set("X-Test-User", as.UserID.String())
		req.Header.Set("X-Test-Role", as.Role)
	}
	resp, err := x.app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func data(out map[string]interface{}) map[string]interface{} {
	d, _ := out["data"].(map[string]interface{})
	return d
}

func projectOf(out map[string]interface{}) map[string]interface{} {
	p, _ := data(out)["project"].(map[string]interface{})
	return p
}

func (x *harness) event(t *testing.T, as domain.Actor, id, ev string, payload map[string]interface{}) (int, map[string]interface{}) {
	return x.do(t, as, "POST", "/projects/"+id+"/transitions", map[string]interface{}{"event": ev, "payload": payload})
}

func (x *harness) submitted(t *testing.T) string {
	code, out := x.do(t, x.client, "POST", "/projects", map[string]string{"title": "Logo", "description": "vector"})
	require.Equal(t, fiber.StatusCreated, code, out)
	return projectOf(out)["project_id"].(string)
}

func TestSubmit_ClientOnly(t *testing.T) {
	x := setupProjects(t)
	code, out := x.do(t, x.client, "POST", "/projects", map[string]string{"title": "Logo"})
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "submitted", projectOf(out)["status"])
	assert.Contains(t, data(out)["events"], "analyze")

	code, _ = x.do(t, x.fulfiller, "POST", "/projects", map[string]string{"title": "Logo"})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = x.do(t, domain.Actor{}, "POST", "/projects", map[string]string{"title": "Logo"})
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = x.do(t, x.client, "POST", "/projects", map[string]string{"title": " "})
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestTransition_MapsDomainErrors(t *testing.T) {
	x := setupProjects(t)
	id := x.submitted(t)

	code, _ := x.event(t, x.supervisor, id, "approve", nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, _ = x.event(t, x.supervisor, id, "teleport", nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, _ = x.event(t, x.fulfiller, id, "analyze", nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = x.event(t, x.supervisor, uuid.NewString(), "analyze", nil)
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = x.event(t, x.supervisor, "not-a-uuid", "analyze", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = x.do(t, x.supervisor, "POST", "/projects/"+id+"/transitions", map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, out := x.event(t, x.supervisor, id, "analyze", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "analyzing", projectOf(out)["status"])

	code, _ = x.event(t, x.supervisor, id, "quote", map[string]interface{}{"price": "100", "payout": "150"})
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestCheckoutAndDeliveryFlow(t *testing.T) {
	x := setupProjects(t)
	id := x.submitted(t)
	pid := uuid.MustParse(id)

	_, _ = x.event(t, x.supervisor, id, "analyze", nil)
	code, out := x.event(t, x.supervisor, id, "quote", map[string]interface{}{"price": "250.00", "payout": "200"})
	require.Equal(t, fiber.StatusOK, code, out)
	code, _ = x.event(t, x.client, id, "accept_quote", nil)
	require.Equal(t, fiber.StatusOK, code)

	code, _ = x.do(t, x.fulfiller, "POST", "/projects/"+id+"/checkout", nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, out = x.do(t, x.client, "POST", "/projects/"+id+"/checkout", nil)
	require.Equal(t, fiber.StatusOK, code, out)
	first := data(out)["client_secret"]
	code, out = x.do(t, x.client, "POST", "/projects/"+id+"/checkout", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, first, data(out)["client_secret"])

	code, _ = x.event(t, x.client, id, "confirm_payment", nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	_, err := x.wf.ConfirmPayment(context.Background(), pid, decimal.NewFromInt(250), "pi_test", x.client)
	require.NoError(t, err)

	_, _ = x.event(t, x.supervisor, id, "queue", nil)
	code, _ = x.event(t, x.supervisor, id, "assign", map[string]interface{}{"fulfiller_id": x.fulfiller.UserID.String()})
	require.Equal(t, fiber.StatusOK, code)
	code, _ = x.event(t, x.fulfiller, id, "start", nil)
	require.Equal(t, fiber.StatusOK, code)

	code, out = x.do(t, x.fulfiller, "POST", "/projects/"+id+"/deliverables", map[string]interface{}{"location": "s3://bucket/v1.zip", "is_final": true})
	require.Equal(t, fiber.StatusCreated, code, out)
	did := data(out)["deliverable"].(map[string]interface{})["deliverable_id"].(string)

	code, _ = x.do(t, x.supervisor, "PATCH", "/deliverables/"+did+"/qc", map[string]string{"status": "approved"})
	assert.Equal(t, fiber.StatusConflict, code)

	_, _ = x.event(t, x.fulfiller, id, "deliver", nil)
	_, _ = x.event(t, x.supervisor, id, "begin_review", nil)
	code, _ = x.do(t, x.supervisor, "PATCH", "/deliverables/"+did+"/qc", map[string]string{"status": "maybe"})
	assert.Equal(t, fiber.StatusBadRequest, code)
	code, _ = x.do(t, x.supervisor, "PATCH", "/deliverables/"+did+"/qc", map[string]string{"status": "approved"})
	require.Equal(t, fiber.StatusOK, code)
	code, out = x.event(t, x.supervisor, id, "approve", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "approved", projectOf(out)["status"])

	code, out = x.do(t, x.client, "GET", "/projects/"+id+"/deliverables", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, data(out)["deliverables"], 1)

	code, out = x.do(t, x.client, "GET", "/projects/"+id+"/history", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.NotEmpty(t, data(out)["history"])

	stranger := domain.Actor{UserID: uuid.New(), Role: constants.Client}
	code, _ = x.do(t, stranger, "GET", "/projects/"+id, nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	code, _ = x.do(t, stranger, "GET", "/projects/"+id+"/deliverables", nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, out = x.do(t, x.fulfiller, "GET", "/projects", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, data(out)["projects"], 1)
}

package projects

import (
	"strings"

	"commissions-backend/internal/application/deliverables"
	"commissions-backend/internal/application/payments"
	"commissions-backend/internal/application/workflow"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/middleware"
	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers serves the project lifecycle. Domain errors are returned to the app ErrorHandler,
// which maps them to status codes.
type Handlers struct {
	Workflow     *workflow.Service
	Deliverables *deliverables.Service
	Payments     *payments.Service
}

// TransitionRequest is the body of POST /projects/:id/transitions.
type TransitionRequest struct {
	Event   string           `json:"event"`
	Payload workflow.Payload `json:"payload"`
}

// QcRequest is the body of PATCH /deliverables/:id/qc.
type QcRequest struct {
	Status string `json:"status"`
}

func actorOf(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := middleware.Actor(c)
	if !ok {
		return domain.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
	}
	return actor, nil
}

func idParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name+" format (must be a valid UUID)")
	}
	return id, nil
}

// projectView adds the events currently legal from the project's status.
func projectView(p *domain.Project) fiber.Map {
	events := workflow.Events(p.Status)
	if events == nil {
		events = []workflow.Event{}
	}
	return fiber.Map{"project": p, "events": events}
}

// Submit POST /api/v1/projects
func (h *Handlers) Submit(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var in workflow.SubmitInput
	if err := c.BodyParser(&in); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	p, err := h.Workflow.Submit(c.UserContext(), actor, in)
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Project submitted", projectView(p), nil)
}

// List GET /api/v1/projects
func (h *Handlers) List(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	list, err := h.Workflow.ListForActor(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return response.Success(c, "Projects fetched", fiber.Map{"projects": list}, fiber.Map{"count": len(list)})
}

// Get GET /api/v1/projects/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.Workflow.Get(c.UserContext(), id, actor)
	if err != nil {
		return err
	}
	return response.Success(c, "Project fetched", projectView(p), nil)
}

// History GET /api/v1/projects/:id/history
func (h *Handlers) History(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	rows, err := h.Workflow.History(c.UserContext(), id, actor)
	if err != nil {
		return err
	}
	return response.Success(c, "History fetched", fiber.Map{"history": rows}, nil)
}

// Transition POST /api/v1/projects/:id/transitions
func (h *Handlers) Transition(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	ev := workflow.Event(strings.TrimSpace(req.Event))
	if ev == "" {
		return response.Error(c, "event is required", fiber.StatusBadRequest, nil)
	}
	p, err := h.Workflow.Transition(c.UserContext(), id, ev, actor, req.Payload)
	if err != nil {
		return err
	}
	return response.Success(c, "Project updated", projectView(p), nil)
}

// Checkout POST /api/v1/projects/:id/checkout: opens the Stripe PaymentIntent for an accepted
// quote. The project is confirmed paid only by the webhook.
func (h *Handlers) Checkout(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	intent, err := h.Payments.Checkout(c.UserContext(), id, actor)
	if err != nil {
		return err
	}
	return response.Success(c, "Checkout created", fiber.Map{
		"payment_intent_id": intent.ID,
		"client_secret":     intent.ClientSecret,
	}, nil)
}

// SubmitDeliverable POST /api/v1/projects/:id/deliverables
func (h *Handlers) SubmitDeliverable(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var meta deliverables.FileMeta
	if err := c.BodyParser(&meta); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	d, err := h.Deliverables.Submit(c.UserContext(), id, actor, meta)
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Deliverable submitted", fiber.Map{"deliverable": d}, nil)
}

// ListDeliverables GET /api/v1/projects/:id/deliverables
func (h *Handlers) ListDeliverables(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.Workflow.Get(c.UserContext(), id, actor); err != nil {
		return err
	}
	list, err := h.Deliverables.List(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Deliverables fetched", fiber.Map{"deliverables": list}, fiber.Map{"count": len(list)})
}

// ReviewDeliverable PATCH /api/v1/deliverables/:id/qc
func (h *Handlers) ReviewDeliverable(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req QcRequest
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return response.Error(c, "status is required", fiber.StatusBadRequest, nil)
	}
	d, err := h.Deliverables.SetQcStatus(c.UserContext(), id, strings.ToLower(req.Status), actor)
	if err != nil {
		return err
	}
	return response.Success(c, "Deliverable reviewed", fiber.Map{"deliverable": d}, nil)
}

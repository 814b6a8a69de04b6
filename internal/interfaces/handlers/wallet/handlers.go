package wallet

import (
	"commissions-backend/internal/application/ledger"
	"commissions-backend/internal/application/withdrawals"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/middleware"
	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handlers serves wallets, withdrawals and the admin ledger tools.
type Handlers struct {
	Ledger      *ledger.Service
	Withdrawals *withdrawals.Service
}

// WithdrawalRequest is the body of POST /wallet/withdrawals.
type WithdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// ResolveRequest is the body of PATCH /admin/withdrawals/:id.
type ResolveRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note"`
}

func actorOf(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := middleware.Actor(c)
	if !ok {
		return domain.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
	}
	return actor, nil
}

func idParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid id format (must be a valid UUID)")
	}
	return id, nil
}

// ownAccount returns the caller's wallet, opening it on first use.
func (h *Handlers) ownAccount(c *fiber.Ctx) (*domain.Account, error) {
	actor, err := actorOf(c)
	if err != nil {
		return nil, err
	}
	role, ok := withdrawals.AccountRole(actor.Role)
	if !ok {
		return nil, fiber.NewError(fiber.StatusForbidden, "Only clients and fulfillers hold wallets")
	}
	return h.Ledger.EnsureAccount(c.UserContext(), actor.UserID, role)
}

// Balance GET /api/v1/wallet
func (h *Handlers) Balance(c *fiber.Ctx) error {
	acct, err := h.ownAccount(c)
	if err != nil {
		return err
	}
	b, err := h.Ledger.Balance(c.UserContext(), acct.AccountID)
	if err != nil {
		return err
	}
	return response.Success(c, "Wallet fetched", fiber.Map{"wallet": b, "frozen": acct.Frozen}, nil)
}

// Entries GET /api/v1/wallet/entries
func (h *Handlers) Entries(c *fiber.Ctx) error {
	acct, err := h.ownAccount(c)
	if err != nil {
		return err
	}
	entries, err := h.Ledger.Entries(c.UserContext(), acct.AccountID)
	if err != nil {
		return err
	}
	return response.Success(c, "Entries fetched", fiber.Map{"entries": entries}, fiber.Map{"count": len(entries)})
}

// RequestWithdrawal POST /api/v1/wallet/withdrawals. An Idempotency-Key header makes retries
// return the original request.
func (h *Handlers) RequestWithdrawal(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req WithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "amount must be a decimal", fiber.StatusBadRequest, nil)
	}
	w, err := h.Withdrawals.Request(c.UserContext(), actor, req.Amount, req.Note, c.Get("Idempotency-Key"))
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Withdrawal requested", fiber.Map{"withdrawal": w}, nil)
}

// ListWithdrawals GET /api/v1/wallet/withdrawals (all requests for admins)
func (h *Handlers) ListWithdrawals(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	list, err := h.Withdrawals.List(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return response.Success(c, "Withdrawals fetched", fiber.Map{"withdrawals": list}, fiber.Map{"count": len(list)})
}

// GetWithdrawal GET /api/v1/wallet/withdrawals/:id
func (h *Handlers) GetWithdrawal(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	w, err := h.Withdrawals.Get(c.UserContext(), id, actor)
	if err != nil {
		return err
	}
	return response.Success(c, "Withdrawal fetched", fiber.Map{"withdrawal": w}, nil)
}

// ResolveWithdrawal PATCH /api/v1/admin/withdrawals/:id
func (h *Handlers) ResolveWithdrawal(c *fiber.Ctx) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil || req.Outcome == "" {
		return response.Error(c, "outcome is required", fiber.StatusBadRequest, nil)
	}
	w, err := h.Withdrawals.Resolve(c.UserContext(), id, req.Outcome, actor, req.Note)
	if err != nil {
		return err
	}
	return response.Success(c, "Withdrawal resolved", fiber.Map{"withdrawal": w}, nil)
}

// VerifyAccount POST /api/v1/admin/accounts/:id/verify: replays the account's entries. A
// mismatch freezes the account and answers 423.
func (h *Handlers) VerifyAccount(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	b, err := h.Ledger.Verify(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Account consistent", fiber.Map{"wallet": b}, nil)
}

// Totals GET /api/v1/admin/ledger/totals
func (h *Handlers) Totals(c *fiber.Ctx) error {
	credits, debits, err := h.Ledger.Totals(c.UserContext())
	if err != nil {
		return err
	}
	return response.Success(c, "Ledger totals", fiber.Map{
		"credits":  credits,
		"debits":   debits,
		"balanced": credits.Equal(debits),
	}, nil)
}

// ReferenceEntries GET /api/v1/admin/ledger/references/:ref
func (h *Handlers) ReferenceEntries(c *fiber.Ctx) error {
	entries, err := h.Ledger.EntriesByReference(c.UserContext(), c.Params("ref"))
	if err != nil {
		return err
	}
	return response.Success(c, "Entries fetched", fiber.Map{"entries": entries}, fiber.Map{"count": len(entries)})
}

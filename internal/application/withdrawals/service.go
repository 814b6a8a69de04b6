package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commissions-backend/internal/application/ledger"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/pkg/constants"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Resolution outcomes accepted by Resolve.
const (
	OutcomeApproved = domain.WithdrawalApproved
	OutcomePaid     = domain.WithdrawalPaid
	OutcomeRejected = domain.WithdrawalRejected
)

// Idempotency keys of the postings made against a withdrawal reference.
const (
	keyHold    = "hold"
	keySettle  = "settle"
	keyRelease = "release"
)

const maxClientKey = 64

// Service turns available balance into payout requests. The requested amount is held on the
// account from request until resolution, so concurrent requests cannot spend it twice.
type Service struct {
	DB     *gorm.DB
	Ledger *ledger.Service
}

// AccountRole maps a user role to the wallet it withdraws from.
func AccountRole(role string) (string, bool) {
	switch role {
	case constants.Client:
		return domain.AccountRoleClient, true
	case constants.Fulfiller:
		return domain.AccountRoleFulfiller, true
	}
	return "", false
}

// Request places a hold of amount on the actor's own wallet and records a pending request. A
// non-empty clientKey makes retries safe: a second call with the same key returns the first request
// and places no new hold, unless the amount differs, which is ErrDuplicateReference.
func (s *Service) Request(ctx context.Context, actor domain.Actor, amount decimal.Decimal, note, clientKey string) (*domain.WithdrawalRequest, error) {
	role, ok := AccountRole(actor.Role)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	clientKey = strings.TrimSpace(clientKey)
	if len(clientKey) > maxClientKey {
		return nil, fmt.Errorf("%w: idempotency key longer than %d characters", domain.ErrInvalidInput, maxClientKey)
	}
	acct, err := s.Ledger.EnsureAccount(ctx, actor.UserID, role)
	if err != nil {
		return nil, err
	}
	release, err := s.Ledger.Lock(ctx, acct.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	if clientKey != "" {
		var prior domain.WithdrawalRequest
		err := s.DB.WithContext(ctx).Where("account_id = ? AND client_key = ?", acct.AccountID, clientKey).First(&prior).Error
		switch {
		case err == nil:
			if !prior.Amount.Equal(amount) {
				return nil, fmt.Errorf("%w: idempotency key already used for %s", domain.ErrDuplicateReference, prior.Amount.String())
			}
			return &prior, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	w := &domain.WithdrawalRequest{
		WithdrawalID: uuid.New(),
		AccountID:    acct.AccountID,
		Amount:       amount,
		Status:       domain.WithdrawalPending,
		RequestedAt:  time.Now(),
	}
	if note != "" {
		w.Note = &note
	}
	if clientKey != "" {
		w.ClientKey = &clientKey
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(w).Error; err != nil {
			return err
		}
		_, err := s.Ledger.PostTx(tx, ledger.Posting{
			ReferenceKind:  domain.RefWithdrawal,
			ReferenceID:    w.WithdrawalID.String(),
			IdempotencyKey: keyHold,
			Lines: []ledger.Line{
				{AccountID: acct.AccountID, Direction: domain.DirectionDebit, Bucket: domain.BucketAvailable, Amount: amount},
				{AccountID: acct.AccountID, Direction: domain.DirectionCredit, Bucket: domain.BucketHeld, Amount: amount},
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("withdrawal_id", w.WithdrawalID.String()).Str("account_id", acct.AccountID.String()).Str("amount", amount.String()).Msg("withdrawal requested")
	return w, nil
}

// Resolve moves a request to approved, paid or rejected. Paid removes the held money from the
// platform; rejected returns it to available. A request already paid or rejected cannot be
// resolved again.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, outcome string, resolver domain.Actor, note string) (*domain.WithdrawalRequest, error) {
	if !constants.AllowedRole(constants.ResolveWithdrawal, resolver.Role) {
		return nil, domain.ErrUnauthorized
	}
	switch outcome {
	case OutcomeApproved, OutcomePaid, OutcomeRejected:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidInput, outcome)
	}
	w, err := s.find(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	clearing, err := s.Ledger.PlatformAccount(ctx, domain.AccountRoleClearing)
	if err != nil {
		return nil, err
	}
	release, err := s.Ledger.Lock(ctx, w.AccountID, clearing.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.find(tx, id)
		if err != nil {
			return err
		}
		if cur.Resolved() {
			return fmt.Errorf("%w: withdrawal already %s", domain.ErrDuplicateReference, cur.Status)
		}
		if outcome == OutcomeApproved && cur.Status == domain.WithdrawalApproved {
			return fmt.Errorf("%w: withdrawal already approved", domain.ErrDuplicateReference)
		}

		var posting *ledger.Posting
		switch outcome {
		case OutcomePaid:
			posting = &ledger.Posting{
				ReferenceKind:  domain.RefWithdrawal,
				ReferenceID:    cur.WithdrawalID.String(),
				IdempotencyKey: keySettle,
				Lines: []ledger.Line{
					{AccountID: cur.AccountID, Direction: domain.DirectionDebit, Bucket: domain.BucketHeld, Amount: cur.Amount},
					{AccountID: clearing.AccountID, Direction: domain.DirectionCredit, Bucket: domain.BucketAvailable, Amount: cur.Amount},
				},
			}
		case OutcomeRejected:
			posting = &ledger.Posting{
				ReferenceKind:  domain.RefWithdrawal,
				ReferenceID:    cur.WithdrawalID.String(),
				IdempotencyKey: keyRelease,
				Lines: []ledger.Line{
					{AccountID: cur.AccountID, Direction: domain.DirectionDebit, Bucket: domain.BucketHeld, Amount: cur.Amount},
					{AccountID: cur.AccountID, Direction: domain.DirectionCredit, Bucket: domain.BucketAvailable, Amount: cur.Amount},
				},
			}
		}
		if posting != nil {
			if _, err := s.Ledger.PostTx(tx, *posting); err != nil {
				return err
			}
		}

		now := time.Now()
		cur.Status = outcome
		cur.ResolvedBy = &resolver.UserID
		if outcome != OutcomeApproved {
			cur.ResolvedAt = &now
		}
		if note != "" {
			cur.Note = &note
		}
		if err := tx.Model(&domain.WithdrawalRequest{}).
			Where("withdrawal_id = ?", cur.WithdrawalID).
			Updates(map[string]interface{}{
				"status":      cur.Status,
				"resolved_by": cur.ResolvedBy,
				"resolved_at": cur.ResolvedAt,
				"note":        cur.Note,
			}).Error; err != nil {
			return err
		}
		w = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("withdrawal_id", id.String()).Str("outcome", outcome).Str("resolver", resolver.UserID.String()).Msg("withdrawal resolved")
	return w, nil
}

// List returns the actor's requests, or every request for an admin.
func (s *Service) List(ctx context.Context, actor domain.Actor) ([]domain.WithdrawalRequest, error) {
	q := s.DB.WithContext(ctx).Order("requested_at DESC")
	if actor.Role != constants.Admin {
		role, ok := AccountRole(actor.Role)
		if !ok {
			return nil, domain.ErrUnauthorized
		}
		acct, err := s.Ledger.AccountFor(ctx, actor.UserID, role)
		if errors.Is(err, domain.ErrNotFound) {
			return []domain.WithdrawalRequest{}, nil
		}
		if err != nil {
			return nil, err
		}
		q = q.Where("account_id = ?", acct.AccountID)
	}
	var out []domain.WithdrawalRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one request if it belongs to the actor (admins see all).
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.WithdrawalRequest, error) {
	w, err := s.find(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if actor.Role == constants.Admin {
		return w, nil
	}
	role, ok := AccountRole(actor.Role)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	acct, err := s.Ledger.AccountFor(ctx, actor.UserID, role)
	if err != nil || acct.AccountID != w.AccountID {
		return nil, domain.ErrUnauthorized
	}
	return w, nil
}

func (s *Service) find(db *gorm.DB, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	if err := db.Where("withdrawal_id = ?", id).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

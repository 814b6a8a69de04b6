package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commissions-backend/internal/application/ledger"
	"commissions-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Idempotency keys for project postings. The payment key is the external payment reference.
const (
	KeyRelease = "release"
	KeyRefund  = "refund"
	KeyClear   = "clear"
	KeyFee     = "fee"

	KeyReturnPrefix = "return:"
)

// Service decides every fund movement of a project. It never opens its own transaction: callers
// hold the project and account locks and pass the transaction in, so the ledger effect commits or
// rolls back together with the state change that required it.
type Service struct {
	Ledger *ledger.Service
}

// Accounts are the ledger accounts a project can touch.
type Accounts struct {
	Client    uuid.UUID
	Fulfiller uuid.UUID // uuid.Nil until a fulfiller is assigned
	Escrow    uuid.UUID
	Clearing  uuid.UUID
	Revenue   uuid.UUID
}

// IDs lists the accounts to lock, skipping an unassigned fulfiller.
func (a Accounts) IDs() []uuid.UUID {
	ids := []uuid.UUID{a.Client, a.Escrow, a.Clearing, a.Revenue}
	if a.Fulfiller != uuid.Nil {
		ids = append(ids, a.Fulfiller)
	}
	return ids
}

// AccountsFor resolves (creating when needed) the accounts of p.
func (s *Service) AccountsFor(ctx context.Context, p *domain.Project) (*Accounts, error) {
	out := &Accounts{}
	client, err := s.Ledger.EnsureAccount(ctx, p.ClientID, domain.AccountRoleClient)
	if err != nil {
		return nil, err
	}
	out.Client = client.AccountID
	if p.FulfillerID != nil {
		f, err := s.Ledger.EnsureAccount(ctx, *p.FulfillerID, domain.AccountRoleFulfiller)
		if err != nil {
			return nil, err
		}
		out.Fulfiller = f.AccountID
	}
	for role, dst := range map[string]*uuid.UUID{
		domain.AccountRoleEscrow:   &out.Escrow,
		domain.AccountRoleClearing: &out.Clearing,
		domain.AccountRoleRevenue:  &out.Revenue,
	} {
		a, err := s.Ledger.PlatformAccount(ctx, role)
		if err != nil {
			return nil, err
		}
		*dst = a.AccountID
	}
	return out, nil
}

// ReceivePayment moves amount from clearing into escrow, keyed by the project and the external
// payment reference. A reference already consumed yields ErrDuplicateReference.
func (s *Service) ReceivePayment(tx *gorm.DB, p *domain.Project, accts *Accounts, amount decimal.Decimal, externalRef string) error {
	if externalRef == "" {
		return fmt.Errorf("%w: payment reference required", domain.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", domain.ErrInvalidInput)
	}
	res, err := s.Ledger.PostTx(tx, ledger.Posting{
		ReferenceKind:  domain.RefProjectPayment,
		ReferenceID:    p.ProjectID.String(),
		IdempotencyKey: externalRef,
		Lines: []ledger.Line{
			{AccountID: accts.Clearing, Direction: domain.DirectionDebit, Bucket: domain.BucketAvailable, Amount: amount},
			{AccountID: accts.Escrow, Direction: domain.DirectionCredit, Bucket: domain.BucketAvailable, Amount: amount},
		},
	})
	if err != nil {
		return err
	}
	if res.Duplicate {
		return domain.ErrDuplicateReference
	}
	return nil
}

// ReturnPayment books a payment that arrived after the project closed without taking one: the
// money passes through escrow straight back to the client's available balance. Both postings are
// keyed by the external reference, so a replay yields ErrDuplicateReference and moves nothing.
func (s *Service) ReturnPayment(tx *gorm.DB, p *domain.Project, accts *Accounts, amount decimal.Decimal, externalRef string) error {
	if err := s.ReceivePayment(tx, p, accts, amount, externalRef); err != nil {
		return err
	}
	_, err := s.Ledger.PostTx(tx, ledger.Posting{
		ReferenceKind:  domain.RefRefund,
		ReferenceID:    p.ProjectID.String(),
		IdempotencyKey: KeyReturnPrefix + externalRef,
		Lines: []ledger.Line{
			{AccountID: accts.Escrow, Direction: domain.DirectionDebit, Bucket: domain.BucketAvailable, Amount: amount},
			{AccountID: accts.Client, Direction: domain.DirectionCredit, Bucket: domain.BucketAvailable, Amount: amount},
		},
	})
	return err
}

// ReleaseToFulfiller pays the fulfiller's share out of escrow into their pending earnings. It may
// happen once per project; the settlement marker row enforces that.
func (s *Service) ReleaseToFulfiller(tx *gorm.DB, p *domain.Project, accts *Accounts, fulfillerAccountID uuid.UUID, amount decimal.Decimal) error {
	if p.FulfillerID == nil || fulfillerAccountID == uuid.Nil || fulfillerAccountID != accts.Fulfiller {
		return fmt.Errorf("%w: release target is not the project's fulfiller", domain.ErrUnauthorized)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: release amount must be positive", domain.ErrInvalidInput)
	}
	if err := s.mark(tx, p.ProjectID, domain.SettlementRelease, amount); err != nil {
		return err
	}
	_, err := s.Ledger.PostTx(tx, ledger.Posting{
		ReferenceKind:  domain.RefEscrowRelease,
		ReferenceID:    p.ProjectID.String(),
		IdempotencyKey: KeyRelease,
		Lines: []ledger.Line{
			{AccountID: accts.Escrow, Direction: domain.DirectionDebit, Bucket: domain.BucketAvailable, Amount: amount},
			{AccountID: fulfillerAccountID, Direction: domain.DirectionCredit, Bucket: domain.BucketPending, Amount: amount},
		},
	})
	return err
}

// Refund returns amount from escrow to the client's available balance. It is refused once the
// project has a settlement marker.
func (s *Service) Refund(tx *gorm.DB, p *domain.Project, accts *Accounts, clientAccountID uuid.UUID, amount decimal.Decimal) error {
	if clientAccountID == uuid.Nil || clientAccountID != accts.Client {
		return fmt.Errorf("%w: refund target is not the project's client", domain.ErrUnauthorized)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: nothing to refund", domain.ErrInvalidInput)
	}
	if err := s.mark(tx, p.ProjectID, domain.SettlementRefund, amount); err != nil {
		return err
	}
	_, err := s.Ledger.PostTx(tx, ledger.Posting{
		ReferenceKind:  domain.RefRefund,
		ReferenceID:    p.ProjectID.String(),
		IdempotencyKey: KeyRefund,
		Lines: []ledger.Line{
			{AccountID: accts.Escrow, Direction: domain.DirectionDebit, Bucket: domain.BucketAvailable, Amount: amount},
			{AccountID: clientAccountID, Direction: domain.DirectionCredit, Bucket: domain.BucketAvailable, Amount: amount},
		},
	})
	return err
}

// Settle closes a released project: the fulfiller's pending payout becomes available and whatever
// is left in escrow for the project goes to platform revenue. Safe to call more than once.
func (s *Service) Settle(tx *gorm.DB, p *domain.Project, accts *Accounts) error {
	marker, err := s.Marker(tx, p.ProjectID)
	if err != nil {
		return err
	}
	if marker == nil || marker.Kind != domain.SettlementRelease {
		return fmt.Errorf("%w: project has no released payout to settle", domain.ErrInvalidTransition)
	}
	if _, err := s.Ledger.PostTx(tx, ledger.Posting{
		ReferenceKind:  domain.RefEscrowRelease,
		ReferenceID:    p.ProjectID.String(),
		IdempotencyKey: KeyClear,
		Lines: []ledger.Line{
			{AccountID: accts.Fulfiller, Direction: domain.DirectionDebit, Bucket: domain.BucketPending, Amount: marker.Amount},
			{AccountID: accts.Fulfiller, Direction: domain.DirectionCredit, Bucket: domain.BucketAvailable, Amount: marker.Amount},
		},
	}); err != nil {
		return err
	}
	remainder, err := s.Remainder(tx, p.ProjectID, accts.Escrow)
	if err != nil {
		return err
	}
	if !remainder.IsPositive() {
		return nil
	}
	_, err = s.Ledger.PostTx(tx, ledger.Posting{
		ReferenceKind:  domain.RefEscrowRelease,
		ReferenceID:    p.ProjectID.String(),
		IdempotencyKey: KeyFee,
		Lines: []ledger.Line{
			{AccountID: accts.Escrow, Direction: domain.DirectionDebit, Bucket: domain.BucketAvailable, Amount: remainder},
			{AccountID: accts.Revenue, Direction: domain.DirectionCredit, Bucket: domain.BucketAvailable, Amount: remainder},
		},
	})
	return err
}

// Remainder is what escrow still holds for the project: the net of its escrow entries.
func (s *Service) Remainder(tx *gorm.DB, projectID, escrowAccountID uuid.UUID) (decimal.Decimal, error) {
	var entries []domain.LedgerEntry
	if err := tx.Where("account_id = ? AND reference_id = ?", escrowAccountID, projectID.String()).Find(&entries).Error; err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Signed())
	}
	return sum, nil
}

// Marker returns the project's settlement marker, or nil when none exists.
func (s *Service) Marker(tx *gorm.DB, projectID uuid.UUID) (*domain.EscrowSettlement, error) {
	var m domain.EscrowSettlement
	if err := tx.Where("project_id = ?", projectID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (s *Service) mark(tx *gorm.DB, projectID uuid.UUID, kind string, amount decimal.Decimal) error {
	existing, err := s.Marker(tx, projectID)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Warn().Str("project_id", projectID.String()).Str("existing", existing.Kind).Str("attempted", kind).Msg("escrow: project already settled")
		return domain.ErrAlreadySettled
	}
	return tx.Create(&domain.EscrowSettlement{
		ProjectID: projectID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: time.Now(),
	}).Error
}

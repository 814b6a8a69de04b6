package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commissions-backend/internal/domain"
	"commissions-backend/internal/infrastructure/locks"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultLockTimeout = 750 * time.Millisecond

// Service is the only writer of account balances. Every mutation is a zero-sum Posting applied
// atomically under the locks of all accounts it touches.
type Service struct {
	DB          *gorm.DB
	Locks       locks.Locker
	LockTimeout time.Duration
}

// Line is one leg of a posting.
type Line struct {
	AccountID uuid.UUID
	Direction string
	Bucket    string
	Amount    decimal.Decimal
}

// Posting groups lines that must apply together. ReferenceID + IdempotencyKey identify it for
// replay protection.
type Posting struct {
	ReferenceKind  string
	ReferenceID    string
	IdempotencyKey string
	Lines          []Line
}

// Result of a post. Duplicate is set when the posting had already been applied; nothing was
// written in that case.
type Result struct {
	PostingID uuid.UUID
	Duplicate bool
	Entries   []domain.LedgerEntry
}

type Balance struct {
	AccountID uuid.UUID       `json:"account_id"`
	Role      string          `json:"role"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"`
	Pending   decimal.Decimal `json:"pending"`
	Total     decimal.Decimal `json:"total"`
}

func balanceOf(a domain.Account) *Balance {
	return &Balance{
		AccountID: a.AccountID,
		Role:      a.Role,
		Available: a.Available(),
		Held:      a.Held,
		Pending:   a.Pending,
		Total:     a.Balance,
	}
}

func (s *Service) timeout() time.Duration {
	if s.LockTimeout > 0 {
		return s.LockTimeout
	}
	return DefaultLockTimeout
}

// Lock takes the per-account locks for ids in global order. Callers that post through PostTx
// inside their own transaction must hold these before opening it.
func (s *Service) Lock(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, locks.AccountKey(id.String()))
	}
	return s.Locks.Acquire(ctx, s.timeout(), keys...)
}

// EnsureAccount returns the owner's account for role, creating it on first use.
func (s *Service) EnsureAccount(ctx context.Context, ownerID uuid.UUID, role string) (*domain.Account, error) {
	acct, err := s.AccountFor(ctx, ownerID, role)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	acct = &domain.Account{OwnerID: ownerID, Role: role, Active: true}
	if err := s.DB.WithContext(ctx).Create(acct).Error; err != nil {
		// Lost a creation race on the (owner, role) unique index: the row exists now.
		if existing, findErr := s.AccountFor(ctx, ownerID, role); findErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return acct, nil
}

// PlatformAccount returns the singleton platform account for role.
func (s *Service) PlatformAccount(ctx context.Context, role string) (*domain.Account, error) {
	if !domain.IsPlatformRole(role) {
		return nil, fmt.Errorf("%w: %s is not a platform role", domain.ErrInvalidInput, role)
	}
	return s.EnsureAccount(ctx, uuid.Nil, role)
}

// AccountFor finds an existing account without creating one.
func (s *Service) AccountFor(ctx context.Context, ownerID uuid.UUID, role string) (*domain.Account, error) {
	var acct domain.Account
	if err := s.DB.WithContext(ctx).Where("owner_id = ? AND role = ?", ownerID, role).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// Post applies p atomically under its account locks.
func (s *Service) Post(ctx context.Context, p Posting) (*Result, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	release, err := s.Lock(ctx, accountIDs(p)...)
	if err != nil {
		return nil, err
	}
	defer release()

	var res *Result
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.PostTx(tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PostTx applies p inside the caller's transaction. The caller must hold the account locks (see
// Lock). Balance check and deduction happen on the same rows in the same transaction.
func (s *Service) PostTx(tx *gorm.DB, p Posting) (*Result, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	ids := accountIDs(p)

	var existing int64
	if err := tx.Model(&domain.LedgerEntry{}).
		Where("reference_id = ? AND idempotency_key = ? AND account_id IN ?", p.ReferenceID, p.IdempotencyKey, ids).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		log.Info().Str("reference_id", p.ReferenceID).Str("idempotency_key", p.IdempotencyKey).Msg("ledger: duplicate posting ignored")
		return &Result{Duplicate: true}, nil
	}

	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []domain.Account
	if err := q.Where("account_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	accts := make(map[uuid.UUID]*domain.Account, len(rows))
	versions := make(map[uuid.UUID]int64, len(rows))
	for i := range rows {
		accts[rows[i].AccountID] = &rows[i]
		versions[rows[i].AccountID] = rows[i].Version
	}
	for _, id := range ids {
		a, ok := accts[id]
		if !ok {
			return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, id)
		}
		if a.Frozen {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountFrozen, id)
		}
		if !a.Active {
			return nil, fmt.Errorf("%w: account %s is inactive", domain.ErrInvalidInput, id)
		}
	}

	now := time.Now()
	postingID := uuid.New()
	entries := make([]domain.LedgerEntry, 0, len(p.Lines))
	for _, l := range p.Lines {
		a := accts[l.AccountID]
		apply(a, l.Bucket, signed(l))
		entries = append(entries, domain.LedgerEntry{
			EntryID:        uuid.New(),
			PostingID:      postingID,
			AccountID:      l.AccountID,
			Bucket:         l.Bucket,
			ReferenceID:    p.ReferenceID,
			IdempotencyKey: p.IdempotencyKey,
			Direction:      l.Direction,
			Amount:         l.Amount,
			ReferenceKind:  p.ReferenceKind,
			BalanceAfter:   a.Balance,
			HeldAfter:      a.Held,
			PendingAfter:   a.Pending,
			CreatedAt:      now,
		})
	}
	for _, id := range ids {
		if err := checkInvariants(*accts[id]); err != nil {
			return nil, err
		}
	}

	if err := tx.Create(&entries).Error; err != nil {
		return nil, fmt.Errorf("ledger: write entries: %w", err)
	}
	for _, id := range ids {
		a := accts[id]
		upd := tx.Model(&domain.Account{}).
			Where("account_id = ? AND version = ?", id, versions[id]).
			Updates(map[string]interface{}{
				"balance":   a.Balance,
				"held":      a.Held,
				"pending":   a.Pending,
				"version":   versions[id] + 1,
				"updatedAt": now,
			})
		if upd.Error != nil {
			return nil, upd.Error
		}
		if upd.RowsAffected == 0 {
			// Someone wrote the row without holding the account lock.
			return nil, fmt.Errorf("%w: account %s changed concurrently", domain.ErrBusy, id)
		}
	}
	return &Result{PostingID: postingID, Entries: entries}, nil
}

// Balance reads the cached balance, which is committed together with the entries. The row is
// checked against the newest entry's snapshot first; a disagreement escalates to Verify.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	var a domain.Account
	if err := s.DB.WithContext(ctx).Where("account_id = ?", accountID).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if a.Frozen {
		return balanceOf(a), nil
	}
	ok, err := s.matchesLastEntry(ctx, a)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A cached row that disagrees with its own newest snapshot gets the full replay,
		// which freezes the account and raises the alarm if the drift is real.
		return s.Verify(ctx, accountID)
	}
	return balanceOf(a), nil
}

// matchesLastEntry compares the cached buckets with the snapshot written by the account's
// newest entry. An account with no entries must read zero everywhere.
func (s *Service) matchesLastEntry(ctx context.Context, a domain.Account) (bool, error) {
	var last domain.LedgerEntry
	err := s.DB.WithContext(ctx).Where("account_id = ?", a.AccountID).Order("seq DESC").Limit(1).Find(&last).Error
	if err != nil {
		return false, err
	}
	if last.Seq == 0 {
		return a.Balance.IsZero() && a.Held.IsZero() && a.Pending.IsZero(), nil
	}
	return last.BalanceAfter.Equal(a.Balance) && last.HeldAfter.Equal(a.Held) && last.PendingAfter.Equal(a.Pending), nil
}

// Verify replays the account's entries and compares them to the cached balance. A mismatch
// freezes the account: no further posting will touch it until an operator intervenes.
func (s *Service) Verify(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	release, err := s.Lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	db := s.DB.WithContext(ctx)
	var a domain.Account
	if err := db.Where("account_id = ?", accountID).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var entries []domain.LedgerEntry
	if err := db.Where("account_id = ?", accountID).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	replayed := domain.Account{AccountID: a.AccountID, Role: a.Role}
	for _, e := range entries {
		apply(&replayed, e.Bucket, e.Signed())
	}
	if replayed.Balance.Equal(a.Balance) && replayed.Held.Equal(a.Held) && replayed.Pending.Equal(a.Pending) {
		return balanceOf(a), nil
	}

	log.Error().
		Str("account_id", accountID.String()).
		Str("cached_balance", a.Balance.String()).
		Str("replayed_balance", replayed.Balance.String()).
		Str("cached_held", a.Held.String()).
		Str("replayed_held", replayed.Held.String()).
		Str("cached_pending", a.Pending.String()).
		Str("replayed_pending", replayed.Pending.String()).
		Msg("ledger consistency alarm: account frozen")
	if err := db.Model(&domain.Account{}).Where("account_id = ?", accountID).Update("frozen", true).Error; err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: account %s", domain.ErrConsistency, accountID)
}

// Entries lists an account's entries in commit order.
func (s *Service) Entries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := s.DB.WithContext(ctx).Where("account_id = ?", accountID).Order("seq ASC").Find(&out).Error
	return out, err
}

// EntriesByReference lists every entry posted against a reference (project, withdrawal).
func (s *Service) EntriesByReference(ctx context.Context, referenceID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := s.DB.WithContext(ctx).Where("reference_id = ?", referenceID).Order("seq ASC").Find(&out).Error
	return out, err
}

// Totals sums every credit and debit in the ledger. They are equal at all times.
func (s *Service) Totals(ctx context.Context) (credits, debits decimal.Decimal, err error) {
	var entries []domain.LedgerEntry
	if err = s.DB.WithContext(ctx).Select("direction", "amount").Find(&entries).Error; err != nil {
		return
	}
	credits, debits = decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.Direction == domain.DirectionCredit {
			credits = credits.Add(e.Amount)
		} else {
			debits = debits.Add(e.Amount)
		}
	}
	return
}

func validate(p Posting) error {
	if p.ReferenceID == "" || p.IdempotencyKey == "" || p.ReferenceKind == "" {
		return fmt.Errorf("%w: posting needs reference kind, id and idempotency key", domain.ErrInvalidInput)
	}
	if len(p.Lines) < 2 {
		return fmt.Errorf("%w: posting needs at least two lines", domain.ErrUnbalanced)
	}
	net := decimal.Zero
	for _, l := range p.Lines {
		if !l.Amount.IsPositive() {
			return fmt.Errorf("%w: line amount must be positive", domain.ErrInvalidInput)
		}
		switch l.Bucket {
		case domain.BucketAvailable, domain.BucketHeld, domain.BucketPending:
		default:
			return fmt.Errorf("%w: unknown bucket %q", domain.ErrInvalidInput, l.Bucket)
		}
		switch l.Direction {
		case domain.DirectionCredit, domain.DirectionDebit:
		default:
			return fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidInput, l.Direction)
		}
		net = net.Add(signed(l))
	}
	if !net.IsZero() {
		return fmt.Errorf("%w: net %s", domain.ErrUnbalanced, net.String())
	}
	return nil
}

func signed(l Line) decimal.Decimal {
	if l.Direction == domain.DirectionDebit {
		return l.Amount.Neg()
	}
	return l.Amount
}

// apply moves delta into bucket. Held and pending are parts of the total balance.
func apply(a *domain.Account, bucket string, delta decimal.Decimal) {
	a.Balance = a.Balance.Add(delta)
	switch bucket {
	case domain.BucketHeld:
		a.Held = a.Held.Add(delta)
	case domain.BucketPending:
		a.Pending = a.Pending.Add(delta)
	}
}

func checkInvariants(a domain.Account) error {
	if a.Unbounded() {
		return nil
	}
	if a.Held.IsNegative() || a.Pending.IsNegative() || a.Available().IsNegative() {
		return fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, a.AccountID)
	}
	return nil
}

func accountIDs(p Posting) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(p.Lines))
	out := make([]uuid.UUID, 0, len(p.Lines))
	for _, l := range p.Lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		out = append(out, l.AccountID)
	}
	return out
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Buckets partition an account balance. A hold is a debit of available and a credit of held on
// the same account, so the total never moves.
const (
	BucketAvailable = "available"
	BucketHeld      = "held"
	BucketPending   = "pending"
)

const (
	RefProjectPayment = "project-payment"
	RefEscrowRelease  = "escrow-release"
	RefRefund         = "refund"
	RefWithdrawal     = "withdrawal"
	RefAdjustment     = "adjustment"
)

// LedgerEntry is immutable once written. Seq gives the global replay order.
type LedgerEntry struct {
	Seq            int64           `gorm:"column:seq;primaryKey;autoIncrement" json:"seq"`
	EntryID        uuid.UUID       `gorm:"column:entry_id;type:uuid;not null;uniqueIndex" json:"entry_id"`
	PostingID      uuid.UUID       `gorm:"column:posting_id;type:uuid;not null;index" json:"posting_id"`
	AccountID      uuid.UUID       `gorm:"column:account_id;type:uuid;not null;uniqueIndex:idx_entry_idempotency,priority:1;index" json:"account_id"`
	Bucket         string          `gorm:"column:bucket;type:varchar(16);not null;uniqueIndex:idx_entry_idempotency,priority:2" json:"bucket"`
	ReferenceID    string          `gorm:"column:reference_id;not null;uniqueIndex:idx_entry_idempotency,priority:3;index" json:"reference_id"`
	IdempotencyKey string          `gorm:"column:idempotency_key;not null;uniqueIndex:idx_entry_idempotency,priority:4" json:"idempotency_key"`
	Direction      string          `gorm:"column:direction;type:varchar(8);not null" json:"direction"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	ReferenceKind  string          `gorm:"column:reference_kind;type:varchar(32);not null" json:"reference_kind"`
	BalanceAfter   decimal.Decimal `gorm:"column:balance_after;type:decimal(20,4);not null" json:"balance_after"`
	HeldAfter      decimal.Decimal `gorm:"column:held_after;type:decimal(20,4);not null" json:"held_after"`
	PendingAfter   decimal.Decimal `gorm:"column:pending_after;type:decimal(20,4);not null" json:"pending_after"`
	CreatedAt      time.Time       `gorm:"column:createdAt" json:"createdAt"`
}

func (LedgerEntry) TableName() string {
	return "LedgerEntries"
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.EntryID == uuid.Nil {
		e.EntryID = uuid.New()
	}
	return nil
}

// Signed returns the entry amount as a signed delta (credits positive).
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

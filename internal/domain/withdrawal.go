package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
	WithdrawalPaid     = "paid"
)

type WithdrawalRequest struct {
	WithdrawalID uuid.UUID       `gorm:"column:withdrawal_id;type:uuid;primaryKey" json:"withdrawal_id"`
	AccountID    uuid.UUID       `gorm:"column:account_id;type:uuid;not null;index;uniqueIndex:idx_withdrawal_client_key,priority:1" json:"account_id"`
	ClientKey    *string         `gorm:"column:client_key;type:varchar(64);uniqueIndex:idx_withdrawal_client_key,priority:2" json:"client_key,omitempty"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	Status       string          `gorm:"column:status;type:varchar(16);not null;default:'pending'" json:"status"`
	Note         *string         `gorm:"column:note" json:"note"`
	ResolvedBy   *uuid.UUID      `gorm:"column:resolved_by;type:uuid" json:"resolved_by"`
	RequestedAt  time.Time       `gorm:"column:requested_at;not null" json:"requested_at"`
	ResolvedAt   *time.Time      `gorm:"column:resolved_at" json:"resolved_at"`
}

func (WithdrawalRequest) TableName() string {
	return "WithdrawalRequests"
}

func (w *WithdrawalRequest) BeforeCreate(tx *gorm.DB) error {
	if w.WithdrawalID == uuid.Nil {
		w.WithdrawalID = uuid.New()
	}
	return nil
}

// Resolved reports whether the request reached a final state.
func (w WithdrawalRequest) Resolved() bool {
	return w.Status == WithdrawalPaid || w.Status == WithdrawalRejected
}

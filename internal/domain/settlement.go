package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SettlementRelease = "release"
	SettlementRefund  = "refund"
)

// EscrowSettlement marks the single payout decision of a project. The primary key on ProjectID is
// what makes release and refund mutually exclusive.
type EscrowSettlement struct {
	ProjectID uuid.UUID       `gorm:"column:project_id;type:uuid;primaryKey" json:"project_id"`
	Kind      string          `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	CreatedAt time.Time       `gorm:"column:createdAt" json:"createdAt"`
}

func (EscrowSettlement) TableName() string {
	return "EscrowSettlements"
}

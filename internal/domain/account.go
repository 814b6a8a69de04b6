package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	AccountRoleClient    = "client"
	AccountRoleFulfiller = "fulfiller"
	AccountRoleEscrow    = "platform_escrow"
	AccountRoleClearing  = "platform_clearing"
	AccountRoleRevenue   = "platform_revenue"
)

// Account is a balance holder. Balance, Held and Pending are a cache of the ledger and are written
// only by the ledger store, in the same transaction as the entries that move them.
type Account struct {
	AccountID uuid.UUID       `gorm:"column:account_id;type:uuid;primaryKey" json:"account_id"`
	OwnerID   uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:idx_account_owner_role" json:"owner_id"`
	Role      string          `gorm:"column:role;type:varchar(32);not null;uniqueIndex:idx_account_owner_role" json:"role"`
	Balance   decimal.Decimal `gorm:"column:balance;type:decimal(20,4);not null;default:0" json:"balance"`
	Held      decimal.Decimal `gorm:"column:held;type:decimal(20,4);not null;default:0" json:"held"`
	Pending   decimal.Decimal `gorm:"column:pending;type:decimal(20,4);not null;default:0" json:"pending"`
	Active    bool            `gorm:"column:active;not null;default:true" json:"active"`
	Frozen    bool            `gorm:"column:frozen;not null;default:false" json:"frozen"`
	Version   int64           `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Account) TableName() string {
	return "Accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.AccountID == uuid.Nil {
		a.AccountID = uuid.New()
	}
	return nil
}

// Available is the spendable part of the balance.
func (a Account) Available() decimal.Decimal {
	return a.Balance.Sub(a.Held).Sub(a.Pending)
}

// Unbounded reports whether the account may go negative. Only the clearing account, which mirrors
// money outside the platform, is allowed to.
func (a Account) Unbounded() bool {
	return a.Role == AccountRoleClearing
}

// IsPlatformRole reports whether role names a platform-owned account.
func IsPlatformRole(role string) bool {
	switch role {
	case AccountRoleEscrow, AccountRoleClearing, AccountRoleRevenue:
		return true
	}
	return false
}

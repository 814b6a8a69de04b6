package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProjectStatus is a lifecycle state of a project.
type ProjectStatus string

const (
	StatusSubmitted         ProjectStatus = "submitted"
	StatusAnalyzing         ProjectStatus = "analyzing"
	StatusQuoted            ProjectStatus = "quoted"
	StatusAccepted          ProjectStatus = "accepted"
	StatusPaymentPending    ProjectStatus = "payment_pending"
	StatusPaid              ProjectStatus = "paid"
	StatusReadyToAssign     ProjectStatus = "ready_to_assign"
	StatusAssigned          ProjectStatus = "assigned"
	StatusInProgress        ProjectStatus = "in_progress"
	StatusDelivered         ProjectStatus = "delivered"
	StatusForReview         ProjectStatus = "for_review"
	StatusApproved          ProjectStatus = "approved"
	StatusRevisionRequested ProjectStatus = "revision_requested"
	StatusInRevision        ProjectStatus = "in_revision"
	StatusDeliveredToClient ProjectStatus = "delivered_to_client"
	StatusClientReview      ProjectStatus = "client_review"
	StatusClientRevision    ProjectStatus = "client_revision"
	StatusCompleted         ProjectStatus = "completed"
	StatusCancelled         ProjectStatus = "cancelled"
	StatusRefunded          ProjectStatus = "refunded"
)

// IsTerminal reports whether no transition may leave s.
func (s ProjectStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

type Project struct {
	ProjectID       uuid.UUID       `gorm:"column:project_id;type:uuid;primaryKey" json:"project_id"`
	ClientID        uuid.UUID       `gorm:"column:client_id;type:uuid;not null;index" json:"client_id"`
	FulfillerID     *uuid.UUID      `gorm:"column:fulfiller_id;type:uuid;index" json:"fulfiller_id"`
	SupervisorID    *uuid.UUID      `gorm:"column:supervisor_id;type:uuid;index" json:"supervisor_id"`
	Title           string          `gorm:"column:title;not null" json:"title"`
	Description     string          `gorm:"column:description;type:text" json:"description"`
	Status          ProjectStatus   `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	QuotedPrice     decimal.Decimal `gorm:"column:quoted_price;type:decimal(20,4);not null;default:0" json:"quoted_price"`
	FulfillerPayout decimal.Decimal `gorm:"column:fulfiller_payout;type:decimal(20,4);not null;default:0" json:"fulfiller_payout"`
	Deadline        *time.Time      `gorm:"column:deadline" json:"deadline"`
	ProgressPercent int             `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	PaymentRef      *string         `gorm:"column:payment_ref" json:"payment_ref"`
	StatusChangedAt time.Time       `gorm:"column:status_changed_at;not null" json:"status_changed_at"`
	DeliveredAt     *time.Time      `gorm:"column:delivered_at" json:"delivered_at"`
	CompletedAt     *time.Time      `gorm:"column:completed_at" json:"completed_at"`
	Terminal        bool            `gorm:"column:terminal;not null;default:false" json:"terminal"`
	Version         int64           `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt       time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt       time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Project) TableName() string {
	return "Projects"
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ProjectID == uuid.Nil {
		p.ProjectID = uuid.New()
	}
	return nil
}

// Paid reports whether the client payment has been received into escrow.
func (p Project) Paid() bool {
	return p.PaymentRef != nil
}

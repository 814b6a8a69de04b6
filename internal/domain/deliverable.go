package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	QcPending  = "pending"
	QcApproved = "approved"
	QcRejected = "rejected"
)

// Deliverable is one submitted version of a project's work. Rows are never updated except for the
// QC review fields.
type Deliverable struct {
	DeliverableID uuid.UUID  `gorm:"column:deliverable_id;type:uuid;primaryKey" json:"deliverable_id"`
	ProjectID     uuid.UUID  `gorm:"column:project_id;type:uuid;not null;uniqueIndex:idx_deliverable_version,priority:1" json:"project_id"`
	Version       int        `gorm:"column:version;not null;uniqueIndex:idx_deliverable_version,priority:2" json:"version"`
	Location      string     `gorm:"column:location;not null" json:"location"`
	FileName      string     `gorm:"column:file_name" json:"file_name"`
	ContentType   string     `gorm:"column:content_type" json:"content_type"`
	SizeBytes     int64      `gorm:"column:size_bytes" json:"size_bytes"`
	Note          string     `gorm:"column:note;type:text" json:"note"`
	QcStatus      string     `gorm:"column:qc_status;type:varchar(16);not null" json:"qc_status"`
	UploaderID    uuid.UUID  `gorm:"column:uploader_id;type:uuid;not null" json:"uploader_id"`
	ReviewerID    *uuid.UUID `gorm:"column:reviewer_id;type:uuid" json:"reviewer_id"`
	ReviewedAt    *time.Time `gorm:"column:reviewed_at" json:"reviewed_at"`
	IsFinal       bool       `gorm:"column:is_final;not null;default:false" json:"is_final"`
	CreatedAt     time.Time  `gorm:"column:createdAt" json:"createdAt"`
}

func (Deliverable) TableName() string {
	return "Deliverables"
}

func (d *Deliverable) BeforeCreate(tx *gorm.DB) error {
	if d.DeliverableID == uuid.Nil {
		d.DeliverableID = uuid.New()
	}
	return nil
}

package deliverables

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commissions-backend/internal/domain"
	"commissions-backend/internal/infrastructure/locks"
	"commissions-backend/internal/pkg/constants"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultLockTimeout = 750 * time.Millisecond

// Service keeps the versioned record of submitted work. Files live in external storage; only
// their opaque location is stored here.
type Service struct {
	DB          *gorm.DB
	Locks       locks.Locker
	LockTimeout time.Duration
}

// FileMeta describes an already uploaded artifact.
type FileMeta struct {
	Location    string `json:"location"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Note        string `json:"note"`
	IsFinal     bool   `json:"is_final"`
}

func (s *Service) lockProject(ctx context.Context, projectID uuid.UUID) (func(), error) {
	timeout := s.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return s.Locks.Acquire(ctx, timeout, locks.ProjectKey(projectID.String()))
}

// Submit records the next version of the project's work. Only the assigned fulfiller may submit,
// and only while the work is in progress or in revision.
func (s *Service) Submit(ctx context.Context, projectID uuid.UUID, uploader domain.Actor, meta FileMeta) (*domain.Deliverable, error) {
	if strings.TrimSpace(meta.Location) == "" {
		return nil, fmt.Errorf("%w: location is required", domain.ErrInvalidInput)
	}
	release, err := s.lockProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer release()

	var out domain.Deliverable
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadProject(tx, projectID)
		if err != nil {
			return err
		}
		if p.Status != domain.StatusInProgress && p.Status != domain.StatusInRevision {
			return fmt.Errorf("%w: deliverables are accepted only while work is in progress", domain.ErrInvalidTransition)
		}
		if p.FulfillerID == nil || *p.FulfillerID != uploader.UserID {
			return domain.ErrUnauthorized
		}
		var maxVersion int
		if err := tx.Model(&domain.Deliverable{}).
			Where("project_id = ?", projectID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}
		out = domain.Deliverable{
			ProjectID:   projectID,
			Version:     maxVersion + 1,
			Location:    meta.Location,
			FileName:    meta.FileName,
			ContentType: meta.ContentType,
			SizeBytes:   meta.SizeBytes,
			Note:        meta.Note,
			QcStatus:    domain.QcPending,
			UploaderID:  uploader.UserID,
			IsFinal:     meta.IsFinal,
			CreatedAt:   time.Now(),
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetQcStatus records a QC verdict. The supervisor reviews during for_review, the client during
// client_review; at any other time the deliverable is not reviewable.
func (s *Service) SetQcStatus(ctx context.Context, deliverableID uuid.UUID, status string, reviewer domain.Actor) (*domain.Deliverable, error) {
	if status != domain.QcApproved && status != domain.QcRejected {
		return nil, fmt.Errorf("%w: qc status must be approved or rejected", domain.ErrInvalidInput)
	}
	var d domain.Deliverable
	if err := s.DB.WithContext(ctx).Where("deliverable_id = ?", deliverableID).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	release, err := s.lockProject(ctx, d.ProjectID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadProject(tx, d.ProjectID)
		if err != nil {
			return err
		}
		switch p.Status {
		case domain.StatusForReview:
			if reviewer.Role != constants.Supervisor || p.SupervisorID == nil || *p.SupervisorID != reviewer.UserID {
				return domain.ErrUnauthorized
			}
		case domain.StatusClientReview:
			if p.ClientID != reviewer.UserID {
				return domain.ErrUnauthorized
			}
		default:
			return domain.ErrNotReviewable
		}
		now := time.Now()
		d.QcStatus = status
		d.ReviewerID = &reviewer.UserID
		d.ReviewedAt = &now
		return tx.Model(&domain.Deliverable{}).
			Where("deliverable_id = ?", d.DeliverableID).
			Updates(map[string]interface{}{
				"qc_status":   d.QcStatus,
				"reviewer_id": d.ReviewerID,
				"reviewed_at": d.ReviewedAt,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns every version of the project's work, oldest first.
func (s *Service) List(ctx context.Context, projectID uuid.UUID) ([]domain.Deliverable, error) {
	var out []domain.Deliverable
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("version ASC").Find(&out).Error
	return out, err
}

// Latest returns the newest version, or nil when nothing was submitted yet.
func Latest(tx *gorm.DB, projectID uuid.UUID) (*domain.Deliverable, error) {
	var d domain.Deliverable
	if err := tx.Where("project_id = ?", projectID).Order("version DESC").First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func loadProject(tx *gorm.DB, id uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	if err := tx.Where("project_id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

package notifications

import (
	"context"

	"commissions-backend/internal/application/emails"
	"commissions-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailSink mails the project's client and, once assigned, its fulfiller.
type EmailSink struct {
	DB     *gorm.DB
	Sender emails.Sender
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, ev StatusChanged) error {
	if s.Sender == nil {
		return nil
	}
	ids := []uuid.UUID{ev.ClientID}
	if ev.FulfillerID != nil {
		ids = append(ids, *ev.FulfillerID)
	}
	var users []domain.User
	if err := s.DB.WithContext(ctx).Where("user_id IN ?", ids).Find(&users).Error; err != nil {
		return err
	}
	for _, u := range users {
		if err := s.Sender.SendStatusChanged(ctx, u.Email, u.Fullname, ev.Title, string(ev.OldStatus), string(ev.NewStatus)); err != nil {
			return err
		}
	}
	return nil
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"commissions-backend/internal/application/deliverables"
	"commissions-backend/internal/application/escrow"
	"commissions-backend/internal/application/notifications"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/infrastructure/locks"
	"commissions-backend/internal/pkg/constants"
	"commissions-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultLockTimeout = 750 * time.Millisecond

// Notifier receives committed transitions. Implementations must not block.
type Notifier interface {
	Publish(ev notifications.StatusChanged)
}

// Service owns project state. Every state change goes through Transition (or ConfirmPayment for
// the payment edge), which consults the transition table, authorizes the actor and commits any
// required ledger effect in the same transaction as the new state.
type Service struct {
	DB          *gorm.DB
	Locks       locks.Locker
	LockTimeout time.Duration
	Escrow      *escrow.Service
	Notifier    Notifier
}

// Payload carries event arguments. Only the fields an event reads are looked at.
type Payload struct {
	Price       *decimal.Decimal `json:"price,omitempty"`
	Payout      *decimal.Decimal `json:"payout,omitempty"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
	FulfillerID *uuid.UUID       `json:"fulfiller_id,omitempty"`
	Progress    *int             `json:"progress,omitempty"`
	Override    bool             `json:"override,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

type SubmitInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline"`
}

func (s *Service) timeout() time.Duration {
	if s.LockTimeout > 0 {
		return s.LockTimeout
	}
	return defaultLockTimeout
}

func (s *Service) lockProject(ctx context.Context, id uuid.UUID) (func(), error) {
	return s.Locks.Acquire(ctx, s.timeout(), locks.ProjectKey(id.String()))
}

// Submit creates a project in the submitted state for a client.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, in SubmitInput) (*domain.Project, error) {
	if actor.Role != constants.Client {
		return nil, domain.ErrUnauthorized
	}
	title := strings.TrimSpace(in.Title)
	if !validation.IsValidTitle(title) {
		return nil, fmt.Errorf("%w: title is required and must be at most %d characters", domain.ErrInvalidInput, validation.MaxTitleLength)
	}
	if _, err := s.Escrow.Ledger.EnsureAccount(ctx, actor.UserID, domain.AccountRoleClient); err != nil {
		return nil, err
	}
	now := time.Now()
	p := &domain.Project{
		ClientID:        actor.UserID,
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		Status:          domain.StatusSubmitted,
		Deadline:        in.Deadline,
		StatusChangedAt: now,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		return appendHistory(tx, p.ProjectID, "", p.Status, eventSubmit, actor.UserID, nil, now)
	})
	if err != nil {
		return nil, err
	}
	s.notify(p, "", eventSubmit, actor, now)
	return p, nil
}

// Get returns a project the actor may see.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Project, error) {
	p, err := load(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if !canView(p, actor) {
		return nil, domain.ErrUnauthorized
	}
	return p, nil
}

// ListForActor returns the projects visible to actor: their own as client or fulfiller, all of
// them for supervisors and admins.
func (s *Service) ListForActor(ctx context.Context, actor domain.Actor) ([]domain.Project, error) {
	q := s.DB.WithContext(ctx).Order(`"createdAt" DESC`)
	switch actor.Role {
	case constants.Supervisor, constants.Admin:
	case constants.Fulfiller:
		q = q.Where("fulfiller_id = ?", actor.UserID)
	default:
		q = q.Where("client_id = ?", actor.UserID)
	}
	var out []domain.Project
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the project's committed transitions in order.
func (s *Service) History(ctx context.Context, id uuid.UUID, actor domain.Actor) ([]domain.ProjectStatusHistory, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	var out []domain.ProjectStatusHistory
	err := s.DB.WithContext(ctx).Where("project_id = ?", id).Order("seq ASC").Find(&out).Error
	return out, err
}

// Transition applies event to the project on behalf of actor.
func (s *Service) Transition(ctx context.Context, projectID uuid.UUID, event Event, actor domain.Actor, payload Payload) (*domain.Project, error) {
	if !Known(event) {
		return nil, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidTransition, event)
	}
	releaseProject, err := s.lockProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer releaseProject()

	current, err := load(s.DB.WithContext(ctx), projectID)
	if err != nil {
		return nil, err
	}
	var accts *escrow.Accounts
	if movesMoney(event) {
		accts, err = s.Escrow.AccountsFor(ctx, current)
		if err != nil {
			return nil, err
		}
		releaseAccounts, err := s.Escrow.Ledger.Lock(ctx, accts.IDs()...)
		if err != nil {
			return nil, err
		}
		defer releaseAccounts()
	}

	var (
		p     *domain.Project
		from  domain.ProjectStatus
		noop  bool
		stamp time.Time
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = load(tx, projectID)
		if err != nil {
			return err
		}
		from = p.Status
		if p.Status == domain.StatusCompleted && event == EventComplete {
			if !canView(p, actor) {
				return domain.ErrUnauthorized
			}
			noop = true
			return nil
		}
		to, ok := Next(p.Status, event)
		if !ok || (event == EventCancel && p.Status == domain.StatusInProgress && !payload.Override) {
			return fmt.Errorf("%w: %s is not allowed from %s", domain.ErrInvalidTransition, event, p.Status)
		}
		if !authorized(p, event, actor) {
			return fmt.Errorf("%w: %s may not %s this project", domain.ErrUnauthorized, actor.Role, event)
		}
		stamp = time.Now()
		if err := s.apply(tx, p, event, actor, payload, accts, stamp); err != nil {
			return err
		}
		p.Status = to
		p.StatusChangedAt = stamp
		p.Terminal = to.IsTerminal()
		if err := save(tx, p, stamp); err != nil {
			return err
		}
		return appendHistory(tx, p.ProjectID, from, to, event, actor.UserID, &payload, stamp)
	})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("project_id", projectID.String()).Str("event", string(event)).Msg("workflow: transition rejected")
		return nil, err
	}
	if !noop {
		s.notify(p, from, event, actor, stamp)
	}
	return p, nil
}

// ConfirmPayment moves a project from payment_pending to paid once the gateway has verified the
// payment. The payer must be the project's client and the amount must match the quote. Replaying
// an already consumed reference returns the current project without crediting escrow again. A
// payment captured after the project was cancelled or refunded is booked and returned to the
// client's wallet in the same transaction; the project stays as it is.
func (s *Service) ConfirmPayment(ctx context.Context, projectID uuid.UUID, amount decimal.Decimal, externalRef string, payer domain.Actor) (*domain.Project, error) {
	if strings.TrimSpace(externalRef) == "" {
		return nil, fmt.Errorf("%w: payment reference required", domain.ErrInvalidInput)
	}
	releaseProject, err := s.lockProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer releaseProject()

	current, err := load(s.DB.WithContext(ctx), projectID)
	if err != nil {
		return nil, err
	}
	if payer.UserID != current.ClientID {
		return nil, fmt.Errorf("%w: payer is not the project's client", domain.ErrUnauthorized)
	}
	if current.PaymentRef != nil && *current.PaymentRef == externalRef {
		return current, nil
	}
	accts, err := s.Escrow.AccountsFor(ctx, current)
	if err != nil {
		return nil, err
	}
	releaseAccounts, err := s.Escrow.Ledger.Lock(ctx, accts.IDs()...)
	if err != nil {
		return nil, err
	}
	defer releaseAccounts()

	var (
		p         *domain.Project
		duplicate bool
		returned  bool
		stamp     time.Time
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = load(tx, projectID)
		if err != nil {
			return err
		}
		to, ok := Next(p.Status, EventConfirmPayment)
		if !ok && p.Status.IsTerminal() {
			err := s.Escrow.ReturnPayment(tx, p, accts, amount, externalRef)
			switch {
			case errors.Is(err, domain.ErrDuplicateReference):
				duplicate = true
				return nil
			case err != nil:
				return err
			}
			returned = true
			stamp = time.Now()
			return appendHistory(tx, p.ProjectID, p.Status, p.Status, eventReturnPayment, payer.UserID, map[string]string{
				"amount":       amount.String(),
				"external_ref": externalRef,
			}, stamp)
		}
		if !ok {
			return fmt.Errorf("%w: payment is not expected in %s", domain.ErrInvalidTransition, p.Status)
		}
		if !amount.Equal(p.QuotedPrice) {
			return fmt.Errorf("%w: paid %s, quoted %s", domain.ErrInvalidInput, amount.String(), p.QuotedPrice.String())
		}
		if err := s.Escrow.ReceivePayment(tx, p, accts, amount, externalRef); err != nil {
			if errors.Is(err, domain.ErrDuplicateReference) {
				duplicate = true
				return nil
			}
			return err
		}
		stamp = time.Now()
		ref := externalRef
		p.PaymentRef = &ref
		p.Status = to
		p.StatusChangedAt = stamp
		if err := save(tx, p, stamp); err != nil {
			return err
		}
		return appendHistory(tx, p.ProjectID, domain.StatusPaymentPending, to, EventConfirmPayment, payer.UserID, map[string]string{
			"amount":       amount.String(),
			"external_ref": externalRef,
		}, stamp)
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		zerolog.Ctx(ctx).Info().Str("project_id", projectID.String()).Str("external_ref", externalRef).Msg("workflow: payment replay ignored")
		return p, nil
	}
	if returned {
		zerolog.Ctx(ctx).Warn().
			Str("project_id", projectID.String()).
			Str("status", string(p.Status)).
			Str("external_ref", externalRef).
			Str("amount", amount.String()).
			Msg("workflow: payment for closed project returned to client wallet")
		return p, nil
	}
	s.notify(p, domain.StatusPaymentPending, EventConfirmPayment, payer, stamp)
	return p, nil
}

// apply runs the event's guards, field changes and ledger effect. It mutates p but does not save.
func (s *Service) apply(tx *gorm.DB, p *domain.Project, event Event, actor domain.Actor, payload Payload, accts *escrow.Accounts, now time.Time) error {
	switch event {
	case EventAnalyze:
		p.SupervisorID = &actor.UserID

	case EventQuote:
		if payload.Price == nil || payload.Payout == nil {
			return fmt.Errorf("%w: price and payout are required", domain.ErrInvalidInput)
		}
		if !payload.Price.IsPositive() || !payload.Payout.IsPositive() || payload.Payout.GreaterThan(*payload.Price) {
			return fmt.Errorf("%w: need 0 < payout <= price", domain.ErrInvalidInput)
		}
		p.QuotedPrice = *payload.Price
		p.FulfillerPayout = *payload.Payout
		if payload.Deadline != nil {
			p.Deadline = payload.Deadline
		}

	case EventAssign:
		if payload.FulfillerID == nil {
			return fmt.Errorf("%w: fulfiller_id is required", domain.ErrInvalidInput)
		}
		var u domain.User
		if err := tx.Where("user_id = ? AND role = ?", *payload.FulfillerID, constants.Fulfiller).First(&u).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s is not a fulfiller", domain.ErrInvalidInput, payload.FulfillerID)
			}
			return err
		}
		id := u.UserID
		p.FulfillerID = &id
		p.ProgressPercent = 0

	case EventDecline:
		p.FulfillerID = nil
		p.ProgressPercent = 0

	case EventReportProgress:
		if payload.Progress == nil || *payload.Progress < 0 || *payload.Progress > 100 {
			return fmt.Errorf("%w: progress must be between 0 and 100", domain.ErrInvalidInput)
		}
		p.ProgressPercent = *payload.Progress

	case EventDeliver:
		latest, err := deliverables.Latest(tx, p.ProjectID)
		if err != nil {
			return err
		}
		if latest == nil || latest.QcStatus != domain.QcPending {
			return fmt.Errorf("%w: submit a new deliverable before delivering", domain.ErrInvalidTransition)
		}
		p.DeliveredAt = &now
		p.ProgressPercent = 100

	case EventApprove:
		latest, err := deliverables.Latest(tx, p.ProjectID)
		if err != nil {
			return err
		}
		if latest == nil || !latest.IsFinal || latest.QcStatus != domain.QcApproved {
			return fmt.Errorf("%w: latest deliverable must be final and QC-approved", domain.ErrInvalidTransition)
		}
		marker, err := s.Escrow.Marker(tx, p.ProjectID)
		if err != nil {
			return err
		}
		// A project comes back to approve after a client revision; the payout went out the first time.
		if marker == nil {
			return s.Escrow.ReleaseToFulfiller(tx, p, accts, accts.Fulfiller, p.FulfillerPayout)
		}

	case EventComplete:
		if err := s.Escrow.Settle(tx, p, accts); err != nil {
			return err
		}
		p.CompletedAt = &now

	case EventCancel:
		if !p.Paid() {
			return nil
		}
		return s.unwind(tx, p, accts)

	case EventRefund:
		marker, err := s.Escrow.Marker(tx, p.ProjectID)
		if err != nil {
			return err
		}
		if marker != nil {
			return domain.ErrAlreadySettled
		}
		remainder, err := s.Escrow.Remainder(tx, p.ProjectID, accts.Escrow)
		if err != nil {
			return err
		}
		return s.Escrow.Refund(tx, p, accts, accts.Client, remainder)
	}
	return nil
}

// unwind settles a cancelled paid project: refund what escrow holds unless the payout was
// released, in which case the release stands and the project settles forward.
func (s *Service) unwind(tx *gorm.DB, p *domain.Project, accts *escrow.Accounts) error {
	marker, err := s.Escrow.Marker(tx, p.ProjectID)
	if err != nil {
		return err
	}
	if marker != nil {
		if marker.Kind == domain.SettlementRelease {
			return s.Escrow.Settle(tx, p, accts)
		}
		return nil
	}
	remainder, err := s.Escrow.Remainder(tx, p.ProjectID, accts.Escrow)
	if err != nil {
		return err
	}
	if !remainder.IsPositive() {
		return nil
	}
	return s.Escrow.Refund(tx, p, accts, accts.Client, remainder)
}

func movesMoney(ev Event) bool {
	switch ev {
	case EventApprove, EventComplete, EventCancel, EventRefund:
		return true
	}
	return false
}

// authorized decides whether actor may fire event on p. Legality is checked before this.
func authorized(p *domain.Project, event Event, a domain.Actor) bool {
	isClient := a.UserID == p.ClientID
	isFulfiller := p.FulfillerID != nil && *p.FulfillerID == a.UserID
	isSupervisor := a.Role == constants.Supervisor && (p.SupervisorID == nil || *p.SupervisorID == a.UserID)

	switch event {
	case EventAnalyze, EventQuote, EventQueue, EventAssign, EventBeginReview, EventApprove,
		EventRequestRevision, EventDeliverToClient, EventRefund:
		return isSupervisor
	case EventRejectQuote, EventAcceptQuote, EventRequestPayment, EventOpenReview, EventRequestClientRevision:
		return isClient
	case EventDecline, EventStart, EventReportProgress, EventDeliver, EventBeginRevision:
		return isFulfiller
	case EventComplete:
		return isClient || isSupervisor
	case EventCancel:
		if isSupervisor {
			return true
		}
		return isClient && !p.Paid() && p.Status != domain.StatusPaymentPending
	case EventConfirmPayment:
		// Only the payment gateway confirms payments, through ConfirmPayment.
		return false
	}
	return false
}

func canView(p *domain.Project, a domain.Actor) bool {
	switch a.Role {
	case constants.Supervisor, constants.Admin:
		return true
	}
	return a.UserID == p.ClientID || (p.FulfillerID != nil && *p.FulfillerID == a.UserID)
}

func load(db *gorm.DB, id uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	if err := db.Where("project_id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// save writes p guarded by its version.
func save(tx *gorm.DB, p *domain.Project, now time.Time) error {
	res := tx.Model(&domain.Project{}).
		Where("project_id = ? AND version = ?", p.ProjectID, p.Version).
		Updates(map[string]interface{}{
			"status":            p.Status,
			"supervisor_id":     p.SupervisorID,
			"fulfiller_id":      p.FulfillerID,
			"quoted_price":      p.QuotedPrice,
			"fulfiller_payout":  p.FulfillerPayout,
			"deadline":          p.Deadline,
			"progress_percent":  p.ProgressPercent,
			"payment_ref":       p.PaymentRef,
			"status_changed_at": p.StatusChangedAt,
			"delivered_at":      p.DeliveredAt,
			"completed_at":      p.CompletedAt,
			"terminal":          p.Terminal,
			"version":           p.Version + 1,
			"updatedAt":         now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: project %s changed concurrently", domain.ErrBusy, p.ProjectID)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func appendHistory(tx *gorm.DB, projectID uuid.UUID, from, to domain.ProjectStatus, event Event, actorID uuid.UUID, payload interface{}, now time.Time) error {
	var raw datatypes.JSON
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	}
	return tx.Create(&domain.ProjectStatusHistory{
		ProjectID:  projectID,
		FromStatus: from,
		ToStatus:   to,
		Event:      string(event),
		ActorID:    actorID,
		Payload:    raw,
		CreatedAt:  now,
	}).Error
}

func (s *Service) notify(p *domain.Project, from domain.ProjectStatus, event Event, actor domain.Actor, at time.Time) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(notifications.StatusChanged{
		ProjectID:   p.ProjectID,
		Title:       p.Title,
		OldStatus:   from,
		NewStatus:   p.Status,
		Event:       string(event),
		ActorID:     actor.UserID,
		ClientID:    p.ClientID,
		FulfillerID: p.FulfillerID,
		Timestamp:   at,
	})
}

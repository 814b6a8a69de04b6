package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"commissions-backend/internal/application/deliverables"
	"commissions-backend/internal/application/escrow"
	"commissions-backend/internal/application/ledger"
	"commissions-backend/internal/application/notifications"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/infrastructure/database"
	"commissions-backend/internal/infrastructure/locks"
	"commissions-backend/internal/pkg/constants"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []notifications.StatusChanged
}

func (r *recorder) Publish(ev notifications.StatusChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type env struct {
	wf         *Service
	dl         *deliverables.Service
	ledger     *ledger.Service
	notes      *recorder
	client     domain.Actor
	fulfiller  domain.Actor
	supervisor domain.Actor
}

var (
	price  = decimal.NewFromInt(500)
	payout = decimal.NewFromInt(400)
)

func setupWorkflow(t *testing.T) *env {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	lk := locks.NewLocal()
	l := &ledger.Service{DB: db, Locks: lk, LockTimeout: 5 * time.Second}
	e := &env{
		ledger:     l,
		notes:      &recorder{},
		dl:         &deliverables.Service{DB: db, Locks: lk, LockTimeout: 5 * time.Second},
		client:     domain.Actor{UserID: uuid.New(), Role: constants.Client},
		fulfiller:  domain.Actor{UserID: uuid.New(), Role: constants.Fulfiller},
		supervisor: domain.Actor{UserID: uuid.New(), Role: constants.Supervisor},
	}
	e.wf = &Service{DB: db, Locks: lk, LockTimeout: 5 * time.Second, Escrow: &escrow.Service{Ledger: l}, Notifier: e.notes}
	for _, a := range []domain.Actor{e.client, e.fulfiller, e.supervisor} {
		require.NoError(t, db.Create(&domain.User{
			UserID:       a.UserID,
			Fullname:     a.Role + " user",
			Email:        a.UserID.String() + "@example.com",
			PasswordHash: "x",
			Role:         a.Role,
		}).Error)
	}
	return e
}

func (e *env) step(t *testing.T, id uuid.UUID, ev Event, actor domain.Actor, payload Payload) *domain.Project {
	t.Helper()
	p, err := e.wf.Transition(context.Background(), id, ev, actor, payload)
	require.NoError(t, err, "event %s", ev)
	return p
}

func (e *env) submit(t *testing.T) *domain.Project {
	t.Helper()
	p, err := e.wf.Submit(context.Background(), e.client, SubmitInput{Title: "Logo", Description: "vector logo"})
	require.NoError(t, err)
	return p
}

func (e *env) toPaymentPending(t *testing.T) *domain.Project {
	p := e.submit(t)
	e.step(t, p.ProjectID, EventAnalyze, e.supervisor, Payload{})
	e.step(t, p.ProjectID, EventQuote, e.supervisor, Payload{Price: &price, Payout: &payout})
	e.step(t, p.ProjectID, EventAcceptQuote, e.client, Payload{})
	return e.step(t, p.ProjectID, EventRequestPayment, e.client, Payload{})
}

func (e *env) toInProgress(t *testing.T) *domain.Project {
	p := e.toPaymentPending(t)
	_, err := e.wf.ConfirmPayment(context.Background(), p.ProjectID, price, "pay-1", e.client)
	require.NoError(t, err)
	e.step(t, p.ProjectID, EventQueue, e.supervisor, Payload{})
	e.step(t, p.ProjectID, EventAssign, e.supervisor, Payload{FulfillerID: &e.fulfiller.UserID})
	return e.step(t, p.ProjectID, EventStart, e.fulfiller, Payload{})
}

func (e *env) deliverFinal(t *testing.T, id uuid.UUID) *domain.Deliverable {
	d, err := e.dl.Submit(context.Background(), id, e.fulfiller, deliverables.FileMeta{Location: "s3://work/" + uuid.NewString(), IsFinal: true})
	require.NoError(t, err)
	e.step(t, id, EventDeliver, e.fulfiller, Payload{})
	e.step(t, id, EventBeginReview, e.supervisor, Payload{})
	return d
}

func (e *env) toForReview(t *testing.T) (*domain.Project, *domain.Deliverable) {
	p := e.toInProgress(t)
	d := e.deliverFinal(t, p.ProjectID)
	return p, d
}

func (e *env) toApproved(t *testing.T) *domain.Project {
	p, d := e.toForReview(t)
	_, err := e.dl.SetQcStatus(context.Background(), d.DeliverableID, domain.QcApproved, e.supervisor)
	require.NoError(t, err)
	return e.step(t, p.ProjectID, EventApprove, e.supervisor, Payload{})
}

func (e *env) balance(t *testing.T, owner uuid.UUID, role string) *ledger.Balance {
	t.Helper()
	a, err := e.ledger.EnsureAccount(context.Background(), owner, role)
	require.NoError(t, err)
	b, err := e.ledger.Balance(context.Background(), a.AccountID)
	require.NoError(t, err)
	return b
}

func (e *env) platform(t *testing.T, role string) *ledger.Balance {
	return e.balance(t, uuid.Nil, role)
}

func (e *env) status(t *testing.T, id uuid.UUID) domain.ProjectStatus {
	t.Helper()
	p, err := e.wf.Get(context.Background(), id, e.supervisor)
	require.NoError(t, err)
	return p.Status
}

func assertConserved(t *testing.T, e *env) {
	t.Helper()
	credits, debits, err := e.ledger.Totals(context.Background())
	require.NoError(t, err)
	assert.True(t, credits.Equal(debits), "credits %s debits %s", credits, debits)
}

func TestTransition_HappyPathSettlesFunds(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toApproved(t)
	assert.Equal(t, domain.StatusApproved, p.Status)

	fb := e.balance(t, e.fulfiller.UserID, domain.AccountRoleFulfiller)
	assert.True(t, fb.Pending.Equal(payout))
	assert.True(t, fb.Available.IsZero())

	e.step(t, p.ProjectID, EventDeliverToClient, e.supervisor, Payload{})
	done := e.step(t, p.ProjectID, EventComplete, e.client, Payload{})
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.True(t, done.Terminal)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.DeliveredAt)

	fb = e.balance(t, e.fulfiller.UserID, domain.AccountRoleFulfiller)
	assert.True(t, fb.Available.Equal(payout))
	assert.True(t, fb.Pending.IsZero())
	assert.True(t, e.platform(t, domain.AccountRoleRevenue).Total.Equal(decimal.NewFromInt(100)))
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.IsZero())
	assert.True(t, e.platform(t, domain.AccountRoleClearing).Total.Equal(price.Neg()))
	assertConserved(t, e)

	hist, err := e.wf.History(context.Background(), p.ProjectID, e.client)
	require.NoError(t, err)
	require.NotEmpty(t, hist)
	assert.Equal(t, "submit", hist[0].Event)
	assert.Equal(t, domain.StatusCompleted, hist[len(hist)-1].ToStatus)
	assert.Equal(t, len(hist), e.notes.len())
}

func TestTransition_CompleteTwiceIsNoOp(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toApproved(t)
	e.step(t, p.ProjectID, EventDeliverToClient, e.supervisor, Payload{})
	first := e.step(t, p.ProjectID, EventComplete, e.supervisor, Payload{})
	notes := e.notes.len()

	again := e.step(t, p.ProjectID, EventComplete, e.client, Payload{})
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Equal(t, first.Version, again.Version)
	assert.Equal(t, notes, e.notes.len())
	assert.True(t, e.platform(t, domain.AccountRoleRevenue).Total.Equal(decimal.NewFromInt(100)))
}

func TestConfirmPayment_ReplayCreditsOnce(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toPaymentPending(t)
	ctx := context.Background()

	first, err := e.wf.ConfirmPayment(ctx, p.ProjectID, price, "pay-1", e.client)
	require.NoError(t, err)
	second, err := e.wf.ConfirmPayment(ctx, p.ProjectID, price, "pay-1", e.client)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaid, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Version, second.Version)
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.Equal(price))

	e.step(t, p.ProjectID, EventQueue, e.supervisor, Payload{})
	third, err := e.wf.ConfirmPayment(ctx, p.ProjectID, price, "pay-1", e.client)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReadyToAssign, third.Status)
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.Equal(price))
	assertConserved(t, e)
}

func TestConfirmPayment_Rules(t *testing.T) {
	e := setupWorkflow(t)
	ctx := context.Background()
	p := e.toPaymentPending(t)

	_, err := e.wf.ConfirmPayment(ctx, p.ProjectID, price, "pay-1", e.fulfiller)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	_, err = e.wf.ConfirmPayment(ctx, p.ProjectID, decimal.NewFromInt(499), "pay-1", e.client)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = e.wf.ConfirmPayment(ctx, p.ProjectID, price, "", e.client)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = e.wf.Transition(ctx, p.ProjectID, EventConfirmPayment, e.client, Payload{})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	other := e.submit(t)
	_, err = e.wf.ConfirmPayment(ctx, other.ProjectID, decimal.Zero, "pay-2", e.client)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	assert.Equal(t, domain.StatusPaymentPending, e.status(t, p.ProjectID))
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.IsZero())
}

func TestTransition_FulfillerCannotApprove(t *testing.T) {
	e := setupWorkflow(t)
	p, d := e.toForReview(t)
	_, err := e.dl.SetQcStatus(context.Background(), d.DeliverableID, domain.QcApproved, e.supervisor)
	require.NoError(t, err)

	_, err = e.wf.Transition(context.Background(), p.ProjectID, EventApprove, e.fulfiller, Payload{})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.Equal(t, domain.StatusForReview, e.status(t, p.ProjectID))
	assert.True(t, e.balance(t, e.fulfiller.UserID, domain.AccountRoleFulfiller).Total.IsZero())
}

func TestTransition_OtherSupervisorCannotActOnClaimedProject(t *testing.T) {
	e := setupWorkflow(t)
	p := e.submit(t)
	e.step(t, p.ProjectID, EventAnalyze, e.supervisor, Payload{})

	other := domain.Actor{UserID: uuid.New(), Role: constants.Supervisor}
	_, err := e.wf.Transition(context.Background(), p.ProjectID, EventQuote, other, Payload{Price: &price, Payout: &payout})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestTransition_IllegalEventsLeaveStateUnchanged(t *testing.T) {
	e := setupWorkflow(t)
	ctx := context.Background()
	for _, s := range statuses {
		p := e.submit(t)
		require.NoError(t, e.wf.DB.Model(&domain.Project{}).Where("project_id = ?", p.ProjectID).Update("status", s).Error)
		for _, ev := range allEvents {
			if _, legal := Next(s, ev); legal {
				continue
			}
			if s == domain.StatusCompleted && ev == EventComplete {
				continue
			}
			_, err := e.wf.Transition(ctx, p.ProjectID, ev, e.supervisor, Payload{})
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition), fmt.Sprintf("%s from %s: %v", ev, s, err))
			assert.Equal(t, s, e.status(t, p.ProjectID))
		}
	}
	credits, _, err := e.ledger.Totals(ctx)
	require.NoError(t, err)
	assert.True(t, credits.IsZero())
}

func TestTransition_RefundAfterReleaseFails(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toApproved(t)
	escrowBefore := e.platform(t, domain.AccountRoleEscrow).Total

	_, err := e.wf.Transition(context.Background(), p.ProjectID, EventRefund, e.supervisor, Payload{})
	assert.True(t, errors.Is(err, domain.ErrAlreadySettled))
	assert.Equal(t, domain.StatusApproved, e.status(t, p.ProjectID))
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.Equal(escrowBefore))
	assert.True(t, e.balance(t, e.client.UserID, domain.AccountRoleClient).Total.IsZero())
}

func TestTransition_RefundBeforeRelease(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toInProgress(t)

	_, err := e.wf.Transition(context.Background(), p.ProjectID, EventRefund, e.client, Payload{})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	done := e.step(t, p.ProjectID, EventRefund, e.supervisor, Payload{Reason: "fulfiller unavailable"})
	assert.Equal(t, domain.StatusRefunded, done.Status)
	assert.True(t, done.Terminal)
	assert.True(t, e.balance(t, e.client.UserID, domain.AccountRoleClient).Available.Equal(price))
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.IsZero())
	assertConserved(t, e)

	_, err = e.wf.Transition(context.Background(), p.ProjectID, EventCancel, e.supervisor, Payload{})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestTransition_CancelInProgressNeedsOverride(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toInProgress(t)
	ctx := context.Background()

	_, err := e.wf.Transition(ctx, p.ProjectID, EventCancel, e.supervisor, Payload{})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = e.wf.Transition(ctx, p.ProjectID, EventCancel, e.client, Payload{Override: true})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.Equal(t, domain.StatusInProgress, e.status(t, p.ProjectID))

	done := e.step(t, p.ProjectID, EventCancel, e.supervisor, Payload{Override: true})
	assert.Equal(t, domain.StatusCancelled, done.Status)
	assert.True(t, e.balance(t, e.client.UserID, domain.AccountRoleClient).Available.Equal(price))
	assertConserved(t, e)
}

func TestTransition_CancelAfterReleaseSettlesForward(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toApproved(t)

	done := e.step(t, p.ProjectID, EventCancel, e.supervisor, Payload{})
	assert.Equal(t, domain.StatusCancelled, done.Status)
	assert.True(t, e.balance(t, e.fulfiller.UserID, domain.AccountRoleFulfiller).Available.Equal(payout))
	assert.True(t, e.balance(t, e.client.UserID, domain.AccountRoleClient).Total.IsZero())
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.IsZero())
}

func TestTransition_ClientCancelBeforePayment(t *testing.T) {
	e := setupWorkflow(t)
	early := e.submit(t)
	done := e.step(t, early.ProjectID, EventCancel, e.client, Payload{})
	assert.Equal(t, domain.StatusCancelled, done.Status)
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.IsZero())
}

func TestTransition_ClientCannotCancelPaidProject(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toPaymentPending(t)
	_, err := e.wf.ConfirmPayment(context.Background(), p.ProjectID, price, "pay-1", e.client)
	require.NoError(t, err)

	_, err = e.wf.Transition(context.Background(), p.ProjectID, EventCancel, e.client, Payload{})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.Equal(t, domain.StatusPaid, e.status(t, p.ProjectID))
}

func TestTransition_ApproveNeedsApprovedFinalDeliverable(t *testing.T) {
	e := setupWorkflow(t)
	p, _ := e.toForReview(t)

	_, err := e.wf.Transition(context.Background(), p.ProjectID, EventApprove, e.supervisor, Payload{})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Equal(t, domain.StatusForReview, e.status(t, p.ProjectID))
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.Equal(price))
}

func TestTransition_DeliverNeedsPendingDeliverable(t *testing.T) {
	e := setupWorkflow(t)
	p := e.toInProgress(t)
	_, err := e.wf.Transition(context.Background(), p.ProjectID, EventDeliver, e.fulfiller, Payload{})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestTransition_ClientRevisionLoopReleasesOnce(t *testing.T) {
	e := setupWorkflow(t)
	ctx := context.Background()
	p := e.toApproved(t)
	id := p.ProjectID

	e.step(t, id, EventDeliverToClient, e.supervisor, Payload{})
	e.step(t, id, EventOpenReview, e.client, Payload{})
	e.step(t, id, EventRequestClientRevision, e.client, Payload{Reason: "colors"})
	e.step(t, id, EventBeginRevision, e.fulfiller, Payload{})
	progress := 50
	e.step(t, id, EventReportProgress, e.fulfiller, Payload{Progress: &progress})

	d := e.deliverFinal(t, id)
	assert.Equal(t, 2, d.Version)
	_, err := e.dl.SetQcStatus(ctx, d.DeliverableID, domain.QcApproved, e.supervisor)
	require.NoError(t, err)
	e.step(t, id, EventApprove, e.supervisor, Payload{})

	fb := e.balance(t, e.fulfiller.UserID, domain.AccountRoleFulfiller)
	assert.True(t, fb.Pending.Equal(payout), fb.Pending.String())
	assert.True(t, e.platform(t, domain.AccountRoleEscrow).Total.Equal(decimal.NewFromInt(100)))

	e.step(t, id, EventDeliverToClient, e.supervisor, Payload{})
	e.step(t, id, EventOpenReview, e.client, Payload{})
	done := e.step(t, id, EventComplete, e.client, Payload{})
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.True(t, e.balance(t, e.fulfiller.UserID, domain.AccountRoleFulfiller).Available.Equal(payout))
	assertConserved(t, e)
}

func TestTransition_PayloadValidation(t *testing.T) {
	e := setupWorkflow(t)
	ctx := context.Background()
	p := e.submit(t)
	e.step(t, p.ProjectID, EventAnalyze, e.supervisor, Payload{})

	tooMuch := decimal.NewFromInt(600)
	_, err := e.wf.Transition(ctx, p.ProjectID, EventQuote, e.supervisor, Payload{Price: &price, Payout: &tooMuch})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = e.wf.Transition(ctx, p.ProjectID, EventQuote, e.supervisor, Payload{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Equal(t, domain.StatusAnalyzing, e.status(t, p.ProjectID))

	q := e.toInProgress(t)
	_, err = e.wf.Transition(ctx, q.ProjectID, EventDecline, e.fulfiller, Payload{})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	bad := 101
	_, err = e.wf.Transition(ctx, q.ProjectID, EventReportProgress, e.fulfiller, Payload{Progress: &bad})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestTransition_AssignRequiresFulfillerUser(t *testing.T) {
	e := setupWorkflow(t)
	ctx := context.Background()
	p := e.toPaymentPending(t)
	_, err := e.wf.ConfirmPayment(ctx, p.ProjectID, price, "pay-1", e.client)
	require.NoError(t, err)
	e.step(t, p.ProjectID, EventQueue, e.supervisor, Payload{})

	_, err = e.wf.Transition(ctx, p.ProjectID, EventAssign, e.supervisor, Payload{FulfillerID: &e.client.UserID})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	assigned := e.step(t, p.ProjectID, EventAssign, e.supervisor, Payload{FulfillerID: &e.fulfiller.UserID})
	require.NotNil(t, assigned.FulfillerID)
	declined := e.step(t, p.ProjectID, EventDecline, e.fulfiller, Payload{})
	assert.Equal(t, domain.StatusReadyToAssign, declined.Status)
	assert.Nil(t, declined.FulfillerID)
}

func TestTransition_ConcurrentEventsFirstCommitterWins(t *testing.T) {
	e := setupWorkflow(t)
	p, d := e.toForReview(t)
	_, err := e.dl.SetQcStatus(context.Background(), d.DeliverableID, domain.QcApproved, e.supervisor)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, ev := range []Event{EventRequestRevision, EventApprove} {
		wg.Add(1)
		go func(i int, ev Event) {
			defer wg.Done()
			_, errs[i] = e.wf.Transition(context.Background(), p.ProjectID, ev, e.supervisor, Payload{})
		}(i, ev)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "%v", err)
	}
	assert.Equal(t, 1, ok)
}

func TestListForActor_Scopes(t *testing.T) {
	e := setupWorkflow(t)
	ctx := context.Background()
	e.submit(t)
	p := e.toInProgress(t)

	mine, err := e.wf.ListForActor(ctx, e.client)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	assigned, err := e.wf.ListForActor(ctx, e.fulfiller)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, p.ProjectID, assigned[0].ProjectID)

	stranger := domain.Actor{UserID: uuid.New(), Role: constants.Client}
	none, err := e.wf.ListForActor(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, none)
	_, err = e.wf.Get(ctx, p.ProjectID, stranger)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestSubmit_OnlyClients(t *testing.T) {
	e := setupWorkflow(t)
	_, err := e.wf.Submit(context.Background(), e.fulfiller, SubmitInput{Title: "x"})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	_, err = e.wf.Submit(context.Background(), e.client, SubmitInput{Title: "  "})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

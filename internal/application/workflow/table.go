package workflow

import "commissions-backend/internal/domain"

// Event names a requested transition.
type Event string

const (
	EventAnalyze               Event = "analyze"
	EventQuote                 Event = "quote"
	EventRejectQuote           Event = "reject_quote"
	EventAcceptQuote           Event = "accept_quote"
	EventRequestPayment        Event = "request_payment"
	EventConfirmPayment        Event = "confirm_payment"
	EventQueue                 Event = "queue"
	EventAssign                Event = "assign"
	EventDecline               Event = "decline"
	EventStart                 Event = "start"
	EventReportProgress        Event = "report_progress"
	EventDeliver               Event = "deliver"
	EventBeginReview           Event = "begin_review"
	EventApprove               Event = "approve"
	EventRequestRevision       Event = "request_revision"
	EventBeginRevision         Event = "begin_revision"
	EventDeliverToClient       Event = "deliver_to_client"
	EventOpenReview            Event = "open_review"
	EventRequestClientRevision Event = "request_client_revision"
	EventComplete              Event = "complete"
	EventCancel                Event = "cancel"
	EventRefund                Event = "refund"

	// History labels that are not transitions.
	eventSubmit        Event = "submit"
	eventReturnPayment Event = "return_payment"
)

type edge struct {
	from  domain.ProjectStatus
	event Event
}

// statuses in lifecycle order.
var statuses = []domain.ProjectStatus{
	domain.StatusSubmitted,
	domain.StatusAnalyzing,
	domain.StatusQuoted,
	domain.StatusAccepted,
	domain.StatusPaymentPending,
	domain.StatusPaid,
	domain.StatusReadyToAssign,
	domain.StatusAssigned,
	domain.StatusInProgress,
	domain.StatusDelivered,
	domain.StatusForReview,
	domain.StatusApproved,
	domain.StatusRevisionRequested,
	domain.StatusInRevision,
	domain.StatusDeliveredToClient,
	domain.StatusClientReview,
	domain.StatusClientRevision,
	domain.StatusCompleted,
	domain.StatusCancelled,
	domain.StatusRefunded,
}

// refundable are the states in which the client's payment sits in escrow.
var refundable = map[domain.ProjectStatus]bool{
	domain.StatusPaid:              true,
	domain.StatusReadyToAssign:     true,
	domain.StatusAssigned:          true,
	domain.StatusInProgress:        true,
	domain.StatusDelivered:         true,
	domain.StatusForReview:         true,
	domain.StatusApproved:          true,
	domain.StatusRevisionRequested: true,
	domain.StatusInRevision:        true,
	domain.StatusDeliveredToClient: true,
	domain.StatusClientReview:      true,
	domain.StatusClientRevision:    true,
}

// table is the single authority on legal transitions.
var table = buildTable()

func buildTable() map[edge]domain.ProjectStatus {
	t := map[edge]domain.ProjectStatus{
		{domain.StatusSubmitted, EventAnalyze}:                  domain.StatusAnalyzing,
		{domain.StatusAnalyzing, EventQuote}:                    domain.StatusQuoted,
		{domain.StatusQuoted, EventRejectQuote}:                 domain.StatusAnalyzing,
		{domain.StatusQuoted, EventAcceptQuote}:                 domain.StatusAccepted,
		{domain.StatusAccepted, EventRequestPayment}:            domain.StatusPaymentPending,
		{domain.StatusPaymentPending, EventConfirmPayment}:      domain.StatusPaid,
		{domain.StatusPaid, EventQueue}:                         domain.StatusReadyToAssign,
		{domain.StatusReadyToAssign, EventAssign}:               domain.StatusAssigned,
		{domain.StatusAssigned, EventDecline}:                   domain.StatusReadyToAssign,
		{domain.StatusAssigned, EventStart}:                     domain.StatusInProgress,
		{domain.StatusInProgress, EventReportProgress}:          domain.StatusInProgress,
		{domain.StatusInRevision, EventReportProgress}:          domain.StatusInRevision,
		{domain.StatusInProgress, EventDeliver}:                 domain.StatusDelivered,
		{domain.StatusInRevision, EventDeliver}:                 domain.StatusDelivered,
		{domain.StatusDelivered, EventBeginReview}:              domain.StatusForReview,
		{domain.StatusForReview, EventApprove}:                  domain.StatusApproved,
		{domain.StatusForReview, EventRequestRevision}:          domain.StatusRevisionRequested,
		{domain.StatusRevisionRequested, EventBeginRevision}:    domain.StatusInRevision,
		{domain.StatusClientRevision, EventBeginRevision}:       domain.StatusInRevision,
		{domain.StatusApproved, EventDeliverToClient}:           domain.StatusDeliveredToClient,
		{domain.StatusDeliveredToClient, EventOpenReview}:       domain.StatusClientReview,
		{domain.StatusClientReview, EventRequestClientRevision}: domain.StatusClientRevision,
		{domain.StatusDeliveredToClient, EventComplete}:         domain.StatusCompleted,
		{domain.StatusClientReview, EventComplete}:              domain.StatusCompleted,
	}
	for _, s := range statuses {
		if s.IsTerminal() {
			continue
		}
		t[edge{s, EventCancel}] = domain.StatusCancelled
		if refundable[s] {
			t[edge{s, EventRefund}] = domain.StatusRefunded
		}
	}
	return t
}

// Next returns the state event leads to from from, if the pair is legal.
func Next(from domain.ProjectStatus, event Event) (domain.ProjectStatus, bool) {
	to, ok := table[edge{from, event}]
	return to, ok
}

// Events lists the events legal from s.
func Events(s domain.ProjectStatus) []Event {
	var out []Event
	for _, ev := range allEvents {
		if _, ok := table[edge{s, ev}]; ok {
			out = append(out, ev)
		}
	}
	return out
}

var allEvents = []Event{
	EventAnalyze, EventQuote, EventRejectQuote, EventAcceptQuote, EventRequestPayment,
	EventConfirmPayment, EventQueue, EventAssign, EventDecline, EventStart, EventReportProgress,
	EventDeliver, EventBeginReview, EventApprove, EventRequestRevision, EventBeginRevision,
	EventDeliverToClient, EventOpenReview, EventRequestClientRevision, EventComplete, EventCancel,
	EventRefund,
}

// Known reports whether ev is a transition event.
func Known(ev Event) bool {
	for _, e := range allEvents {
		if e == ev {
			return true
		}
	}
	return false
}

package notifications

import (
	"context"
	"sync"
	"time"

	"commissions-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StatusChanged is emitted after every committed project transition.
type StatusChanged struct {
	ProjectID   uuid.UUID            `json:"project_id"`
	Title       string               `json:"title"`
	OldStatus   domain.ProjectStatus `json:"old_status"`
	NewStatus   domain.ProjectStatus `json:"new_status"`
	Event       string               `json:"event"`
	ActorID     uuid.UUID            `json:"actor_id"`
	ClientID    uuid.UUID            `json:"client_id"`
	FulfillerID *uuid.UUID           `json:"fulfiller_id,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// Sink delivers an event to one downstream system.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev StatusChanged) error
}

const (
	DefaultBuffer      = 256
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to sinks on a background goroutine. Publish never blocks: when the
// buffer is full the event is dropped and logged.
type Dispatcher struct {
	sinks       []Sink
	ch          chan StatusChanged
	SendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		sinks:       sinks,
		ch:          make(chan StatusChanged, buffer),
		SendTimeout: defaultSendTimeout,
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues ev for delivery.
func (d *Dispatcher) Publish(ev StatusChanged) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- ev:
	default:
		log.Warn().
			Str("project_id", ev.ProjectID.String()).
			Str("new_status", string(ev.NewStatus)).
			Msg("notifications: queue full, event dropped")
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.ch {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.SendTimeout)
			if err := s.Send(ctx, ev); err != nil {
				log.Error().Err(err).
					Str("sink", s.Name()).
					Str("project_id", ev.ProjectID.String()).
					Msg("notifications: delivery failed")
			}
			cancel()
		}
	}
}

// Package notify delivers matching events to requesters and technicians.
// Delivery is best-effort: callers never wait on it and never see its errors.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fixit/internal/types"
)

type EventType string

const (
	EventMatchOffered       EventType = "match_offered"
	EventMatchAccepted      EventType = "match_accepted"
	EventMatchRejected      EventType = "match_rejected"
	EventMatchExpired       EventType = "match_expired"
	EventTechnicianAssigned EventType = "technician_assigned"
	EventNoTechnician       EventType = "no_technician"
	EventRequestCancelled   EventType = "request_cancelled"
	EventRequestCompleted   EventType = "request_completed"
)

type Event struct {
	Type      EventType         `json:"type"`
	RequestID types.ID          `json:"service_request_id"`
	MatchID   types.ID          `json:"match_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, userID types.ID, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, types.ID, Event) error { return nil }

const defaultSendTimeout = 5 * time.Second

// Dispatcher sends events on background goroutines with a per-send timeout
// and logs failures. Close waits for in-flight sends.
type Dispatcher struct {
	next    Notifier
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(next Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{next: next, logger: logger, timeout: defaultSendTimeout}
}

// Notify schedules delivery and returns immediately. The caller's context
// only contributes values; its cancellation does not abort the send.
func (d *Dispatcher) Notify(ctx context.Context, userID types.ID, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Debug("dispatcher closed, dropping event", zap.String("type", string(ev.Type)))
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notifier panicked", zap.Any("panic", r))
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.next.Notify(sendCtx, userID, ev); err != nil {
			d.logger.Warn("notification failed",
				zap.String("user_id", string(userID)),
				zap.String("type", string(ev.Type)),
				zap.String("service_request_id", string(ev.RequestID)),
				zap.Error(err),
			)
		}
	}()
	return nil
}

func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

package notify

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"fixit/internal/types"
)

func TestMain(m *testing.M) {
	// verify no goroutine leaks across tests in this package
	defer goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

type recorder struct {
	mu   sync.Mutex
	sent []types.ID
	err  error
}

func (r *recorder) Notify(_ context.Context, userID types.ID, _ Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, userID)
	return r.err
}

type panicky struct{}

func (panicky) Notify(context.Context, types.ID, Event) error { panic("boom") }

func TestDispatcherDeliversAndCloses(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, zap.NewNop())

	for _, id := range []types.ID{"u1", "u2", "u3"} {
		if err := d.Notify(context.Background(), id, Event{Type: EventMatchOffered}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	d.Close()

	if len(rec.sent) != 3 {
		t.Fatalf("delivered %d, want 3", len(rec.sent))
	}

	// after close, events are dropped silently
	_ = d.Notify(context.Background(), "u4", Event{Type: EventMatchOffered})
	if len(rec.sent) != 3 {
		t.Fatal("event delivered after close")
	}
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	for _, next := range []Notifier{&recorder{err: errors.New("unreachable")}, panicky{}} {
		d := NewDispatcher(next, zap.NewNop())
		if err := d.Notify(context.Background(), "u1", Event{Type: EventMatchAccepted}); err != nil {
			t.Fatalf("dispatcher must not surface delivery errors, got %v", err)
		}
		d.Close()
	}
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Notify(ctx, "u1", Event{Type: EventMatchOffered})
	d.Close()
	if len(rec.sent) != 1 {
		t.Fatal("send was skipped because the request context was cancelled")
	}
}

type fakeSender struct {
	msgs []*messaging.Message
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.msgs = append(f.msgs, m)
	return "msg-1", nil
}

func TestFCMNotifierBuildsTopicMessage(t *testing.T) {
	sender := &fakeSender{}
	n := &FCMNotifier{client: sender, logger: zap.NewNop()}

	err := n.Notify(context.Background(), "tech-1", Event{
		Type:      EventMatchOffered,
		RequestID: "req-1",
		MatchID:   "m-1",
		Data:      map[string]string{"expires_at": "10:05"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.msgs) != 1 {
		t.Fatalf("sent %d messages", len(sender.msgs))
	}
	m := sender.msgs[0]
	if m.Topic != "user_tech-1" {
		t.Errorf("topic = %q", m.Topic)
	}
	if m.Data["match_id"] != "m-1" || m.Data["service_request_id"] != "req-1" || m.Data["expires_at"] != "10:05" {
		t.Errorf("unexpected data: %v", m.Data)
	}
	if m.Notification == nil || m.Android == nil || m.Android.Priority != "high" {
		t.Errorf("expected high-priority visible notification")
	}

	if err := n.Notify(context.Background(), "", Event{Type: EventMatchOffered}); err == nil {
		t.Error("expected error for empty user id")
	}
}

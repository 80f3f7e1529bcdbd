package notify

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trade-relay/internal/engine"
	"trade-relay/internal/events"
	"trade-relay/internal/monitor"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	ready chan struct{}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg.Text)
	f.mu.Unlock()
	if f.ready != nil {
		f.ready <- struct{}{}
	}
	if f.fail {
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	return tgbotapi.Message{}, nil
}

func waitFor(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send")
	}
}

func TestNewWithoutTokenIsDisabled(t *testing.T) {
	n, err := New("", 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != nil {
		t.Fatal("expected nil notifier when unconfigured")
	}
}

func TestReconcileOutcomeIsForwarded(t *testing.T) {
	fake := &fakeSender{ready: make(chan struct{}, 4)}
	n := &Notifier{bot: fake, chatID: 1}
	bus := events.NewBus()
	n.Start(bus)
	defer n.Stop()

	bus.Publish(events.EventReconcileDone, engine.Result{
		AccountName:     "sub1",
		CancelLastOrder: engine.StepSucceeded,
		Message:         "position flattened",
	})
	waitFor(t, fake.ready)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages, expected 1", len(fake.sent))
	}
	got := fake.sent[0]
	if !strings.HasPrefix(got, "[sub1] ") {
		t.Fatalf("message %q missing account prefix", got)
	}
	if !strings.Contains(got, `"cancelLastOrder":true`) || !strings.Contains(got, "position flattened") {
		t.Fatalf("message %q missing result fields", got)
	}
}

func TestPlainNoticeIsForwarded(t *testing.T) {
	fake := &fakeSender{ready: make(chan struct{}, 4)}
	n := &Notifier{bot: fake, chatID: 1}
	bus := events.NewBus()
	n.Start(bus)
	defer n.Stop()

	bus.Publish(events.EventNotify, "relay started")
	waitFor(t, fake.ready)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.sent) != 1 || fake.sent[0] != "relay started" {
		t.Fatalf("sent=%v", fake.sent)
	}
}

func TestSendFailureCountsAndSwallows(t *testing.T) {
	fake := &fakeSender{fail: true, ready: make(chan struct{}, 4)}
	metrics := monitor.NewSystemMetrics()
	n := &Notifier{bot: fake, chatID: 1, metrics: metrics}
	bus := events.NewBus()
	n.Start(bus)
	defer n.Stop()

	bus.Publish(events.EventNotify, "will fail")
	waitFor(t, fake.ready)

	// Failure is recorded but nothing panics and the loop keeps consuming.
	bus.Publish(events.EventNotify, "second")
	waitFor(t, fake.ready)

	if got := metrics.GetSnapshot().NotifyFailures; got != 2 {
		t.Fatalf("NotifyFailures=%d, expected 2", got)
	}
}

package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/clock"
	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/domain/webhook"
)

type recordingMetrics struct {
	mu        sync.Mutex
	sent      int
	throttled int
	failed    []string
}

func (m *recordingMetrics) UpstreamAttempt(platform, outcome string, seconds float64) {}

func (m *recordingMetrics) RequestFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, reason)
}

func (m *recordingMetrics) AlertSent(final, throttled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if throttled {
		m.throttled++
		return
	}
	m.sent++
}

func (m *recordingMetrics) UsageCharged(platform, model string, tokens int64, cost float64) {}

func recoverableAlert(keyID, accountType string) webhook.Alert {
	return webhook.Alert{APIKeyID: keyID, AccountType: accountType, ErrorCode: "api_error", StatusCode: 500, Round: 1, MaxRounds: 3}
}

func TestThrottledNotifier(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(baseTime)
	next := &recordingNotifier{}
	metrics := &recordingMetrics{}
	n := app.NewThrottledNotifier(next, memory.NewCounterStore(clk), app.DefaultAlertThrottle, metrics, zerolog.Nop())

	_ = n.Notify(ctx, recoverableAlert("k1", "claude-console"))
	_ = n.Notify(ctx, recoverableAlert("k1", "claude-console")) // throttled
	_ = n.Notify(ctx, recoverableAlert("k1", "openai"))         // other platform
	_ = n.Notify(ctx, recoverableAlert("k2", "claude-console")) // other key

	final := recoverableAlert("k1", "claude-console")
	final.IsFinal = true
	_ = n.Notify(ctx, final)

	if got := len(next.Alerts()); got != 4 {
		t.Errorf("delivered = %d, want 4", got)
	}
	if metrics.throttled != 1 || metrics.sent != 4 {
		t.Errorf("metrics sent=%d throttled=%d, want 4 and 1", metrics.sent, metrics.throttled)
	}

	clk.Advance(app.DefaultAlertThrottle)
	_ = n.Notify(ctx, recoverableAlert("k1", "claude-console"))
	if got := len(next.Alerts()); got != 5 {
		t.Errorf("after the window delivered = %d, want 5", got)
	}
}

func TestThrottledNotifier_FailsOpen(t *testing.T) {
	next := &recordingNotifier{}
	counters := &countingCounters{CounterStore: memory.NewCounterStore(clock.NewFake(baseTime)), fail: true}
	n := app.NewThrottledNotifier(next, counters, time.Minute, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := n.Notify(context.Background(), recoverableAlert("k1", "claude-console")); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}
	if got := len(next.Alerts()); got != 3 {
		t.Errorf("delivered = %d, want 3", got)
	}
}

func TestThrottledNotifier_SetTTL(t *testing.T) {
	next := &recordingNotifier{}
	n := app.NewThrottledNotifier(next, memory.NewCounterStore(clock.NewFake(baseTime)), time.Minute, nil, zerolog.Nop())
	n.SetTTL(0)

	for i := 0; i < 3; i++ {
		_ = n.Notify(context.Background(), recoverableAlert("k1", "claude-console"))
	}
	if got := len(next.Alerts()); got != 3 {
		t.Errorf("delivered = %d, want 3 with throttling disabled", got)
	}
}

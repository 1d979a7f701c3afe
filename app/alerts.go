package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/webhook"
	"github.com/artpar/poolgate/ports"
)

// DefaultAlertThrottle is the minimum gap between recoverable alerts of
// one key and account type.
const DefaultAlertThrottle = 60 * time.Second

// ThrottledNotifier drops repeated recoverable alerts for the same key and
// account type within the throttle window. Final alerts always pass.
// When the counter store fails the alert is sent anyway.
type ThrottledNotifier struct {
	next     ports.AlertNotifier
	counters ports.CounterStore
	metrics  ports.Metrics // optional
	logger   zerolog.Logger
	ttl      atomic.Int64 // nanoseconds; <= 0 disables throttling
}

// NewThrottledNotifier wraps next.
func NewThrottledNotifier(next ports.AlertNotifier, counters ports.CounterStore, ttl time.Duration, metrics ports.Metrics, logger zerolog.Logger) *ThrottledNotifier {
	n := &ThrottledNotifier{
		next:     next,
		counters: counters,
		metrics:  metrics,
		logger:   logger,
	}
	n.SetTTL(ttl)
	return n
}

// SetTTL changes the throttle window (hot reload).
func (n *ThrottledNotifier) SetTTL(ttl time.Duration) {
	n.ttl.Store(int64(ttl))
}

// Notify forwards the alert unless it is throttled.
func (n *ThrottledNotifier) Notify(ctx context.Context, a webhook.Alert) error {
	if !a.IsFinal && n.throttled(ctx, a) {
		n.logger.Debug().
			Str("key_id", a.APIKeyID).
			Str("account_type", a.AccountType).
			Msg("failure alert throttled")
		if n.metrics != nil {
			n.metrics.AlertSent(false, true)
		}
		return nil
	}

	if err := n.next.Notify(ctx, a); err != nil {
		return err
	}
	if n.metrics != nil {
		n.metrics.AlertSent(a.IsFinal, false)
	}
	return nil
}

func (n *ThrottledNotifier) throttled(ctx context.Context, a webhook.Alert) bool {
	ttl := time.Duration(n.ttl.Load())
	if ttl <= 0 || n.counters == nil {
		return false
	}
	won, err := n.counters.SetNX(ctx, webhook.ThrottleKey(a.APIKeyID, a.AccountType), "1", ttl)
	if err != nil {
		n.logger.Warn().Err(err).Msg("alert throttle unavailable, sending alert")
		return false
	}
	return !won
}

// Ensure interface compliance.
var _ ports.AlertNotifier = (*ThrottledNotifier)(nil)

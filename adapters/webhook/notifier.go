// Package webhook delivers failure alerts to HTTP receivers.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/webhook"
	"github.com/artpar/poolgate/ports"
)

// Header names set on every delivery.
const (
	HeaderSignature = "X-Poolgate-Signature"
	HeaderEvent     = "X-Poolgate-Event"
	HeaderTimestamp = "X-Poolgate-Timestamp"
)

// Endpoint is one alert receiver.
type Endpoint struct {
	URL    string
	Secret string // empty sends unsigned
}

// Config configures a Notifier.
type Config struct {
	Endpoints []Endpoint
	Timeout   time.Duration // per delivery, default 10s
}

// Notifier posts alerts asynchronously. Notify never blocks on the
// network; delivery failures are logged.
type Notifier struct {
	endpoints []Endpoint
	timeout   time.Duration
	client    *http.Client
	clock     ports.Clock
	logger    zerolog.Logger

	wg          sync.WaitGroup
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// New creates a notifier.
func New(cfg Config, clock ports.Clock, logger zerolog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	shutdownCtx, shutdownFn := context.WithCancel(context.Background())
	return &Notifier{
		endpoints:   cfg.Endpoints,
		timeout:     cfg.Timeout,
		client:      &http.Client{},
		clock:       clock,
		logger:      logger,
		shutdownCtx: shutdownCtx,
		shutdownFn:  shutdownFn,
	}
}

// Notify serializes the alert and schedules one delivery per endpoint.
func (n *Notifier) Notify(ctx context.Context, a webhook.Alert) error {
	if len(n.endpoints) == 0 {
		return nil
	}

	now := n.clock.Now()
	payload, err := webhook.SerializeMessage(webhook.BuildMessage(a, now))
	if err != nil {
		return fmt.Errorf("serialize alert: %w", err)
	}

	for _, ep := range n.endpoints {
		n.wg.Add(1)
		go func(ep Endpoint) {
			defer n.wg.Done()
			dctx, cancel := context.WithTimeout(n.shutdownCtx, n.timeout)
			defer cancel()
			if err := n.deliver(dctx, ep, payload, now); err != nil {
				n.logger.Warn().Err(err).
					Str("url", ep.URL).
					Str("key_id", a.APIKeyID).
					Bool("final", a.IsFinal).
					Msg("alert delivery failed")
			}
		}(ep)
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, ep Endpoint, payload []byte, now time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "poolgate-alerts/1.0")
	req.Header.Set(HeaderEvent, webhook.MessageType)
	req.Header.Set(HeaderTimestamp, now.UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, webhook.SignPayload(payload, ep.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until scheduled deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Close cancels pending deliveries and waits for them to return.
func (n *Notifier) Close() {
	n.shutdownFn()
	n.wg.Wait()
}

// Ensure interface compliance.
var _ ports.AlertNotifier = (*Notifier)(nil)

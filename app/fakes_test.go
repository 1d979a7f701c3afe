package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/domain/pricing"
	"github.com/artpar/poolgate/domain/proxy"
	"github.com/artpar/poolgate/domain/webhook"
	"github.com/artpar/poolgate/ports"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func testAccount(id string, priority int) account.Account {
	return account.Account{
		ID:                id,
		Platform:          account.PlatformClaudeConsole,
		Name:              "acct-" + id,
		Priority:          priority,
		Status:            account.StatusActive,
		Schedulable:       true,
		SupportsStreaming: true,
	}
}

// scriptedSelector returns one scripted account list per round.
type scriptedSelector struct {
	mu       sync.Mutex
	rounds   [][]account.Account
	calls    int
	used     []account.Ref
	errored  []account.Ref
	messages []string
}

func (s *scriptedSelector) SelectAccounts(ctx context.Context, key apikey.Record, model string, streaming bool) []account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.rounds) {
		return nil
	}
	return s.rounds[i]
}

func (s *scriptedSelector) MarkUsed(ctx context.Context, ref account.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = append(s.used, ref)
	return nil
}

func (s *scriptedSelector) MarkError(ctx context.Context, ref account.Ref, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errored = append(s.errored, ref)
	s.messages = append(s.messages, message)
	return nil
}

// relayStep is one scripted relay answer.
type relayStep struct {
	resp        proxy.Response
	usage       *pricing.Usage // streaming usage
	err         error
	sendHeaders bool // stream: commit headers before failing
	panicWith   any
	block       bool // wait for ctx
}

// scriptedRelay answers calls from a script, then falls back to a 500.
type scriptedRelay struct {
	mu    sync.Mutex
	steps []relayStep
	calls []string // account ids in call order
}

func (r *scriptedRelay) next(acc account.Account) relayStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, acc.ID)
	if len(r.steps) == 0 {
		return relayStep{resp: proxy.Response{Status: 500, Body: []byte(`{"error":{"type":"api_error","message":"boom"}}`)}}
	}
	s := r.steps[0]
	r.steps = r.steps[1:]
	return s
}

func (r *scriptedRelay) Relay(ctx context.Context, acc account.Account, req proxy.Request) (proxy.Response, error) {
	s := r.next(acc)
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.block {
		<-ctx.Done()
		return proxy.Response{}, ctx.Err()
	}
	return s.resp, s.err
}

func (r *scriptedRelay) RelayStream(ctx context.Context, acc account.Account, req proxy.Request, sink ports.StreamSink) (*pricing.Usage, error) {
	s := r.next(acc)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.sendHeaders || s.err == nil {
		sink.WriteHeader(200, map[string]string{"Content-Type": "text/event-stream"})
		_, _ = sink.Write([]byte("data: {}\n\n"))
	}
	return s.usage, s.err
}

func (r *scriptedRelay) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// checkingRelay adds the HealthChecker capability.
type checkingRelay struct {
	scriptedRelay
	mu      sync.Mutex
	failing map[string]error
	active  int
	peak    int
	delay   time.Duration
}

func (r *checkingRelay) CheckAccount(ctx context.Context, acc account.Account) error {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	return r.failing[acc.ID]
}

// recordingNotifier keeps every alert.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []webhook.Alert
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, a webhook.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}

func (n *recordingNotifier) Alerts() []webhook.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]webhook.Alert(nil), n.alerts...)
}

// recordingSink is an in-memory StreamSink.
type recordingSink struct {
	mu     sync.Mutex
	status int
	body   []byte
	sent   bool
}

func (s *recordingSink) WriteHeader(status int, headers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent {
		return
	}
	s.status = status
	s.sent = true
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = true
	s.body = append(s.body, p...)
	return len(p), nil
}

func (s *recordingSink) Flush() {}

func (s *recordingSink) HeadersSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// countingCounters counts mutating calls on a memory counter store.
type countingCounters struct {
	*memory.CounterStore
	mu     sync.Mutex
	writes []string
	fail   bool

	// afterSetNX, when set, runs once after the next SetNX on a key
	// with that prefix.
	afterSetNX       func()
	afterSetNXPrefix string
}

var errCounters = errors.New("counters down")

func (c *countingCounters) record(op, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errCounters
	}
	c.writes = append(c.writes, op+" "+key)
	return nil
}

func (c *countingCounters) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	if err := c.record("INCRBY", key); err != nil {
		return 0, err
	}
	return c.CounterStore.IncrBy(ctx, key, n)
}

func (c *countingCounters) IncrByFloat(ctx context.Context, key string, v float64) (float64, error) {
	if err := c.record("INCRBYFLOAT", key); err != nil {
		return 0, err
	}
	return c.CounterStore.IncrByFloat(ctx, key, v)
}

func (c *countingCounters) IncrByExpire(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	if err := c.record("INCRBY", key); err != nil {
		return 0, err
	}
	return c.CounterStore.IncrByExpire(ctx, key, n, ttl)
}

func (c *countingCounters) IncrByFloatExpire(ctx context.Context, key string, v float64, ttl time.Duration) (float64, error) {
	if err := c.record("INCRBYFLOAT", key); err != nil {
		return 0, err
	}
	return c.CounterStore.IncrByFloatExpire(ctx, key, v, ttl)
}

func (c *countingCounters) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := c.record("SETNX", key); err != nil {
		return false, err
	}
	won, err := c.CounterStore.SetNX(ctx, key, value, ttl)

	c.mu.Lock()
	hook := c.afterSetNX
	if hook != nil && strings.HasPrefix(key, c.afterSetNXPrefix) {
		c.afterSetNX = nil
	} else {
		hook = nil
	}
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return won, err
}

func (c *countingCounters) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.record("SET", key); err != nil {
		return err
	}
	return c.CounterStore.Set(ctx, key, value, ttl)
}

func (c *countingCounters) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// testPricing is a small price table.
func testPricing() *pricing.Table {
	return pricing.NewTable(map[string]pricing.Entry{
		"claude-sonnet-4-20250514": {InputCostPerToken: 0.000003, OutputCostPerToken: 0.000015},
		"test-model":               {InputCostPerToken: 0.000001, OutputCostPerToken: 0.000002},
	})
}

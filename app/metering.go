package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/domain/pricing"
	"github.com/artpar/poolgate/domain/ratelimit"
	"github.com/artpar/poolgate/domain/usage"
	"github.com/artpar/poolgate/ports"
)

// Accountant prices usage and charges it to the shared rate-limit counters.
type Accountant struct {
	counters ports.CounterStore
	pricing  ports.PricingSource
	usageLog ports.UsageLog // optional
	metrics  ports.Metrics  // optional
	idGen    ports.IDGenerator
	clock    ports.Clock
	logger   zerolog.Logger
}

// AccountantDeps contains dependencies for Accountant.
type AccountantDeps struct {
	Counters ports.CounterStore
	Pricing  ports.PricingSource
	UsageLog ports.UsageLog
	Metrics  ports.Metrics
	IDGen    ports.IDGenerator
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// NewAccountant creates a new accountant.
func NewAccountant(deps AccountantDeps) *Accountant {
	return &Accountant{
		counters: deps.Counters,
		pricing:  deps.Pricing,
		usageLog: deps.UsageLog,
		metrics:  deps.Metrics,
		idGen:    deps.IDGen,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
}

// Price computes the cost breakdown of usage. Missing pricing degrades
// to a zero breakdown.
func (a *Accountant) Price(model string, u pricing.Usage) pricing.Breakdown {
	if a.pricing == nil {
		return pricing.Calculate(nil, model, u)
	}
	m := a.pricing.Resolve(model)
	if !m.Found() {
		return pricing.Calculate(nil, model, u)
	}
	return pricing.Calculate(&m.Entry, model, u)
}

// UpdateCounters charges usage to the counters named by info.
// With bypass set nothing is written; tokens and cost are still returned.
func (a *Accountant) UpdateCounters(ctx context.Context, info ratelimit.Info, u pricing.Usage, model string, bypass bool) (int64, float64, error) {
	b := a.Price(model, u)
	tokens := u.TotalTokens()
	if bypass {
		return tokens, b.TotalCost, nil
	}
	if err := a.charge(ctx, info, tokens, b.TotalCost); err != nil {
		return tokens, b.TotalCost, err
	}
	return tokens, b.TotalCost, nil
}

func (a *Accountant) charge(ctx context.Context, info ratelimit.Info, tokens int64, cost float64) error {
	if tokens <= 0 && !(cost > 0) {
		return nil
	}
	now := a.clock.Now()
	ttl, err := a.startWindow(ctx, info, now)
	if err != nil {
		return err
	}

	if tokens > 0 && info.TokenCountKey != "" {
		if _, err := a.counters.IncrByExpire(ctx, info.TokenCountKey, tokens, ttl); err != nil {
			return fmt.Errorf("increment tokens: %w", err)
		}
	}
	if !(cost > 0) {
		return nil
	}
	if info.CostCountKey != "" {
		if _, err := a.counters.IncrByFloatExpire(ctx, info.CostCountKey, cost, ttl); err != nil {
			return fmt.Errorf("increment cost: %w", err)
		}
	}
	if info.KeyID == "" {
		return nil
	}
	if _, err := a.counters.IncrByFloat(ctx, ratelimit.TotalCostKey(info.KeyID), cost); err != nil {
		return fmt.Errorf("increment total cost: %w", err)
	}
	daily := ratelimit.DailyCostKey(info.KeyID, now)
	if _, err := a.counters.IncrByFloatExpire(ctx, daily, cost, ratelimit.DayEnd(now).Sub(now)); err != nil {
		return fmt.Errorf("increment daily cost: %w", err)
	}
	return a.chargeWeekly(ctx, info.KeyID, cost, now)
}

// startWindow opens the rate-limit window if none is live and returns
// the lifetime left for the window counters. Zero means they never expire.
func (a *Accountant) startWindow(ctx context.Context, info ratelimit.Info, now time.Time) (time.Duration, error) {
	if info.Window <= 0 || info.WindowStartKey == "" {
		return 0, nil
	}
	started, err := a.counters.SetNX(ctx, info.WindowStartKey, strconv.FormatInt(now.UnixMilli(), 10), info.Window)
	if err != nil {
		return 0, fmt.Errorf("start rate-limit window: %w", err)
	}
	if started {
		return info.Window, nil
	}
	v, ok, err := a.counters.Get(ctx, info.WindowStartKey)
	if err != nil {
		return 0, fmt.Errorf("read rate-limit window: %w", err)
	}
	if ms, perr := strconv.ParseInt(v, 10, 64); ok && perr == nil {
		w := ratelimit.Window{Start: time.UnixMilli(ms), Length: info.Window}
		if left := w.Remaining(now); left > 0 {
			return left, nil
		}
	}
	return info.Window, nil
}

// chargeWeekly adds cost to the weekly window, starting the window if
// none is live. The expiry is set once, by the SET NX winner; a total
// created by a concurrent charge first keeps its value and gains the
// same expiry.
func (a *Accountant) chargeWeekly(ctx context.Context, keyID string, cost float64, now time.Time) error {
	started, err := a.counters.SetNX(ctx, ratelimit.WeeklyStartKey(keyID),
		strconv.FormatInt(now.UnixMilli(), 10), ratelimit.WeeklyWindow)
	if err != nil {
		return fmt.Errorf("start weekly window: %w", err)
	}
	if started {
		if _, err := a.counters.SetNX(ctx, ratelimit.WeeklyTotalKey(keyID), "0", ratelimit.WeeklyWindow); err != nil {
			return fmt.Errorf("init weekly total: %w", err)
		}
	}
	if _, err := a.counters.IncrByFloatExpire(ctx, ratelimit.WeeklyTotalKey(keyID), cost, ratelimit.WeeklyWindow); err != nil {
		return fmt.Errorf("increment weekly total: %w", err)
	}
	return nil
}

// Snapshot reads the current spend of a key.
func (a *Accountant) Snapshot(ctx context.Context, keyID string) (ratelimit.Snapshot, error) {
	var s ratelimit.Snapshot
	now := a.clock.Now()

	reads := []struct {
		key  string
		name string
		set  func(string)
	}{
		{ratelimit.TokenKey(keyID), "tokens", func(v string) { s.Tokens, _ = strconv.ParseInt(v, 10, 64) }},
		{ratelimit.CostKey(keyID), "cost", func(v string) { s.Cost = parseFloat(v) }},
		{ratelimit.WindowStartKey(keyID), "window start", func(v string) { s.WindowStart = parseMillis(v) }},
		{ratelimit.DailyCostKey(keyID, now), "daily cost", func(v string) { s.DailyCost = parseFloat(v) }},
		{ratelimit.TotalCostKey(keyID), "total cost", func(v string) { s.TotalCost = parseFloat(v) }},
		{ratelimit.WeeklyStartKey(keyID), "weekly start", func(v string) { s.WeeklyStart = parseMillis(v) }},
		{ratelimit.WeeklyTotalKey(keyID), "weekly total", func(v string) { s.WeeklyCost = parseFloat(v) }},
	}
	for _, r := range reads {
		v, ok, err := a.counters.Get(ctx, r.key)
		if err != nil {
			return s, fmt.Errorf("read %s: %w", r.name, err)
		}
		if ok {
			r.set(v)
		}
	}
	return s, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// CheckLimits decides whether key may start another request.
func (a *Accountant) CheckLimits(ctx context.Context, key apikey.Record) (ratelimit.CheckResult, error) {
	limits := ratelimit.Limits{
		TokenLimit:      key.TokenLimit,
		CostLimit:       key.CostLimit,
		DailyCostLimit:  key.DailyCostLimit,
		WeeklyCostLimit: key.WeeklyCostLimit,
		TotalCostLimit:  key.TotalCostLimit,
	}
	if limits == (ratelimit.Limits{}) {
		return ratelimit.CheckResult{Allowed: true}, nil
	}
	limits.Window = key.Window()
	snap, err := a.Snapshot(ctx, key.ID)
	if err != nil {
		return ratelimit.CheckResult{}, err
	}
	return ratelimit.Check(snap, limits, a.clock.Now()), nil
}

// Charge is one successful attempt to be metered.
type Charge struct {
	Key       apikey.Record
	Account   account.Account
	Model     string
	Usage     pricing.Usage
	Streaming bool
	Status    int
	Latency   time.Duration
}

// Meter charges a successful attempt: counters (unless the key has a
// booster active), usage log and metrics. Zero usage writes nothing.
func (a *Accountant) Meter(ctx context.Context, c Charge) error {
	if c.Usage.IsZero() {
		return nil
	}

	b := a.Price(c.Model, c.Usage)
	tokens := c.Usage.TotalTokens()
	charged := !c.Key.BoosterActive
	if charged {
		if err := a.charge(ctx, ratelimit.InfoFor(c.Key.ID, c.Key.Window()), tokens, b.TotalCost); err != nil {
			return err
		}
	}

	a.chargeAccount(ctx, c.Account, tokens)

	if a.metrics != nil {
		a.metrics.UsageCharged(string(c.Account.Platform), c.Model, tokens, b.TotalCost)
	}

	if a.usageLog != nil {
		id := ""
		if a.idGen != nil {
			id = a.idGen.New()
		}
		rec := usage.NewRecord(id, c.Key.ID, c.Account.ID, string(c.Account.Platform), c.Model, c.Usage, b, charged, a.clock.Now())
		rec.Streaming = c.Streaming
		if c.Status != 0 {
			rec.StatusCode = c.Status
		}
		rec.LatencyMs = c.Latency.Milliseconds()
		if err := a.usageLog.Record(ctx, rec); err != nil {
			// the counters are already charged; a lost log row is tolerated
			a.logger.Error().Err(err).Str("key_id", c.Key.ID).Msg("failed to write usage record")
		}
	}

	if !b.HasPricing {
		a.logger.Debug().Str("model", c.Model).Msg("no pricing for model")
	}
	return nil
}

// chargeAccount adds tokens to the per-account usage counters. These are
// informational, so failures are only logged.
func (a *Accountant) chargeAccount(ctx context.Context, acc account.Account, tokens int64) {
	if tokens <= 0 || acc.ID == "" {
		return
	}
	for _, key := range []string{account.UsageKey(acc.ID), account.DailyUsageKey(acc.ID, a.clock.Now())} {
		if _, err := a.counters.IncrBy(ctx, key, tokens); err != nil {
			a.logger.Warn().Err(err).Str("account", acc.Ref().String()).Msg("failed to update account usage")
			return
		}
	}
}

// Summary aggregates a key's usage log over [start, end).
func (a *Accountant) Summary(ctx context.Context, keyID string, start, end time.Time) (usage.Summary, error) {
	var records []usage.Record
	if a.usageLog != nil {
		var err error
		records, err = a.usageLog.Query(ctx, keyID, start, end)
		if err != nil {
			return usage.Summary{}, fmt.Errorf("query usage: %w", err)
		}
	}
	sum := usage.Aggregate(records, start, end)
	sum.KeyID = keyID
	return sum, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/ports"
)

// ErrHealthCheckUnsupported is returned when the relay cannot probe accounts.
var ErrHealthCheckUnsupported = errors.New("relay does not support health checks")

// HealthResult is the outcome of one account probe.
type HealthResult struct {
	Ref       account.Ref `json:"-"`
	Account   string      `json:"account"`
	Healthy   bool        `json:"healthy"`
	Error     string      `json:"error,omitempty"`
	CheckedAt time.Time   `json:"checkedAt"`
}

// HealthRunner probes registered accounts with a bounded number of
// concurrent checks. Failing accounts go through Scheduler.MarkError.
type HealthRunner struct {
	scheduler *Scheduler
	checker   ports.HealthChecker // nil when the relay has no probe
	sem       *semaphore.Weighted
	clock     ports.Clock
	logger    zerolog.Logger
	interval  time.Duration

	mu       sync.RWMutex
	registry map[account.Ref]struct{}

	runMu   sync.Mutex
	stopCh  chan struct{}
	running bool
}

// HealthDeps contains dependencies for HealthRunner.
type HealthDeps struct {
	Scheduler *Scheduler
	Relay     ports.Relay
	Clock     ports.Clock
	Logger    zerolog.Logger
}

// HealthConfig contains configuration for HealthRunner.
type HealthConfig struct {
	MaxConcurrent int           // default 3
	Interval      time.Duration // zero disables the periodic loop
}

// NewHealthRunner creates a runner. The relay's HealthChecker capability
// is discovered by type assertion.
func NewHealthRunner(deps HealthDeps, cfg HealthConfig) *HealthRunner {
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = 3
	}
	checker, _ := deps.Relay.(ports.HealthChecker)
	return &HealthRunner{
		scheduler: deps.Scheduler,
		checker:   checker,
		sem:       semaphore.NewWeighted(int64(n)),
		clock:     deps.Clock,
		logger:    deps.Logger,
		interval:  cfg.Interval,
		registry:  make(map[account.Ref]struct{}),
	}
}

// Supported reports whether the relay can probe accounts.
func (r *HealthRunner) Supported() bool {
	return r.checker != nil
}

// Add registers an account for periodic checks.
func (r *HealthRunner) Add(ref account.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[ref] = struct{}{}
}

// Remove unregisters an account.
func (r *HealthRunner) Remove(ref account.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registry, ref)
}

// Range calls fn for each registered account until fn returns false.
// fn runs on a snapshot, so it may call Add or Remove.
func (r *HealthRunner) Range(fn func(account.Ref) bool) {
	r.mu.RLock()
	refs := make([]account.Ref, 0, len(r.registry))
	for ref := range r.registry {
		refs = append(refs, ref)
	}
	r.mu.RUnlock()

	for _, ref := range refs {
		if !fn(ref) {
			return
		}
	}
}

// Sync registers every account in the pool.
func (r *HealthRunner) Sync(ctx context.Context) error {
	accounts, err := r.scheduler.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accounts {
		r.Add(a.Ref())
	}
	return nil
}

// Check probes one account now.
func (r *HealthRunner) Check(ctx context.Context, ref account.Ref) (HealthResult, error) {
	if r.checker == nil {
		return HealthResult{}, ErrHealthCheckUnsupported
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return HealthResult{}, err
	}
	defer r.sem.Release(1)

	acc, err := r.scheduler.Account(ctx, ref)
	if err != nil {
		return HealthResult{}, err
	}

	res := HealthResult{Ref: ref, Account: ref.String(), Healthy: true}
	checkErr := r.checker.CheckAccount(ctx, acc)
	res.CheckedAt = r.clock.Now()
	if checkErr == nil {
		return res, nil
	}

	res.Healthy = false
	res.Error = checkErr.Error()
	r.logger.Warn().Err(checkErr).Str("account", ref.String()).Msg("account health check failed")
	if err := r.scheduler.MarkError(ctx, ref, "health check failed: "+checkErr.Error()); err != nil {
		r.logger.Error().Err(err).Str("account", ref.String()).Msg("failed to mark account error")
	}
	return res, nil
}

// RunOnce checks every registered account, at most MaxConcurrent at a time.
func (r *HealthRunner) RunOnce(ctx context.Context) []HealthResult {
	var (
		mu      sync.Mutex
		results []HealthResult
		wg      sync.WaitGroup
	)
	r.Range(func(ref account.Ref) bool {
		if ctx.Err() != nil {
			return false
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Check(ctx, ref)
			if err != nil {
				if !errors.Is(err, ports.ErrAccountNotFound) {
					r.logger.Error().Err(err).Str("account", ref.String()).Msg("health check skipped")
					return
				}
				r.Remove(ref)
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
		return true
	})
	wg.Wait()
	return results
}

// Start runs RunOnce every interval until ctx is done or Stop is called.
func (r *HealthRunner) Start(ctx context.Context) {
	if r.interval <= 0 || r.checker == nil {
		return
	}

	r.runMu.Lock()
	if r.running {
		r.runMu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.runMu.Unlock()

	r.logger.Info().Dur("interval", r.interval).Msg("starting account health checks")

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the periodic loop.
func (r *HealthRunner) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		close(r.stopCh)
		r.running = false
	}
}

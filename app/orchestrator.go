package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/domain/pricing"
	"github.com/artpar/poolgate/domain/proxy"
	"github.com/artpar/poolgate/domain/retry"
	"github.com/artpar/poolgate/domain/webhook"
	"github.com/artpar/poolgate/ports"
)

// ErrInternal marks a failover run that ended on an unexpected error.
var ErrInternal = errors.New("internal error")

// AccountSelector is the scheduler surface used during failover.
type AccountSelector interface {
	SelectAccounts(ctx context.Context, key apikey.Record, model string, streaming bool) []account.Account
	MarkUsed(ctx context.Context, ref account.Ref) error
	MarkError(ctx context.Context, ref account.Ref, message string) error
}

// UsageMeter charges a successful attempt.
type UsageMeter interface {
	Meter(ctx context.Context, c Charge) error
}

// Orchestrator walks the ranked accounts over several backoff rounds
// until one upstream call succeeds.
type Orchestrator struct {
	selector AccountSelector
	relay    ports.Relay
	meter    UsageMeter          // optional
	alerts   ports.AlertNotifier // optional
	metrics  ports.Metrics       // optional
	sleeper  ports.Sleeper
	clock    ports.Clock
	logger   zerolog.Logger

	attemptTimeout time.Duration

	// Hot-reloadable
	policy           atomic.Pointer[retry.Policy]
	markUnauthorized atomic.Bool
}

// OrchestratorDeps contains dependencies for Orchestrator.
type OrchestratorDeps struct {
	Selector AccountSelector
	Relay    ports.Relay
	Meter    UsageMeter
	Alerts   ports.AlertNotifier
	Metrics  ports.Metrics
	Sleeper  ports.Sleeper
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// failureInternal labels failed requests that ended in an unexpected
// error rather than a retry.Failure.
const failureInternal = "internal_error"

// OrchestratorConfig contains configuration for Orchestrator.
type OrchestratorConfig struct {
	Policy           retry.Policy
	MarkUnauthorized bool
	AttemptTimeout   time.Duration // zero disables the per-attempt timeout
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		selector:       deps.Selector,
		relay:          deps.Relay,
		meter:          deps.Meter,
		alerts:         deps.Alerts,
		metrics:        deps.Metrics,
		sleeper:        deps.Sleeper,
		clock:          deps.Clock,
		logger:         deps.Logger,
		attemptTimeout: cfg.AttemptTimeout,
	}
	o.UpdateConfig(cfg.Policy, cfg.MarkUnauthorized)
	return o
}

// UpdateConfig swaps the retry policy. Runs in flight keep the policy
// they started with.
func (o *Orchestrator) UpdateConfig(p retry.Policy, markUnauthorized bool) {
	p = p.Normalize()
	o.policy.Store(&p)
	o.markUnauthorized.Store(markUnauthorized)
}

// Policy returns the current retry policy.
func (o *Orchestrator) Policy() retry.Policy {
	return *o.policy.Load()
}

// Call is one client request to serve.
type Call struct {
	Key     apikey.Record
	Request proxy.Request

	// Sink receives the response of a streaming request; nil otherwise.
	Sink ports.StreamSink
}

// Outcome is a served request.
type Outcome struct {
	// Response is the upstream answer of a non-streaming request.
	Response proxy.Response
	Usage    *pricing.Usage
	Account  account.Account
	Attempts []retry.Attempt // failed attempts before success
}

// Execute serves call.
//
// Errors:
//   - *retry.Failure when no account could serve it (map to 503)
//   - ErrInternal wrapped, on an unexpected failure (map to 500)
//   - ctx.Err() when the caller went away
//   - the relay error as-is when a stream failed after headers were sent;
//     nothing more may be written to the client
func (o *Orchestrator) Execute(ctx context.Context, call Call) (Outcome, error) {
	policy := o.Policy()
	streaming := call.Sink != nil

	out, err := o.run(ctx, call, policy, streaming)
	if err == nil {
		return out, nil
	}

	var failure *retry.Failure
	var ie *internalError
	switch {
	case errors.As(err, &failure):
		o.finalAlert(ctx, call.Key, failure)
		if o.metrics != nil {
			o.metrics.RequestFailed(string(failure.Kind))
		}
		o.logger.Error().
			Str("key_id", call.Key.ID).
			Str("code", failure.Code()).
			Int("max_rounds", failure.MaxRounds).
			Msg("all upstream attempts failed")
		return out, failure

	case errors.As(err, &ie):
		o.logger.Error().Err(ie.cause).Str("key_id", call.Key.ID).Msg("unexpected error during failover")
		o.notify(ctx, webhook.Alert{
			APIKeyID:     call.Key.ID,
			APIKeyName:   call.Key.Name,
			ErrorCode:    retry.CodeInternalError,
			StatusCode:   500,
			ErrorMessage: ie.cause.Error(),
		})
		if o.metrics != nil {
			o.metrics.RequestFailed(failureInternal)
		}
		return out, fmt.Errorf("%w: %v", ErrInternal, ie.cause)
	}
	return out, err
}

func (o *Orchestrator) run(ctx context.Context, call Call, policy retry.Policy, streaming bool) (Outcome, error) {
	var out Outcome
	var last retry.Attempt

	for round := 0; round < policy.MaxRounds; round++ {
		if round > 0 {
			delay := policy.Delay(round)
			o.logger.Info().
				Int("round", round+1).
				Int("max_rounds", policy.MaxRounds).
				Dur("delay", delay).
				Msg("waiting before next retry round")
			if err := o.sleeper.Sleep(ctx, delay); err != nil {
				return out, err
			}
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		accounts := o.selector.SelectAccounts(ctx, call.Key, call.Request.Model, streaming)
		if len(accounts) == 0 {
			return out, retry.NoAccounts(round, policy.MaxRounds)
		}

		for _, acc := range accounts {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			res, err := o.attempt(ctx, acc, call)
			if err != nil {
				return out, err
			}
			if res.ok {
				out.Account = acc
				out.Response = res.response
				out.Usage = res.usage
				o.succeeded(ctx, call, acc, res)
				return out, nil
			}

			last = retry.Attempt{
				Round:      round,
				Account:    acc,
				StatusCode: res.status,
				ErrorCode:  res.code,
				Message:    res.message,
			}
			out.Attempts = append(out.Attempts, last)
			o.recoverable(ctx, call.Key, last, policy.MaxRounds)
		}

		o.logger.Warn().
			Int("accounts", len(accounts)).
			Int("round", round+1).
			Int("max_rounds", policy.MaxRounds).
			Msg("every account failed in round")
	}

	return out, retry.Exhausted(last, policy.MaxRounds)
}

// attemptResult is one relay call. A non-nil error from attempt ends the run.
type attemptResult struct {
	ok       bool
	response proxy.Response
	usage    *pricing.Usage
	status   int
	code     string
	message  string
	latency  time.Duration
}

type internalError struct {
	cause error
}

func (e *internalError) Error() string { return e.cause.Error() }

func (o *Orchestrator) attempt(ctx context.Context, acc account.Account, call Call) (res attemptResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &internalError{cause: fmt.Errorf("relay panic: %v", r)}
		}
	}()

	actx := ctx
	if o.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
		defer cancel()
	}

	start := o.clock.Now()
	var relayErr error
	if call.Sink != nil {
		res.usage, relayErr = o.relay.RelayStream(actx, acc, call.Request, call.Sink)
	} else {
		res.response, relayErr = o.relay.Relay(actx, acc, call.Request)
		res.usage = res.response.Usage
	}
	res.latency = o.clock.Now().Sub(start)
	platform := string(acc.Platform)

	if relayErr != nil {
		if call.Sink != nil && call.Sink.HeadersSent() {
			o.logger.Error().Err(relayErr).Str("account", acc.Ref().String()).
				Msg("stream failed after headers were sent, cannot retry")
			o.observe(platform, "terminal", res.latency)
			return res, relayErr
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.status, res.code, res.message = classify(relayErr, actx)
		o.observe(platform, "exception", res.latency)
		o.logger.Warn().Err(relayErr).Str("account", acc.Ref().String()).Msg("upstream attempt raised, trying next")
		o.maybeMarkUnauthorized(ctx, acc, res.status)
		return res, nil
	}

	if call.Sink != nil || retry.IsSuccess(res.response.Status) {
		res.ok = true
		res.status = res.response.Status
		o.observe(platform, "success", res.latency)
		return res, nil
	}

	res.status = res.response.Status
	res.code = proxy.ErrorCode(res.response.Body)
	if res.code == "" {
		res.code = retry.CodeUnknownError
	}
	res.message = proxy.ErrorMessage(res.response.Body)
	if res.message == "" {
		res.message = "Unknown error"
	}
	o.observe(platform, "upstream_error", res.latency)
	o.logger.Warn().Int("status", res.status).Str("account", acc.Ref().String()).Msg("upstream returned error, trying next")
	o.maybeMarkUnauthorized(ctx, acc, res.status)
	return res, nil
}

// classify turns a relay error into attempt fields.
func classify(err error, actx context.Context) (status int, code, message string) {
	message = err.Error()
	var ue *proxy.UpstreamError
	if errors.As(err, &ue) {
		code = ue.Code()
		if code == "" {
			code = retry.CodeUnknownError
		}
		return ue.Status, code, proxy.ErrorMessage(ue.Body)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
		return 0, retry.CodeTimeout, message
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) && coded.Code() != "" {
		return 0, coded.Code(), message
	}
	return 0, retry.CodeException, message
}

func (o *Orchestrator) succeeded(ctx context.Context, call Call, acc account.Account, res attemptResult) {
	if err := o.selector.MarkUsed(ctx, acc.Ref()); err != nil {
		o.logger.Warn().Err(err).Str("account", acc.Ref().String()).Msg("failed to mark account used")
	}
	if o.meter == nil || res.usage == nil {
		return
	}
	err := o.meter.Meter(ctx, Charge{
		Key:       call.Key,
		Account:   acc,
		Model:     call.Request.Model,
		Usage:     *res.usage,
		Streaming: call.Sink != nil,
		Status:    res.status,
		Latency:   res.latency,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("key_id", call.Key.ID).Msg("failed to meter usage")
	}
}

func (o *Orchestrator) maybeMarkUnauthorized(ctx context.Context, acc account.Account, status int) {
	if status != 401 && status != 403 {
		return
	}
	if !o.markUnauthorized.Load() {
		return
	}
	msg := fmt.Sprintf("upstream returned %d", status)
	if err := o.selector.MarkError(ctx, acc.Ref(), msg); err != nil {
		o.logger.Warn().Err(err).Str("account", acc.Ref().String()).Msg("failed to mark account error")
	}
}

func (o *Orchestrator) recoverable(ctx context.Context, key apikey.Record, a retry.Attempt, maxRounds int) {
	o.notify(ctx, webhook.Alert{
		APIKeyID:     key.ID,
		APIKeyName:   key.Name,
		AccountID:    a.Account.ID,
		AccountName:  a.Account.Name,
		AccountType:  string(a.Account.Platform),
		ErrorCode:    a.ErrorCode,
		StatusCode:   a.StatusCode,
		ErrorMessage: a.Message,
		Round:        a.Round + 1,
		MaxRounds:    maxRounds,
	})
}

func (o *Orchestrator) finalAlert(ctx context.Context, key apikey.Record, f *retry.Failure) {
	status := f.StatusCode
	if status == 0 {
		status = 503
	}
	o.notify(ctx, webhook.Alert{
		APIKeyID:     key.ID,
		APIKeyName:   key.Name,
		AccountID:    f.AccountID,
		AccountName:  f.AccountName,
		AccountType:  string(f.Platform),
		ErrorCode:    f.Code(),
		StatusCode:   status,
		ErrorMessage: f.Message,
		Round:        f.MaxRounds,
		MaxRounds:    f.MaxRounds,
		IsFinal:      true,
	})
}

// notify delivers an alert; failures are logged and swallowed.
func (o *Orchestrator) notify(ctx context.Context, a webhook.Alert) {
	if o.alerts == nil {
		return
	}
	if err := o.alerts.Notify(context.WithoutCancel(ctx), a); err != nil {
		o.logger.Error().Err(err).Str("key_id", a.APIKeyID).Str("code", a.ErrorCode).Msg("failed to send failure alert")
	}
}

func (o *Orchestrator) observe(platform, outcome string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.UpstreamAttempt(platform, outcome, d.Seconds())
	}
}

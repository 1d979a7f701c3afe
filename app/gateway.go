package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/domain/proxy"
	"github.com/artpar/poolgate/domain/retry"
	"github.com/artpar/poolgate/ports"
)

// Gateway serves relay requests: key validation, limit check, failover.
type Gateway struct {
	keys         *KeyService
	accountant   *Accountant
	orchestrator *Orchestrator
	logger       zerolog.Logger
}

// GatewayDeps contains dependencies for Gateway.
type GatewayDeps struct {
	Keys         *KeyService
	Accountant   *Accountant
	Orchestrator *Orchestrator
	Logger       zerolog.Logger
}

// NewGateway creates a new gateway.
func NewGateway(deps GatewayDeps) *Gateway {
	return &Gateway{
		keys:         deps.Keys,
		accountant:   deps.Accountant,
		orchestrator: deps.Orchestrator,
		logger:       deps.Logger,
	}
}

// ServeResult represents the outcome of serving a request.
type ServeResult struct {
	// Response is set for a served non-streaming request.
	Response proxy.Response

	// Error is the response to write when the request was not served.
	Error *proxy.ErrorResponse

	// Streamed means the sink already carries the full answer.
	Streamed bool

	// Aborted means nothing more may be written: the client went away or
	// a stream broke after its headers were sent.
	Aborted bool

	Key *apikey.Record
}

// Serve handles one relay request. sink is used only when req.Stream is set.
func (g *Gateway) Serve(ctx context.Context, req proxy.Request, sink ports.StreamSink) ServeResult {
	if req.APIKey == "" {
		return ServeResult{Error: &proxy.ErrMissingKey}
	}

	key, err := g.keys.Validate(ctx, req.APIKey)
	if err != nil {
		g.logger.Error().Err(err).Msg("key validation failed")
		return ServeResult{Error: &proxy.ErrInternal}
	}
	if key == nil {
		return ServeResult{Error: &proxy.ErrInvalidKey}
	}

	if req.Model == "" {
		return ServeResult{Error: &proxy.ErrBadRequest, Key: key}
	}

	check, err := g.accountant.CheckLimits(ctx, *key)
	if err != nil {
		// counters unavailable: serve rather than reject
		g.logger.Warn().Err(err).Str("key_id", key.ID).Msg("limit check failed")
	} else if !check.Allowed {
		e := proxy.ErrRateLimited
		e.Message = check.Reason
		return ServeResult{Error: &e, Key: key}
	}

	call := Call{Key: *key, Request: req}
	if req.Stream {
		call.Sink = sink
	}

	out, err := g.orchestrator.Execute(ctx, call)
	if err == nil {
		return ServeResult{Response: out.Response, Streamed: call.Sink != nil, Key: key}
	}

	var failure *retry.Failure
	switch {
	case errors.As(err, &failure):
		return ServeResult{Error: &proxy.ErrServiceUnavailable, Key: key}
	case errors.Is(err, ErrInternal):
		return ServeResult{Error: &proxy.ErrInternal, Key: key}
	case ctx.Err() != nil:
		return ServeResult{Aborted: true, Key: key}
	case call.Sink != nil && call.Sink.HeadersSent():
		return ServeResult{Aborted: true, Key: key}
	}

	g.logger.Error().Err(err).Str("key_id", key.ID).Msg("unexpected serve error")
	return ServeResult{Error: &proxy.ErrInternal, Key: key}
}

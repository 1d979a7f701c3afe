package app_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/clock"
	"github.com/artpar/poolgate/adapters/hasher"
	"github.com/artpar/poolgate/adapters/idgen"
	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/adapters/random"
	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/domain/pricing"
	"github.com/artpar/poolgate/domain/proxy"
	"github.com/artpar/poolgate/domain/ratelimit"
	"github.com/artpar/poolgate/domain/retry"
)

type gatewayFixture struct {
	gw       *app.Gateway
	keys     *app.KeyService
	acct     *app.Accountant
	relay    *scriptedRelay
	selector *scriptedSelector
}

func newGateway(rounds [][]account.Account, steps []relayStep) *gatewayFixture {
	clk := clock.NewFake(baseTime)
	f := &gatewayFixture{
		relay:    &scriptedRelay{steps: steps},
		selector: &scriptedSelector{rounds: rounds},
	}
	f.keys = app.NewKeyService(app.KeyDeps{
		Store:  memory.NewKeyStore(),
		Hasher: hasher.Fake{},
		Random: random.NewFake(),
		IDGen:  idgen.NewSequential("key-"),
		Clock:  clk,
		Logger: zerolog.Nop(),
	})
	f.acct = app.NewAccountant(app.AccountantDeps{
		Counters: memory.NewCounterStore(clk),
		Pricing:  testPricing(),
		UsageLog: memory.NewUsageLog(),
		IDGen:    idgen.NewSequential("usage-"),
		Clock:    clk,
		Logger:   zerolog.Nop(),
	})
	orch := app.NewOrchestrator(app.OrchestratorDeps{
		Selector: f.selector,
		Relay:    f.relay,
		Meter:    f.acct,
		Sleeper:  clk,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, app.OrchestratorConfig{Policy: retry.Policy{MaxRounds: 1}})
	f.gw = app.NewGateway(app.GatewayDeps{Keys: f.keys, Accountant: f.acct, Orchestrator: orch, Logger: zerolog.Nop()})
	return f
}

func (f *gatewayFixture) issue(t *testing.T, limits apikey.Limits) (apikey.Record, string) {
	t.Helper()
	rec, secret, err := f.keys.Create(context.Background(), apikey.CreateParams{OwnerID: "u1", Limits: limits})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return rec, secret
}

func TestGateway_Serve(t *testing.T) {
	ok := relayStep{resp: proxy.Response{Status: 200, Body: []byte(`{"id":"msg_1"}`), Usage: &pricing.Usage{InputTokens: 10, OutputTokens: 20}}}

	tests := []struct {
		name       string
		rounds     [][]account.Account
		steps      []relayStep
		apiKey     func(secret string) string
		model      string
		wantStatus int // 0 means served
	}{
		{"served", [][]account.Account{{testAccount("a", 1)}}, []relayStep{ok}, func(s string) string { return s }, "test-model", 0},
		{"missing key", nil, nil, func(string) string { return "" }, "test-model", 401},
		{"unknown key", nil, nil, func(string) string { return apikey.FormatSecret(make([]byte, apikey.SecretSize())) }, "test-model", 401},
		{"no model", nil, nil, func(s string) string { return s }, "", 400},
		{"no accounts", nil, nil, func(s string) string { return s }, "test-model", 503},
		{"upstream failing", [][]account.Account{{testAccount("a", 1)}}, nil, func(s string) string { return s }, "test-model", 503},
		{"relay panic", [][]account.Account{{testAccount("a", 1)}}, []relayStep{{panicWith: "boom"}}, func(s string) string { return s }, "test-model", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateway(tt.rounds, tt.steps)
			_, secret := f.issue(t, apikey.Limits{})

			res := f.gw.Serve(context.Background(), proxy.Request{APIKey: tt.apiKey(secret), Model: tt.model}, nil)

			if tt.wantStatus == 0 {
				if res.Error != nil {
					t.Fatalf("Serve() error = %+v", res.Error)
				}
				if res.Response.Status != 200 {
					t.Errorf("Response.Status = %d, want 200", res.Response.Status)
				}
				return
			}
			if res.Error == nil {
				t.Fatalf("Serve() error = nil, want %d", tt.wantStatus)
			}
			if res.Error.Status != tt.wantStatus {
				t.Errorf("Error.Status = %d, want %d", res.Error.Status, tt.wantStatus)
			}
		})
	}
}

func TestGateway_ChargesUsage(t *testing.T) {
	ctx := context.Background()
	ok := relayStep{resp: proxy.Response{Status: 200, Body: []byte(`{}`), Usage: &pricing.Usage{InputTokens: 10, OutputTokens: 20}}}
	f := newGateway([][]account.Account{{testAccount("a", 1)}}, []relayStep{ok})
	rec, secret := f.issue(t, apikey.Limits{})

	if res := f.gw.Serve(ctx, proxy.Request{APIKey: secret, Model: "test-model"}, nil); res.Error != nil {
		t.Fatalf("Serve() error = %+v", res.Error)
	}

	snap, _ := f.acct.Snapshot(ctx, rec.ID)
	if snap.Tokens != 30 {
		t.Errorf("Tokens = %d, want 30", snap.Tokens)
	}
}

func TestGateway_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newGateway([][]account.Account{{testAccount("a", 1)}}, nil)
	rec, secret := f.issue(t, apikey.Limits{TokenLimit: 100})

	_, _, _ = f.acct.UpdateCounters(ctx, ratelimit.InfoFor(rec.ID, 0), pricing.Usage{InputTokens: 100}, "test-model", false)

	res := f.gw.Serve(ctx, proxy.Request{APIKey: secret, Model: "test-model"}, nil)
	if res.Error == nil || res.Error.Status != 429 {
		t.Fatalf("Serve() error = %+v, want 429", res.Error)
	}
	if res.Error.Message != ratelimit.ReasonTokenLimit {
		t.Errorf("Message = %q, want %q", res.Error.Message, ratelimit.ReasonTokenLimit)
	}
	if calls := f.relay.Calls(); len(calls) != 0 {
		t.Errorf("relay calls = %v, want none", calls)
	}
}

func TestGateway_Streaming(t *testing.T) {
	ctx := context.Background()
	f := newGateway([][]account.Account{{testAccount("a", 1)}}, []relayStep{{usage: &pricing.Usage{OutputTokens: 4}}})
	_, secret := f.issue(t, apikey.Limits{})

	sink := &recordingSink{}
	res := f.gw.Serve(ctx, proxy.Request{APIKey: secret, Model: "test-model", Stream: true}, sink)
	if res.Error != nil || !res.Streamed {
		t.Fatalf("Serve() = %+v, want streamed", res)
	}
	if len(sink.body) == 0 {
		t.Error("sink received nothing")
	}
}

func TestGateway_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newGateway([][]account.Account{{testAccount("a", 1)}}, []relayStep{{block: true}})
	_, secret := f.issue(t, apikey.Limits{})

	done := make(chan app.ServeResult, 1)
	go func() { done <- f.gw.Serve(ctx, proxy.Request{APIKey: secret, Model: "test-model"}, nil) }()
	cancel()

	res := <-done
	if !res.Aborted || res.Error != nil {
		t.Errorf("Serve() = %+v, want aborted", res)
	}
}

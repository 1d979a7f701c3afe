package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/ports"
)

// Scheduler ranks the upstream accounts able to serve a request and is
// the only writer of account health.
type Scheduler struct {
	accounts ports.AccountStore
	catalog  account.Catalog
	clock    ports.Clock
	logger   zerolog.Logger
}

// SchedulerDeps contains dependencies for Scheduler.
type SchedulerDeps struct {
	Accounts ports.AccountStore
	Catalog  account.Catalog // nil uses account.DefaultCatalog()
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// NewScheduler creates a new scheduler.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	catalog := deps.Catalog
	if catalog == nil {
		catalog = account.DefaultCatalog()
	}
	return &Scheduler{
		accounts: deps.Accounts,
		catalog:  catalog,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
}

// SelectAccounts returns the eligible accounts for key and model, best
// first. Nothing qualifying, and store failures, yield an empty list.
func (s *Scheduler) SelectAccounts(ctx context.Context, key apikey.Record, model string, streaming bool) []account.Account {
	all, err := s.accounts.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("key_id", key.ID).Msg("failed to list accounts")
		return []account.Account{}
	}

	selected := account.Select(all, account.Request{
		Model:            model,
		Streaming:        streaming,
		AllowedPlatforms: key.AllowedPlatforms,
		AccountTags:      key.AccountTags,
	}, s.catalog)

	s.logger.Debug().
		Str("key_id", key.ID).
		Str("model", model).
		Int("candidates", len(all)).
		Int("selected", len(selected)).
		Msg("accounts selected")
	return selected
}

// MarkUsed stamps the account for least-recently-used ordering.
func (s *Scheduler) MarkUsed(ctx context.Context, ref account.Ref) error {
	return s.accounts.MarkUsed(ctx, ref, s.clock.Now())
}

// MarkError takes the account out of rotation.
func (s *Scheduler) MarkError(ctx context.Context, ref account.Ref, message string) error {
	if err := s.accounts.MarkError(ctx, ref, message, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Warn().Str("account", ref.String()).Str("reason", message).Msg("account marked error")
	return nil
}

// SetSchedulable toggles rotation without changing status.
func (s *Scheduler) SetSchedulable(ctx context.Context, ref account.Ref, schedulable bool) error {
	return s.accounts.SetSchedulable(ctx, ref, schedulable)
}

// Account returns one account.
func (s *Scheduler) Account(ctx context.Context, ref account.Ref) (account.Account, error) {
	return s.accounts.Get(ctx, ref)
}

// Catalog returns the model catalog in use.
func (s *Scheduler) Catalog() account.Catalog {
	return s.catalog
}

// Accounts returns the whole pool.
func (s *Scheduler) Accounts(ctx context.Context) ([]account.Account, error) {
	return s.accounts.List(ctx)
}

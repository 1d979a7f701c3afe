package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/clock"
	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/adapters/redis"
	"github.com/artpar/poolgate/adapters/sqldb"
	"github.com/artpar/poolgate/config"
	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/ports"
)

// Stores bundles the persistence ports. Redis backs keys, accounts and
// counters when configured; the usage log goes to SQL when a driver is set.
// Without either everything lives in process memory.
type Stores struct {
	Keys     ports.KeyStore
	Accounts ports.AccountStore
	Counters ports.CounterStore
	UsageLog ports.UsageLog

	Redis *redis.Client // nil in memory mode
	DB    *sqldb.DB     // nil without database.driver
}

// OpenStores connects the configured backends.
func OpenStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Stores, error) {
	s := &Stores{}

	if cfg.Redis.URL != "" {
		rc, err := redis.New(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		s.Redis = rc
		s.Keys = redis.NewKeyStore(rc)
		s.Accounts = redis.NewAccountStore(rc)
		s.Counters = redis.NewCounterStore(rc)
		logger.Info().Msg("redis state store connected")
	} else {
		s.Keys = memory.NewKeyStore()
		s.Accounts = memory.NewAccountStore()
		s.Counters = memory.NewCounterStore(clock.Real{})
		logger.Warn().Msg("redis.url not set, state is kept in memory and lost on restart")
	}

	if cfg.Database.Driver != "" {
		db, err := sqldb.Open(ctx, sqldb.Config{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.DB = db
		s.UsageLog = sqldb.NewUsageLog(db)
		logger.Info().Str("driver", db.Driver()).Msg("usage log database initialized")
	} else {
		s.UsageLog = memory.NewUsageLog()
	}

	return s, nil
}

// Close releases the backend connections.
func (s *Stores) Close() error {
	var errs []error
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}

// SeedAccounts saves the configured accounts. Runtime state of accounts
// already in the store (status, schedulable flag, last use and error) is
// preserved; static fields come from the config.
func SeedAccounts(ctx context.Context, store ports.AccountStore, accounts []config.AccountConfig) (int, error) {
	for _, ac := range accounts {
		acc := AccountFromConfig(ac)
		existing, err := store.Get(ctx, acc.Ref())
		switch {
		case err == nil:
			acc.Status = existing.Status
			acc.Schedulable = existing.Schedulable
			acc.LastError = existing.LastError
			acc.ErrorMessage = existing.ErrorMessage
			acc.LastUsedAt = existing.LastUsedAt
		case !errors.Is(err, ports.ErrAccountNotFound):
			return 0, fmt.Errorf("load account %s: %w", acc.Ref(), err)
		}
		if err := store.Save(ctx, acc); err != nil {
			return 0, fmt.Errorf("save account %s: %w", acc.Ref(), err)
		}
	}
	return len(accounts), nil
}

// AccountFromConfig builds an active, schedulable account.
func AccountFromConfig(ac config.AccountConfig) account.Account {
	streaming := true
	if ac.SupportsStreaming != nil {
		streaming = *ac.SupportsStreaming
	}
	name := ac.Name
	if name == "" {
		name = ac.ID
	}
	return account.Account{
		ID:                ac.ID,
		Platform:          account.Platform(ac.Platform),
		Name:              name,
		Priority:          ac.Priority,
		Status:            account.StatusActive,
		Schedulable:       true,
		SupportedModels:   ac.SupportedModels,
		Tags:              ac.Tags,
		SupportsStreaming: streaming,
		ConcurrencyLimit:  ac.ConcurrencyLimit,
		BaseURL:           ac.BaseURL,
		Credential:        ac.Credential,
	}
}

// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/ports"
)

// KeyService owns the API key lifecycle and the secret hash index.
type KeyService struct {
	store  ports.KeyStore
	hasher ports.SecretHasher
	random ports.Random
	idGen  ports.IDGenerator
	clock  ports.Clock
	logger zerolog.Logger
}

// KeyDeps contains dependencies for KeyService.
type KeyDeps struct {
	Store  ports.KeyStore
	Hasher ports.SecretHasher
	Random ports.Random
	IDGen  ports.IDGenerator
	Clock  ports.Clock
	Logger zerolog.Logger
}

// NewKeyService creates a new key service.
func NewKeyService(deps KeyDeps) *KeyService {
	return &KeyService{
		store:  deps.Store,
		hasher: deps.Hasher,
		random: deps.Random,
		idGen:  deps.IDGen,
		clock:  deps.Clock,
		logger: deps.Logger,
	}
}

// Create issues a new key. The plaintext secret is returned once and
// never stored.
func (s *KeyService) Create(ctx context.Context, p apikey.CreateParams) (apikey.Record, string, error) {
	if err := p.Validate(account.IsPlatform); err != nil {
		return apikey.Record{}, "", err
	}

	secret, err := s.newSecret()
	if err != nil {
		return apikey.Record{}, "", err
	}

	rec := apikey.NewRecord(s.idGen.New(), s.hasher.Hash(secret), p, s.clock.Now())
	if err := s.store.Create(ctx, rec); err != nil {
		return apikey.Record{}, "", fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info().Str("key_id", rec.ID).Str("owner_id", rec.OwnerID).Msg("api key created")
	return rec, secret, nil
}

// Validate resolves a presented secret to a usable record.
// Unknown, deleted and inactive keys yield (nil, nil). Index entries
// pointing at missing or deleted records are removed on the way.
func (s *KeyService) Validate(ctx context.Context, secret string) (*apikey.Record, error) {
	if !apikey.LooksLikeSecret(secret) {
		return nil, nil
	}

	hash := s.hasher.Hash(secret)
	id, ok, err := s.store.Lookup(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if !ok {
		return nil, nil
	}

	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, apikey.ErrNotFound) || (err == nil && rec.IsDeleted) {
		s.removeStale(ctx, hash, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load api key: %w", err)
	}
	if !rec.Usable() {
		return nil, nil
	}
	return &rec, nil
}

func (s *KeyService) removeStale(ctx context.Context, hash, id string) {
	removed, err := s.store.RemoveStaleEntry(ctx, hash, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("key_id", id).Msg("failed to remove stale hash entry")
		return
	}
	if removed {
		s.logger.Warn().Str("key_id", id).Msg("removed stale hash entry")
	}
}

// Regenerate replaces the secret of a key. The old secret stops working
// in the same store transaction that makes the new one valid. The change
// is applied to the record as stored at commit time, so a concurrent
// soft delete is kept and the new secret stays unindexed.
func (s *KeyService) Regenerate(ctx context.Context, id string) (apikey.Record, string, error) {
	secret, err := s.newSecret()
	if err != nil {
		return apikey.Record{}, "", err
	}
	hash := s.hasher.Hash(secret)
	now := s.clock.Now()

	rec, err := s.store.Mutate(ctx, id, func(r apikey.Record) (apikey.Record, bool) {
		return r.Rotated(hash, now), true
	})
	if err != nil {
		return apikey.Record{}, "", storeErr("rotate api key", err)
	}

	s.logger.Info().Str("key_id", id).Bool("deleted", rec.IsDeleted).Msg("api key regenerated")
	return rec, secret, nil
}

// SoftDelete marks a key deleted and drops its index entry.
// Deleting a deleted key writes nothing.
func (s *KeyService) SoftDelete(ctx context.Context, id string, by apikey.Actor) (apikey.Record, error) {
	now := s.clock.Now()
	changed := false
	rec, err := s.store.Mutate(ctx, id, func(r apikey.Record) (apikey.Record, bool) {
		changed = !r.IsDeleted
		if !changed {
			return r, false
		}
		return r.SoftDeleted(by, now), true
	})
	if err != nil {
		return apikey.Record{}, storeErr("soft delete api key", err)
	}

	if changed {
		s.logger.Info().Str("key_id", id).Str("by", by.ID).Msg("api key deleted")
	}
	return rec, nil
}

// Restore reverses a soft delete and re-adds the index entry.
func (s *KeyService) Restore(ctx context.Context, id string, by apikey.Actor) (apikey.Record, error) {
	now := s.clock.Now()
	changed := false
	rec, err := s.store.Mutate(ctx, id, func(r apikey.Record) (apikey.Record, bool) {
		changed = r.IsDeleted
		if !changed {
			return r, false
		}
		return r.Restored(by, now), true
	})
	if err != nil {
		return apikey.Record{}, storeErr("restore api key", err)
	}

	if changed {
		s.logger.Info().Str("key_id", id).Str("by", by.ID).Msg("api key restored")
	}
	return rec, nil
}

// HardDelete removes a key and its index entry. Missing keys are a no-op.
func (s *KeyService) HardDelete(ctx context.Context, id string, by apikey.Actor) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	s.logger.Info().Str("key_id", id).Str("by", by.ID).Msg("api key purged")
	return nil
}

// Get returns a key by id.
func (s *KeyService) Get(ctx context.Context, id string) (apikey.Record, error) {
	return s.store.Get(ctx, id)
}

// List returns every key, deleted ones included.
func (s *KeyService) List(ctx context.Context) ([]apikey.Record, error) {
	return s.store.List(ctx)
}

// ListByTag returns the keys carrying tag.
func (s *KeyService) ListByTag(ctx context.Context, tag string) ([]apikey.Record, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]apikey.Record, 0, len(all))
	for _, r := range all {
		if r.HasTag(tag) {
			out = append(out, r)
		}
	}
	return out, nil
}

// SetActive enables or disables a key. Inactive keys keep their index entry.
func (s *KeyService) SetActive(ctx context.Context, id string, active bool) (apikey.Record, error) {
	now := s.clock.Now()
	rec, err := s.store.Mutate(ctx, id, func(r apikey.Record) (apikey.Record, bool) {
		r.IsActive = active
		r.UpdatedAt = now
		return r, true
	})
	if err != nil {
		return apikey.Record{}, storeErr("update api key", err)
	}
	return rec, nil
}

// storeErr passes ErrNotFound through untouched and wraps the rest.
func storeErr(op string, err error) error {
	if errors.Is(err, apikey.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *KeyService) newSecret() (string, error) {
	b, err := s.random.Bytes(apikey.SecretSize())
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return apikey.FormatSecret(b), nil
}

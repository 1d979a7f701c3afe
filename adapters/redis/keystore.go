package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/ports"
)

const (
	keyPrefix  = "apikey:"
	hashMapKey = "apikey:hash_map"
)

func recordKey(id string) string { return keyPrefix + id }

// removeIfStale drops an index entry still pointing at ARGV[2] when the
// record is missing or soft deleted.
var removeIfStale = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
if redis.call('EXISTS', KEYS[2]) == 1 and redis.call('HGET', KEYS[2], 'isDeleted') ~= 'true' then
  return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

// removeIfPointing drops an index entry only while it maps to ARGV[2].
var removeIfPointing = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

// KeyStore implements ports.KeyStore.
// Records are hashes at apikey:{id}; the reverse index is the
// apikey:hash_map hash. Multi-key writes run in WATCH/MULTI/EXEC.
type KeyStore struct {
	c *Client
}

// NewKeyStore creates a key store on c.
func NewKeyStore(c *Client) *KeyStore {
	return &KeyStore{c: c}
}

// Create writes the record and its index entry atomically.
func (s *KeyStore) Create(ctx context.Context, rec apikey.Record) error {
	rk := recordKey(rec.ID)
	err := s.c.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, rk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("api key %s already exists", rec.ID)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, rk, encodeRecord(rec))
			if rec.Indexed() && rec.SecretHash != "" {
				p.HSet(ctx, hashMapKey, rec.SecretHash, rec.ID)
			}
			return nil
		})
		return err
	}, rk)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// Get returns the record or apikey.ErrNotFound.
func (s *KeyStore) Get(ctx context.Context, id string) (apikey.Record, error) {
	h, err := s.c.rdb.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return apikey.Record{}, fmt.Errorf("get api key: %w", err)
	}
	if len(h) == 0 {
		return apikey.Record{}, apikey.ErrNotFound
	}
	return decodeRecord(h), nil
}

// Lookup resolves a secret hash through apikey:hash_map.
func (s *KeyStore) Lookup(ctx context.Context, secretHash string) (string, bool, error) {
	id, err := s.c.rdb.HGet(ctx, hashMapKey, secretHash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup api key: %w", err)
	}
	return id, true, nil
}

// Mutate re-reads the record under WATCH, applies change and writes the
// result together with the index move in one MULTI/EXEC. A concurrent
// write to the record aborts the transaction and change runs again on
// the fresh copy.
func (s *KeyStore) Mutate(ctx context.Context, id string, change func(apikey.Record) (apikey.Record, bool)) (apikey.Record, error) {
	rk := recordKey(id)
	var out apikey.Record
	err := s.c.watch(ctx, func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, rk).Result()
		if err != nil {
			return err
		}
		if len(h) == 0 {
			return apikey.ErrNotFound
		}
		cur := decodeRecord(h)
		next, write := change(cur)
		if !write {
			out = cur
			return nil
		}
		next.ID = id
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, rk, encodeRecord(next))
			if cur.SecretHash != "" && (cur.SecretHash != next.SecretHash || !next.Indexed()) {
				p.HDel(ctx, hashMapKey, cur.SecretHash)
			}
			if next.Indexed() && next.SecretHash != "" {
				p.HSet(ctx, hashMapKey, next.SecretHash, id)
			}
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}, rk)
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			return apikey.Record{}, err
		}
		return apikey.Record{}, fmt.Errorf("mutate api key: %w", err)
	}
	return out, nil
}

// Delete removes the record and its index entry.
func (s *KeyStore) Delete(ctx context.Context, id string) error {
	rk := recordKey(id)
	return s.c.watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.HGet(ctx, rk, fieldSecretHash).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		owner, err := tx.HGet(ctx, hashMapKey, stored).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, rk)
			if owner == id {
				p.HDel(ctx, hashMapKey, stored)
			}
			return nil
		})
		return err
	}, rk, hashMapKey)
}

// RemoveStaleEntry conditionally drops an entry in one script call.
func (s *KeyStore) RemoveStaleEntry(ctx context.Context, secretHash, id string) (bool, error) {
	n, err := removeIfStale.Run(ctx, s.c.rdb, []string{hashMapKey, recordKey(id)}, secretHash, id).Int()
	if err != nil {
		return false, fmt.Errorf("remove stale entry: %w", err)
	}
	return n == 1, nil
}

// List scans apikey:* and returns every record.
func (s *KeyStore) List(ctx context.Context) ([]apikey.Record, error) {
	var keys []string
	iter := s.c.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if k == hashMapKey || strings.Contains(strings.TrimPrefix(k, keyPrefix), ":") {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan api keys: %w", err)
	}

	cmds := make([]*redis.StringStringMapCmd, len(keys))
	_, err := s.c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}

	out := make([]apikey.Record, 0, len(keys))
	for _, cmd := range cmds {
		if h := cmd.Val(); len(h) > 0 {
			out = append(out, decodeRecord(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// IndexEntries returns the whole hash map.
func (s *KeyStore) IndexEntries(ctx context.Context) (map[string]string, error) {
	m, err := s.c.rdb.HGetAll(ctx, hashMapKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read hash map: %w", err)
	}
	return m, nil
}

// SetIndexEntry writes one entry.
func (s *KeyStore) SetIndexEntry(ctx context.Context, secretHash, id string) error {
	return s.c.rdb.HSet(ctx, hashMapKey, secretHash, id).Err()
}

// RemoveIndexEntry drops one entry if it still maps to id.
func (s *KeyStore) RemoveIndexEntry(ctx context.Context, secretHash, id string) (bool, error) {
	n, err := removeIfPointing.Run(ctx, s.c.rdb, []string{hashMapKey}, secretHash, id).Int()
	if err != nil {
		return false, fmt.Errorf("remove index entry: %w", err)
	}
	return n == 1, nil
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)

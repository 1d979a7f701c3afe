package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/ports"
)

func accountKey(ref account.Ref) string {
	return "account:" + string(ref.Platform) + ":" + ref.ID
}

func platformSetKey(p account.Platform) string {
	return "accounts:" + string(p)
}

// setIfExists writes hash fields only when the hash already exists.
var setIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// AccountStore implements ports.AccountStore over account:{platform}:{id}
// hashes and one accounts:{platform} membership set per platform.
type AccountStore struct {
	c *Client
}

// NewAccountStore creates an account store on c.
func NewAccountStore(c *Client) *AccountStore {
	return &AccountStore{c: c}
}

// List loads every account of every platform.
func (s *AccountStore) List(ctx context.Context) ([]account.Account, error) {
	var cmds []*redis.StringStringMapCmd
	for _, p := range account.Platforms() {
		ids, err := s.c.rdb.SMembers(ctx, platformSetKey(p)).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s accounts: %w", p, err)
		}
		if len(ids) == 0 {
			continue
		}
		_, err = s.c.rdb.Pipelined(ctx, func(pl redis.Pipeliner) error {
			for _, id := range ids {
				cmds = append(cmds, pl.HGetAll(ctx, accountKey(account.Ref{Platform: p, ID: id})))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load %s accounts: %w", p, err)
		}
	}

	out := make([]account.Account, 0, len(cmds))
	for _, cmd := range cmds {
		// set members whose hash is gone are skipped
		if h := cmd.Val(); len(h) > 0 {
			out = append(out, decodeAccount(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get loads one account.
func (s *AccountStore) Get(ctx context.Context, ref account.Ref) (account.Account, error) {
	h, err := s.c.rdb.HGetAll(ctx, accountKey(ref)).Result()
	if err != nil {
		return account.Account{}, fmt.Errorf("get account %s: %w", ref, err)
	}
	if len(h) == 0 {
		return account.Account{}, ports.ErrAccountNotFound
	}
	return decodeAccount(h), nil
}

// Save writes the account hash and its set membership.
func (s *AccountStore) Save(ctx context.Context, acc account.Account) error {
	_, err := s.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, accountKey(acc.Ref()), encodeAccount(acc))
		p.SAdd(ctx, platformSetKey(acc.Platform), acc.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save account %s: %w", acc.Ref(), err)
	}
	return nil
}

// MarkUsed stamps lastUsedAt.
func (s *AccountStore) MarkUsed(ctx context.Context, ref account.Ref, at time.Time) error {
	return s.setFields(ctx, ref, "lastUsedAt", formatTime(at))
}

// MarkError takes the account out of rotation.
func (s *AccountStore) MarkError(ctx context.Context, ref account.Ref, message string, at time.Time) error {
	marked := account.Account{}.MarkedError(message, at)
	return s.setFields(ctx, ref,
		"status", string(marked.Status),
		"schedulable", formatBool(marked.Schedulable),
		"lastError", marked.LastError,
		"errorMessage", marked.ErrorMessage,
	)
}

// SetSchedulable toggles rotation.
func (s *AccountStore) SetSchedulable(ctx context.Context, ref account.Ref, schedulable bool) error {
	return s.setFields(ctx, ref, "schedulable", formatBool(schedulable))
}

func (s *AccountStore) setFields(ctx context.Context, ref account.Ref, fieldValues ...interface{}) error {
	n, err := setIfExists.Run(ctx, s.c.rdb, []string{accountKey(ref)}, fieldValues...).Int()
	if err != nil {
		return fmt.Errorf("update account %s: %w", ref, err)
	}
	if n == 0 {
		return ports.ErrAccountNotFound
	}
	return nil
}

// Ensure interface compliance.
var _ ports.AccountStore = (*AccountStore)(nil)

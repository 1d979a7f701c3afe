package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/ports"
)

// AccountStore is an in-memory implementation of ports.AccountStore.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[account.Ref]account.Account
}

// NewAccountStore creates a store seeded with accounts.
func NewAccountStore(accounts ...account.Account) *AccountStore {
	s := &AccountStore{accounts: make(map[account.Ref]account.Account)}
	for _, a := range accounts {
		s.accounts[a.Ref()] = cloneAccount(a)
	}
	return s
}

// List returns every account ordered by platform then id.
func (s *AccountStore) List(ctx context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns one account or ports.ErrAccountNotFound.
func (s *AccountStore) Get(ctx context.Context, ref account.Ref) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[ref]
	if !ok {
		return account.Account{}, ports.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

// Save creates or replaces an account.
func (s *AccountStore) Save(ctx context.Context, acc account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acc.Ref()] = cloneAccount(acc)
	return nil
}

// Remove deletes an account (for testing orphan sweeps).
func (s *AccountStore) Remove(ref account.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, ref)
}

// MarkUsed stamps LastUsedAt.
func (s *AccountStore) MarkUsed(ctx context.Context, ref account.Ref, at time.Time) error {
	return s.modify(ref, func(a *account.Account) {
		a.LastUsedAt = at
	})
}

// MarkError takes the account out of rotation.
func (s *AccountStore) MarkError(ctx context.Context, ref account.Ref, message string, at time.Time) error {
	return s.modify(ref, func(a *account.Account) {
		*a = a.MarkedError(message, at)
	})
}

// SetSchedulable toggles rotation.
func (s *AccountStore) SetSchedulable(ctx context.Context, ref account.Ref, schedulable bool) error {
	return s.modify(ref, func(a *account.Account) {
		a.Schedulable = schedulable
	})
}

func (s *AccountStore) modify(ref account.Ref, fn func(*account.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[ref]
	if !ok {
		return ports.ErrAccountNotFound
	}
	fn(&a)
	s.accounts[ref] = a
	return nil
}

func cloneAccount(a account.Account) account.Account {
	a.SupportedModels = cloneStrings(a.SupportedModels)
	a.Tags = cloneStrings(a.Tags)
	return a
}

// Ensure interface compliance.
var _ ports.AccountStore = (*AccountStore)(nil)

package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/poolgate/ports"
)

type counterEntry struct {
	value   string
	expires time.Time // zero means persistent
}

// CounterStore is an in-memory implementation of ports.CounterStore.
// Expiry is evaluated lazily against the injected clock, so tests can
// move a fake clock past a TTL.
type CounterStore struct {
	mu      sync.Mutex
	clock   ports.Clock
	entries map[string]counterEntry
}

// NewCounterStore creates a counter store using clock for TTLs.
func NewCounterStore(clock ports.Clock) *CounterStore {
	return &CounterStore{
		clock:   clock,
		entries: make(map[string]counterEntry),
	}
}

// IncrBy adds n to an integer counter, creating it at zero.
func (s *CounterStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return s.incrBy(key, n, 0)
}

// IncrByExpire adds n and gives a persistent key the ttl.
func (s *CounterStore) IncrByExpire(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	return s.incrBy(key, n, ttl)
}

// IncrByFloat adds v to a float counter, creating it at zero.
func (s *CounterStore) IncrByFloat(ctx context.Context, key string, v float64) (float64, error) {
	return s.incrByFloat(key, v, 0)
}

// IncrByFloatExpire adds v and gives a persistent key the ttl.
func (s *CounterStore) IncrByFloatExpire(ctx context.Context, key string, v float64, ttl time.Duration) (float64, error) {
	return s.incrByFloat(key, v, ttl)
}

func (s *CounterStore) incrBy(key string, n int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.liveLocked(key)
	cur := int64(0)
	if e.value != "" {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer", key)
		}
		cur = v
	}
	cur += n
	e.value = strconv.FormatInt(cur, 10)
	s.entries[key] = s.expireLocked(e, ttl)
	return cur, nil
}

func (s *CounterStore) incrByFloat(key string, v float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.liveLocked(key)
	cur := 0.0
	if e.value != "" {
		f, err := strconv.ParseFloat(e.value, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not a float", key)
		}
		cur = f
	}
	cur += v
	e.value = strconv.FormatFloat(cur, 'f', -1, 64)
	s.entries[key] = s.expireLocked(e, ttl)
	return cur, nil
}

// expireLocked sets ttl on an entry that has no expiry yet.
func (s *CounterStore) expireLocked(e counterEntry, ttl time.Duration) counterEntry {
	if ttl > 0 && e.expires.IsZero() {
		e.expires = s.clock.Now().Add(ttl)
	}
	return e
}

// SetNX sets key only if absent (or expired).
func (s *CounterStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveLocked(key); ok {
		return false, nil
	}
	s.entries[key] = s.entry(value, ttl)
	return true, nil
}

// Set writes key unconditionally.
func (s *CounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = s.entry(value, ttl)
	return nil
}

// Get returns the live value of key.
func (s *CounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	return e.value, ok, nil
}

// TTL returns the remaining lifetime of key.
func (s *CounterStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	if !ok || e.expires.IsZero() {
		return 0, false, nil
	}
	return e.expires.Sub(s.clock.Now()), true, nil
}

// Scan returns live keys matching a glob pattern, sorted.
func (s *CounterStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.entries {
		if _, ok := s.liveLocked(k); !ok {
			continue
		}
		matched, err := path.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", pattern, err)
		}
		if matched {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Del removes keys and reports how many were live.
func (s *CounterStore) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, k := range keys {
		if _, ok := s.liveLocked(k); ok {
			n++
		}
		delete(s.entries, k)
	}
	return n, nil
}

func (s *CounterStore) entry(value string, ttl time.Duration) counterEntry {
	e := counterEntry{value: value}
	if ttl > 0 {
		e.expires = s.clock.Now().Add(ttl)
	}
	return e
}

// liveLocked returns the entry, evicting it if expired.
func (s *CounterStore) liveLocked(key string) (counterEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return counterEntry{}, false
	}
	if !e.expires.IsZero() && !s.clock.Now().Before(e.expires) {
		delete(s.entries, key)
		return counterEntry{}, false
	}
	return e, true
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)

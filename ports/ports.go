// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/domain/pricing"
	"github.com/artpar/poolgate/domain/proxy"
	"github.com/artpar/poolgate/domain/usage"
	"github.com/artpar/poolgate/domain/webhook"
)

// ErrAccountNotFound is returned by AccountStore lookups for unknown refs.
var ErrAccountNotFound = errors.New("account not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Sleeper waits for a duration or until ctx is done.
// It returns ctx.Err() when interrupted.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// SecretHasher derives the reverse-index key of a client secret.
// The result must be deterministic for a given secret.
type SecretHasher interface {
	Hash(secret string) string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// KeyStore persists API key records and the secretHash -> id reverse index.
//
// Every mutating method is atomic with respect to other callers: after it
// returns, observers see either all or none of its writes, and no id is
// ever referenced by two index entries.
type KeyStore interface {
	// Create stores the record and, if it is indexed, its index entry.
	Create(ctx context.Context, rec apikey.Record) error

	// Get returns the record or apikey.ErrNotFound.
	Get(ctx context.Context, id string) (apikey.Record, error)

	// Lookup returns the id the index maps secretHash to.
	Lookup(ctx context.Context, secretHash string) (id string, ok bool, err error)

	// Mutate re-reads the record inside one transaction, passes it to
	// change and writes the result. change returns false to skip the
	// write; it may run more than once and must not have side effects.
	// After the write the record owns exactly one entry, for its
	// SecretHash, when it is indexed and none otherwise.
	// Returns the stored record, or apikey.ErrNotFound.
	Mutate(ctx context.Context, id string, change func(apikey.Record) (apikey.Record, bool)) (apikey.Record, error)

	// Delete removes the record and every entry pointing at id.
	Delete(ctx context.Context, id string) error

	// RemoveStaleEntry deletes the entry for secretHash only if it still
	// points at id and the record is missing or deleted.
	RemoveStaleEntry(ctx context.Context, secretHash, id string) (bool, error)

	// List returns every record, deleted ones included.
	List(ctx context.Context) ([]apikey.Record, error)

	// IndexEntries returns a snapshot of the reverse index.
	IndexEntries(ctx context.Context) (map[string]string, error)

	// SetIndexEntry writes one index entry (index rebuild).
	SetIndexEntry(ctx context.Context, secretHash, id string) error

	// RemoveIndexEntry deletes one index entry if it still points at id.
	RemoveIndexEntry(ctx context.Context, secretHash, id string) (bool, error)
}

// AccountStore persists the upstream account pool.
type AccountStore interface {
	// List returns every account of every platform.
	List(ctx context.Context) ([]account.Account, error)

	// Get returns one account or ErrAccountNotFound.
	Get(ctx context.Context, ref account.Ref) (account.Account, error)

	// Save creates or replaces an account.
	Save(ctx context.Context, acc account.Account) error

	// MarkUsed stamps the last-used time used for tie-breaking.
	MarkUsed(ctx context.Context, ref account.Ref, at time.Time) error

	// MarkError takes an account out of rotation.
	MarkError(ctx context.Context, ref account.Ref, message string, at time.Time) error

	// SetSchedulable toggles rotation without changing status.
	SetSchedulable(ctx context.Context, ref account.Ref, schedulable bool) error
}

// CounterStore is the atomic counter substrate shared by every instance.
type CounterStore interface {
	// IncrBy atomically adds n to an integer counter.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// IncrByFloat atomically adds v to a float counter.
	IncrByFloat(ctx context.Context, key string, v float64) (float64, error)

	// IncrByExpire adds n and, if the key has no expiry yet, sets ttl,
	// in one atomic step.
	IncrByExpire(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)

	// IncrByFloatExpire is IncrByExpire for float counters.
	IncrByFloatExpire(ctx context.Context, key string, v float64, ttl time.Duration) (float64, error)

	// SetNX sets key to value with ttl only if key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally sets key to value with ttl (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value of key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// TTL returns the remaining lifetime; ok is false for absent or persistent keys.
	TTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)

	// Scan returns every key matching a glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
}

// UsageLog persists per-request usage records.
type UsageLog interface {
	// Record appends a usage record.
	Record(ctx context.Context, r usage.Record) error

	// Query returns records of a key in [start, end).
	Query(ctx context.Context, keyID string, start, end time.Time) ([]usage.Record, error)
}

// -----------------------------------------------------------------------------
// Collaborator Ports
// -----------------------------------------------------------------------------

// PricingSource resolves model prices.
type PricingSource interface {
	Resolve(model string) pricing.Match
}

// StreamSink receives a streaming upstream response.
type StreamSink interface {
	// WriteHeader commits status and headers to the client.
	WriteHeader(status int, headers map[string]string)

	// Write forwards body bytes; it commits headers if not yet sent.
	Write(p []byte) (int, error)

	// Flush pushes buffered bytes to the client.
	Flush()

	// HeadersSent reports whether anything reached the client.
	HeadersSent() bool
}

// Relay calls an upstream provider with a chosen account.
type Relay interface {
	// Relay performs a buffered call. Non-2xx statuses are returned in the
	// response, not as errors.
	Relay(ctx context.Context, acc account.Account, req proxy.Request) (proxy.Response, error)

	// RelayStream streams the upstream response into sink. An error after
	// sink.HeadersSent() is terminal for the request.
	RelayStream(ctx context.Context, acc account.Account, req proxy.Request, sink StreamSink) (*pricing.Usage, error)
}

// HealthChecker is an optional Relay capability for probing an account.
type HealthChecker interface {
	CheckAccount(ctx context.Context, acc account.Account) error
}

// AlertNotifier delivers request-failure alerts.
type AlertNotifier interface {
	Notify(ctx context.Context, alert webhook.Alert) error
}

// Metrics records request-serving outcomes. adapters/metrics provides the
// Prometheus implementation; metrics.Nop discards everything.
type Metrics interface {
	// UpstreamAttempt counts one relay call by platform and outcome
	// ("success", "upstream_error", "exception", "terminal").
	UpstreamAttempt(platform, outcome string, seconds float64)

	// RequestFailed counts a request that ended in a retry failure.
	// reason is a failure kind from a closed set, never an upstream code.
	RequestFailed(reason string)

	// AlertSent counts a delivered or throttled failure alert.
	AlertSent(final, throttled bool)

	// UsageCharged records metered tokens and cost.
	UsageCharged(platform, model string, tokens int64, cost float64)
}

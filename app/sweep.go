package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/ports"
)

// Sweeper reconciles the hash index and per-account counters with the
// records they reference.
type Sweeper struct {
	keys     ports.KeyStore
	accounts ports.AccountStore
	counters ports.CounterStore
	logger   zerolog.Logger
}

// SweepDeps contains dependencies for Sweeper.
type SweepDeps struct {
	Keys     ports.KeyStore
	Accounts ports.AccountStore
	Counters ports.CounterStore
	Logger   zerolog.Logger
}

// NewSweeper creates a new sweeper.
func NewSweeper(deps SweepDeps) *Sweeper {
	return &Sweeper{
		keys:     deps.Keys,
		accounts: deps.Accounts,
		counters: deps.Counters,
		logger:   deps.Logger,
	}
}

// IndexEntry is one secretHash -> id mapping.
type IndexEntry struct {
	Hash  string `json:"hash"`
	KeyID string `json:"keyId"`
}

// IndexReport classifies every index entry.
type IndexReport struct {
	DryRun     bool         `json:"dryRun"`
	Total      int          `json:"total"`
	Valid      int          `json:"valid"`
	Orphaned   []IndexEntry `json:"orphaned"`   // record missing
	Mismatched []IndexEntry `json:"mismatched"` // record carries another hash
	Deleted    []IndexEntry `json:"deleted"`    // record soft deleted
	Removed    int          `json:"removed"`
}

// Invalid returns how many entries should not exist.
func (r IndexReport) Invalid() int {
	return len(r.Orphaned) + len(r.Mismatched) + len(r.Deleted)
}

// SweepIndex scans the hash index. Unless dryRun is set, every invalid
// entry is removed, each only if it still points at the same id.
func (s *Sweeper) SweepIndex(ctx context.Context, dryRun bool) (IndexReport, error) {
	entries, err := s.keys.IndexEntries(ctx)
	if err != nil {
		return IndexReport{}, fmt.Errorf("read index: %w", err)
	}

	report := IndexReport{DryRun: dryRun, Total: len(entries)}
	for _, hash := range sortedKeys(entries) {
		id := entries[hash]
		e := IndexEntry{Hash: hash, KeyID: id}

		rec, err := s.keys.Get(ctx, id)
		switch {
		case errors.Is(err, apikey.ErrNotFound):
			report.Orphaned = append(report.Orphaned, e)
		case err != nil:
			return report, fmt.Errorf("load key %s: %w", id, err)
		case rec.IsDeleted:
			report.Deleted = append(report.Deleted, e)
		case rec.SecretHash != hash:
			report.Mismatched = append(report.Mismatched, e)
		default:
			report.Valid++
		}
	}

	if dryRun {
		return report, nil
	}

	for _, group := range [][]IndexEntry{report.Orphaned, report.Mismatched, report.Deleted} {
		for _, e := range group {
			removed, err := s.keys.RemoveIndexEntry(ctx, e.Hash, e.KeyID)
			if err != nil {
				return report, fmt.Errorf("remove index entry: %w", err)
			}
			if removed {
				report.Removed++
			}
		}
	}

	s.logger.Info().
		Int("total", report.Total).
		Int("invalid", report.Invalid()).
		Int("removed", report.Removed).
		Msg("hash index swept")
	return report, nil
}

// RebuildReport is the outcome of RebuildIndex.
type RebuildReport struct {
	Records int `json:"records"`
	Indexed int `json:"indexed"`
	Added   int `json:"added"`
}

// RebuildIndex re-adds the entry of every non-deleted record that lost it.
func (s *Sweeper) RebuildIndex(ctx context.Context) (RebuildReport, error) {
	records, err := s.keys.List(ctx)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("list keys: %w", err)
	}
	entries, err := s.keys.IndexEntries(ctx)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("read index: %w", err)
	}

	report := RebuildReport{Records: len(records)}
	for _, rec := range records {
		if !rec.Indexed() || rec.SecretHash == "" {
			continue
		}
		report.Indexed++
		if entries[rec.SecretHash] == rec.ID {
			continue
		}
		if err := s.keys.SetIndexEntry(ctx, rec.SecretHash, rec.ID); err != nil {
			return report, fmt.Errorf("index key %s: %w", rec.ID, err)
		}
		report.Added++
	}

	s.logger.Info().Int("indexed", report.Indexed).Int("added", report.Added).Msg("hash index rebuilt")
	return report, nil
}

// UsageSweepReport lists per-account counters of vanished accounts.
type UsageSweepReport struct {
	Execute  bool                `json:"execute"`
	Scanned  int                 `json:"scanned"`
	Orphaned map[string][]string `json:"orphaned"` // account id -> keys
	Deleted  int64               `json:"deleted"`
}

// OrphanedKeys counts the orphaned keys.
func (r UsageSweepReport) OrphanedKeys() int {
	n := 0
	for _, keys := range r.Orphaned {
		n += len(keys)
	}
	return n
}

// SweepAccountUsage finds counters referencing accounts that no longer
// exist and, with execute set, deletes them.
func (s *Sweeper) SweepAccountUsage(ctx context.Context, execute bool) (UsageSweepReport, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return UsageSweepReport{}, fmt.Errorf("list accounts: %w", err)
	}
	live := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		live[a.ID] = true
	}

	report := UsageSweepReport{Execute: execute, Orphaned: make(map[string][]string)}
	seen := make(map[string]bool)
	for _, pattern := range account.UsageKeyPatterns {
		keys, err := s.counters.Scan(ctx, pattern)
		if err != nil {
			return report, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, k := range keys {
			if seen[k] {
				continue
			}
			seen[k] = true
			report.Scanned++
			id, ok := account.AccountIDFromUsageKey(k)
			if ok && !live[id] {
				report.Orphaned[id] = append(report.Orphaned[id], k)
			}
		}
	}

	if !execute {
		return report, nil
	}

	for _, keys := range report.Orphaned {
		n, err := s.counters.Del(ctx, keys...)
		if err != nil {
			return report, fmt.Errorf("delete orphaned counters: %w", err)
		}
		report.Deleted += n
	}

	s.logger.Info().
		Int("accounts", len(report.Orphaned)).
		Int64("deleted", report.Deleted).
		Msg("orphaned account usage swept")
	return report, nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

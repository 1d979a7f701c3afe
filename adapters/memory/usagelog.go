package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/poolgate/domain/usage"
	"github.com/artpar/poolgate/ports"
)

// UsageLog is an in-memory implementation of ports.UsageLog.
type UsageLog struct {
	mu      sync.RWMutex
	records []usage.Record
}

// NewUsageLog creates an empty usage log.
func NewUsageLog() *UsageLog {
	return &UsageLog{}
}

// Record appends a usage record.
func (l *UsageLog) Record(ctx context.Context, r usage.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return nil
}

// Query returns records of keyID in [start, end).
func (l *UsageLog) Query(ctx context.Context, keyID string, start, end time.Time) ([]usage.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []usage.Record
	for _, r := range l.records {
		if r.KeyID != keyID {
			continue
		}
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// All returns every record (for testing).
func (l *UsageLog) All() []usage.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]usage.Record, len(l.records))
	copy(out, l.records)
	return out
}

// Ensure interface compliance.
var _ ports.UsageLog = (*UsageLog)(nil)

package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/poolgate/domain/usage"
	"github.com/artpar/poolgate/ports"
)

const usageColumns = `id, key_id, account_id, account_type, model, streaming, status_code, latency_ms,
	input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, ephemeral_5m_tokens, ephemeral_1h_tokens,
	input_images, output_images, output_duration_seconds,
	input_cost, output_cost, cache_create_cost, cache_read_cost, media_cost, total_cost,
	has_pricing, long_context, charged, ts_ms`

// UsageLog implements ports.UsageLog on a SQL table.
// Timestamps are stored as Unix milliseconds so every dialect compares
// them the same way.
type UsageLog struct {
	db *DB
}

// NewUsageLog creates a usage log. The schema must be migrated.
func NewUsageLog(db *DB) *UsageLog {
	return &UsageLog{db: db}
}

// Record appends a usage record.
func (l *UsageLog) Record(ctx context.Context, r usage.Record) error {
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO usage_records (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		r.ID, r.KeyID, r.AccountID, r.AccountType, r.Model, r.Streaming, r.StatusCode, r.LatencyMs,
		r.InputTokens, r.OutputTokens, r.CacheCreationTokens, r.CacheReadTokens, r.Ephemeral5mTokens, r.Ephemeral1hTokens,
		r.InputImages, r.OutputImages, r.OutputDurationSeconds,
		r.InputCost, r.OutputCost, r.CacheCreateCost, r.CacheReadCost, r.MediaCost, r.TotalCost,
		r.HasPricing, r.LongContext, r.Charged, r.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Query returns records of keyID in [start, end), oldest first.
func (l *UsageLog) Query(ctx context.Context, keyID string, start, end time.Time) ([]usage.Record, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT `+usageColumns+`
		FROM usage_records
		WHERE key_id = ? AND ts_ms >= ? AND ts_ms < ?
		ORDER BY ts_ms, id
	`), keyID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var out []usage.Record
	for rows.Next() {
		var (
			r  usage.Record
			ts int64
		)
		if err := rows.Scan(
			&r.ID, &r.KeyID, &r.AccountID, &r.AccountType, &r.Model, &r.Streaming, &r.StatusCode, &r.LatencyMs,
			&r.InputTokens, &r.OutputTokens, &r.CacheCreationTokens, &r.CacheReadTokens, &r.Ephemeral5mTokens, &r.Ephemeral1hTokens,
			&r.InputImages, &r.OutputImages, &r.OutputDurationSeconds,
			&r.InputCost, &r.OutputCost, &r.CacheCreateCost, &r.CacheReadCost, &r.MediaCost, &r.TotalCost,
			&r.HasPricing, &r.LongContext, &r.Charged, &ts,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ensure interface compliance.
var _ ports.UsageLog = (*UsageLog)(nil)

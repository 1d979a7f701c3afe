package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/domain/usage"
)

func TestUsageLog_Query(t *testing.T) {
	ctx := context.Background()
	l := memory.NewUsageLog()

	_ = l.Record(ctx, usage.Record{ID: "1", KeyID: "k1", Timestamp: baseTime.Add(-time.Minute)})
	_ = l.Record(ctx, usage.Record{ID: "2", KeyID: "k1", Timestamp: baseTime})
	_ = l.Record(ctx, usage.Record{ID: "3", KeyID: "k2", Timestamp: baseTime})
	_ = l.Record(ctx, usage.Record{ID: "4", KeyID: "k1", Timestamp: baseTime.Add(time.Hour)})

	got, err := l.Query(ctx, "k1", baseTime, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("Query() = %+v, want only record 2", got)
	}
	if n := len(l.All()); n != 4 {
		t.Errorf("All() = %d records, want 4", n)
	}
}

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/poolgate/adapters/metrics"
)

func gathered(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return -1
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m.RequestsTotal == nil || m.UpstreamAttempts == nil || m.AlertsTotal == nil || m.UsageCost == nil {
		t.Fatal("collector has nil metrics")
	}
}

func TestUpstreamAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.UpstreamAttempt("claude-console", "success", 0.4)
	m.UpstreamAttempt("claude-console", "upstream_error", 0.1)
	m.UpstreamAttempt("claude-console", "success", 0.2)

	if got := testutil.ToFloat64(m.UpstreamAttempts.WithLabelValues("claude-console", "success")); got != 2 {
		t.Errorf("success attempts = %v, want 2", got)
	}
	if n := gathered(t, reg, "poolgate_upstream_attempts_total"); n != 2 {
		t.Errorf("attempt series = %d, want 2", n)
	}
	if n := gathered(t, reg, "poolgate_upstream_duration_seconds"); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestRequestFailed(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.RequestFailed("no_accounts_available")
	m.RequestFailed("no_accounts_available")
	m.RequestFailed("all_retries_exhausted")

	if got := testutil.ToFloat64(m.RequestFailures.WithLabelValues("no_accounts_available")); got != 2 {
		t.Errorf("failures = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.RequestFailures); got != 2 {
		t.Errorf("series = %d, want 2", got)
	}
}

func TestAlertSent(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.AlertSent(false, false)
	m.AlertSent(false, true)
	m.AlertSent(true, false)

	tests := []struct {
		kind, throttled string
		want            float64
	}{
		{"recoverable", "false", 1},
		{"recoverable", "true", 1},
		{"final", "false", 1},
		{"final", "true", 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.AlertsTotal.WithLabelValues(tt.kind, tt.throttled)); got != tt.want {
			t.Errorf("alerts{%s,%s} = %v, want %v", tt.kind, tt.throttled, got, tt.want)
		}
	}
}

func TestUsageCharged(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.UsageCharged("claude-console", "claude-sonnet-4-20250514", 1500, 0.25)
	m.UsageCharged("claude-console", "claude-sonnet-4-20250514", 500, 0)

	if got := testutil.ToFloat64(m.UsageTokens.WithLabelValues("claude-console", "claude-sonnet-4-20250514")); got != 2000 {
		t.Errorf("tokens = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(m.UsageCost.WithLabelValues("claude-console", "claude-sonnet-4-20250514")); got != 0.25 {
		t.Errorf("cost = %v, want 0.25", got)
	}
}

func TestConfigReloads(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ConfigReloads.Inc()
	m.ConfigLastReload.SetToCurrentTime()

	if n := gathered(t, reg, "poolgate_config_reloads_total"); n != 1 {
		t.Error("poolgate_config_reloads_total metric not found")
	}
	if n := gathered(t, reg, "poolgate_config_last_reload_timestamp"); n != 1 {
		t.Error("poolgate_config_last_reload_timestamp metric not found")
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{429, "4xx"},
		{503, "5xx"},
		{0, "unknown"},
	}
	for _, tt := range tests {
		if got := metrics.StatusClass(tt.status); got != tt.want {
			t.Errorf("StatusClass(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/v1/messages", "/v1/messages"},
		{"/v1/messages?beta=true", "/v1/messages"},
	}
	for _, tt := range tests {
		if got := metrics.NormalizePath(tt.input); got != tt.expected {
			t.Errorf("NormalizePath(%s) = %s, want %s", tt.input, got, tt.expected)
		}
	}

	long := "/very/long/path/that/exceeds/fifty/characters/in/total/length"
	got := metrics.NormalizePath(long)
	if len(got) != 53 || got[50:] != "..." {
		t.Errorf("NormalizePath(long) = %s", got)
	}
}

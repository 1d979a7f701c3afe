package bootstrap_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/bootstrap"
	"github.com/artpar/poolgate/config"
	"github.com/artpar/poolgate/domain/account"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	content := `
pricing:
  path: ` + filepath.Join(t.TempDir(), "pricing.json") + `
accounts:
  - id: c1
    platform: claude-console
    base_url: http://127.0.0.1:1
    credential: sk-test
` + extra
	cfg, err := config.Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func TestOpenStores_MemoryMode(t *testing.T) {
	cfg := testConfig(t, "")
	stores, err := bootstrap.OpenStores(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	defer stores.Close()

	if stores.Redis != nil || stores.DB != nil {
		t.Error("memory mode should not open redis or a database")
	}
	if _, ok := stores.UsageLog.(*memory.UsageLog); !ok {
		t.Errorf("UsageLog = %T, want *memory.UsageLog", stores.UsageLog)
	}
}

func TestOpenStores_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "usage.db")
	cfg := testConfig(t, "database:\n  driver: sqlite3\n  dsn: "+dsn+"\n")

	stores, err := bootstrap.OpenStores(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	defer stores.Close()

	if stores.DB == nil {
		t.Fatal("DB should be open")
	}
	var n int
	if err := stores.DB.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM usage_records").Scan(&n); err != nil {
		t.Errorf("usage_records not migrated: %v", err)
	}
}

func TestAccountFromConfig(t *testing.T) {
	no := false
	tests := []struct {
		name          string
		in            config.AccountConfig
		wantName      string
		wantStreaming bool
	}{
		{"defaults", config.AccountConfig{ID: "a", Platform: "openai"}, "a", true},
		{"explicit", config.AccountConfig{ID: "b", Platform: "gemini", Name: "Gemini B", SupportsStreaming: &no}, "Gemini B", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bootstrap.AccountFromConfig(tt.in)
			if got.Name != tt.wantName {
				t.Errorf("Name = %s, want %s", got.Name, tt.wantName)
			}
			if got.SupportsStreaming != tt.wantStreaming {
				t.Errorf("SupportsStreaming = %v, want %v", got.SupportsStreaming, tt.wantStreaming)
			}
			if got.Status != account.StatusActive || !got.Schedulable {
				t.Errorf("account not active and schedulable: %+v", got)
			}
		})
	}
}

func TestSeedAccounts_PreservesRuntimeState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAccountStore()

	cfgs := []config.AccountConfig{{ID: "c1", Platform: "claude-console", Credential: "old"}}
	if _, err := bootstrap.SeedAccounts(ctx, store, cfgs); err != nil {
		t.Fatalf("SeedAccounts() error = %v", err)
	}
	ref := account.Ref{Platform: account.PlatformClaudeConsole, ID: "c1"}
	if err := store.MarkError(ctx, ref, "401 from upstream", baseTime); err != nil {
		t.Fatalf("MarkError() error = %v", err)
	}

	cfgs[0].Credential = "new"
	n, err := bootstrap.SeedAccounts(ctx, store, cfgs)
	if err != nil {
		t.Fatalf("SeedAccounts() error = %v", err)
	}
	if n != 1 {
		t.Errorf("seeded = %d, want 1", n)
	}

	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Credential != "new" {
		t.Errorf("Credential = %s, want new", got.Credential)
	}
	if got.Status != account.StatusError {
		t.Errorf("Status = %s, want %s", got.Status, account.StatusError)
	}
}

func TestBuild_Routes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "")
	stores, err := bootstrap.OpenStores(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}

	a, err := bootstrap.Build(ctx, cfg, stores, zerolog.Nop(), "test")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Shutdown()

	accounts, err := a.Scheduler.Accounts(ctx)
	if err != nil {
		t.Fatalf("Accounts() error = %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("accounts = %d, want 1 seeded from config", len(accounts))
	}

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/health/ready", "", http.StatusOK},
		{http.MethodGet, "/version", "", http.StatusOK},
		{http.MethodGet, "/v1/models", "", http.StatusOK},
		{http.MethodPost, "/v1/messages", `{"model":"claude-3-5-sonnet"}`, http.StatusUnauthorized},
		{http.MethodGet, "/admin/keys", "", http.StatusUnauthorized},
		{http.MethodGet, "/metrics", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			a.HTTPServer.Handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestNew_EnvOnly(t *testing.T) {
	t.Setenv("POOLGATE_PRICING_PATH", filepath.Join(t.TempDir(), "pricing.json"))
	t.Setenv("POOLGATE_SERVER_PORT", "18080")

	a, err := bootstrap.New(context.Background(), bootstrap.Options{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		HotReload:  true,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Shutdown()

	if !strings.HasSuffix(a.HTTPServer.Addr, ":18080") {
		t.Errorf("Addr = %s, want port 18080", a.HTTPServer.Addr)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "")
	stores, err := bootstrap.OpenStores(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	a, err := bootstrap.Build(ctx, cfg, stores, zerolog.Nop(), "test")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	a.HTTPServer.Addr = "127.0.0.1:0"

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Serve(runCtx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

package pricingfile_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/pricingfile"
)

const litellm = `{
  "sample_spec": {"max_tokens": "set to max tokens", "input_cost_per_token": 0.0},
  "claude-sonnet-4-20250514": {"input_cost_per_token": 3e-06, "output_cost_per_token": 1.5e-05, "cache_read_input_token_cost": 3e-07, "litellm_provider": "anthropic", "mode": "chat", "max_tokens": 64000},
  "gpt-5": {"input_cost_per_token": 1.25e-06, "output_cost_per_token": 1e-05, "mode": "chat"}
}`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParse(t *testing.T) {
	entries, err := pricingfile.Parse([]byte(litellm))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2 (sample_spec skipped)", len(entries))
	}
	if e := entries["claude-sonnet-4-20250514"]; e.InputCostPerToken != 3e-06 || e.Provider != "anthropic" {
		t.Errorf("entry = %+v", e)
	}

	for _, bad := range []string{`not json`, `{}`, `{"sample_spec": {}}`} {
		if _, err := pricingfile.Parse([]byte(bad)); err == nil {
			t.Errorf("Parse(%q) error = nil", bad)
		}
	}
}

func TestCatalog_LoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_pricing.json")
	writeFile(t, path, litellm)

	c := pricingfile.New(pricingfile.Config{Path: path}, zerolog.Nop())
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	m := c.Resolve("claude-sonnet-4-20250514[1m]")
	if !m.Found() || m.Key != "claude-sonnet-4-20250514" {
		t.Errorf("Resolve() = %+v", m)
	}
	if m := c.Resolve("gpt-5-codex"); m.Key != "gpt-5" {
		t.Errorf("Resolve(gpt-5-codex).Key = %q, want gpt-5", m.Key)
	}
	if m := c.Resolve("llama-3"); m.Found() {
		t.Errorf("Resolve(unknown) = %+v, want miss", m)
	}

	st := c.Status()
	if st.Models != 2 || st.Source != path {
		t.Errorf("Status() = %+v", st)
	}
}

func TestCatalog_Fallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "model_pricing.json")
	fallback := filepath.Join(dir, "fallback.json")
	writeFile(t, fallback, litellm)

	c := pricingfile.New(pricingfile.Config{Path: path, FallbackPath: fallback}, zerolog.Nop())
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Status().Source != fallback {
		t.Errorf("Source = %q, want fallback", c.Status().Source)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("fallback was not copied to %s: %v", path, err)
	}
}

func TestCatalog_BrokenFileUsesFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_pricing.json")
	fallback := filepath.Join(dir, "fallback.json")
	writeFile(t, path, "{broken")
	writeFile(t, fallback, litellm)

	c := pricingfile.New(pricingfile.Config{Path: path, FallbackPath: fallback}, zerolog.Nop())
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !c.Resolve("gpt-5").Found() {
		t.Error("fallback prices not served")
	}
}

func TestCatalog_NoData(t *testing.T) {
	c := pricingfile.New(pricingfile.Config{Path: filepath.Join(t.TempDir(), "missing.json")}, zerolog.Nop())
	if err := c.Load(); !errors.Is(err, pricingfile.ErrNoPricing) {
		t.Errorf("Load() error = %v, want ErrNoPricing", err)
	}
	if c.Resolve("gpt-5").Found() {
		t.Error("empty catalog resolved a model")
	}
}

func TestCatalog_ReloadFlushesMemo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_pricing.json")
	writeFile(t, path, `{"gpt-5": {"input_cost_per_token": 1e-06}}`)

	c := pricingfile.New(pricingfile.Config{Path: path}, zerolog.Nop())
	_ = c.Load()
	if got := c.Resolve("gpt-5").Entry.InputCostPerToken; got != 1e-06 {
		t.Fatalf("InputCostPerToken = %v, want 1e-06", got)
	}

	writeFile(t, path, `{"gpt-5": {"input_cost_per_token": 2e-06}}`)
	_ = c.Load()
	if got := c.Resolve("gpt-5").Entry.InputCostPerToken; got != 2e-06 {
		t.Errorf("after reload InputCostPerToken = %v, want 2e-06", got)
	}
}

func TestCatalog_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_pricing.json")
	writeFile(t, path, `{"gpt-5": {"input_cost_per_token": 1e-06}}`)

	c := pricingfile.New(pricingfile.Config{Path: path}, zerolog.Nop())
	_ = c.Load()
	if err := c.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer c.Stop()

	writeFile(t, path, `{"gpt-5": {"input_cost_per_token": 5e-06}, "gpt-4o": {"input_cost_per_token": 1e-06}}`)

	deadline := time.Now().Add(2 * time.Second)
	for c.Table().Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("catalog was not reloaded after the file changed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCatalog_Refresh(t *testing.T) {
	sum := sha256.Sum256([]byte(litellm))
	hash := hex.EncodeToString(sum[:])
	downloads := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pricing.json":
			downloads++
			_, _ = w.Write([]byte(litellm))
		case "/pricing.sha256":
			_, _ = w.Write([]byte(hash + "  model_prices.json\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "model_pricing.json")
	c := pricingfile.New(pricingfile.Config{
		Path:    path,
		URL:     srv.URL + "/pricing.json",
		HashURL: srv.URL + "/pricing.sha256",
	}, zerolog.Nop())

	updated, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !updated || c.Table().Len() != 2 {
		t.Errorf("Refresh() updated=%v models=%d", updated, c.Table().Len())
	}

	updated, err = c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}
	if updated || downloads != 1 {
		t.Errorf("second Refresh() updated=%v downloads=%d, want no download", updated, downloads)
	}
}

// Package pricingfile serves model prices from a LiteLLM-format JSON file
// with a bundled fallback, hot reload and optional remote refresh.
package pricingfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/pricing"
	"github.com/artpar/poolgate/ports"
)

// ErrNoPricing is returned when neither the file nor the fallback loads.
var ErrNoPricing = errors.New("no pricing data available")

// Config configures a Catalog.
type Config struct {
	Path         string // working copy, rewritten by Refresh
	FallbackPath string // bundled copy used when Path is missing or broken
	URL          string // optional remote source
	HashURL      string // optional sha256 of the remote file
	MemoTTL      time.Duration
}

// Catalog is a hot-reloadable ports.PricingSource.
type Catalog struct {
	cfg    Config
	logger zerolog.Logger
	client *http.Client

	table    atomic.Pointer[pricing.Table]
	loadedAt atomic.Int64
	source   atomic.Value // string
	memo     *gocache.Cache

	reloadMu sync.Mutex
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a catalog. Call Load before serving.
func New(cfg Config, logger zerolog.Logger) *Catalog {
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = 10 * time.Minute
	}
	c := &Catalog{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
		memo:   gocache.New(cfg.MemoTTL, 2*cfg.MemoTTL),
		stopCh: make(chan struct{}),
	}
	c.table.Store(pricing.NewTable(nil))
	c.source.Store("")
	return c
}

// Resolve returns the price entry for model. Results are memoized until
// the next reload.
func (c *Catalog) Resolve(model string) pricing.Match {
	if v, ok := c.memo.Get(model); ok {
		return v.(pricing.Match)
	}
	m := c.table.Load().Resolve(model)
	c.memo.SetDefault(model, m)
	return m
}

// Table returns the current table.
func (c *Catalog) Table() *pricing.Table {
	return c.table.Load()
}

// Status describes the loaded data.
type Status struct {
	Models   int       `json:"models"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Status reports what is loaded.
func (c *Catalog) Status() Status {
	s := Status{Models: c.table.Load().Len(), Source: c.source.Load().(string)}
	if ms := c.loadedAt.Load(); ms > 0 {
		s.LoadedAt = time.UnixMilli(ms).UTC()
	}
	return s
}

// Load reads Path, falling back to FallbackPath. When the fallback is
// used it is copied over Path so the next start finds a working file.
func (c *Catalog) Load() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	if c.cfg.Path != "" {
		raw, err := os.ReadFile(c.cfg.Path)
		if err == nil {
			if err = c.install(raw, c.cfg.Path); err == nil {
				return nil
			}
		}
		c.logger.Warn().Err(err).Str("path", c.cfg.Path).Msg("pricing file unusable, trying fallback")
	}

	if c.cfg.FallbackPath == "" {
		return ErrNoPricing
	}
	raw, err := os.ReadFile(c.cfg.FallbackPath)
	if err != nil {
		return fmt.Errorf("%w: read fallback: %v", ErrNoPricing, err)
	}
	if err := c.install(raw, c.cfg.FallbackPath); err != nil {
		return fmt.Errorf("%w: %v", ErrNoPricing, err)
	}
	if c.cfg.Path != "" {
		if err := writeAtomic(c.cfg.Path, raw); err != nil {
			c.logger.Warn().Err(err).Str("path", c.cfg.Path).Msg("failed to seed pricing file from fallback")
		}
	}
	return nil
}

func (c *Catalog) install(raw []byte, source string) error {
	entries, err := Parse(raw)
	if err != nil {
		return err
	}
	c.table.Store(pricing.NewTable(entries))
	c.memo.Flush()
	c.source.Store(source)
	c.loadedAt.Store(time.Now().UnixMilli())
	c.logger.Info().Int("models", len(entries)).Str("source", source).Msg("pricing data loaded")
	return nil
}

// Parse decodes a LiteLLM price table. Entries that do not decode, such
// as the "sample_spec" documentation block, are skipped.
func Parse(raw []byte) (map[string]pricing.Entry, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse pricing json: %w", err)
	}
	out := make(map[string]pricing.Entry, len(doc))
	for model, body := range doc {
		if model == "sample_spec" {
			continue
		}
		var e pricing.Entry
		if err := json.Unmarshal(body, &e); err != nil {
			continue
		}
		out[model] = e
	}
	if len(out) == 0 {
		return nil, errors.New("pricing json has no models")
	}
	return out, nil
}

// Refresh downloads URL when its hash differs from the local file and
// installs it. Without a URL it is a no-op.
func (c *Catalog) Refresh(ctx context.Context) (bool, error) {
	if c.cfg.URL == "" || c.cfg.Path == "" {
		return false, nil
	}

	if c.cfg.HashURL != "" {
		remote, err := c.fetch(ctx, c.cfg.HashURL)
		if err == nil {
			want := firstField(string(remote))
			if local, err := fileHash(c.cfg.Path); err == nil && want != "" && local == want {
				return false, nil
			}
		} else {
			c.logger.Warn().Err(err).Msg("pricing hash check failed, downloading anyway")
		}
	}

	raw, err := c.fetch(ctx, c.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("download pricing: %w", err)
	}
	if _, err := Parse(raw); err != nil {
		return false, fmt.Errorf("downloaded pricing: %w", err)
	}
	if err := writeAtomic(c.cfg.Path, raw); err != nil {
		return false, fmt.Errorf("write pricing: %w", err)
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return true, c.install(raw, c.cfg.URL)
}

func (c *Catalog) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}

// Watch reloads the catalog when Path changes on disk.
func (c *Catalog) Watch() error {
	if c.cfg.Path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory (editors and Refresh replace the file)
	if err := watcher.Add(filepath.Dir(c.cfg.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	c.watcher = watcher
	go c.watchLoop()
	return nil
}

// Stop ends Watch.
func (c *Catalog) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.watcher != nil {
			c.watcher.Close()
		}
	})
}

func (c *Catalog) watchLoop() {
	filename := filepath.Base(c.cfg.Path)
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := c.Load(); err != nil {
					c.logger.Error().Err(err).Msg("pricing reload failed")
				}
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error().Err(err).Msg("pricing watcher error")
		case <-c.stopCh:
			return
		}
	}
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pricing-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func fileHash(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// Ensure interface compliance.
var _ ports.PricingSource = (*Catalog)(nil)

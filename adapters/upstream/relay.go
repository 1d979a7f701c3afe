// Package upstream relays requests to provider accounts over HTTP.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/pricing"
	"github.com/artpar/poolgate/domain/proxy"
	"github.com/artpar/poolgate/domain/streaming"
	"github.com/artpar/poolgate/ports"
)

// Default base URLs per platform.
var defaultBaseURLs = map[account.Platform]string{
	account.PlatformClaude:        "https://api.anthropic.com",
	account.PlatformClaudeConsole: "https://api.anthropic.com",
	account.PlatformOpenAI:        "https://api.openai.com",
	account.PlatformGemini:        "https://generativelanguage.googleapis.com",
}

const anthropicVersion = "2023-06-01"

// Request headers never forwarded upstream.
var droppedHeaders = map[string]bool{
	"authorization":     true,
	"x-api-key":         true,
	"api-key":           true,
	"x-goog-api-key":    true,
	"host":              true,
	"content-length":    true,
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"upgrade":           true,
	"accept-encoding":   true,
	"cookie":            true,
}

// Client forwards requests to the account's upstream.
type Client struct {
	client          *http.Client // For buffered requests
	streamingClient *http.Client // For streaming requests (no timeout)
	logger          zerolog.Logger
	probeModel      string
}

// Config contains configuration for the upstream client.
type Config struct {
	Timeout         time.Duration // buffered requests; the orchestrator also bounds each attempt
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	ProbeModel      string // model used by CheckAccount on Claude platforms
}

// New creates an upstream client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.ProbeModel == "" {
		cfg.ProbeModel = "claude-3-5-haiku-20241022"
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	// SSE shouldn't be compressed mid-stream
	streamingTransport := transport.Clone()
	streamingTransport.DisableCompression = true

	return &Client{
		client:          &http.Client{Transport: transport, Timeout: cfg.Timeout},
		streamingClient: &http.Client{Transport: streamingTransport},
		logger:          logger,
		probeModel:      cfg.ProbeModel,
	}
}

// Relay sends a buffered request and returns the upstream answer as-is.
// Non-2xx statuses are returned as responses, not errors.
func (c *Client) Relay(ctx context.Context, acc account.Account, req proxy.Request) (proxy.Response, error) {
	start := time.Now()
	httpReq, err := c.newRequest(ctx, acc, req)
	if err != nil {
		return proxy.Response{}, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return proxy.Response{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return proxy.Response{}, fmt.Errorf("read response: %w", err)
	}

	out := proxy.Response{
		Status:       resp.StatusCode,
		Headers:      responseHeaders(resp.Header),
		Body:         body,
		LatencyMs:    time.Since(start).Milliseconds(),
		UpstreamAddr: httpReq.URL.Host,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Usage = ParseUsage(body)
	}
	return out, nil
}

// RelayStream forwards a streaming response to sink as it arrives and
// returns the usage reported in the stream. A non-2xx status is returned
// as *proxy.UpstreamError before anything is written to sink.
func (c *Client) RelayStream(ctx context.Context, acc account.Account, req proxy.Request, sink ports.StreamSink) (*pricing.Usage, error) {
	httpReq, err := c.newRequest(ctx, acc, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamingClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &proxy.UpstreamError{Status: resp.StatusCode, Body: body}
	}

	headers := responseHeaders(resp.Header)
	if headers["Content-Type"] == "" {
		headers["Content-Type"] = "text/event-stream"
	}
	headers["Cache-Control"] = "no-cache"
	sink.WriteHeader(resp.StatusCode, headers)

	var usage streamUsage
	reader := bufio.NewReaderSize(resp.Body, 64<<10)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if data, ok := streaming.Data(line); ok && !streaming.IsDone(data) {
				usage.observe(data)
			}
			if _, err := sink.Write(line); err != nil {
				return usage.result(), fmt.Errorf("write to client: %w", err)
			}
			if streaming.IsBoundary(line) {
				sink.Flush()
			}
		}
		if readErr != nil {
			sink.Flush()
			if errors.Is(readErr, io.EOF) {
				return usage.result(), nil
			}
			return usage.result(), fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// CheckAccount sends a minimal authenticated request to the account.
func (c *Client) CheckAccount(ctx context.Context, acc account.Account) error {
	var req proxy.Request
	switch acc.Platform {
	case account.PlatformClaude, account.PlatformClaudeConsole, account.PlatformBedrock:
		body := fmt.Sprintf(`{"model":%q,"max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`, c.probeModel)
		req = proxy.Request{Method: http.MethodPost, Path: "/v1/messages", Body: []byte(body), Model: c.probeModel}
	case account.PlatformGemini:
		req = proxy.Request{Method: http.MethodGet, Path: "/v1beta/models"}
	default:
		req = proxy.Request{Method: http.MethodGet, Path: "/v1/models"}
	}

	resp, err := c.Relay(ctx, acc, req)
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("status %d: %s", resp.Status, proxy.ErrorMessage(resp.Body))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, acc account.Account, req proxy.Request) (*http.Request, error) {
	base := acc.BaseURL
	if base == "" {
		base = defaultBaseURLs[acc.Platform]
	}
	if base == "" {
		return nil, fmt.Errorf("account %s has no base url", acc.Ref())
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	target := baseURL.JoinPath(req.Path)

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range req.Headers {
		if droppedHeaders[strings.ToLower(k)] {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Request-ID", req.TraceID)
	}
	setCredential(httpReq, acc)
	return httpReq, nil
}

func setCredential(r *http.Request, acc account.Account) {
	switch acc.Platform {
	case account.PlatformClaude, account.PlatformClaudeConsole, account.PlatformBedrock:
		r.Header.Set("x-api-key", acc.Credential)
		if r.Header.Get("anthropic-version") == "" {
			r.Header.Set("anthropic-version", anthropicVersion)
		}
	case account.PlatformAzureOpenAI:
		r.Header.Set("api-key", acc.Credential)
	case account.PlatformGemini:
		r.Header.Set("x-goog-api-key", acc.Credential)
	default:
		r.Header.Set("Authorization", "Bearer "+acc.Credential)
	}
}

func responseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch strings.ToLower(k) {
		case "content-length", "connection", "transfer-encoding", "content-encoding", "set-cookie":
			continue
		}
		if len(v) > 0 {
			out[http.CanonicalHeaderKey(k)] = v[0]
		}
	}
	return out
}

// Ensure interface compliance.
var (
	_ ports.Relay         = (*Client)(nil)
	_ ports.HealthChecker = (*Client)(nil)
)

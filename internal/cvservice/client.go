package cvservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/segment-replay/internal/metrics"
)

// #region constants
const (
	DefaultTimeout = 30 * time.Second

	textDiscoverPath     = "/criteria-text-discover"
	imageMatchPath       = "/criteria-image-match"
	objectTextQueryPath  = "/criteria-object-text-query"
	objectImageQueryPath = "/criteria-object-image-query"

	hostedPathSuffix = "/aiservice"
	maxErrorBody     = 512
)
// #endregion constants

// #region config
// Config holds CV service connection parameters.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Verbose           bool
}

// DefaultConfig returns a local service with a 30s timeout and no request pacing.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: DefaultTimeout,
		Burst:   4,
	}
}
// #endregion config

// #region client-struct
// Client talks to the CV service over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	verbose bool
}
// #endregion client-struct

// #region constructor
// NewClient builds a client with its own http.Client bound to cfg.Timeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(cfg, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP builds a client around an injected http.Client.
// Used for testing against httptest servers.
func NewClientWithHTTP(cfg Config, hc *http.Client) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: ResolveBaseURL(cfg.BaseURL),
		token:   cfg.Token,
		timeout: timeout,
		http:    hc,
		verbose: cfg.Verbose,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// ResolveBaseURL trims trailing slashes and appends the hosted service prefix for non-loopback hosts.
func ResolveBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}
	if isLoopback(u.Hostname()) || strings.HasSuffix(u.Path, hostedPathSuffix) {
		return base
	}
	return base + hostedPathSuffix
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
// #endregion constructor

// #region endpoints
// DiscoverText returns every text token the service finds in the screenshot.
func (c *Client) DiscoverText(ctx context.Context, req TextDiscoverRequest) ([]TextResult, error) {
	return post[TextResult](ctx, c, textDiscoverPath, req)
}

// MatchImage returns every region matching the reference image.
func (c *Client) MatchImage(ctx context.Context, req ImageMatchRequest) ([]ImageResult, error) {
	return post[ImageResult](ctx, c, imageMatchPath, req)
}

// QueryObjects routes to the text or image object query endpoint.
func (c *Client) QueryObjects(ctx context.Context, req ObjectQueryRequest) ([]ImageResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	path := objectTextQueryPath
	if req.ImageQuery != nil {
		path = objectImageQueryPath
	}
	return post[ImageResult](ctx, c, path, req)
}
// #endregion endpoints

// #region transport
func post[T any](ctx context.Context, c *Client, path string, body any) ([]T, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("cv %s rate limit: %w", path, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal cv %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build cv %s request: %w", path, err)
	}
	correlationID := ulid.Make().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	if c.verbose {
		log.Printf("[CV] %s request sent correlationId=%s bytes=%d", path, correlationID, len(payload))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) {
			outcome = "cancelled"
		}
		metrics.RecordCVRequest(path, outcome, time.Since(start))
		return nil, fmt.Errorf("cv %s correlationId=%s: %w", path, correlationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.RecordCVRequest(path, "error", time.Since(start))
		return nil, fmt.Errorf("cv %s correlationId=%s: status %d: %s", path, correlationID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var env resultsEnvelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		metrics.RecordCVRequest(path, "error", time.Since(start))
		return nil, fmt.Errorf("decode cv %s response correlationId=%s: %w", path, correlationID, err)
	}
	metrics.RecordCVRequest(path, "ok", time.Since(start))
	if c.verbose {
		log.Printf("[CV] %s response correlationId=%s results=%d elapsed=%s", path, correlationID, len(env.Results), time.Since(start))
	}
	if env.Results == nil {
		env.Results = []T{}
	}
	return env.Results, nil
}
// #endregion transport

// Package pinboard implements bookmark.Source against the Pinboard v1 API.
package pinboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/bookmark-archiver/internal/bookmark"
)

// DefaultBaseURL is the public Pinboard API root.
const DefaultBaseURL = "https://api.pinboard.in/v1"

// Config controls the API client.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxAttempts       int
	BackoffBase       time.Duration
}

// Client talks to the Pinboard API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *ExponentialRetryPolicy
	logger     *zap.Logger
}

var _ bookmark.Source = (*Client)(nil)

// New validates cfg and returns a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("pinboard: token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		retry:   NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase),
		logger:  logger,
	}, nil
}

// Since returns every bookmark created strictly after t, newest first as the
// service orders them.
func (c *Client) Since(ctx context.Context, t time.Time) ([]bookmark.Bookmark, error) {
	params := url.Values{}
	params.Set("fromdt", t.UTC().Format(time.RFC3339))

	var posts []apiPost
	if err := c.getJSON(ctx, "posts/all", params, &posts); err != nil {
		return nil, err
	}

	out := make([]bookmark.Bookmark, 0, len(posts))
	for _, p := range posts {
		b, err := convertPost(p)
		if err != nil {
			c.logger.Error("skipping malformed bookmark", zap.String("url", p.Href), zap.Error(err))
			continue
		}
		// fromdt is inclusive on the service side.
		if !b.Time.After(t) {
			continue
		}
		out = append(out, b)
	}
	c.logger.Debug("fetched bookmarks", zap.Time("since", t), zap.Int("count", len(out)))
	return out, nil
}

// Lookup resolves a single bookmark by URL.
func (c *Client) Lookup(ctx context.Context, rawURL string) (bookmark.Bookmark, bool, error) {
	params := url.Values{}
	params.Set("url", rawURL)

	var resp getResponse
	if err := c.getJSON(ctx, "posts/get", params, &resp); err != nil {
		return bookmark.Bookmark{}, false, err
	}
	for _, p := range resp.Posts {
		if p.Href != rawURL {
			continue
		}
		b, err := convertPost(p)
		if err != nil {
			return bookmark.Bookmark{}, false, err
		}
		return b, true, nil
	}
	return bookmark.Bookmark{}, false, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("auth_token", c.token)
	params.Set("format", "json")
	target := c.baseURL + "/" + endpoint + "?" + params.Encode()

	attempt := 0
	for {
		attempt++
		err := c.doOnce(ctx, endpoint, target, out)
		if err == nil {
			return nil
		}
		if !c.retry.ShouldRetry(ctx, err, attempt) {
			return err
		}
		wait := c.retry.Backoff(attempt - 1)
		c.logger.Warn("retrying pinboard request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("pinboard %s: %w", endpoint, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) doOnce(ctx context.Context, endpoint, target string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pinboard rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinboard %s: %w", endpoint, redact(err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Endpoint: endpoint}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// redact drops the request URL (which carries the token) from transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

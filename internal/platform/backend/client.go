// Package backend is the portal's client for the hospital REST API. Every
// call carries the caller's credential as a bearer token; successful reads
// are cached per credential for a short time.
package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/hms/hms/internal/platform/session"
)

const maxErrorBody = 64 << 10

// Recorder receives request and cache metrics. *telemetry.Provider
// implements it.
type Recorder interface {
	BackendRequest(method string, status int, d time.Duration)
	BackendCache(hit bool)
}

// API is the request surface views depend on. *Client implements it.
type API interface {
	Get(ctx context.Context, cred *session.Credential, path string, query url.Values, out any) error
	Post(ctx context.Context, cred *session.Credential, path string, in, out any) error
	Put(ctx context.Context, cred *session.Credential, path string, in, out any) error
	Delete(ctx context.Context, cred *session.Credential, path string) error
}

var _ API = (*Client)(nil)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	CacheTTL  time.Duration // zero disables caching
	CacheSize int
	// RetryWait is the pause before the single retry of a failed read.
	RetryWait time.Duration
}

type Client struct {
	base      *url.URL
	http      *http.Client
	cache     *expirable.LRU[string, []byte]
	retryWait time.Duration
	rec       Recorder
	logger    zerolog.Logger
}

type Option func(*Client)

func WithRecorder(rec Recorder) Option {
	return func(c *Client) { c.rec = rec }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: cfg.Timeout},
		retryWait: cfg.RetryWait,
		logger:    logger.With().Str("component", "backend").Logger(),
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 256
		}
		c.cache = expirable.NewLRU[string, []byte](size, nil, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get fetches path with query and decodes the JSON response into out. A
// failed read is retried once on transport errors and gateway statuses.
func (c *Client) Get(ctx context.Context, cred *session.Credential, path string, query url.Values, out any) error {
	if cred == nil {
		return ErrUnauthorized
	}
	target := c.resolve(path, query)
	key := cacheKey(cred, target)

	if c.cache != nil {
		body, ok := c.cache.Get(key)
		c.recordCache(ok)
		if ok {
			return decode(body, out)
		}
	}

	var body []byte
	b := retry.WithMaxRetries(1, retry.NewConstant(c.retryWait))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		body, err = c.do(ctx, cred, http.MethodGet, target, nil)
		if isTransient(err) {
			c.logger.Debug().Err(err).Str("url", target).Msg("retrying backend read")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	if c.cache != nil {
		c.cache.Add(key, body)
	}
	return decode(body, out)
}

// Post sends in as JSON and decodes the response into out, which may be nil.
// Writes are never retried and drop every cached read.
func (c *Client) Post(ctx context.Context, cred *session.Credential, path string, in, out any) error {
	return c.write(ctx, cred, http.MethodPost, path, in, out)
}

func (c *Client) Put(ctx context.Context, cred *session.Credential, path string, in, out any) error {
	return c.write(ctx, cred, http.MethodPut, path, in, out)
}

func (c *Client) Delete(ctx context.Context, cred *session.Credential, path string) error {
	return c.write(ctx, cred, http.MethodDelete, path, nil, nil)
}

func (c *Client) write(ctx context.Context, cred *session.Credential, method, path string, in, out any) error {
	if cred == nil {
		return ErrUnauthorized
	}
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	body, err := c.do(ctx, cred, method, c.resolve(path, nil), payload)
	if err != nil {
		return err
	}
	c.Purge()
	if out == nil || len(body) == 0 {
		return nil
	}
	return decode(body, out)
}

// Purge drops all cached reads.
func (c *Client) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// PurgeOnIdentityChange drops the cache whenever the signed-in identity
// changes, until ctx is done.
func (c *Client) PurgeOnIdentityChange(ctx context.Context, store *session.Store) {
	changes, cancel := store.Watch()
	last := identityKey(store.Get())
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-changes:
				if !ok {
					return
				}
				if id := identityKey(s); id != last {
					c.Purge()
					last = id
				}
			}
		}
	}()
}

func (c *Client) do(ctx context.Context, cred *session.Credential, method, target string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.BearerToken())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.recordRequest(method, 0, start)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	c.recordRequest(method, resp.StatusCode, start)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
		}
		return body, nil
	}
	return nil, statusError(resp)
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Status: resp.StatusCode, Detail: errorDetail(body)}
}

// errorDetail reads the human-readable part of an error body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, s := range []string{payload.Detail, payload.Message, payload.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func isTransient(err error) bool {
	return err != nil && errors.Is(err, ErrUnavailable)
}

func decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// cacheKey scopes cached reads to the credential that made them.
func cacheKey(cred *session.Credential, target string) string {
	sum := sha256.Sum256([]byte(cred.BearerToken()))
	return hex.EncodeToString(sum[:8]) + " " + target
}

func identityKey(s session.Session) string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID.String()
}

func (c *Client) recordRequest(method string, status int, start time.Time) {
	if c.rec != nil {
		c.rec.BackendRequest(method, status, time.Since(start))
	}
}

func (c *Client) recordCache(hit bool) {
	if c.rec != nil {
		c.rec.BackendCache(hit)
	}
}

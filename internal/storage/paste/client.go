// Package paste implements blob backends on top of public pastebin services.
//
// Every adapter is a thin translator between the backend contract and one
// provider API. Response parsing lives in pure functions so it can be tested
// against fixed payloads without network access.
package paste

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dtroode/pastedb/internal/model"
)

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "PasteDB/1.0"

const maxResponseSize = 16 << 20

// errResponseTooLarge is returned for bodies over the read limit.
var errResponseTooLarge = errors.New("response too large")

// defaultTitle names pastes stored without a title.
const defaultTitle = "PasteDB Data"

// Option configures an adapter.
type Option func(*client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.hc = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *client) {
		c.userAgent = ua
	}
}

// WithBaseURL points the adapter at a different host, e.g. a mirror or a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// client holds what every adapter shares: identity, base URL and a reusable
// HTTP client.
type client struct {
	name      string
	baseURL   string
	userAgent string
	hc        *http.Client
	maxBody   int64
}

func newClient(name, baseURL string, opts ...Option) client {
	c := client{
		name:      name,
		baseURL:   baseURL,
		userAgent: DefaultUserAgent,
		hc:        http.DefaultClient,
		maxBody:   maxResponseSize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Name returns the registration name of the adapter.
func (c *client) Name() string {
	return c.name
}

// BaseURL returns the provider base URL.
func (c *client) BaseURL() string {
	return c.baseURL
}

// Delete is not supported by public pastebin APIs.
func (c *client) Delete(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// Ping issues a HEAD request against the base URL. Anything but a server
// error counts as reachable.
func (c *client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return model.NewBackendError(c.name, "ping", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return model.NewBackendError(c.name, "ping", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return model.NewBackendError(c.name, "ping", fmt.Errorf("server error status %d", resp.StatusCode))
	}
	return nil
}

func (c *client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *client) postText(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, bytes.NewReader(body), "text/plain; charset=utf-8")
}

func (c *client) get(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil, "")
}

func (c *client) send(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: over %d bytes", errResponseTooLarge, c.maxBody)
	}
	return data, nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("status %d: %w", code, model.ErrNotFound)
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

// lastSegment returns the final path element of a paste URL.
func lastSegment(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func escapeID(id string) string {
	return url.PathEscape(id)
}

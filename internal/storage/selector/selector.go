// Package selector keeps the ordered set of registered backends and picks the
// first live one.
package selector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dtroode/pastedb/internal/logger"
	"github.com/dtroode/pastedb/internal/model"
)

// DefaultPingTimeout bounds the liveness check of one candidate.
const DefaultPingTimeout = 10 * time.Second

// Registry holds backends in registration order.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	backends map[string]model.Backend

	hc     *http.Client
	logger *logger.Logger
}

// NewRegistry creates an empty registry. Backends without their own ping are
// checked with a HEAD request through hc.
func NewRegistry(hc *http.Client, logger *logger.Logger) *Registry {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Registry{
		backends: make(map[string]model.Backend),
		hc:       hc,
		logger:   logger,
	}
}

// Register adds b under its name. A second registration with the same name
// replaces the backend but keeps its original position.
func (r *Registry) Register(b model.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[b.Name()]; !ok {
		r.order = append(r.order, b.Name())
	}
	r.backends[b.Name()] = b
}

// Names returns registered backend names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (model.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Candidates returns the ping order: preferred first when registered, then
// every other backend in registration order.
func (r *Registry) Candidates(preferred string) []model.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Backend, 0, len(r.order))
	if b, ok := r.backends[preferred]; ok {
		out = append(out, b)
	}
	for _, name := range r.order {
		if name == preferred {
			continue
		}
		out = append(out, r.backends[name])
	}
	return out
}

// Select pings candidates in order and returns the first live one. Each ping
// is bounded by timeout. When nothing answers it fails with
// model.ErrNoBackendAvailable.
func (r *Registry) Select(ctx context.Context, preferred string, timeout time.Duration) (model.Backend, error) {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}

	candidates := r.Candidates(preferred)
	for _, b := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := r.ping(ctx, b, timeout)
		if err == nil {
			r.logger.Info("Selector: backend selected", "backend", b.Name(), "url", b.BaseURL())
			return b, nil
		}
		r.logger.Warn("Selector: backend unavailable", "backend", b.Name(), "error", err.Error())
	}

	return nil, fmt.Errorf("%w: tried %d backends", model.ErrNoBackendAvailable, len(candidates))
}

func (r *Registry) ping(ctx context.Context, b model.Backend, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if p, ok := b.(model.Pinger); ok {
		return p.Ping(ctx)
	}
	return r.head(ctx, b)
}

func (r *Registry) head(ctx context.Context, b model.Backend) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.BaseURL(), nil)
	if err != nil {
		return model.NewBackendError(b.Name(), "ping", err)
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return model.NewBackendError(b.Name(), "ping", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return model.NewBackendError(b.Name(), "ping", fmt.Errorf("server error status %d", resp.StatusCode))
	}
	return nil
}

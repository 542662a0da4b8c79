// Package cache implements a backend decorator that keeps recently used blobs
// in memory. Remote ids are never reused for different content, so cached
// entries only go stale through deletion or expiry.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dtroode/pastedb/internal/model"
)

var _ model.Backend = (*Backend)(nil)

// Backend is a read-through cache in front of another backend.
// Writes pass through and seed the cache.
type Backend struct {
	c    *expirable.LRU[string, []byte] // remote id -> content
	next model.Backend
}

// New wraps next with a cache of up to size blobs, each kept for at most ttl.
func New(next model.Backend, size int, ttl time.Duration) *Backend {
	return &Backend{
		c:    expirable.NewLRU[string, []byte](size, nil, ttl),
		next: next,
	}
}

func (b *Backend) Name() string {
	return b.next.Name()
}

func (b *Backend) BaseURL() string {
	return b.next.BaseURL()
}

func (b *Backend) Store(ctx context.Context, content []byte, title string) (string, error) {
	id, err := b.next.Store(ctx, content, title)
	if err != nil {
		return "", err
	}
	b.c.Add(id, clone(content))
	return id, nil
}

func (b *Backend) Fetch(ctx context.Context, id string) ([]byte, error) {
	if data, ok := b.c.Get(id); ok {
		return clone(data), nil
	}
	data, err := b.next.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	b.c.Add(id, clone(data))
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	b.c.Remove(id)
	return b.next.Delete(ctx, id)
}

// Len returns the number of cached blobs.
func (b *Backend) Len() int {
	return b.c.Len()
}

func clone(p []byte) []byte {
	return append([]byte(nil), p...)
}

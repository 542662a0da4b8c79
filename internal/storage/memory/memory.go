// Package memory provides a process-local blob backend. It backs tests and
// single-process deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dtroode/pastedb/internal/model"
)

var _ model.Backend = (*Backend)(nil)

// Backend keeps blobs in a map. Ids are sequential.
type Backend struct {
	name string

	mu     sync.RWMutex
	blobs  map[string][]byte
	titles map[string]string
	seq    uint64

	// failing, when set, makes every call return it.
	failing error
}

// New creates an empty memory backend registered under name.
func New(name string) *Backend {
	if name == "" {
		name = "memory"
	}
	return &Backend{
		name:   name,
		blobs:  make(map[string][]byte),
		titles: make(map[string]string),
	}
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) BaseURL() string {
	return "memory://" + b.name
}

// SetFailing makes all subsequent calls fail with err. Pass nil to recover.
func (b *Backend) SetFailing(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = err
}

func (b *Backend) Store(_ context.Context, content []byte, title string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failing != nil {
		return "", model.NewBackendError(b.name, "store", b.failing)
	}

	b.seq++
	id := strconv.FormatUint(b.seq, 36)
	b.blobs[id] = append([]byte(nil), content...)
	b.titles[id] = title
	return id, nil
}

func (b *Backend) Fetch(_ context.Context, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.failing != nil {
		return nil, model.NewBackendError(b.name, "fetch", b.failing)
	}

	data, ok := b.blobs[id]
	if !ok {
		return nil, model.NewBackendError(b.name, "fetch", fmt.Errorf("blob %q: %w", id, model.ErrNotFound))
	}
	return append([]byte(nil), data...), nil
}

func (b *Backend) Delete(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failing != nil {
		return false, model.NewBackendError(b.name, "delete", b.failing)
	}

	if _, ok := b.blobs[id]; !ok {
		return false, nil
	}
	delete(b.blobs, id)
	delete(b.titles, id)
	return true, nil
}

// Len returns the number of stored blobs.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Title returns the title a blob was stored with.
func (b *Backend) Title(id string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	title, ok := b.titles[id]
	return title, ok
}

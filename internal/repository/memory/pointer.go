// Package memory provides a process-local IndexPointerStore.
package memory

import (
	"context"
	"sync"

	"github.com/dtroode/pastedb/internal/model"
)

var _ model.IndexPointerStore = (*PointerStore)(nil)

type PointerStore struct {
	mu       sync.RWMutex
	pointers map[string]string
}

func NewPointerStore() *PointerStore {
	return &PointerStore{pointers: make(map[string]string)}
}

func (s *PointerStore) GetPointer(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pointers[name], nil
}

func (s *PointerStore) SetPointer(_ context.Context, name, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers[name] = remoteID
	return nil
}

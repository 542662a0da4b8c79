package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dtroode/pastedb/internal/logger"
	"github.com/dtroode/pastedb/internal/model"
)

// Reserved keys of the account indices.
const (
	EmailIndexKey    = "__email_index__"
	UsernameIndexKey = "__username_index__"
	SessionsIndexKey = "__sessions_index__"
)

// Index is a secondary mapping persisted as a single record of a RecordStore.
// It is not safe for concurrent use.
type Index[V any] struct {
	store   model.RecordStore
	key     string
	kind    string
	logger  *logger.Logger
	entries map[string]V
}

// NewIndex creates an empty index stored under key. kind is written to the
// record metadata as its type.
func NewIndex[V any](store model.RecordStore, key, kind string, logger *logger.Logger) *Index[V] {
	return &Index[V]{
		store:   store,
		key:     key,
		kind:    kind,
		logger:  logger,
		entries: make(map[string]V),
	}
}

// Load replaces the entries with the stored snapshot. A missing or
// unreadable snapshot leaves the index empty.
func (i *Index[V]) Load(ctx context.Context) error {
	i.entries = make(map[string]V)

	rec, err := i.store.Read(ctx, i.key)
	if err != nil {
		return fmt.Errorf("failed to read index %s: %w", i.key, err)
	}
	if rec == nil {
		return nil
	}

	entries := make(map[string]V)
	if err := rec.Data.Decode(&entries); err != nil {
		i.logger.Warn("Index: failed to decode snapshot, starting empty",
			"index", i.key,
			"error", err.Error())
		return nil
	}
	if entries != nil {
		i.entries = entries
	}
	return nil
}

// Save writes the entries back. The record is created on first use and
// updated afterwards.
func (i *Index[V]) Save(ctx context.Context) error {
	data, err := model.NewDocument(i.entries)
	if err != nil {
		return fmt.Errorf("failed to encode index %s: %w", i.key, err)
	}

	_, err = i.store.Create(ctx, i.key, data, map[string]string{"type": i.kind})
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrDuplicateKey) {
		return fmt.Errorf("failed to save index %s: %w", i.key, err)
	}

	ok, err := i.store.Update(ctx, i.key, data, nil)
	if err != nil {
		return fmt.Errorf("failed to save index %s: %w", i.key, err)
	}
	if ok {
		return nil
	}

	// The previous snapshot is indexed but unreadable; replace it.
	i.logger.Warn("Index: snapshot unreadable, recreating",
		"index", i.key)
	if _, err := i.store.Delete(ctx, i.key); err != nil {
		return fmt.Errorf("failed to save index %s: %w", i.key, err)
	}
	if _, err := i.store.Create(ctx, i.key, data, map[string]string{"type": i.kind}); err != nil {
		return fmt.Errorf("failed to save index %s: %w", i.key, err)
	}
	return nil
}

func (i *Index[V]) Get(k string) (V, bool) {
	v, ok := i.entries[k]
	return v, ok
}

func (i *Index[V]) Put(k string, v V) {
	i.entries[k] = v
}

// Remove deletes k and reports whether it was present.
func (i *Index[V]) Remove(k string) bool {
	if _, ok := i.entries[k]; !ok {
		return false
	}
	delete(i.entries, k)
	return true
}

// RemoveFunc deletes every entry for which del returns true and returns
// how many were removed.
func (i *Index[V]) RemoveFunc(del func(k string, v V) bool) int {
	n := len(i.entries)
	maps.DeleteFunc(i.entries, del)
	return n - len(i.entries)
}

func (i *Index[V]) Len() int {
	return len(i.entries)
}

// Keys returns the keys in lexical order.
func (i *Index[V]) Keys() []string {
	return slices.Sorted(maps.Keys(i.entries))
}

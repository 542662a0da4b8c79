package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dtroode/pastedb/internal/logger"
	"github.com/dtroode/pastedb/internal/model"
)

const (
	// IndexKey is the reserved key the index snapshot is stored under.
	IndexKey = "__index__"

	indexTitle    = "PasteDB_Index.json"
	pointerPrefix = "index:"
)

var _ model.RecordStore = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithAvailableBackends sets the registered backend names reported by Info.
func WithAvailableBackends(names []string) StoreOption {
	return func(s *Store) {
		s.available = slices.Clone(names)
	}
}

// WithIndexID seeds the remote id of an existing index snapshot.
// It takes precedence over the pointer store.
func WithIndexID(id string) StoreOption {
	return func(s *Store) {
		s.indexID = id
	}
}

// Store is a keyed object store over a single blob backend.
//
// Every record lives in its own blob. The index mapping keys to blob ids is
// itself a blob and is rewritten in full after every mutation; the id of the
// newest snapshot is remembered in the pointer store.
type Store struct {
	backend   model.Backend
	pointers  model.IndexPointerStore
	available []string
	logger    *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	index   map[string]model.IndexEntry
	indexID string
	loaded  bool
	// unreadID is a snapshot that failed to load. It is never deleted.
	unreadID string
}

// NewStore creates a Store on top of the selected backend.
// pointers may be nil, in which case the index is only found through WithIndexID.
func NewStore(backend model.Backend, pointers model.IndexPointerStore, logger *logger.Logger, opts ...StoreOption) *Store {
	s := &Store{
		backend:  backend,
		pointers: pointers,
		logger:   logger,
		now:      time.Now,
		index:    make(map[string]model.IndexEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.available) == 0 {
		s.available = []string{backend.Name()}
	}
	return s
}

// Create stores a new record under key and returns the id of its blob.
func (s *Store) Create(ctx context.Context, key string, data model.Document, metadata map[string]string) (string, error) {
	if key == IndexKey {
		return "", fmt.Errorf("%w: %s", model.ErrReservedKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)

	if _, ok := s.index[key]; ok {
		s.logger.Info("Store: key already exists",
			"key", key)
		return "", fmt.Errorf("%w: %s", model.ErrDuplicateKey, key)
	}

	now := s.now().Unix()
	if metadata == nil {
		metadata = map[string]string{}
	}
	rec := model.Record{
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}

	id, err := s.put(ctx, key, rec)
	if err != nil {
		s.logger.Error("Store: failed to store record",
			"key", key,
			"error", err.Error())
		return "", fmt.Errorf("failed to store record: %w", err)
	}

	s.index[key] = model.IndexEntry{
		RemoteID:  id,
		Backend:   s.backend.Name(),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if err := s.saveIndex(ctx); err != nil {
		delete(s.index, key)
		s.discard(ctx, key, id)
		return "", err
	}

	s.logger.Debug("Store: record created",
		"key", key,
		"remote_id", id)

	return id, nil
}

// Read returns the record stored under key.
// A missing key and an unreadable blob both yield nil.
func (s *Store) Read(ctx context.Context, key string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)

	entry, ok := s.index[key]
	if !ok {
		return nil, nil
	}
	return s.read(ctx, key, entry)
}

// Update replaces the payload under key with a new blob.
// created_at is kept, and so is the previous metadata when metadata is empty.
// It returns false when key is unknown or its current record cannot be read.
func (s *Store) Update(ctx context.Context, key string, data model.Document, metadata map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)

	prev, ok := s.index[key]
	if !ok {
		return false, nil
	}

	current, err := s.read(ctx, key, prev)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}

	if len(metadata) == 0 {
		metadata = current.Metadata
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	now := s.now().Unix()
	rec := model.Record{
		Data:      data,
		CreatedAt: current.CreatedAt,
		UpdatedAt: now,
		Metadata:  metadata,
	}

	id, err := s.put(ctx, key, rec)
	if err != nil {
		s.logger.Error("Store: failed to store updated record",
			"key", key,
			"error", err.Error())
		return false, fmt.Errorf("failed to store record: %w", err)
	}

	s.index[key] = model.IndexEntry{
		RemoteID:  id,
		Backend:   s.backend.Name(),
		CreatedAt: prev.CreatedAt,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if err := s.saveIndex(ctx); err != nil {
		s.index[key] = prev
		s.discard(ctx, key, id)
		return false, err
	}

	s.discard(ctx, key, prev.RemoteID)

	s.logger.Debug("Store: record updated",
		"key", key,
		"remote_id", id,
		"previous_id", prev.RemoteID)

	return true, nil
}

// Delete drops key from the index. Removing its blob is attempted but not required.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)

	entry, ok := s.index[key]
	if !ok {
		return false, nil
	}

	delete(s.index, key)
	if err := s.saveIndex(ctx); err != nil {
		s.index[key] = entry
		return false, err
	}

	s.discard(ctx, key, entry.RemoteID)

	s.logger.Debug("Store: record deleted",
		"key", key,
		"remote_id", entry.RemoteID)

	return true, nil
}

// ListKeys returns every indexed key in lexical order.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)
	return s.keys(), nil
}

// Count returns the number of indexed keys.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)
	return len(s.index), nil
}

// Search returns the keys whose payload contains query, ignoring case.
// With a field name only that top-level field is matched; otherwise the
// whole serialized payload is. Every record is fetched, unreadable ones are skipped.
func (s *Store) Search(ctx context.Context, query, field string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)

	needle := strings.ToLower(query)
	results := []string{}
	for _, key := range s.keys() {
		rec, err := s.read(ctx, key, s.index[key])
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}

		if field == "" {
			if rec.Data.Contains(query) {
				results = append(results, key)
			}
			continue
		}

		value, ok := rec.Data.Field(field)
		if ok && strings.Contains(strings.ToLower(value), needle) {
			results = append(results, key)
		}
	}

	return results, nil
}

// Backup writes the index and every readable record into one blob and
// returns its id. An empty name gets a timestamped default.
func (s *Store) Backup(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)

	now := s.now().Unix()
	if name == "" {
		name = fmt.Sprintf("PasteDB_Backup_%d.json", now)
	}

	backup := model.Backup{
		Backend:    s.backend.Name(),
		BackendURL: s.backend.BaseURL(),
		BackupTime: now,
		Index:      maps.Clone(s.index),
		Records:    make(map[string]model.Record, len(s.index)),
	}
	for _, key := range s.keys() {
		rec, err := s.read(ctx, key, s.index[key])
		if err != nil {
			return "", err
		}
		if rec != nil {
			backup.Records[key] = *rec
		}
	}

	content, err := encode(backup)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}

	id, err := s.backend.Store(ctx, content, name)
	if err != nil {
		s.logger.Error("Store: failed to store backup",
			"name", name,
			"error", err.Error())
		return "", fmt.Errorf("failed to store backup: %w", err)
	}

	s.logger.Info("Store: backup created",
		"name", name,
		"remote_id", id,
		"records", len(backup.Records))

	return id, nil
}

// Info describes the store and its backend.
func (s *Store) Info(ctx context.Context) (model.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadIndex(ctx)

	return model.Info{
		Backend:           s.backend.Name(),
		BackendURL:        s.backend.BaseURL(),
		TotalRecords:      len(s.index),
		IndexID:           s.indexID,
		AvailableBackends: slices.Clone(s.available),
	}, nil
}

// Test round-trips a throwaway record through the backend and returns
// the id of the blob it was stored in.
func (s *Store) Test(ctx context.Context, kind string) (string, error) {
	ts := s.now().Unix()
	key := fmt.Sprintf("test_%d", s.now().UnixNano())

	data, err := model.NewDocument(map[string]any{"test": true, "timestamp": ts})
	if err != nil {
		return "", err
	}

	id, err := s.Create(ctx, key, data, map[string]string{"type": kind})
	if err != nil {
		return "", fmt.Errorf("failed to create test record: %w", err)
	}

	rec, err := s.Read(ctx, key)
	if _, derr := s.Delete(ctx, key); derr != nil {
		s.logger.Warn("Store: failed to remove test record",
			"key", key,
			"error", derr.Error())
	}
	if err != nil {
		return "", fmt.Errorf("failed to read test record: %w", err)
	}
	if rec == nil {
		return "", errors.New("test record could not be read back")
	}
	if v, ok := rec.Data.Field("test"); !ok || v != "true" {
		return "", errors.New("test record came back altered")
	}

	return id, nil
}

func (s *Store) keys() []string {
	return slices.Sorted(maps.Keys(s.index))
}

func (s *Store) pointerName() string {
	return pointerPrefix + s.backend.Name()
}

// read fetches and decodes the blob behind entry. Failures are logged and
// reported as a missing record; only context errors are returned.
func (s *Store) read(ctx context.Context, key string, entry model.IndexEntry) (*model.Record, error) {
	content, err := s.backend.Fetch(ctx, entry.RemoteID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Warn("Store: failed to fetch record",
			"key", key,
			"remote_id", entry.RemoteID,
			"error", err.Error())
		return nil, nil
	}

	rec, err := decodeRecord(content)
	if err != nil {
		s.logger.Warn("Store: failed to decode record",
			"key", key,
			"remote_id", entry.RemoteID,
			"error", err.Error())
		return nil, nil
	}
	rec.ID = entry.RemoteID

	return rec, nil
}

func (s *Store) put(ctx context.Context, key string, rec model.Record) (string, error) {
	content, err := encode(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return s.backend.Store(ctx, content, recordTitle(key))
}

// discard deletes a blob that nothing points at anymore. Failures only get logged.
func (s *Store) discard(ctx context.Context, key, remoteID string) {
	if remoteID == "" {
		return
	}
	removed, err := s.backend.Delete(ctx, remoteID)
	if err != nil {
		s.logger.Warn("Store: failed to delete superseded blob",
			"key", key,
			"remote_id", remoteID,
			"error", err.Error())
		return
	}
	if !removed {
		s.logger.Debug("Store: superseded blob left in place",
			"key", key,
			"remote_id", remoteID)
	}
}

// loadIndex reads the latest index snapshot once. Any failure leaves an
// empty index.
func (s *Store) loadIndex(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	if s.indexID == "" && s.pointers != nil {
		id, err := s.pointers.GetPointer(ctx, s.pointerName())
		if err != nil {
			s.logger.Warn("Store: failed to read index pointer",
				"backend", s.backend.Name(),
				"error", err.Error())
		}
		s.indexID = id
	}

	if s.indexID == "" {
		s.logger.Debug("Store: starting with empty index",
			"backend", s.backend.Name())
		return
	}

	content, err := s.backend.Fetch(ctx, s.indexID)
	if err != nil {
		s.logger.Warn("Store: failed to fetch index, starting empty",
			"index_id", s.indexID,
			"error", err.Error())
		s.unreadID = s.indexID
		return
	}

	rec, err := decodeRecord(content)
	if err != nil {
		s.logger.Warn("Store: failed to decode index, starting empty",
			"index_id", s.indexID,
			"error", err.Error())
		s.unreadID = s.indexID
		return
	}

	entries := make(map[string]model.IndexEntry)
	if err := rec.Data.Decode(&entries); err != nil {
		s.logger.Warn("Store: failed to decode index entries, starting empty",
			"index_id", s.indexID,
			"error", err.Error())
		s.unreadID = s.indexID
		return
	}
	if entries != nil {
		s.index = entries
	}

	s.logger.Info("Store: index loaded",
		"index_id", s.indexID,
		"records", len(s.index))
}

// saveIndex writes a full snapshot of the index as a new blob, records its
// id and discards the previous snapshot.
func (s *Store) saveIndex(ctx context.Context) error {
	data, err := model.NewDocument(s.index)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	now := s.now().Unix()
	content, err := encode(model.Record{
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]string{"type": "index"},
	})
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	id, err := s.backend.Store(ctx, content, indexTitle)
	if err != nil {
		s.logger.Error("Store: failed to save index",
			"error", err.Error())
		return fmt.Errorf("failed to save index: %w", err)
	}

	prev := s.indexID
	s.indexID = id

	if s.pointers != nil {
		if err := s.pointers.SetPointer(ctx, s.pointerName(), id); err != nil {
			s.logger.Warn("Store: failed to record index pointer",
				"index_id", id,
				"error", err.Error())
		}
	}

	if prev != id && prev != s.unreadID {
		s.discard(ctx, IndexKey, prev)
	}

	return nil
}

func recordTitle(key string) string {
	return "PasteDB_" + key + ".json"
}

func decodeRecord(content []byte) (*model.Record, error) {
	var rec model.Record
	if err := json.Unmarshal(content, &rec); err != nil {
		return nil, err
	}
	if len(rec.Data) > 0 {
		rec.Data = model.Document(rec.Data.Compact())
	}
	return &rec, nil
}

// encode renders v as indented JSON without HTML escaping.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

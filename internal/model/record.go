package model

import "context"

// RecordStore is the keyed object store contract used by the account layer.
type RecordStore interface {
	Create(ctx context.Context, key string, data Document, metadata map[string]string) (string, error)
	Read(ctx context.Context, key string) (*Record, error)
	Update(ctx context.Context, key string, data Document, metadata map[string]string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Info(ctx context.Context) (Info, error)
	// Test round-trips a throwaway record tagged with kind and returns its blob id.
	Test(ctx context.Context, kind string) (string, error)
}

// Record is the value persisted as one remote blob per logical key.
// ID is empty until the first successful store.
type Record struct {
	ID        string            `json:"id"`
	Data      Document          `json:"data"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
	Metadata  map[string]string `json:"metadata"`
}

// IndexEntry points a logical key at the blob holding its current record.
type IndexEntry struct {
	RemoteID  string            `json:"remote_id"`
	Backend   string            `json:"backend"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
	Metadata  map[string]string `json:"metadata"`
}

// Backup is the snapshot written by Store.Backup.
type Backup struct {
	Backend    string                `json:"backend"`
	BackendURL string                `json:"backend_url"`
	BackupTime int64                 `json:"backup_time"`
	Index      map[string]IndexEntry `json:"index"`
	Records    map[string]Record     `json:"records"`
}

// Info describes a store instance.
type Info struct {
	Backend           string   `json:"backend"`
	BackendURL        string   `json:"backend_url"`
	TotalRecords      int      `json:"total_records"`
	IndexID           string   `json:"index_id"`
	AvailableBackends []string `json:"available_backends"`
}

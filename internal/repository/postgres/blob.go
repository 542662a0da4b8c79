package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dtroode/pastedb/internal/model"
)

// querier is the part of *Connection the repositories use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var (
	_ model.Backend = (*BlobRepository)(nil)
	_ model.Pinger  = (*BlobRepository)(nil)
)

// BlobRepository is a blob backend over the blobs table.
type BlobRepository struct {
	db      querier
	baseURL string
}

func NewBlobRepository(db querier, baseURL string) *BlobRepository {
	return &BlobRepository{
		db:      db,
		baseURL: baseURL,
	}
}

func (r *BlobRepository) Name() string {
	return "postgres"
}

func (r *BlobRepository) BaseURL() string {
	return r.baseURL
}

func (r *BlobRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return model.NewBackendError(r.Name(), "ping", err)
	}
	return nil
}

func (r *BlobRepository) Store(ctx context.Context, content []byte, title string) (string, error) {
	id := uuid.New()
	query := `INSERT INTO blobs (id, title, content) VALUES ($1, $2, $3)`

	if _, err := r.db.Exec(ctx, query, id, title, content); err != nil {
		return "", model.NewBackendError(r.Name(), "store", fmt.Errorf("failed to insert blob: %w", err))
	}
	return id.String(), nil
}

func (r *BlobRepository) Fetch(ctx context.Context, id string) ([]byte, error) {
	blobID, err := uuid.Parse(id)
	if err != nil {
		return nil, model.NewBackendError(r.Name(), "fetch", fmt.Errorf("blob %q: %w", id, model.ErrNotFound))
	}

	var content []byte
	err = r.db.QueryRow(ctx, `SELECT content FROM blobs WHERE id = $1`, blobID).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewBackendError(r.Name(), "fetch", fmt.Errorf("blob %q: %w", id, model.ErrNotFound))
		}
		return nil, model.NewBackendError(r.Name(), "fetch", fmt.Errorf("failed to select blob: %w", err))
	}
	return content, nil
}

func (r *BlobRepository) Delete(ctx context.Context, id string) (bool, error) {
	blobID, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM blobs WHERE id = $1`, blobID)
	if err != nil {
		return false, model.NewBackendError(r.Name(), "delete", fmt.Errorf("failed to delete blob: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

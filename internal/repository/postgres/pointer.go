package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dtroode/pastedb/internal/model"
)

var _ model.IndexPointerStore = (*PointerRepository)(nil)

// PointerRepository keeps index snapshot ids in the index_pointers table.
type PointerRepository struct {
	db querier
}

func NewPointerRepository(db querier) *PointerRepository {
	return &PointerRepository{
		db: db,
	}
}

func (r *PointerRepository) GetPointer(ctx context.Context, name string) (string, error) {
	var remoteID string
	err := r.db.QueryRow(ctx, `SELECT remote_id FROM index_pointers WHERE name = $1`, name).Scan(&remoteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get index pointer[%s]: %w", name, err)
	}
	return remoteID, nil
}

func (r *PointerRepository) SetPointer(ctx context.Context, name, remoteID string) error {
	query := `
		INSERT INTO index_pointers (name, remote_id, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET remote_id = excluded.remote_id, updated_at = excluded.updated_at`

	if _, err := r.db.Exec(ctx, query, name, remoteID); err != nil {
		return fmt.Errorf("failed to set index pointer[%s]: %w", name, err)
	}
	return nil
}

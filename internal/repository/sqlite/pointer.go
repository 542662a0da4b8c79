// Package sqlite persists index snapshot pointers in a local SQLite file so a
// new process can find the latest remote index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/dtroode/pastedb/internal/model"
	"github.com/dtroode/pastedb/internal/repository/sqlite/migrations"
)

// Open opens the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

var _ model.IndexPointerStore = (*PointerRepository)(nil)

type PointerRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPointerRepository(db *sql.DB) *PointerRepository {
	return &PointerRepository{db: db, now: time.Now}
}

func (r *PointerRepository) GetPointer(ctx context.Context, name string) (string, error) {
	var remoteID string
	err := r.db.QueryRowContext(ctx, `SELECT remote_id FROM index_pointers WHERE name = ?`, name).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get index pointer[%s]: %w", name, err)
	}
	return remoteID, nil
}

func (r *PointerRepository) SetPointer(ctx context.Context, name, remoteID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO index_pointers (name, remote_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET remote_id = excluded.remote_id, updated_at = excluded.updated_at
	`, name, remoteID, r.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set index pointer[%s]: %w", name, err)
	}
	return nil
}

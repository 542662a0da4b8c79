// Package logging implements a backend decorator that logs every remote call.
package logging

import (
	"context"
	"time"

	"github.com/dtroode/pastedb/internal/logger"
	"github.com/dtroode/pastedb/internal/model"
)

var _ model.Backend = (*Backend)(nil)

// Backend logs operation, duration and outcome for each call to next.
type Backend struct {
	next   model.Backend
	logger *logger.Logger
}

// New wraps next with call logging.
func New(next model.Backend, logger *logger.Logger) *Backend {
	return &Backend{
		next:   next,
		logger: logger.With("backend", next.Name()),
	}
}

func (b *Backend) Name() string {
	return b.next.Name()
}

func (b *Backend) BaseURL() string {
	return b.next.BaseURL()
}

func (b *Backend) Store(ctx context.Context, content []byte, title string) (string, error) {
	start := time.Now()
	id, err := b.next.Store(ctx, content, title)
	b.log("store", start, err, "title", title, "size", len(content), "remote_id", id)
	return id, err
}

func (b *Backend) Fetch(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	data, err := b.next.Fetch(ctx, id)
	b.log("fetch", start, err, "remote_id", id, "size", len(data))
	return data, err
}

func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ok, err := b.next.Delete(ctx, id)
	b.log("delete", start, err, "remote_id", id, "deleted", ok)
	return ok, err
}

func (b *Backend) log(op string, start time.Time, err error, attrs ...any) {
	args := append([]any{"op", op, "duration_ms", time.Since(start).Milliseconds()}, attrs...)
	if err != nil {
		b.logger.Error("Backend call failed", append(args, "error", err.Error())...)
		return
	}
	b.logger.Debug("Backend call completed", args...)
}

// Package gcs implements a blob backend on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/dtroode/pastedb/internal/config"
	"github.com/dtroode/pastedb/internal/model"
)

const (
	objectPrefix = "pastedb/"
	titleKey     = "title"
)

// bucketAPI is the slice of bucket operations the backend needs.
type bucketAPI interface {
	Attrs(ctx context.Context) error
	Write(ctx context.Context, name string, data []byte, metadata map[string]string) error
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// bucketHandle adapts *storage.BucketHandle to bucketAPI.
type bucketHandle struct{ b *storage.BucketHandle }

func (h bucketHandle) Attrs(ctx context.Context) error {
	_, err := h.b.Attrs(ctx)
	return err
}

func (h bucketHandle) Write(ctx context.Context, name string, data []byte, metadata map[string]string) error {
	w := h.b.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (h bucketHandle) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := h.b.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (h bucketHandle) Delete(ctx context.Context, name string) error {
	return h.b.Object(name).Delete(ctx)
}

var (
	_ model.Backend = (*Backend)(nil)
	_ model.Pinger  = (*Backend)(nil)
)

// Backend stores each blob as one object in a GCS bucket.
type Backend struct {
	api     bucketAPI
	baseURL string
}

// New creates a GCS backend. The returned close function releases the client.
func New(ctx context.Context, cfg config.GCS) (*Backend, func() error, error) {
	var options []option.ClientOption
	if cfg.Endpoint != "" {
		options = append(options, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.NoAuth {
		options = append(options, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	baseURL := "https://storage.googleapis.com/" + cfg.Bucket
	if cfg.Endpoint != "" {
		baseURL = cfg.Endpoint
	}
	return NewWithAPI(bucketHandle{b: client.Bucket(cfg.Bucket)}, baseURL), client.Close, nil
}

// NewWithAPI allows injecting a mockable API (used in tests).
func NewWithAPI(api bucketAPI, baseURL string) *Backend {
	return &Backend{api: api, baseURL: baseURL}
}

func (b *Backend) Name() string {
	return "gcs"
}

func (b *Backend) BaseURL() string {
	return b.baseURL
}

// Ping reads the bucket attributes.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.api.Attrs(ctx); err != nil {
		return model.NewBackendError(b.Name(), "ping", fmt.Errorf("failed to read bucket attrs: %w", err))
	}
	return nil
}

func (b *Backend) Store(ctx context.Context, content []byte, title string) (string, error) {
	id := uuid.NewString()
	if err := b.api.Write(ctx, objectPrefix+id, content, map[string]string{titleKey: title}); err != nil {
		return "", model.NewBackendError(b.Name(), "store", fmt.Errorf("writing object %s: %w", id, err))
	}
	return id, nil
}

func (b *Backend) Fetch(ctx context.Context, id string) ([]byte, error) {
	data, err := b.api.Read(ctx, objectPrefix+id)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, model.NewBackendError(b.Name(), "fetch", fmt.Errorf("reading object %s: %w", id, model.ErrNotFound))
	}
	if err != nil {
		return nil, model.NewBackendError(b.Name(), "fetch", fmt.Errorf("reading object %s: %w", id, err))
	}
	return data, nil
}

// Delete removes the object. A missing object reports false.
func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	err := b.api.Delete(ctx, objectPrefix+id)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, model.NewBackendError(b.Name(), "delete", fmt.Errorf("deleting object %s: %w", id, err))
	}
	return true, nil
}

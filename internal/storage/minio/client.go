package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/dtroode/pastedb/internal/model"
)

const objectPrefix = "pastedb/"

// Internal adapter interface to enable mocking without a real MinIO server.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Wrapper to adapt *minio.Client to minioAPI.
type minioClientWrapper struct{ c *minio.Client }

func (w minioClientWrapper) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return w.c.BucketExists(ctx, bucketName)
}
func (w minioClientWrapper) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return w.c.MakeBucket(ctx, bucketName, opts)
}
func (w minioClientWrapper) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return w.c.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}
func (w minioClientWrapper) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := w.c.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}
func (w minioClientWrapper) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return w.c.RemoveObject(ctx, bucketName, objectName, opts)
}
func (w minioClientWrapper) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return w.c.StatObject(ctx, bucketName, objectName, opts)
}

var (
	_ model.Backend = (*Client)(nil)
	_ model.Pinger  = (*Client)(nil)
)

// Client is a blob backend storing each blob as one object in a MinIO bucket.
type Client struct {
	api     minioAPI
	bucket  string
	baseURL string
}

// NewClient creates a new MinIO backend using a real *minio.Client instance.
func NewClient(ctx context.Context, client *minio.Client, bucket string) (*Client, error) {
	return NewClientWithAPI(ctx, minioClientWrapper{c: client}, client.EndpointURL().String(), bucket)
}

// NewClientWithAPI allows injecting a mockable API (used in tests).
func NewClientWithAPI(ctx context.Context, api minioAPI, baseURL, bucket string) (*Client, error) {
	c := &Client{
		api:     api,
		bucket:  bucket,
		baseURL: baseURL,
	}

	// Ensure bucket exists
	err := c.ensureBucketExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return c, nil
}

// Name returns the registration name of the backend.
func (c *Client) Name() string {
	return "minio"
}

// BaseURL returns the MinIO endpoint URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping reports the backend as live when the bucket is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ensureBucketExists(ctx); err != nil {
		return model.NewBackendError(c.Name(), "ping", err)
	}
	return nil
}

// ensureBucketExists creates the bucket if it doesn't exist
func (c *Client) ensureBucketExists(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Store uploads content under a fresh object id.
func (c *Client) Store(ctx context.Context, content []byte, title string) (string, error) {
	id := uuid.NewString()
	_, err := c.api.PutObject(ctx, c.bucket, objectPrefix+id, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"title": title},
	})
	if err != nil {
		return "", model.NewBackendError(c.Name(), "store", fmt.Errorf("failed to upload object: %w", err))
	}
	return id, nil
}

// Fetch downloads the object stored under id.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	obj, err := c.api.GetObject(ctx, c.bucket, objectPrefix+id, minio.GetObjectOptions{})
	if err != nil {
		return nil, model.NewBackendError(c.Name(), "fetch", mapError("failed to get object", err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, model.NewBackendError(c.Name(), "fetch", mapError("failed to read object", err))
	}
	return data, nil
}

// Delete removes the object stored under id. A missing object reports false.
func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	exists, err := c.exists(ctx, objectPrefix+id)
	if err != nil {
		return false, model.NewBackendError(c.Name(), "delete", err)
	}
	if !exists {
		return false, nil
	}

	err = c.api.RemoveObject(ctx, c.bucket, objectPrefix+id, minio.RemoveObjectOptions{})
	if err != nil {
		return false, model.NewBackendError(c.Name(), "delete", fmt.Errorf("failed to delete object: %w", err))
	}
	return true, nil
}

func (c *Client) exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		// Check if it's a "not found" error
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

func mapError(msg string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", msg, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

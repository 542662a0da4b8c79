// Package s3 implements a blob backend on Amazon S3 or any S3-compatible store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/dtroode/pastedb/internal/config"
	"github.com/dtroode/pastedb/internal/model"
)

const objectPrefix = "pastedb/"

// s3API is the subset of *s3.Client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var (
	_ model.Backend = (*Backend)(nil)
	_ model.Pinger  = (*Backend)(nil)
)

// Backend stores each blob as one object in an S3 bucket.
type Backend struct {
	api     s3API
	bucket  string
	baseURL string
}

// New creates an S3 backend from configuration. Static credentials are used
// when an access key is set, the default AWS chain otherwise.
func New(ctx context.Context, cfg config.S3) (*Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := cfg.BaseEndpoint
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return NewWithAPI(client, cfg.Bucket, baseURL), nil
}

// NewWithAPI allows injecting a mockable API (used in tests).
func NewWithAPI(api s3API, bucket, baseURL string) *Backend {
	return &Backend{api: api, bucket: bucket, baseURL: baseURL}
}

func (b *Backend) Name() string {
	return "s3"
}

func (b *Backend) BaseURL() string {
	return b.baseURL
}

// Ping checks that the bucket exists and is accessible.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return model.NewBackendError(b.Name(), "ping", fmt.Errorf("failed to head bucket: %w", err))
	}
	return nil
}

func (b *Backend) Store(ctx context.Context, content []byte, title string) (string, error) {
	id := uuid.NewString()
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(objectPrefix + id),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("application/json"),
		Metadata:      map[string]string{"title": title},
	})
	if err != nil {
		return "", model.NewBackendError(b.Name(), "store", fmt.Errorf("failed to put object: %w", err))
	}
	return id, nil
}

func (b *Backend) Fetch(ctx context.Context, id string) ([]byte, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectPrefix + id),
	})
	if err != nil {
		return nil, model.NewBackendError(b.Name(), "fetch", mapError("failed to get object", err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, model.NewBackendError(b.Name(), "fetch", fmt.Errorf("failed to read object: %w", err))
	}
	return data, nil
}

// Delete removes the object. A missing object reports false.
func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	key := aws.String(objectPrefix + id)

	_, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: key})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, model.NewBackendError(b.Name(), "delete", fmt.Errorf("failed to head object: %w", err))
	}

	_, err = b.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: key})
	if err != nil {
		return false, model.NewBackendError(b.Name(), "delete", fmt.Errorf("failed to delete object: %w", err))
	}
	return true, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func mapError(msg string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", msg, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

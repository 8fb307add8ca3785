package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// Provider is the blob store holding training job inputs and results.
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	DeleteObject(ctx context.Context, bucket, key string) error
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider stores objects as files under dir/bucket/key. It backs the
// single process deployment and tests.
type LocalProvider struct {
	dir string
}

func NewLocalProvider(dir string) *LocalProvider {
	return &LocalProvider{dir: dir}
}

func (p *LocalProvider) path(bucket, key string) (string, error) {
	root := filepath.Join(p.dir, bucket)
	path := filepath.Join(root, filepath.FromSlash(key))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key '%s'", key)
	}
	return path, nil
}

func (p *LocalProvider) CreateBucket(ctx context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(p.dir, bucket), os.ModePerm)
}

func (p *LocalProvider) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	path, err := p.path(bucket, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, err
	}
	return data, nil
}

func (p *LocalProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader) error {
	path, err := p.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	// Write to a temp file first so readers never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func (p *LocalProvider) DeleteObject(ctx context.Context, bucket, key string) error {
	path, err := p.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

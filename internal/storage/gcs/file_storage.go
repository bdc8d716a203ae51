// Package gcs provides file storage backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
}

// Storage writes artifacts to a configured GCS bucket.
type Storage struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed storage.
func New(client *storage.Client, cfg Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// NewFromContext dials a GCS client with default credentials.
func NewFromContext(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return New(client, cfg)
}

// Store uploads data to the bucket and returns a gs:// URI.
func (s *Storage) Store(ctx context.Context, name string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Retrieve downloads an object; nil data means not found.
func (s *Storage) Retrieve(ctx context.Context, path string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.objectName(path)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open object reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete removes an object, reporting whether it existed.
func (s *Storage) Delete(ctx context.Context, path string) (bool, error) {
	err := s.client.Bucket(s.bucket).Object(s.objectName(path)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete object: %w", err)
	}
	return true, nil
}

// List returns gs:// URIs for objects under prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var paths []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate objects: %w", err)
		}
		paths = append(paths, fmt.Sprintf("gs://%s/%s", s.bucket, attrs.Name))
	}
	return paths, nil
}

// objectName strips a gs:// URI back to the bucket-relative name.
func (s *Storage) objectName(path string) string {
	return strings.TrimPrefix(path, fmt.Sprintf("gs://%s/", s.bucket))
}

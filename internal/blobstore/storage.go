// Package blobstore owns the upload blob lifecycle: put, get, and
// best-effort delete of the image bytes a job carries by reference. It
// never holds onto the bytes itself — the bucket's own 24h lifecycle rule
// is the backstop for anything this package's delete calls miss.
package blobstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Store wraps a GCS client scoped to a single bucket with a Put/Get/Delete
// shape.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore creates a Store backed by GCS.
func NewStore(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore.NewStore: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// NewKey allocates a fresh blob_key of the form "temp/{user_id}/{uuid4}.{ext}".
// The "temp/" prefix is what the bucket's lifecycle rule matches to delete
// stragglers after 24h.
func NewKey(userID int64, ext string) string {
	return fmt.Sprintf("temp/%d/%s.%s", userID, uuid.NewString(), ext)
}

// Put uploads the blob under key, returning a reference URL.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("blobstore.Put: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blobstore.Put: close: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Get retrieves the blob at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore.Get: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Delete removes the blob at key. Callers treat failures as best-effort —
// the bucket's own TTL rule is the backstop.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("blobstore.Delete: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

package statements

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStore writes statement objects to cloud storage.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// WriteObject stores the content of r under bucket/object.
	WriteObject(ctx context.Context, bucket, object, contentType string, r io.Reader) error
}

// GCSStore is the Google Cloud Storage implementation of ObjectStore.
// It assumes Application Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a store with its own storage client.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// WriteObject implements ObjectStore.
func (s *GCSStore) WriteObject(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		// Closing after a failed copy aborts the upload.
		_ = w.Close()
		return fmt.Errorf("WriteObject: copy to GCS writer: %w", err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("WriteObject: finalize upload: %w", err)
	}
	return nil
}

// GCSURI formats a gs:// URI.
func GCSURI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// Package gcs uploads output artifacts to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to export to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to object names, e.g. "poi/2024-05".
	Prefix      string
	ContentType string
}

// Exporter copies local files into a configured GCS bucket.
type Exporter struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed exporter.
func New(client *storage.Client, cfg Config) (*Exporter, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/csv; charset=utf-8"
	}
	return &Exporter{client: client, cfg: cfg}, nil
}

// NewFromEnv builds a client from Application Default Credentials.
func NewFromEnv(ctx context.Context, cfg Config) (*Exporter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	exp, err := New(client, cfg)
	if err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return exp, nil
}

// Export uploads localPath and returns the gs:// URI of the object. The
// object is overwritten on each call so it always holds the latest snapshot.
func (e *Exporter) Export(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // path comes from configuration
	if err != nil {
		return "", fmt.Errorf("open export source: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	name := ObjectName(e.cfg.Prefix, localPath)
	return e.PutObject(ctx, name, e.cfg.ContentType, f)
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (e *Exporter) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := e.client.Bucket(e.cfg.Bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", e.cfg.Bucket, name), nil
}

// Close releases the client.
func (e *Exporter) Close() error {
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// ObjectName maps a local file to its object name under prefix.
func ObjectName(prefix, localPath string) string {
	base := filepath.Base(localPath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return path.Join(prefix, base)
}

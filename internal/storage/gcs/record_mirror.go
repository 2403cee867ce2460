// Package gcs mirrors record documents to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/storage/local"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// RecordMirror uploads <prefix>/<id>.json for every saved record.
type RecordMirror struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *storage.Client, cfg Config) (*RecordMirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &RecordMirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Open creates a client using Application Default Credentials.
func Open(ctx context.Context, cfg Config) (*RecordMirror, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	m, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	m.owned = true
	return m, nil
}

// ObjectName returns the object key used for id.
func (m *RecordMirror) ObjectName(id string) string {
	if m.prefix == "" {
		return id + ".json"
	}
	return path.Join(m.prefix, id+".json")
}

// SaveRecord uploads the record document and returns its gs:// URI.
func (m *RecordMirror) SaveRecord(ctx context.Context, record *crawler.Record) (string, error) {
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return "", fmt.Errorf("record id is required")
	}
	payload, err := local.EncodeJSON(record)
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	name := m.ObjectName(record.ID)
	writer := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(payload); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, name), nil
}

// Close releases the client when the mirror created it.
func (m *RecordMirror) Close() error {
	if m == nil || !m.owned {
		return nil
	}
	return m.client.Close()
}

// Package local writes records and run reports to the local filesystem.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// Config captures the parameters for the local record sink.
type Config struct {
	// BaseDir is the directory that receives one <id>.json per record.
	BaseDir string `mapstructure:"base_dir"`
}

// RecordSink writes one JSON document per record.
type RecordSink struct {
	baseDir string
}

// New creates the sink, making sure BaseDir exists and is writable.
func New(cfg Config) (*RecordSink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &RecordSink{baseDir: cfg.BaseDir}, nil
}

// SaveRecord writes <BaseDir>/<id>.json atomically and returns a file:// URI.
func (s *RecordSink) SaveRecord(ctx context.Context, record *crawler.Record) (string, error) {
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return "", fmt.Errorf("record id is required")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	name := record.ID + ".json"
	if filepath.Base(name) != name || strings.ContainsAny(record.ID, `/\`) || strings.HasPrefix(record.ID, ".") {
		return "", fmt.Errorf("invalid record id %q", record.ID)
	}
	payload, err := EncodeJSON(record)
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	target := filepath.Join(s.baseDir, name)
	if err := WriteFileAtomic(target, payload); err != nil {
		return "", err
	}
	return "file://" + target, nil
}

// EncodeJSON renders v as indented JSON without HTML escaping.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place, so readers never observe a partial document.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// Package local_test tests the local filesystem record sink.
package local_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		sink, err := local.New(local.Config{BaseDir: filepath.Join(t.TempDir(), "popups")})
		require.NoError(t, err)
		assert.NotNil(t, sink)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestSaveRecord(t *testing.T) {
	dir := t.TempDir()
	sink, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	rec := crawler.NewRecord()
	rec.ID = "0a1b2c3d-0000-4000-8000-00000000000a"
	rec.Translations["ko"] = crawler.Translation{Title: "팝업 <Store> & more"}
	rec.Meta.FetchedAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	uri, err := sink.SaveRecord(context.Background(), rec)
	require.NoError(t, err)
	path := filepath.Join(dir, rec.ID+".json")
	assert.Equal(t, "file://"+path, uri)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "팝업 <Store> & more")
	assert.Contains(t, string(data), "\n  \"id\"")

	var decoded crawler.Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec.ID, decoded.ID)

	// overwrite leaves exactly one file and no temp files behind
	rec.Category = "POPUP"
	_, err = sink.SaveRecord(context.Background(), rec)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveRecordRejectsBadIDs(t *testing.T) {
	sink, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		rec := crawler.NewRecord()
		rec.ID = id
		_, err := sink.SaveRecord(context.Background(), rec)
		assert.Error(t, err, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := crawler.NewRecord()
	rec.ID = "ok"
	_, err = sink.SaveRecord(ctx, rec)
	assert.Error(t, err)
}

func TestReportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "crawl_report.json")
	report := &crawler.Report{
		RunID:    "run-1",
		Total:    3,
		Saved:    2,
		Skipped:  1,
		Failures: []crawler.Failure{{ID: "x", Locale: "ja", Error: "boom", Pass: 1}},
	}
	require.NoError(t, local.WriteReport(path, report))

	got, err := local.ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, got.RunID)
	assert.Equal(t, report.Failures, got.Failures)

	assert.Error(t, local.WriteReport("", report))
	_, err = local.ReadReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

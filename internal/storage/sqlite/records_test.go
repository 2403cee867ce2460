package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

func ptr(f float64) *float64 { return &f }

func sampleRecord() *crawler.Record {
	rec := crawler.NewRecord()
	rec.ID = "3f1c2a9e-1111-4222-8333-944455556666"
	rec.Category = "POPUP_STORE"
	rec.Duration = crawler.Duration{Start: "2025-03-01", End: "2025-03-20"}
	rec.Address = crawler.Address{City: "Seoul", Street: "Seongsu-ro 1"}
	rec.Geo = crawler.Geo{Lon: ptr(127.05), Lat: ptr(37.54)}
	rec.Pricing = crawler.Pricing{Type: "FREE"}
	rec.Translations["ko"] = crawler.Translation{Title: "팝업", Address: "Seoul, Seongsu-ro 1"}
	rec.Translations["en"] = crawler.Translation{Title: "Pop-up"}
	rec.Images = []crawler.Image{
		{URL: "https://img.example.com/a.jpg", Variant: "full", Role: crawler.RoleHead},
		{URL: "https://img.example.com/b.jpg", Variant: "large", Role: crawler.RoleContent},
	}
	rec.IsPopup = true
	return rec
}

func TestRecordStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := NewRecordStore(ctx, filepath.Join(t.TempDir(), "nested", "popups.sqlite"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	rec := sampleRecord()
	require.NoError(t, store.UpsertRecord(ctx, rec))

	rec.Images = rec.Images[:1]
	rec.Translations["ja"] = crawler.Translation{Title: "ポップアップ"}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	var popups int
	require.NoError(t, store.db.GetContext(ctx, &popups, `SELECT COUNT(*) FROM popups`))
	require.Equal(t, 1, popups)

	var translations int
	require.NoError(t, store.db.GetContext(ctx, &translations, `SELECT COUNT(*) FROM popup_translations WHERE popup_id = ?`, rec.ID))
	require.Equal(t, 3, translations)

	var images []string
	require.NoError(t, store.db.SelectContext(ctx, &images, `SELECT url FROM popup_images WHERE popup_id = ? ORDER BY ord`, rec.ID))
	require.Equal(t, []string{"https://img.example.com/a.jpg"}, images)

	var category string
	var isPopup bool
	row := store.db.QueryRowxContext(ctx, `SELECT category, is_popup FROM popups WHERE id = ?`, rec.ID)
	require.NoError(t, row.Scan(&category, &isPopup))
	require.Equal(t, "POPUP_STORE", category)
	require.True(t, isPopup)
}

func TestRecordStoreRequiresID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := NewRecordStore(ctx, filepath.Join(t.TempDir(), "popups.sqlite"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	require.Error(t, store.UpsertRecord(ctx, crawler.NewRecord()))
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), " ", nil)
	require.Error(t, err)
}

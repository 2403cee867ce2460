package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

func sampleRecord() *crawler.Record {
	lon, lat := 127.05, 37.54
	rec := crawler.NewRecord()
	rec.ID = "0a1b2c3d-0000-4000-8000-00000000000a"
	rec.Category = "POPUP_STORE"
	rec.Duration = crawler.Duration{Start: "2025-03-01", End: "2025-03-20"}
	rec.Address = crawler.Address{City: "Seoul"}
	rec.Geo = crawler.Geo{Lon: &lon, Lat: &lat}
	rec.IsPopup = true
	rec.Translations["ko"] = crawler.Translation{Title: "팝업", Address: "Seoul"}
	rec.Translations["en"] = crawler.Translation{Title: "Pop-up"}
	rec.Images = []crawler.Image{
		{URL: "https://cdn/a.jpg", Variant: "full", Role: crawler.RoleHead},
		{URL: "https://cdn/b.jpg", Role: crawler.RoleContent},
	}
	return rec
}

func TestUpsertRecordWritesAllTablesInOneTx(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO popups").
		WithArgs(rec.ID, "POPUP_STORE", "2025-03-01", "2025-03-20", 127.05, 37.54, "Seoul", nil, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO popup_translations").
		WithArgs(rec.ID, "en", "Pop-up", nil, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO popup_translations").
		WithArgs(rec.ID, "ko", "팝업", "Seoul", nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM popup_images").
		WithArgs(rec.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO popup_images").
		WithArgs(rec.ID, "https://cdn/a.jpg", "full", 0, "head").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO popup_images").
		WithArgs(rec.ID, "https://cdn/b.jpg", nil, 1, "content").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRecordRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO popups").WillReturnError(errors.New("constraint violated"))
	mock.ExpectRollback()

	err = store.UpsertRecord(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "constraint violated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)
	for range Schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRecordValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStoreWithPool(nil)
	require.Error(t, err)

	var nilStore *RecordStore
	require.Error(t, nilStore.UpsertRecord(context.Background(), sampleRecord()))
	require.NoError(t, nilStore.Close())

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)
	require.Error(t, store.UpsertRecord(context.Background(), crawler.NewRecord()))
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = NewRecordStore(context.Background(), RecordStoreConfig{})
	require.Error(t, err)
}

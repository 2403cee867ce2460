package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

func f(v float64) *float64 { return &v }

func koSnapshot() *crawler.DetailSnapshot {
	return &crawler.DetailSnapshot{
		ResourceID: "id-1",
		Category:   "POPUP_STORE",
		Title:      "성수 팝업",
		Duration:   crawler.Duration{Start: "2025-03-01"},
		Address:    crawler.Address{City: "서울", Street: "성수로 1"},
		Geo:        crawler.Geo{Lon: f(127.05)},
		Pricing:    crawler.Pricing{Description: "무료"},
		Links:      []crawler.Link{{Href: "https://a.example.com", Label: "A"}},
		Images: []crawler.Image{
			{URL: "https://cdn/head.jpg", Variant: "full", Role: crawler.RoleHead},
		},
		SourceURL: "https://example.com/ko/festas/id-1",
	}
}

func enSnapshot() *crawler.DetailSnapshot {
	return &crawler.DetailSnapshot{
		ResourceID: "id-other",
		Category:   "EXHIBITION",
		Title:      "Seongsu Pop-up",
		Duration:   crawler.Duration{Start: "2025-02-01", End: "2025-03-20"},
		Address:    crawler.Address{City: "Seoul"},
		Geo:        crawler.Geo{Lon: f(1), Lat: f(37.54)},
		Pricing:    crawler.Pricing{Type: "FREE", Description: "Free"},
		Links: []crawler.Link{
			{Href: "https://a.example.com", Label: "A (en)"},
			{Href: "https://b.example.com", Label: "B"},
		},
		Images: []crawler.Image{
			{URL: "https://cdn/head.jpg", Variant: "large", Role: crawler.RoleHead},
			{URL: "https://cdn/c1.jpg", Variant: "direct", Role: crawler.RoleContent},
		},
		SourceURL: "https://example.com/en/festas/id-1",
	}
}

func TestMergeFirstLocaleWinsPerSubfield(t *testing.T) {
	t.Parallel()
	rec := crawler.NewRecord()
	Merge(rec, koSnapshot(), "ko")
	Merge(rec, enSnapshot(), "en")

	require.Equal(t, "id-1", rec.ID)
	require.Equal(t, "POPUP_STORE", rec.Category)
	// start from ko, end filled from en
	require.Equal(t, crawler.Duration{Start: "2025-03-01", End: "2025-03-20"}, rec.Duration)
	require.Equal(t, crawler.Address{City: "서울", Street: "성수로 1"}, rec.Address)
	require.InDelta(t, 127.05, *rec.Geo.Lon, 1e-9)
	require.InDelta(t, 37.54, *rec.Geo.Lat, 1e-9)
	require.Equal(t, crawler.Pricing{Type: "FREE", Description: "무료"}, rec.Pricing)

	require.Equal(t, []crawler.Link{
		{Href: "https://a.example.com", Label: "A"},
		{Href: "https://b.example.com", Label: "B"},
	}, rec.Links)
	require.Len(t, rec.Images, 2)
	require.Equal(t, "full", rec.Images[0].Variant)

	require.Equal(t, crawler.Translation{Title: "성수 팝업", Address: "서울, 성수로 1", PriceDesc: "무료"}, rec.Translations["ko"])
	require.Equal(t, crawler.Translation{Title: "Seongsu Pop-up", Address: "Seoul", PriceDesc: "Free"}, rec.Translations["en"])
	require.Equal(t, map[string]string{
		"koUrl": "https://example.com/ko/festas/id-1",
		"enUrl": "https://example.com/en/festas/id-1",
	}, rec.Source)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()
	once := crawler.NewRecord()
	Merge(once, koSnapshot(), "ko")

	twice := crawler.NewRecord()
	Merge(twice, koSnapshot(), "ko")
	Merge(twice, koSnapshot(), "ko")

	require.Equal(t, once, twice)
}

func TestMergeNeverRegressesFields(t *testing.T) {
	t.Parallel()
	rec := crawler.NewRecord()
	Merge(rec, koSnapshot(), "ko")
	before := rec.Clone()

	Merge(rec, &crawler.DetailSnapshot{}, "ja")

	require.Equal(t, before.ID, rec.ID)
	require.Equal(t, before.Duration, rec.Duration)
	require.Equal(t, before.Address, rec.Address)
	require.Equal(t, before.Links, rec.Links)
	require.Equal(t, before.Images, rec.Images)
	require.Contains(t, rec.Translations, "ja")
	require.Len(t, rec.Translations, 2)
	require.NotContains(t, rec.Source, "jaUrl")
}

func TestMergeInitialisesZeroRecord(t *testing.T) {
	t.Parallel()
	rec := &crawler.Record{}
	Merge(rec, koSnapshot(), "ko")
	require.Equal(t, "id-1", rec.ID)
	require.NotNil(t, rec.Source)

	Merge(nil, koSnapshot(), "ko")
	Merge(rec, nil, "en")
	require.NotContains(t, rec.Translations, "en")
}

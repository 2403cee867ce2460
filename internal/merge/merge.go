// Package merge folds per-locale snapshots into one record.
package merge

import (
	"strings"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// Merge folds snap into rec. Scalar fields fill only when empty so earlier
// locales win; links and images append by key; the locale's translation and
// source URL are set. Merging the same snapshot twice changes nothing.
func Merge(rec *crawler.Record, snap *crawler.DetailSnapshot, locale string) {
	if rec == nil || snap == nil {
		return
	}
	ensureCollections(rec)

	fill(&rec.ID, snap.ResourceID)
	fill(&rec.Category, snap.Category)

	fill(&rec.Duration.Start, snap.Duration.Start)
	fill(&rec.Duration.End, snap.Duration.End)
	fill(&rec.Address.City, snap.Address.City)
	fill(&rec.Address.Street, snap.Address.Street)
	if rec.Geo.Lon == nil && snap.Geo.Lon != nil {
		v := *snap.Geo.Lon
		rec.Geo.Lon = &v
	}
	if rec.Geo.Lat == nil && snap.Geo.Lat != nil {
		v := *snap.Geo.Lat
		rec.Geo.Lat = &v
	}
	fill(&rec.Pricing.Type, snap.Pricing.Type)
	fill(&rec.Pricing.Description, snap.Pricing.Description)

	hrefs := make(map[string]struct{}, len(rec.Links))
	for _, l := range rec.Links {
		hrefs[l.Href] = struct{}{}
	}
	for _, l := range snap.Links {
		if l.Href == "" {
			continue
		}
		if _, ok := hrefs[l.Href]; ok {
			continue
		}
		hrefs[l.Href] = struct{}{}
		rec.Links = append(rec.Links, l)
	}

	urls := make(map[string]struct{}, len(rec.Images))
	for _, img := range rec.Images {
		urls[img.URL] = struct{}{}
	}
	for _, img := range snap.Images {
		if img.URL == "" {
			continue
		}
		if _, ok := urls[img.URL]; ok {
			continue
		}
		urls[img.URL] = struct{}{}
		rec.Images = append(rec.Images, img)
	}

	tr := rec.Translations[locale]
	if snap.Title != "" {
		tr.Title = snap.Title
	}
	if addr := joinAddress(snap.Address); addr != "" {
		tr.Address = addr
	}
	if snap.Pricing.Description != "" {
		tr.PriceDesc = snap.Pricing.Description
	}
	rec.Translations[locale] = tr

	if snap.SourceURL != "" {
		rec.Source[locale+"Url"] = snap.SourceURL
	}
}

func fill(dst *string, src string) {
	if *dst == "" && src != "" {
		*dst = src
	}
}

func joinAddress(a crawler.Address) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{a.City, a.Street} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func ensureCollections(rec *crawler.Record) {
	if rec.Links == nil {
		rec.Links = []crawler.Link{}
	}
	if rec.Images == nil {
		rec.Images = []crawler.Image{}
	}
	if rec.Translations == nil {
		rec.Translations = make(map[string]crawler.Translation)
	}
	if rec.Source == nil {
		rec.Source = make(map[string]string)
	}
}

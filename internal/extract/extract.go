// Package extract pulls the listing entity out of server-rendered detail pages.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

const (
	entityField = "getFesta"
	entityType  = "Festa"
	maxGallery  = 5
)

// Extract parses a detail page into a snapshot. It returns nil, nil when the
// page carries no payload, no graph, or no listing entity.
func Extract(body []byte, contentType, sourceURL string) (*crawler.DetailSnapshot, error) {
	payload, err := ParsePayload(body, contentType)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	graph, ok := GraphRoot(payload)
	if !ok {
		return nil, nil
	}
	entity := graph.FindEntity(entityField, entityType)
	if entity == nil {
		return nil, nil
	}
	snap := Snapshot(graph, entity)
	snap.SourceURL = sourceURL
	return snap, nil
}

// ParsePayload finds the embedded page-data JSON: script#__NEXT_DATA__ first,
// then any script whose body is a JSON object mentioning apolloState.
func ParsePayload(body []byte, contentType string) (map[string]any, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if text := strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text()); text != "" {
		if payload, ok := decodeObject(text); ok {
			return payload, nil
		}
	}

	var payload map[string]any
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(text, "{") || !strings.Contains(text, "apolloState") {
			return true
		}
		if obj, ok := decodeObject(text); ok {
			payload = obj
			return false
		}
		return true
	})
	return payload, nil
}

func decodeObject(text string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// Snapshot flattens a listing entity.
func Snapshot(g Graph, entity map[string]any) *crawler.DetailSnapshot {
	snap := &crawler.DetailSnapshot{
		ResourceID: str(entity, "resourceId"),
		Category:   str(entity, "category"),
		Title:      str(entity, "title"),
		Links:      []crawler.Link{},
	}

	if d := g.DerefObject(entity["duration"]); d != nil {
		snap.Duration = crawler.Duration{Start: str(d, "start"), End: str(d, "end")}
	}
	if a := g.DerefObject(entity["address"]); a != nil {
		snap.Address = crawler.Address{City: str(a, "city"), Street: str(a, "street")}
	}
	if geo := g.DerefObject(entity["geolocation"]); geo != nil {
		if coords, ok := geo["coordinates"].([]any); ok {
			if len(coords) >= 1 {
				snap.Geo.Lon = number(coords[0])
			}
			if len(coords) >= 2 {
				snap.Geo.Lat = number(coords[1])
			}
		}
	}
	if p := g.DerefObject(entity["pricing"]); p != nil {
		snap.Pricing = crawler.Pricing{Type: str(p, "type"), Description: str(p, "description")}
	}
	if links, ok := entity["links"].([]any); ok {
		for _, raw := range links {
			l := g.DerefObject(raw)
			if l == nil {
				continue
			}
			if href := str(l, "href"); href != "" {
				snap.Links = append(snap.Links, crawler.Link{Href: href, Label: str(l, "label")})
			}
		}
	}
	snap.Images = collectImages(g, entity)
	return snap
}

func str(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// number coerces JSON numbers and numeric strings; anything else is unknown.
func number(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

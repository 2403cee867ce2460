// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// Image roles attached to extracted images.
const (
	RoleHead    = "head"
	RoleContent = "content"
)

// Duration is the event window as ISO calendar dates (YYYY-MM-DD).
type Duration struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Address is the venue location as published upstream.
type Address struct {
	City   string `json:"city,omitempty"`
	Street string `json:"street,omitempty"`
}

// Geo holds coordinates; nil means unknown.
type Geo struct {
	Lon *float64 `json:"lon,omitempty"`
	Lat *float64 `json:"lat,omitempty"`
}

// NormalizedPrice is the structured view derived from free-text price descriptions.
type NormalizedPrice struct {
	Currency  string   `json:"currency,omitempty"`
	AmountMin *float64 `json:"amountMin,omitempty"`
	AmountMax *float64 `json:"amountMax,omitempty"`
}

// Pricing is the upstream price block plus the normalized view.
type Pricing struct {
	Type        string           `json:"type,omitempty"`
	Description string           `json:"description,omitempty"`
	Normalized  *NormalizedPrice `json:"normalized,omitempty"`
}

// Link is an outbound link attached to a listing.
type Link struct {
	Href  string `json:"href" validate:"required"`
	Label string `json:"label"`
}

// Image is one candidate picture; Variant is the size class it was taken from.
type Image struct {
	URL     string `json:"url" validate:"required,url"`
	Variant string `json:"variant,omitempty"`
	Role    string `json:"role,omitempty" validate:"omitempty,oneof=head content"`
}

// Translation carries the locale-specific strings of a record.
type Translation struct {
	Title     string `json:"title,omitempty"`
	Address   string `json:"address,omitempty"`
	PriceDesc string `json:"priceDesc,omitempty"`
}

// Detection explains the popup classification decision.
type Detection struct {
	Rule         string   `json:"rule"`
	Category     bool     `json:"category"`
	Keyword      bool     `json:"keyword"`
	Duration     bool     `json:"duration"`
	Keywords     []string `json:"keywords"`
	DurationDays *int     `json:"durationDays,omitempty"`
}

// ImageMeta describes how the representative image was selected.
type ImageMeta struct {
	Total              int    `json:"total"`
	Gallery            int    `json:"gallery"`
	SelectionRule      string `json:"selectionRule"`
	RepresentativeRole string `json:"representativeRole"`
}

// Validation lists the non-fatal problems found on a record.
type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Meta groups derived, non-upstream data attached to a record.
type Meta struct {
	Detection  *Detection  `json:"detection,omitempty"`
	Images     *ImageMeta  `json:"images,omitempty"`
	Validation *Validation `json:"validation,omitempty"`
	FetchedAt  time.Time   `json:"fetchedAt" validate:"required"`
}

// DetailSnapshot is the flattened detail entity extracted from one locale page.
// It lives only until it is merged.
type DetailSnapshot struct {
	ResourceID string
	Category   string
	Title      string
	Duration   Duration
	Address    Address
	Geo        Geo
	Links      []Link
	Pricing    Pricing
	Images     []Image
	SourceURL  string
}

// Record is the merged, classified and validated listing persisted per ID.
type Record struct {
	ID           string                 `json:"id" validate:"required"`
	Category     string                 `json:"category,omitempty"`
	Duration     Duration               `json:"duration"`
	Address      Address                `json:"address"`
	Geo          Geo                    `json:"geo"`
	Pricing      Pricing                `json:"pricing"`
	Links        []Link                 `json:"links" validate:"dive"`
	Images       []Image                `json:"images" validate:"dive"`
	Translations map[string]Translation `json:"translations"`
	Source       map[string]string      `json:"source"`
	IsPopup      bool                   `json:"isPopup"`
	Meta         Meta                   `json:"meta"`
}

// NewRecord returns an empty record ready to be merged into.
func NewRecord() *Record {
	return &Record{
		Links:        []Link{},
		Images:       []Image{},
		Translations: make(map[string]Translation),
		Source:       make(map[string]string),
	}
}

// Titles returns the non-empty translated titles in the given locale order.
func (r *Record) Titles(locales []string) []string {
	titles := make([]string, 0, len(r.Translations))
	for _, loc := range locales {
		if t, ok := r.Translations[loc]; ok && t.Title != "" {
			titles = append(titles, t.Title)
		}
	}
	return titles
}

// PriceDescriptions returns the non-empty translated price texts in locale order.
func (r *Record) PriceDescriptions(locales []string) []string {
	out := make([]string, 0, len(r.Translations))
	for _, loc := range locales {
		if t, ok := r.Translations[loc]; ok && t.PriceDesc != "" {
			out = append(out, t.PriceDesc)
		}
	}
	return out
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// Conditional attaches cached validators so the origin may answer 304.
	Conditional bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// NotModified reports whether the origin answered 304.
func (r FetchResponse) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}

// ContentType returns the response Content-Type header.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// StatusError is returned when the origin answers with a non-success status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Failure is one (id, locale) error logged during a run.
type Failure struct {
	ID     string `json:"id"`
	Locale string `json:"locale"`
	Error  string `json:"error"`
	Pass   int    `json:"pass"`
}

// HTTPFailure is the persisted per-URL failure counter.
type HTTPFailure struct {
	URL    string    `json:"url" db:"url"`
	Error  string    `json:"error" db:"last_error"`
	Count  int       `json:"count" db:"count"`
	LastAt time.Time `json:"lastAt" db:"last_at"`
}

// CacheEntry is the persisted conditional-fetch state of a URL.
type CacheEntry struct {
	URL          string    `db:"url"`
	ETag         *string   `db:"etag"`
	LastModified *string   `db:"last_modified"`
	LastStatus   int       `db:"last_status"`
	HitCount     int       `db:"hit_count"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Report summarizes one crawl run.
type Report struct {
	RunID        string        `json:"runId"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	Total        int           `json:"total"`
	Saved        int           `json:"saved"`
	Skipped      int           `json:"skipped"`
	Retried      int           `json:"retried"`
	Recovered    int           `json:"recovered"`
	Failures     []Failure     `json:"failures"`
	HTTPFailures []HTTPFailure `json:"httpFailures,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Links = append([]Link{}, r.Links...)
	out.Images = append([]Image{}, r.Images...)
	out.Translations = make(map[string]Translation, len(r.Translations))
	for k, v := range r.Translations {
		out.Translations[k] = v
	}
	out.Source = make(map[string]string, len(r.Source))
	for k, v := range r.Source {
		out.Source[k] = v
	}
	out.Geo = Geo{Lon: copyFloat(r.Geo.Lon), Lat: copyFloat(r.Geo.Lat)}
	if r.Pricing.Normalized != nil {
		n := *r.Pricing.Normalized
		n.AmountMin = copyFloat(n.AmountMin)
		n.AmountMax = copyFloat(n.AmountMax)
		out.Pricing.Normalized = &n
	}
	if r.Meta.Detection != nil {
		d := *r.Meta.Detection
		d.Keywords = append([]string{}, d.Keywords...)
		out.Meta.Detection = &d
	}
	if r.Meta.Images != nil {
		m := *r.Meta.Images
		out.Meta.Images = &m
	}
	if r.Meta.Validation != nil {
		v := Validation{
			Errors:   append([]string{}, r.Meta.Validation.Errors...),
			Warnings: append([]string{}, r.Meta.Validation.Warnings...),
		}
		out.Meta.Validation = &v
	}
	return &out
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

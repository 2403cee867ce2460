package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNoData marks a page or response that carried nothing to merge.
var ErrNoData = errors.New("no data")

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RateLimiter blocks until the caller may send the next request.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// ConditionalCache stores validators and failure counters per URL.
type ConditionalCache interface {
	ConditionalHeaders(ctx context.Context, url string) (http.Header, error)
	RecordResponse(ctx context.Context, url, etag, lastModified string, status int) error
	RecordFailure(ctx context.Context, url string, cause error) error
	FailureReport(ctx context.Context) ([]HTTPFailure, error)
}

// RecordSink writes the per-ID JSON document.
type RecordSink interface {
	SaveRecord(ctx context.Context, record *Record) (string, error)
}

// RecordStore upserts records into a relational store.
type RecordStore interface {
	UpsertRecord(ctx context.Context, record *Record) error
	Close() error
}

// Publisher pushes record-saved events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reports wall-clock time in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

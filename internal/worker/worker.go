// Package worker runs the per-ID pipeline: fetch every locale, merge,
// classify, enrich, validate and persist.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/popup-crawler/internal/classify"
	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/enrich"
	"github.com/JakeFAU/popup-crawler/internal/extract"
	"github.com/JakeFAU/popup-crawler/internal/merge"
	"github.com/JakeFAU/popup-crawler/internal/metrics"
	"github.com/JakeFAU/popup-crawler/internal/validate"
)

// PersistLocale tags failures raised while writing a record.
const PersistLocale = "persist"

// Outcome is the final state of one ID.
type Outcome string

// Outcomes reported per ID.
const (
	OutcomeSaved   Outcome = "saved"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip reasons.
const (
	ReasonNoData   = "no_data"
	ReasonNotPopup = "not_popup"
)

// Config controls Worker behavior.
type Config struct {
	// Locales are fetched in this order; earlier locales win merges.
	Locales []string
	// DetailURLTemplate contains {locale} and {id} placeholders.
	DetailURLTemplate string
	// Fast stops after the first locale that yields data.
	Fast bool
	// PopupsOnly skips persisting records not classified as popups.
	PopupsOnly bool
	// Topic receives a RecordSaved event per saved record when a publisher is set.
	Topic string
}

// Deps are the collaborators a Worker uses. Fetcher, Classifier, Validator
// and Sink are required.
type Deps struct {
	Fetcher    crawler.Fetcher
	Classifier *classify.Engine
	Validator  *validate.Validator
	Sink       crawler.RecordSink
	Store      crawler.RecordStore
	Mirror     crawler.RecordSink
	Publisher  crawler.Publisher
	Clock      crawler.Clock
}

// Result describes what happened to one ID.
type Result struct {
	ID      string
	Outcome Outcome
	Reason  string
	URI     string
	Record  *crawler.Record
	// Merged counts the locales that contributed data.
	Merged   int
	Failures []crawler.Failure
}

// RecordSaved is the notification published after a record is persisted.
type RecordSaved struct {
	ID        string    `json:"id"`
	Category  string    `json:"category,omitempty"`
	IsPopup   bool      `json:"isPopup"`
	URI       string    `json:"uri"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Attributes exposes message attributes for Pub/Sub filtering.
func (e RecordSaved) Attributes() map[string]string {
	return map[string]string{
		"id":      e.ID,
		"isPopup": fmt.Sprintf("%t", e.IsPopup),
	}
}

// Worker processes IDs. It is safe for concurrent use when its
// collaborators are.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case deps.Sink == nil:
		return nil, fmt.Errorf("record sink is required")
	}
	if len(cfg.Locales) == 0 {
		return nil, fmt.Errorf("at least one locale is required")
	}
	if !strings.Contains(cfg.DetailURLTemplate, "{id}") {
		return nil, fmt.Errorf("detail url template must contain {id}")
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// DetailURL expands the template for id and locale.
func DetailURL(template, id, locale string) string {
	return strings.NewReplacer("{locale}", locale, "{id}", id).Replace(template)
}

// Process runs the full pipeline for id. pass numbers the crawl pass and is
// copied onto every failure. Only the first pass fetches conditionally; later
// passes refetch every locale so a retry rebuilds the whole record. Failures
// never escape as errors.
func (w *Worker) Process(ctx context.Context, id string, pass int) Result {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	res := w.process(ctx, id, pass)
	metrics.ObserveRecord(string(res.Outcome))
	return res
}

func (w *Worker) process(ctx context.Context, id string, pass int) Result {
	res := Result{ID: id}
	snaps := make(map[string]*crawler.DetailSnapshot, len(w.cfg.Locales))
	var unchanged []string

	for _, locale := range w.cfg.Locales {
		if ctx.Err() != nil {
			break
		}
		snap, notModified := w.collect(ctx, &res, id, locale, pass <= 1, pass)
		if notModified {
			unchanged = append(unchanged, locale)
		}
		if snap != nil {
			snaps[locale] = snap
			if w.cfg.Fast {
				break
			}
		}
	}
	// A record is rewritten whole, so locales that answered 304 next to one
	// that changed are fetched again in full.
	if len(snaps) > 0 {
		for _, locale := range unchanged {
			if ctx.Err() != nil {
				break
			}
			if snap, _ := w.collect(ctx, &res, id, locale, false, pass); snap != nil {
				snaps[locale] = snap
			}
		}
	}

	rec := crawler.NewRecord()
	for _, locale := range w.cfg.Locales {
		snap, ok := snaps[locale]
		if !ok {
			continue
		}
		merge.Merge(rec, snap, locale)
		res.Merged++
		metrics.ObserveLocale(locale, "merged")
		if w.cfg.Fast {
			break
		}
	}

	if res.Merged == 0 {
		if len(res.Failures) > 0 || ctx.Err() != nil {
			res.Outcome = OutcomeFailed
		} else {
			res.Outcome = OutcomeSkipped
			res.Reason = ReasonNoData
		}
		return res
	}

	if rec.ID == "" {
		rec.ID = id
	}
	rec.Meta.FetchedAt = w.deps.Clock.Now()
	w.deps.Classifier.Apply(rec, w.cfg.Locales)
	enrich.ApplyPricing(rec, w.cfg.Locales)
	enrich.ApplyImageMeta(rec)
	w.deps.Validator.Apply(rec)
	res.Record = rec

	if w.cfg.PopupsOnly && !rec.IsPopup {
		w.logger.Debug("not a popup", zap.String("id", id), zap.String("rule", rec.Meta.Detection.Rule))
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonNotPopup
		return res
	}

	uri, err := w.persist(ctx, rec)
	if err != nil {
		w.logger.Error("persist record failed", zap.String("id", id), zap.Error(err))
		res.Failures = append(res.Failures, crawler.Failure{ID: id, Locale: PersistLocale, Error: err.Error(), Pass: pass})
		res.Outcome = OutcomeFailed
		return res
	}
	res.URI = uri
	res.Outcome = OutcomeSaved
	w.logger.Debug("record saved", zap.String("id", id), zap.String("uri", uri), zap.Bool("is_popup", rec.IsPopup))
	return res
}

// collect fetches one locale. It returns the snapshot when the page carried
// data and reports whether the origin answered 304. Errors are logged onto res.
func (w *Worker) collect(
	ctx context.Context,
	res *Result,
	id, locale string,
	conditional bool,
	pass int,
) (*crawler.DetailSnapshot, bool) {
	snap, err := w.fetchLocale(ctx, id, locale, conditional)
	switch {
	case errors.Is(err, errNotModified):
		metrics.ObserveLocale(locale, "not_modified")
		w.logger.Debug("not modified", zap.String("id", id), zap.String("locale", locale))
		return nil, true
	case errors.Is(err, crawler.ErrNoData):
		metrics.ObserveLocale(locale, ReasonNoData)
		w.logger.Debug("no data", zap.String("id", id), zap.String("locale", locale))
		return nil, false
	case err != nil:
		if ctx.Err() != nil {
			return nil, false
		}
		metrics.ObserveLocale(locale, string(OutcomeFailed))
		w.logger.Warn("locale failed", zap.String("id", id), zap.String("locale", locale), zap.Error(err))
		res.Failures = append(res.Failures, crawler.Failure{ID: id, Locale: locale, Error: err.Error(), Pass: pass})
		return nil, false
	}
	return snap, false
}

var errNotModified = fmt.Errorf("not modified: %w", crawler.ErrNoData)

func (w *Worker) fetchLocale(ctx context.Context, id, locale string, conditional bool) (*crawler.DetailSnapshot, error) {
	url := DetailURL(w.cfg.DetailURLTemplate, id, locale)
	headers := http.Header{}
	headers.Set("Accept-Language", locale)
	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Headers: headers, Conditional: conditional})
	if err != nil {
		return nil, err
	}
	if resp.NotModified() {
		return nil, errNotModified
	}
	snap, err := extract.Extract(resp.Body, resp.ContentType(), url)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", url, err)
	}
	if snap == nil {
		return nil, crawler.ErrNoData
	}
	return snap, nil
}

func (w *Worker) persist(ctx context.Context, rec *crawler.Record) (string, error) {
	uri, err := w.deps.Sink.SaveRecord(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("save record: %w", err)
	}
	if w.deps.Store != nil {
		if err := w.deps.Store.UpsertRecord(ctx, rec); err != nil {
			return "", fmt.Errorf("upsert record: %w", err)
		}
	}
	if w.deps.Mirror != nil {
		if _, err := w.deps.Mirror.SaveRecord(ctx, rec); err != nil {
			return "", fmt.Errorf("mirror record: %w", err)
		}
	}
	if w.deps.Publisher != nil && w.cfg.Topic != "" {
		event := RecordSaved{
			ID:        rec.ID,
			Category:  rec.Category,
			IsPopup:   rec.IsPopup,
			URI:       uri,
			FetchedAt: rec.Meta.FetchedAt,
		}
		if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
			return "", fmt.Errorf("publish record: %w", err)
		}
	}
	return uri, nil
}

// Package dispatcher fans IDs out to a pool of workers, retries failed IDs
// once and assembles the run report.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/worker"
)

// Processor runs the pipeline for a single ID.
type Processor interface {
	Process(ctx context.Context, id string, pass int) worker.Result
}

// Config controls Dispatcher behavior.
type Config struct {
	Workers int
	// DisableRetry skips the sequential retry pass.
	DisableRetry bool
}

// Dispatcher runs one batch crawl.
type Dispatcher struct {
	processor Processor
	cache     crawler.ConditionalCache
	cfg       Config
	logger    *zap.Logger

	now      func() time.Time
	newRunID func() (uuid.UUID, error)
}

// New creates a Dispatcher. cache may be nil; when set its failure report is
// attached to the run report.
func New(processor Processor, cache crawler.ConditionalCache, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newRunID:  uuid.NewV7,
	}
}

// tally accumulates per-ID results across passes.
type tally struct {
	mu       sync.Mutex
	final    map[string]worker.Result
	saved    map[string]struct{}
	failed   map[string]struct{}
	failures []crawler.Failure
}

func newTally() *tally {
	return &tally{
		final:  make(map[string]worker.Result),
		saved:  make(map[string]struct{}),
		failed: make(map[string]struct{}),
	}
}

func (t *tally) add(res worker.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.final[res.ID] = worker.Result{ID: res.ID, Outcome: res.Outcome, Merged: res.Merged}
	if res.Outcome == worker.OutcomeSaved {
		t.saved[res.ID] = struct{}{}
	}
	if len(res.Failures) > 0 {
		t.failed[res.ID] = struct{}{}
		t.failures = append(t.failures, res.Failures...)
	}
}

// Run processes ids with the worker pool, then retries every ID that logged a
// failure once, sequentially. It returns an error only when the run could not
// start; per-ID failures are reported in the result.
func (d *Dispatcher) Run(ctx context.Context, ids []string) (*crawler.Report, error) {
	if d.processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	runID, err := d.newRunID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	report := &crawler.Report{
		RunID:     runID.String(),
		StartedAt: d.now(),
		Total:     len(ids),
	}
	logger := d.logger.With(zap.String("run_id", report.RunID))
	logger.Info("crawl started", zap.Int("ids", len(ids)), zap.Int("workers", d.cfg.Workers))

	results := newTally()
	d.firstPass(ctx, ids, results)

	var retry []string
	for _, id := range ids {
		if _, ok := results.failed[id]; ok {
			retry = append(retry, id)
		}
	}
	switch {
	case d.cfg.DisableRetry || len(retry) == 0:
	case ctx.Err() != nil:
		logger.Warn("skipping retry pass", zap.Int("ids", len(retry)), zap.Error(ctx.Err()))
	default:
		logger.Info("retry pass", zap.Int("ids", len(retry)))
		for _, id := range retry {
			if ctx.Err() != nil {
				break
			}
			res := d.processor.Process(ctx, id, 2)
			report.Retried++
			if res.Outcome == worker.OutcomeSaved {
				report.Recovered++
			}
			results.add(res)
		}
	}

	report.Saved = len(results.saved)
	// An ID that never merged a locale is skipped even when its locales
	// failed; the failures stay listed.
	for id, res := range results.final {
		if _, saved := results.saved[id]; saved {
			continue
		}
		if res.Outcome == worker.OutcomeSkipped || res.Merged == 0 {
			report.Skipped++
		}
	}
	report.Failures = results.failures
	if report.Failures == nil {
		report.Failures = []crawler.Failure{}
	}
	if d.cache != nil {
		httpFailures, err := d.cache.FailureReport(context.WithoutCancel(ctx))
		if err != nil {
			logger.Warn("http failure report unavailable", zap.Error(err))
		} else {
			report.HTTPFailures = httpFailures
		}
	}
	report.FinishedAt = d.now()

	logger.Info("crawl finished",
		zap.Int("saved", report.Saved),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", len(report.Failures)),
		zap.Int("retried", report.Retried),
		zap.Int("recovered", report.Recovered),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (d *Dispatcher) firstPass(ctx context.Context, ids []string, results *tally) {
	queue := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, id := range ids {
			select {
			case queue <- id:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for id := range queue {
				results.add(d.processor.Process(gctx, id, 1))
			}
			return nil
		})
	}
	// Workers never return errors.
	_ = g.Wait()
}

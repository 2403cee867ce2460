package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/metrics"
)

// maxListedFailures bounds the failure table printed after a run.
const maxListedFailures = 20

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Discover IDs from the sitemap and crawl every locale",
		Long: `Discovers detail IDs from the sitemap index, fetches each ID in every
configured locale, merges, classifies and validates the result and writes
one JSON document per record plus a run report.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().Int("max-items", 0, "crawl at most this many discovered IDs (0 = all)")
	cmd.Flags().Bool("fast", false, "stop after the first locale that yields data")
	cmd.Flags().Int("workers", 0, "number of concurrent workers")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := resolveConfig(cmd.Context())
	logger := appInstance.Logger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	metricsDone := make(chan struct{})
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			defer close(metricsDone)
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	} else {
		close(metricsDone)
	}

	report, err := appInstance.Crawl(ctx)
	cancel()
	<-metricsDone
	if report != nil {
		renderReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("crawl interrupted")
			return nil
		}
		return err
	}
	logger.Info("crawl command finished", zap.String("report", cfg.Storage.ReportPath))
	return nil
}

func renderReport(out io.Writer, report *crawler.Report) {
	summary := table.NewWriter()
	summary.SetOutputMirror(out)
	summary.SetTitle("Crawl %s", report.RunID)
	summary.AppendHeader(table.Row{"Total", "Saved", "Skipped", "Failures", "Retried", "Recovered", "Elapsed"})
	summary.AppendRow(table.Row{
		report.Total,
		report.Saved,
		report.Skipped,
		len(report.Failures),
		report.Retried,
		report.Recovered,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	})
	summary.Render()

	if len(report.Failures) == 0 {
		return
	}
	failures := table.NewWriter()
	failures.SetOutputMirror(out)
	failures.AppendHeader(table.Row{"Pass", "ID", "Locale", "Error"})
	for i, f := range report.Failures {
		if i == maxListedFailures {
			failures.AppendFooter(table.Row{"", fmt.Sprintf("+%d more", len(report.Failures)-i), "", ""})
			break
		}
		failures.AppendRow(table.Row{f.Pass, f.ID, f.Locale, f.Error})
	}
	failures.Render()
}

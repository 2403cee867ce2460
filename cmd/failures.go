package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

func newFailuresCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List URLs that failed most often across runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			failures, err := appInstance.FailureReport(cmd.Context())
			if err != nil {
				return fmt.Errorf("load failure report: %w", err)
			}
			if limit > 0 && len(failures) > limit {
				failures = failures[:limit]
			}
			renderFailures(cmd.OutOrStdout(), failures)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to print (0 = all)")
	return cmd
}

func renderFailures(out io.Writer, failures []crawler.HTTPFailure) {
	if len(failures) == 0 {
		fmt.Fprintln(out, "no recorded http failures")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Count", "Last Seen", "URL", "Last Error"})
	for _, f := range failures {
		t.AppendRow(table.Row{f.Count, f.LastAt.UTC().Format("2006-01-02 15:04:05"), f.URL, f.Error})
	}
	t.Render()
}

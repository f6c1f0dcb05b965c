package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"guidekit/pkg/metrics"
)

func newUsageCmd(opts *rootOptions) *cobra.Command {
	var (
		window  time.Duration
		asJSON  bool
		promURL string
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report LLM token usage per feature from Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			if promURL == "" {
				promURL = opts.cfg.Metrics.PrometheusURL
			}
			q, err := metrics.NewQueryService(promURL)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			usage, err := q.Usage(cmd.Context(), window)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(usage) //nolint:wrapcheck // Output error
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FEATURE\tMODEL\tREQUESTS\tERRORS\tPROMPT\tCOMPLETION\tTOTAL")
			for _, u := range usage {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					u.Feature, u.Model, u.Requests, u.Errors, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
			}
			return tw.Flush() //nolint:wrapcheck // Output error
		},
	}
	cmd.Flags().DurationVarP(&window, "window", "w", 24*time.Hour, "look-back window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringVar(&promURL, "prometheus-url", "", "Prometheus base URL (default: metrics.prometheus_url)")
	return cmd
}

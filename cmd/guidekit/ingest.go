package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"guidekit/internal/kernel"
	"guidekit/pkg/persistence"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		force bool
		as    string
	)
	cmd := &cobra.Command{
		Use:   "ingest <url>",
		Short: "Scrape a documentation page and build its guide in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			k, err := kernel.NewKernel(ctx, opts.cfg)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			defer func() { _ = k.Stop() }()

			res, err := k.Docs.Submit(ctx, as, args[0], force)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			out := cmd.OutOrStdout()
			if res.Guide.Status == persistence.GuideCompleted {
				fmt.Fprintf(out, "guide %s already completed (use --force to rebuild)\n", res.Guide.ID)
				return nil
			}

			fmt.Fprintf(out, "processing guide %s for %s\n", res.Guide.ID, res.Guide.SourceURL)
			if err := k.Docs.Process(ctx, res.Guide.ID); err != nil {
				return fmt.Errorf("guide %s failed: %w", res.Guide.ID, err)
			}
			g, err := k.Docs.Get(ctx, res.Guide.ID)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			fmt.Fprintf(out, "%s: %q with %d chunks\n", g.Status, g.Title, g.ChunkCount)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "rebuild a guide that already exists")
	cmd.Flags().StringVar(&as, "as", "cli", "user ID recorded as the submitter")
	return cmd
}

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"guidekit/internal/kernel"
	"guidekit/pkg/config"
	"guidekit/pkg/logx"
	"guidekit/pkg/persistence/postgres"
	"guidekit/pkg/persistence/sqlite"
	"guidekit/pkg/persistence/sqlstore"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and ingestion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			if !opts.verbose {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			k, err := kernel.NewKernel(ctx, opts.cfg)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			if err := k.Start(); err != nil {
				_ = k.Stop()
				return err //nolint:wrapcheck // Already descriptive
			}

			serveErr := k.Serve(ctx)
			logx.NewLogger("main").Info("Shutting down")
			if err := k.Stop(); err != nil && serveErr == nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			return serveErr
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			if status {
				return printVersion(cmd, opts.cfg)
			}
			store, err := kernel.OpenStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			defer func() { _ = store.Close() }()
			v, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database is at schema version %d\n", v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "report the schema version without migrating")
	return cmd
}

// printVersion opens the store without migrating and reports its version.
func printVersion(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	var (
		store *sqlstore.Store
		err   error
	)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		store, err = sqlite.Open(ctx, cfg.Database.URL)
	default:
		url, uerr := cfg.DatabaseURL()
		if uerr != nil {
			return uerr //nolint:wrapcheck // Names the missing secret
		}
		store, err = postgres.Open(ctx, postgres.Options{
			URL:          url,
			MaxOpenConns: 1,
			Dimensions:   cfg.Embedding.Dimensions,
		})
	}
	if err != nil {
		return err //nolint:wrapcheck // Already descriptive
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err //nolint:wrapcheck // Already descriptive
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d\n", current, store.CurrentVersion())
	return nil
}

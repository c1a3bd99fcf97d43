package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/app"
	"github.com/JakeFAU/clinical-trials-crawler/internal/config"
	"github.com/JakeFAU/clinical-trials-crawler/internal/headless"
	"github.com/JakeFAU/clinical-trials-crawler/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

// launcher is swapped in tests.
var launcher headless.Launcher = headless.LaunchChrome

func initTracing(ctx context.Context, toStderr bool) (func(*zap.Logger), error) {
	tcfg := telemetry.Config{ServiceName: "trialcrawler", Version: version}
	if toStderr {
		tcfg.Writer = os.Stderr
	}
	tp, err := telemetry.InitTracerProvider(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return func(logger *zap.Logger) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}, nil
}

func newCrawlCmd() *cobra.Command {
	var (
		maxPages int
		queries  []string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl trial listings and save them to CSV",
		Long: `Visits up to max_pages search result pages per disease, extracts every
linked study and rewrites the CSV export as records accumulate. Interrupting
the command saves everything collected so far.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if cmd.Flags().Changed("max-pages") {
				cfg.Crawler.MaxPages = maxPages
			}
			if cmd.Flags().Changed("query") {
				cfg.Crawler.Queries = config.NormalizeQueries(queries)
			}
			if cmd.Flags().Changed("output") {
				cfg.Persistence.OutputPath = output
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Tracing.Enabled {
				shutdown, err := initTracing(ctx, cfg.Tracing.Stdout)
				if err != nil {
					return err
				}
				defer shutdown(e.logger)
			}

			a, err := app.Build(ctx, cfg, e.logger, app.WithLauncher(launcher))
			if err != nil {
				return fmt.Errorf("initialize crawl: %w", err)
			}

			summary, runErr := a.Run(ctx)
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			closeErr := a.Close(closeCtx)
			if runErr != nil {
				if closeErr != nil {
					e.logger.Warn("shutdown incomplete", zap.Error(closeErr))
				}
				return fmt.Errorf("crawl: %w", runErr)
			}
			if closeErr != nil {
				return fmt.Errorf("shut down crawl: %w", closeErr)
			}
			// Mirrors and browser sessions are released by now.
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d records to %s\n", summary.Records, cfg.Persistence.OutputPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "listing pages per disease (overrides crawler.max_pages)")
	cmd.Flags().StringSliceVar(&queries, "query", nil, "disease to search, repeatable (overrides crawler.queries)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV export path (overrides persistence.output_path)")
	return cmd
}

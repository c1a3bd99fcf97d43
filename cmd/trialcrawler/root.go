package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/config"
	"github.com/JakeFAU/clinical-trials-crawler/internal/logging"
)

type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "trialcrawler",
		Short: "Collects clinical trial listings from ClinicalTrials.gov.",
		Long: `trialcrawler renders the ClinicalTrials.gov search results for a list of
diseases in headless Chrome, extracts sponsor, status and title from every
study page and saves the records incrementally to CSV. The clean and pubmed
commands prepare the crawl output for analysis.`,
		SilenceUsage: true,
		Version:      version,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok {
				// Sync fails on stderr/stdout for some terminals.
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")
	cmd.AddCommand(newCrawlCmd(), newCleanCmd(), newPubMedCmd())
	cmd.SetErrPrefix("trialcrawler:")
	cmd.SetErr(os.Stderr)
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

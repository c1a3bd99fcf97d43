package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/clinical-trials-crawler/internal/pubmed"
)

func newPubMedCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "pubmed",
		Short: "Count PubMed publications for each configured disease",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			pcfg := pubmed.Config{
				BaseURL: e.cfg.PubMed.BaseURL,
				Year:    e.cfg.PubMed.Year,
				QPS:     e.cfg.PubMed.QPS,
				Timeout: e.cfg.PubMed.Timeout,
			}
			if year > 0 {
				pcfg.Year = year
			}
			client, err := pubmed.New(pcfg, pubmed.WithLogger(e.logger.Named("pubmed")))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, err := client.CountAll(ctx, e.cfg.Crawler.Queries)
			if err != nil {
				return fmt.Errorf("count publications: %w", err)
			}
			if err := pubmed.WriteCSV(e.cfg.PubMed.OutputPath, results); err != nil {
				return err
			}
			renderPublications(cmd.OutOrStdout(), pcfg.Year, results)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", e.cfg.PubMed.OutputPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "publication year (overrides pubmed.year)")
	return cmd
}

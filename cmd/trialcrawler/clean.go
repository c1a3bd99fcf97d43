package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/clinical-trials-crawler/internal/cleaning"
)

func newCleanCmd() *cobra.Command {
	var input, outDir string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Deduplicate the crawl export and aggregate it by disease and region",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			opts := cleaning.Options{
				InputPath:   e.cfg.Cleaning.InputPath,
				OutputDir:   e.cfg.Cleaning.OutputDir,
				RegionsFile: e.cfg.Cleaning.RegionsFile,
			}
			if input != "" {
				opts.InputPath = input
			}
			if outDir != "" {
				opts.OutputDir = outDir
			}
			res, err := cleaning.Run(opts, e.logger.Named("cleaning"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d unique trials (%d duplicates removed) written to %s\n",
				len(res.Trials), res.Duplicates, opts.OutputDir)
			renderCounts(cmd.OutOrStdout(), "Cancer", res.ByDisease)
			renderCounts(cmd.OutOrStdout(), "Region", res.ByRegion)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "crawl export to clean (overrides cleaning.input_path)")
	cmd.Flags().StringVarP(&outDir, "output-dir", "o", "", "directory for cleaned files (overrides cleaning.output_dir)")
	return cmd
}

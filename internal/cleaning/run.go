package cleaning

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Options configures Run.
type Options struct {
	InputPath   string
	OutputDir   string
	RegionsFile string
}

// Run reads the raw export at opts.InputPath, cleans it and writes the
// result tables to opts.OutputDir.
func Run(opts Options, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	regions, err := LoadRegions(opts.RegionsFile)
	if err != nil {
		return Result{}, err
	}
	f, err := os.Open(opts.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("open raw export: %w", err)
	}
	defer f.Close()

	records, err := ReadRaw(f)
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", opts.InputPath, err)
	}
	logger.Info("raw export loaded", zap.String("path", opts.InputPath), zap.Int("rows", len(records)))

	res := Clean(records, regions)
	logger.Info("duplicates removed",
		zap.Int("duplicates", res.Duplicates),
		zap.Int("rows", len(res.Trials)),
	)
	for _, c := range res.ByDisease {
		logger.Debug("trials per disease", zap.String("disease", c.Label), zap.Int("count", c.Count))
	}

	paths, err := Write(opts.OutputDir, res)
	if err != nil {
		return res, err
	}
	logger.Info("clean tables written", zap.Strings("files", paths))
	return res, nil
}

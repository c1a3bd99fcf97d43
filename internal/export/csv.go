package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/clinical-trials-crawler/internal/crawler"
)

// utf8BOM prefixes every export so spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Encode renders records as a BOM-prefixed CSV document with a header row.
// The output depends only on records, so repeated calls are byte-identical.
func Encode(records []crawler.TrialRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(crawler.Columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		if err := w.Write(rec.Row()); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// CSVExporter rewrites a single CSV file with the complete record log.
type CSVExporter struct {
	path string
}

// NewCSVExporter returns an exporter targeting path. Parent directories are
// created on the first flush.
func NewCSVExporter(path string) (*CSVExporter, error) {
	if path == "" {
		return nil, errors.New("output path is required")
	}
	return &CSVExporter{path: path}, nil
}

// Path returns the export destination.
func (e *CSVExporter) Path() string { return e.path }

// Flush writes records to a sibling temp file and renames it over the
// destination, so readers never observe a partially written export.
func (e *CSVExporter) Flush(ctx context.Context, records []crawler.TrialRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(records)
	if err != nil {
		return err
	}
	return WriteFileAtomic(e.path, data)
}

// WriteFileAtomic replaces path with data via a temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

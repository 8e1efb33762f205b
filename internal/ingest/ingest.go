// Package ingest reads uploaded tabular files (CSV, TSV, XLSX) into the
// shared table model, inferring a scalar type for every cell.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zipatlas/internal/table"
)

// Options configures table ingestion.
type Options struct {
	Delimiter  rune   // CSV only; 0 = sniff the header line for ',', '\t', ';'
	Charset    string // CSV only; IANA charset name, "" = UTF-8
	LazyQuotes bool   // CSV only
	SheetIndex int    // XLSX only; default 0
	SheetName  string // XLSX only; overrides SheetIndex when set
}

// ReadFile loads a tabular file by extension: .csv/.txt and .tsv go through
// the CSV reader, .xlsx through the XLSX reader.
func ReadFile(ctx context.Context, path string, opts Options) (*table.Table, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, opts)
	case ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		if opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
		return ReadCSV(ctx, f, opts)
	case ".xlsx":
		return ReadXLSX(path, opts)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}
}

package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/zipatlas/internal/table"
)

// ReadCSV parses delimited text into a table. The first record is the
// header. Records shorter than the header pad with nulls; longer records
// truncate.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) (*table.Table, error) {
	if opts.Charset != "" {
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: unsupported charset %q", opts.Charset)
		}
		r = enc.NewDecoder().Reader(r)
	}

	br := bufio.NewReader(r)

	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(br)
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	var header []string
	var records [][]string

	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ingest: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read row")
		}

		if header == nil {
			header = record
			continue
		}
		records = append(records, record)
	}

	if header == nil {
		return nil, eris.New("ingest: input has no header row")
	}

	tbl, err := table.FromRecords(header, records)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: build table")
	}
	return tbl, nil
}

// sniffDelimiter inspects the header line and picks the candidate separator
// occurring most often, defaulting to a comma.
func sniffDelimiter(br *bufio.Reader) rune {
	peeked, _ := br.Peek(4096)
	if i := bytes.IndexByte(peeked, '\n'); i >= 0 {
		peeked = peeked[:i]
	}

	best := ','
	bestCount := bytes.Count(peeked, []byte{','})
	for _, cand := range []byte{'\t', ';'} {
		if n := bytes.Count(peeked, []byte{cand}); n > bestCount {
			best = rune(cand)
			bestCount = n
		}
	}
	return best
}

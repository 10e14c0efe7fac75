package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"thresher/internal/frame"
)

// CSVOptions controls CSV ingestion. The zero value reads comma-separated
// UTF-8 with a header row.
type CSVOptions struct {
	// Comma is the field separator; 0 means ','.
	Comma rune

	// Encoding names the source charset: "utf-8" (default), "latin1" /
	// "iso-8859-1", or "windows-1252".
	Encoding string

	// HeaderMap overrides header normalization for specific source headers.
	HeaderMap map[string]string

	// Types declares column kinds by normalized header name; undeclared
	// columns are inferred.
	Types map[string]frame.Kind

	// LazyQuotes is passed through to the CSV reader for slightly malformed
	// exports.
	LazyQuotes bool
}

func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("ingest: unsupported encoding %q", name)
	}
}

// ReadCSV reads an entire CSV source into a typed snapshot. The first record
// is the header; every cell is trimmed before type inference and parsing.
func ReadCSV(r io.Reader, opts CSVOptions) (*frame.Snapshot, error) {
	dec, err := decoderFor(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if dec != nil {
		r = transform.NewReader(r, dec)
	}

	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.LazyQuotes = opts.LazyQuotes
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	headers := make([]string, len(hdr))
	for i, h := range hdr {
		headers[i] = normalizeHeader(h, i == 0, opts.HeaderMap)
	}

	columns := make([][]string, len(headers))
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		if len(rec) > len(headers) {
			return nil, fmt.Errorf("ingest: line %d has %d fields, header has %d", line, len(rec), len(headers))
		}
		for i := range headers {
			cell := ""
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			columns[i] = append(columns[i], cell)
		}
	}

	return buildSnapshot(headers, columns, opts.Types)
}

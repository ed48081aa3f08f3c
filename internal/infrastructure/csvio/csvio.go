// Package csvio reads and writes the flat CSV form of the ledger.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"xledger/internal/domain/model"
)

// ErrMissingHeader is returned when the input has no header row.
var ErrMissingHeader = errors.New("csv: missing header row")

// Reader turns CSV rows into raw records keyed by the header names. It
// implements port.RecordReader.
type Reader struct {
	r      *csv.Reader
	header []string
	line   int
}

// NewReader reads the header row eagerly so a headerless upload fails
// before anything is ingested.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return &Reader{r: cr, header: header, line: 1}, nil
}

func (r *Reader) Header() []string {
	return append([]string(nil), r.header...)
}

// Next returns the next row as a record. Blank cells are omitted. Rows that
// cannot be parsed, or carry more cells than the header, return an error
// wrapping model.ErrMalformedRecord; any other error ends the stream.
func (r *Reader) Next() (map[string]any, error) {
	row, err := r.r.Read()
	r.line++
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: line %d: %v", model.ErrMalformedRecord, r.line, err)
		}
		return nil, err
	}
	if len(row) > len(r.header) {
		return nil, fmt.Errorf("%w: line %d: %d fields, header has %d", model.ErrMalformedRecord, r.line, len(row), len(r.header))
	}
	rec := make(map[string]any, len(row))
	for i, v := range row {
		v = strings.TrimSpace(v)
		if v == "" || r.header[i] == "" {
			continue
		}
		rec[r.header[i]] = v
	}
	return rec, nil
}

// Writer implements port.RecordWriter over encoding/csv.
type Writer struct {
	w *csv.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

func (w *Writer) WriteHeader(columns []string) error {
	return w.w.Write(columns)
}

func (w *Writer) WriteRow(values []string) error {
	return w.w.Write(values)
}

func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

package port

// RecordReader yields raw records one at a time; it returns io.EOF when
// done. A bad line returns an error wrapping model.ErrMalformedRecord and
// the stream continues; any other error is fatal.
type RecordReader interface {
	Next() (map[string]any, error)
}

// RecordWriter writes flat rows in a fixed column order.
type RecordWriter interface {
	WriteHeader(columns []string) error
	WriteRow(values []string) error
	Flush() error
}

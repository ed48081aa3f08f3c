package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
)

// ExportColumns is the fixed export column order.
var ExportColumns = []string{
	"id", "timestamp", "pair", "type", "price", "amount", "total", "fee", "status", "tags", "notes", "exchangeRef",
}

// TagSeparator joins tags in flat exports.
const TagSeparator = "|"

// TransferService imports raw record batches through the same pipeline as
// a sync page and exports filtered ledger views.
type TransferService struct {
	ingestor *Ingestor
	query    *QueryService
}

func NewTransferService(ingestor *Ingestor, query *QueryService) *TransferService {
	return &TransferService{ingestor: ingestor, query: query}
}

// Import ingests every record r yields. Bad lines are counted as errored
// and the import carries on; a failing reader stops it.
func (s *TransferService) Import(ctx context.Context, r port.RecordReader) (model.ImportResult, error) {
	var res model.ImportResult
	note := func(msg string) {
		if len(res.Diagnostics) < model.MaxDiagnostics {
			res.Diagnostics = append(res.Diagnostics, msg)
		}
	}

	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		raw, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, model.ErrMalformedRecord) {
			res.Errored++
			note(fmt.Sprintf("#%d: %v", i, err))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read record #%d: %w", i, err)
		}
		outcome, err := s.ingestor.Ingest(ctx, raw, nil)
		switch outcome {
		case OutcomeCreated:
			res.Imported++
		case OutcomeUpdated:
			res.Updated++
		case OutcomeDuplicate:
			res.Duplicates++
		case OutcomeErrored:
			res.Errored++
			note(fmt.Sprintf("%s: %v", Describe(i, raw), err))
		}
	}

	log.Info().
		Int("imported", res.Imported).
		Int("duplicates", res.Duplicates).
		Int("updated", res.Updated).
		Int("errored", res.Errored).
		Msg("import finished")
	return res, nil
}

// Export writes the filtered result set in ExportColumns order.
func (s *TransferService) Export(ctx context.Context, req QueryRequest, w port.RecordWriter) (int, error) {
	if err := w.WriteHeader(ExportColumns); err != nil {
		return 0, err
	}
	n := 0
	err := s.query.Each(ctx, req, func(tx *model.Transaction) error {
		n++
		return w.WriteRow(ExportRow(tx))
	})
	if err != nil {
		return n, err
	}
	return n, w.Flush()
}

// ExportRow renders tx in ExportColumns order.
func ExportRow(tx *model.Transaction) []string {
	return []string{
		tx.ID,
		tx.Timestamp.UTC().Format(time.RFC3339Nano),
		tx.Pair,
		string(tx.Type),
		tx.Price.String(),
		tx.Amount.String(),
		tx.Total.String(),
		tx.Fee.String(),
		string(tx.Status),
		strings.Join(tx.Tags, TagSeparator),
		tx.Notes,
		tx.ExchangeRef,
	}
}

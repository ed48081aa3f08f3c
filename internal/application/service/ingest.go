package service

import (
	"context"
	"errors"
	"fmt"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
	domainservice "xledger/internal/domain/service"
)

// Outcome is what happened to one raw entry.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeDuplicate
	OutcomeErrored
	OutcomeFiltered
)

// Ingestor routes raw entries through normalization, deduplication and the
// store. Sync pages and imports share it so both apply the same policy.
type Ingestor struct {
	account string
	norm    *domainservice.Normalizer
	dedup   *domainservice.Deduplicator
	store   port.LedgerStore
}

func NewIngestor(account string, norm *domainservice.Normalizer, store port.LedgerStore) *Ingestor {
	return &Ingestor{
		account: account,
		norm:    norm,
		dedup:   domainservice.NewDeduplicator(store),
		store:   store,
	}
}

func (in *Ingestor) Account() string { return in.account }

func (in *Ingestor) Normalizer() *domainservice.Normalizer { return in.norm }

// Ingest handles one entry. The error is non-nil only for OutcomeErrored and
// describes that entry; it never means the batch should stop. accept may
// drop a normalized record before it touches the store.
func (in *Ingestor) Ingest(ctx context.Context, raw domainservice.RawRecord, accept func(*model.Transaction) bool) (Outcome, error) {
	out, _, err := in.IngestRecord(ctx, raw, accept)
	return out, err
}

// IngestRecord is Ingest that also hands back the normalized record, which
// is zero when normalization failed.
func (in *Ingestor) IngestRecord(ctx context.Context, raw domainservice.RawRecord, accept func(*model.Transaction) bool) (Outcome, model.Transaction, error) {
	tx, err := in.norm.Normalize(raw)
	if err != nil {
		return OutcomeErrored, tx, err
	}
	tx.Account = in.account
	if accept != nil && !accept(&tx) {
		return OutcomeFiltered, tx, nil
	}
	out, err := in.write(ctx, &tx)
	return out, tx, err
}

func (in *Ingestor) write(ctx context.Context, tx *model.Transaction) (Outcome, error) {
	// a second pass covers a concurrent writer inserting or deleting the
	// same natural key between lookup and write
	for attempt := 0; attempt < 2; attempt++ {
		dec, err := in.dedup.Classify(ctx, tx)
		if err != nil {
			return OutcomeErrored, err
		}

		switch dec.Kind {
		case domainservice.DecisionDuplicate:
			return OutcomeDuplicate, nil

		case domainservice.DecisionCreate:
			rec := tx.Clone()
			err := in.store.Insert(ctx, &rec)
			if errors.Is(err, model.ErrDuplicateKey) && attempt == 0 {
				continue
			}
			if err != nil {
				return OutcomeErrored, err
			}
			return OutcomeCreated, nil

		case domainservice.DecisionUpdateInPlace:
			applied := false
			_, err := in.store.Mutate(ctx, in.account, dec.Existing.ID, func(cur *model.Transaction) (bool, error) {
				changed := domainservice.DiffComparable(cur, tx)
				if len(changed) == 0 {
					return false, nil
				}
				domainservice.ApplyCorrection(cur, tx, changed)
				applied = true
				return true, nil
			})
			if errors.Is(err, model.ErrNotFound) && attempt == 0 {
				continue
			}
			if err != nil {
				return OutcomeErrored, err
			}
			if !applied {
				return OutcomeDuplicate, nil
			}
			return OutcomeUpdated, nil

		case domainservice.DecisionAmbiguous:
			_, err := in.store.Mutate(ctx, in.account, dec.Existing.ID, func(cur *model.Transaction) (bool, error) {
				return domainservice.FlagAmbiguous(cur, dec.Changed), nil
			})
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return OutcomeErrored, fmt.Errorf("%w: flag %s: %v", model.ErrAmbiguousMatch, dec.Existing.ID, err)
			}
			return OutcomeErrored, fmt.Errorf("%w: record %s differs on %v", model.ErrAmbiguousMatch, dec.Existing.ID, dec.Changed)
		}
	}
	return OutcomeErrored, fmt.Errorf("natural key %s kept changing under concurrent writes", tx.NaturalKey)
}

// Describe labels a raw entry for diagnostics.
func Describe(index int, raw domainservice.RawRecord) string {
	for _, k := range []string{"exchangeRef", "txid", "refid"} {
		if v, ok := raw[k]; ok && v != nil && fmt.Sprint(v) != "" {
			return fmt.Sprintf("#%d (%v)", index, v)
		}
	}
	return fmt.Sprintf("#%d", index)
}

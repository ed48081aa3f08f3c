package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"xledger/internal/domain/model"
)

// KeyLookup is the slice of the ledger store the deduplicator needs.
type KeyLookup interface {
	FindByNaturalKey(ctx context.Context, account, key string) (*model.Transaction, error)
}

// DecisionKind is the outcome of classifying one normalized record.
type DecisionKind int

const (
	DecisionCreate DecisionKind = iota
	DecisionUpdateInPlace
	DecisionDuplicate
	DecisionAmbiguous
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionCreate:
		return "create"
	case DecisionUpdateInPlace:
		return "update"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionAmbiguous:
		return "ambiguous"
	}
	return "unknown"
}

// Decision carries the matched record and, for updates and ambiguous
// matches, the names of the fields that differ.
type Decision struct {
	Kind     DecisionKind
	Existing *model.Transaction
	Changed  []string
}

// DedupStats counts decisions since construction.
type DedupStats struct {
	Created   int64
	Updated   int64
	Duplicate int64
	Ambiguous int64
}

// Deduplicator classifies normalized records against the store.
type Deduplicator struct {
	store KeyLookup

	created   atomic.Int64
	updated   atomic.Int64
	duplicate atomic.Int64
	ambiguous atomic.Int64
}

func NewDeduplicator(store KeyLookup) *Deduplicator {
	return &Deduplicator{store: store}
}

// Classify looks tx up by its natural key and decides what to do with it.
func (d *Deduplicator) Classify(ctx context.Context, tx *model.Transaction) (Decision, error) {
	if tx.NaturalKey == "" {
		tx.NaturalKey = NaturalKey(tx)
	}
	existing, err := d.store.FindByNaturalKey(ctx, tx.Account, tx.NaturalKey)
	if errors.Is(err, model.ErrNotFound) || (err == nil && existing == nil) {
		d.created.Add(1)
		return Decision{Kind: DecisionCreate}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup %s: %w", tx.NaturalKey, err)
	}

	changed := DiffComparable(existing, tx)
	switch {
	case len(changed) == 0:
		d.duplicate.Add(1)
		return Decision{Kind: DecisionDuplicate, Existing: existing}, nil
	case IsSyntheticKey(tx.NaturalKey):
		d.ambiguous.Add(1)
		return Decision{Kind: DecisionAmbiguous, Existing: existing, Changed: changed}, nil
	default:
		d.updated.Add(1)
		return Decision{Kind: DecisionUpdateInPlace, Existing: existing, Changed: changed}, nil
	}
}

func (d *Deduplicator) Stats() DedupStats {
	return DedupStats{
		Created:   d.created.Load(),
		Updated:   d.updated.Load(),
		Duplicate: d.duplicate.Load(),
		Ambiguous: d.ambiguous.Load(),
	}
}

// DiffComparable lists the exchange-reported fields on which a and b differ.
// Status, tags and notes are owned by the ledger and never compared.
func DiffComparable(a, b *model.Transaction) []string {
	var out []string
	if !a.Price.Equal(b.Price) {
		out = append(out, "price")
	}
	if !a.Amount.Equal(b.Amount) {
		out = append(out, "amount")
	}
	if !a.Total.Equal(b.Total) {
		out = append(out, "total")
	}
	if !a.Fee.Equal(b.Fee) {
		out = append(out, "fee")
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		out = append(out, "timestamp")
	}
	if a.Type != b.Type {
		out = append(out, "type")
	}
	if a.Pair != b.Pair || a.Base != b.Base || a.Quote != b.Quote {
		out = append(out, "pair")
	}
	if a.Side != b.Side {
		out = append(out, "side")
	}
	return out
}

// ApplyCorrection copies the changed exchange-reported fields from incoming
// onto existing, leaving status, tags and notes alone.
func ApplyCorrection(existing *model.Transaction, incoming *model.Transaction, changed []string) {
	for _, f := range changed {
		switch f {
		case "price":
			existing.Price = incoming.Price
		case "amount":
			existing.Amount = incoming.Amount
		case "total":
			existing.Total = incoming.Total
		case "fee":
			existing.Fee = incoming.Fee
		case "timestamp":
			existing.Timestamp = incoming.Timestamp
		case "type":
			existing.Type = incoming.Type
		case "pair":
			existing.Pair, existing.Base, existing.Quote = incoming.Pair, incoming.Base, incoming.Quote
		case "side":
			existing.Side = incoming.Side
		}
	}
}

// AmbiguityNote is the diagnostic written onto a record whose synthetic key
// was matched by a different-valued entry.
func AmbiguityNote(changed []string) string {
	return fmt.Sprintf("[ambiguous match: synthetic key collision on %s]", strings.Join(changed, ","))
}

// FlagAmbiguous marks existing as errored with a diagnostic note. Reconciled
// records are left alone. It returns false when nothing changed, so a repeat
// of the same collision does not rewrite the record.
func FlagAmbiguous(existing *model.Transaction, changed []string) bool {
	if existing.Status == model.StatusReconciled {
		return false
	}
	note := AmbiguityNote(changed)
	modified := false
	if existing.Status != model.StatusError {
		existing.Status = model.StatusError
		modified = true
	}
	if !strings.Contains(existing.Notes, note) {
		if existing.Notes == "" {
			existing.Notes = note
		} else {
			existing.Notes = existing.Notes + "\n" + note
		}
		modified = true
	}
	return modified
}

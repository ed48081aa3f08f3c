package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
)

// MaxTagLength bounds a tag label after trimming.
const MaxTagLength = 64

// ReconcileService applies bulk state transitions. Every item is atomic on
// its own; the batch is not, and each call reports exactly what happened.
type ReconcileService struct {
	account     string
	store       port.LedgerStore
	parallelism int
}

func NewReconcileService(account string, store port.LedgerStore, parallelism int) *ReconcileService {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &ReconcileService{account: account, store: store, parallelism: parallelism}
}

type itemResult int

const (
	itemUpdated itemResult = iota
	itemSkipped
	itemNotFound
	itemFailed
)

// tally is the concurrent-safe accumulator behind BulkResult.
type tally struct {
	mu  sync.Mutex
	res model.BulkResult
}

func (t *tally) record(id string, r itemResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch r {
	case itemUpdated:
		t.res.Updated++
	case itemSkipped:
		t.res.Skipped++
	case itemNotFound:
		t.res.NotFound++
	case itemFailed:
		t.res.Failed++
		if len(t.res.Diagnostics) < model.MaxDiagnostics {
			t.res.Diagnostics = append(t.res.Diagnostics, fmt.Sprintf("%s: %v", id, err))
		}
	}
}

// each runs fn for every distinct id with bounded parallelism. fn never
// aborts the batch; store failures are counted per item.
func (s *ReconcileService) each(ctx context.Context, ids []string, fn func(ctx context.Context, id string) (itemResult, error)) model.BulkResult {
	var t tally
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, id := range uniqueIDs(ids) {
		g.Go(func() error {
			r, err := fn(gctx, id)
			t.record(id, r, err)
			return nil
		})
	}
	_ = g.Wait()
	return t.res
}

func (s *ReconcileService) mutate(ctx context.Context, id string, fn port.MutateFunc) (itemResult, error) {
	changed := false
	_, err := s.store.Mutate(ctx, s.account, id, func(tx *model.Transaction) (bool, error) {
		c, err := fn(tx)
		changed = c
		return c, err
	})
	switch {
	case errors.Is(err, model.ErrNotFound):
		return itemNotFound, nil
	case err != nil:
		return itemFailed, err
	case changed:
		return itemUpdated, nil
	}
	return itemSkipped, nil
}

// Reconcile moves new and pending records to reconciled; records already
// reconciled or in error are skipped.
func (s *ReconcileService) Reconcile(ctx context.Context, ids []string) model.BulkResult {
	res := s.each(ctx, ids, func(ctx context.Context, id string) (itemResult, error) {
		return s.mutate(ctx, id, func(tx *model.Transaction) (bool, error) {
			if tx.Status != model.StatusNew && tx.Status != model.StatusPending {
				return false, nil
			}
			tx.Status = model.StatusReconciled
			return true, nil
		})
	})
	s.logResult("reconcile", len(ids), res)
	return res
}

// MarkPending reopens new and errored records for review.
func (s *ReconcileService) MarkPending(ctx context.Context, ids []string) model.BulkResult {
	res := s.each(ctx, ids, func(ctx context.Context, id string) (itemResult, error) {
		return s.mutate(ctx, id, func(tx *model.Transaction) (bool, error) {
			if tx.Status != model.StatusNew && tx.Status != model.StatusError {
				return false, nil
			}
			tx.Status = model.StatusPending
			return true, nil
		})
	})
	s.logResult("pending", len(ids), res)
	return res
}

// ValidateTag trims label and rejects empty or oversized labels.
func ValidateTag(label string) (string, error) {
	l := strings.TrimSpace(label)
	if l == "" {
		return "", fmt.Errorf("%w: label is empty", model.ErrInvalidTag)
	}
	if len(l) > MaxTagLength {
		return "", fmt.Errorf("%w: label longer than %d bytes", model.ErrInvalidTag, MaxTagLength)
	}
	if strings.ContainsAny(l, "|\n\r") {
		return "", fmt.Errorf("%w: label contains a reserved character", model.ErrInvalidTag)
	}
	return l, nil
}

// Tag adds label to every record. The label is validated before any write;
// records that already carry it count as skipped.
func (s *ReconcileService) Tag(ctx context.Context, ids []string, label string) (model.BulkResult, error) {
	l, err := ValidateTag(label)
	if err != nil {
		return model.BulkResult{}, err
	}
	res := s.each(ctx, ids, func(ctx context.Context, id string) (itemResult, error) {
		return s.mutate(ctx, id, func(tx *model.Transaction) (bool, error) {
			return tx.AddTag(l), nil
		})
	})
	s.logResult("tag", len(ids), res)
	return res, nil
}

// Untag removes label from every record that carries it.
func (s *ReconcileService) Untag(ctx context.Context, ids []string, label string) (model.BulkResult, error) {
	l, err := ValidateTag(label)
	if err != nil {
		return model.BulkResult{}, err
	}
	res := s.each(ctx, ids, func(ctx context.Context, id string) (itemResult, error) {
		return s.mutate(ctx, id, func(tx *model.Transaction) (bool, error) {
			return tx.RemoveTag(l), nil
		})
	})
	s.logResult("untag", len(ids), res)
	return res, nil
}

// Delete removes records permanently.
func (s *ReconcileService) Delete(ctx context.Context, ids []string) model.DeleteResult {
	res := s.each(ctx, ids, func(ctx context.Context, id string) (itemResult, error) {
		ok, err := s.store.Delete(ctx, s.account, id)
		switch {
		case err != nil:
			return itemFailed, err
		case !ok:
			return itemNotFound, nil
		}
		return itemUpdated, nil
	})
	out := model.DeleteResult{
		Deleted:     res.Updated,
		NotFound:    res.NotFound,
		Failed:      res.Failed,
		Diagnostics: res.Diagnostics,
	}
	ev := log.Info()
	if out.Failed > 0 {
		ev = log.Warn()
	}
	ev.Str("op", "delete").
		Int("requested", len(ids)).
		Int("deleted", out.Deleted).
		Int("not_found", out.NotFound).
		Int("failed", out.Failed).
		Msg("bulk delete applied")
	return out
}

// SetNotes replaces the free-text notes of one record.
func (s *ReconcileService) SetNotes(ctx context.Context, id, notes string) (*model.Transaction, error) {
	return s.store.Mutate(ctx, s.account, id, func(tx *model.Transaction) (bool, error) {
		n := strings.TrimSpace(notes)
		if tx.Notes == n {
			return false, nil
		}
		tx.Notes = n
		return true, nil
	})
}

func (s *ReconcileService) logResult(op string, requested int, res model.BulkResult) {
	ev := log.Info()
	if res.Failed > 0 {
		ev = log.Warn()
	}
	ev.Str("op", op).
		Int("requested", requested).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("not_found", res.NotFound).
		Int("failed", res.Failed).
		Msg("bulk mutation applied")
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package postgres

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"xledger/internal/domain/model"
)

// Set XLEDGER_TEST_POSTGRES_DSN to run against a scratch database.
func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := os.Getenv("XLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("XLEDGER_TEST_POSTGRES_DSN not set")
	}
	repo, err := New(dsn)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestPostgresRepoRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	account := "pg-test-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	t.Cleanup(func() {
		_, _ = repo.DB().Exec(`DELETE FROM transactions WHERE account = $1`, account)
		_, _ = repo.DB().Exec(`DELETE FROM sync_checkpoints WHERE account = $1`, account)
	})

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, amt := range []string{"0.5", "12", "3.25"} {
		tx := &model.Transaction{
			Account:    account,
			NaturalKey: "ref:P" + strconv.Itoa(i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Pair:       "ETH/EUR",
			Base:       "ETH",
			Quote:      "EUR",
			Type:       model.TxBuy,
			Price:      decimal.NewFromInt(3000),
			Amount:     decimal.RequireFromString(amt),
			Total:      decimal.RequireFromString(amt).Mul(decimal.NewFromInt(3000)),
			Fee:        decimal.RequireFromString("0.1"),
			Status:     model.StatusNew,
		}
		if err := repo.Insert(ctx, tx); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		ids = append(ids, tx.ID)
	}
	dup := &model.Transaction{Account: account, NaturalKey: "ref:P0", Timestamp: base, Status: model.StatusNew, Type: model.TxBuy}
	if err := repo.Insert(ctx, dup); !errors.Is(err, model.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// amount sort is numeric, not lexical
	page, err := repo.Query(ctx, model.Query{Filter: model.Filter{Account: account}, Sort: model.SortAmount, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("expected a full first page, got %d items", len(page.Items))
	}
	if page.Items[0].ID != ids[0] || page.Items[1].ID != ids[2] {
		t.Errorf("unexpected order: %s, %s", page.Items[0].ID, page.Items[1].ID)
	}
	if page.Metrics.Count != 3 || page.Metrics.Fees.String() != "0.3" {
		t.Errorf("unexpected metrics: %+v", page.Metrics)
	}

	last := page.Items[1]
	page, err = repo.Query(ctx, model.Query{
		Filter: model.Filter{Account: account},
		Sort:   model.SortAmount,
		After:  &model.Position{Value: model.SortValue(&last, model.SortAmount), ID: last.ID},
		Limit:  2,
	})
	if err != nil {
		t.Fatalf("second Query failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != ids[1] {
		t.Errorf("expected the 12 ETH buy on page two, got %+v", page.Items)
	}

	if _, err := repo.Mutate(ctx, account, ids[1], func(w *model.Transaction) (bool, error) {
		w.Status = model.StatusReconciled
		return true, nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	got, err := repo.Get(ctx, account, ids[1])
	if err != nil || got.Status != model.StatusReconciled {
		t.Errorf("expected reconciled, got %v %v", got, err)
	}

	cp := model.Checkpoint{Account: account, HighWater: base, Cursor: "ledgers:50", CursorAt: base.Add(-time.Hour)}
	if err := repo.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	loaded, err := repo.LoadCheckpoint(ctx, account)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if !loaded.HighWater.Equal(base) || loaded.Cursor != "ledgers:50" {
		t.Errorf("checkpoint did not round-trip: %+v", loaded)
	}
}

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"xledger/internal/domain/model"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleTx(n int, typ model.TxType, total string) *model.Transaction {
	return &model.Transaction{
		Account:     "main",
		NaturalKey:  "ref:T" + strconv.Itoa(n),
		ExchangeRef: "T" + strconv.Itoa(n),
		Timestamp:   time.Date(2024, 5, 1, 0, n, 0, 123, time.UTC),
		Pair:        "BTC/EUR",
		Base:        "BTC",
		Quote:       "EUR",
		Type:        typ,
		Price:       decimal.RequireFromString("61234.5"),
		Amount:      decimal.RequireFromString("0.00012345"),
		Total:       decimal.RequireFromString(total),
		Fee:         decimal.RequireFromString("0.01"),
		Status:      model.StatusNew,
		Tags:        []string{"q2"},
	}
}

func TestSQLiteRepoInsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx := sampleTx(1, model.TxBuy, "7.56")
	if err := repo.Insert(ctx, tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if tx.ID == "" {
		t.Fatal("expected Insert to assign an id")
	}

	got, err := repo.Get(ctx, "main", tx.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Timestamp.Equal(tx.Timestamp) {
		t.Errorf("timestamp: expected %v, got %v", tx.Timestamp, got.Timestamp)
	}
	if !got.Amount.Equal(tx.Amount) || !got.Price.Equal(tx.Price) || !got.Total.Equal(tx.Total) {
		t.Errorf("decimals did not round-trip: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "q2" {
		t.Errorf("expected tags [q2], got %v", got.Tags)
	}

	byKey, err := repo.FindByNaturalKey(ctx, "main", "ref:T1")
	if err != nil {
		t.Fatalf("FindByNaturalKey failed: %v", err)
	}
	if byKey.ID != tx.ID {
		t.Errorf("expected id %s, got %s", tx.ID, byKey.ID)
	}

	if _, err := repo.Get(ctx, "other", tx.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for another account, got %v", err)
	}
	if _, err := repo.FindByNaturalKey(ctx, "main", "ref:nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepoRejectsDuplicateKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Insert(ctx, sampleTx(1, model.TxBuy, "1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err := repo.Insert(ctx, sampleTx(1, model.TxBuy, "2"))
	if !errors.Is(err, model.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	other := sampleTx(1, model.TxBuy, "2")
	other.Account = "second"
	if err := repo.Insert(ctx, other); err != nil {
		t.Fatalf("same key under another account should insert: %v", err)
	}
}

func TestSQLiteRepoMutateKeepsIdentity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tx := sampleTx(1, model.TxBuy, "1")
	if err := repo.Insert(ctx, tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated, err := repo.Mutate(ctx, "main", tx.ID, func(w *model.Transaction) (bool, error) {
		w.ID = "hijacked"
		w.NaturalKey = "ref:other"
		w.Status = model.StatusReconciled
		w.Tags = append(w.Tags, "audit", "q2")
		w.Notes = "checked"
		return true, nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if updated.ID != tx.ID || updated.NaturalKey != "ref:T1" {
		t.Errorf("identity changed: id=%s key=%s", updated.ID, updated.NaturalKey)
	}

	got, err := repo.Get(ctx, "main", tx.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != model.StatusReconciled || got.Notes != "checked" {
		t.Errorf("expected reconciled with notes, got %s %q", got.Status, got.Notes)
	}
	if len(got.Tags) != 2 {
		t.Errorf("expected 2 distinct tags, got %v", got.Tags)
	}

	boom := errors.New("boom")
	if _, err := repo.Mutate(ctx, "main", tx.ID, func(*model.Transaction) (bool, error) { return false, boom }); !errors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
	if _, err := repo.Mutate(ctx, "main", "missing", func(*model.Transaction) (bool, error) { return true, nil }); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepoDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tx := sampleTx(1, model.TxSell, "1")
	if err := repo.Insert(ctx, tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	ok, err := repo.Delete(ctx, "main", tx.ID)
	if err != nil || !ok {
		t.Fatalf("expected delete to succeed, got %v %v", ok, err)
	}
	ok, err = repo.Delete(ctx, "main", tx.ID)
	if err != nil || ok {
		t.Errorf("second delete: expected false, got %v %v", ok, err)
	}
	// the natural key is free again
	if err := repo.Insert(ctx, sampleTx(1, model.TxSell, "1")); err != nil {
		t.Errorf("re-insert after delete failed: %v", err)
	}
}

func TestSQLiteRepoQueryPages(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	types := []model.TxType{model.TxBuy, model.TxSell, model.TxBuy, model.TxDeposit, model.TxBuy}
	for i, typ := range types {
		if err := repo.Insert(ctx, sampleTx(i, typ, strconv.Itoa(10*(i+1)))); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	q := model.Query{Filter: model.Filter{Account: "main"}, Sort: model.SortTimestamp, Desc: true, Limit: 2}
	var refs []string
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		page, err := repo.Query(ctx, q)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if page.Metrics.Count != 5 {
			t.Errorf("metrics count: expected 5, got %d", page.Metrics.Count)
		}
		if got := page.Metrics.BuyVolume.String(); got != "90" {
			t.Errorf("buy volume: expected 90, got %s", got)
		}
		if got := page.Metrics.Fees.String(); got != "0.05" {
			t.Errorf("fees: expected 0.05, got %s", got)
		}
		for i := range page.Items {
			refs = append(refs, page.Items[i].ExchangeRef)
		}
		if !page.HasMore {
			break
		}
		last := page.Items[len(page.Items)-1]
		q.After = &model.Position{Value: model.SortValue(&last, q.Sort), ID: last.ID}
	}

	want := []string{"T4", "T3", "T2", "T1", "T0"}
	if len(refs) != len(want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], refs[i])
		}
	}

	filtered, err := repo.Query(ctx, model.Query{
		Filter: model.Filter{Account: "main", Type: model.TxSell, Q: "t1"},
		Sort:   model.SortTimestamp,
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("filtered Query failed: %v", err)
	}
	if len(filtered.Items) != 1 || filtered.Metrics.SellVolume.String() != "20" {
		t.Errorf("expected one sell of 20, got %d items, sell volume %s", len(filtered.Items), filtered.Metrics.SellVolume)
	}
}

func TestSQLiteRepoCheckpoint(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cp, err := repo.LoadCheckpoint(ctx, "main")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp.Account != "main" || !cp.HighWater.IsZero() || cp.Cursor != "" {
		t.Errorf("expected empty checkpoint, got %+v", cp)
	}

	hw := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := hw.Add(-24 * time.Hour)
	if err := repo.SaveCheckpoint(ctx, model.Checkpoint{Account: "main", HighWater: hw, Cursor: "trades:50", CursorAt: at}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if err := repo.SaveCheckpoint(ctx, model.Checkpoint{Account: "main", HighWater: hw, Cursor: "ledgers:0", CursorAt: at}); err != nil {
		t.Fatalf("SaveCheckpoint overwrite failed: %v", err)
	}

	cp, err = repo.LoadCheckpoint(ctx, "main")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if !cp.HighWater.Equal(hw) || !cp.CursorAt.Equal(at) || cp.Cursor != "ledgers:0" {
		t.Errorf("checkpoint did not round-trip: %+v", cp)
	}
	if cp.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestSQLiteRepoSortsHighPrecisionAmounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	amounts := []string{"123456789.123456789", "123456789.123456788", "0.5", "123456789.1234567885"}
	for i, a := range amounts {
		tx := sampleTx(i, model.TxBuy, "1")
		tx.Amount = decimal.RequireFromString(a)
		if err := repo.Insert(ctx, tx); err != nil {
			t.Fatalf("Insert %s failed: %v", a, err)
		}
	}

	want := []string{"0.5", "123456789.123456788", "123456789.1234567885", "123456789.123456789"}
	q := model.Query{Filter: model.Filter{Account: "main"}, Sort: model.SortAmount, Limit: 1}
	var got []string
	for pages := 0; pages < 10; pages++ {
		page, err := repo.Query(ctx, q)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for i := range page.Items {
			got = append(got, page.Items[i].Amount.String())
		}
		if !page.HasMore {
			break
		}
		last := page.Items[len(page.Items)-1]
		q.After = &model.Position{Value: model.SortValue(&last, q.Sort), ID: last.ID}
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// re-pricing an amount moves the record in the order
	page, err := repo.Query(ctx, model.Query{Filter: model.Filter{Account: "main"}, Sort: model.SortAmount, Desc: true, Limit: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	top := page.Items[0].ID
	if _, err := repo.Mutate(ctx, "main", top, func(w *model.Transaction) (bool, error) {
		w.Amount = decimal.RequireFromString("0.1")
		return true, nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	page, err = repo.Query(ctx, model.Query{Filter: model.Filter{Account: "main"}, Sort: model.SortAmount, Limit: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if page.Items[0].ID != top {
		t.Errorf("expected the mutated record first, got amount %s", page.Items[0].Amount)
	}

	q.After = &model.Position{Value: "not-a-number", ID: top}
	if _, err := repo.Query(ctx, q); !errors.Is(err, model.ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

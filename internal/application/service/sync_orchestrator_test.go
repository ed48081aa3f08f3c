package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xledger/internal/domain/model"
	domainservice "xledger/internal/domain/service"
	"xledger/internal/infrastructure/storage"
)

type orchestratorFixture struct {
	store  *storage.Memory
	ex     *scriptedExchange
	sink   *recordingSink
	orch   *SyncOrchestrator
	sleeps []time.Duration
}

func newOrchestratorFixture(t *testing.T, maxPages int, steps ...step) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store: storage.NewMemory(),
		ex:    &scriptedExchange{steps: steps},
		sink:  &recordingSink{},
	}
	f.orch = NewSyncOrchestrator(OrchestratorDeps{
		Client:      f.ex,
		Ingestor:    NewIngestor("main", domainservice.NewNormalizer("EUR"), f.store),
		Checkpoints: f.store,
		Sink:        f.sink,
		Retry:       RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		MaxPages:    maxPages,
	})
	f.orch.retry.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func (f *orchestratorFixture) run(t *testing.T, in SyncInput) model.SyncRun {
	t.Helper()
	cp, err := f.store.LoadCheckpoint(context.Background(), "main")
	require.NoError(t, err)
	in.Checkpoint = cp
	if in.RunID == "" {
		in.RunID = fmt.Sprintf("run-%d", len(f.sink.runs))
	}
	return f.orch.Run(context.Background(), in)
}

func (f *orchestratorFixture) all(t *testing.T) []model.Transaction {
	t.Helper()
	page, err := f.store.Query(context.Background(), model.Query{
		Filter: model.Filter{Account: "main"}, Sort: model.SortTimestamp, Limit: 1000,
	})
	require.NoError(t, err)
	return page.Items
}

func TestOrchestratorIsIdempotent(t *testing.T) {
	k1 := krakenTrade("K1", 1700000000, "buy", "XETHZEUR", "2000", "1.5", "3000", "4.8")
	f := newOrchestratorFixture(t, 0,
		step{records: []map[string]any{k1}},
		step{records: []map[string]any{k1}},
	)

	first := f.run(t, SyncInput{})
	require.Equal(t, model.RunSucceeded, first.Status)
	assert.Equal(t, model.RunCounts{Fetched: 1, Created: 1}, first.Counts)

	items := f.all(t)
	require.Len(t, items, 1)
	assert.Equal(t, "ETH/EUR", items[0].Pair)
	assert.Equal(t, model.TxBuy, items[0].Type)
	assert.Equal(t, model.StatusNew, items[0].Status)
	assert.Equal(t, "1.5", items[0].Amount.String())

	second := f.run(t, SyncInput{})
	require.Equal(t, model.RunSucceeded, second.Status)
	assert.Equal(t, model.RunCounts{Fetched: 1, Duplicate: 1}, second.Counts)
	assert.Len(t, f.all(t), 1)
}

func TestOrchestratorUpdatesInPlaceAndKeepsLedgerFields(t *testing.T) {
	f := newOrchestratorFixture(t, 0,
		step{records: []map[string]any{krakenTrade("T1", 1700000000, "sell", "XXBTZEUR", "30000", "0.1", "3000", "3")}},
		step{records: []map[string]any{krakenTrade("T1", 1700000000, "sell", "XXBTZEUR", "30000", "0.1", "3000", "2.5")}},
	)
	require.Equal(t, model.RunSucceeded, f.run(t, SyncInput{}).Status)

	id := f.all(t)[0].ID
	_, err := f.store.Mutate(context.Background(), "main", id, func(tx *model.Transaction) (bool, error) {
		tx.Status = model.StatusReconciled
		tx.AddTag("q2")
		tx.Notes = "checked"
		return true, nil
	})
	require.NoError(t, err)

	run := f.run(t, SyncInput{})
	assert.Equal(t, 1, run.Counts.Updated)

	items := f.all(t)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "2.5", items[0].Fee.String())
	assert.Equal(t, model.StatusReconciled, items[0].Status)
	assert.Equal(t, []string{"q2"}, items[0].Tags)
	assert.Equal(t, "checked", items[0].Notes)
}

func TestOrchestratorFlagsAmbiguousSyntheticMatch(t *testing.T) {
	entry := func(price string) map[string]any {
		return map[string]any{"type": "buy", "pair": "BTC/EUR", "price": price, "amount": "1", "timestamp": "2024-02-01T10:00:00Z"}
	}
	f := newOrchestratorFixture(t, 0,
		step{records: []map[string]any{entry("40000")}},
		step{records: []map[string]any{entry("41000")}},
	)
	require.Equal(t, 1, f.run(t, SyncInput{}).Counts.Created)

	run := f.run(t, SyncInput{})
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, 1, run.Counts.Errored)
	require.Len(t, run.Diagnostics, 1)
	assert.Contains(t, run.Diagnostics[0], "ambiguous")

	items := f.all(t)
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusError, items[0].Status)
	assert.Equal(t, "40000", items[0].Price.String())
	assert.Contains(t, items[0].Notes, "ambiguous match")
}

func TestOrchestratorIsolatesMalformedEntries(t *testing.T) {
	f := newOrchestratorFixture(t, 0, step{records: []map[string]any{
		krakenTrade("A", 1700000000, "buy", "XXBTZEUR", "30000", "0.1", "3000", "3"),
		{"txid": "B", "pair": "XXBTZEUR", "time": 1700000001},
		{"txid": "C", "type": "airdrop", "asset": "XXBT", "amount": "1", "time": 1700000002},
		krakenTrade("D", 1700000003, "sell", "XXBTZEUR", "31000", "0.1", "3100", "3"),
	}})

	run := f.run(t, SyncInput{})
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, model.RunCounts{Fetched: 4, Created: 2, Errored: 2}, run.Counts)
	require.Len(t, run.Diagnostics, 2)
	assert.Contains(t, run.Diagnostics[0], "(B)")
	assert.Contains(t, run.Diagnostics[1], "unsupported record type")
}

func TestOrchestratorRetriesTransientFailures(t *testing.T) {
	f := newOrchestratorFixture(t, 0,
		step{err: fmt.Errorf("%w: http 502", model.ErrTransient)},
		step{err: &model.RetryAfterError{After: time.Second, Err: model.ErrTransient}},
		step{records: []map[string]any{krakenTrade("A", 1700000000, "buy", "XXBTZEUR", "1", "1", "1", "0")}},
	)

	run := f.run(t, SyncInput{})
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, 1, run.Counts.Created)
	assert.Equal(t, 3, f.ex.calls())
	require.Len(t, f.sleeps, 2)
	assert.LessOrEqual(t, f.sleeps[0], time.Millisecond)
	assert.Equal(t, time.Second, f.sleeps[1])
}

func TestOrchestratorKeepsCommittedPagesWhenRetriesRunOut(t *testing.T) {
	transient := fmt.Errorf("%w: timeout", model.ErrTransient)
	f := newOrchestratorFixture(t, 0,
		step{records: []map[string]any{krakenTrade("A", 1700000000, "buy", "XXBTZEUR", "1", "1", "1", "0")}, next: "c1"},
		step{err: transient}, step{err: transient}, step{err: transient},
	)

	run := f.run(t, SyncInput{})
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Contains(t, run.Error, "fetch page 2 after 3 attempt(s)")
	assert.Equal(t, 1, run.Pages)
	assert.Len(t, f.all(t), 1)

	cp, err := f.store.LoadCheckpoint(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "c1", cp.Cursor)
	assert.True(t, cp.HighWater.IsZero())
}

func TestOrchestratorFailsFastOnPermanentError(t *testing.T) {
	f := newOrchestratorFixture(t, 0, step{err: fmt.Errorf("%w: EAPI:Invalid key", model.ErrPermanent)})

	run := f.run(t, SyncInput{})
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Contains(t, run.Error, "after 1 attempt(s)")
	assert.Equal(t, 1, f.ex.calls())
	assert.Empty(t, f.sleeps)
}

func TestOrchestratorStopsBetweenPagesOnCancel(t *testing.T) {
	f := newOrchestratorFixture(t, 0,
		step{records: []map[string]any{
			krakenTrade("A", 1700000000, "buy", "XXBTZEUR", "1", "1", "1", "0"),
			krakenTrade("B", 1700000001, "buy", "XXBTZEUR", "1", "1", "1", "0"),
		}, next: "c1"},
		step{records: []map[string]any{krakenTrade("C", 1700000002, "buy", "XXBTZEUR", "1", "1", "1", "0")}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := f.orch.Run(ctx, SyncInput{RunID: "r", OnPage: func(model.SyncRun) { cancel() }})

	assert.Equal(t, model.RunCancelled, run.Status)
	assert.Equal(t, 1, run.Pages)
	assert.Equal(t, 2, run.Counts.Created)
	assert.Equal(t, 1, f.ex.calls())
	assert.Len(t, f.all(t), 2)
	require.NotEmpty(t, f.sink.runs)
	assert.Equal(t, model.RunCancelled, f.sink.runs[len(f.sink.runs)-1].Status)
}

func TestOrchestratorCheckpointAdvancesOnlyForUnfilteredRuns(t *testing.T) {
	btc := krakenTrade("A", 1700000000, "buy", "XXBTZEUR", "1", "1", "1", "0")
	eth := krakenTrade("B", 1700000500, "buy", "XETHZEUR", "1", "1", "1", "0")
	f := newOrchestratorFixture(t, 0,
		step{records: []map[string]any{btc, eth}},
		step{records: []map[string]any{btc, eth}},
	)

	filtered := f.run(t, SyncInput{Pairs: []string{"btc-eur"}})
	assert.Equal(t, model.RunCounts{Fetched: 2, Created: 1, Filtered: 1}, filtered.Counts)
	cp, _ := f.store.LoadCheckpoint(context.Background(), "main")
	assert.True(t, cp.HighWater.IsZero())

	full := f.run(t, SyncInput{})
	assert.Equal(t, model.RunCounts{Fetched: 2, Created: 1, Duplicate: 1}, full.Counts)
	cp, _ = f.store.LoadCheckpoint(context.Background(), "main")
	assert.True(t, cp.HighWater.Equal(time.Unix(1700000500, 0)), "high water %s", cp.HighWater)
	assert.Empty(t, cp.Cursor)
}

func TestOrchestratorResumesFromSavedCursor(t *testing.T) {
	cursorAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newOrchestratorFixture(t, 0, step{})
	require.NoError(t, f.store.SaveCheckpoint(context.Background(), model.Checkpoint{
		Account:   "main",
		HighWater: cursorAt.Add(-time.Hour),
		Cursor:    "c7",
		CursorAt:  cursorAt,
	}))

	run := f.run(t, SyncInput{})
	require.Equal(t, model.RunSucceeded, run.Status)
	require.Len(t, f.ex.reqs, 1)
	assert.Equal(t, "c7", f.ex.reqs[0].Cursor)
	assert.Equal(t, cursorAt, f.ex.reqs[0].Since)

	since := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	f.ex.steps = []step{{}}
	f.run(t, SyncInput{Since: &since})
	assert.Equal(t, "", f.ex.reqs[1].Cursor)
	assert.Equal(t, since, f.ex.reqs[1].Since)
}

func TestOrchestratorMaxPagesLeavesCursorForNextRun(t *testing.T) {
	f := newOrchestratorFixture(t, 1,
		step{records: []map[string]any{krakenTrade("A", 1700000000, "buy", "XXBTZEUR", "1", "1", "1", "0")}, next: "c1"},
	)

	run := f.run(t, SyncInput{})
	assert.Equal(t, model.RunSucceeded, run.Status)
	assert.Equal(t, 1, run.Pages)
	require.Len(t, run.Diagnostics, 1)
	assert.Contains(t, run.Diagnostics[0], "stopped after 1 pages")

	cp, _ := f.store.LoadCheckpoint(context.Background(), "main")
	assert.Equal(t, "c1", cp.Cursor)
}

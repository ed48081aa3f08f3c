package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
	domainservice "xledger/internal/domain/service"
)

// SyncInput is everything one run depends on. The checkpoint is loaded by
// the caller and handed in, so the orchestrator holds no account state.
type SyncInput struct {
	RunID      string
	Since      *time.Time
	Pairs      []string
	Checkpoint model.Checkpoint
	// OnPage observes the run after each committed page.
	OnPage func(run model.SyncRun)
}

type OrchestratorDeps struct {
	Client      port.ExchangeClient
	Ingestor    *Ingestor
	Checkpoints port.CheckpointStore
	Sink        port.RunEventSink // optional
	Retry       RetryPolicy
	MaxPages    int
}

// SyncOrchestrator drives one synchronization run: fetch a page, ingest
// every entry, save the checkpoint, repeat.
type SyncOrchestrator struct {
	deps  OrchestratorDeps
	retry *retrier
	now   func() time.Time
}

func NewSyncOrchestrator(deps OrchestratorDeps) *SyncOrchestrator {
	if deps.Retry.MaxAttempts <= 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	o := &SyncOrchestrator{
		deps:  deps,
		retry: newRetrier(deps.Retry),
		now:   func() time.Time { return time.Now().UTC() },
	}
	o.retry.onRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).
			Str("exchange", deps.Client.Name()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("page fetch failed, retrying")
	}
	return o
}

// Run executes the sync until the exchange is exhausted, a non-transient
// error occurs, retries run out, or ctx is cancelled. Cancellation is only
// observed between pages: the entries of a fetched page are always written.
// Committed pages stay committed whatever the outcome.
func (o *SyncOrchestrator) Run(ctx context.Context, in SyncInput) model.SyncRun {
	account := o.deps.Ingestor.Account()
	run := model.SyncRun{
		ID:        in.RunID,
		Account:   account,
		StartedAt: o.now(),
		Since:     in.Since,
		Pairs:     append([]string(nil), in.Pairs...),
		Status:    model.RunRunning,
	}
	writeCtx := context.WithoutCancel(ctx)

	quote := o.deps.Ingestor.Normalizer().Quote()
	pairSet := make(map[string]struct{}, len(in.Pairs))
	for _, p := range in.Pairs {
		pairSet[domainservice.CanonicalPair(p, quote)] = struct{}{}
	}
	filtered := len(pairSet) > 0
	var accept func(*model.Transaction) bool
	if filtered {
		accept = func(tx *model.Transaction) bool {
			_, ok := pairSet[tx.Pair]
			return ok
		}
	}

	cp := in.Checkpoint
	cp.Account = account
	var since time.Time
	cursor := ""
	switch {
	case in.Since != nil:
		since = in.Since.UTC()
	case !filtered && cp.Cursor != "":
		since, cursor = cp.CursorAt, cp.Cursor
	default:
		since = cp.HighWater
	}
	highWater := cp.HighWater

	log.Info().
		Str("run", run.ID).
		Str("account", account).
		Time("since", since).
		Str("cursor", cursor).
		Strs("pairs", in.Pairs).
		Msg("sync started")
	o.publish(writeCtx, run)

	for {
		if o.deps.MaxPages > 0 && run.Pages >= o.deps.MaxPages {
			run.Note(fmt.Sprintf("stopped after %d pages; next run resumes from the saved cursor", run.Pages))
			o.finish(&run, model.RunSucceeded, "")
			break
		}
		if err := ctx.Err(); err != nil {
			o.finish(&run, model.RunCancelled, "cancelled")
			break
		}

		var page *port.ActivityPage
		attempts, err := o.retry.do(ctx, func(c context.Context) error {
			var ferr error
			page, ferr = o.deps.Client.FetchPage(c, port.PageRequest{Since: since, Pairs: in.Pairs, Cursor: cursor})
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				o.finish(&run, model.RunCancelled, "cancelled")
			} else {
				o.finish(&run, model.RunFailed, fmt.Sprintf("fetch page %d after %d attempt(s): %v", run.Pages+1, attempts, err))
			}
			break
		}

		var counts model.RunCounts
		for i, raw := range page.Records {
			counts.Fetched++
			outcome, tx, err := o.deps.Ingestor.IngestRecord(writeCtx, raw, accept)
			switch outcome {
			case OutcomeCreated:
				counts.Created++
			case OutcomeUpdated:
				counts.Updated++
			case OutcomeDuplicate:
				counts.Duplicate++
			case OutcomeFiltered:
				counts.Filtered++
			case OutcomeErrored:
				counts.Errored++
				run.Note(fmt.Sprintf("page %d entry %s: %v", run.Pages+1, Describe(i, raw), err))
			}
			if outcome != OutcomeErrored && tx.Timestamp.After(highWater) {
				highWater = tx.Timestamp
			}
		}
		run.Counts.Add(counts)
		run.Pages++
		cursor = page.NextCursor

		if !filtered {
			next := cp
			if cursor == "" {
				next.HighWater, next.Cursor, next.CursorAt = highWater, "", time.Time{}
			} else {
				next.Cursor, next.CursorAt = cursor, since
			}
			if err := o.deps.Checkpoints.SaveCheckpoint(writeCtx, next); err != nil {
				log.Error().Err(err).Str("run", run.ID).Msg("save checkpoint failed")
				run.Note(fmt.Sprintf("save checkpoint: %v", err))
			} else {
				cp = next
			}
		}

		log.Debug().
			Str("run", run.ID).
			Int("page", run.Pages).
			Int("fetched", counts.Fetched).
			Int("created", counts.Created).
			Int("duplicate", counts.Duplicate).
			Int("errored", counts.Errored).
			Msg("page ingested")
		if in.OnPage != nil {
			in.OnPage(run.Clone())
		}
		o.publish(writeCtx, run)

		if cursor == "" {
			o.finish(&run, model.RunSucceeded, "")
			break
		}
	}

	o.publish(writeCtx, run)
	ev := log.Info()
	if run.Status == model.RunFailed {
		ev = log.Error()
	}
	ev.Str("run", run.ID).
		Str("status", string(run.Status)).
		Int("pages", run.Pages).
		Int("fetched", run.Counts.Fetched).
		Int("created", run.Counts.Created).
		Int("updated", run.Counts.Updated).
		Int("duplicate", run.Counts.Duplicate).
		Int("errored", run.Counts.Errored).
		Str("error", run.Error).
		Msg("sync finished")
	return run
}

func (o *SyncOrchestrator) finish(run *model.SyncRun, status model.RunStatus, errMsg string) {
	now := o.now()
	run.Status = status
	run.FinishedAt = &now
	run.Error = errMsg
}

func (o *SyncOrchestrator) publish(ctx context.Context, run model.SyncRun) {
	if o.deps.Sink == nil {
		return
	}
	if err := o.deps.Sink.PublishRun(ctx, run.Clone()); err != nil {
		log.Warn().Err(err).Str("run", run.ID).Msg("publish run event failed")
	}
}

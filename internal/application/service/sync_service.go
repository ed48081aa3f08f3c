package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
)

// SyncRequest is the caller-facing sync trigger.
type SyncRequest struct {
	Since *time.Time `json:"since,omitempty"`
	Pairs []string   `json:"pairs,omitempty"`
}

// StartResult mirrors the trigger response: started=false carries the run
// already in flight.
type StartResult struct {
	Started bool   `json:"started"`
	RunID   string `json:"runId,omitempty"`
}

type SyncServiceDeps struct {
	Account      string
	Orchestrator *SyncOrchestrator
	Checkpoints  port.CheckpointStore
	Jobs         port.JobRunner
	Lock         port.RunLock
	IDs          port.IDGenerator
	LockTTL      time.Duration
	Retention    time.Duration
}

// SyncService owns the per-account run token and the registry of recent
// runs. Only one run per account holds the token at a time.
type SyncService struct {
	deps SyncServiceDeps
	runs *cache.Cache

	mu     sync.Mutex
	active string
}

func NewSyncService(deps SyncServiceDeps) *SyncService {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 2 * time.Minute
	}
	if deps.Retention <= 0 {
		deps.Retention = time.Hour
	}
	return &SyncService{
		deps: deps,
		runs: cache.New(deps.Retention, 2*deps.Retention),
	}
}

// Start launches a background run. When another run holds the token it
// returns Started=false with that run's id and an error matching
// model.ErrSyncAlreadyInProgress.
func (s *SyncService) Start(ctx context.Context, req SyncRequest) (StartResult, error) {
	runID, cp, err := s.begin(ctx, req)
	if err != nil {
		var inProgress *model.SyncInProgressError
		if errors.As(err, &inProgress) {
			return StartResult{Started: false, RunID: inProgress.RunID}, err
		}
		return StartResult{}, err
	}

	job := func(jctx context.Context) error {
		run := s.execute(jctx, runID, req, cp)
		switch run.Status {
		case model.RunFailed:
			return errors.New(run.Error)
		case model.RunCancelled:
			return context.Canceled
		}
		return nil
	}
	if err := s.deps.Jobs.Submit(runID, job); err != nil {
		s.end(runID)
		return StartResult{}, fmt.Errorf("submit sync job: %w", err)
	}
	return StartResult{Started: true, RunID: runID}, nil
}

// Run executes a sync in the caller's goroutine. Cancelling ctx stops it
// after the current page.
func (s *SyncService) Run(ctx context.Context, req SyncRequest) (model.SyncRun, error) {
	runID, cp, err := s.begin(ctx, req)
	if err != nil {
		return model.SyncRun{}, err
	}
	run := s.execute(ctx, runID, req, cp)
	if run.Status == model.RunFailed {
		return run, errors.New(run.Error)
	}
	return run, nil
}

func (s *SyncService) begin(ctx context.Context, req SyncRequest) (string, model.Checkpoint, error) {
	account := s.deps.Account
	runID := s.deps.IDs.NewID()

	ok, holder, err := s.deps.Lock.TryAcquire(ctx, account, runID, s.deps.LockTTL)
	if err != nil {
		return "", model.Checkpoint{}, fmt.Errorf("acquire run token: %w", err)
	}
	if !ok {
		log.Warn().Str("account", account).Str("active_run", holder).Msg("sync rejected: run in progress")
		return "", model.Checkpoint{}, &model.SyncInProgressError{Account: account, RunID: holder}
	}

	cp, err := s.deps.Checkpoints.LoadCheckpoint(ctx, account)
	if err != nil {
		s.release(runID)
		return "", model.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	s.mu.Lock()
	s.active = runID
	s.mu.Unlock()
	s.runs.SetDefault(runID, model.SyncRun{
		ID:        runID,
		Account:   account,
		StartedAt: time.Now().UTC(),
		Since:     req.Since,
		Pairs:     req.Pairs,
		Status:    model.RunRunning,
	})
	return runID, cp, nil
}

func (s *SyncService) execute(ctx context.Context, runID string, req SyncRequest, cp model.Checkpoint) model.SyncRun {
	defer s.end(runID)

	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHeartbeat()
	go s.heartbeat(hbCtx, runID)

	run := s.deps.Orchestrator.Run(ctx, SyncInput{
		RunID:      runID,
		Since:      req.Since,
		Pairs:      req.Pairs,
		Checkpoint: cp,
		OnPage: func(r model.SyncRun) {
			s.runs.SetDefault(r.ID, r)
		},
	})
	s.runs.SetDefault(run.ID, run)
	return run
}

// heartbeat keeps the run token alive while pages or retries take long.
func (s *SyncService) heartbeat(ctx context.Context, runID string) {
	t := time.NewTicker(s.deps.LockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.deps.Lock.Refresh(ctx, s.deps.Account, runID, s.deps.LockTTL); err != nil {
				log.Error().Err(err).Str("run", runID).Msg("refresh run token failed")
			}
		}
	}
}

func (s *SyncService) end(runID string) {
	s.mu.Lock()
	if s.active == runID {
		s.active = ""
	}
	s.mu.Unlock()
	s.release(runID)
}

func (s *SyncService) release(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Lock.Release(ctx, s.deps.Account, runID); err != nil {
		log.Error().Err(err).Str("run", runID).Msg("release run token failed")
	}
}

// Status returns the latest snapshot of a run started by this process.
func (s *SyncService) Status(runID string) (model.SyncRun, bool) {
	v, ok := s.runs.Get(runID)
	if !ok {
		return model.SyncRun{}, false
	}
	return v.(model.SyncRun).Clone(), true
}

// Active returns the run currently in flight in this process, if any.
func (s *SyncService) Active() (model.SyncRun, bool) {
	s.mu.Lock()
	id := s.active
	s.mu.Unlock()
	if id == "" {
		return model.SyncRun{}, false
	}
	return s.Status(id)
}

// Cancel asks a background run to stop after its current page.
func (s *SyncService) Cancel(runID string) bool {
	return s.deps.Jobs.Cancel(runID)
}

// Wait blocks until a background run finishes and returns its final state.
func (s *SyncService) Wait(ctx context.Context, runID string) (model.SyncRun, error) {
	if _, err := s.deps.Jobs.Wait(ctx, runID); err != nil {
		return model.SyncRun{}, err
	}
	run, ok := s.Status(runID)
	if !ok {
		return model.SyncRun{}, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
	}
	return run, nil
}

// Package autosync triggers background syncs on a fixed interval.
package autosync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"xledger/internal/application/service"
	"xledger/internal/domain/model"
)

// Starter is the slice of service.SyncService the scheduler needs.
type Starter interface {
	Start(ctx context.Context, req service.SyncRequest) (service.StartResult, error)
}

type ServiceDeps struct {
	Sync     Starter
	Interval time.Duration
	// RunAtStart triggers one sync immediately, even when Interval disables
	// the ticker.
	RunAtStart bool
}

type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps}
}

// Run blocks until ctx is done. A zero interval disables scheduling.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Sync == nil {
		return errors.New("autosync: no sync service")
	}
	if s.deps.RunAtStart {
		s.trigger(ctx)
	}
	if s.deps.Interval <= 0 {
		log.Info().Msg("autosync disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	log.Info().Dur("interval", s.deps.Interval).Msg("autosync started")

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *Service) trigger(ctx context.Context) {
	res, err := s.deps.Sync.Start(ctx, service.SyncRequest{})
	switch {
	case errors.Is(err, model.ErrSyncAlreadyInProgress):
		log.Info().Str("active_run", res.RunID).Msg("autosync skipped: run in progress")
	case err != nil:
		log.Error().Err(err).Msg("autosync trigger failed")
	default:
		log.Info().Str("run", res.RunID).Msg("autosync run started")
	}
}

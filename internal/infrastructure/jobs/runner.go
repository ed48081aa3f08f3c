package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"xledger/internal/application/port"
)

var (
	ErrDuplicateJob = errors.New("job id already running")
	ErrUnknownJob   = errors.New("unknown job")
	ErrRunnerClosed = errors.New("job runner closed")
)

type running struct {
	status port.JobStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner executes each job on its own goroutine. Finished statuses are kept
// in a TTL cache so callers can still ask about a run after it ends.
type Runner struct {
	mu       sync.Mutex
	active   map[string]*running
	finished *cache.Cache
	base     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

func NewRunner(retention time.Duration) *Runner {
	if retention <= 0 {
		retention = time.Hour
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		active:   make(map[string]*running),
		finished: cache.New(retention, 2*retention),
		base:     base,
		stop:     stop,
	}
}

func (r *Runner) Submit(id string, job port.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	if _, ok := r.active[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}

	ctx, cancel := context.WithCancel(r.base)
	j := &running{
		status: port.JobStatus{ID: id, State: port.JobRunning, StartedAt: time.Now().UTC()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.active[id] = j
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(j.done)
		defer cancel()

		err := r.safeRun(ctx, job)

		r.mu.Lock()
		st := j.status
		st.FinishedAt = time.Now().UTC()
		switch {
		case err == nil:
			st.State = port.JobSucceeded
		case errors.Is(err, context.Canceled):
			st.State = port.JobCancelled
			st.Err = err.Error()
		default:
			st.State = port.JobFailed
			st.Err = err.Error()
		}
		j.status = st
		delete(r.active, id)
		r.finished.SetDefault(id, st)
		r.mu.Unlock()

		log.Debug().Str("job", id).Str("state", string(st.State)).Msg("job finished")
	}()
	return nil
}

func (r *Runner) safeRun(ctx context.Context, job port.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panic: %v", p)
		}
	}()
	return job(ctx)
}

func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.active[id]
	if !ok {
		return false
	}
	j.cancel()
	return true
}

func (r *Runner) Status(id string) (port.JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.active[id]; ok {
		return j.status, true
	}
	if v, ok := r.finished.Get(id); ok {
		return v.(port.JobStatus), true
	}
	return port.JobStatus{}, false
}

// Wait blocks until the job ends or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (port.JobStatus, error) {
	r.mu.Lock()
	j, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		if st, found := r.Status(id); found {
			return st, nil
		}
		return port.JobStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	select {
	case <-j.done:
		st, _ := r.Status(id)
		return st, nil
	case <-ctx.Done():
		return port.JobStatus{}, ctx.Err()
	}
}

// Close cancels every running job and waits for them to return.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
	return nil
}

var _ port.JobRunner = (*Runner)(nil)

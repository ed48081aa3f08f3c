package console

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"xledger/internal/domain/model"
)

// Sink prints run progress to a terminal. Running snapshots redraw a single
// live line; the final snapshot is printed on its own timestamped line.
type Sink struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	live  bool
}

func NewSink(out io.Writer, color bool) *Sink {
	return &Sink{out: out, color: color}
}

func (s *Sink) PublishRun(_ context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !run.Status.Terminal() {
		s.live = true
		_, err := fmt.Fprint(s.out, RenderRun(run, true, s.color))
		return err
	}

	if s.live {
		if _, err := fmt.Fprint(s.out, "\n"); err != nil {
			return err
		}
		s.live = false
	}
	ts := time.Now()
	if run.FinishedAt != nil {
		ts = *run.FinishedAt
	}
	_, err := fmt.Fprintf(s.out, "%s %s\n", ts.Local().Format("2006-01-02 15:04:05"), RenderRun(run, false, s.color))
	if err != nil {
		return err
	}
	for _, d := range run.Diagnostics {
		if _, err := fmt.Fprintf(s.out, "  %s\n", d); err != nil {
			return err
		}
	}
	return nil
}

package port

import (
	"context"
	"time"
)

// PageRequest asks the exchange for one page of activity.
type PageRequest struct {
	Since  time.Time // zero means from the beginning
	Pairs  []string  // advisory; the orchestrator filters after normalization
	Cursor string    // empty starts a fresh walk
}

// ActivityPage is one page of raw entries in the exchange's native shape.
// An empty NextCursor means the walk is complete.
type ActivityPage struct {
	Records    []map[string]any
	NextCursor string
}

// ExchangeClient fetches paginated raw activity. Errors must wrap
// model.ErrTransient when a retry may succeed and model.ErrPermanent otherwise.
type ExchangeClient interface {
	Name() string
	FetchPage(ctx context.Context, req PageRequest) (*ActivityPage, error)
}

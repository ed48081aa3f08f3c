package port

import (
	"context"

	"xledger/internal/domain/model"
)

// RunEventSink receives a snapshot of a sync run after every page and once
// more when it finishes. Publishing is best effort.
type RunEventSink interface {
	PublishRun(ctx context.Context, run model.SyncRun) error
}

// IDGenerator yields sortable unique identifiers.
type IDGenerator interface {
	NewID() string
}

package archive

import (
	"context"

	"github.com/podushkina/sarflow/internal/task"
)

// Archive keeps the final view of finished tasks so they can still be
// queried after the registry evicts them.
type Archive interface {
	Put(ctx context.Context, t *task.Task) error
	// Get returns nil, nil when id is unknown.
	Get(ctx context.Context, id string) (*task.Task, error)
	Close() error
}

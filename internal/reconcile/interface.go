package reconcile

import (
	"context"

	"github.com/taskwire/taskwire/internal/task"
)

// Gateway is the slice of the remote store the reconciliation engine
// needs. *remote.Gateway satisfies it; tests substitute fakes.
//
// Write calls must distinguish blocked writes (zero rows affected) from
// transport failures by wrapping remote.ErrBlocked; Push halts on either
// but the distinction is surfaced to the user.
type Gateway interface {
	// Insert creates a remote row for the task and returns the
	// server-assigned id and timestamp.
	Insert(ctx context.Context, t task.Task) (task.RemoteRow, error)

	// Update overwrites the remote row's title and completion state and
	// returns the refreshed server timestamp.
	Update(ctx context.Context, remoteID int64, t task.Task) (task.RemoteRow, error)

	// Delete removes the remote row, reporting whether one was removed.
	Delete(ctx context.Context, remoteID int64) error

	// Pull returns all remote rows ordered by updated_at descending.
	Pull(ctx context.Context) ([]task.RemoteRow, error)
}

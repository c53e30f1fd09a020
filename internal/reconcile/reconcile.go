package reconcile

import (
	"context"
	"strconv"

	"github.com/taskwire/taskwire/internal/task"
)

// Push sends local changes outward and returns the resulting snapshot.
//
// Push is row-granular at-least-once, never all-or-nothing: each row's
// outcome is committed to the returned snapshot before the next row is
// attempted, so a failure part-way through retains all progress made
// before it. The returned snapshot is always usable, even alongside a
// non-nil error.
//
// Tombstones are processed first. A tombstone that was never pushed has
// nothing to tell the server and is dropped outright. A pushed tombstone
// issues a remote delete and is dropped once the delete is confirmed.
//
// Remaining unsynced rows are then inserted (no remote id yet) or updated
// (remote id known); on success the row takes the server-assigned id and
// timestamp and is marked synced.
//
// Any blocked or transport failure halts the pass immediately.
func Push(ctx context.Context, gw Gateway, local []task.Task) ([]task.Task, error) {
	next := task.Clone(local)

	for _, t := range local {
		if !t.Deleted {
			continue
		}

		if t.RemoteID == 0 {
			next = remove(next, t.LocalID)
			continue
		}

		if err := gw.Delete(ctx, t.RemoteID); err != nil {
			return next, err
		}
		next = remove(next, t.LocalID)
	}

	for _, t := range next {
		if t.Deleted || t.Synced {
			continue
		}

		if t.RemoteID == 0 {
			row, err := gw.Insert(ctx, t)
			if err != nil {
				return next, err
			}
			next = apply(next, t.LocalID, func(x *task.Task) {
				x.RemoteID = row.ID
				x.UpdatedAt = row.UpdatedAt
				x.Synced = true
			})
			continue
		}

		row, err := gw.Update(ctx, t.RemoteID, t)
		if err != nil {
			return next, err
		}
		next = apply(next, t.LocalID, func(x *task.Task) {
			x.UpdatedAt = row.UpdatedAt
			x.Synced = true
		})
	}

	return next, nil
}

// Merge reconciles the local snapshot with the full remote row set and
// returns the next consistent snapshot.
//
// Per local row with a remote id:
//   - remote row gone, local never synced: the remote copy vanished before
//     the local edits were confirmed, so the remote id is cleared and a
//     future push re-inserts the row as new.
//   - remote row gone, local synced: remote deletion wins; row dropped.
//   - local unsynced: kept untouched regardless of timestamps.
//   - remote strictly newer: remote title/completion/timestamp replace the
//     local fields; priority, due date and order are local-only and kept.
//   - otherwise: local row kept, marked synced.
//
// Remote rows with no local counterpart are appended as new local tasks.
// Tombstones and never-pushed local rows pass through untouched.
func Merge(local []task.Task, remote []task.RemoteRow) []task.Task {
	remoteByID := make(map[int64]task.RemoteRow, len(remote))
	for _, row := range remote {
		remoteByID[row.ID] = row
	}

	seen := make(map[int64]bool, len(local))
	merged := make([]task.Task, 0, len(local)+len(remote))

	for _, t := range local {
		if t.RemoteID != 0 {
			seen[t.RemoteID] = true
		}

		if t.Deleted || t.RemoteID == 0 {
			merged = append(merged, t)
			continue
		}

		row, ok := remoteByID[t.RemoteID]
		if !ok {
			if !t.Synced {
				t.RemoteID = 0
				merged = append(merged, t)
			}
			continue
		}

		if !t.Synced {
			merged = append(merged, t)
			continue
		}

		if row.UpdatedAt.After(t.UpdatedAt) {
			t.Title = row.Title
			t.Completed = row.Completed
			t.UpdatedAt = row.UpdatedAt
		}
		t.Synced = true
		merged = append(merged, t)
	}

	for _, row := range remote {
		if seen[row.ID] {
			continue
		}
		merged = append(merged, task.Task{
			LocalID:   "remote_" + strconv.FormatInt(row.ID, 10),
			RemoteID:  row.ID,
			Title:     row.Title,
			Priority:  task.PriorityMedium,
			Order:     task.NextOrder(merged),
			Completed: row.Completed,
			UpdatedAt: row.UpdatedAt,
			Synced:    true,
		})
	}

	task.Sort(merged)
	return merged
}

func remove(tasks []task.Task, localID string) []task.Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.LocalID != localID {
			out = append(out, t)
		}
	}
	return out
}

func apply(tasks []task.Task, localID string, fn func(*task.Task)) []task.Task {
	for i := range tasks {
		if tasks[i].LocalID == localID {
			fn(&tasks[i])
		}
	}
	return tasks
}

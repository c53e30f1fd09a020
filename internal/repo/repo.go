// Package repo owns the in-memory task snapshot and its mutation
// operations.
//
// Every mutation is synchronous with respect to the snapshot, writes
// through to local persistence before returning, and signals the sync
// scheduler. The repository never performs network I/O; pushing the
// resulting changes anywhere is the scheduler's business.
//
// Invalid input (empty title, malformed date, mismatched reorder set) is
// rejected before any persistence attempt and reported as a typed error
// so callers can tell a validation no-op from a persistence failure.
package repo

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskwire/taskwire/internal/task"
)

var (
	// ErrNotFound indicates no task carries the given local id.
	ErrNotFound = errors.New("task not found")

	// ErrEmptyTitle indicates a create or update that would leave the
	// title empty after trimming.
	ErrEmptyTitle = errors.New("title must not be empty")

	// ErrOrderMismatch indicates a reorder whose id list does not exactly
	// match the current visible set.
	ErrOrderMismatch = errors.New("reorder ids do not match the visible task set")
)

const (
	defaultAutoSyncDelay    = 700 * time.Millisecond
	defaultDeleteGraceDelay = 5 * time.Second
)

// Persister is the slice of the local store the repository writes through
// to. *store.Store satisfies it.
type Persister interface {
	SaveTasks([]task.Task) error
}

// Scheduler receives a signal after every successful mutation.
type Scheduler interface {
	ScheduleAutoSync(delay time.Duration)
}

// Config holds repository configuration.
type Config struct {
	// AutoSyncDelay is the debounce delay requested after ordinary
	// mutations. Zero means the default of 700ms.
	AutoSyncDelay time.Duration

	// DeleteGraceDelay is the longer delay requested after deletions,
	// leaving room for an undo before the tombstone is pushed. Zero
	// means the default of 5s.
	DeleteGraceDelay time.Duration

	// Now returns the current time; nil means time.Now. Every mutation
	// stamps UpdatedAt through this.
	Now func() time.Time

	// NewID generates local ids; nil means uuid.
	NewID func() string
}

// Repository is the authoritative owner of the local task snapshot.
type Repository struct {
	mu    sync.Mutex
	tasks []task.Task

	store Persister
	sched Scheduler

	autoSyncDelay    time.Duration
	deleteGraceDelay time.Duration
	now              func() time.Time
	newID            func() string
}

// New creates a repository over the given snapshot. The snapshot is
// normalized (priority and order defaults) on the way in, matching what
// the store does on load.
func New(initial []task.Task, store Persister, sched Scheduler, cfg Config) *Repository {
	if cfg.AutoSyncDelay == 0 {
		cfg.AutoSyncDelay = defaultAutoSyncDelay
	}
	if cfg.DeleteGraceDelay == 0 {
		cfg.DeleteGraceDelay = defaultDeleteGraceDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Repository{
		tasks:            task.Normalize(initial),
		store:            store,
		sched:            sched,
		autoSyncDelay:    cfg.AutoSyncDelay,
		deleteGraceDelay: cfg.DeleteGraceDelay,
		now:              cfg.Now,
		newID:            cfg.NewID,
	}
}

// Tasks returns a copy of the full snapshot, tombstones included.
func (r *Repository) Tasks() []task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return task.Clone(r.tasks)
}

// Visible returns the user-visible tasks in display order.
func (r *Repository) Visible() []task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return task.Visible(r.tasks)
}

// Find returns the task with the given local id.
func (r *Repository) Find(localID string) (task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.LocalID == localID {
			return t, nil
		}
	}
	return task.Task{}, ErrNotFound
}

// persistLocked writes the snapshot through to the store. Callers hold
// the mutex. On persistence failure the in-memory snapshot is rolled back
// to prev so a failed write is never half-applied from the caller's view.
func (r *Repository) persistLocked(prev []task.Task) error {
	if err := r.store.SaveTasks(r.tasks); err != nil {
		r.tasks = prev
		return fmt.Errorf("failed to persist tasks: %w", err)
	}
	return nil
}

func (r *Repository) schedule(delay time.Duration) {
	if r.sched != nil {
		r.sched.ScheduleAutoSync(delay)
	}
}

// CreateOptions carries the optional fields of Create.
type CreateOptions struct {
	Priority task.Priority
	DueAt    string
}

// Create adds a task with the next display order. The title is trimmed;
// an empty result is rejected before anything is touched.
func (r *Repository) Create(title string, opts CreateOptions) (task.Task, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return task.Task{}, ErrEmptyTitle
	}
	if opts.Priority == "" {
		opts.Priority = task.PriorityMedium
	}
	if _, err := task.ParsePriority(string(opts.Priority)); err != nil {
		return task.Task{}, err
	}
	if err := task.ValidateDueDate(opts.DueAt); err != nil {
		return task.Task{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := task.Task{
		LocalID:   r.newID(),
		Title:     trimmed,
		Priority:  opts.Priority,
		DueAt:     opts.DueAt,
		Order:     task.NextOrder(r.tasks),
		UpdatedAt: r.now(),
		Synced:    false,
	}

	prev := r.tasks
	r.tasks = append(task.Clone(r.tasks), t)
	if err := r.persistLocked(prev); err != nil {
		return task.Task{}, err
	}

	r.schedule(r.autoSyncDelay)
	return t, nil
}

// Update carries the changed fields of an update; nil pointers leave the
// field alone.
type Update struct {
	Title    *string
	Priority *task.Priority
	DueAt    *string
}

// Apply updates the task's fields. It is a no-op (false, nil) when no
// field actually differs, preventing spurious re-sync of unchanged rows.
func (r *Repository) Apply(localID string, upd Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(localID)
	if idx < 0 {
		return false, ErrNotFound
	}
	cur := r.tasks[idx]

	nextTitle := cur.Title
	if upd.Title != nil {
		nextTitle = strings.TrimSpace(*upd.Title)
		if nextTitle == "" {
			return false, ErrEmptyTitle
		}
	}
	nextPriority := cur.Priority
	if upd.Priority != nil {
		p, err := task.ParsePriority(string(*upd.Priority))
		if err != nil {
			return false, err
		}
		nextPriority = p
	}
	nextDueAt := cur.DueAt
	if upd.DueAt != nil {
		if err := task.ValidateDueDate(*upd.DueAt); err != nil {
			return false, err
		}
		nextDueAt = *upd.DueAt
	}

	if nextTitle == cur.Title && nextPriority == cur.Priority && nextDueAt == cur.DueAt {
		return false, nil
	}

	prev := r.tasks
	next := task.Clone(r.tasks)
	next[idx].Title = nextTitle
	next[idx].Priority = nextPriority
	next[idx].DueAt = nextDueAt
	next[idx].UpdatedAt = r.now()
	next[idx].Synced = false
	r.tasks = next
	if err := r.persistLocked(prev); err != nil {
		return false, err
	}

	r.schedule(r.autoSyncDelay)
	return true, nil
}

// Toggle flips the task's completion state.
func (r *Repository) Toggle(localID string) (task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(localID)
	if idx < 0 {
		return task.Task{}, ErrNotFound
	}

	prev := r.tasks
	next := task.Clone(r.tasks)
	next[idx].Completed = !next[idx].Completed
	next[idx].UpdatedAt = r.now()
	next[idx].Synced = false
	r.tasks = next
	if err := r.persistLocked(prev); err != nil {
		return task.Task{}, err
	}

	r.schedule(r.autoSyncDelay)
	return r.tasks[idx], nil
}

// SoftDelete marks the task as a tombstone. The task stays in the
// snapshot until a push confirms the remote deletion (or drops it, if it
// was never pushed); the scheduler is asked to wait out the undo grace
// period first.
func (r *Repository) SoftDelete(localID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(localID)
	if idx < 0 {
		return ErrNotFound
	}

	prev := r.tasks
	next := task.Clone(r.tasks)
	next[idx].Deleted = true
	next[idx].UpdatedAt = r.now()
	next[idx].Synced = false
	r.tasks = next
	if err := r.persistLocked(prev); err != nil {
		return err
	}

	r.schedule(r.deleteGraceDelay)
	return nil
}

// Restore undoes a soft delete. Restoring a task that is not deleted is a
// no-op (false, nil).
func (r *Repository) Restore(localID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(localID)
	if idx < 0 {
		return false, ErrNotFound
	}
	if !r.tasks[idx].Deleted {
		return false, nil
	}

	prev := r.tasks
	next := task.Clone(r.tasks)
	next[idx].Deleted = false
	next[idx].UpdatedAt = r.now()
	next[idx].Synced = false
	r.tasks = next
	if err := r.persistLocked(prev); err != nil {
		return false, err
	}

	r.schedule(r.autoSyncDelay)
	return true, nil
}

// Reorder assigns each visible task's order to its index in the given id
// list. The list must exactly match the current visible set or the whole
// operation is rejected.
func (r *Repository) Reorder(orderedVisibleIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderByID := make(map[string]int, len(orderedVisibleIDs))
	for i, id := range orderedVisibleIDs {
		if _, dup := orderByID[id]; dup {
			return ErrOrderMismatch
		}
		orderByID[id] = i
	}

	visible := 0
	for _, t := range r.tasks {
		if t.Deleted {
			continue
		}
		visible++
		if _, ok := orderByID[t.LocalID]; !ok {
			return ErrOrderMismatch
		}
	}
	if visible != len(orderedVisibleIDs) {
		return ErrOrderMismatch
	}

	prev := r.tasks
	next := task.Clone(r.tasks)
	now := r.now()
	for i := range next {
		if next[i].Deleted {
			continue
		}
		next[i].Order = orderByID[next[i].LocalID]
		next[i].UpdatedAt = now
		next[i].Synced = false
	}
	r.tasks = next
	if err := r.persistLocked(prev); err != nil {
		return err
	}

	r.schedule(r.autoSyncDelay)
	return nil
}

// ClearCompleted removes or tombstones every non-deleted completed task:
// never-pushed tasks are dropped outright (nothing remote to delete),
// pushed ones become tombstones for the next push. Returns how many tasks
// were affected.
func (r *Repository) ClearCompleted() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.tasks
	next := make([]task.Task, 0, len(r.tasks))
	now := r.now()
	affected := 0

	for _, t := range r.tasks {
		if t.Deleted || !t.Completed {
			next = append(next, t)
			continue
		}
		affected++
		if t.RemoteID == 0 {
			continue
		}
		t.Deleted = true
		t.Synced = false
		t.UpdatedAt = now
		next = append(next, t)
	}

	if affected == 0 {
		return 0, nil
	}

	r.tasks = next
	if err := r.persistLocked(prev); err != nil {
		return 0, err
	}

	r.schedule(r.autoSyncDelay)
	return affected, nil
}

// Replace swaps in a snapshot produced by a reconciliation pass and
// persists it. Unlike mutations it marks nothing unsynced and does not
// signal the scheduler; the new snapshot is the result of syncing, not a
// cause for more of it.
func (r *Repository) Replace(next []task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.tasks
	r.tasks = task.Clone(next)
	return r.persistLocked(prev)
}

// ResetTo replaces the snapshot without persisting, used after the store
// itself was reset.
func (r *Repository) ResetTo(next []task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = task.Clone(next)
}

func (r *Repository) indexOf(localID string) int {
	for i, t := range r.tasks {
		if t.LocalID == localID {
			return i
		}
	}
	return -1
}

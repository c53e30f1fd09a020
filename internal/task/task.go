// Package task provides the data model for taskwire's locally-owned task
// collection and its remote projection.
//
// Tasks are CRDT-adjacent with flat fields and last-write-wins semantics:
// UpdatedAt is the conflict clock, Synced records whether the remote store
// holds an identical row, and Deleted marks a tombstone awaiting remote
// deletion.
package task

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Priority is the local-only task priority. It never round-trips through
// the remote store.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a priority string.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("invalid priority %q (want low, medium, or high)", s)
}

// DueDateLayout is the canonical format for DueAt values.
const DueDateLayout = "2006-01-02"

// ValidateDueDate checks a due date string. Empty means "no due date" and
// is valid.
func ValidateDueDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(DueDateLayout, s); err != nil {
		return fmt.Errorf("invalid due date %q (want YYYY-MM-DD): %w", s, err)
	}
	return nil
}

// Task is a locally-owned task record.
//
// LocalID is the primary key for all local operations; it is generated on
// creation and never changes. RemoteID is assigned by the remote store on
// first successful push; zero means the task has never been pushed.
type Task struct {
	LocalID   string    `json:"local_id"`
	RemoteID  int64     `json:"remote_id,omitempty"`
	Title     string    `json:"title"`
	Priority  Priority  `json:"priority"`
	DueAt     string    `json:"due_at,omitempty"`
	Order     int       `json:"order"`
	Completed bool      `json:"is_completed"`
	UpdatedAt time.Time `json:"updated_at"`
	Synced    bool      `json:"synced"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// RemoteRow is the remote-side projection of a task. The remote store has
// no notion of priority, due date, display order, or tombstones; those are
// local-only extensions carried through merge.
type RemoteRow struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"is_completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks invariants that must hold for any persisted task.
func (t *Task) Validate() error {
	if t.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	if err := ValidateDueDate(t.DueAt); err != nil {
		return err
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Normalize applies defaults to tasks loaded from storage: missing
// priority becomes medium, and snapshots written before display ordering
// existed (every order zero) get orders assigned by position.
func Normalize(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	allZero := len(tasks) > 1
	for _, t := range tasks {
		if t.Order != 0 {
			allZero = false
			break
		}
	}
	for i, t := range tasks {
		if t.Priority == "" {
			t.Priority = PriorityMedium
		}
		if allZero {
			t.Order = i
		}
		out[i] = t
	}
	return out
}

// NextOrder returns max(order)+1 across the given tasks, or 0 when empty.
func NextOrder(tasks []Task) int {
	if len(tasks) == 0 {
		return 0
	}
	max := tasks[0].Order
	for _, t := range tasks[1:] {
		if t.Order > max {
			max = t.Order
		}
	}
	return max + 1
}

// Visible returns the tasks a user should see: everything that is not a
// tombstone, in display order.
func Visible(tasks []Task) []Task {
	var out []Task
	for _, t := range tasks {
		if !t.Deleted {
			out = append(out, t)
		}
	}
	Sort(out)
	return out
}

// Sort orders tasks by Order ascending, ties broken by UpdatedAt
// descending. The sort is stable so equal rows keep their relative order
// within one pass.
func Sort(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
}

// Clone returns a deep copy of the slice. Task has no reference fields, so
// a copy of the backing array is a full copy.
func Clone(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

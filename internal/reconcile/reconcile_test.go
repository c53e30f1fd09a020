package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/taskwire/taskwire/internal/remote"
	"github.com/taskwire/taskwire/internal/task"
)

// fakeGateway is an in-memory remote table for exercising Push.
type fakeGateway struct {
	rows   map[int64]task.RemoteRow
	nextID int64
	now    time.Time

	// failOn maps "op:title-or-id" to an error, letting tests fail a
	// specific call while earlier calls succeed.
	failOn map[string]error

	inserts int
	updates int
	deletes int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		rows:   make(map[int64]task.RemoteRow),
		nextID: 1,
		now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		failOn: make(map[string]error),
	}
}

func (g *fakeGateway) tick() time.Time {
	g.now = g.now.Add(time.Second)
	return g.now
}

func (g *fakeGateway) Insert(_ context.Context, t task.Task) (task.RemoteRow, error) {
	if err := g.failOn["insert:"+t.Title]; err != nil {
		return task.RemoteRow{}, err
	}
	g.inserts++
	row := task.RemoteRow{ID: g.nextID, Title: t.Title, Completed: t.Completed, UpdatedAt: g.tick()}
	g.rows[row.ID] = row
	g.nextID++
	return row, nil
}

func (g *fakeGateway) Update(_ context.Context, remoteID int64, t task.Task) (task.RemoteRow, error) {
	if err := g.failOn[fmt.Sprintf("update:%d", remoteID)]; err != nil {
		return task.RemoteRow{}, err
	}
	g.updates++
	row := task.RemoteRow{ID: remoteID, Title: t.Title, Completed: t.Completed, UpdatedAt: g.tick()}
	g.rows[remoteID] = row
	return row, nil
}

func (g *fakeGateway) Delete(_ context.Context, remoteID int64) error {
	if err := g.failOn[fmt.Sprintf("delete:%d", remoteID)]; err != nil {
		return err
	}
	g.deletes++
	delete(g.rows, remoteID)
	return nil
}

func (g *fakeGateway) Pull(_ context.Context) ([]task.RemoteRow, error) {
	var rows []task.RemoteRow
	for _, row := range g.rows {
		rows = append(rows, row)
	}
	return rows, nil
}

func findTask(t *testing.T, tasks []task.Task, localID string) task.Task {
	t.Helper()
	for _, x := range tasks {
		if x.LocalID == localID {
			return x
		}
	}
	t.Fatalf("task %s not in snapshot", localID)
	return task.Task{}
}

func hasTask(tasks []task.Task, localID string) bool {
	for _, x := range tasks {
		if x.LocalID == localID {
			return true
		}
	}
	return false
}

func TestPushInsertAssignsRemoteID(t *testing.T) {
	gw := newFakeGateway()
	local := []task.Task{
		{LocalID: "a", Title: "buy milk", Priority: task.PriorityMedium, UpdatedAt: gw.now},
	}

	next, err := Push(context.Background(), gw, local)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	got := findTask(t, next, "a")
	if got.RemoteID == 0 {
		t.Error("expected remote id to be assigned")
	}
	if !got.Synced {
		t.Error("expected task to be marked synced")
	}
	if !got.UpdatedAt.After(local[0].UpdatedAt) {
		t.Error("expected server timestamp to replace local one")
	}
}

func TestPushUpdateMarksSynced(t *testing.T) {
	gw := newFakeGateway()
	gw.rows[7] = task.RemoteRow{ID: 7, Title: "old", UpdatedAt: gw.now}

	local := []task.Task{
		{LocalID: "a", RemoteID: 7, Title: "new title", Priority: task.PriorityMedium, UpdatedAt: gw.now},
	}

	next, err := Push(context.Background(), gw, local)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	got := findTask(t, next, "a")
	if !got.Synced {
		t.Error("expected task to be marked synced")
	}
	if gw.rows[7].Title != "new title" {
		t.Errorf("remote row not updated, got %q", gw.rows[7].Title)
	}
}

func TestPushSkipsSyncedAndOrphanTombstones(t *testing.T) {
	gw := newFakeGateway()
	local := []task.Task{
		{LocalID: "synced", RemoteID: 1, Title: "done already", Synced: true, UpdatedAt: gw.now},
		{LocalID: "ghost", Title: "never pushed", Deleted: true, UpdatedAt: gw.now},
	}

	next, err := Push(context.Background(), gw, local)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if hasTask(next, "ghost") {
		t.Error("never-pushed tombstone should be dropped outright")
	}
	if gw.inserts+gw.updates+gw.deletes != 0 {
		t.Errorf("expected no remote calls, got %d inserts %d updates %d deletes",
			gw.inserts, gw.updates, gw.deletes)
	}
}

func TestPushTombstoneDeletesRemote(t *testing.T) {
	gw := newFakeGateway()
	gw.rows[3] = task.RemoteRow{ID: 3, Title: "doomed", UpdatedAt: gw.now}

	local := []task.Task{
		{LocalID: "a", RemoteID: 3, Title: "doomed", Deleted: true, UpdatedAt: gw.now},
	}

	next, err := Push(context.Background(), gw, local)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if hasTask(next, "a") {
		t.Error("confirmed tombstone should be dropped")
	}
	if _, exists := gw.rows[3]; exists {
		t.Error("remote row should be deleted")
	}
}

func TestPushHaltsOnBlockedButKeepsPartialProgress(t *testing.T) {
	gw := newFakeGateway()
	gw.rows[5] = task.RemoteRow{ID: 5, Title: "b", UpdatedAt: gw.now}
	blocked := fmt.Errorf("update of row 5 was not applied: %w", remote.ErrBlocked)
	gw.failOn["update:5"] = blocked

	base := gw.now
	local := []task.Task{
		{LocalID: "a", Title: "insert me", Priority: task.PriorityMedium, UpdatedAt: base},
		{LocalID: "b", RemoteID: 5, Title: "blocked row", Priority: task.PriorityMedium, UpdatedAt: base},
	}

	next, err := Push(context.Background(), gw, local)
	if !errors.Is(err, remote.ErrBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}

	// The insert that succeeded before the failure stays committed.
	a := findTask(t, next, "a")
	if !a.Synced || a.RemoteID == 0 {
		t.Errorf("earlier successful row lost: synced=%v remoteID=%d", a.Synced, a.RemoteID)
	}

	// The blocked row keeps its unsynced state for the next attempt.
	b := findTask(t, next, "b")
	if b.Synced {
		t.Error("blocked row must not be marked synced")
	}
}

func TestPushIdempotent(t *testing.T) {
	gw := newFakeGateway()
	local := []task.Task{
		{LocalID: "a", Title: "one", Priority: task.PriorityMedium, UpdatedAt: gw.now},
		{LocalID: "b", Title: "two", Priority: task.PriorityMedium, UpdatedAt: gw.now},
	}

	first, err := Push(context.Background(), gw, local)
	if err != nil {
		t.Fatalf("first Push failed: %v", err)
	}
	second, err := Push(context.Background(), gw, first)
	if err != nil {
		t.Fatalf("second Push failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("second push over a fully-synced snapshot should change nothing")
	}
	if gw.inserts != 2 {
		t.Errorf("expected 2 inserts total, got %d", gw.inserts)
	}
}

func TestMergeRemoteNewerWinsKeepsLocalFields(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	local := []task.Task{{
		LocalID: "a", RemoteID: 7, Title: "stale", Priority: task.PriorityHigh,
		DueAt: "2024-07-01", Order: 4, UpdatedAt: t1, Synced: true,
	}}
	remoteRows := []task.RemoteRow{{ID: 7, Title: "fresh", Completed: true, UpdatedAt: t2}}

	merged := Merge(local, remoteRows)

	got := findTask(t, merged, "a")
	if got.Title != "fresh" || !got.Completed || !got.UpdatedAt.Equal(t2) {
		t.Errorf("remote fields not applied: %+v", got)
	}
	if got.Priority != task.PriorityHigh || got.DueAt != "2024-07-01" || got.Order != 4 {
		t.Errorf("local-only fields not preserved: %+v", got)
	}
	if !got.Synced {
		t.Error("merged row should be synced")
	}
}

func TestMergeUnsyncedLocalAlwaysWins(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	farFuture := t1.Add(1000 * time.Hour)

	local := []task.Task{{
		LocalID: "c", RemoteID: 9, Title: "my edit", UpdatedAt: t1, Synced: false,
	}}
	remoteRows := []task.RemoteRow{{ID: 9, Title: "remote edit", UpdatedAt: farFuture}}

	merged := Merge(local, remoteRows)

	got := findTask(t, merged, "c")
	if got.Title != "my edit" || got.Synced {
		t.Errorf("unsynced local row was altered by merge: %+v", got)
	}
}

func TestMergeRemoteGone(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		synced     bool
		wantKept   bool
		wantRemote int64
	}{
		{name: "synced row dropped", synced: true, wantKept: false},
		{name: "unsynced row reinserted as new", synced: false, wantKept: true, wantRemote: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := []task.Task{{
				LocalID: "a", RemoteID: 4, Title: "x", UpdatedAt: t1, Synced: tt.synced,
			}}

			merged := Merge(local, nil)

			if hasTask(merged, "a") != tt.wantKept {
				t.Fatalf("kept=%v, want %v", hasTask(merged, "a"), tt.wantKept)
			}
			if tt.wantKept {
				got := findTask(t, merged, "a")
				if got.RemoteID != tt.wantRemote {
					t.Errorf("remote id = %d, want cleared", got.RemoteID)
				}
			}
		})
	}
}

func TestMergeAppendsUnknownRemoteRows(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	local := []task.Task{
		{LocalID: "a", Title: "local only", Order: 3, UpdatedAt: t1},
	}
	remoteRows := []task.RemoteRow{{ID: 42, Title: "from elsewhere", UpdatedAt: t1}}

	merged := Merge(local, remoteRows)

	got := findTask(t, merged, "remote_42")
	if got.RemoteID != 42 || !got.Synced {
		t.Errorf("appended row wrong: %+v", got)
	}
	if got.Priority != task.PriorityMedium {
		t.Errorf("appended row priority = %q, want medium", got.Priority)
	}
	if got.Order != 4 {
		t.Errorf("appended row order = %d, want next available 4", got.Order)
	}
}

func TestMergeSortsByOrderThenUpdatedAtDesc(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	local := []task.Task{
		{LocalID: "late", Order: 1, Title: "x", UpdatedAt: t1},
		{LocalID: "early", Order: 0, Title: "y", UpdatedAt: t1},
		{LocalID: "newer", Order: 1, Title: "z", UpdatedAt: t2},
	}

	merged := Merge(local, nil)

	want := []string{"early", "newer", "late"}
	for i, id := range want {
		if merged[i].LocalID != id {
			t.Fatalf("position %d = %s, want %s (full: %+v)", i, merged[i].LocalID, id, merged)
		}
	}
}

func TestFullPassIdempotent(t *testing.T) {
	// merge(push(local), remote) applied twice with no intervening
	// mutation yields an identical snapshot.
	gw := newFakeGateway()
	gw.rows[1] = task.RemoteRow{ID: 1, Title: "server", UpdatedAt: gw.now}

	local := []task.Task{
		{LocalID: "a", Title: "mine", Priority: task.PriorityMedium, UpdatedAt: gw.now},
	}

	ctx := context.Background()

	pushed, err := Push(ctx, gw, local)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	remoteRows, _ := gw.Pull(ctx)
	first := Merge(pushed, remoteRows)

	pushed2, err := Push(ctx, gw, first)
	if err != nil {
		t.Fatalf("second Push failed: %v", err)
	}
	remoteRows2, _ := gw.Pull(ctx)
	second := Merge(pushed2, remoteRows2)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("full pass not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

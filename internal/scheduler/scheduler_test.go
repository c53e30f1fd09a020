package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/taskwire/taskwire/internal/status"
	"github.com/taskwire/taskwire/internal/store"
	"github.com/taskwire/taskwire/internal/task"
)

// blockingGateway lets a test hold a push pass open while other triggers
// arrive.
type blockingGateway struct {
	mu      sync.Mutex
	nextID  int64
	rows    []task.RemoteRow
	inserts int
	pulls   int

	// When gate is non-nil the first Insert signals entered and then
	// blocks until gate is closed.
	gate    chan struct{}
	entered chan struct{}
	gated   bool

	insertErr error
	pullErr   error
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{nextID: 1}
}

func (g *blockingGateway) Insert(_ context.Context, t task.Task) (task.RemoteRow, error) {
	g.mu.Lock()
	if g.gate != nil && !g.gated {
		g.gated = true
		g.mu.Unlock()
		close(g.entered)
		<-g.gate
		g.mu.Lock()
	}
	defer g.mu.Unlock()

	if g.insertErr != nil {
		return task.RemoteRow{}, g.insertErr
	}
	g.inserts++
	row := task.RemoteRow{ID: g.nextID, Title: t.Title, Completed: t.Completed, UpdatedAt: time.Now()}
	g.rows = append(g.rows, row)
	g.nextID++
	return row, nil
}

func (g *blockingGateway) Update(_ context.Context, remoteID int64, t task.Task) (task.RemoteRow, error) {
	return task.RemoteRow{ID: remoteID, Title: t.Title, Completed: t.Completed, UpdatedAt: time.Now()}, nil
}

func (g *blockingGateway) Delete(context.Context, int64) error { return nil }

func (g *blockingGateway) Pull(context.Context) ([]task.RemoteRow, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pulls++
	if g.pullErr != nil {
		return nil, g.pullErr
	}
	return append([]task.RemoteRow(nil), g.rows...), nil
}

// fakeRepo counts reconciliation passes via Tasks calls.
type fakeRepo struct {
	mu    sync.Mutex
	tasks []task.Task
	reads int
}

func (r *fakeRepo) Tasks() []task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return task.Clone(r.tasks)
}

func (r *fakeRepo) Replace(next []task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = task.Clone(next)
	return nil
}

func (r *fakeRepo) passCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

type fakeMeta struct {
	mu    sync.Mutex
	saves []store.Meta
}

func (m *fakeMeta) SaveMeta(meta store.Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, meta)
	return nil
}

func (m *fakeMeta) last(t *testing.T) store.Meta {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		t.Fatal("no metadata was persisted")
	}
	return m.saves[len(m.saves)-1]
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestScheduler(t *testing.T, repo *fakeRepo, gw *blockingGateway, online bool) (*Scheduler, *fakeMeta, *status.Tracker) {
	t.Helper()
	meta := &fakeMeta{}
	tracker := status.NewTracker()
	s := New(Config{
		Repo:    repo,
		Gateway: gw,
		Meta:    meta,
		Tracker: tracker,
		Probe:   func(context.Context) bool { return online },
		InitialMeta: store.Meta{
			CloudSyncEnabled: true,
			AutoSync:         true,
		},
		Logger: quietLogger(),
	})
	return s, meta, tracker
}

func unsyncedTask(id string) task.Task {
	return task.Task{
		LocalID:   id,
		Title:     "task " + id,
		Priority:  task.PriorityMedium,
		UpdatedAt: time.Now(),
	}
}

func TestPushOnlyMarksSnapshotSynced(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	s, meta, tracker := newTestScheduler(t, repo, gw, true)

	if err := s.PushOnly(context.Background()); err != nil {
		t.Fatalf("PushOnly failed: %v", err)
	}

	got := repo.Tasks()
	if !got[0].Synced || got[0].RemoteID == 0 {
		t.Errorf("snapshot not reconciled: %+v", got[0])
	}
	if gw.pulls != 0 {
		t.Error("push-only pass must never pull")
	}

	snap := tracker.Snapshot()
	if snap.CloudStatus != status.CloudConnected || snap.LastSync == nil {
		t.Errorf("tracker not updated on success: %+v", snap)
	}
	if meta.last(t).LastSync == nil {
		t.Error("last sync time not persisted")
	}
}

func TestPushOnlyCoalescesIntoOneRerun(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	gw.gate = make(chan struct{})
	gw.entered = make(chan struct{})
	s, _, _ := newTestScheduler(t, repo, gw, true)

	done := make(chan error, 1)
	go func() { done <- s.PushOnly(context.Background()) }()
	<-gw.entered

	// Three triggers land while the pass is blocked; they must coalesce
	// into exactly one rerun.
	for i := 0; i < 3; i++ {
		if err := s.PushOnly(context.Background()); err != nil {
			t.Fatalf("queued trigger %d failed: %v", i, err)
		}
	}

	close(gw.gate)
	if err := <-done; err != nil {
		t.Fatalf("blocked pass failed: %v", err)
	}

	if got := repo.passCount(); got != 2 {
		t.Errorf("pass count = %d, want 2 (original plus one rerun)", got)
	}
}

func TestPushOnlyRespectsSettings(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	s, _, _ := newTestScheduler(t, repo, gw, true)

	if err := s.SetCloudSyncEnabled(false); err != nil {
		t.Fatalf("SetCloudSyncEnabled failed: %v", err)
	}
	if err := s.PushOnly(context.Background()); err != nil {
		t.Fatalf("PushOnly failed: %v", err)
	}
	if gw.inserts != 0 {
		t.Error("disabled scheduler must not touch the remote")
	}
}

func TestPushOnlyOffline(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	s, _, tracker := newTestScheduler(t, repo, gw, false)

	if err := s.PushOnly(context.Background()); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}

	snap := tracker.Snapshot()
	if snap.Online {
		t.Error("tracker should record offline")
	}
	if snap.CloudStatus != status.CloudUnavailable {
		t.Errorf("cloud status = %q, want unavailable", snap.CloudStatus)
	}
}

func TestSyncNowPullsAndMerges(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	gw.rows = []task.RemoteRow{{ID: 99, Title: "from another device", UpdatedAt: time.Now()}}
	gw.nextID = 100
	s, _, _ := newTestScheduler(t, repo, gw, true)

	if err := s.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	got := repo.Tasks()
	if len(got) != 2 {
		t.Fatalf("snapshot has %d tasks, want 2 (local + pulled)", len(got))
	}
	for _, x := range got {
		if !x.Synced {
			t.Errorf("task %s not synced after full sync", x.LocalID)
		}
	}
	if gw.pulls != 1 {
		t.Errorf("pulls = %d, want 1", gw.pulls)
	}
}

func TestSyncNowRefusedWhileDisabled(t *testing.T) {
	repo := &fakeRepo{}
	gw := newBlockingGateway()
	s, _, tracker := newTestScheduler(t, repo, gw, true)
	s.SetCloudSyncEnabled(false)

	if err := s.SyncNow(context.Background()); !errors.Is(err, ErrCloudSyncDisabled) {
		t.Fatalf("expected ErrCloudSyncDisabled, got %v", err)
	}
	if tracker.Snapshot().CloudStatus != status.CloudDisabled {
		t.Error("tracker should report disabled")
	}
}

func TestSyncNowRefusedWhileInFlight(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	gw.gate = make(chan struct{})
	gw.entered = make(chan struct{})
	s, _, _ := newTestScheduler(t, repo, gw, true)

	done := make(chan error, 1)
	go func() { done <- s.PushOnly(context.Background()) }()
	<-gw.entered

	if err := s.SyncNow(context.Background()); !errors.Is(err, ErrSyncInFlight) {
		t.Fatalf("expected ErrSyncInFlight, got %v", err)
	}

	close(gw.gate)
	if err := <-done; err != nil {
		t.Fatalf("blocked pass failed: %v", err)
	}
}

func TestSyncNowPullFailureKeepsPushProgress(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	gw.pullErr = errors.New("gateway timeout")
	s, _, tracker := newTestScheduler(t, repo, gw, true)

	err := s.SyncNow(context.Background())
	if err == nil {
		t.Fatal("expected pull error")
	}

	// The push half completed; its result must survive the failed pull.
	got := repo.Tasks()
	if !got[0].Synced || got[0].RemoteID == 0 {
		t.Errorf("push progress lost on pull failure: %+v", got[0])
	}
	if tracker.Snapshot().LastError == "" {
		t.Error("tracker should record the pull error")
	}
}

func TestDisableCloudSyncForcesAutoSyncOff(t *testing.T) {
	repo := &fakeRepo{}
	gw := newBlockingGateway()
	s, meta, _ := newTestScheduler(t, repo, gw, true)

	if err := s.SetCloudSyncEnabled(false); err != nil {
		t.Fatalf("SetCloudSyncEnabled failed: %v", err)
	}

	cloud, auto := s.Settings()
	if cloud || auto {
		t.Errorf("settings = cloud %v auto %v, want both off", cloud, auto)
	}
	persisted := meta.last(t)
	if persisted.CloudSyncEnabled || persisted.AutoSync {
		t.Errorf("persisted meta = %+v, want both off", persisted)
	}
}

func TestEnableAutoSyncRequiresCloudSync(t *testing.T) {
	repo := &fakeRepo{}
	gw := newBlockingGateway()
	s, _, _ := newTestScheduler(t, repo, gw, true)
	s.SetCloudSyncEnabled(false)

	err := s.SetAutoSync(context.Background(), true)
	if !errors.Is(err, ErrCloudSyncDisabled) {
		t.Fatalf("expected ErrCloudSyncDisabled, got %v", err)
	}
}

func TestEnableAutoSyncRunsImmediatePush(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	s, _, _ := newTestScheduler(t, repo, gw, true)
	s.SetAutoSync(context.Background(), false)

	if err := s.SetAutoSync(context.Background(), true); err != nil {
		t.Fatalf("SetAutoSync failed: %v", err)
	}
	if gw.inserts != 1 {
		t.Errorf("inserts = %d, want 1 immediate push", gw.inserts)
	}
}

func TestScheduleAutoSyncDebounces(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	s, _, _ := newTestScheduler(t, repo, gw, true)
	defer s.Stop()

	// Rapid re-arms collapse into one firing.
	for i := 0; i < 5; i++ {
		s.ScheduleAutoSync(30 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		gw.mu.Lock()
		n := gw.inserts
		gw.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.inserts != 1 {
		t.Errorf("inserts = %d, want exactly 1", gw.inserts)
	}
}

func TestFlushFiresPendingTimerSynchronously(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	s, _, _ := newTestScheduler(t, repo, gw, true)

	s.ScheduleAutoSync(time.Hour)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if gw.inserts != 1 {
		t.Errorf("inserts = %d, want 1", gw.inserts)
	}

	// Nothing pending: Flush is a no-op.
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("idle Flush failed: %v", err)
	}
	if gw.inserts != 1 {
		t.Error("idle Flush must not run another pass")
	}
}

func TestHandleOnlineTriggersPush(t *testing.T) {
	repo := &fakeRepo{tasks: []task.Task{unsyncedTask("a")}}
	gw := newBlockingGateway()
	s, _, tracker := newTestScheduler(t, repo, gw, true)

	s.HandleOnline(context.Background(), false)
	if gw.inserts != 0 {
		t.Error("going offline must not push")
	}
	if tracker.Snapshot().Online {
		t.Error("tracker should record offline")
	}

	s.HandleOnline(context.Background(), true)
	if gw.inserts != 1 {
		t.Errorf("inserts = %d, want 1 after reconnect", gw.inserts)
	}
}

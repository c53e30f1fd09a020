// Package scheduler coordinates when reconciliation runs: debounced after
// mutations, once on reconnect, and on explicit request.
//
// Exactly one reconciliation pass is in flight at any time. Auto-sync
// requests that arrive during a pass coalesce into a single pending rerun
// executed when the pass finishes; manual requests during a pass are
// refused with ErrSyncInFlight. Auto passes are push-only: pulling remote
// state back would silently overwrite in-progress local edits, so reads
// happen only in an explicit full sync.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/taskwire/taskwire/internal/reconcile"
	"github.com/taskwire/taskwire/internal/status"
	"github.com/taskwire/taskwire/internal/store"
	"github.com/taskwire/taskwire/internal/task"
)

var (
	// ErrSyncInFlight indicates a manual sync was requested while another
	// pass was running.
	ErrSyncInFlight = errors.New("a sync is already in progress")

	// ErrCloudSyncDisabled indicates the operation needs cloud sync to be
	// enabled first.
	ErrCloudSyncDisabled = errors.New("cloud sync is disabled")

	// ErrOffline indicates no connection to the remote store.
	ErrOffline = errors.New("no internet connection")
)

// State is the scheduler's execution state.
type State int

const (
	// StateIdle means no reconciliation pass is running.
	StateIdle State = iota
	// StatePushing means an automatic push-only pass is running.
	StatePushing
	// StateSyncing means a manual full sync pass is running.
	StateSyncing
)

// Snapshotter is the slice of the repository the scheduler needs: read
// the latest snapshot, swap in reconciliation results.
type Snapshotter interface {
	Tasks() []task.Task
	Replace([]task.Task) error
}

// MetaStore persists sync metadata. *store.Store satisfies it.
type MetaStore interface {
	SaveMeta(store.Meta) error
}

// Config holds scheduler construction parameters.
type Config struct {
	Repo    Snapshotter
	Gateway reconcile.Gateway
	Meta    MetaStore
	Tracker *status.Tracker

	// Probe performs the one-shot connectivity check before a pass. Nil
	// means always online.
	Probe func(ctx context.Context) bool

	// InitialMeta seeds the enabled/auto flags, last sync time and the
	// unrelated profile fields that ride along in metadata.
	InitialMeta store.Meta

	// Logger for scheduler activity; nil means a stderr default.
	Logger *log.Logger

	// Now returns the current time; nil means time.Now.
	Now func() time.Time
}

// Scheduler owns the debounce timer, the single-flight guard, and the
// sync settings.
type Scheduler struct {
	repo    Snapshotter
	gw      reconcile.Gateway
	meta    MetaStore
	tracker *status.Tracker
	probe   func(ctx context.Context) bool
	logger  *log.Logger
	now     func() time.Time

	mu               sync.Mutex
	state            State
	pendingRerun     bool
	cloudSyncEnabled bool
	autoSync         bool
	lastSync         *time.Time
	userName         string

	timerMu sync.Mutex
	timer   *time.Timer
}

// New creates a scheduler. The tracker is seeded from the initial
// metadata: disabled when cloud sync is off, unknown otherwise.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sched] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Probe == nil {
		cfg.Probe = func(context.Context) bool { return true }
	}

	s := &Scheduler{
		repo:             cfg.Repo,
		gw:               cfg.Gateway,
		meta:             cfg.Meta,
		tracker:          cfg.Tracker,
		probe:            cfg.Probe,
		logger:           cfg.Logger,
		now:              cfg.Now,
		cloudSyncEnabled: cfg.InitialMeta.CloudSyncEnabled,
		autoSync:         cfg.InitialMeta.AutoSync,
		lastSync:         cfg.InitialMeta.LastSync,
		userName:         cfg.InitialMeta.UserName,
	}

	s.tracker.SetLastSync(s.lastSync)
	if !s.cloudSyncEnabled {
		s.tracker.SetCloudStatus(status.CloudDisabled)
	}
	return s
}

// AttachRepo wires the repository in after construction. The repository
// and scheduler reference each other (mutations schedule syncs, syncs
// replace the snapshot), so one side has to be attached late. Must be
// called before any pass runs.
func (s *Scheduler) AttachRepo(r Snapshotter) {
	s.repo = r
}

// State returns the current execution state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settings returns the current sync settings.
func (s *Scheduler) Settings() (cloudSyncEnabled, autoSync bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloudSyncEnabled, s.autoSync
}

// metaLocked assembles the metadata to persist. Callers hold s.mu.
func (s *Scheduler) metaLocked() store.Meta {
	return store.Meta{
		LastSync:         s.lastSync,
		CloudSyncEnabled: s.cloudSyncEnabled,
		AutoSync:         s.autoSync,
		UserName:         s.userName,
	}
}

// ScheduleAutoSync resets the debounce timer; only the last call within
// the window fires. The timer is a no-op unless auto sync and cloud sync
// are both enabled when it fires.
func (s *Scheduler) ScheduleAutoSync(delay time.Duration) {
	s.mu.Lock()
	enabled := s.cloudSyncEnabled && s.autoSync
	s.mu.Unlock()
	if !enabled {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		if err := s.PushOnly(context.Background()); err != nil {
			s.logger.Printf("auto sync failed: %v", err)
		}
	})
}

// Flush fires any pending debounce immediately and waits for the pass to
// finish. One-shot CLI invocations call this before exit; the daemon
// never needs to.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.timerMu.Lock()
	pending := s.timer != nil && s.timer.Stop()
	s.timer = nil
	s.timerMu.Unlock()

	if !pending {
		return nil
	}
	return s.PushOnly(ctx)
}

// PushOnly runs a push-only reconciliation pass: local changes go out,
// nothing is read back. If a pass is already in flight the request
// coalesces into a single pending rerun.
//
// The returned error is for callers that want it (manual toggles, Flush);
// the debounce timer path logs and records it in the tracker instead.
func (s *Scheduler) PushOnly(ctx context.Context) error {
	s.mu.Lock()
	if !s.cloudSyncEnabled || !s.autoSync {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	online := s.probe(ctx)
	s.tracker.SetOnline(online)
	if !online {
		s.tracker.RecordFailure(ErrOffline.Error())
		return ErrOffline
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.pendingRerun = true
		s.mu.Unlock()
		return nil
	}
	s.state = StatePushing
	s.mu.Unlock()

	err := s.runPush(ctx)

	s.mu.Lock()
	s.state = StateIdle
	rerun := s.pendingRerun
	s.pendingRerun = false
	s.mu.Unlock()

	if rerun {
		if rerr := s.PushOnly(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// runPush executes the push pass body. Partial progress is always
// persisted: each row's push commits to the snapshot independently, so a
// failure part-way through never discards earlier successes.
func (s *Scheduler) runPush(ctx context.Context) error {
	s.tracker.SetSyncing(true)
	s.tracker.ClearError()
	defer s.tracker.SetSyncing(false)

	pushed, pushErr := reconcile.Push(ctx, s.gw, s.repo.Tasks())
	if err := s.repo.Replace(pushed); err != nil {
		s.tracker.RecordFailure(err.Error())
		return err
	}
	if pushErr != nil {
		s.tracker.RecordFailure(pushErr.Error())
		return fmt.Errorf("push failed: %w", pushErr)
	}

	return s.recordSuccess()
}

// SyncNow runs push-then-pull-then-merge as one pass. It is refused, not
// queued, when cloud sync is disabled, the engine is offline, or another
// pass is in flight; the caller surfaces the reason to the user.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.cloudSyncEnabled
	s.mu.Unlock()
	if !enabled {
		s.tracker.SetCloudStatus(status.CloudDisabled)
		s.tracker.ClearError()
		return ErrCloudSyncDisabled
	}

	online := s.probe(ctx)
	s.tracker.SetOnline(online)
	if !online {
		s.tracker.RecordFailure(ErrOffline.Error())
		return ErrOffline
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSyncInFlight
	}
	s.state = StateSyncing
	s.mu.Unlock()

	err := s.runFullSync(ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	return err
}

func (s *Scheduler) runFullSync(ctx context.Context) error {
	s.tracker.SetSyncing(true)
	s.tracker.ClearError()
	defer s.tracker.SetSyncing(false)

	pushed, pushErr := reconcile.Push(ctx, s.gw, s.repo.Tasks())
	if err := s.repo.Replace(pushed); err != nil {
		s.tracker.RecordFailure(err.Error())
		return err
	}
	if pushErr != nil {
		s.tracker.RecordFailure(pushErr.Error())
		return fmt.Errorf("push failed: %w", pushErr)
	}

	remote, err := s.gw.Pull(ctx)
	if err != nil {
		s.tracker.RecordFailure(err.Error())
		return fmt.Errorf("pull failed: %w", err)
	}

	merged := reconcile.Merge(pushed, remote)
	if err := s.repo.Replace(merged); err != nil {
		s.tracker.RecordFailure(err.Error())
		return err
	}

	return s.recordSuccess()
}

// recordSuccess refreshes the last sync time, updates the tracker, and
// persists metadata.
func (s *Scheduler) recordSuccess() error {
	at := s.now()

	s.mu.Lock()
	s.lastSync = &at
	meta := s.metaLocked()
	s.mu.Unlock()

	s.tracker.RecordSuccess(at)

	if err := s.meta.SaveMeta(meta); err != nil {
		return fmt.Errorf("failed to persist sync metadata: %w", err)
	}
	return nil
}

// HandleOnline receives connectivity transitions. Coming online while
// auto sync is enabled triggers one push-only pass.
func (s *Scheduler) HandleOnline(ctx context.Context, online bool) {
	s.tracker.SetOnline(online)
	if !online {
		return
	}

	s.mu.Lock()
	enabled := s.cloudSyncEnabled && s.autoSync
	s.mu.Unlock()
	if !enabled {
		return
	}

	if err := s.PushOnly(ctx); err != nil {
		s.logger.Printf("reconnect sync failed: %v", err)
	}
}

// SetCloudSyncEnabled toggles cloud sync. Disabling forces auto sync off
// atomically; auto sync cannot outlive the cloud connection it needs.
func (s *Scheduler) SetCloudSyncEnabled(enabled bool) error {
	s.mu.Lock()
	s.cloudSyncEnabled = enabled
	if !enabled {
		s.autoSync = false
	}
	meta := s.metaLocked()
	s.mu.Unlock()

	if enabled {
		s.tracker.SetCloudStatus(status.CloudUnknown)
	} else {
		s.tracker.SetCloudStatus(status.CloudDisabled)
		s.tracker.ClearError()
	}

	if err := s.meta.SaveMeta(meta); err != nil {
		return fmt.Errorf("failed to persist sync metadata: %w", err)
	}
	return nil
}

// SetAutoSync toggles automatic sync. Enabling requires cloud sync and is
// refused with ErrCloudSyncDisabled otherwise; enabling also runs one
// immediate push-only pass.
func (s *Scheduler) SetAutoSync(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	if enabled && !s.cloudSyncEnabled {
		s.mu.Unlock()
		return ErrCloudSyncDisabled
	}
	s.autoSync = enabled
	meta := s.metaLocked()
	s.mu.Unlock()

	if err := s.meta.SaveMeta(meta); err != nil {
		return fmt.Errorf("failed to persist sync metadata: %w", err)
	}

	if enabled {
		return s.PushOnly(ctx)
	}
	return nil
}

// Bootstrap performs the cold-start pass: one silent push-only run when
// auto sync, cloud sync, and connectivity all allow it.
func (s *Scheduler) Bootstrap(ctx context.Context) {
	s.mu.Lock()
	enabled := s.cloudSyncEnabled && s.autoSync
	s.mu.Unlock()
	if !enabled {
		return
	}
	if err := s.PushOnly(ctx); err != nil {
		s.logger.Printf("startup sync failed: %v", err)
	}
}

// Stop cancels any pending debounce timer.
func (s *Scheduler) Stop() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

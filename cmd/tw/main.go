// Command tw is an offline-first task manager that keeps a local task
// collection in sync with a remote table store.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/connectivity"
	"github.com/taskwire/taskwire/internal/remote"
	"github.com/taskwire/taskwire/internal/repo"
	"github.com/taskwire/taskwire/internal/scheduler"
	"github.com/taskwire/taskwire/internal/status"
	"github.com/taskwire/taskwire/internal/store"
	"github.com/taskwire/taskwire/internal/task"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "tw",
	Short: "Offline-first task manager with cloud sync",
	Long: `tw manages a locally-owned task list that works fully offline and
synchronizes with a remote table store when connectivity allows.

Local edits always win until they are pushed; deletes are held back for an
undo grace period before they propagate. Run 'tw daemon' for continuous
background sync, or 'tw sync' for a one-time full reconciliation.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.taskwire/config.yaml)")

	rootCmd.AddCommand(addCmd, listCmd, editCmd, doneCmd, rmCmd, restoreCmd,
		reorderCmd, clearCmd, syncCmd, statusCmd, daemonCmd, resetCmd,
		cloudCmd, autosyncCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app wires the engine together for one command invocation.
type app struct {
	cfg     *config.Config
	store   *store.Store
	repo    *repo.Repository
	gateway *remote.Gateway
	monitor *connectivity.Monitor
	tracker *status.Tracker
	sched   *scheduler.Scheduler
	logger  *log.Logger
}

// newApp loads config, opens the store, and builds the engine. The
// gateway and scheduler exist only when a remote URL is configured; local
// CRUD works without one.
func newApp() (*app, error) {
	cfg, _, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	tasks, err := st.LoadTasks()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	meta, err := st.LoadMeta()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   st,
		tracker: status.NewTracker(),
		logger:  log.New(os.Stderr, "[tw] ", log.LstdFlags),
	}

	if cfg.Remote.URL != "" {
		gw, err := remote.New(remote.Config{
			BaseURL: cfg.Remote.URL,
			APIKey:  cfg.Remote.APIKey,
			Client:  &http.Client{Timeout: cfg.Remote.Timeout},
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.gateway = gw
		a.monitor = connectivity.New(connectivity.ProbeFunc(gw.Health), connectivity.Config{
			Interval: cfg.Connectivity.ProbeInterval,
			Logger:   log.New(os.Stderr, "[connectivity] ", log.LstdFlags),
		})
	}

	if a.gateway != nil {
		a.sched = scheduler.New(scheduler.Config{
			Gateway:     a.gateway,
			Meta:        st,
			Tracker:     a.tracker,
			Probe:       a.monitor.Fetch,
			InitialMeta: meta,
			Logger:      log.New(os.Stderr, "[sched] ", log.LstdFlags),
		})
	}

	var sched repo.Scheduler
	if a.sched != nil {
		sched = a.sched
	}
	a.repo = repo.New(tasks, st, sched, repo.Config{
		AutoSyncDelay:    cfg.Sync.Debounce,
		DeleteGraceDelay: cfg.Sync.DeleteGrace,
	})

	if a.sched != nil {
		a.sched.AttachRepo(a.repo)
	}

	return a, nil
}

func (a *app) Close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	_ = a.store.Close()
}

// flushSync gives a pending auto-sync its chance to run before a one-shot
// process exits.
func (a *app) flushSync(ctx context.Context) {
	if a.sched == nil {
		return
	}
	if err := a.sched.Flush(ctx); err != nil {
		a.logger.Printf("auto sync failed: %v", err)
	}
}

// requireSync returns the scheduler or exits when no remote is configured.
func (a *app) requireSync() *scheduler.Scheduler {
	if a.sched == nil {
		fmt.Fprintf(os.Stderr, "Error: no remote configured (set remote.url in %s)\n", config.DefaultDir())
		os.Exit(1)
	}
	return a.sched
}

// resolveTask finds the unique task whose local id starts with the given
// prefix. Tombstones are included so 'tw restore' can reach them.
func (a *app) resolveTask(prefix string) (task.Task, error) {
	var matches []task.Task
	for _, t := range a.repo.Tasks() {
		if strings.HasPrefix(t.LocalID, prefix) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return task.Task{}, fmt.Errorf("no task matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return task.Task{}, fmt.Errorf("%q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/dashboard"
	"github.com/taskwire/taskwire/internal/status"
	"github.com/taskwire/taskwire/internal/ui"
)

var daemonPort int

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run taskwire as a long-lived process: connectivity is monitored, local
changes are pushed automatically when auto sync is enabled, and a sync
status dashboard is served over WebSocket.

The daemon picks up config file edits live and runs until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		sched := a.requireSync()

		cfg, v, err := config.Load(configFile)
		if err != nil {
			exitErr(err)
		}

		logger, logCloser := config.NewLogger(cfg, "[daemon] ")
		defer logCloser.Close()

		ctx := cmd.Context()

		// Connectivity transitions feed the scheduler; coming back online
		// triggers a push of anything that queued up while offline.
		a.monitor.OnChange(func(online bool) {
			sched.HandleOnline(ctx, online)
		})
		a.monitor.Start()
		defer a.monitor.Stop()

		port := daemonPort
		if port == 0 {
			port = cfg.Daemon.DashboardPort
		}

		var dash *dashboard.Server
		if port != 0 {
			dash = dashboard.NewServer(dashboard.Config{
				Port:    port,
				Tracker: a.tracker,
				Logger:  logger,
			})
			if err := dash.Start(); err != nil {
				exitErr(err)
			}
			defer func() {
				if err := dash.Stop(); err != nil {
					logger.Printf("dashboard stop: %v", err)
				}
			}()

			a.tracker.OnChange(func(snap status.Status) {
				dash.BroadcastStatus(snap)
			})
			fmt.Printf("%s Dashboard on ws://localhost:%d/ws\n", ui.RenderAccent("▸"), port)
		}

		// Settings edited through the CLI or the config file apply
		// without a restart.
		config.Watch(v, logger, func(next config.Config) {
			logger.Printf("reloaded config (debounce=%v, probe=%v)",
				next.Sync.Debounce, next.Connectivity.ProbeInterval)
		})

		logger.Println("Daemon started")
		fmt.Printf("%s Sync daemon running (ctrl-c to stop)\n", ui.RenderPass("✓"))

		// Cold start: push anything left unsynced by previous sessions.
		sched.Bootstrap(ctx)

		// Re-arm the debounce periodically so edits made by one-shot CLI
		// invocations while the daemon runs still get pushed.
		ticker := time.NewTicker(cfg.Sync.Debounce * 10)
		defer ticker.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		for {
			select {
			case <-ctx.Done():
				logger.Println("Daemon stopped")
				return
			case <-sig:
				logger.Println("Shutdown signal received")
				fmt.Printf("\n%s Daemon stopped\n", ui.RenderWarn("✗"))
				return
			case <-ticker.C:
				if hasUnsynced(a) {
					sched.ScheduleAutoSync(cfg.Sync.Debounce)
				}
			}
		}
	},
}

func hasUnsynced(a *app) bool {
	// Re-read the store so edits from one-shot CLI processes are seen.
	tasks, err := a.store.LoadTasks()
	if err != nil {
		a.logger.Printf("load tasks: %v", err)
		return false
	}
	a.repo.ResetTo(tasks)
	for _, t := range tasks {
		if !t.Synced || t.Deleted {
			return true
		}
	}
	return false
}

func init() {
	daemonCmd.Flags().IntVar(&daemonPort, "port", 0, "dashboard port (0 uses config, config 0 disables)")
}

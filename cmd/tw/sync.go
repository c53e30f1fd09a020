package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/scheduler"
	"github.com/taskwire/taskwire/internal/status"
	"github.com/taskwire/taskwire/internal/task"
	"github.com/taskwire/taskwire/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a full sync now",
	Long: `Push local changes, pull the remote state, and merge the two into one
reconciled snapshot. Local edits that have not been pushed yet always win
over remote data.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		sched := a.requireSync()

		start := time.Now()
		if err := sched.SyncNow(cmd.Context()); err != nil {
			switch {
			case errors.Is(err, scheduler.ErrCloudSyncDisabled):
				fmt.Printf("%s Cloud sync is disabled. Enable it with 'tw cloud on'.\n", ui.RenderWarn("⚠"))
				return
			case errors.Is(err, scheduler.ErrOffline):
				fmt.Printf("%s You are offline and cannot sync right now.\n", ui.RenderWarn("⚠"))
				return
			default:
				exitErr(err)
			}
		}

		visible := len(a.repo.Visible())
		fmt.Printf("%s Sync complete in %v (%d tasks)\n",
			ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), visible)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		snap := a.tracker.Snapshot()
		cloud, auto := false, false
		if a.sched != nil {
			cloud, auto = a.sched.Settings()
		}

		fmt.Printf("\n%s Sync status\n\n", ui.RenderAccent("☁"))
		fmt.Printf("   Cloud sync: %s\n", onOff(cloud))
		fmt.Printf("   Auto sync:  %s\n", onOff(auto))
		fmt.Printf("   Cloud:      %s\n", renderCloud(snap.CloudStatus))
		if snap.LastSync != nil {
			fmt.Printf("   Last sync:  %s\n", snap.LastSync.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("   Last sync:  %s\n", ui.RenderFaint("never"))
		}
		if snap.LastError != "" {
			fmt.Printf("   Last error: %s\n", ui.RenderFail(snap.LastError))
		}

		unsynced := 0
		tombstones := 0
		for _, t := range a.repo.Tasks() {
			if t.Deleted {
				tombstones++
				continue
			}
			if !t.Synced {
				unsynced++
			}
		}
		fmt.Printf("   Pending:    %d unsynced, %d awaiting remote delete\n\n", unsynced, tombstones)
	},
}

func onOff(v bool) string {
	if v {
		return ui.RenderPass("on")
	}
	return ui.RenderFaint("off")
}

func renderCloud(cs status.CloudStatus) string {
	switch cs {
	case status.CloudConnected:
		return ui.RenderPass(string(cs))
	case status.CloudUnavailable:
		return ui.RenderFail(string(cs))
	case status.CloudDisabled:
		return ui.RenderFaint(string(cs))
	default:
		return string(cs)
	}
}

var cloudCmd = &cobra.Command{
	Use:   "cloud on|off",
	Short: "Enable or disable cloud sync",
	Long: `Enable or disable cloud sync. Disabling also turns auto sync off; the
app keeps working in local-only mode.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		enabled, err := parseOnOff(args[0])
		if err != nil {
			exitErr(err)
		}

		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		if err := a.requireSync().SetCloudSyncEnabled(enabled); err != nil {
			exitErr(err)
		}
		fmt.Printf("%s Cloud sync %s\n", ui.RenderPass("✓"), onOff(enabled))
	},
}

var autosyncCmd = &cobra.Command{
	Use:   "autosync on|off",
	Short: "Enable or disable automatic background sync",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		enabled, err := parseOnOff(args[0])
		if err != nil {
			exitErr(err)
		}

		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		if err := a.requireSync().SetAutoSync(cmd.Context(), enabled); err != nil {
			if errors.Is(err, scheduler.ErrCloudSyncDisabled) {
				fmt.Printf("%s Not available: enable cloud sync first ('tw cloud on').\n", ui.RenderWarn("⚠"))
				return
			}
			exitErr(err)
		}
		fmt.Printf("%s Auto sync %s\n", ui.RenderPass("✓"), onOff(enabled))
	},
}

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase all local data",
	Long: `Erase the local task snapshot and sync settings. Remote data is left
untouched; a later sync pulls it back down.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		if !resetForce {
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Erase all local tasks and sync settings?").
					Description("Remote data is not touched.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				exitErr(err)
			}
			if !confirmed {
				fmt.Println("Cancelled.")
				return
			}
		}

		if err := a.store.ResetAll(); err != nil {
			exitErr(err)
		}
		a.repo.ResetTo([]task.Task{})

		fmt.Printf("%s Local data erased\n", ui.RenderPass("✓"))
	},
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected 'on' or 'off', got %q", s)
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "skip confirmation")
}

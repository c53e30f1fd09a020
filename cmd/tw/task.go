package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/repo"
	"github.com/taskwire/taskwire/internal/task"
	"github.com/taskwire/taskwire/internal/ui"
)

// parseDueDate accepts either the canonical YYYY-MM-DD form or natural
// language ("tomorrow", "next friday").
func parseDueDate(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}
	if err := task.ValidateDueDate(input); err == nil {
		return input, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(input, time.Now())
	if err != nil || r == nil {
		return "", fmt.Errorf("could not understand due date %q", input)
	}
	return r.Time.Format(task.DueDateLayout), nil
}

var (
	addPriority string
	addDue      string
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		opts := repo.CreateOptions{}
		if addPriority != "" {
			p, err := task.ParsePriority(addPriority)
			if err != nil {
				exitErr(err)
			}
			opts.Priority = p
		}
		if addDue != "" {
			due, err := parseDueDate(addDue)
			if err != nil {
				exitErr(err)
			}
			opts.DueAt = due
		}

		t, err := a.repo.Create(strings.Join(args, " "), opts)
		if err != nil {
			exitErr(err)
		}

		a.flushSync(cmd.Context())
		fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(shortID(t.LocalID)), t.Title)
	},
}

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		tasks := a.repo.Visible()
		if len(tasks) == 0 {
			fmt.Println("No tasks. Add one with 'tw add'.")
			return
		}

		for _, t := range tasks {
			if t.Completed && !listAll {
				continue
			}
			printTask(t)
		}
	},
}

func printTask(t task.Task) {
	mark := "[ ]"
	if t.Completed {
		mark = "[" + ui.RenderPass("x") + "]"
	}
	line := fmt.Sprintf("%s %s  %s", mark, ui.RenderAccent(shortID(t.LocalID)), t.Title)
	if t.Priority != task.PriorityMedium {
		line += "  " + ui.PriorityBadge(string(t.Priority))
	}
	if t.DueAt != "" {
		line += "  " + ui.RenderFaint("due "+t.DueAt)
	}
	if !t.Synced {
		line += "  " + ui.RenderWarn("*")
	}
	fmt.Println(line)
}

func shortID(localID string) string {
	if len(localID) > 8 {
		return localID[:8]
	}
	return localID
}

var (
	editTitle    string
	editPriority string
	editDue      string
)

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a task's title, priority, or due date",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		t, err := a.resolveTask(args[0])
		if err != nil {
			exitErr(err)
		}

		var upd repo.Update
		if cmd.Flags().Changed("title") {
			upd.Title = &editTitle
		}
		if cmd.Flags().Changed("priority") {
			p, err := task.ParsePriority(editPriority)
			if err != nil {
				exitErr(err)
			}
			upd.Priority = &p
		}
		if cmd.Flags().Changed("due") {
			due, err := parseDueDate(editDue)
			if err != nil {
				exitErr(err)
			}
			upd.DueAt = &due
		}

		changed, err := a.repo.Apply(t.LocalID, upd)
		if err != nil {
			exitErr(err)
		}
		if !changed {
			fmt.Println("Nothing to change.")
			return
		}

		a.flushSync(cmd.Context())
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), ui.RenderAccent(shortID(t.LocalID)))
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Toggle a task's completion state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		t, err := a.resolveTask(args[0])
		if err != nil {
			exitErr(err)
		}

		toggled, err := a.repo.Toggle(t.LocalID)
		if err != nil {
			exitErr(err)
		}

		a.flushSync(cmd.Context())
		if toggled.Completed {
			fmt.Printf("%s Completed %s\n", ui.RenderPass("✓"), toggled.Title)
		} else {
			fmt.Printf("%s Reopened %s\n", ui.RenderAccent("○"), toggled.Title)
		}
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Long: `Delete a task. The delete propagates to the remote store after a short
grace period; 'tw restore' within that window undoes it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		t, err := a.resolveTask(args[0])
		if err != nil {
			exitErr(err)
		}

		if err := a.repo.SoftDelete(t.LocalID); err != nil {
			exitErr(err)
		}

		fmt.Printf("%s Deleted %s (restore with 'tw restore %s')\n",
			ui.RenderWarn("✗"), t.Title, shortID(t.LocalID))
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Undo a delete",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		t, err := a.resolveTask(args[0])
		if err != nil {
			exitErr(err)
		}

		restored, err := a.repo.Restore(t.LocalID)
		if err != nil {
			exitErr(err)
		}
		if !restored {
			fmt.Printf("%s is not deleted\n", shortID(t.LocalID))
			return
		}

		a.flushSync(cmd.Context())
		fmt.Printf("%s Restored %s\n", ui.RenderPass("✓"), t.Title)
	},
}

var reorderCmd = &cobra.Command{
	Use:   "reorder <id>...",
	Short: "Reorder tasks",
	Long: `Reorder tasks by listing every visible task id in the desired order.
The list must cover the visible set exactly or the reorder is rejected.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		ids := make([]string, len(args))
		for i, prefix := range args {
			t, err := a.resolveTask(prefix)
			if err != nil {
				exitErr(err)
			}
			ids[i] = t.LocalID
		}

		if err := a.repo.Reorder(ids); err != nil {
			exitErr(err)
		}

		a.flushSync(cmd.Context())
		fmt.Printf("%s Reordered %d tasks\n", ui.RenderPass("✓"), len(ids))
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all completed tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			exitErr(err)
		}
		defer a.Close()

		n, err := a.repo.ClearCompleted()
		if err != nil {
			exitErr(err)
		}
		if n == 0 {
			fmt.Println("No completed tasks.")
			return
		}

		a.flushSync(cmd.Context())
		fmt.Printf("%s Cleared %d completed task(s)\n", ui.RenderPass("✓"), n)
	},
}

func init() {
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", "", "priority (low, medium, high)")
	addCmd.Flags().StringVarP(&addDue, "due", "d", "", "due date (YYYY-MM-DD or natural language)")

	editCmd.Flags().StringVar(&editTitle, "title", "", "new title")
	editCmd.Flags().StringVar(&editPriority, "priority", "", "new priority")
	editCmd.Flags().StringVar(&editDue, "due", "", "new due date (empty clears it)")

	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include completed tasks")
}

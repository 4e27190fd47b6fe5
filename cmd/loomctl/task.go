package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	// task command flags
	taskBeadID      string
	taskDescription string
	taskWorktree    string
	taskOutputJSON  bool
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)

	taskCmd.PersistentFlags().BoolVar(&taskOutputJSON, "json", false, "Print raw JSON responses")

	// Create-specific flags
	taskCreateCmd.Flags().StringVar(&taskBeadID, "bead-id", "", "Bead the task is derived from")
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskCreateCmd.Flags().StringVar(&taskWorktree, "worktree", "", "Worktree path the task works against")
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long: `Manage loomd tasks.

Examples:
  # Create a task
  loomctl task create "Implement login throttling" --bead-id bead-42

  # List tasks
  loomctl task list

  # Show one task
  loomctl task show <task-id>`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new task",
	Long: `Create a new task in the discovery phase.

Examples:
  # Create a task with a title
  loomctl task create "Implement login throttling"

  # Create a task tied to a bead and a worktree
  loomctl task create "Fix flaky cache test" \
    --bead-id bead-42 \
    --worktree /srv/worktrees/bead-42

  # Output as JSON
  loomctl task create "My task" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List every task the daemon knows, oldest first.

Examples:
  # List tasks
  loomctl task list

  # Output as JSON
  loomctl task list --json`,
	RunE: runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task",
	Long: `Show a task's phase, progress, and QA outcome.

Examples:
  # Show a task
  loomctl task show 6f1c9a3e

  # Output as JSON
  loomctl task show 6f1c9a3e --json`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskShow,
}

// CreateTaskRequest matches internal/task/store.go CreateRequest
type CreateTaskRequest struct {
	BeadID       string `json:"bead_id,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	WorktreePath string `json:"worktree_path,omitempty"`
}

// TaskView carries the task fields the CLI renders.
type TaskView struct {
	ID              string        `json:"id"`
	BeadID          string        `json:"bead_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Phase           string        `json:"phase"`
	ProgressPercent int           `json:"progress_percent"`
	WorktreePath    string        `json:"worktree_path"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	StartedAt       *time.Time    `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
	Error           string        `json:"error"`
	QaReport        *QaResultView `json:"qa_report"`
}

// QaResultView carries the QA report fields the CLI renders.
type QaResultView struct {
	Status string `json:"status"`
	Issues []struct {
		Severity    string `json:"severity"`
		Description string `json:"description"`
	} `json:"issues"`
}

// runTaskCreate handles the task create command
func runTaskCreate(cmd *cobra.Command, args []string) error {
	req := CreateTaskRequest{
		BeadID:       taskBeadID,
		Title:        args[0],
		Description:  taskDescription,
		WorktreePath: taskWorktree,
	}

	var created TaskView
	if err := postJSON("/api/v1/tasks", req, http.StatusCreated, &created); err != nil {
		return err
	}

	if taskOutputJSON {
		return outputJSON(created)
	}

	fmt.Printf("Created task %s\n", created.ID)
	fmt.Printf("  Title: %s\n", created.Title)
	fmt.Printf("  Phase: %s\n", created.Phase)
	if created.BeadID != "" {
		fmt.Printf("  Bead:  %s\n", created.BeadID)
	}
	return nil
}

// runTaskList handles the task list command
func runTaskList(cmd *cobra.Command, args []string) error {
	var tasks []TaskView
	if err := getJSON("/api/v1/tasks", &tasks); err != nil {
		return err
	}

	if taskOutputJSON {
		return outputJSON(tasks)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBEAD\tTITLE\tPHASE\tPROGRESS\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
			truncate(t.ID, 12),
			truncate(t.BeadID, 12),
			truncate(t.Title, 40),
			t.Phase,
			t.ProgressPercent,
			t.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	return nil
}

// runTaskShow handles the task show command
func runTaskShow(cmd *cobra.Command, args []string) error {
	var t TaskView
	if err := getJSON("/api/v1/tasks/"+args[0], &t); err != nil {
		return err
	}

	if taskOutputJSON {
		return outputJSON(t)
	}

	fmt.Printf("Task %s\n", t.ID)
	fmt.Printf("  Title:    %s\n", t.Title)
	if t.Description != "" {
		fmt.Printf("  Detail:   %s\n", t.Description)
	}
	if t.BeadID != "" {
		fmt.Printf("  Bead:     %s\n", t.BeadID)
	}
	fmt.Printf("  Phase:    %s (%d%%)\n", t.Phase, t.ProgressPercent)
	if t.WorktreePath != "" {
		fmt.Printf("  Worktree: %s\n", t.WorktreePath)
	}
	fmt.Printf("  Created:  %s\n", t.CreatedAt.Format(time.RFC3339))
	if t.StartedAt != nil {
		fmt.Printf("  Started:  %s\n", t.StartedAt.Format(time.RFC3339))
	}
	if t.CompletedAt != nil {
		fmt.Printf("  Finished: %s\n", t.CompletedAt.Format(time.RFC3339))
	}
	if t.Error != "" {
		fmt.Printf("  Error:    %s\n", t.Error)
	}
	if t.QaReport != nil {
		fmt.Printf("  QA:       %s (%d issues)\n", t.QaReport.Status, len(t.QaReport.Issues))
		for _, issue := range t.QaReport.Issues {
			fmt.Printf("    [%s] %s\n", issue.Severity, issue.Description)
		}
	}
	return nil
}

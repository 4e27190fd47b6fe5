package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	// pipeline command flags
	pipelineSince      string
	pipelineOutputJSON bool
)

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)
	pipelineCmd.AddCommand(pipelineStopCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(pipelineLogsCmd)
	pipelineCmd.AddCommand(pipelineQueueCmd)

	pipelineCmd.PersistentFlags().BoolVar(&pipelineOutputJSON, "json", false, "Print raw JSON responses")

	// Logs-specific flags
	pipelineLogsCmd.Flags().StringVar(&pipelineSince, "since", "", "Only lines newer than this RFC-3339 timestamp")
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Submit and follow pipeline runs",
	Long: `Submit tasks to the pipeline and follow their runs.

Examples:
  # Run the pipeline for a task
  loomctl pipeline run <task-id>

  # Check build progress
  loomctl pipeline status <task-id>

  # Tail the captured build output
  loomctl pipeline logs <task-id> --since 2026-08-23T10:00:00Z

  # Inspect the admission queue
  loomctl pipeline queue`,
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Submit a task to the pipeline",
	Long: `Submit a task to the pipeline. The task moves to the coding phase
immediately; coding, QA, and fixes run in the background.

Examples:
  # Submit a task
  loomctl pipeline run 6f1c9a3e`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineRun,
}

var pipelineStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a task's active pipeline run",
	Long: `Cancel a task's active pipeline run. The run winds down at its next
checkpoint and leaves the task in the stopped phase.

Examples:
  # Stop a run
  loomctl pipeline stop 6f1c9a3e`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineStop,
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task's build status",
	Long: `Summarize a task's captured build output: line counts per stream and
the most recent line.

Examples:
  # Check build status
  loomctl pipeline status 6f1c9a3e`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineStatus,
}

var pipelineLogsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Print a task's build logs",
	Long: `Print a task's captured build output, oldest first.

Examples:
  # All captured lines
  loomctl pipeline logs 6f1c9a3e

  # Only lines newer than a timestamp
  loomctl pipeline logs 6f1c9a3e --since 2026-08-23T10:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineLogs,
}

var pipelineQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the admission queue",
	Long: `Show the pipeline admission queue: the concurrency limit and how many
runs are waiting and running.

Examples:
  # Inspect the queue
  loomctl pipeline queue`,
	RunE: runPipelineQueue,
}

// SubmitResponse matches internal/http/types.go SubmitResponse
type SubmitResponse struct {
	TaskID  string `json:"task_id"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// StopResponse matches internal/http/types.go StopResponse
type StopResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// BuildLogEntryView matches internal/task/types.go BuildLogEntry
type BuildLogEntryView struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Phase     string    `json:"phase"`
}

// BuildLogsResponse matches internal/http/types.go BuildLogsResponse
type BuildLogsResponse struct {
	TaskID  string              `json:"task_id"`
	Count   int                 `json:"count"`
	Entries []BuildLogEntryView `json:"entries"`
}

// BuildStatusView matches internal/task/types.go BuildStatus
type BuildStatusView struct {
	Phase           string `json:"phase"`
	ProgressPercent int    `json:"progress_percent"`
	TotalLines      int    `json:"total_lines"`
	StdoutLines     int    `json:"stdout_lines"`
	StderrLines     int    `json:"stderr_lines"`
	ErrorCount      int    `json:"error_count"`
	LastLine        string `json:"last_line"`
}

// QueueStatusView matches internal/admission/admission.go Status
type QueueStatusView struct {
	Limit            int   `json:"limit"`
	Waiting          int64 `json:"waiting"`
	Running          int64 `json:"running"`
	AvailablePermits int   `json:"available_permits"`
}

// runPipelineRun handles the pipeline run command
func runPipelineRun(cmd *cobra.Command, args []string) error {
	var resp SubmitResponse
	path := fmt.Sprintf("/api/v1/tasks/%s/pipeline", args[0])
	if err := postJSON(path, nil, http.StatusAccepted, &resp); err != nil {
		return err
	}

	if pipelineOutputJSON {
		return outputJSON(resp)
	}

	fmt.Printf("Pipeline submitted for task %s (phase %s)\n", resp.TaskID, resp.Phase)
	return nil
}

// runPipelineStop handles the pipeline stop command
func runPipelineStop(cmd *cobra.Command, args []string) error {
	var resp StopResponse
	path := fmt.Sprintf("/api/v1/tasks/%s/stop", args[0])
	if err := postJSON(path, nil, http.StatusAccepted, &resp); err != nil {
		return err
	}

	if pipelineOutputJSON {
		return outputJSON(resp)
	}

	fmt.Printf("Stop requested for task %s\n", resp.TaskID)
	return nil
}

// runPipelineStatus handles the pipeline status command
func runPipelineStatus(cmd *cobra.Command, args []string) error {
	var status BuildStatusView
	path := fmt.Sprintf("/api/v1/tasks/%s/build-status", args[0])
	if err := getJSON(path, &status); err != nil {
		return err
	}

	if pipelineOutputJSON {
		return outputJSON(status)
	}

	fmt.Printf("Task %s\n", args[0])
	fmt.Printf("  Phase:    %s (%d%%)\n", status.Phase, status.ProgressPercent)
	fmt.Printf("  Output:   %d lines (%d stdout, %d stderr)\n",
		status.TotalLines, status.StdoutLines, status.StderrLines)
	fmt.Printf("  Errors:   %d\n", status.ErrorCount)
	if status.LastLine != "" {
		fmt.Printf("  Last:     %s\n", truncate(status.LastLine, 100))
	}
	return nil
}

// runPipelineLogs handles the pipeline logs command
func runPipelineLogs(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/api/v1/tasks/%s/build-logs", args[0])
	if pipelineSince != "" {
		path += "?since=" + url.QueryEscape(pipelineSince)
	}

	var resp BuildLogsResponse
	if err := getJSON(path, &resp); err != nil {
		return err
	}

	if pipelineOutputJSON {
		return outputJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("No build output captured")
		return nil
	}
	for _, entry := range resp.Entries {
		fmt.Printf("%s [%s] %s\n",
			entry.Timestamp.Format("15:04:05"),
			entry.Stream,
			entry.Line,
		)
	}
	return nil
}

// runPipelineQueue handles the pipeline queue command
func runPipelineQueue(cmd *cobra.Command, args []string) error {
	var status QueueStatusView
	if err := getJSON("/api/v1/pipeline/queue", &status); err != nil {
		return err
	}

	if pipelineOutputJSON {
		return outputJSON(status)
	}

	fmt.Printf("Pipeline queue\n")
	fmt.Printf("  Limit:     %d\n", status.Limit)
	fmt.Printf("  Running:   %d\n", status.Running)
	fmt.Printf("  Waiting:   %d\n", status.Waiting)
	fmt.Printf("  Available: %d\n", status.AvailablePermits)
	return nil
}

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/othala/orchd/internal/config"
	"github.com/othala/orchd/internal/store"
	"github.com/othala/orchd/internal/task"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and control tasks tracked by the daemon",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue a new task",
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, optionally filtered by state",
	RunE:  runTaskList,
}

var taskStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStop,
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a stopped task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskResume,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskStopCmd, taskResumeCmd)

	taskCreateCmd.Flags().String("repo", "", "repo ID the task belongs to (required)")
	taskCreateCmd.Flags().String("title", "", "task title (required)")
	_ = taskCreateCmd.MarkFlagRequired("repo")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskListCmd.Flags().String("state", "", "filter by state (queued, chatting, ready, ...); empty lists all")
}

func openStoreFromConfig() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	st, err := store.Open(cfg.Store.DBPath, cfg.Store.EventDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	repoID, _ := cmd.Flags().GetString("repo")
	title, _ := cmd.Flags().GetString("title")

	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()

	tk, err := createTask(st, repoID, title)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tk.ID)
	return nil
}

// createTask persists a freshly queued task and its task_created event.
func createTask(st *store.Store, repoID, title string) (*task.Task, error) {
	now := time.Now()
	tk := &task.Task{
		ID:         task.NewID(),
		RepoID:     repoID,
		Title:      title,
		State:      task.Queued,
		MaxRetries: task.DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := st.UpsertTask(tk); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if err := st.RecordEvent(task.Event{ID: task.NewID(), TaskID: tk.ID, RepoID: repoID, Kind: task.EventTaskCreated, At: now}); err != nil {
		return nil, fmt.Errorf("failed to record task_created event: %w", err)
	}
	return tk, nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	stateFilter, _ := cmd.Flags().GetString("state")

	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()

	return listTasks(st, stateFilter, cmd.OutOrStdout())
}

// listTasks writes one line per matching task to w, in state-declaration order.
func listTasks(st *store.Store, stateFilter string, w io.Writer) error {
	states := task.AllStates()
	if stateFilter != "" {
		s, err := task.ParseState(stateFilter)
		if err != nil {
			return err
		}
		states = []task.State{s}
	}

	for _, s := range states {
		tasks, err := st.ListTasksByState(s)
		if err != nil {
			return fmt.Errorf("failed to list %s tasks: %w", s, err)
		}
		for _, tk := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tk.ID, tk.RepoID, tk.State, tk.Title)
		}
	}
	return nil
}

func runTaskStop(cmd *cobra.Command, args []string) error {
	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()
	return transitionTask(st, args[0], task.Stopped, task.EventTaskFailed, "stopped by operator")
}

func runTaskResume(cmd *cobra.Command, args []string) error {
	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()
	return transitionTask(st, args[0], task.Chatting, task.EventRetryScheduled, "resumed by operator")
}

// transitionTask validates and applies an operator-requested state move,
// recording the same kind of event the daemon executor would for an
// equivalent automatic transition.
func transitionTask(st *store.Store, taskID string, to task.State, kind task.EventKind, reason string) error {
	tk, err := st.TaskByID(taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if tk == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if !task.CanTransition(tk.State, to) {
		return fmt.Errorf("cannot move task %s from %s to %s", taskID, tk.State, to)
	}

	tk.State = to
	tk.UpdatedAt = time.Now()
	if err := st.UpsertTask(tk); err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	return st.RecordEvent(task.Event{
		ID:      task.NewID(),
		TaskID:  taskID,
		RepoID:  tk.RepoID,
		Kind:    kind,
		At:      time.Now(),
		Payload: map[string]string{"reason": reason},
	})
}

package daemon

import (
	"fmt"
	"time"

	"github.com/othala/orchd/internal/recovery"
	"github.com/othala/orchd/internal/store"
	"github.com/othala/orchd/internal/supervisor"
	"github.com/othala/orchd/internal/task"
)

// Logger receives ActionLog messages and any diagnostic the executor wants
// surfaced; in production this is the obslog sink.
type Logger func(taskID, message string)

// ExecuteActions applies a tick's action list. This is the only function in
// the daemon package that writes task/event state to the store or spawns an
// agent subprocess; Tick and its phase helpers never call the store's write
// methods.
func ExecuteActions(actions []Action, st *store.Store, sup *supervisor.Supervisor, recoveryLoop *recovery.Loop, log Logger) error {
	for _, a := range actions {
		if err := executeOne(a, st, sup, recoveryLoop, log); err != nil {
			return err
		}
	}
	return nil
}

func executeOne(a Action, st *store.Store, sup *supervisor.Supervisor, recoveryLoop *recovery.Loop, log Logger) error {
	switch a.Kind {
	case ActionLog:
		if log != nil {
			log(a.TaskID, a.Message)
		}
		return nil

	case ActionSpawnAgent:
		return executeSpawnAgent(a, sup)

	case ActionMarkReady:
		return executeMarkReady(a, st, recoveryLoop)

	case ActionRecordNeedsHuman:
		return executeNeedsHuman(a, st, recoveryLoop)

	case ActionScheduleRetry:
		return executeScheduleRetry(a, st, recoveryLoop)

	case ActionTaskFailed:
		return executeTaskFailed(a, st, recoveryLoop)

	case ActionExecutePipeline:
		return executePipelineStage(a, st, log)

	case ActionTriggerContextRegen:
		if log != nil {
			log("", fmt.Sprintf("context regeneration triggered for repo %s", a.RepoID))
		}
		return nil

	default:
		return fmt.Errorf("daemon: unknown action kind %v", a.Kind)
	}
}

func executeSpawnAgent(a Action, sup *supervisor.Supervisor) error {
	model := a.Model
	return sup.Spawn(supervisor.SpawnParams{
		TaskID:   a.TaskID,
		RepoID:   a.RepoID,
		RepoPath: a.WorktreePath,
		Prompt:   a.Prompt,
		Model:    &model,
	})
}

func executeMarkReady(a Action, st *store.Store, recoveryLoop *recovery.Loop) error {
	t, err := loadTask(st, a.TaskID)
	if err != nil || t == nil {
		return err
	}
	if err := transition(st, t, task.Ready, task.EventMarkedReady, ""); err != nil {
		return err
	}
	recoveryLoop.MarkSuccess(a.TaskID)
	recoveryLoop.Cleanup(a.TaskID)
	return nil
}

func executeNeedsHuman(a Action, st *store.Store, recoveryLoop *recovery.Loop) error {
	t, err := loadTask(st, a.TaskID)
	if err != nil || t == nil {
		return err
	}
	t.LastFailureReason = a.Message
	if err := transition(st, t, task.Stopped, task.EventNeedsHuman, a.Message); err != nil {
		return err
	}
	recoveryLoop.Cleanup(a.TaskID)
	return nil
}

// executeScheduleRetry applies the retry bookkeeping spec.md §4.7 assigns
// to the executor: bump retry_count, append the outgoing preferred_model to
// failed_models, persist the new preferred_model and failure reason, record
// the event, then transition the task back to Chatting (via Stopped if it
// had not already left Chatting this tick).
//
// If the bumped retry_count reaches the task's effective max_retries,
// retrying is no longer an option: the task is routed to Stopped via
// task_failed instead, the same terminal path a recovery DecisionStop
// takes.
func executeScheduleRetry(a Action, st *store.Store, recoveryLoop *recovery.Loop) error {
	t, err := loadTask(st, a.TaskID)
	if err != nil || t == nil {
		return err
	}

	if t.PreferredModel != nil {
		t.AddFailedModel(*t.PreferredModel)
	}
	model := a.NextModel
	t.PreferredModel = &model
	t.RetryCount++
	t.LastFailureReason = a.Message
	t.UpdatedAt = time.Now()

	if t.ExhaustedRetries() {
		reason := fmt.Sprintf("retry limit exhausted after %d attempts: %s", t.RetryCount, a.Message)
		t.LastFailureReason = reason
		if t.State == task.Chatting {
			if err := transition(st, t, task.Stopped, task.EventTaskFailed, reason); err != nil {
				return err
			}
		} else if err := st.UpsertTask(t); err != nil {
			return err
		}
		recoveryLoop.Cleanup(a.TaskID)
		return nil
	}

	if t.State == task.Chatting {
		if err := transition(st, t, task.Stopped, task.EventRetryScheduled, a.Message); err != nil {
			return err
		}
	}
	return transition(st, t, task.Chatting, task.EventRetryScheduled, a.Message)
}

func executeTaskFailed(a Action, st *store.Store, recoveryLoop *recovery.Loop) error {
	t, err := loadTask(st, a.TaskID)
	if err != nil || t == nil {
		return err
	}
	t.LastFailureReason = a.Message
	if err := transition(st, t, task.Stopped, task.EventTaskFailed, a.Message); err != nil {
		return err
	}
	recoveryLoop.Cleanup(a.TaskID)
	return nil
}

// executePipelineStage records the abstract pipeline action as an event.
// Actually carrying out verify/restack/submit (invoking git, graphite, CI)
// is a version-control executor concern outside this package's scope; the
// pipeline only ever emits the abstract intent.
func executePipelineStage(a Action, st *store.Store, log Logger) error {
	if log != nil {
		log(a.TaskID, fmt.Sprintf("pipeline stage %s -> %s: %s", a.TaskID, a.Pipeline.Stage, a.Pipeline.Message))
	}
	return st.RecordEvent(task.Event{
		ID:     fmt.Sprintf("%s-pipeline-%d", a.TaskID, time.Now().UnixNano()),
		TaskID: a.TaskID,
		RepoID: a.RepoID,
		Kind:   task.EventPipelineStage,
		At:     time.Now(),
		Payload: map[string]string{
			"stage":   a.Pipeline.Stage.String(),
			"message": a.Pipeline.Message,
		},
	})
}

func loadTask(st *store.Store, taskID string) (*task.Task, error) {
	t, err := st.TaskByID(taskID)
	if err != nil {
		return nil, fmt.Errorf("daemon: loading task %s: %w", taskID, err)
	}
	return t, nil
}

func transition(st *store.Store, t *task.Task, to task.State, kind task.EventKind, reason string) error {
	if !task.CanTransition(t.State, to) {
		return fmt.Errorf("daemon: illegal transition for task %s: %s -> %s", t.ID, t.State, to)
	}
	t.State = to
	t.UpdatedAt = time.Now()
	if err := st.UpsertTask(t); err != nil {
		return err
	}
	return st.RecordEvent(task.Event{
		ID:      fmt.Sprintf("%s-%s-%d", t.ID, kind, time.Now().UnixNano()),
		TaskID:  t.ID,
		RepoID:  t.RepoID,
		Kind:    kind,
		At:      time.Now(),
		Payload: map[string]string{"reason": reason},
	})
}

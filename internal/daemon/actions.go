// Package daemon weaves the classifier, dispatcher, context assembler,
// supervisor, pipeline, recovery loop, and task store into a single tick:
// a pure function from current state to a list of actions, and a separate
// executor that is the only place those actions touch durable state or the
// outside world.
package daemon

import (
	"github.com/othala/orchd/internal/dispatch"
	"github.com/othala/orchd/internal/pipeline"
)

// ActionKind enumerates the kinds of side effect a tick can request.
type ActionKind int

const (
	ActionSpawnAgent ActionKind = iota
	ActionMarkReady
	ActionRecordNeedsHuman
	ActionScheduleRetry
	ActionTaskFailed
	ActionExecutePipeline
	ActionTriggerContextRegen
	ActionLog
)

func (k ActionKind) String() string {
	switch k {
	case ActionSpawnAgent:
		return "spawn_agent"
	case ActionMarkReady:
		return "mark_ready"
	case ActionRecordNeedsHuman:
		return "record_needs_human"
	case ActionScheduleRetry:
		return "schedule_retry"
	case ActionTaskFailed:
		return "task_failed"
	case ActionExecutePipeline:
		return "execute_pipeline"
	case ActionTriggerContextRegen:
		return "trigger_context_regen"
	case ActionLog:
		return "log"
	default:
		return "unknown"
	}
}

// Action is one abstract effect tick asks the executor to apply. Only the
// fields relevant to Kind are populated.
type Action struct {
	Kind ActionKind

	TaskID   string
	RepoID   string
	Message  string // Log message, or a human-readable reason
	Prompt   string // SpawnAgent prompt
	Model    dispatch.ModelKind
	WorktreePath string

	NextModel     dispatch.ModelKind // ScheduleRetry
	PromptHint    string             // ScheduleRetry prompt addition

	Pipeline pipeline.Action // ExecutePipeline
}

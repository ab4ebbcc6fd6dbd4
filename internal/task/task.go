// Package task defines the Task and Event entities owned exclusively by
// the lifecycle service (internal/store), and the state transition matrix
// that governs how a task may move between states.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/othala/orchd/internal/dispatch"
)

// NewID mints a fresh task/event identifier.
func NewID() string {
	return uuid.New().String()
}

// DefaultMaxRetries bounds RetryCount for tasks that don't set MaxRetries
// explicitly.
const DefaultMaxRetries = 3

// State is one of the closed set of lifecycle states a task occupies.
type State int

const (
	Queued State = iota
	Initializing
	Chatting
	Ready
	Submitting
	Restacking
	AwaitingMerge
	Merged
	Stopped
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Initializing:
		return "initializing"
	case Chatting:
		return "chatting"
	case Ready:
		return "ready"
	case Submitting:
		return "submitting"
	case Restacking:
		return "restacking"
	case AwaitingMerge:
		return "awaiting_merge"
	case Merged:
		return "merged"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AllStates returns every state in the closed set, in declaration order.
func AllStates() []State {
	return []State{Queued, Initializing, Chatting, Ready, Submitting, Restacking, AwaitingMerge, Merged, Stopped}
}

// ParseState parses the string form written by String.
func ParseState(s string) (State, error) {
	for st := Queued; st <= Stopped; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("task: unknown state %q", s)
}

var allowedTransitions = map[State][]State{
	Queued:        {Initializing},
	Initializing:  {Chatting},
	Chatting:      {Ready, Stopped},
	Stopped:       {Chatting},
	Ready:         {Submitting, Restacking, Stopped},
	Submitting:    {AwaitingMerge, Stopped},
	Restacking:    {Submitting, Stopped},
	AwaitingMerge: {Merged, Stopped},
	Merged:        {},
}

// CanTransition reports whether moving from one state to the other is a
// legal transition per the state machine in spec.md §4.8.
func CanTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no outbound transitions.
func IsTerminal(s State) bool {
	return len(allowedTransitions[s]) == 0
}

// SubmitMode mirrors pipeline.SubmitMode at the task-entity level so this
// package has no dependency on internal/pipeline.
type SubmitMode int

const (
	SubmitSingle SubmitMode = iota
	SubmitStack
)

// Task is the unit of work the orchestrator drives from Queued to Merged
// (or Stopped).
type Task struct {
	ID                string
	RepoID            string
	Title             string
	Type              dispatch.TaskType
	State             State
	PreferredModel    *dispatch.ModelKind
	FailedModels      []dispatch.ModelKind
	RetryCount        int
	MaxRetries        int
	LastFailureReason string
	WorktreePath      string
	BranchName        string
	ParentTaskID      string
	SubmitMode        SubmitMode
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EffectiveMaxRetries returns MaxRetries, falling back to DefaultMaxRetries
// for tasks that never had it set explicitly.
func (t *Task) EffectiveMaxRetries() int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return DefaultMaxRetries
}

// ExhaustedRetries reports whether RetryCount has reached the task's
// effective retry ceiling, per the retry_count <= max_retries invariant.
func (t *Task) ExhaustedRetries() bool {
	return t.RetryCount >= t.EffectiveMaxRetries()
}

// AddFailedModel appends m to FailedModels if not already present, keeping
// the invariant that the list never contains duplicates.
func (t *Task) AddFailedModel(m dispatch.ModelKind) {
	for _, existing := range t.FailedModels {
		if existing == m {
			return
		}
	}
	t.FailedModels = append(t.FailedModels, m)
}

// EventKind enumerates the append-only lifecycle events recorded alongside
// every task state transition.
type EventKind int

const (
	EventTaskCreated EventKind = iota
	EventMarkedReady
	EventRetryScheduled
	EventNeedsHuman
	EventTaskFailed
	EventVerifyRun
	EventPipelineStage
	EventMerged
)

func (k EventKind) String() string {
	switch k {
	case EventTaskCreated:
		return "task_created"
	case EventMarkedReady:
		return "marked_ready"
	case EventRetryScheduled:
		return "retry_scheduled"
	case EventNeedsHuman:
		return "needs_human"
	case EventTaskFailed:
		return "task_failed"
	case EventVerifyRun:
		return "verify_run"
	case EventPipelineStage:
		return "pipeline_stage"
	case EventMerged:
		return "merged"
	default:
		return "unknown"
	}
}

// Event is an immutable record of a state transition or lifecycle
// observation. Events are append-only and never share an identifier.
type Event struct {
	ID      string
	TaskID  string // empty for global events
	RepoID  string
	Kind    EventKind
	At      time.Time
	Payload map[string]string
}

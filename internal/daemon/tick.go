package daemon

import (
	"fmt"
	"time"

	ctxassembler "github.com/othala/orchd/internal/context"
	"github.com/othala/orchd/internal/dispatch"
	"github.com/othala/orchd/internal/pipeline"
	"github.com/othala/orchd/internal/recovery"
	"github.com/othala/orchd/internal/supervisor"
	"github.com/othala/orchd/internal/task"
)

// PersistenceView is the read-only slice of the task store tick needs. The
// concrete *store.Store satisfies this; tests can supply a fake so tick
// stays a pure function of its inputs.
type PersistenceView interface {
	ListTasksByState(state task.State) ([]*task.Task, error)
	TaskByID(id string) (*task.Task, error)
}

// Tick is the weave point: current persisted state + live supervisor state
// + in-memory pipeline/recovery state, in; a list of actions, out. It
// performs no durable writes of its own — ExecuteActions is the only
// function that does.
func Tick(view PersistenceView, sup *supervisor.Supervisor, dispatcher *dispatch.Dispatcher, recoveryLoop *recovery.Loop, state *State, cfg Config) ([]Action, error) {
	var actions []Action

	spawned, err := phaseSpawnChatting(view, sup, dispatcher, recoveryLoop, state, cfg)
	if err != nil {
		return nil, err
	}
	actions = append(actions, spawned...)

	outcomeActions := phasePollAndRoute(sup, dispatcher, recoveryLoop, cfg)
	actions = append(actions, outcomeActions...)

	pipelineActions, err := phaseDrivePipelines(view, state, cfg)
	if err != nil {
		return nil, err
	}
	actions = append(actions, pipelineActions...)

	if regen := phaseMaybeRegenContext(actions, state, cfg); regen != nil {
		actions = append(actions, *regen)
	}

	return actions, nil
}

// phaseSpawnChatting is phase 1: every Chatting task without a live
// session gets a freshly assembled prompt and a SpawnAgent action.
func phaseSpawnChatting(view PersistenceView, sup *supervisor.Supervisor, dispatcher *dispatch.Dispatcher, recoveryLoop *recovery.Loop, state *State, cfg Config) ([]Action, error) {
	chatting, err := view.ListTasksByState(task.Chatting)
	if err != nil {
		return nil, fmt.Errorf("daemon: listing chatting tasks: %w", err)
	}

	state.ensureWatcher(cfg.RepoRoot)

	var actions []Action
	for _, t := range chatting {
		if sup.HasSession(t.ID) {
			continue
		}
		actions = append(actions, buildSpawnAction(t, dispatcher, recoveryLoop, cfg))
	}
	return actions, nil
}

func buildSpawnAction(t *task.Task, dispatcher *dispatch.Dispatcher, recoveryLoop *recovery.Loop, cfg Config) Action {
	model := pickModel(t, dispatcher, cfg)

	var retry *ctxassembler.RetryContext
	if t.RetryCount > 0 && t.LastFailureReason != "" {
		result, ok := recoveryLoop.LastClassification(t.ID)
		if !ok {
			// Recovery state was cleaned up (or never recorded, e.g. after a
			// daemon restart) between the failure and this spawn. Fall back
			// to classifying directly rather than rendering an empty
			// analysis; this is a display-only read and never happens on
			// the hot path where Evaluate already ran this tick.
			result = recoveryLoop.Classifier.Classify(t.LastFailureReason)
		}
		retry = &ctxassembler.RetryContext{
			AttemptNumber:   t.RetryCount,
			PreviousFailure: t.LastFailureReason,
			Classification:  result,
		}
	}

	prompt := ctxassembler.AssemblePrompt(cfg.RepoRoot, ctxassembler.Assignment{
		TaskID: t.ID,
		Title:  t.Title,
	}, retry, cfg.PromptConfig)

	return Action{
		Kind:         ActionSpawnAgent,
		TaskID:       t.ID,
		RepoID:       t.RepoID,
		Model:        model,
		Prompt:       prompt,
		WorktreePath: t.WorktreePath,
	}
}

func pickModel(t *task.Task, dispatcher *dispatch.Dispatcher, cfg Config) dispatch.ModelKind {
	if t.PreferredModel != nil {
		return *t.PreferredModel
	}
	taskInput := dispatch.TaskInput{ID: t.ID, RepoID: t.RepoID, Title: t.Title}
	repoCtx := dispatch.LoadRepoContext(cfg.RepoRoot)
	decision := dispatcher.DispatchWithFallback(taskInput, repoCtx, t.RetryCount > 0, t.LastFailureReason)
	return decision.Role.Model()
}

// phasePollAndRoute is phase 2: poll the supervisor, turn every output
// line into a Log action, and route every completed outcome to
// MarkReady/RecordNeedsHuman/ScheduleRetry/TaskFailed.
func phasePollAndRoute(sup *supervisor.Supervisor, dispatcher *dispatch.Dispatcher, recoveryLoop *recovery.Loop, cfg Config) []Action {
	result := sup.Poll()

	var actions []Action
	for _, chunk := range result.Output {
		for _, line := range chunk.Lines {
			actions = append(actions, Action{Kind: ActionLog, TaskID: chunk.TaskID, Message: line})
		}
	}

	for _, outcome := range result.Completed {
		actions = append(actions, handleAgentCompletion(outcome, dispatcher, recoveryLoop, cfg)...)
	}

	return actions
}

func handleAgentCompletion(outcome supervisor.AgentOutcome, dispatcher *dispatch.Dispatcher, recoveryLoop *recovery.Loop, cfg Config) []Action {
	if outcome.PatchReady || outcome.Success {
		return []Action{{Kind: ActionMarkReady, TaskID: outcome.TaskID, RepoID: cfg.RepoID}}
	}
	if outcome.NeedsHuman {
		return []Action{{Kind: ActionRecordNeedsHuman, TaskID: outcome.TaskID, RepoID: cfg.RepoID}}
	}

	reason := fmt.Sprintf("agent exited with code %d", outcome.ExitCode)
	decision := recoveryLoop.EvaluateWithFallback(outcome.TaskID, cfg.RepoID, reason)

	switch decision.Kind {
	case recovery.DecisionRetryWithAgent:
		return []Action{{
			Kind:       ActionScheduleRetry,
			TaskID:     outcome.TaskID,
			RepoID:     cfg.RepoID,
			Message:    reason,
			NextModel:  decision.Role.Model(),
			PromptHint: joinAdditions(decision.PromptAdditions),
		}}
	case recovery.DecisionWaitAndRetry:
		return []Action{{
			Kind:    ActionScheduleRetry,
			TaskID:  outcome.TaskID,
			RepoID:  cfg.RepoID,
			Message: fmt.Sprintf("%s (waiting %ds)", reason, decision.WaitSecs),
		}}
	case recovery.DecisionEscalateHuman:
		return []Action{{Kind: ActionRecordNeedsHuman, TaskID: outcome.TaskID, RepoID: cfg.RepoID, Message: decision.Summary}}
	default:
		return []Action{{Kind: ActionTaskFailed, TaskID: outcome.TaskID, RepoID: cfg.RepoID, Message: reason}}
	}
}

func joinAdditions(additions []string) string {
	out := ""
	for i, a := range additions {
		if i > 0 {
			out += "\n\n"
		}
		out += a
	}
	return out
}

// phaseDrivePipelines is phases 3-4: every Ready task without a pipeline
// gets one created; every live pipeline emits its next action; terminal
// pipelines are dropped from state.
func phaseDrivePipelines(view PersistenceView, state *State, cfg Config) ([]Action, error) {
	ready, err := view.ListTasksByState(task.Ready)
	if err != nil {
		return nil, fmt.Errorf("daemon: listing ready tasks: %w", err)
	}

	for _, t := range ready {
		if _, ok := state.Pipelines[t.ID]; ok {
			continue
		}
		parentBranch, err := findParentBranch(view, t)
		if err != nil {
			return nil, err
		}
		mode := pipeline.SubmitSingle
		if t.SubmitMode == task.SubmitStack {
			mode = pipeline.SubmitStack
		}
		state.Pipelines[t.ID] = pipeline.New(t.ID, t.BranchName, t.WorktreePath, mode, parentBranch)
	}

	var actions []Action
	var terminated []string
	for taskID, p := range state.Pipelines {
		act := pipeline.NextAction(p)
		actions = append(actions, Action{Kind: ActionExecutePipeline, TaskID: taskID, RepoID: cfg.RepoID, Pipeline: act})
		if p.IsTerminal() {
			terminated = append(terminated, taskID)
		}
	}
	for _, taskID := range terminated {
		delete(state.Pipelines, taskID)
	}

	return actions, nil
}

func findParentBranch(view PersistenceView, t *task.Task) (string, error) {
	if t.ParentTaskID == "" {
		return "", nil
	}
	parent, err := view.TaskByID(t.ParentTaskID)
	if err != nil {
		return "", fmt.Errorf("daemon: loading parent task %s: %w", t.ParentTaskID, err)
	}
	if parent == nil {
		return "", nil
	}
	return parent.BranchName, nil
}

// phaseMaybeRegenContext is phase 5: trigger context regeneration if a
// MarkReady or pipeline-complete action fired this tick, or the context
// directory is observed stale, and the cooldown since the last trigger
// has elapsed.
func phaseMaybeRegenContext(actions []Action, state *State, cfg Config) *Action {
	hasTrigger := false
	for _, a := range actions {
		if a.Kind == ActionMarkReady {
			hasTrigger = true
			break
		}
		if a.Kind == ActionExecutePipeline && a.Pipeline.Kind == pipeline.ActionComplete {
			hasTrigger = true
			break
		}
	}

	isStale := state.contextWatcher != nil && state.contextWatcher.IsStale()

	if !hasTrigger && !isStale {
		return nil
	}
	if time.Since(state.lastRegenAt) < cfg.RegenCooldown {
		return nil
	}

	state.lastRegenAt = time.Now()
	if state.contextWatcher != nil {
		state.contextWatcher.Acknowledge()
	}
	return &Action{Kind: ActionTriggerContextRegen, RepoID: cfg.RepoID}
}

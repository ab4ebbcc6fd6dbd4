package daemon

import (
	"strings"
	"testing"
	"time"

	"github.com/othala/orchd/internal/classifier"
	"github.com/othala/orchd/internal/dispatch"
	"github.com/othala/orchd/internal/pipeline"
	"github.com/othala/orchd/internal/recovery"
	"github.com/othala/orchd/internal/supervisor"
	"github.com/othala/orchd/internal/task"
)

type fakeView struct {
	tasks map[string]*task.Task
}

func newFakeView(tasks ...*task.Task) *fakeView {
	v := &fakeView{tasks: make(map[string]*task.Task)}
	for _, t := range tasks {
		v.tasks[t.ID] = t
	}
	return v
}

func (v *fakeView) ListTasksByState(state task.State) ([]*task.Task, error) {
	var out []*task.Task
	for _, t := range v.tasks {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out, nil
}

func (v *fakeView) TaskByID(id string) (*task.Task, error) {
	return v.tasks[id], nil
}

func newTestCfg(t *testing.T) Config {
	return DefaultConfig(t.TempDir(), "repo-1")
}

func newLoop() *recovery.Loop {
	return recovery.New(classifier.New(), dispatch.New(dispatch.DefaultConfig()))
}

func TestTickSpawnsAgentForChattingTaskWithoutSession(t *testing.T) {
	cfg := newTestCfg(t)
	tk := &task.Task{ID: "T1", RepoID: cfg.RepoID, Title: "Add endpoint", State: task.Chatting}
	view := newFakeView(tk)
	sup := supervisor.New(dispatch.ModelClaude)
	dispatcher := dispatch.New(dispatch.DefaultConfig())
	state := NewState()
	defer state.Close()

	actions, err := Tick(view, sup, dispatcher, newLoop(), state, cfg)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	found := false
	for _, a := range actions {
		if a.Kind == ActionSpawnAgent && a.TaskID == "T1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a SpawnAgent action for T1, got %+v", actions)
	}
}

func TestTickSpawnReusesCachedClassificationWithoutReclassifying(t *testing.T) {
	cfg := newTestCfg(t)
	tk := &task.Task{
		ID:                "T1",
		RepoID:            cfg.RepoID,
		Title:             "Add endpoint",
		State:             task.Chatting,
		RetryCount:        1,
		LastFailureReason: "compile error: undefined symbol",
	}
	view := newFakeView(tk)
	sup := supervisor.New(dispatch.ModelClaude)
	dispatcher := dispatch.New(dispatch.DefaultConfig())
	state := NewState()
	defer state.Close()

	recoveryLoop := newLoop()
	// Mirrors the real sequence: the failure was classified once when the
	// prior attempt completed.
	recoveryLoop.Evaluate("T1", cfg.RepoID, tk.LastFailureReason)
	recoveryLoop.MarkFailure("T1")

	actions, err := Tick(view, sup, dispatcher, recoveryLoop, state, cfg)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	var spawn *Action
	for i := range actions {
		if actions[i].Kind == ActionSpawnAgent && actions[i].TaskID == "T1" {
			spawn = &actions[i]
		}
	}
	if spawn == nil {
		t.Fatalf("expected a SpawnAgent action for T1, got %+v", actions)
	}
	if !strings.Contains(spawn.Prompt, "Retry Context") {
		t.Errorf("expected retry context in prompt, got %q", spawn.Prompt)
	}

	// Rendering the retry context must not have fed the classifier's shared
	// history a second time for the same failure.
	if _, repeated := recoveryLoop.Classifier.DetectRepeatedPattern(3); repeated {
		t.Fatal("a single classified failure plus a display read should not trigger repeated-pattern detection")
	}
}

func TestTickSkipsChattingTaskWithLiveSession(t *testing.T) {
	cfg := newTestCfg(t)
	tk := &task.Task{ID: "T1", RepoID: cfg.RepoID, Title: "Add endpoint", State: task.Chatting}
	view := newFakeView(tk)
	sup := supervisor.New(dispatch.ModelClaude)
	dispatcher := dispatch.New(dispatch.DefaultConfig())
	state := NewState()
	defer state.Close()

	if err := sup.Spawn(supervisor.SpawnParams{TaskID: "T1", RepoPath: cfg.RepoRoot, Prompt: "x"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sup.StopAll()

	actions, err := Tick(view, sup, dispatcher, newLoop(), state, cfg)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	for _, a := range actions {
		if a.Kind == ActionSpawnAgent {
			t.Errorf("expected no SpawnAgent action for a task with a live session, got %+v", a)
		}
	}
}

func TestTickCreatesPipelineForReadyTask(t *testing.T) {
	cfg := newTestCfg(t)
	tk := &task.Task{ID: "T1", RepoID: cfg.RepoID, Title: "Add endpoint", State: task.Ready, BranchName: "task/t1"}
	view := newFakeView(tk)
	sup := supervisor.New(dispatch.ModelClaude)
	dispatcher := dispatch.New(dispatch.DefaultConfig())
	state := NewState()
	defer state.Close()

	actions, err := Tick(view, sup, dispatcher, newLoop(), state, cfg)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	if _, ok := state.Pipelines["T1"]; !ok {
		t.Fatal("expected a pipeline to be created for T1")
	}

	found := false
	for _, a := range actions {
		if a.Kind == ActionExecutePipeline && a.TaskID == "T1" && a.Pipeline.Kind == pipeline.ActionRunVerify {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a RunVerify pipeline action, got %+v", actions)
	}
}

func TestTickDropsTerminalPipelines(t *testing.T) {
	cfg := newTestCfg(t)
	tk := &task.Task{ID: "T1", RepoID: cfg.RepoID, Title: "Add endpoint", State: task.Ready}
	view := newFakeView(tk)
	sup := supervisor.New(dispatch.ModelClaude)
	dispatcher := dispatch.New(dispatch.DefaultConfig())
	state := NewState()
	defer state.Close()

	p := pipeline.New("T1", "task/t1", "", pipeline.SubmitSingle, "")
	p.Stage = pipeline.Failed
	p.Terminal = true
	state.Pipelines["T1"] = p

	if _, err := Tick(view, sup, dispatcher, newLoop(), state, cfg); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if _, ok := state.Pipelines["T1"]; ok {
		t.Error("expected the terminal pipeline to be dropped")
	}
}

func TestHandleAgentCompletionMarksReadyOnSuccess(t *testing.T) {
	cfg := newTestCfg(t)
	outcome := supervisor.AgentOutcome{TaskID: "T1", Success: true}
	actions := handleAgentCompletion(outcome, dispatch.New(dispatch.DefaultConfig()), newLoop(), cfg)

	if len(actions) != 1 || actions[0].Kind != ActionMarkReady {
		t.Fatalf("expected a single MarkReady action, got %+v", actions)
	}
}

func TestHandleAgentCompletionRecordsNeedsHuman(t *testing.T) {
	cfg := newTestCfg(t)
	outcome := supervisor.AgentOutcome{TaskID: "T1", NeedsHuman: true}
	actions := handleAgentCompletion(outcome, dispatch.New(dispatch.DefaultConfig()), newLoop(), cfg)

	if len(actions) != 1 || actions[0].Kind != ActionRecordNeedsHuman {
		t.Fatalf("expected a single RecordNeedsHuman action, got %+v", actions)
	}
}

func TestHandleAgentCompletionSchedulesRetryForRecoverableFailure(t *testing.T) {
	cfg := newTestCfg(t)
	outcome := supervisor.AgentOutcome{TaskID: "T1", ExitCode: 1, HasExitCode: true}
	actions := handleAgentCompletion(outcome, dispatch.New(dispatch.DefaultConfig()), newLoop(), cfg)

	if len(actions) != 1 {
		t.Fatalf("expected a single action, got %+v", actions)
	}
	if actions[0].Kind != ActionScheduleRetry {
		t.Errorf("expected ScheduleRetry, got %v", actions[0].Kind)
	}
}

func TestPhaseMaybeRegenContextFiresOnMarkReady(t *testing.T) {
	cfg := newTestCfg(t)
	state := NewState()
	defer state.Close()

	actions := []Action{{Kind: ActionMarkReady, TaskID: "T1"}}
	regen := phaseMaybeRegenContext(actions, state, cfg)
	if regen == nil || regen.Kind != ActionTriggerContextRegen {
		t.Fatal("expected a TriggerContextRegen action")
	}
}

func TestPhaseMaybeRegenContextRespectsCooldown(t *testing.T) {
	cfg := newTestCfg(t)
	cfg.RegenCooldown = time.Hour
	state := NewState()
	defer state.Close()
	state.lastRegenAt = time.Now()

	actions := []Action{{Kind: ActionMarkReady, TaskID: "T1"}}
	if regen := phaseMaybeRegenContext(actions, state, cfg); regen != nil {
		t.Errorf("expected no regen action within the cooldown window, got %+v", regen)
	}
}

func TestPhaseMaybeRegenContextNoTriggerNoRegen(t *testing.T) {
	cfg := newTestCfg(t)
	state := NewState()
	defer state.Close()

	if regen := phaseMaybeRegenContext(nil, state, cfg); regen != nil {
		t.Errorf("expected no regen action without a trigger, got %+v", regen)
	}
}

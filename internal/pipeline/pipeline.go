// Package pipeline drives a Ready task through verify, restack, submit, and
// merge, as a pure per-task state machine: NextAction reads the current stage and
// emits exactly one action for the caller to execute. The state machine
// itself never shells out or touches the store — that is the executor's job.
package pipeline

import "fmt"

// Stage is one step of the Ready -> Merged lifecycle.
type Stage int

const (
	VerifyPending Stage = iota
	Verifying
	VerifyPassed
	VerifyFailed
	RestackPending
	Restacking
	SubmitPending
	Submitting
	AwaitingMerge
	Complete
	Failed
)

func (s Stage) String() string {
	switch s {
	case VerifyPending:
		return "verify_pending"
	case Verifying:
		return "verifying"
	case VerifyPassed:
		return "verify_passed"
	case VerifyFailed:
		return "verify_failed"
	case RestackPending:
		return "restack_pending"
	case Restacking:
		return "restacking"
	case SubmitPending:
		return "submit_pending"
	case Submitting:
		return "submitting"
	case AwaitingMerge:
		return "awaiting_merge"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SubmitMode controls whether a task produces a single pull request or a
// position in a stacked set that must restack before submitting.
type SubmitMode int

const (
	SubmitSingle SubmitMode = iota
	SubmitStack
)

// retry ceilings per stage, per spec.md §4.5.
const (
	maxVerifyRetries  = 2
	maxRestackRetries = 1
	maxSubmitRetries  = 1
)

// State is the per-task pipeline state machine carried by the daemon between
// ticks.
type State struct {
	TaskID         string
	BranchName     string
	WorktreePath   string
	SubmitMode     SubmitMode
	ParentBranch   string // empty if none
	Stage          Stage
	VerifyRetries  int
	RestackRetries int
	SubmitRetries  int
	Terminal       bool
	FailedStage    string
	FailedError    string
}

// New returns a fresh pipeline in its initial stage.
func New(taskID, branchName, worktreePath string, submitMode SubmitMode, parentBranch string) *State {
	return &State{
		TaskID:       taskID,
		BranchName:   branchName,
		WorktreePath: worktreePath,
		SubmitMode:   submitMode,
		ParentBranch: parentBranch,
		Stage:        VerifyPending,
	}
}

// IsTerminal reports whether the pipeline has reached Complete or Failed.
func (s *State) IsTerminal() bool {
	return s.Terminal
}

// ActionKind enumerates the actions NextAction can emit.
type ActionKind int

const (
	ActionRunVerify ActionKind = iota
	ActionRunRestack
	ActionRunSubmit
	ActionPollMerge
	ActionComplete
	ActionFailed
)

// Action is the single next step for a pipeline, produced by NextAction.
type Action struct {
	Kind    ActionKind
	TaskID  string
	Stage   Stage
	Message string
}

// NextAction is pure and total: given the current stage, it returns exactly
// one action. It never mutates state; state transitions only happen when
// the executor reports a stage-advancing result back via one of the
// Report* methods.
func NextAction(s *State) Action {
	switch s.Stage {
	case VerifyPending, Verifying:
		return Action{Kind: ActionRunVerify, TaskID: s.TaskID, Stage: s.Stage}
	case VerifyPassed:
		if s.SubmitMode == SubmitStack && s.ParentBranch != "" {
			return Action{Kind: ActionRunRestack, TaskID: s.TaskID, Stage: s.Stage}
		}
		return Action{Kind: ActionRunSubmit, TaskID: s.TaskID, Stage: s.Stage}
	case VerifyFailed:
		return Action{Kind: ActionFailed, TaskID: s.TaskID, Stage: s.Stage, Message: "verify failed"}
	case RestackPending, Restacking:
		return Action{Kind: ActionRunRestack, TaskID: s.TaskID, Stage: s.Stage}
	case SubmitPending, Submitting:
		return Action{Kind: ActionRunSubmit, TaskID: s.TaskID, Stage: s.Stage}
	case AwaitingMerge:
		return Action{Kind: ActionPollMerge, TaskID: s.TaskID, Stage: s.Stage}
	case Complete:
		return Action{Kind: ActionComplete, TaskID: s.TaskID, Stage: s.Stage}
	case Failed:
		return Action{Kind: ActionFailed, TaskID: s.TaskID, Stage: s.Stage, Message: "terminal"}
	default:
		return Action{Kind: ActionFailed, TaskID: s.TaskID, Stage: s.Stage, Message: fmt.Sprintf("unknown stage %v", s.Stage)}
	}
}

// StepResult is what the executor reports back after carrying out one
// RunVerify/RunRestack/RunSubmit/PollMerge action.
type StepResult int

const (
	StepSuccess StepResult = iota
	StepRetryable
	StepFatal
)

// ReportVerify advances the pipeline after a verify attempt.
func (s *State) ReportVerify(result StepResult, errMsg string) {
	s.Stage = Verifying
	switch result {
	case StepSuccess:
		s.Stage = VerifyPassed
	case StepRetryable:
		s.VerifyRetries++
		if s.VerifyRetries > maxVerifyRetries {
			s.fail("verify", errMsg)
			return
		}
		s.Stage = VerifyPending
	case StepFatal:
		s.fail("verify", errMsg)
	}
}

// ReportRestack advances the pipeline after a restack attempt.
func (s *State) ReportRestack(result StepResult, errMsg string) {
	s.Stage = Restacking
	switch result {
	case StepSuccess:
		s.Stage = SubmitPending
	case StepRetryable:
		s.RestackRetries++
		if s.RestackRetries > maxRestackRetries {
			s.fail("restack", errMsg)
			return
		}
		s.Stage = RestackPending
	case StepFatal:
		s.fail("restack", errMsg)
	}
}

// ReportSubmit advances the pipeline after a submit attempt.
func (s *State) ReportSubmit(result StepResult, errMsg string) {
	s.Stage = Submitting
	switch result {
	case StepSuccess:
		s.Stage = AwaitingMerge
	case StepRetryable:
		s.SubmitRetries++
		if s.SubmitRetries > maxSubmitRetries {
			s.fail("submit", errMsg)
			return
		}
		s.Stage = SubmitPending
	case StepFatal:
		s.fail("submit", errMsg)
	}
}

// ReportMerge advances the pipeline after polling merge status.
func (s *State) ReportMerge(merged bool, timedOutOrRejected bool, errMsg string) {
	switch {
	case merged:
		s.Stage = Complete
		s.Terminal = true
	case timedOutOrRejected:
		s.fail("await_merge", errMsg)
	}
}

func (s *State) fail(stage, errMsg string) {
	s.Stage = Failed
	s.Terminal = true
	s.FailedStage = stage
	s.FailedError = errMsg
}

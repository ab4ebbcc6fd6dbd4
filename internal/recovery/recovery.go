// Package recovery implements the error recovery loop: when a task stops,
// it classifies the failure, decides whether to retry (with an agent or
// after a wait), escalate to a human, or give up, and tracks how many
// rounds a task has gone through so it can escalate instead of looping
// forever on the same error.
package recovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/othala/orchd/internal/classifier"
	"github.com/othala/orchd/internal/dispatch"
)

// maxRounds bounds how many times a task can be handed back to an agent for
// the same failure before recovery gives up and escalates to a human.
const maxRounds = 2

// Attempt records one round of recovery for a task.
type Attempt struct {
	Number    int
	Role      string
	StartedAt time.Time
	EndedAt   *time.Time
	ErrorClass classifier.Class
	Outcome   string // "in_progress", "success", "failed"
}

// State tracks recovery progress for a single task across rounds.
type State struct {
	TaskID           string
	Rounds           int
	MaxRounds        int
	CurrentError     string
	ErrorClass       classifier.Class
	LastResult       classifier.Result
	History          []Attempt
	StartedAt        time.Time
	NextRetryAt      *time.Time
	Complete         bool
	Succeeded        bool
}

func newState(taskID string) *State {
	return &State{
		TaskID:    taskID,
		MaxRounds: maxRounds,
		StartedAt: time.Now(),
	}
}

// ShouldEscalate reports whether this task has exhausted its retry rounds.
func (s *State) ShouldEscalate() bool {
	return s.Rounds >= s.MaxRounds
}

// ReadyToRetry reports whether a pending wait-and-retry has elapsed.
func (s *State) ReadyToRetry(now time.Time) bool {
	if s.NextRetryAt == nil {
		return true
	}
	return !now.Before(*s.NextRetryAt)
}

func (s *State) recordRound(class classifier.Class) {
	s.Rounds++
	s.History = append(s.History, Attempt{
		Number:     s.Rounds,
		Role:       "recovery-agent",
		StartedAt:  time.Now(),
		ErrorClass: class,
		Outcome:    "in_progress",
	})
}

// CompleteAttempt marks the most recent round as finished.
func (s *State) CompleteAttempt(success bool) {
	if len(s.History) == 0 {
		return
	}
	last := &s.History[len(s.History)-1]
	now := time.Now()
	last.EndedAt = &now
	if success {
		last.Outcome = "success"
		s.Complete = true
		s.Succeeded = true
	} else {
		last.Outcome = "failed"
	}
}

// DecisionKind enumerates the actions the recovery loop can hand back.
type DecisionKind int

const (
	DecisionRetryWithAgent DecisionKind = iota
	DecisionWaitAndRetry
	DecisionEscalateHuman
	DecisionStop
	DecisionSuccess
)

func (d DecisionKind) String() string {
	switch d {
	case DecisionRetryWithAgent:
		return "retry_with_agent"
	case DecisionWaitAndRetry:
		return "wait_and_retry"
	case DecisionEscalateHuman:
		return "escalate_human"
	case DecisionStop:
		return "stop"
	case DecisionSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating a stopped task.
type Decision struct {
	Kind            DecisionKind
	Role            dispatch.Role
	PromptAdditions []string
	WaitSecs        int
	Reason          string
	Summary         string
}

// Loop coordinates error recovery across tasks.
type Loop struct {
	Classifier *classifier.Classifier
	Dispatcher *dispatch.Dispatcher
	states     map[string]*State
}

// New returns a Loop backed by the given classifier and dispatcher.
func New(c *classifier.Classifier, d *dispatch.Dispatcher) *Loop {
	return &Loop{
		Classifier: c,
		Dispatcher: d,
		states:     make(map[string]*State),
	}
}

// EvaluateWithFallback evaluates a stopped task, recovering from any panic
// in the recovery path itself by escalating to a human rather than letting
// the daemon crash.
func (l *Loop) EvaluateWithFallback(taskID, repoID, failureReason string) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			if l.states[taskID] == nil {
				l.states[taskID] = newState(taskID)
			}
			l.states[taskID].Complete = true
			decision = Decision{
				Kind:    DecisionEscalateHuman,
				Reason:  "Recovery loop encountered an internal error; escalating for manual triage",
				Summary: fmt.Sprintf("Task %s hit a recovery system error (%v). Please investigate manually.", taskID, r),
			}
		}
	}()
	return l.Evaluate(taskID, repoID, failureReason)
}

// Evaluate classifies failureReason and decides the next recovery action
// for taskID.
func (l *Loop) Evaluate(taskID, repoID, failureReason string) Decision {
	result := l.Classifier.Classify(failureReason)

	state, ok := l.states[taskID]
	if !ok {
		state = newState(taskID)
		l.states[taskID] = state
	}
	state.CurrentError = failureReason
	state.ErrorClass = result.Class
	state.LastResult = result

	switch result.Action {
	case classifier.ActionEscalateHuman:
		state.Complete = true
		return Decision{
			Kind:    DecisionEscalateHuman,
			Reason:  fmt.Sprintf("Error requires human intervention: %s", result.Class),
			Summary: l.buildEscalationSummary(state, result),
		}

	case classifier.ActionWaitAndRetry:
		waitSecs := 60
		if secs, ok := result.Class.RetryDelaySecs(); ok {
			waitSecs = secs
		}
		next := time.Now().Add(time.Duration(waitSecs) * time.Second)
		state.NextRetryAt = &next
		return Decision{
			Kind:     DecisionWaitAndRetry,
			WaitSecs: waitSecs,
			Reason:   fmt.Sprintf("Transient error (%s), waiting %ds", result.Class, waitSecs),
		}

	case classifier.ActionStop:
		state.Complete = true
		return Decision{
			Kind:   DecisionStop,
			Reason: fmt.Sprintf("Unrecoverable error: %s", failureReason),
		}
	}

	if state.ShouldEscalate() {
		state.Complete = true
		return Decision{
			Kind:    DecisionEscalateHuman,
			Reason:  fmt.Sprintf("Recovery exhausted after %d attempts", state.Rounds),
			Summary: l.buildEscalationSummary(state, result),
		}
	}

	if _, repeated := l.Classifier.DetectRepeatedPattern(3); repeated {
		state.Complete = true
		return Decision{
			Kind:    DecisionEscalateHuman,
			Reason:  "Repeated error pattern detected",
			Summary: l.buildEscalationSummary(state, result),
		}
	}

	state.recordRound(result.Class)

	role := result.RecommendedAgent
	if !result.HasRecommendation {
		role = dispatch.RoleDeepReasoning
	}

	return Decision{
		Kind:            DecisionRetryWithAgent,
		Role:            role,
		Reason:          fmt.Sprintf("Recovery round %d of %d for %s error", state.Rounds, state.MaxRounds, result.Class),
		PromptAdditions: l.buildPromptAdditions(result, state),
	}
}

func (l *Loop) buildPromptAdditions(result classifier.Result, state *State) []string {
	var additions []string
	additions = append(additions, fmt.Sprintf("## Recovery Attempt %d of %d", state.Rounds, state.MaxRounds))
	additions = append(additions, result.Context)

	if len(state.History) > 0 {
		var b strings.Builder
		b.WriteString("### Prior Recovery Attempts\n")
		for _, attempt := range state.History {
			b.WriteString(fmt.Sprintf("- Attempt %d (%s): %s -> %s\n", attempt.Number, attempt.Role, attempt.ErrorClass, attempt.Outcome))
		}
		additions = append(additions, b.String())
	}

	additions = append(additions, fmt.Sprintf(`
### Recovery Instructions

You are recovering from a %s error.

1. Analyze the error carefully, don't just retry the same approach
2. Identify the root cause, not just the symptom
3. Propose a fix that addresses the root cause
4. Implement the fix
5. Verify by running the verify command

If you cannot fix the issue after analysis, signal [needs_human] with a clear explanation of what's blocking you.
`, result.Class))

	return additions
}

func (l *Loop) buildEscalationSummary(state *State, result classifier.Result) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("## Task %s Recovery Summary\n\n", state.TaskID))
	b.WriteString(fmt.Sprintf("**Error Class:** %s\n", result.Class))
	b.WriteString(fmt.Sprintf("**Recovery Duration:** %.1f hours\n", time.Since(state.StartedAt).Minutes()/60.0))
	b.WriteString(fmt.Sprintf("**Recovery Attempts:** %d\n\n", state.Rounds))

	if state.CurrentError != "" {
		excerpt := state.CurrentError
		if len(excerpt) > 500 {
			excerpt = excerpt[:500]
		}
		b.WriteString("### Latest Error\n```\n")
		b.WriteString(excerpt)
		b.WriteString("\n```\n\n")
	}

	if len(state.History) > 0 {
		b.WriteString("### Attempt History\n")
		for _, attempt := range state.History {
			b.WriteString(fmt.Sprintf("- **Attempt %d** (%s): %s -> %s\n", attempt.Number, attempt.Role, attempt.ErrorClass, attempt.Outcome))
		}
	}

	b.WriteString("\n### Recommended Actions\n")
	switch result.Class {
	case classifier.ClassPermission:
		b.WriteString("- Check credentials and authentication\n")
		b.WriteString("- Verify API tokens haven't expired\n")
	case classifier.ClassCompile:
		b.WriteString("- Review the compilation errors manually\n")
		b.WriteString("- Check for missing dependencies\n")
	case classifier.ClassLogic:
		b.WriteString("- Review failing tests for logical errors\n")
		b.WriteString("- Check assumptions in the implementation\n")
	default:
		b.WriteString("- Review the error logs carefully\n")
		b.WriteString("- Check environment configuration\n")
	}

	return b.String()
}

// MarkSuccess records that the most recent recovery round fixed the task.
func (l *Loop) MarkSuccess(taskID string) {
	if s, ok := l.states[taskID]; ok {
		s.CompleteAttempt(true)
	}
}

// MarkFailure records that the most recent recovery round did not fix the task.
func (l *Loop) MarkFailure(taskID string) {
	if s, ok := l.states[taskID]; ok {
		s.CompleteAttempt(false)
	}
}

// Cleanup discards recovery state for a task once it leaves the recovery path.
func (l *Loop) Cleanup(taskID string) {
	delete(l.states, taskID)
}

// StateFor returns the recovery state tracked for a task, if any.
func (l *Loop) StateFor(taskID string) (*State, bool) {
	s, ok := l.states[taskID]
	return s, ok
}

// LastClassification returns the classifier.Result computed the last time
// Evaluate ran for taskID, without re-invoking the classifier. Classify has
// a side effect (it feeds DetectRepeatedPattern's history), so any caller
// that only wants to redisplay a failure already evaluated this tick must
// read it from here rather than classifying the same message again.
func (l *Loop) LastClassification(taskID string) (classifier.Result, bool) {
	s, ok := l.states[taskID]
	if !ok {
		return classifier.Result{}, false
	}
	return s.LastResult, true
}

// ActiveStates returns every recovery state that has not completed.
func (l *Loop) ActiveStates() []*State {
	var out []*State
	for _, s := range l.states {
		if !s.Complete {
			out = append(out, s)
		}
	}
	return out
}

// IsRecoverableFailure reports whether reason's error class can plausibly
// be fixed by an agent, using a scratch classifier so it never mutates
// history shared with a live Loop.
func IsRecoverableFailure(reason string) bool {
	c := classifier.New()
	result := c.Classify(reason)
	return result.Class.IsAgentFixable()
}

package task

import (
	"testing"

	"github.com/othala/orchd/internal/dispatch"
)

func TestStateStringRoundTripsThroughParseState(t *testing.T) {
	for _, s := range AllStates() {
		parsed, err := ParseState(s.String())
		if err != nil {
			t.Errorf("ParseState(%q) returned error: %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("ParseState(%q) = %v, want %v", s.String(), parsed, s)
		}
	}
}

func TestParseStateRejectsUnknown(t *testing.T) {
	if _, err := ParseState("not-a-state"); err == nil {
		t.Error("expected an error for an unrecognised state string")
	}
}

func TestCanTransitionFollowsTheStateMachine(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Queued, Initializing, true},
		{Queued, Chatting, false},
		{Initializing, Chatting, true},
		{Chatting, Ready, true},
		{Chatting, Stopped, true},
		{Chatting, Chatting, false},
		{Stopped, Chatting, true},
		{Stopped, Ready, false},
		{Ready, Submitting, true},
		{Ready, Restacking, true},
		{Submitting, AwaitingMerge, true},
		{Restacking, Submitting, true},
		{AwaitingMerge, Merged, true},
		{Merged, Chatting, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(Merged) {
		t.Error("Merged should be terminal")
	}
	if IsTerminal(Chatting) {
		t.Error("Chatting should not be terminal")
	}
	if IsTerminal(Stopped) {
		t.Error("Stopped should not be terminal; it can resume to Chatting")
	}
}

func TestAddFailedModelDedupes(t *testing.T) {
	tk := &Task{}
	tk.AddFailedModel(dispatch.ModelClaude)
	tk.AddFailedModel(dispatch.ModelCodex)
	tk.AddFailedModel(dispatch.ModelClaude)

	if len(tk.FailedModels) != 2 {
		t.Fatalf("expected 2 distinct failed models, got %d: %v", len(tk.FailedModels), tk.FailedModels)
	}
	if tk.FailedModels[0] != dispatch.ModelClaude || tk.FailedModels[1] != dispatch.ModelCodex {
		t.Errorf("unexpected failed model order: %v", tk.FailedModels)
	}
}

func TestExhaustedRetriesUsesDefaultWhenMaxRetriesUnset(t *testing.T) {
	tk := &Task{RetryCount: DefaultMaxRetries - 1}
	if tk.ExhaustedRetries() {
		t.Fatal("should not be exhausted one attempt before the default ceiling")
	}
	tk.RetryCount = DefaultMaxRetries
	if !tk.ExhaustedRetries() {
		t.Fatal("expected exhausted at the default ceiling")
	}
}

func TestExhaustedRetriesRespectsExplicitMaxRetries(t *testing.T) {
	tk := &Task{RetryCount: 1, MaxRetries: 1}
	if !tk.ExhaustedRetries() {
		t.Fatal("expected exhausted once retry_count reaches an explicit max_retries")
	}
	tk.MaxRetries = 5
	if tk.ExhaustedRetries() {
		t.Fatal("should not be exhausted below a higher explicit max_retries")
	}
}

func TestEventKindString(t *testing.T) {
	if EventMarkedReady.String() != "marked_ready" {
		t.Errorf("expected marked_ready, got %q", EventMarkedReady.String())
	}
	if EventKind(999).String() != "unknown" {
		t.Errorf("expected unknown for an out-of-range kind, got %q", EventKind(999).String())
	}
}

func TestNewIDProducesDistinctNonEmptyValues(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty IDs")
	}
	if a == b {
		t.Error("expected two calls to NewID to produce distinct values")
	}
}

func TestAllStatesCoversEveryAllowedTransitionKey(t *testing.T) {
	states := AllStates()
	if len(states) != 9 {
		t.Fatalf("expected 9 states, got %d", len(states))
	}
	seen := make(map[State]bool)
	for _, s := range states {
		seen[s] = true
	}
	for from := range allowedTransitions {
		if !seen[from] {
			t.Errorf("AllStates() is missing %v, which appears in allowedTransitions", from)
		}
	}
}

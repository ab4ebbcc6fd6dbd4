// Package adapter translates a generic "spawn an agent" request into a
// concrete CLI invocation. This is the capability the supervisor consumes;
// it owns no process lifecycle of its own.
package adapter

import (
	"fmt"
	"time"

	"github.com/othala/orchd/internal/dispatch"
)

// Request is the agent spawn contract: everything needed to build an
// invocation record for one epoch (one spawn-to-exit run of an agent).
type Request struct {
	TaskID    string
	RepoID    string
	Model     dispatch.ModelKind
	RepoPath  string
	Prompt    string
	Timeout   time.Duration
	ExtraArgs []string
	Env       map[string]string
}

// Command is the invocation record an Adapter produces: an executable path,
// argv, and an environment overlay applied on top of the process's own
// environment.
type Command struct {
	Executable string
	Args       []string
	Env        map[string]string
}

// Adapter builds concrete CLI invocations for one model family.
type Adapter interface {
	// Name identifies the adapter, used in logs and config overrides.
	Name() string
	// BuildCommand constructs a non-interactive invocation: the prompt is
	// delivered via argv/stdin as the adapter sees fit, stdin is otherwise closed.
	BuildCommand(req Request) Command
	// BuildInteractiveCommand constructs an invocation whose stdin stays open
	// for follow-up messages after the initial prompt.
	BuildInteractiveCommand(req Request) Command
	// DetectSignal recognizes any adapter-specific completion markers beyond
	// the two the supervisor always understands ([patch_ready], [needs_human]).
	DetectSignal(line string) (Signal, bool)
}

// Signal is an adapter-specific marker found in a line of agent output.
type Signal int

const (
	SignalNone Signal = iota
	SignalPatchReady
	SignalNeedsHuman
)

var registry = map[dispatch.ModelKind]func() Adapter{
	dispatch.ModelClaude: func() Adapter { return claudeAdapter{} },
	dispatch.ModelCodex:  func() Adapter { return codexAdapter{} },
	dispatch.ModelGemini: func() Adapter { return geminiAdapter{} },
}

// DefaultAdapterFor returns the built-in adapter for a model kind.
func DefaultAdapterFor(model dispatch.ModelKind) (Adapter, error) {
	factory, ok := registry[model]
	if !ok {
		return nil, fmt.Errorf("adapter: no adapter registered for model %s", model)
	}
	return factory(), nil
}

// commonArgs returns the adapter's base args followed by the caller-provided
// extra args.
func commonArgs(req Request, base []string) []string {
	args := append([]string{}, base...)
	args = append(args, req.ExtraArgs...)
	return args
}

package supervisor

import (
	"os/exec"
	"time"

	"github.com/othala/orchd/internal/dispatch"
)

// lineBufferSize bounds the channel each session's I/O reader goroutines
// write into, matching the "bounded channel owned by the session" contract.
const lineBufferSize = 4096

// agentSession is a live subprocess bound to one task.
type agentSession struct {
	cmd       *exec.Cmd
	outputCh  chan string
	inputCh   chan string // nil unless spawned interactively
	taskID    string
	model     dispatch.ModelKind
	startedAt time.Time
	patchReady bool
	needsHuman bool
	signalAt  *time.Time // set when either flag first went true
}

// AgentOutcome is the result reported when an agent session finishes.
type AgentOutcome struct {
	TaskID       string
	Model        dispatch.ModelKind
	ExitCode     int
	HasExitCode  bool
	PatchReady   bool
	NeedsHuman   bool
	Success      bool
	DurationSecs int64
}

// OutputChunk is a batch of output lines drained from one session in a
// single poll.
type OutputChunk struct {
	TaskID string
	Model  dispatch.ModelKind
	Lines  []string
}

// PollResult is the result of one non-blocking poll cycle.
type PollResult struct {
	Output    []OutputChunk
	Completed []AgentOutcome
}

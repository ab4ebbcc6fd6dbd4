package daemon

import (
	"time"

	"github.com/othala/orchd/internal/context"
	"github.com/othala/orchd/internal/dispatch"
	"github.com/othala/orchd/internal/pipeline"
)

// Config bounds one daemon's behaviour: the repository it drives, the
// verify command hint, and the prompt assembly / context-staleness
// tunables. VerifyCommand is carried here but no daemon code reads it.
type Config struct {
	RepoRoot       string
	RepoID         string
	EnabledModels  []dispatch.ModelKind
	VerifyCommand  string
	PromptConfig   context.PromptConfig
	RegenCooldown  time.Duration
	DispatchConfig dispatch.Config
}

// DefaultConfig mirrors the reference policy for a single-repo daemon.
func DefaultConfig(repoRoot, repoID string) Config {
	return Config{
		RepoRoot:       repoRoot,
		RepoID:         repoID,
		EnabledModels:  []dispatch.ModelKind{dispatch.ModelClaude, dispatch.ModelCodex, dispatch.ModelGemini},
		VerifyCommand:  "",
		PromptConfig:   context.DefaultPromptConfig(),
		RegenCooldown:  10 * time.Minute,
		DispatchConfig: dispatch.DefaultConfig(),
	}
}

// State is the in-memory state carried between ticks: the live pipeline
// per task, and the bookkeeping needed to decide when context regeneration
// should fire.
type State struct {
	Pipelines map[string]*pipeline.State

	contextWatcher    *context.Watcher
	lastRegenAt       time.Time
	contextWatchSetup bool
}

// NewState returns an empty per-daemon state.
func NewState() *State {
	return &State{Pipelines: make(map[string]*pipeline.State)}
}

// ensureWatcher lazily starts the context directory watcher on first use;
// a missing .othala/context directory is not an error, just a predicate
// that is never stale.
func (s *State) ensureWatcher(repoRoot string) {
	if s.contextWatchSetup {
		return
	}
	s.contextWatchSetup = true
	if w, ok := context.WatchContextDir(repoRoot); ok {
		s.contextWatcher = w
	}
}

// Close releases any watcher resources held by this state.
func (s *State) Close() {
	if s.contextWatcher != nil {
		_ = s.contextWatcher.Close()
	}
}

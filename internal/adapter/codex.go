package adapter

import "strings"

// codexAdapter drives the `codex` CLI.
type codexAdapter struct{}

func (codexAdapter) Name() string { return "codex" }

func (codexAdapter) BuildCommand(req Request) Command {
	args := commonArgs(req, []string{"exec", "--full-auto", req.Prompt})
	return Command{Executable: "codex", Args: args, Env: req.Env}
}

func (codexAdapter) BuildInteractiveCommand(req Request) Command {
	args := commonArgs(req, []string{})
	return Command{Executable: "codex", Args: args, Env: req.Env}
}

func (codexAdapter) DetectSignal(line string) (Signal, bool) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "[patch_ready]"):
		return SignalPatchReady, true
	case strings.Contains(lower, "[needs_human]"):
		return SignalNeedsHuman, true
	default:
		return SignalNone, false
	}
}

package adapter

import "strings"

// geminiAdapter drives the `gemini` CLI, used for the multimodal role.
type geminiAdapter struct{}

func (geminiAdapter) Name() string { return "gemini" }

func (geminiAdapter) BuildCommand(req Request) Command {
	args := commonArgs(req, []string{"--prompt", req.Prompt, "--yolo"})
	return Command{Executable: "gemini", Args: args, Env: req.Env}
}

func (geminiAdapter) BuildInteractiveCommand(req Request) Command {
	args := commonArgs(req, []string{"--yolo"})
	return Command{Executable: "gemini", Args: args, Env: req.Env}
}

func (geminiAdapter) DetectSignal(line string) (Signal, bool) {
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

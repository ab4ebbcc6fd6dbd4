package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/othala/orchd/internal/adapter"
	"github.com/othala/orchd/internal/dispatch"
)

// gracePeriod is how long the supervisor waits after a completion signal
// before SIGKILLing a process that has not exited on its own. The Rust
// original pins this at 5s; any value in [2,10]s preserves the documented
// behaviour.
const gracePeriod = 5 * time.Second

// Supervisor owns the set of live agent sessions, keyed by task id. It is
// single-threaded by contract: every exported method is expected to be
// called from one goroutine (the daemon tick loop). Parallelism is confined
// to the per-session stdout/stderr reader goroutines, which communicate
// strictly through each session's output channel.
type Supervisor struct {
	sessions     map[string]*agentSession
	adapters     map[string]adapter.Adapter
	defaultModel dispatch.ModelKind
}

// New returns an empty Supervisor using defaultModel when Spawn is called
// without an explicit model override.
func New(defaultModel dispatch.ModelKind) *Supervisor {
	return &Supervisor{
		sessions:     make(map[string]*agentSession),
		adapters:     make(map[string]adapter.Adapter),
		defaultModel: defaultModel,
	}
}

// HasSession reports whether a live session exists for taskID.
func (s *Supervisor) HasSession(taskID string) bool {
	_, ok := s.sessions[taskID]
	return ok
}

// SpawnParams bundles the agent spawn contract of spec.md §6.
type SpawnParams struct {
	TaskID   string
	RepoID   string
	RepoPath string
	Prompt   string
	Model    *dispatch.ModelKind // nil uses the supervisor default
	Timeout  time.Duration
}

func (p SpawnParams) resolveModel(fallback dispatch.ModelKind) dispatch.ModelKind {
	if p.Model != nil {
		return *p.Model
	}
	return fallback
}

// Spawn launches a non-interactive agent process for a task: stdin is
// closed, stdout and stderr are captured line-by-line into the session's
// output channel. Returns an error only on spawn failure.
func (s *Supervisor) Spawn(params SpawnParams) error {
	model := params.resolveModel(s.defaultModel)
	a, err := adapter.DefaultAdapterFor(model)
	if err != nil {
		return err
	}

	timeout := params.Timeout
	if timeout == 0 {
		timeout = 600 * time.Second
	}

	req := adapter.Request{
		TaskID:   params.TaskID,
		RepoID:   params.RepoID,
		Model:    model,
		RepoPath: params.RepoPath,
		Prompt:   params.Prompt,
		Timeout:  timeout,
	}
	built := a.BuildCommand(req)

	cmd := exec.Command(built.Executable, built.Args...)
	cmd.Dir = params.RepoPath
	cmd.Env = buildEnv(built.Env)
	cmd.Stdin = nil

	outputCh := make(chan string, lineBufferSize)
	if err := pipeChildOutput(cmd, outputCh); err != nil {
		return fmt.Errorf("supervisor: piping output for task %s: %w", params.TaskID, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawning task %s: %w", params.TaskID, err)
	}

	s.sessions[params.TaskID] = &agentSession{
		cmd:       cmd,
		outputCh:  outputCh,
		taskID:    params.TaskID,
		model:     model,
		startedAt: time.Now(),
	}
	s.adapters[params.TaskID] = a
	return nil
}

// SpawnInteractive is identical to Spawn but pipes stdin, bridged by a
// background writer goroutine; initialPrompt is written as the first line.
func (s *Supervisor) SpawnInteractive(params SpawnParams) error {
	model := params.resolveModel(s.defaultModel)
	a, err := adapter.DefaultAdapterFor(model)
	if err != nil {
		return err
	}

	timeout := params.Timeout
	if timeout == 0 {
		timeout = 600 * time.Second
	}

	req := adapter.Request{
		TaskID:   params.TaskID,
		RepoID:   params.RepoID,
		Model:    model,
		RepoPath: params.RepoPath,
		Prompt:   params.Prompt,
		Timeout:  timeout,
	}
	built := a.BuildInteractiveCommand(req)

	cmd := exec.Command(built.Executable, built.Args...)
	cmd.Dir = params.RepoPath
	cmd.Env = buildEnv(built.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("supervisor: opening stdin for task %s: %w", params.TaskID, err)
	}

	outputCh := make(chan string, lineBufferSize)
	if err := pipeChildOutput(cmd, outputCh); err != nil {
		return fmt.Errorf("supervisor: piping output for task %s: %w", params.TaskID, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawning task %s: %w", params.TaskID, err)
	}

	inputCh := make(chan string, 64)
	go func() {
		for msg := range inputCh {
			if _, err := fmt.Fprintln(stdin, msg); err != nil {
				return
			}
		}
	}()
	inputCh <- req.Prompt

	s.sessions[params.TaskID] = &agentSession{
		cmd:       cmd,
		outputCh:  outputCh,
		inputCh:   inputCh,
		taskID:    params.TaskID,
		model:     model,
		startedAt: time.Now(),
	}
	s.adapters[params.TaskID] = a
	return nil
}

// spawnRaw launches executable directly under taskID, bypassing the adapter
// layer. It exists for tests that need a real short-lived child process
// (echo, sleep, sh -c) without standing up a fake CLI on PATH.
func (s *Supervisor) spawnRaw(taskID, executable string, args []string) error {
	cmd := exec.Command(executable, args...)
	cmd.Stdin = nil

	outputCh := make(chan string, lineBufferSize)
	if err := pipeChildOutput(cmd, outputCh); err != nil {
		return fmt.Errorf("supervisor: piping output for task %s: %w", taskID, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawning task %s: %w", taskID, err)
	}

	s.sessions[taskID] = &agentSession{
		cmd:       cmd,
		outputCh:  outputCh,
		taskID:    taskID,
		model:     s.defaultModel,
		startedAt: time.Now(),
	}
	return nil
}

// SendInput writes a follow-up message to an interactive session's stdin.
// Fails if no session exists for taskID, or if it is not interactive.
func (s *Supervisor) SendInput(taskID, message string) error {
	session, ok := s.sessions[taskID]
	if !ok {
		return fmt.Errorf("supervisor: no session for task %s", taskID)
	}
	if session.inputCh == nil {
		return fmt.Errorf("supervisor: session for %s is not interactive", taskID)
	}
	select {
	case session.inputCh <- message:
		return nil
	default:
		return fmt.Errorf("supervisor: stdin channel full for task %s", taskID)
	}
}

// Poll is non-blocking: it drains every session's output channel, detects
// signals, kills sessions past their post-signal grace period, and collects
// outcomes for sessions whose process has exited.
func (s *Supervisor) Poll() PollResult {
	var result PollResult
	var finished []string

	for taskID, session := range s.sessions {
		var lines []string
		draining := true
		for draining {
			select {
			case line, ok := <-session.outputCh:
				if !ok {
					draining = false
					break
				}
				lines = append(lines, line)
				s.applySignal(taskID, session, line)
			default:
				draining = false
			}
		}
		if len(lines) > 0 {
			result.Output = append(result.Output, OutputChunk{
				TaskID: taskID,
				Model:  session.model,
				Lines:  lines,
			})
		}

		if session.signalAt != nil && time.Since(*session.signalAt) > gracePeriod {
			_ = session.cmd.Process.Kill()
		}

		exited, exitCode, hasExitCode := tryWait(session.cmd)
		if exited {
			success := session.patchReady || (hasExitCode && exitCode == 0)
			result.Completed = append(result.Completed, AgentOutcome{
				TaskID:       taskID,
				Model:        session.model,
				ExitCode:     exitCode,
				HasExitCode:  hasExitCode,
				PatchReady:   session.patchReady,
				NeedsHuman:   session.needsHuman,
				Success:      success,
				DurationSecs: int64(time.Since(session.startedAt).Seconds()),
			})
			finished = append(finished, taskID)
		}
	}

	for _, taskID := range finished {
		if session, ok := s.sessions[taskID]; ok && session.inputCh != nil {
			close(session.inputCh)
		}
		delete(s.sessions, taskID)
		delete(s.adapters, taskID)
	}

	return result
}

func (s *Supervisor) applySignal(taskID string, session *agentSession, line string) {
	signal, found := detectCommonSignal(line)
	if !found {
		if a, ok := s.adapters[taskID]; ok {
			if sig, ok := a.DetectSignal(line); ok {
				signal = sig
				found = true
			}
		}
	}
	if !found {
		return
	}
	switch signal {
	case adapter.SignalPatchReady:
		session.patchReady = true
	case adapter.SignalNeedsHuman:
		session.needsHuman = true
	}
	if session.signalAt == nil {
		now := time.Now()
		session.signalAt = &now
	}
}

// detectCommonSignal recognizes the two markers every adapter must honour.
// No other interpretation of agent output happens at the supervisor level.
func detectCommonSignal(line string) (adapter.Signal, bool) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "[patch_ready]"):
		return adapter.SignalPatchReady, true
	case strings.Contains(lower, "[needs_human]"):
		return adapter.SignalNeedsHuman, true
	default:
		return adapter.SignalNone, false
	}
}

// tryWait is a non-blocking check of whether cmd's process has exited,
// reaping it via wait4(WNOHANG) so it does not linger as a zombie.
func tryWait(cmd *exec.Cmd) (exited bool, code int, hasCode bool) {
	if cmd.ProcessState != nil {
		return true, cmd.ProcessState.ExitCode(), true
	}
	if cmd.Process == nil {
		return false, 0, false
	}

	var status syscall.WaitStatus
	pid, err := syscall.Wait4(cmd.Process.Pid, &status, syscall.WNOHANG, nil)
	if err != nil || pid == 0 {
		return false, 0, false
	}
	return true, status.ExitStatus(), true
}

// Stop kills and waits on the agent session for a task, if one exists.
func (s *Supervisor) Stop(taskID string) {
	session, ok := s.sessions[taskID]
	if !ok {
		return
	}
	_ = session.cmd.Process.Kill()
	_, _ = session.cmd.Process.Wait()
	if session.inputCh != nil {
		close(session.inputCh)
	}
	delete(s.sessions, taskID)
	delete(s.adapters, taskID)
}

// StopAll kills and waits on every live agent session.
func (s *Supervisor) StopAll() {
	for taskID := range s.sessions {
		s.Stop(taskID)
	}
}

func buildEnv(overlay map[string]string) []string {
	base := envWithoutClaudecode()
	for k, v := range overlay {
		base = append(base, k+"="+v)
	}
	return base
}

// envWithoutClaudecode returns the process environment with CLAUDECODE
// unset: a historical marker one adapter relies on to detect nested
// invocation, explicitly unset before every agent launch per spec.md §6.
func envWithoutClaudecode() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

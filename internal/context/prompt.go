package context

import (
	"fmt"
	"strings"

	"github.com/othala/orchd/internal/classifier"
)

// RetryContext carries the prior-failure history for a retried task, if
// this is not the task's first attempt.
type RetryContext struct {
	AttemptNumber   int
	PreviousFailure string
	Classification  classifier.Result
}

// PromptConfig bounds prompt assembly.
type PromptConfig struct {
	Load         LoadConfig
	SourceBudget int
}

// DefaultPromptConfig matches the defaults used across the orchestrator.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{Load: DefaultLoadConfig(), SourceBudget: 64_000}
}

// Assignment describes the task the prompt is being built for.
type Assignment struct {
	TaskID string
	Title  string
}

// AssemblePrompt builds the complete prompt delivered to an agent: repo
// context (if a context graph is present), the task assignment, the signal
// definitions an agent must emit, and — for retries — an error-analysis
// section. A missing context directory degrades to an empty context
// section rather than an error.
func AssemblePrompt(repoRoot string, assignment Assignment, retry *RetryContext, cfg PromptConfig) string {
	var sb strings.Builder

	if graph, ok := LoadGraph(repoRoot, cfg.Load); ok {
		sb.WriteString(RenderWithSources(graph, repoRoot, cfg.SourceBudget))
		sb.WriteByte('\n')
	}

	sb.WriteString(renderAssignment(assignment))
	sb.WriteByte('\n')
	sb.WriteString(renderSignalDefinitions())
	sb.WriteByte('\n')

	if retry != nil {
		sb.WriteString(renderRetryContext(*retry))
	}

	return sb.String()
}

func renderAssignment(a Assignment) string {
	var sb strings.Builder
	sb.WriteString("# Task Assignment\n\n")
	sb.WriteString(fmt.Sprintf("**Task ID:** %s\n", a.TaskID))
	sb.WriteString(fmt.Sprintf("**Title:** %s\n", a.Title))
	return sb.String()
}

func renderSignalDefinitions() string {
	return `# Signals

When your change is ready to verify, emit ` + "`[patch_ready]`" + ` on its own line.
If you are blocked and need a human to intervene, emit ` + "`[needs_human]`" + ` on its own line along with an explanation.
`
}

func renderRetryContext(retry RetryContext) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Retry Context (attempt %d)\n\n", retry.AttemptNumber))

	result := retry.Classification
	sb.WriteString(fmt.Sprintf("**Error Class:** %s\n", result.Class))
	if len(result.MatchedKeywords) > 0 {
		sb.WriteString(fmt.Sprintf("**Matched Tokens:** %s\n", strings.Join(result.MatchedKeywords, ", ")))
	}
	sb.WriteByte('\n')
	sb.WriteString("## Error Analysis\n\n")
	sb.WriteString(result.Context)
	sb.WriteByte('\n')
	sb.WriteString(classRecoveryPlaybook(result.Class))
	sb.WriteByte('\n')

	sb.WriteString("## Previous Failure\n\n```\n")
	sb.WriteString(firstLines(retry.PreviousFailure, 20))
	sb.WriteString("\n```\n")

	return sb.String()
}

// classRecoveryPlaybook returns the class-specific recovery guidance for the
// agent prompt's retry section. The recovery loop's human-facing escalation
// summary keeps its own, separately worded per-class list.
func classRecoveryPlaybook(class classifier.Class) string {
	var sb strings.Builder
	sb.WriteString("### Recovery Playbook\n")
	switch class {
	case classifier.ClassPermission:
		sb.WriteString("- Check credentials and authentication\n")
		sb.WriteString("- Verify API tokens haven't expired\n")
	case classifier.ClassCompile:
		sb.WriteString("- Review the compilation errors line by line\n")
		sb.WriteString("- Check for missing or mismatched dependencies\n")
	case classifier.ClassConfig, classifier.ClassEnvironment:
		sb.WriteString("- Re-check configuration values and environment variables\n")
		sb.WriteString("- Confirm the required tooling is installed\n")
	case classifier.ClassLogic:
		sb.WriteString("- Review failing tests for logical errors\n")
		sb.WriteString("- Re-check assumptions in the implementation\n")
	case classifier.ClassNetwork:
		sb.WriteString("- Retry once connectivity is confirmed\n")
	case classifier.ClassGit:
		sb.WriteString("- Resolve the conflicting state before retrying\n")
	default:
		sb.WriteString("- Review the error output carefully before retrying\n")
	}
	return sb.String()
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n")
}

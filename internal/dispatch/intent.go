package dispatch

import "strings"

// TaskType is the coarse kind of work a task represents, set at creation time.
type TaskType int

const (
	TaskImplement TaskType = iota
	TaskTestSpecWrite
	TaskTestValidate
	TaskOrchestrate
)

// Intent is the classified purpose of a task, used to pick a role.
type Intent int

const (
	IntentImplementation Intent = iota
	IntentBugFix
	IntentRefactor
	IntentDocumentation
	IntentReview
	IntentTesting
	IntentErrorRecovery
	IntentArchitecture
	IntentQuickFix
	IntentVisual
	IntentUnknown
)

// ClassifyIntent derives a task's intent from its title, declared type, and
// whether this dispatch is a retry. Retry always wins; explicit task types
// come next; keyword matches on the title follow in priority order;
// Implementation is the default.
func ClassifyIntent(title string, taskType TaskType, isRetry bool) Intent {
	lower := strings.ToLower(title)

	if isRetry {
		return IntentErrorRecovery
	}

	switch taskType {
	case TaskTestSpecWrite, TaskTestValidate:
		return IntentTesting
	case TaskOrchestrate:
		return IntentArchitecture
	case TaskImplement:
		// fall through to keyword classification
	}

	switch {
	case containsAny(lower, "document", "readme", "comment", "docs"):
		return IntentDocumentation
	case containsAny(lower, "review", "audit", "check"):
		return IntentReview
	case containsAny(lower, "typo", "simple", "minor", "small"):
		return IntentQuickFix
	case containsAny(lower, "bug", "issue", "error", "broken", "fix"):
		return IntentBugFix
	case containsAny(lower, "refactor", "clean", "restructure", "reorganize"):
		return IntentRefactor
	case containsAny(lower, "test", "spec", "coverage"):
		return IntentTesting
	case containsAny(lower, "architect", "design", "structure", "plan"):
		return IntentArchitecture
	case containsAny(lower, "rename"):
		return IntentQuickFix
	case containsAny(lower, "image", "diagram", "visual", "screenshot"):
		return IntentVisual
	default:
		return IntentImplementation
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// EstimateComplexity scores a bug-fix title on [0,1] from keyword weights.
// Used to decide whether a bug fix needs the Deep-Reasoning role instead of
// the default Implementation role.
func EstimateComplexity(title string) float64 {
	lower := strings.ToLower(title)
	score := 0.5

	if containsAny(lower, "complex", "refactor", "redesign", "architect") {
		score += 0.3
	}
	if containsAny(lower, "performance", "optimize", "scale") {
		score += 0.2
	}
	if containsAny(lower, "security", "auth", "crypto") {
		score += 0.2
	}
	if containsAny(lower, "simple", "typo", "rename", "minor") {
		score -= 0.3
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

package dispatch

import (
	"fmt"
	"log"
)

// TaskInput is the subset of a task's identity the dispatcher needs. It is
// deliberately narrow (rather than importing the full task entity) so this
// package has no dependency on the task/store layer.
type TaskInput struct {
	ID     string
	RepoID string
	Title  string
	Type   TaskType
}

// Decision is the result of routing a task to an agent role.
type Decision struct {
	Role             Role
	Confidence       float64
	Reasoning        string
	Fallback         Role
	HasFallback      bool
	ContextAdditions []string
}

// Config tunes the dispatcher's routing policy.
type Config struct {
	SisyphusErrorRecovery       bool
	HephaestusCodeGen           bool
	ExplorerQuickFixes          bool
	DeepReasoningComplexityThreshold float64
	RepoOverrides               map[string]Role
}

// DefaultConfig mirrors the reference policy: all specialist routes enabled,
// complexity threshold 0.7, no repo overrides.
func DefaultConfig() Config {
	return Config{
		SisyphusErrorRecovery:            true,
		HephaestusCodeGen:                true,
		ExplorerQuickFixes:               true,
		DeepReasoningComplexityThreshold: 0.7,
		RepoOverrides:                    map[string]Role{},
	}
}

// Dispatcher routes tasks to agent roles based on intent, repo facts, and
// retry state.
type Dispatcher struct {
	Config Config
}

// New returns a Dispatcher with the given config.
func New(config Config) *Dispatcher {
	return &Dispatcher{Config: config}
}

// DispatchWithFallback never panics out to the caller: if Dispatch panics
// for any reason, it recovers and returns a safe Deep-Reasoning decision
// instead, because a daemon tick that panics once stops every task.
func (d *Dispatcher) DispatchWithFallback(task TaskInput, repoCtx RepoContext, isRetry bool, failureReason string) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatch] WARNING: dispatch router panicked for task %s: %v. Using fallback agent.", task.ID, r)
			decision = Decision{
				Role:        RoleDeepReasoning,
				Confidence:  0.5,
				Reasoning:   "Dispatch router failed; using safe fallback (deep reasoning)",
				Fallback:    RoleFastExploration,
				HasFallback: true,
				ContextAdditions: []string{
					"NOTE: Agent dispatch router encountered an error. Using fallback routing.",
				},
			}
		}
	}()
	return d.Dispatch(task, repoCtx, isRetry, failureReason)
}

// Dispatch routes a single task to an agent role.
func (d *Dispatcher) Dispatch(task TaskInput, repoCtx RepoContext, isRetry bool, failureReason string) Decision {
	if role, ok := d.Config.RepoOverrides[task.RepoID]; ok {
		return Decision{
			Role:       role,
			Confidence: 1.0,
			Reasoning:  fmt.Sprintf("Repo override: %s -> %s", task.RepoID, role),
		}
	}

	intent := ClassifyIntent(task.Title, task.Type, isRetry)

	switch intent {
	case IntentErrorRecovery:
		if d.Config.SisyphusErrorRecovery {
			context := []string{"This is a retry attempt. Analyze the previous failure carefully."}
			if failureReason != "" {
				context = append(context, fmt.Sprintf("Previous failure reason: %s", failureReason))
			}
			return Decision{
				Role:             RoleDeepReasoning,
				Confidence:       0.95,
				Reasoning:        "Error recovery requires deep analysis",
				Fallback:         RoleImplementation,
				HasFallback:      true,
				ContextAdditions: context,
			}
		}
		return Decision{Role: RoleImplementation, Confidence: 0.6, Reasoning: "Default error recovery"}

	case IntentImplementation:
		if d.Config.HephaestusCodeGen {
			return Decision{Role: RoleImplementation, Confidence: 0.9, Reasoning: "Code implementation", Fallback: RoleDeepReasoning, HasFallback: true}
		}
		return Decision{Role: RoleDeepReasoning, Confidence: 0.7, Reasoning: "Fallback implementation"}

	case IntentBugFix:
		complexity := EstimateComplexity(task.Title)
		if complexity > d.Config.DeepReasoningComplexityThreshold {
			return Decision{Role: RoleDeepReasoning, Confidence: 0.85, Reasoning: "Complex bug fix", Fallback: RoleImplementation, HasFallback: true}
		}
		return Decision{Role: RoleImplementation, Confidence: 0.8, Reasoning: "Standard bug fix", Fallback: RoleFastExploration, HasFallback: true}

	case IntentRefactor:
		return Decision{Role: RoleImplementation, Confidence: 0.85, Reasoning: "Refactoring", Fallback: RoleDocReview, HasFallback: true}

	case IntentDocumentation:
		return Decision{Role: RoleDocReview, Confidence: 0.9, Reasoning: "Documentation", Fallback: RoleFastExploration, HasFallback: true}

	case IntentReview:
		return Decision{Role: RoleDocReview, Confidence: 0.9, Reasoning: "Code review", Fallback: RoleDeepReasoning, HasFallback: true}

	case IntentTesting:
		return Decision{Role: RoleImplementation, Confidence: 0.8, Reasoning: "Test writing", Fallback: RoleDocReview, HasFallback: true}

	case IntentArchitecture:
		return Decision{Role: RoleArchitecture, Confidence: 0.85, Reasoning: "Architecture decisions", Fallback: RoleDeepReasoning, HasFallback: true}

	case IntentQuickFix:
		if d.Config.ExplorerQuickFixes {
			return Decision{Role: RoleFastExploration, Confidence: 0.9, Reasoning: "Quick fix", Fallback: RoleImplementation, HasFallback: true}
		}
		return Decision{Role: RoleImplementation, Confidence: 0.7, Reasoning: "Fallback quick fix"}

	case IntentVisual:
		return Decision{Role: RoleMultimodal, Confidence: 0.9, Reasoning: "Visual task", Fallback: RoleDeepReasoning, HasFallback: true}

	default: // IntentUnknown
		return Decision{Role: RoleImplementation, Confidence: 0.5, Reasoning: "Unknown intent, default to implementation", Fallback: RoleDeepReasoning, HasFallback: true}
	}
}

// NextFallback drives progressive escalation across retries. Returns
// (role, false) once the chain is exhausted.
func (d *Dispatcher) NextFallback(current Role, attempt int) (Role, bool) {
	switch {
	case current == RoleImplementation && attempt == 1:
		return RoleDeepReasoning, true
	case current == RoleFastExploration && attempt == 1:
		return RoleImplementation, true
	case current == RoleDocReview && attempt == 1:
		return RoleDeepReasoning, true
	case attempt == 2:
		return RoleDeepReasoning, true
	case current == RoleDeepReasoning && attempt == 3:
		return Role(0), false
	default:
		return Role(0), false
	}
}

// Package dispatch maps a task's intent, the repository's facts, and its
// retry state onto an agent role and a fallback chain.
package dispatch

// ModelKind is the underlying model family an agent role is backed by.
type ModelKind int

const (
	ModelClaude ModelKind = iota
	ModelCodex
	ModelGemini
)

func (m ModelKind) String() string {
	switch m {
	case ModelClaude:
		return "claude"
	case ModelCodex:
		return "codex"
	case ModelGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// Role is an agent persona: more than a raw model selection, it carries a
// prompt voice and, for the Claude-backed roles, a specific model tier.
type Role int

const (
	// RoleImplementation forges code: implementation and straightforward bug fixes.
	RoleImplementation Role = iota
	// RoleDeepReasoning handles complex problems and error recovery rounds.
	RoleDeepReasoning
	// RoleDocReview handles documentation, review, and clarity passes.
	RoleDocReview
	// RoleFastExploration handles quick fixes and rapid codebase exploration.
	RoleFastExploration
	// RoleArchitecture handles high-level design and architecture decisions.
	RoleArchitecture
	// RoleMultimodal handles visual/diagram analysis alongside code.
	RoleMultimodal
)

// Model returns the underlying model kind backing a role.
func (r Role) Model() ModelKind {
	switch r {
	case RoleImplementation:
		return ModelCodex
	case RoleDeepReasoning, RoleDocReview, RoleFastExploration:
		return ModelClaude
	case RoleArchitecture:
		return ModelCodex
	case RoleMultimodal:
		return ModelGemini
	default:
		return ModelClaude
	}
}

// Name is the stable identifier used in logs, config overrides, and events.
func (r Role) Name() string {
	switch r {
	case RoleImplementation:
		return "implementation"
	case RoleDeepReasoning:
		return "deep_reasoning"
	case RoleDocReview:
		return "doc_review"
	case RoleFastExploration:
		return "fast_exploration"
	case RoleArchitecture:
		return "architecture"
	case RoleMultimodal:
		return "multimodal"
	default:
		return "unknown"
	}
}

func (r Role) String() string { return r.Name() }

// ParseRole resolves a config-file role name (the same strings Name()
// produces) back into a Role. Unrecognised names fall back to
// RoleImplementation, matching the dispatcher's own safe default.
func ParseRole(name string) Role {
	switch name {
	case "implementation":
		return RoleImplementation
	case "deep_reasoning":
		return RoleDeepReasoning
	case "doc_review":
		return RoleDocReview
	case "fast_exploration":
		return RoleFastExploration
	case "architecture":
		return RoleArchitecture
	case "multimodal":
		return RoleMultimodal
	default:
		return RoleImplementation
	}
}

// Persona is the voice injected into the agent's system prompt.
func (r Role) Persona() string {
	switch r {
	case RoleImplementation:
		return "You are the Implementation Specialist. Forge code with precision and efficiency: focus on a working, minimal change and signal [patch_ready] once the verification command would pass."
	case RoleDeepReasoning:
		return "You are the Deep-Reasoning Specialist. You take on complex problems and error recovery with persistence: read the failure carefully, find the root cause, then act."
	case RoleDocReview:
		return "You are the Documentation/Review Specialist. Review code for correctness and clarity, and keep documentation accurate and maintainable."
	case RoleFastExploration:
		return "You are the Fast-Exploration Specialist. Move quickly: handle simple fixes and rapid codebase exploration without overthinking."
	case RoleArchitecture:
		return "You are the Architecture Specialist. Provide high-level design guidance: weigh structural tradeoffs before committing to an approach."
	case RoleMultimodal:
		return "You can reason over images, diagrams, and other visual content alongside code."
	default:
		return ""
	}
}

// ExtraArgs returns additional CLI flags the adapter should pass to pin a
// specific model tier for roles that share a model family.
func (r Role) ExtraArgs() []string {
	switch r {
	case RoleDeepReasoning:
		return []string{"--model", "opus"}
	case RoleDocReview:
		return []string{"--model", "sonnet"}
	case RoleFastExploration:
		return []string{"--model", "haiku"}
	default:
		return nil
	}
}

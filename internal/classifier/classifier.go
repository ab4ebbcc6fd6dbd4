// Package classifier maps a free-text failure message to an error class and
// a recommended recovery action, so the daemon can decide whether to retry,
// wait, re-dispatch to a different agent, or escalate to a human.
package classifier

import (
	"fmt"
	"strings"

	"github.com/othala/orchd/internal/dispatch"
)

// Class is the primary classification of a failure message.
type Class int

const (
	ClassCompile Class = iota
	ClassConfig
	ClassEnvironment
	ClassPermission
	ClassLogic
	ClassNetwork
	ClassResource
	ClassGit
	ClassAgent
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassCompile:
		return "compile"
	case ClassConfig:
		return "config"
	case ClassEnvironment:
		return "environment"
	case ClassPermission:
		return "permission"
	case ClassLogic:
		return "logic"
	case ClassNetwork:
		return "network"
	case ClassResource:
		return "resource"
	case ClassGit:
		return "git"
	case ClassAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// RequiresHuman reports whether this class can only be resolved by a human.
func (c Class) RequiresHuman() bool {
	return c == ClassPermission
}

// IsTransient reports whether a retry without intervention may succeed.
func (c Class) IsTransient() bool {
	return c == ClassNetwork || c == ClassResource
}

// IsAgentFixable reports whether an agent round can plausibly resolve this class.
func (c Class) IsAgentFixable() bool {
	switch c {
	case ClassCompile, ClassConfig, ClassEnvironment, ClassLogic, ClassGit, ClassAgent:
		return true
	default:
		return false
	}
}

// RecommendedAgent returns the agent role best suited to fix this class of
// error, or false if no agent should be dispatched (human-only or wait).
func (c Class) RecommendedAgent() (dispatch.Role, bool) {
	switch c {
	case ClassCompile:
		return dispatch.RoleImplementation, true
	case ClassConfig, ClassEnvironment, ClassGit:
		return dispatch.RoleFastExploration, true
	case ClassLogic, ClassAgent, ClassUnknown:
		return dispatch.RoleDeepReasoning, true
	default:
		return dispatch.Role(0), false
	}
}

// RetryDelaySecs returns the recommended wait before retrying a transient class.
func (c Class) RetryDelaySecs() (int, bool) {
	switch c {
	case ClassNetwork:
		return 30, true
	case ClassResource:
		return 120, true
	default:
		return 0, false
	}
}

// Action is the recovery action recommended for a classification.
type Action int

const (
	ActionRetry Action = iota
	ActionRetryWithAgent
	ActionWaitAndRetry
	ActionEscalateHuman
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionRetryWithAgent:
		return "retry_with_agent"
	case ActionWaitAndRetry:
		return "wait_and_retry"
	case ActionEscalateHuman:
		return "escalate_human"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Result is the outcome of classifying one failure message.
type Result struct {
	Class             Class
	Confidence        float64
	MatchedKeywords   []string
	Action            Action
	RecommendedAgent  dispatch.Role
	HasRecommendation bool
	Context           string
}

type pattern struct {
	keywords []string
	class    Class
	priority int
}

// patterns is the static classification table. Priority order (higher first)
// breaks ties when a message matches keywords from more than one class;
// match count is the secondary tiebreak.
var patterns = []pattern{
	{[]string{"error[e", "cannot find type", "expected", "mismatched types"}, ClassCompile, 10},
	{[]string{"unresolved import", "use of undeclared", "not found in scope"}, ClassCompile, 10},
	{[]string{"lifetime", "borrowed", "'static", "does not live long enough"}, ClassCompile, 10},
	{[]string{"syntax error", "unexpected token", "parse error"}, ClassCompile, 10},
	{[]string{"cargo build", "cargo check", "rustc"}, ClassCompile, 5},
	{[]string{"ts2", "type '", "is not assignable", "property '"}, ClassCompile, 10},
	{[]string{"tsc", "typescript", "cannot find module"}, ClassCompile, 8},

	{[]string{"config", "configuration", ".toml", ".json", ".yaml", ".env"}, ClassConfig, 6},
	{[]string{"missing key", "invalid value", "required field"}, ClassConfig, 8},
	{[]string{"environment variable", "env var", "database_url"}, ClassConfig, 9},

	{[]string{"command not found", "not installed", "missing tool"}, ClassEnvironment, 9},
	{[]string{"version mismatch", "incompatible version", "requires"}, ClassEnvironment, 8},
	{[]string{"nix", "flake", "devshell"}, ClassEnvironment, 6},

	{[]string{"permission denied", "access denied", "forbidden"}, ClassPermission, 10},
	{[]string{"authentication failed", "invalid credentials", "unauthorized"}, ClassPermission, 10},
	{[]string{"token expired", "token invalid", "not authenticated"}, ClassPermission, 10},
	{[]string{"gt auth", "gh auth", "api key"}, ClassPermission, 9},

	{[]string{"test failed", "assertion failed", "failed"}, ClassLogic, 9},
	{[]string{"expected", "actual", "assert_eq!", "assert!"}, ClassLogic, 8},
	{[]string{"panicked at", "thread 'main' panicked"}, ClassLogic, 9},
	{[]string{"wrong result", "incorrect", "mismatch"}, ClassLogic, 7},

	{[]string{"timeout", "timed out", "connection refused"}, ClassNetwork, 9},
	{[]string{"network error", "connection reset", "econnreset"}, ClassNetwork, 9},
	{[]string{"dns", "could not resolve", "name resolution"}, ClassNetwork, 9},

	{[]string{"out of memory", "oom", "memory allocation failed"}, ClassResource, 10},
	{[]string{"disk full", "no space left", "enospc"}, ClassResource, 10},
	{[]string{"rate limit", "too many requests", "429"}, ClassResource, 9},
	{[]string{"quota exceeded", "limit exceeded"}, ClassResource, 9},

	{[]string{"merge conflict", "conflict", "conflict in"}, ClassGit, 10},
	{[]string{"rebase", "restack", "diverged"}, ClassGit, 8},
	{[]string{"not a git repository", "git checkout", "detached head"}, ClassGit, 7},
	{[]string{"push rejected", "pull failed", "fetch failed"}, ClassGit, 8},

	{[]string{"[need_human]", "[patch_ready]", "agent"}, ClassAgent, 6},
	{[]string{"tool failed", "command failed", "subprocess"}, ClassAgent, 5},
}

// Classifier analyzes error messages and recommends a recovery path. It is
// not safe for concurrent use by multiple goroutines; callers own one
// Classifier per task or per repo as the recovery loop requires.
type Classifier struct {
	recent []recentEntry
}

type recentEntry struct {
	message string
	class   Class
}

// New returns an empty Classifier.
func New() *Classifier {
	return &Classifier{}
}

const recentHistoryCap = 100

// Classify scores every pattern against the lowercased message and returns
// the class with the highest (priority, match count) score.
func (c *Classifier) Classify(message string) Result {
	lower := strings.ToLower(message)

	type scored struct {
		priority int
		keywords []string
	}
	scores := make(map[Class]*scored)

	for _, p := range patterns {
		var matched []string
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		entry, ok := scores[p.class]
		if !ok {
			entry = &scored{}
			scores[p.class] = entry
		}
		if p.priority > entry.priority {
			entry.priority = p.priority
		}
		entry.keywords = append(entry.keywords, matched...)
	}

	class := ClassUnknown
	priority := 0
	var keywords []string
	bestLen := -1
	for cls, s := range scores {
		if s.priority > priority || (s.priority == priority && len(s.keywords) > bestLen) {
			class = cls
			priority = s.priority
			keywords = s.keywords
			bestLen = len(s.keywords)
		}
	}

	var confidence float64
	if class == ClassUnknown {
		confidence = 0.3
	} else {
		confidence = 0.5 + float64(priority)/20.0 + minFloat(float64(len(keywords))/10.0, 0.3)
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	var action Action
	switch {
	case class.RequiresHuman():
		action = ActionEscalateHuman
	case class.IsTransient():
		action = ActionWaitAndRetry
	case class.IsAgentFixable():
		action = ActionRetryWithAgent
	default:
		action = ActionRetry
	}

	ctx := buildRecoveryContext(class, keywords, message)

	c.recent = append(c.recent, recentEntry{message: message, class: class})
	if len(c.recent) > recentHistoryCap {
		c.recent = c.recent[1:]
	}

	agent, hasAgent := class.RecommendedAgent()
	return Result{
		Class:             class,
		Confidence:        confidence,
		MatchedKeywords:   keywords,
		Action:            action,
		RecommendedAgent:  agent,
		HasRecommendation: hasAgent,
		Context:           ctx,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func buildRecoveryContext(class Class, keywords []string, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Error Analysis\n\n")
	fmt.Fprintf(&b, "**Error Class:** %s\n", class)
	fmt.Fprintf(&b, "**Matched Patterns:** %s\n\n", strings.Join(keywords, ", "))

	switch class {
	case ClassCompile:
		b.WriteString("### Recovery Strategy\n")
		b.WriteString("1. Locate the exact file and line from the error\n")
		b.WriteString("2. Read the surrounding context\n")
		b.WriteString("3. Fix the type/syntax/import issue\n")
		b.WriteString("4. Run verify command to confirm fix\n")
	case ClassLogic:
		b.WriteString("### Recovery Strategy\n")
		b.WriteString("1. Identify the failing test or assertion\n")
		b.WriteString("2. Understand what behavior is expected vs actual\n")
		b.WriteString("3. Trace the code path to find the bug\n")
		b.WriteString("4. Fix the logic issue\n")
		b.WriteString("5. Re-run tests to verify\n")
	case ClassConfig:
		b.WriteString("### Recovery Strategy\n")
		b.WriteString("1. Identify the missing or incorrect config\n")
		b.WriteString("2. Check environment variables and config files\n")
		b.WriteString("3. Update configuration as needed\n")
	case ClassGit:
		b.WriteString("### Recovery Strategy\n")
		b.WriteString("1. Check git status and branch state\n")
		b.WriteString("2. Resolve any conflicts manually\n")
		b.WriteString("3. Abort the in-progress restack if one failed, then retry\n")
	}

	lines := strings.Split(message, "\n")
	if len(lines) > 20 {
		lines = lines[:20]
	}
	if len(lines) > 0 {
		b.WriteString("\n### Error Excerpt\n```\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n```\n")
	}

	return b.String()
}

// RecentDistribution returns a count of classifications per class over the
// bounded history window.
func (c *Classifier) RecentDistribution() map[Class]int {
	dist := make(map[Class]int)
	for _, e := range c.recent {
		dist[e.class]++
	}
	return dist
}

// DetectRepeatedPattern reports the class if the last window classifications
// were all identical, signalling that simple retries are not making progress.
func (c *Classifier) DetectRepeatedPattern(window int) (Class, bool) {
	if len(c.recent) < window {
		return ClassUnknown, false
	}
	recentWindow := c.recent[len(c.recent)-window:]
	first := recentWindow[0].class
	for _, e := range recentWindow {
		if e.class != first {
			return ClassUnknown, false
		}
	}
	return first, true
}

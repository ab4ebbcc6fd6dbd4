package dispatch

import "testing"

func TestDispatchRoutesImplementationToImplementationRole(t *testing.T) {
	d := New(DefaultConfig())
	task := TaskInput{ID: "T1", RepoID: "test-repo", Title: "Add user authentication endpoint", Type: TaskImplement}

	decision := d.Dispatch(task, RepoContext{}, false, "")
	if decision.Role != RoleImplementation {
		t.Fatalf("expected RoleImplementation, got %v", decision.Role)
	}
	if decision.Confidence <= 0.8 {
		t.Fatalf("expected confidence > 0.8, got %v", decision.Confidence)
	}
}

func TestDispatchRoutesErrorRecoveryToDeepReasoning(t *testing.T) {
	d := New(DefaultConfig())
	task := TaskInput{ID: "T1", RepoID: "test-repo", Title: "Fix the broken endpoint", Type: TaskImplement}

	decision := d.Dispatch(task, RepoContext{}, true, "compile error")
	if decision.Role != RoleDeepReasoning {
		t.Fatalf("expected RoleDeepReasoning, got %v", decision.Role)
	}
	found := false
	for _, c := range decision.ContextAdditions {
		if contains(c, "retry") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a context addition mentioning the retry attempt")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestDispatchRoutesDocsToDocReview(t *testing.T) {
	d := New(DefaultConfig())
	task := TaskInput{ID: "T1", RepoID: "test-repo", Title: "Document the API endpoints", Type: TaskImplement}

	decision := d.Dispatch(task, RepoContext{}, false, "")
	if decision.Role != RoleDocReview {
		t.Fatalf("expected RoleDocReview, got %v", decision.Role)
	}
}

func TestDispatchRoutesQuickFixToFastExploration(t *testing.T) {
	d := New(DefaultConfig())
	task := TaskInput{ID: "T1", RepoID: "test-repo", Title: "Fix simple typo in config", Type: TaskImplement}

	decision := d.Dispatch(task, RepoContext{}, false, "")
	if decision.Role != RoleFastExploration {
		t.Fatalf("expected RoleFastExploration, got %v", decision.Role)
	}
}

func TestFallbackEscalatesToDeepReasoning(t *testing.T) {
	d := New(DefaultConfig())

	if role, ok := d.NextFallback(RoleImplementation, 1); !ok || role != RoleDeepReasoning {
		t.Fatalf("expected RoleDeepReasoning, got %v (ok=%v)", role, ok)
	}
	if role, ok := d.NextFallback(RoleFastExploration, 2); !ok || role != RoleDeepReasoning {
		t.Fatalf("expected RoleDeepReasoning, got %v (ok=%v)", role, ok)
	}
	if _, ok := d.NextFallback(RoleDeepReasoning, 3); ok {
		t.Fatal("expected fallback chain exhausted at attempt 3")
	}
}

func TestTaskIntentClassification(t *testing.T) {
	cases := []struct {
		title    string
		taskType TaskType
		isRetry  bool
		want     Intent
	}{
		{"Add feature", TaskImplement, false, IntentImplementation},
		{"Fix bug in login", TaskImplement, false, IntentBugFix},
		{"Document API", TaskImplement, false, IntentDocumentation},
		{"Anything", TaskImplement, true, IntentErrorRecovery},
		{"", TaskImplement, false, IntentImplementation},
	}
	for _, c := range cases {
		got := ClassifyIntent(c.title, c.taskType, c.isRetry)
		if got != c.want {
			t.Errorf("ClassifyIntent(%q, %v, %v) = %v, want %v", c.title, c.taskType, c.isRetry, got, c.want)
		}
	}
}

func TestRoleModelMapping(t *testing.T) {
	if RoleImplementation.Model() != ModelCodex {
		t.Error("RoleImplementation should map to ModelCodex")
	}
	if RoleDeepReasoning.Model() != ModelClaude {
		t.Error("RoleDeepReasoning should map to ModelClaude")
	}
	if RoleFastExploration.Model() != ModelClaude {
		t.Error("RoleFastExploration should map to ModelClaude")
	}
	if RoleMultimodal.Model() != ModelGemini {
		t.Error("RoleMultimodal should map to ModelGemini")
	}
}

func TestRepoOverrideWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepoOverrides["test-repo"] = RoleArchitecture
	d := New(cfg)
	task := TaskInput{ID: "T1", RepoID: "test-repo", Title: "Add user authentication endpoint", Type: TaskImplement}

	decision := d.Dispatch(task, RepoContext{}, false, "")
	if decision.Role != RoleArchitecture {
		t.Fatalf("expected override RoleArchitecture, got %v", decision.Role)
	}
	if decision.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %v", decision.Confidence)
	}
}

func TestDispatchWithFallbackNeverPanics(t *testing.T) {
	d := New(DefaultConfig())
	task := TaskInput{ID: "T1", RepoID: "test-repo", Title: "Add feature", Type: TaskImplement}
	decision := d.DispatchWithFallback(task, RepoContext{}, false, "")
	if decision.Role != RoleImplementation {
		t.Fatalf("expected normal dispatch to pass through, got %v", decision.Role)
	}
}

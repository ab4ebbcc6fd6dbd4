package dispatch

import (
	"os"
	"path/filepath"
	"strings"
)

// RepoContext holds repository facts passed to the dispatcher: language,
// build tooling, and recent recovery history. Dispatch does not read them
// when routing, and LoadRepoContext leaves RecentErrors and
// RecentSuccessRate at their zero values.
type RepoContext struct {
	PrimaryLanguage    string
	IsRust             bool
	IsTypeScript       bool
	IsPython           bool
	IsNix              bool
	CrateCount         int
	RecentErrors       []string
	RecentSuccessRate  float64
}

// LoadRepoContext scans a repository root for language/build markers. It
// never returns an error: an unreadable or partially-present repo root
// simply yields a zero-value-leaning RepoContext, consistent with the
// dispatcher's graceful-degradation posture.
func LoadRepoContext(repoRoot string) RepoContext {
	var ctx RepoContext

	if exists(filepath.Join(repoRoot, "Cargo.toml")) {
		ctx.IsRust = true
		ctx.PrimaryLanguage = "rust"
		if contents, err := os.ReadFile(filepath.Join(repoRoot, "Cargo.toml")); err == nil {
			ctx.CrateCount = strings.Count(string(contents), "[workspace]")
			if ctx.CrateCount < 1 {
				ctx.CrateCount = 1
			}
		}
	}

	if exists(filepath.Join(repoRoot, "package.json")) || exists(filepath.Join(repoRoot, "tsconfig.json")) {
		ctx.IsTypeScript = true
		if ctx.PrimaryLanguage == "" {
			ctx.PrimaryLanguage = "typescript"
		}
	}

	if exists(filepath.Join(repoRoot, "pyproject.toml")) ||
		exists(filepath.Join(repoRoot, "setup.py")) ||
		exists(filepath.Join(repoRoot, "requirements.txt")) {
		ctx.IsPython = true
		if ctx.PrimaryLanguage == "" {
			ctx.PrimaryLanguage = "python"
		}
	}

	ctx.IsNix = exists(filepath.Join(repoRoot, "flake.nix"))

	return ctx
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

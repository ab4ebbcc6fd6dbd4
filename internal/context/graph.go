// Package context assembles the prompt injected into an agent subprocess:
// a BFS-loaded repository context graph, the task assignment, the signal
// definitions an agent must emit, and (on retry) an error-analysis section
// built from a classifier result.
//
// The package name shadows the standard library's context package within
// this directory; files that need cancellation import it as stdctx.
package context

import (
	"os"
	"path/filepath"
	"strings"
)

// Node is a single loaded file in the context graph.
type Node struct {
	// Path is relative to the repository root.
	Path       string
	Content    string
	Links      []string
	SourceRefs []string
}

// Graph is the fully loaded, BFS-flattened context graph.
type Graph struct {
	Nodes      []Node
	TotalChars int
}

// LoadConfig bounds a single BFS traversal.
type LoadConfig struct {
	MaxDepth      int
	MaxTotalChars int
}

// DefaultLoadConfig matches the defaults used across the orchestrator.
func DefaultLoadConfig() LoadConfig {
	return LoadConfig{MaxDepth: 10, MaxTotalChars: 80_000}
}

const entryRelPath = ".othala/context/MAIN.md"

type queueItem struct {
	relPath string
	depth   int
}

// LoadGraph performs a breadth-first traversal starting at
// .othala/context/MAIN.md, following markdown links, wiki-style [[links]],
// @file: references, and @glob: globs, expanding @cmd: directives inline.
// It returns (nil, false) if the entry point does not exist — callers
// should treat an absent context directory as an empty context section,
// not an error.
func LoadGraph(repoRoot string, cfg LoadConfig) (*Graph, bool) {
	entryAbs := filepath.Join(repoRoot, entryRelPath)
	if _, err := os.Stat(entryAbs); err != nil {
		return nil, false
	}

	visited := map[string]bool{}
	queue := []queueItem{{relPath: entryRelPath, depth: 0}}
	visited[canonicalKey(repoRoot, entryRelPath)] = true

	var nodes []Node
	totalChars := 0
	cycleCount := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.depth > cfg.MaxDepth {
			continue
		}
		if totalChars >= cfg.MaxTotalChars {
			break
		}

		absPath := filepath.Join(repoRoot, item.relPath)
		raw, err := os.ReadFile(absPath)
		if err != nil {
			continue
		}

		expanded, directiveLinks := expandDirectives(string(raw), item.relPath, repoRoot)

		remaining := cfg.MaxTotalChars - totalChars
		if remaining < 0 {
			remaining = 0
		}
		content := expanded
		if len(content) > remaining {
			content = content[:remaining]
		}

		links, sourceRefs := extractLinks(content, item.relPath)
		links = append(links, directiveLinks...)
		totalChars += len(content)

		for _, link := range links {
			nextDepth := item.depth + 1
			if nextDepth > cfg.MaxDepth {
				continue
			}
			key := canonicalKey(repoRoot, link)
			if visited[key] {
				cycleCount++
				continue
			}
			visited[key] = true
			queue = append(queue, queueItem{relPath: link, depth: nextDepth})
		}

		nodes = append(nodes, Node{
			Path:       item.relPath,
			Content:    content,
			Links:      links,
			SourceRefs: sourceRefs,
		})
	}

	return &Graph{Nodes: nodes, TotalChars: totalChars}, true
}

// canonicalKey normalises a repo-relative path for cycle detection without
// touching the filesystem (mirrors the no-symlink assumption the original
// loader makes via canonicalize-or-normalise fallback).
func canonicalKey(repoRoot, relPath string) string {
	return normalisePath(filepath.Join(repoRoot, relPath))
}

// normalisePath resolves ".." and "." components lexically.
func normalisePath(path string) string {
	return filepath.Clean(filepath.ToSlash(path))
}

// RenderForPrompt renders the loaded graph as markdown, one section per node.
func RenderForPrompt(g *Graph) string {
	var sb strings.Builder
	sb.WriteString("# Repository Context\n\n")
	for _, n := range g.Nodes {
		sb.WriteString("## ")
		sb.WriteString(n.Path)
		sb.WriteString("\n\n")
		sb.WriteString(n.Content)
		if !strings.HasSuffix(n.Content, "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// RenderWithSources renders the graph plus every distinct file referenced
// via source_refs, inlined as fenced code blocks up to sourceBudget bytes.
func RenderWithSources(g *Graph, repoRoot string, sourceBudget int) string {
	out := RenderForPrompt(g)

	var allRefs []string
	seen := map[string]bool{}
	for _, n := range g.Nodes {
		for _, r := range n.SourceRefs {
			if !seen[r] {
				seen[r] = true
				allRefs = append(allRefs, r)
			}
		}
	}
	if len(allRefs) == 0 {
		return out
	}

	var sb strings.Builder
	sb.WriteString(out)
	sb.WriteString("# Referenced Source Files\n\n")
	used := 0

	for _, path := range allRefs {
		if used >= sourceBudget {
			break
		}
		abs := filepath.Join(repoRoot, path)
		raw, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		content := string(raw)

		remaining := sourceBudget - used
		if remaining < 0 {
			remaining = 0
		}
		truncated := false
		if len(content) > remaining {
			content = content[:remaining]
			truncated = true
		}

		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		sb.WriteString("## ")
		sb.WriteString(path)
		sb.WriteString("\n\n```")
		sb.WriteString(ext)
		sb.WriteByte('\n')
		sb.WriteString(content)
		if truncated {
			sb.WriteString("...(truncated)")
		}
		if !strings.HasSuffix(content, "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString("```\n\n")
		used += len(content)
	}

	return sb.String()
}

package context

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const cmdOutputLineLimit = 1000

// extractLinks scans content for markdown links ([text](path)), wiki links
// ([[name]]), and @file: references relative to currentPath's directory.
// Returns (contextLinks, sourceRefs): contextLinks point at other
// .othala/context/*.md files eligible for further BFS traversal; sourceRefs
// are informational pointers at repo source files.
func extractLinks(content, currentPath string) (contextLinks, sourceRefs []string) {
	parent := path.Dir(currentPath)

	for _, line := range strings.Split(content, "\n") {
		rest := line
		for {
			start := strings.Index(rest, "](")
			if start < 0 {
				break
			}
			after := rest[start+2:]
			end := strings.Index(after, ")")
			if end < 0 {
				break
			}
			target := strings.TrimSpace(after[:end])
			if target != "" && !strings.HasPrefix(target, "http") && !strings.HasPrefix(target, "#") {
				normalised := normalisePath(path.Join(parent, target))
				if isContextMarkdown(normalised) {
					contextLinks = append(contextLinks, normalised)
				} else {
					sourceRefs = append(sourceRefs, normalised)
				}
			}
			rest = after[end+1:]
		}

		wikiRest := line
		for {
			start := strings.Index(wikiRest, "[[")
			if start < 0 {
				break
			}
			after := wikiRest[start+2:]
			end := strings.Index(after, "]]")
			if end < 0 {
				break
			}
			target := strings.TrimSpace(after[:end])
			if target != "" {
				normalised := normalisePath(path.Join(parent, target+".md"))
				if isContextMarkdown(normalised) {
					contextLinks = append(contextLinks, normalised)
				} else {
					sourceRefs = append(sourceRefs, normalised)
				}
			}
			wikiRest = after[end+2:]
		}

		fileRest := line
		for {
			start := strings.Index(fileRest, "@file:")
			if start < 0 {
				break
			}
			after := fileRest[start+6:]
			end := strings.IndexFunc(after, isSpace)
			if end < 0 {
				end = len(after)
			}
			target := strings.TrimSpace(after[:end])
			if target != "" {
				sourceRefs = append(sourceRefs, normalisePath(path.Join(parent, target)))
			}
			fileRest = after[end:]
		}
	}

	return contextLinks, sourceRefs
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isContextMarkdown(p string) bool {
	return strings.HasPrefix(p, ".othala/context/") && strings.HasSuffix(p, ".md")
}

// expandDirectives walks content line by line, expanding @glob: (collected
// as additional links, since a glob's matches are loaded as context nodes)
// and @cmd: (whose stdout is inlined immediately after the directive line).
func expandDirectives(content, currentPath, repoRoot string) (expanded string, links []string) {
	var sb strings.Builder
	lines := strings.Split(content, "\n")
	hadTrailingNewline := strings.HasSuffix(content, "\n")

	for i, line := range lines {
		if i == len(lines)-1 && line == "" {
			break
		}
		trimmed := strings.TrimSpace(line)

		if pattern, ok := strings.CutPrefix(trimmed, "@glob:"); ok {
			pattern = strings.TrimSpace(pattern)
			if pattern != "" {
				links = append(links, expandGlobPattern(pattern, currentPath, repoRoot)...)
			}
		}

		sb.WriteString(line)
		sb.WriteByte('\n')

		if command, ok := strings.CutPrefix(trimmed, "@cmd:"); ok {
			command = strings.TrimSpace(command)
			if command != "" {
				sb.WriteString(runCommandDirective(command, repoRoot))
				if !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte('\n')
				}
			}
		}
	}

	result := sb.String()
	if !hadTrailingNewline && strings.HasSuffix(result, "\n") {
		result = result[:len(result)-1]
	}
	return result, links
}

func expandGlobPattern(pattern, currentPath, repoRoot string) []string {
	parent := path.Dir(currentPath)
	patterns := []string{
		normalisePath(pattern),
		normalisePath(path.Join(parent, pattern)),
	}

	var files []string
	collectRepoFiles(repoRoot, repoRoot, &files)

	seen := map[string]bool{}
	var out []string
	for _, candidate := range files {
		candidate = normalisePath(candidate)
		if seen[candidate] {
			continue
		}
		for _, p := range patterns {
			if globMatchPath(p, candidate) {
				seen[candidate] = true
				out = append(out, candidate)
				break
			}
		}
	}

	sort.Strings(out)
	return out
}

func collectRepoFiles(root, current string, out *[]string) {
	entries, err := readDirSorted(current)
	if err != nil {
		return
	}
	for _, entry := range entries {
		full := filepath.Join(current, entry.name)
		if entry.isDir {
			collectRepoFiles(root, full, out)
			continue
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}
		*out = append(*out, filepath.ToSlash(rel))
	}
}

func globMatchPath(pattern, candidate string) bool {
	var patternParts, candidateParts []string
	if pattern != "" {
		patternParts = strings.Split(pattern, "/")
	}
	if candidate != "" {
		candidateParts = strings.Split(candidate, "/")
	}
	return globMatchComponents(patternParts, candidateParts)
}

func globMatchComponents(pattern, candidate []string) bool {
	var inner func(pi, ci int) bool
	inner = func(pi, ci int) bool {
		if pi == len(pattern) {
			return ci == len(candidate)
		}
		if pattern[pi] == "**" {
			if inner(pi+1, ci) {
				return true
			}
			return ci < len(candidate) && inner(pi, ci+1)
		}
		if ci >= len(candidate) {
			return false
		}
		if !globMatchSegment(pattern[pi], candidate[ci]) {
			return false
		}
		return inner(pi+1, ci+1)
	}
	return inner(0, 0)
}

func globMatchSegment(pattern, candidate string) bool {
	p := []rune(pattern)
	c := []rune(candidate)

	pi, ci := 0, 0
	starIdx := -1
	matchCi := 0

	for ci < len(c) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == c[ci]):
			pi++
			ci++
		case pi < len(p) && p[pi] == '*':
			starIdx = pi
			matchCi = ci
			pi++
		case starIdx >= 0:
			pi = starIdx + 1
			matchCi++
			ci = matchCi
		default:
			return false
		}
	}

	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

func runCommandDirective(command, repoRoot string) string {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = repoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return truncateCommandOutput(stdout.String())
	}

	status := "terminated by signal"
	if exitErr, ok := err.(*exec.ExitError); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			status = fmt.Sprintf("%d", code)
		}
	}
	stderrText := strings.TrimSpace(stderr.String())
	if stderrText == "" {
		return fmt.Sprintf("[command failed: `%s` (exit status %s)]\n", command, status)
	}
	return fmt.Sprintf("[command failed: `%s` (exit status %s)] %s\n", command, status, stderrText)
}

func truncateCommandOutput(stdout string) string {
	lines := strings.Split(stdout, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= cmdOutputLineLimit {
		return stdout
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(lines[:cmdOutputLineLimit], "\n"))
	sb.WriteByte('\n')
	sb.WriteString(fmt.Sprintf("[... truncated %d lines]", len(lines)-cmdOutputLineLimit))
	sb.WriteByte('\n')
	return sb.String()
}

type dirEntry struct {
	name  string
	isDir bool
}

func readDirSorted(dir string) ([]dirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dirEntry{name: e.Name(), isDir: e.IsDir()})
	}
	return out, nil
}

package context

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func setupContextDir(t *testing.T, dir string) {
	writeFile(t, dir, ".othala/context/MAIN.md",
		"# Main Context\n\nSee [architecture](architecture.md) for details.\n"+
			"Also references [src/lib.go](../../src/lib.go).\n")
	writeFile(t, dir, ".othala/context/architecture.md",
		"# Architecture\n\nCore packages: orchd.\nSee [patterns](patterns.md) for coding style.\n")
	writeFile(t, dir, ".othala/context/patterns.md", "# Patterns\n\nKeep modules small.\n")
}

func TestLoadGraphBFS(t *testing.T) {
	dir := t.TempDir()
	setupContextDir(t, dir)

	graph, ok := LoadGraph(dir, DefaultLoadConfig())
	if !ok {
		t.Fatal("expected graph to load")
	}
	if len(graph.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(graph.Nodes))
	}
	if graph.Nodes[0].Path != ".othala/context/MAIN.md" {
		t.Errorf("unexpected first node path: %s", graph.Nodes[0].Path)
	}
	if graph.Nodes[1].Path != ".othala/context/architecture.md" {
		t.Errorf("unexpected second node path: %s", graph.Nodes[1].Path)
	}
	if graph.Nodes[2].Path != ".othala/context/patterns.md" {
		t.Errorf("unexpected third node path: %s", graph.Nodes[2].Path)
	}
	if graph.TotalChars == 0 {
		t.Error("expected nonzero total chars")
	}
}

func TestLoadGraphReturnsNotOKWhenNoEntry(t *testing.T) {
	dir := t.TempDir()
	if _, ok := LoadGraph(dir, DefaultLoadConfig()); ok {
		t.Fatal("expected no graph when entry point is absent")
	}
}

func TestLoadGraphRespectsCharBudget(t *testing.T) {
	dir := t.TempDir()
	setupContextDir(t, dir)

	cfg := LoadConfig{MaxDepth: 3, MaxTotalChars: 50}
	graph, ok := LoadGraph(dir, cfg)
	if !ok {
		t.Fatal("expected graph to load")
	}
	if graph.TotalChars > 50 {
		t.Errorf("expected total chars <= 50, got %d", graph.TotalChars)
	}
}

func TestLoadGraphRespectsMaxDepth(t *testing.T) {
	dir := t.TempDir()
	setupContextDir(t, dir)

	cfg := LoadConfig{MaxDepth: 1, MaxTotalChars: 50_000}
	graph, ok := LoadGraph(dir, cfg)
	if !ok {
		t.Fatal("expected graph to load")
	}
	if len(graph.Nodes) != 2 {
		t.Fatalf("expected 2 nodes at depth 1, got %d", len(graph.Nodes))
	}
}

func TestLoadGraphDetectsCycles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".othala/context/MAIN.md", "See [A](A.md)\n")
	writeFile(t, dir, ".othala/context/A.md", "See [B](B.md)\n")
	writeFile(t, dir, ".othala/context/B.md", "See [A](A.md)\n")

	graph, ok := LoadGraph(dir, DefaultLoadConfig())
	if !ok {
		t.Fatal("expected graph to load")
	}
	var paths []string
	for _, n := range graph.Nodes {
		paths = append(paths, n.Path)
	}
	want := []string{".othala/context/MAIN.md", ".othala/context/A.md", ".othala/context/B.md"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, paths)
		}
	}
}

func TestLoadGraphWithWikiLinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".othala/context/MAIN.md", "# Main Context\n\nSee [[wiki/architecture]].\n")
	writeFile(t, dir, ".othala/context/wiki/architecture.md", "# Architecture\n\nSee [[patterns]] for coding style.\n")
	writeFile(t, dir, ".othala/context/wiki/patterns.md", "# Patterns\n\nKeep modules small.\n")

	graph, ok := LoadGraph(dir, DefaultLoadConfig())
	if !ok {
		t.Fatal("expected graph to load")
	}
	if len(graph.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(graph.Nodes))
	}
	if graph.Nodes[1].Path != ".othala/context/wiki/architecture.md" {
		t.Errorf("unexpected path: %s", graph.Nodes[1].Path)
	}
	if graph.Nodes[2].Path != ".othala/context/wiki/patterns.md" {
		t.Errorf("unexpected path: %s", graph.Nodes[2].Path)
	}
}

func TestExtractLinksMarkdownAndSourceRefs(t *testing.T) {
	content := "See [arch](architecture.md) and [code](../../src/lib.go).\n"
	links, refs := extractLinks(content, ".othala/context/MAIN.md")

	if len(links) != 1 || links[0] != ".othala/context/architecture.md" {
		t.Errorf("unexpected links: %v", links)
	}
	if len(refs) != 1 || refs[0] != "src/lib.go" {
		t.Errorf("unexpected refs: %v", refs)
	}
}

func TestExtractMultipleWikiLinks(t *testing.T) {
	content := "See [[architecture]] and [[patterns]].\n"
	links, refs := extractLinks(content, ".othala/context/MAIN.md")

	want := []string{".othala/context/architecture.md", ".othala/context/patterns.md"}
	if len(links) != len(want) || links[0] != want[0] || links[1] != want[1] {
		t.Errorf("unexpected links: %v", links)
	}
	if len(refs) != 0 {
		t.Errorf("expected no source refs, got %v", refs)
	}
}

func TestExtractFileReferences(t *testing.T) {
	content := "Read @file:../../src/lib.go and @file:../mod.go\n"
	links, refs := extractLinks(content, ".othala/context/wiki/architecture.md")

	if len(links) != 0 {
		t.Errorf("expected no links, got %v", links)
	}
	want := []string{".othala/src/lib.go", ".othala/context/mod.go"}
	if len(refs) != len(want) || refs[0] != want[0] || refs[1] != want[1] {
		t.Errorf("unexpected refs: %v", refs)
	}
}

func TestContextGraphGlobDirective(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".othala/context/MAIN.md", "@glob:src/**/*.go\n")
	writeFile(t, dir, "src/lib.go", "package src\n")
	writeFile(t, dir, "src/nested/mod.go", "package nested\n")

	graph, ok := LoadGraph(dir, DefaultLoadConfig())
	if !ok {
		t.Fatal("expected graph to load")
	}
	var paths []string
	for _, n := range graph.Nodes {
		paths = append(paths, n.Path)
	}
	if !contains(paths, "src/lib.go") || !contains(paths, "src/nested/mod.go") {
		t.Errorf("expected glob matches in %v", paths)
	}
}

func TestContextGraphCmdDirective(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".othala/context/MAIN.md", "@cmd:printf 'cmd-ok\\n'\n")

	graph, ok := LoadGraph(dir, DefaultLoadConfig())
	if !ok {
		t.Fatal("expected graph to load")
	}
	if !strings.Contains(graph.Nodes[0].Content, "cmd-ok") {
		t.Errorf("expected command output inlined, got %q", graph.Nodes[0].Content)
	}
}

func TestContextGraphCmdTruncatesLongOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".othala/context/MAIN.md",
		"@cmd:i=0; while [ $i -lt 1005 ]; do printf '%s\\n' \"$i\"; i=$((i+1)); done\n")

	graph, ok := LoadGraph(dir, DefaultLoadConfig())
	if !ok {
		t.Fatal("expected graph to load")
	}
	if !strings.Contains(graph.Nodes[0].Content, "[... truncated 5 lines]") {
		t.Errorf("expected truncation marker, got %q", graph.Nodes[0].Content)
	}
}

func TestRenderForPromptProducesMarkdown(t *testing.T) {
	graph := &Graph{Nodes: []Node{{Path: ".othala/context/MAIN.md", Content: "# Hello\n"}}, TotalChars: 9}

	rendered := RenderForPrompt(graph)
	if !strings.Contains(rendered, "# Repository Context") {
		t.Error("expected repository context header")
	}
	if !strings.Contains(rendered, "## .othala/context/MAIN.md") {
		t.Error("expected node path header")
	}
	if !strings.Contains(rendered, "# Hello") {
		t.Error("expected node content")
	}
}

func TestRenderWithSourcesInlinesReferencedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/lib.go", "package src\n\nfunc A() {}\n")

	graph := &Graph{
		Nodes: []Node{{
			Path:       ".othala/context/MAIN.md",
			Content:    "See the code.\n",
			SourceRefs: []string{"src/lib.go"},
		}},
	}

	rendered := RenderWithSources(graph, dir, 64_000)
	if !strings.Contains(rendered, "# Referenced Source Files") {
		t.Error("expected referenced source files section")
	}
	if !strings.Contains(rendered, "```go") {
		t.Error("expected fenced code block with go extension")
	}
	if !strings.Contains(rendered, "func A()") {
		t.Error("expected source content inlined")
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

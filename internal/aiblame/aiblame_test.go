package aiblame

import (
	"strings"
	"testing"

	"github.com/anthropic/whogitit/internal/snapshot"
)

const (
	shaA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	shaB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func porcelainFixture() string {
	return strings.Join([]string{
		shaA + " 1 1 2",
		"author Alice",
		"author-mail <alice@example.com>",
		"summary add file",
		"\tfirst line",
		shaA + " 2 2",
		"author Alice",
		"\tsecond line",
		shaB + " 1 3 1",
		"author Bob",
		"summary append",
		"\tthird line",
		"",
	}, "\n")
}

func TestParsePorcelain(t *testing.T) {
	lines := ParsePorcelain(porcelainFixture())
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}

	want := []PorcelainLine{
		{Commit: shaA, OrigLine: 1, FinalLine: 1, Author: "Alice", Content: "first line"},
		{Commit: shaA, OrigLine: 2, FinalLine: 2, Author: "Alice", Content: "second line"},
		{Commit: shaB, OrigLine: 1, FinalLine: 3, Author: "Bob", Content: "third line"},
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestParsePorcelain_Empty(t *testing.T) {
	if got := ParsePorcelain(""); len(got) != 0 {
		t.Errorf("ParsePorcelain(\"\") = %v", got)
	}
}

func testAttribution() *snapshot.AIAttribution {
	idx := 0
	return &snapshot.AIAttribution{
		Version: snapshot.NoteVersion,
		Prompts: []snapshot.PromptRecord{{Index: 0, Text: "add a greeting function"}},
		Files: []snapshot.FileAttribution{{
			Path: "main.go",
			Lines: []snapshot.LineAttribution{
				{LineNumber: 1, Content: "package main", Source: snapshot.OriginalSource(), Confidence: 1},
				{LineNumber: 2, Content: "func greet() {}", Source: snapshot.AISource("edit-1"), PromptIndex: &idx, Confidence: 1},
				{LineNumber: 3, Content: "var x = 1", Source: snapshot.HumanSource(), Confidence: 0.9},
			},
		}},
	}
}

func TestFindLine_ByNumber(t *testing.T) {
	attr := testAttribution()
	la := findLine(attr, "main.go", 2, "func greet() {}")
	if la == nil {
		t.Fatal("no attribution found")
	}
	if la.Source.Type != snapshot.SourceAI {
		t.Errorf("source = %s, want AI", la.Source.Type)
	}
}

func TestFindLine_ContentFallback(t *testing.T) {
	attr := testAttribution()
	// Line number points elsewhere after renumbering; content still
	// identifies the line.
	la := findLine(attr, "main.go", 1, "func greet() {}")
	if la == nil {
		t.Fatal("no attribution found")
	}
	if la.Source.Type != snapshot.SourceAI {
		t.Errorf("source = %s, want AI via content match", la.Source.Type)
	}
}

func TestFindLine_WrongPath(t *testing.T) {
	attr := testAttribution()
	if la := findLine(attr, "other.go", 2, "func greet() {}"); la != nil {
		t.Errorf("attribution = %+v, want nil for unrelated path", la)
	}
}

func TestFindLine_NoMatch(t *testing.T) {
	attr := testAttribution()
	if la := findLine(attr, "main.go", 9, "never seen before"); la != nil {
		t.Errorf("attribution = %+v, want nil", la)
	}
}

func TestResultSummary(t *testing.T) {
	r := &Result{Lines: []Line{
		{Source: snapshot.AISource("e")},
		{Source: snapshot.AIModifiedSource("e", 0.7)},
		{Source: snapshot.HumanSource()},
		{Source: snapshot.OriginalSource()},
		{Source: snapshot.UnknownSource()},
	}}
	s := r.Summary()
	if s.Total != 5 || s.AI != 1 || s.AIModified != 1 || s.Human != 1 || s.Original != 1 || s.Unknown != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestPreviewPrompt(t *testing.T) {
	if got := previewPrompt("  short  "); got != "short" {
		t.Errorf("preview = %q", got)
	}
	long := strings.Repeat("x", 100)
	got := previewPrompt(long)
	if len(got) != promptPreviewLen {
		t.Errorf("preview length = %d, want %d", len(got), promptPreviewLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("preview = %q, want ellipsis", got)
	}
}

func TestShortSHA(t *testing.T) {
	if got := shortSHA(shaA); got != "aaaaaaa" {
		t.Errorf("shortSHA = %q", got)
	}
	if got := shortSHA("abc"); got != "abc" {
		t.Errorf("shortSHA = %q", got)
	}
}

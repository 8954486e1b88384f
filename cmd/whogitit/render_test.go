package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/anthropic/whogitit/internal/aiblame"
	"github.com/anthropic/whogitit/internal/audit"
	"github.com/anthropic/whogitit/internal/query"
	"github.com/anthropic/whogitit/internal/snapshot"
)

func TestSourceMarker(t *testing.T) {
	cases := []struct {
		source snapshot.SourceType
		want   string
	}{
		{snapshot.SourceAI, "●"},
		{snapshot.SourceAIModified, "◐"},
		{snapshot.SourceHuman, "+"},
		{snapshot.SourceOriginal, "─"},
		{snapshot.SourceUnknown, "?"},
	}
	for _, c := range cases {
		if got := sourceMarker(c.source); got != c.want {
			t.Errorf("sourceMarker(%s) = %q, want %q", c.source, got, c.want)
		}
	}
}

func TestRenderBlame(t *testing.T) {
	res := &aiblame.Result{
		Path:     "main.go",
		Revision: "HEAD",
		Lines: []aiblame.Line{
			{LineNumber: 1, Content: "package main", CommitShort: "abc1234", Author: "Test Person", Source: snapshot.AISource("e1"), PromptPreview: "write main"},
			{LineNumber: 2, Content: "// by hand", CommitShort: "abc1234", Author: "Test Person", Source: snapshot.HumanSource()},
		},
	}
	var buf bytes.Buffer
	renderBlame(&buf, res)
	out := buf.String()

	if !strings.Contains(out, "LINE  │ COMMIT") {
		t.Error("header missing")
	}
	if !strings.Contains(out, "●") || !strings.Contains(out, "package main") {
		t.Error("AI line not rendered")
	}
	if !strings.Contains(out, "2 lines: 1 AI, 0 AI-modified, 1 human") {
		t.Errorf("footer wrong:\n%s", out)
	}
	if !strings.Contains(out, "First AI prompt: write main") {
		t.Error("prompt preview missing")
	}
}

func TestFilterBlame(t *testing.T) {
	lines := []aiblame.Line{
		{LineNumber: 1, Source: snapshot.AISource("e1")},
		{LineNumber: 2, Source: snapshot.HumanSource()},
		{LineNumber: 3, Source: snapshot.AIModifiedSource("e1", 0.8)},
	}
	ai := filterBlame(append([]aiblame.Line(nil), lines...), true)
	if len(ai) != 2 || ai[0].LineNumber != 1 || ai[1].LineNumber != 3 {
		t.Errorf("ai filter = %+v", ai)
	}
	human := filterBlame(append([]aiblame.Line(nil), lines...), false)
	if len(human) != 1 || human[0].LineNumber != 2 {
		t.Errorf("human filter = %+v", human)
	}
}

func TestAIEmoji(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{95, "🤖🤖🤖"},
		{80, "🤖🤖🤖"},
		{60, "🤖🤖"},
		{25, "🤖"},
		{5, "👤"},
	}
	for _, c := range cases {
		if got := aiEmoji(c.pct); got != c.want {
			t.Errorf("aiEmoji(%v) = %q, want %q", c.pct, got, c.want)
		}
	}
}

func TestRenderSummaryMarkdown(t *testing.T) {
	sum := &query.Summary{
		CommitsAnalyzed: 3,
		CommitsWithAI:   2,
		AILines:         8,
		HumanLines:      2,
		TotalAdditions:  10,
		AIPercentage:    80,
		Models:          []string{"claude-opus-4-5"},
		Files: []query.FileSummary{
			{Path: "a.go", Additions: 10, AIAdditions: 8, HumanLines: 2, AIPercent: 80, IsNewFile: true},
		},
	}
	var buf bytes.Buffer
	renderSummaryMarkdown(&buf, sum)
	out := buf.String()

	if !strings.Contains(out, "🤖🤖🤖") {
		t.Error("emoji grade missing for 80%")
	}
	if !strings.Contains(out, "| File | +Added | AI | Human | AI % | Status |") {
		t.Error("table header missing")
	}
	if !strings.Contains(out, "| a.go | 10 | 8 | 2 | 80% | new |") {
		t.Errorf("file row wrong:\n%s", out)
	}
}

func TestExportCSVRendering(t *testing.T) {
	exp := &query.Export{
		ExportVersion: query.ExportVersion,
		Commits: []query.CommitExport{{
			CommitID:    strings.Repeat("a", 40),
			CommitShort: "aaaaaaa",
			Message:     "add feature",
			Author:      "Test Person",
			CommittedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			SessionID:   "11111111-2222-3333-4444-555555555555",
			Model:       "claude-opus-4-5",
			AILines:     3,
			HumanLines:  1,
			Files:       []string{"a.go"},
		}},
	}

	var b bytes.Buffer
	if err := exp.WriteCSV(&b); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header plus one row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "commit_id,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "aaaaaaa,add feature,Test Person") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestFormatAuditEvent(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := audit.Event{
		Timestamp:   ts,
		EventType:   audit.EventRetentionApply,
		CommitCount: 3,
		User:        "dev",
		Reason:      "max_age_days=30",
	}
	got := formatAuditEvent(e)
	want := "2025-06-01T12:00:00Z retention_apply commits:3 user:dev - max_age_days=30"
	if got != want {
		t.Errorf("formatAuditEvent = %q, want %q", got, want)
	}
}

func TestValidEventType(t *testing.T) {
	for _, ok := range []string{"delete", "export", "retention_apply", "config_change", "redaction"} {
		if !validEventType(ok) {
			t.Errorf("validEventType(%q) = false", ok)
		}
	}
	if validEventType("rebase") {
		t.Error("unknown type accepted")
	}
}

func TestShortCommit(t *testing.T) {
	if got := shortCommit("0123456789abcdef"); got != "0123456" {
		t.Errorf("shortCommit = %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Errorf("short input altered: %q", got)
	}
}

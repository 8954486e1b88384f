package cache

import (
	"path/filepath"
	"testing"

	"github.com/anthropic/whogitit/internal/snapshot"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := openPath(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCache(t)

	e := &Entry{
		Commit:    "abc123",
		HasNote:   true,
		SessionID: "session-1",
		Model:     "claude-opus-4-5",
		AILines:   4, HumanLines: 2, PromptCount: 1,
		Files: []FileEntry{
			{Path: "a.go", AILines: 3, HumanLines: 1},
			{Path: "b.go", AILines: 1, HumanLines: 1},
		},
	}
	if err := c.Put(e); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get("abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("cache miss after Put")
	}
	if !got.HasNote || got.Model != "claude-opus-4-5" || got.AILines != 4 {
		t.Errorf("entry = %+v", got)
	}
	if len(got.Files) != 2 || got.Files[0].Path != "a.go" {
		t.Errorf("files = %+v", got.Files)
	}
}

func TestGetMiss(t *testing.T) {
	c := openTestCache(t)
	got, err := c.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("entry = %+v, want nil miss", got)
	}
}

func TestAbsentEntry(t *testing.T) {
	c := openTestCache(t)
	if err := c.Put(Absent("deadbeef")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := c.Get("deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.HasNote {
		t.Errorf("entry = %+v, want cached absence", got)
	}
}

func TestPutReplacesFiles(t *testing.T) {
	c := openTestCache(t)
	e := &Entry{Commit: "c1", HasNote: true, Files: []FileEntry{{Path: "old.go", AILines: 1}}}
	if err := c.Put(e); err != nil {
		t.Fatal(err)
	}
	e.Files = []FileEntry{{Path: "new.go", AILines: 2}}
	if err := c.Put(e); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files) != 1 || got.Files[0].Path != "new.go" {
		t.Errorf("files = %+v, want old rows replaced", got.Files)
	}
}

func TestInvalidate(t *testing.T) {
	c := openTestCache(t)
	if err := c.Put(&Entry{Commit: "c1", HasNote: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate("c1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	got, err := c.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("entry = %+v, want gone", got)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	c, err := openPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(&Entry{Commit: "c1", HasNote: true}); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = openPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	n, err := c.EntryCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("entries = %d, want 1 after reopen", n)
	}
}

func TestFromAttribution(t *testing.T) {
	idx := 0
	lines := []snapshot.LineAttribution{
		{LineNumber: 1, Source: snapshot.AISource("e"), PromptIndex: &idx, Confidence: 1},
		{LineNumber: 2, Source: snapshot.HumanSource(), Confidence: 0.9},
	}
	attr := &snapshot.AIAttribution{
		Version: snapshot.NoteVersion,
		Session: snapshot.SessionMetadata{
			SessionID: "s1",
			Model:     snapshot.ModelInfo{ID: "claude-opus-4-5"},
		},
		Prompts: []snapshot.PromptRecord{{Index: 0, Text: "p"}},
		Files: []snapshot.FileAttribution{{
			Path: "a.go", Lines: lines, Summary: snapshot.ComputeSummary(lines),
		}},
	}

	e := FromAttribution("c1", attr)
	if !e.HasNote || e.AILines != 1 || e.HumanLines != 1 || e.PromptCount != 1 {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Files) != 1 || e.Files[0].Path != "a.go" || e.Files[0].AILines != 1 {
		t.Errorf("files = %+v", e.Files)
	}
}

package pending

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anthropic/whogitit/internal/snapshot"
)

func makeSession() snapshot.SessionMetadata {
	return snapshot.SessionMetadata{
		SessionID: uuid.NewString(),
		Model:     snapshot.ClaudeModel("claude-opus-4-5-20251101"),
		StartedAt: time.Now().UTC(),
	}
}

func TestNew(t *testing.T) {
	b := New(makeSession())
	if b.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", b.Version, CurrentVersion)
	}
	if b.FileHistories == nil {
		t.Error("FileHistories not initialized")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := New(makeSession())
	after := snapshot.New("a\nb\n")
	b.RecordEdit("a.go", nil, after, snapshot.ToolWrite, "write a file", nil, snapshot.EditContext{})

	if err := b.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil for saved buffer")
	}
	if loaded.Session.SessionID != b.Session.SessionID {
		t.Errorf("SessionID = %s, want %s", loaded.Session.SessionID, b.Session.SessionID)
	}
	h := loaded.FileHistories["a.go"]
	if h == nil || len(h.Edits) != 1 {
		t.Fatalf("history = %+v, want one edit", h)
	}
	if h.Edits[0].After.ContentHash != after.ContentHash {
		t.Errorf("after hash = %s, want %s", h.Edits[0].After.ContentHash, after.ContentHash)
	}
	if !h.WasNewFile {
		t.Error("WasNewFile = false, want true for nil before")
	}
}

func TestLoad_Missing(t *testing.T) {
	buf, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if buf != nil {
		t.Errorf("Load = %+v, want nil for missing file", buf)
	}
}

func TestLoad_CorruptBacksUp(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte("{ not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	buf, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if buf != nil {
		t.Errorf("Load = %+v, want nil for corrupt file", buf)
	}
	if _, err := os.Stat(Path(dir)); !os.IsNotExist(err) {
		t.Error("corrupt buffer still present")
	}

	entries, _ := os.ReadDir(dir)
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".whogitit-pending.corrupted.") {
			found = true
		}
	}
	if !found {
		t.Error("no backup of the corrupt buffer written")
	}
}

func TestSave_AtomicNoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	b := New(makeSession())
	b.RecordEdit("a.go", nil, snapshot.New("x\n"), snapshot.ToolWrite, "p", nil, snapshot.EditContext{})
	if err := b.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(Path(dir) + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}
	info, err := os.Stat(Path(dir))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("buffer mode = %o, want 0600", perm)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	b := New(makeSession())
	b.RecordEdit("a.go", nil, snapshot.New("x\n"), snapshot.ToolWrite, "p", nil, snapshot.EditContext{})
	if err := b.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(Path(dir)+".tmp", []byte("leftover"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Delete(dir); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(Path(dir)); !os.IsNotExist(err) {
		t.Error("buffer still present after Delete")
	}
	if _, err := os.Stat(Path(dir) + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file still present after Delete")
	}

	// Deleting an absent buffer is not an error.
	if err := Delete(dir); err != nil {
		t.Errorf("Delete of missing buffer: %v", err)
	}
}

func TestValidate(t *testing.T) {
	b := New(makeSession())
	b.RecordEdit("a.go", nil, snapshot.New("x\n"), snapshot.ToolWrite, "p", nil, snapshot.EditContext{})
	if err := b.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bad := New(makeSession())
	bad.Version = 99
	if err := bad.Validate(); err == nil {
		t.Error("Validate accepted version 99")
	}

	bad2 := New(makeSession())
	bad2.Session.SessionID = "not-a-uuid"
	if err := bad2.Validate(); err == nil {
		t.Error("Validate accepted a non-UUID session id")
	}

	bad3 := New(makeSession())
	bad3.Session.PromptCount = 5
	if err := bad3.Validate(); err == nil {
		t.Error("Validate accepted a prompt count mismatch")
	}
}

func TestRecordEdit_ChainsSnapshots(t *testing.T) {
	b := New(makeSession())
	orig := snapshot.New("a\n")
	b.RecordEdit("a.go", &orig, snapshot.New("a\nb\n"), snapshot.ToolEdit, "first", nil, snapshot.EditContext{})
	b.RecordEdit("a.go", &orig, snapshot.New("a\nb\nc\n"), snapshot.ToolEdit, "second", nil, snapshot.EditContext{})

	h := b.FileHistories["a.go"]
	if len(h.Edits) != 2 {
		t.Fatalf("edits = %d, want 2", len(h.Edits))
	}
	if !h.ChainIntact() {
		t.Error("chain broken: second before should be first after")
	}
	if h.Edits[1].Before.ContentHash != h.Edits[0].After.ContentHash {
		t.Error("second edit's before is not the first edit's after")
	}
	if h.WasNewFile {
		t.Error("WasNewFile = true with an original snapshot")
	}
}

func TestRecordEdit_PromptIndexing(t *testing.T) {
	b := New(makeSession())
	b.RecordEdit("a.go", nil, snapshot.New("a\n"), snapshot.ToolWrite, "same prompt", nil, snapshot.EditContext{})
	b.RecordEdit("b.go", nil, snapshot.New("b\n"), snapshot.ToolWrite, "same prompt", nil, snapshot.EditContext{})
	b.RecordEdit("a.go", nil, snapshot.New("a\nc\n"), snapshot.ToolEdit, "new prompt", nil, snapshot.EditContext{})

	if len(b.Prompts) != 2 {
		t.Fatalf("prompts = %d, want 2 (repeat reused)", len(b.Prompts))
	}
	if b.PromptCounter != 2 {
		t.Errorf("PromptCounter = %d, want 2", b.PromptCounter)
	}
	first := b.Prompts[0]
	if len(first.AffectedFiles) != 2 {
		t.Errorf("first prompt affected files = %v, want both paths", first.AffectedFiles)
	}
	if b.FileHistories["a.go"].Edits[1].PromptIndex != 1 {
		t.Errorf("second a.go edit prompt index = %d, want 1", b.FileHistories["a.go"].Edits[1].PromptIndex)
	}
	if b.Session.PromptCount != 2 {
		t.Errorf("Session.PromptCount = %d, want 2", b.Session.PromptCount)
	}
}

func TestRecordEdit_RedactionTally(t *testing.T) {
	b := New(makeSession())
	events := []snapshot.RedactionEvent{{PatternName: "EMAIL", Count: 2}}
	b.RecordEdit("a.go", nil, snapshot.New("a\n"), snapshot.ToolWrite, "p [REDACTED]", events, snapshot.EditContext{})
	if b.TotalRedactions != 2 {
		t.Errorf("TotalRedactions = %d, want 2", b.TotalRedactions)
	}
}

func TestRecordEdit_ContextFlags(t *testing.T) {
	b := New(makeSession())
	b.RecordEdit("a.go", nil, snapshot.New("a\n"), snapshot.ToolWrite, "p", nil, snapshot.EditContext{PlanMode: true, AgentDepth: 2})
	if !b.Session.UsedPlanMode {
		t.Error("UsedPlanMode not propagated")
	}
	if b.Session.SubagentCount != 2 {
		t.Errorf("SubagentCount = %d, want 2", b.Session.SubagentCount)
	}
}

func TestIsStale(t *testing.T) {
	b := New(makeSession())
	if b.IsStale(DefaultMaxAge) {
		t.Error("fresh buffer reported stale")
	}
	b.Session.StartedAt = time.Now().Add(-25 * time.Hour)
	if !b.IsStale(DefaultMaxAge) {
		t.Error("25h-old buffer not reported stale")
	}
}

func TestLoad_PreviousVersionAccepted(t *testing.T) {
	dir := t.TempDir()
	b := New(makeSession())
	b.RecordEdit("a.go", nil, snapshot.New("x\n"), snapshot.ToolWrite, "p", nil, snapshot.EditContext{})
	b.Version = CurrentVersion - 1
	if err := b.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil || loaded == nil {
		t.Fatalf("Load v%d buffer: %v, %v", CurrentVersion-1, loaded, err)
	}
}

func TestPath(t *testing.T) {
	if got := Path("/repo"); got != filepath.Join("/repo", FileName) {
		t.Errorf("Path = %s", got)
	}
}

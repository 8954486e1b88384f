package capture

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/pending"
	"github.com/anthropic/whogitit/internal/snapshot"
)

const testSession = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

func initRepo(t *testing.T) (*gitutil.Repository, *git.Worktree) {
	t.Helper()
	dir := t.TempDir()
	gr, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	setGitIdentity(t, dir)
	wt, err := gr.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	r, err := gitutil.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return r, wt
}

// setGitIdentity pins a repo-local committer so note writes do not
// depend on the host's git configuration.
func setGitIdentity(t *testing.T, dir string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		// Tests that shell out skip themselves; the rest run fine
		// without a configured identity.
		return
	}
	for _, kv := range [][2]string{{"user.name", "test"}, {"user.email", "test@example.com"}} {
		out, err := exec.Command("git", "-C", dir, "config", kv[0], kv[1]).CombinedOutput()
		if err != nil {
			t.Fatalf("git config %s: %v: %s", kv[0], err, out)
		}
	}
}

func commitFile(t *testing.T, r *gitutil.Repository, wt *git.Worktree, path, content, msg string) string {
	t.Helper()
	full := filepath.Join(r.Root(), path)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add(path); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return hash.String()
}

func newTestEngine(t *testing.T, r *gitutil.Repository) *Engine {
	t.Helper()
	t.Setenv(EnvSessionID, testSession)
	return NewEngine(r)
}

func writeWorktreeFile(t *testing.T, r *gitutil.Repository, path, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(r.Root(), path), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPostFile_RecordsEdit(t *testing.T) {
	r, _ := initRepo(t)
	e := newTestEngine(t, r)

	writeWorktreeFile(t, r, "main.go", "package main\n")
	if err := e.Handle(Event{Tool: snapshot.ToolEdit, FilePath: filepath.Join(r.Root(), "main.go"), Phase: PhasePre}); err != nil {
		t.Fatalf("pre: %v", err)
	}

	writeWorktreeFile(t, r, "main.go", "package main\n\nfunc main() {}\n")
	if err := e.Handle(Event{
		Tool:        snapshot.ToolEdit,
		FilePath:    filepath.Join(r.Root(), "main.go"),
		Phase:       PhasePost,
		Description: "Add a main function",
	}); err != nil {
		t.Fatalf("post: %v", err)
	}

	buf, err := pending.Load(r.Root())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if buf == nil {
		t.Fatal("no pending buffer after post event")
	}
	hist, ok := buf.FileHistories["main.go"]
	if !ok {
		t.Fatalf("histories = %v, want main.go", buf.FileHistories)
	}
	if len(hist.Edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(hist.Edits))
	}
	if hist.WasNewFile {
		t.Error("WasNewFile = true for a pre-existing file")
	}
	if hist.Original.Content != "package main\n" {
		t.Errorf("original = %q", hist.Original.Content)
	}
	if len(buf.Prompts) != 1 || buf.Prompts[0].Text != "Add a main function" {
		t.Errorf("prompts = %+v", buf.Prompts)
	}
	if buf.Session.SessionID != testSession {
		t.Errorf("session = %s", buf.Session.SessionID)
	}
}

func TestPostFile_NoOpDropped(t *testing.T) {
	r, _ := initRepo(t)
	e := newTestEngine(t, r)

	writeWorktreeFile(t, r, "a.txt", "same\n")
	abs := filepath.Join(r.Root(), "a.txt")
	_ = e.Handle(Event{Tool: snapshot.ToolWrite, FilePath: abs, Phase: PhasePre})
	_ = e.Handle(Event{Tool: snapshot.ToolWrite, FilePath: abs, Phase: PhasePost, Description: "noop"})

	buf, err := pending.Load(r.Root())
	if err != nil {
		t.Fatal(err)
	}
	if buf != nil {
		t.Errorf("buffer = %+v, want none for an unchanged file", buf)
	}
}

func TestPostFile_NewFile(t *testing.T) {
	r, _ := initRepo(t)
	e := newTestEngine(t, r)

	abs := filepath.Join(r.Root(), "fresh.go")
	_ = e.Handle(Event{Tool: snapshot.ToolWrite, FilePath: abs, Phase: PhasePre})
	writeWorktreeFile(t, r, "fresh.go", "package fresh\n")
	if err := e.Handle(Event{Tool: snapshot.ToolWrite, FilePath: abs, Phase: PhasePost, Description: "create"}); err != nil {
		t.Fatalf("post: %v", err)
	}

	buf, _ := pending.Load(r.Root())
	if buf == nil {
		t.Fatal("no buffer")
	}
	hist := buf.FileHistories["fresh.go"]
	if hist == nil || !hist.WasNewFile {
		t.Errorf("history = %+v, want a new-file history", hist)
	}
}

func TestBash_MultiFile(t *testing.T) {
	r, _ := initRepo(t)
	e := newTestEngine(t, r)

	// a.txt is dirty before the command, b.txt does not exist yet.
	writeWorktreeFile(t, r, "a.txt", "A\n")
	if err := e.Handle(Event{Tool: snapshot.ToolBash, ToolUseID: "inv-1", Phase: PhasePre}); err != nil {
		t.Fatalf("pre: %v", err)
	}

	writeWorktreeFile(t, r, "a.txt", "A\nB\n")
	writeWorktreeFile(t, r, "b.txt", "C\n")
	if err := e.Handle(Event{
		Tool:        snapshot.ToolBash,
		ToolUseID:   "inv-1",
		Phase:       PhasePost,
		Command:     "./generate.sh",
		Description: "regenerate files",
	}); err != nil {
		t.Fatalf("post: %v", err)
	}

	buf, _ := pending.Load(r.Root())
	if buf == nil {
		t.Fatal("no buffer")
	}
	a := buf.FileHistories["a.txt"]
	if a == nil || len(a.Edits) != 1 {
		t.Fatalf("a.txt history = %+v", a)
	}
	if a.Edits[0].Before.Content != "A\n" || a.Edits[0].After.Content != "A\nB\n" {
		t.Errorf("a.txt edit = %q -> %q", a.Edits[0].Before.Content, a.Edits[0].After.Content)
	}
	b := buf.FileHistories["b.txt"]
	if b == nil || !b.WasNewFile {
		t.Fatalf("b.txt history = %+v, want new file", b)
	}
	if len(buf.Prompts) != 1 {
		t.Fatalf("prompts = %+v, want one shared prompt", buf.Prompts)
	}
	if buf.Prompts[0].Text != "[Bash] regenerate files" {
		t.Errorf("prompt = %q", buf.Prompts[0].Text)
	}
}

func TestBash_UnchangedFilesSkipped(t *testing.T) {
	r, _ := initRepo(t)
	e := newTestEngine(t, r)

	writeWorktreeFile(t, r, "a.txt", "A\n")
	_ = e.Handle(Event{Tool: snapshot.ToolBash, ToolUseID: "inv-2", Phase: PhasePre})
	_ = e.Handle(Event{Tool: snapshot.ToolBash, ToolUseID: "inv-2", Phase: PhasePost, Command: "true"})

	buf, _ := pending.Load(r.Root())
	if buf != nil {
		t.Errorf("buffer = %+v, want none when the command changed nothing", buf)
	}
}

func TestBashPrompt_TruncatesCommand(t *testing.T) {
	e := &Engine{}
	long := make([]byte, 0, 400)
	for i := 0; i < 400; i++ {
		long = append(long, 'x')
	}
	got := e.bashPrompt(Event{Command: string(long)})
	want := "[Bash] " + string(long[:bashPromptMaxChars])
	if got != want {
		t.Errorf("prompt length = %d, want %d", len(got), len(want))
	}
}

func TestResolveCommittedPath(t *testing.T) {
	changed := map[string]bool{"new.go": true, "other.go": true}
	renames := map[string]string{"old.go": "new.go"}

	if p, ok := resolveCommittedPath("old.go", changed, renames); !ok || p != "new.go" {
		t.Errorf("old.go -> (%q, %v), want new.go", p, ok)
	}
	if p, ok := resolveCommittedPath("other.go", changed, renames); !ok || p != "other.go" {
		t.Errorf("other.go -> (%q, %v)", p, ok)
	}
	if _, ok := resolveCommittedPath("uncommitted.go", changed, renames); ok {
		t.Error("uncommitted path resolved")
	}
}

func TestPendingStatus(t *testing.T) {
	r, _ := initRepo(t)
	e := newTestEngine(t, r)

	st, err := e.PendingStatus()
	if err != nil {
		t.Fatal(err)
	}
	if st.HasPending {
		t.Error("HasPending = true before any event")
	}

	writeWorktreeFile(t, r, "x.go", "one\ntwo\n")
	abs := filepath.Join(r.Root(), "x.go")
	_ = e.Handle(Event{Tool: snapshot.ToolWrite, FilePath: abs, Phase: PhasePost, Description: "write"})

	st, err = e.PendingStatus()
	if err != nil {
		t.Fatal(err)
	}
	if !st.HasPending || st.FileCount != 1 || st.EditCount != 1 || st.LineCount != 2 {
		t.Errorf("status = %+v", st)
	}

	if err := e.ClearPending(); err != nil {
		t.Fatal(err)
	}
	st, _ = e.PendingStatus()
	if st.HasPending {
		t.Error("HasPending = true after ClearPending")
	}
}

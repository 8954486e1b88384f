package retention

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/anthropic/whogitit/internal/config"
	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/notes"
	"github.com/anthropic/whogitit/internal/snapshot"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// setGitIdentity pins a repo-local committer so note writes do not
// depend on the host's git configuration.
func setGitIdentity(t *testing.T, dir string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		return
	}
	for _, kv := range [][2]string{{"user.name", "test"}, {"user.email", "test@example.com"}} {
		out, err := exec.Command("git", "-C", dir, "config", kv[0], kv[1]).CombinedOutput()
		if err != nil {
			t.Fatalf("git config %s: %v: %s", kv[0], err, out)
		}
	}
}

// commitAt creates a commit with a controlled committer time so age
// policies can be exercised deterministically.
func commitAt(t *testing.T, r *gitutil.Repository, wt *git.Worktree, name string, when time.Time) string {
	t.Helper()
	path := filepath.Join(r.Root(), name)
	if err := os.WriteFile(path, []byte(name+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "test", Email: "t@example.com", When: when}
	hash, err := wt.Commit("add "+name, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatal(err)
	}
	return hash.String()
}

func testAttribution() *snapshot.AIAttribution {
	return &snapshot.AIAttribution{
		Version: snapshot.NoteVersion,
		Session: snapshot.SessionMetadata{SessionID: "11111111-2222-3333-4444-555555555555"},
	}
}

func setup(t *testing.T) (*gitutil.Repository, *git.Worktree, *notes.Store) {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	gr, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
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
	return r, wt, notes.NewStore(r, nil)
}

func TestSweep_NoAgeCeilingRemovesNothing(t *testing.T) {
	r, wt, store := setup(t)
	ctx := context.Background()

	old := time.Now().Add(-500 * 24 * time.Hour)
	sha := commitAt(t, r, wt, "a.txt", old)
	if err := store.Put(ctx, sha, testAttribution(), false); err != nil {
		t.Fatalf("Put: %v", err)
	}

	e := New(r, store, config.RetentionConfig{MinCommits: 0})
	report, err := e.Sweep(ctx, false, "", nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Candidates) != 0 {
		t.Errorf("candidates = %v, want none without max_age_days", report.Candidates)
	}
}

func TestSweep_RetainedRefProtects(t *testing.T) {
	r, wt, store := setup(t)
	ctx := context.Background()

	old := time.Now().Add(-500 * 24 * time.Hour)
	sha := commitAt(t, r, wt, "a.txt", old)
	if err := store.Put(ctx, sha, testAttribution(), false); err != nil {
		t.Fatalf("Put: %v", err)
	}

	head, err := r.Underlying().Head()
	if err != nil {
		t.Fatal(err)
	}

	maxAge := 365
	policy := config.RetentionConfig{
		MaxAgeDays: &maxAge,
		RetainRefs: []string{head.Name().String()},
		MinCommits: 0,
	}
	report, err := New(r, store, policy).Sweep(ctx, false, "", nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Candidates) != 0 {
		t.Errorf("candidates = %v, want commit on retained ref protected", report.Candidates)
	}
}

func TestSweep_MinCommitsProtectsNewest(t *testing.T) {
	r, wt, store := setup(t)
	ctx := context.Background()

	oldSha := commitAt(t, r, wt, "old.txt", time.Now().Add(-500*24*time.Hour))
	newSha := commitAt(t, r, wt, "new.txt", time.Now().Add(-400*24*time.Hour))
	for _, sha := range []string{oldSha, newSha} {
		if err := store.Put(ctx, sha, testAttribution(), false); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	maxAge := 365
	policy := config.RetentionConfig{MaxAgeDays: &maxAge, MinCommits: 1}
	report, err := New(r, store, policy).Sweep(ctx, false, "", nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Candidates) != 1 || report.Candidates[0] != oldSha {
		t.Errorf("candidates = %v, want only %s", report.Candidates, oldSha)
	}
}

func TestSweep_ExecuteRemovesNotes(t *testing.T) {
	r, wt, store := setup(t)
	ctx := context.Background()

	sha := commitAt(t, r, wt, "a.txt", time.Now().Add(-500*24*time.Hour))
	if err := store.Put(ctx, sha, testAttribution(), false); err != nil {
		t.Fatalf("Put: %v", err)
	}

	maxAge := 365
	policy := config.RetentionConfig{MaxAgeDays: &maxAge, MinCommits: 0}
	report, err := New(r, store, policy).Sweep(ctx, true, "test sweep", nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Removed != 1 {
		t.Errorf("removed = %d, want 1", report.Removed)
	}
	attr, err := store.Fetch(ctx, sha)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if attr != nil {
		t.Error("note survived an executed sweep")
	}
}

// Package gitutil wraps repository access: go-git for object reads,
// blame, and worktree status, plus bounded git subprocess invocations
// for the operations go-git does not cover well.
package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommandTimeout bounds every git subprocess invocation.
const CommandTimeout = 10 * time.Second

// binarySniffLen is how many leading bytes the binary heuristic inspects.
const binarySniffLen = 8000

// ErrNotFound reports a missing object, path, or note.
var ErrNotFound = errors.New("not found")

// Repository wraps an open git repository and its worktree root.
type Repository struct {
	repo *git.Repository
	root string
}

// Open discovers the repository containing dir.
func Open(dir string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository worktree: %w", err)
	}
	return &Repository{repo: repo, root: wt.Filesystem.Root()}, nil
}

// Root returns the worktree root path.
func (r *Repository) Root() string {
	return r.root
}

// Underlying exposes the go-git repository for blame and revwalk.
func (r *Repository) Underlying() *git.Repository {
	return r.repo
}

// Head returns the commit HEAD points at.
func (r *Repository) Head() (*object.Commit, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}
	return commit, nil
}

// ResolveCommit resolves a revision expression (HEAD, branch, sha
// prefix) to a commit.
func (r *Repository) ResolveCommit(rev string) (*object.Commit, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	return commit, nil
}

// FileAtCommit returns the text content of path in the given commit.
// Binary or non-UTF-8 content reports ErrNotFound so callers treat the
// file as unattributable.
func (r *Repository) FileAtCommit(commit *object.Commit, path string) (string, error) {
	f, err := commit.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup %s at %s: %w", path, commit.Hash, err)
	}
	rd, err := f.Blob.Reader()
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", path, err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", path, err)
	}
	if IsBinary(data) || !utf8.Valid(data) {
		return "", ErrNotFound
	}
	return string(data), nil
}

// FileAtHead returns the text content of path at HEAD, or ErrNotFound.
func (r *Repository) FileAtHead(path string) (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", ErrNotFound
	}
	return r.FileAtCommit(head, path)
}

// DirtyFiles lists worktree-relative paths that are modified, staged,
// or untracked, sorted.
func (r *Repository) DirtyFiles() ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	var paths []string
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		if st.Worktree == git.Deleted || st.Staging == git.Deleted {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// RelPath maps an absolute path to a worktree-relative one. Paths
// outside the worktree are an error, as are traversals.
func (r *Repository) RelPath(abs string) (string, error) {
	if abs == "" {
		return "", fmt.Errorf("empty path")
	}
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.root, abs)
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the repository", abs)
	}
	return filepath.ToSlash(rel), nil
}

// Git runs a git subcommand in the repository root with a bounded wall
// time, returning stdout.
func (r *Repository) Git(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timed out after %s", args[0], CommandTimeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// GitWithInput is Git with data piped to stdin.
func (r *Repository) GitWithInput(ctx context.Context, input string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	cmd.Stdin = strings.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timed out after %s", args[0], CommandTimeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// IsShallow reports whether the repository is a shallow clone, where
// blame and attribution history may be incomplete.
func (r *Repository) IsShallow(ctx context.Context) bool {
	out, err := r.Git(ctx, "rev-parse", "--is-shallow-repository")
	return err == nil && strings.TrimSpace(out) == "true"
}

// IsBinary applies the git heuristic: a NUL byte within the leading
// bytes marks the content binary.
func IsBinary(data []byte) bool {
	n := len(data)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

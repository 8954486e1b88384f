// Package notes persists attribution records as git notes under a
// dedicated ref, so attribution rides with the repository without
// rewriting commits. All note manipulation shells out to git with a
// bounded wall time.
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/redact"
	"github.com/anthropic/whogitit/internal/snapshot"
)

// Ref is the notes namespace.
const Ref = "refs/notes/whogitit"

// Payload size guardrails.
const (
	SizeWarn = 512 * 1024
	SizeMax  = 4 * 1024 * 1024
)

var (
	// ErrNoteExists reports an attempted overwrite without force.
	ErrNoteExists = errors.New("attribution note already exists")
	// ErrPayloadTooLarge reports a payload over the hard limit.
	ErrPayloadTooLarge = fmt.Errorf("attribution payload exceeds %d bytes", SizeMax)
)

// Store reads and writes attribution notes for one repository.
type Store struct {
	repo     *gitutil.Repository
	redactor *redact.Redactor
}

// NewStore builds a store. The redactor is applied to every prompt on
// the way in, making a missed upstream redaction harmless.
func NewStore(repo *gitutil.Repository, redactor *redact.Redactor) *Store {
	if redactor == nil {
		redactor = redact.None()
	}
	return &Store{repo: repo, redactor: redactor}
}

// CheckPayloadSize enforces the guardrails: hard-reject over SizeMax,
// warn at or above SizeWarn.
func CheckPayloadSize(n int) (warn bool, err error) {
	if n > SizeMax {
		return false, ErrPayloadTooLarge
	}
	return n >= SizeWarn, nil
}

// Put stores the attribution against commit. An existing note is never
// replaced unless overwrite is set.
func (s *Store) Put(ctx context.Context, commit string, attr *snapshot.AIAttribution, overwrite bool) error {
	redacted := *attr
	redacted.Prompts = make([]snapshot.PromptRecord, len(attr.Prompts))
	copy(redacted.Prompts, attr.Prompts)
	for i := range redacted.Prompts {
		redacted.Prompts[i].Text, _ = s.redactor.Redact(redacted.Prompts[i].Text)
	}

	data, err := json.MarshalIndent(&redacted, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize attribution: %w", err)
	}
	warn, err := CheckPayloadSize(len(data))
	if err != nil {
		return fmt.Errorf("store attribution for %s: %w", commit, err)
	}
	if warn {
		log.Printf("notes: attribution for %s is %d bytes; consider trimming stored content", commit, len(data))
	}

	if !overwrite {
		existing, err := s.Fetch(ctx, commit)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("store attribution for %s: %w", commit, ErrNoteExists)
		}
	}

	args := []string{"notes", "--ref", Ref, "add", "-f", "-F", "-", commit}
	if _, err := s.repo.GitWithInput(ctx, string(data), args...); err != nil {
		return fmt.Errorf("write note for %s: %w", commit, err)
	}
	return nil
}

// Fetch loads the attribution for commit, or (nil, nil) when absent. A
// corrupt note is reported as absent so queries degrade to Unknown
// rather than fail.
func (s *Store) Fetch(ctx context.Context, commit string) (*snapshot.AIAttribution, error) {
	out, err := s.repo.Git(ctx, "notes", "--ref", Ref, "show", commit)
	if err != nil {
		if isNoNoteError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read note for %s: %w", commit, err)
	}
	var attr snapshot.AIAttribution
	if err := json.Unmarshal([]byte(out), &attr); err != nil {
		log.Printf("notes: corrupt note for %s: %v", commit, err)
		return nil, nil
	}
	return &attr, nil
}

// Remove deletes the note for commit. Removing an absent note is not an
// error.
func (s *Store) Remove(ctx context.Context, commit string) error {
	if _, err := s.repo.Git(ctx, "notes", "--ref", Ref, "remove", commit); err != nil {
		if isNoNoteError(err) {
			return nil
		}
		return fmt.Errorf("remove note for %s: %w", commit, err)
	}
	return nil
}

// List returns every commit id that carries a note.
func (s *Store) List(ctx context.Context) ([]string, error) {
	out, err := s.repo.Git(ctx, "notes", "--ref", Ref, "list")
	if err != nil {
		// An absent notes ref means nothing is stored yet.
		if strings.Contains(err.Error(), Ref) || isNoNoteError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return ParseListOutput(out), nil
}

// ParseListOutput extracts annotated commit ids from `git notes list`
// output, which is one "<note blob> <commit>" pair per line.
func ParseListOutput(out string) []string {
	var commits []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			commits = append(commits, fields[1])
		}
	}
	return commits
}

// Copy carries the attribution from one commit to another verbatim,
// used when history rewrites produce new SHAs.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	attr, err := s.Fetch(ctx, from)
	if err != nil {
		return err
	}
	if attr == nil {
		return fmt.Errorf("copy note %s -> %s: source has no attribution", from, to)
	}
	return s.Put(ctx, to, attr, false)
}

func isNoNoteError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no note found") || strings.Contains(msg, "No note found")
}

// Package retention prunes old attribution notes under a policy of
// protected refs, a minimum kept count, and an age ceiling. Sweeps are
// dry-run unless explicitly executed.
package retention

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/anthropic/whogitit/internal/audit"
	"github.com/anthropic/whogitit/internal/config"
	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/notes"
)

// Engine applies a retention policy to a repository's notes.
type Engine struct {
	repo   *gitutil.Repository
	store  *notes.Store
	policy config.RetentionConfig
}

// Report describes one sweep: what was examined, what is protected,
// and what would be (or was) removed.
type Report struct {
	Noted      int
	Protected  int
	Candidates []string
	Removed    int
	DryRun     bool
}

// New builds a retention engine.
func New(repo *gitutil.Repository, store *notes.Store, policy config.RetentionConfig) *Engine {
	return &Engine{repo: repo, store: store, policy: policy}
}

// Sweep computes and, when execute is set, applies the policy. The
// reason string is recorded in the audit log for executed sweeps.
func (e *Engine) Sweep(ctx context.Context, execute bool, reason string, auditLog *audit.Log) (*Report, error) {
	report := &Report{DryRun: !execute}

	noted, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	report.Noted = len(noted)
	if len(noted) == 0 {
		return report, nil
	}

	// Age-based pruning is opt-in; without a ceiling nothing expires.
	if e.policy.MaxAgeDays == nil {
		report.Protected = len(noted)
		return report, nil
	}
	cutoff := time.Now().Add(-time.Duration(*e.policy.MaxAgeDays) * 24 * time.Hour)

	commitTimes := make(map[string]time.Time, len(noted))
	for _, sha := range noted {
		c, err := e.repo.ResolveCommit(sha)
		if err != nil {
			// A noted commit may have been garbage collected; its
			// note is unreachable state, leave it for git to drop.
			log.Printf("retention: noted commit %s unresolvable: %v", sha, err)
			continue
		}
		commitTimes[c.Hash.String()] = c.Committer.When
	}

	protected, err := e.protectedSet(commitTimes)
	if err != nil {
		return nil, err
	}

	for sha, when := range commitTimes {
		if protected[sha] {
			continue
		}
		if when.Before(cutoff) {
			report.Candidates = append(report.Candidates, sha)
		}
	}
	sort.Strings(report.Candidates)
	report.Protected = len(commitTimes) - len(report.Candidates)

	if !execute {
		return report, nil
	}

	for _, sha := range report.Candidates {
		if err := e.store.Remove(ctx, sha); err != nil {
			return report, fmt.Errorf("remove note for %s: %w", sha, err)
		}
		report.Removed++
	}
	if auditLog != nil && report.Removed > 0 {
		if err := auditLog.LogRetention(report.Removed, reason); err != nil {
			log.Printf("retention: audit log failed: %v", err)
		}
	}
	return report, nil
}

// protectedSet is every noted commit reachable from a retained ref,
// plus the newest MinCommits noted commits regardless of ref.
func (e *Engine) protectedSet(commitTimes map[string]time.Time) (map[string]bool, error) {
	protected := make(map[string]bool)

	for _, refName := range e.policy.RetainRefs {
		ref, err := e.repo.Underlying().Reference(plumbing.ReferenceName(refName), true)
		if err != nil {
			// A configured ref that does not exist protects nothing.
			continue
		}
		start, err := object.GetCommit(e.repo.Underlying().Storer, ref.Hash())
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", refName, err)
		}
		iter := object.NewCommitPreorderIter(start, nil, nil)
		err = iter.ForEach(func(c *object.Commit) error {
			sha := c.Hash.String()
			if _, noted := commitTimes[sha]; noted {
				protected[sha] = true
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", refName, err)
		}
	}

	if e.policy.MinCommits > 0 {
		byTime := make([]string, 0, len(commitTimes))
		for sha := range commitTimes {
			byTime = append(byTime, sha)
		}
		sort.Slice(byTime, func(i, j int) bool {
			ti, tj := commitTimes[byTime[i]], commitTimes[byTime[j]]
			if ti.Equal(tj) {
				return byTime[i] < byTime[j]
			}
			return ti.After(tj)
		})
		keep := e.policy.MinCommits
		if keep > len(byTime) {
			keep = len(byTime)
		}
		for _, sha := range byTime[:keep] {
			protected[sha] = true
		}
	}

	return protected, nil
}

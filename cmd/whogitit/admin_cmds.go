package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anthropic/whogitit/internal/audit"
	"github.com/anthropic/whogitit/internal/cache"
	"github.com/anthropic/whogitit/internal/capture"
	"github.com/anthropic/whogitit/internal/config"
	"github.com/anthropic/whogitit/internal/notes"
	"github.com/anthropic/whogitit/internal/redact"
	"github.com/anthropic/whogitit/internal/retention"
	"github.com/anthropic/whogitit/internal/trailers"
	"github.com/anthropic/whogitit/internal/watch"
)

func retentionCmd() *cobra.Command {
	var (
		execute bool
		reason  string
	)
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Apply the note retention policy (dry-run by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			cfg := config.LoadLenient(repo.Root())
			store := notes.NewStore(repo, nil)

			var auditLog *audit.Log
			if cfg.Privacy.AuditLog {
				auditLog = audit.New(repo.Root())
			}

			engine := retention.New(repo, store, cfg.Retention)
			report, err := engine.Sweep(cmd.Context(), execute, reason, auditLog)
			if err != nil {
				return err
			}

			fmt.Printf("Noted commits:     %d\n", report.Noted)
			fmt.Printf("Protected:         %d\n", report.Protected)
			fmt.Printf("Expired:           %d\n", len(report.Candidates))
			if report.DryRun {
				for _, c := range report.Candidates {
					fmt.Printf("  would remove %s\n", shortCommit(c))
				}
				if len(report.Candidates) > 0 {
					fmt.Println("Dry run. Re-run with --execute to remove these notes.")
				}
				return nil
			}

			fmt.Printf("Removed %d attribution note(s).\n", report.Removed)
			invalidateCache(repo.Root(), report.Candidates)
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "remove expired notes instead of listing them")
	cmd.Flags().StringVar(&reason, "reason", "retention policy", "reason recorded in the audit log")
	return cmd
}

// invalidateCache drops summary cache rows for removed commits. Cache
// problems are not fatal; the cache is rebuilt on demand.
func invalidateCache(root string, commits []string) {
	if len(commits) == 0 {
		return
	}
	c, err := cache.Open(root)
	if err != nil {
		return
	}
	defer c.Close()
	for _, sha := range commits {
		_ = c.Invalidate(sha)
	}
}

func shortCommit(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func auditCmd() *cobra.Command {
	var (
		since     string
		eventType string
		jsonOut   bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the privacy audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			log := audit.New(repo.Root())
			if !log.Exists() {
				if jsonOut {
					fmt.Println("[]")
					return nil
				}
				fmt.Println("No audit log. Enable it with '[privacy] audit_log = true' in .whogitit.toml.")
				return nil
			}

			var events []audit.Event
			if since != "" {
				cutoff, err := time.Parse("2006-01-02", since)
				if err != nil {
					return usageError{fmt.Errorf("invalid --since %q, want YYYY-MM-DD", since)}
				}
				events, err = log.ReadSince(cutoff)
				if err != nil {
					return err
				}
			} else {
				events, err = log.ReadAll()
				if err != nil {
					return err
				}
			}

			if eventType != "" {
				if !validEventType(eventType) {
					return usageError{fmt.Errorf("unknown event type %q", eventType)}
				}
				kept := events[:0]
				for _, e := range events {
					if e.EventType == eventType {
						kept = append(kept, e)
					}
				}
				events = kept
			}

			sort.SliceStable(events, func(i, j int) bool {
				return events[i].Timestamp.After(events[j].Timestamp)
			})
			if limit > 0 && len(events) > limit {
				events = events[:limit]
			}

			if jsonOut {
				return printJSON(events)
			}
			for _, e := range events {
				fmt.Println(formatAuditEvent(e))
			}
			if len(events) == 0 {
				fmt.Println("No matching events.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only events on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&eventType, "event-type", "", "filter: delete, export, retention_apply, config_change or redaction")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "machine-readable output")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")

	cmd.AddCommand(auditVerifyCmd())
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			log := audit.New(repo.Root())
			if !log.Exists() {
				fmt.Println("No audit log to verify.")
				return nil
			}
			if err := log.Verify(); err != nil {
				return fmt.Errorf("audit log verification failed: %w", err)
			}
			events, err := log.ReadAll()
			if err != nil {
				return err
			}
			fmt.Printf("Audit log verified: %d event(s), hash chain intact.\n", len(events))
			return nil
		},
	}
}

func validEventType(t string) bool {
	switch t {
	case audit.EventDelete, audit.EventExport, audit.EventRetentionApply,
		audit.EventConfigChange, audit.EventRedaction:
		return true
	}
	return false
}

func formatAuditEvent(e audit.Event) string {
	parts := []string{e.Timestamp.Format(time.RFC3339), e.EventType}
	if e.Commit != "" {
		parts = append(parts, "commit:"+shortCommit(e.Commit))
	}
	if e.CommitCount > 0 {
		parts = append(parts, fmt.Sprintf("commits:%d", e.CommitCount))
	}
	if e.Format != "" {
		parts = append(parts, "format:"+e.Format)
	}
	if e.PatternName != "" {
		parts = append(parts, "pattern:"+e.PatternName)
	}
	if e.RedactionCount > 0 {
		parts = append(parts, fmt.Sprintf("redactions:%d", e.RedactionCount))
	}
	if e.User != "" {
		parts = append(parts, "user:"+e.User)
	}
	s := strings.Join(parts, " ")
	if e.Reason != "" {
		s += " - " + e.Reason
	}
	return s
}

func redactTestCmd() *cobra.Command {
	var (
		text         string
		file         string
		matchesOnly  bool
		auditTrail   bool
		listPatterns bool
		jsonOut      bool
	)
	cmd := &cobra.Command{
		Use:   "redact-test",
		Short: "Test redaction patterns against sample text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var redactor *redact.Redactor
			if repo, err := openRepo(); err == nil {
				redactor = config.LoadLenient(repo.Root()).Privacy.BuildRedactor()
			} else {
				redactor = redact.NewRedactor(redact.Builtin())
			}

			if listPatterns {
				for _, p := range redactor.Patterns() {
					fmt.Printf("%-16s %s\n", p.Name, p.Description)
				}
				return nil
			}

			if text != "" && file != "" {
				return usageError{fmt.Errorf("--text and --file are mutually exclusive")}
			}
			input := text
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				input = string(data)
			}
			if input == "" {
				return usageError{fmt.Errorf("provide --text or --file")}
			}

			output, matches := redactor.Redact(input)

			switch {
			case jsonOut:
				return printJSON(struct {
					InputLength int            `json:"input_length"`
					Output      string         `json:"output"`
					MatchCount  int            `json:"match_count"`
					Matches     []redact.Match `json:"matches"`
				}{len(input), output, len(matches), matches})

			case auditTrail:
				if len(matches) == 0 {
					fmt.Println("No sensitive data detected.")
					return nil
				}
				for _, m := range matches {
					fmt.Printf("%s [%d:%d] %s\n", m.PatternName, m.Start, m.End, m.Preview)
				}
				return nil

			case matchesOnly:
				if len(matches) == 0 {
					fmt.Println("No sensitive data detected.")
					return nil
				}
				for _, m := range matches {
					preview := m.Preview
					if len(preview) > 40 {
						preview = preview[:40]
					}
					fmt.Printf("%s: %s\n", m.PatternName, preview)
				}
				return nil

			default:
				if len(matches) == 0 {
					fmt.Println("No sensitive data detected.")
					return nil
				}
				fmt.Println(output)
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text to test")
	cmd.Flags().StringVar(&file, "file", "", "file whose contents to test")
	cmd.Flags().BoolVar(&matchesOnly, "matches-only", false, "list matched patterns instead of redacted output")
	cmd.Flags().BoolVar(&auditTrail, "audit", false, "show the full redaction trail")
	cmd.Flags().BoolVar(&listPatterns, "list-patterns", false, "list active patterns and exit")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "machine-readable output")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pending attribution buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			st, err := capture.NewEngine(repo).PendingStatus()
			if err != nil {
				return err
			}
			if !st.HasPending {
				fmt.Println("No pending AI attribution.")
				return nil
			}
			fmt.Println("Pending AI attribution:")
			fmt.Printf("  Session: %s\n", st.SessionID)
			fmt.Printf("  Files:   %d\n", st.FileCount)
			fmt.Printf("  Edits:   %d\n", st.EditCount)
			fmt.Printf("  Lines:   %d\n", st.LineCount)
			fmt.Printf("  Prompts: %d\n", st.PromptCount)
			fmt.Printf("  Age:     %s\n", st.Age.Round(time.Minute))
			if st.IsStale {
				fmt.Printf("Warning: buffer is > %.0f hours old. Run 'whogitit clear' if this session is abandoned.\n",
					st.MaxAge.Hours())
			} else {
				fmt.Println("Run 'git commit' to finalize attribution.")
			}
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard the pending attribution buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			if err := capture.NewEngine(repo).ClearPending(); err != nil {
				return err
			}
			fmt.Println("Cleared pending AI attribution.")
			return nil
		},
	}
}

func copyNotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy-notes [<old-sha> <new-sha>]",
		Short: "Copy attribution notes to rewritten commits",
		Long:  "Copies the attribution note from one commit to another. With no arguments, reads 'old new' pairs from stdin, matching git's post-rewrite hook input.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or an old/new pair")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			store := notes.NewStore(repo, nil)

			var pairs [][2]string
			if len(args) == 2 {
				pairs = append(pairs, [2]string{args[0], args[1]})
			} else {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					fields := strings.Fields(scanner.Text())
					if len(fields) < 2 {
						continue
					}
					pairs = append(pairs, [2]string{fields[0], fields[1]})
				}
				if err := scanner.Err(); err != nil {
					return err
				}
			}

			copied := 0
			for _, p := range pairs {
				if err := store.Copy(cmd.Context(), p[0], p[1]); err != nil {
					continue
				}
				copied++
			}
			if copied > 0 {
				fmt.Printf("Preserved attribution for %d commit(s).\n", copied)
			}
			return nil
		},
	}
	return cmd
}

func trailersCmd() *cobra.Command {
	var messageFile string
	cmd := &cobra.Command{
		Use:   "trailers [revision]",
		Short: "Print attribution trailers for a commit's note",
		Long:  "Generates the AI attribution trailer block from a commit's note. With --message-file the block is appended to that commit message file instead.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revision := "HEAD"
			if len(args) == 1 {
				revision = args[0]
			}
			repo, err := openRepo()
			if err != nil {
				return err
			}
			commit, err := repo.ResolveCommit(revision)
			if err != nil {
				return err
			}
			sha := commit.Hash.String()
			attr, err := notes.NewStore(repo, nil).Fetch(cmd.Context(), sha)
			if err != nil {
				return err
			}
			if attr == nil {
				return fmt.Errorf("no attribution note on %s", shortCommit(sha))
			}

			stats := trailers.Stats{}
			for _, f := range attr.Files {
				stats.AILines += f.Summary.AI
				stats.AIModifiedLines += f.Summary.AIModified
				stats.HumanLines += f.Summary.Human
			}
			block := trailers.Generate(attr.Session.SessionID, attr.Session.Model.ID, stats)

			if messageFile != "" {
				data, err := os.ReadFile(messageFile)
				if err != nil {
					return err
				}
				if trailers.Parse(string(data)).HasAITrailers() {
					return nil
				}
				return os.WriteFile(messageFile, []byte(trailers.Append(string(data), block)), 0o644)
			}
			fmt.Println(trailers.Format(block))
			return nil
		},
	}
	cmd.Flags().StringVar(&messageFile, "message-file", "", "append the block to this commit message file")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		transcript string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the current session's attribution activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			updates := make(chan watch.Update, 16)
			errCh := make(chan error, 1)
			go func() {
				errCh <- watch.New(repo.Root(), transcript).Run(ctx, updates)
			}()

			for {
				select {
				case <-ctx.Done():
					return <-errCh
				case err := <-errCh:
					return err
				case u := <-updates:
					if jsonOut {
						if err := printJSON(u); err != nil {
							return err
						}
						continue
					}
					renderWatchUpdate(u)
				}
			}
		},
	}
	cmd.Flags().StringVar(&transcript, "transcript", "", "agent transcript to tail for prompts")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "machine-readable output, one JSON object per update")
	return cmd
}

func renderWatchUpdate(u watch.Update) {
	ts := u.Timestamp.Format("15:04:05")
	switch u.Kind {
	case watch.KindPrompt:
		fmt.Printf("%s prompt: %s\n", ts, u.Prompt)
	case watch.KindBuffer:
		if u.Buffer == nil {
			fmt.Printf("%s no pending attribution\n", ts)
			return
		}
		edits := 0
		for _, h := range u.Buffer.FileHistories {
			edits += len(h.Edits)
		}
		fmt.Printf("%s pending: %d file(s), %d edit(s), %d prompt(s)\n",
			ts, len(u.Buffer.FileHistories), edits, len(u.Buffer.Prompts))
	}
}

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/anthropic/whogitit/internal/aiblame"
	"github.com/anthropic/whogitit/internal/audit"
	"github.com/anthropic/whogitit/internal/cache"
	"github.com/anthropic/whogitit/internal/config"
	"github.com/anthropic/whogitit/internal/query"
	"github.com/anthropic/whogitit/internal/snapshot"
)

// blameCodeWidth caps the code column in pretty blame output.
const blameCodeWidth = 50

func blameCmd() *cobra.Command {
	var (
		revision  string
		format    string
		aiOnly    bool
		humanOnly bool
	)
	cmd := &cobra.Command{
		Use:   "blame <file>",
		Short: "Show per-line AI attribution for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if aiOnly && humanOnly {
				return usageError{fmt.Errorf("--ai-only and --human-only are mutually exclusive")}
			}
			repo, svc, err := newService()
			if err != nil {
				return err
			}
			if repo.IsShallow(cmd.Context()) {
				fmt.Fprintln(os.Stderr, "whogitit: shallow clone, attribution may be incomplete; run 'git fetch --unshallow'")
			}
			res, err := svc.Blamer().Blame(cmd.Context(), args[0], revision)
			if err != nil {
				return err
			}
			if aiOnly || humanOnly {
				res.Lines = filterBlame(res.Lines, aiOnly)
			}
			switch format {
			case "json":
				return printJSON(struct {
					SchemaVersion int    `json:"schema_version"`
					Schema        string `json:"schema"`
					*aiblame.Result
				}{query.SchemaVersion, query.SchemaBlame, res})
			case "pretty":
				renderBlame(os.Stdout, res)
				return nil
			default:
				return usageError{fmt.Errorf("unknown format %q, want pretty or json", format)}
			}
		},
	}
	cmd.Flags().StringVar(&revision, "revision", "", "revision to blame (default HEAD)")
	cmd.Flags().StringVar(&format, "format", "pretty", "output format: pretty or json")
	cmd.Flags().BoolVar(&aiOnly, "ai-only", false, "show only AI-attributed lines")
	cmd.Flags().BoolVar(&humanOnly, "human-only", false, "show only human-attributed lines")
	return cmd
}

func filterBlame(lines []aiblame.Line, ai bool) []aiblame.Line {
	out := lines[:0]
	for _, l := range lines {
		if l.Source.IsAI() == ai {
			out = append(out, l)
		}
	}
	return out
}

func sourceMarker(t snapshot.SourceType) string {
	switch t {
	case snapshot.SourceAI:
		return "●"
	case snapshot.SourceAIModified:
		return "◐"
	case snapshot.SourceHuman:
		return "+"
	case snapshot.SourceOriginal:
		return "─"
	default:
		return "?"
	}
}

func renderBlame(w io.Writer, res *aiblame.Result) {
	fmt.Fprintf(w, "%s @ %s\n\n", res.Path, res.Revision)
	fmt.Fprintln(w, "LINE  │ COMMIT   │ AUTHOR          │ SRC │ CODE")

	var firstPrompt string
	for _, l := range res.Lines {
		code := l.Content
		if len(code) > blameCodeWidth {
			code = code[:blameCodeWidth]
		}
		fmt.Fprintf(w, "%5d │ %-8s │ %-15.15s │  %s  │ %s\n",
			l.LineNumber, l.CommitShort, l.Author, sourceMarker(l.Source.Type), code)
		if firstPrompt == "" && l.PromptPreview != "" {
			firstPrompt = l.PromptPreview
		}
	}

	s := res.Summary()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "● AI  ◐ AI-modified  + Human  ─ Original  ? Unknown")
	if s.Total > 0 {
		aiPct := float64(s.AI+s.AIModified) / float64(s.Total) * 100
		fmt.Fprintf(w, "%d lines: %d AI, %d AI-modified, %d human, %d original, %d unknown (%.1f%% AI)\n",
			s.Total, s.AI, s.AIModified, s.Human, s.Original, s.Unknown, aiPct)
	}
	if firstPrompt != "" {
		fmt.Fprintf(w, "First AI prompt: %s\n", firstPrompt)
	}
}

func promptCmd() *cobra.Command {
	var (
		revision string
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "prompt <file:line>",
		Short: "Show the prompt that produced a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, line, err := query.ParseLineRef(args[0])
			if err != nil {
				return usageError{err}
			}
			_, svc, err := newService()
			if err != nil {
				return err
			}
			res, err := svc.PromptAt(cmd.Context(), path, line, revision)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(res)
			}
			fmt.Printf("%s:%d (%s, commit %s)\n\n", res.File, res.Line, res.Source, shortCommit(res.Commit))
			fmt.Println(res.PromptText)
			fmt.Printf("\nSession %s, model %s\n", res.Session.ID, res.Session.Model)
			return nil
		},
	}
	cmd.Flags().StringVar(&revision, "revision", "", "revision to blame (default HEAD)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "machine-readable output")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [revision]",
		Short: "Show the raw attribution note for a commit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revision := ""
			if len(args) == 1 {
				revision = args[0]
			}
			_, svc, err := newService()
			if err != nil {
				return err
			}
			res, err := svc.Show(cmd.Context(), revision)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	return cmd
}

func summaryCmd() *cobra.Command {
	var (
		base   string
		head   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize AI attribution over a commit range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, svc, err := newService()
			if err != nil {
				return err
			}
			if c, cerr := cache.Open(repo.Root()); cerr == nil {
				defer c.Close()
				svc.SetCache(c)
			}
			sum, err := svc.Summarize(cmd.Context(), base, head)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return printJSON(sum)
			case "markdown":
				renderSummaryMarkdown(os.Stdout, sum)
				return nil
			case "pretty":
				renderSummary(os.Stdout, sum)
				return nil
			default:
				return usageError{fmt.Errorf("unknown format %q, want pretty, json or markdown", format)}
			}
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "exclusive range start (default: full history)")
	cmd.Flags().StringVar(&head, "head", "HEAD", "inclusive range end")
	cmd.Flags().StringVar(&format, "format", "pretty", "output format: pretty, json or markdown")
	return cmd
}

func renderSummary(w io.Writer, s *query.Summary) {
	fmt.Fprintf(w, "Commits analyzed: %d (%d with AI attribution)\n", s.CommitsAnalyzed, s.CommitsWithAI)
	fmt.Fprintf(w, "Added lines:      %d total, %d AI, %d AI-modified, %d human (%.1f%% AI)\n",
		s.TotalAdditions, s.AILines, s.AIModifiedLines, s.HumanLines, s.AIPercentage)
	if len(s.Models) > 0 {
		fmt.Fprintf(w, "Models:           %s\n", strings.Join(s.Models, ", "))
	}
	if len(s.Files) == 0 {
		return
	}
	fmt.Fprintln(w, "\nFiles:")
	for _, f := range s.Files {
		status := "modified"
		if f.IsNewFile {
			status = "new"
		}
		fmt.Fprintf(w, "  %-40s +%-5d %3.0f%% AI (%s)\n", f.Path, f.Additions, f.AIPercent, status)
	}
}

// aiEmoji grades AI involvement for markdown summaries.
func aiEmoji(pct float64) string {
	switch {
	case pct >= 80:
		return "🤖🤖🤖"
	case pct >= 50:
		return "🤖🤖"
	case pct >= 20:
		return "🤖"
	default:
		return "👤"
	}
}

func renderSummaryMarkdown(w io.Writer, s *query.Summary) {
	fmt.Fprintf(w, "## AI Attribution Summary %s\n\n", aiEmoji(s.AIPercentage))
	fmt.Fprintf(w, "**%.1f%% AI** of %d added lines across %d commits (%d with attribution).\n\n",
		s.AIPercentage, s.TotalAdditions, s.CommitsAnalyzed, s.CommitsWithAI)
	if len(s.Models) > 0 {
		fmt.Fprintf(w, "Models: %s\n\n", strings.Join(s.Models, ", "))
	}
	if len(s.Files) == 0 {
		return
	}
	fmt.Fprintln(w, "| File | +Added | AI | Human | AI % | Status |")
	fmt.Fprintln(w, "|------|--------|----|-------|------|--------|")
	for _, f := range s.Files {
		status := "modified"
		if f.IsNewFile {
			status = "new"
		}
		fmt.Fprintf(w, "| %s | %d | %d | %d | %.0f%% | %s |\n",
			f.Path, f.Additions, f.AIAdditions, f.HumanLines, f.AIPercent, status)
	}
}

func annotationsCmd() *cobra.Command {
	var (
		revision  string
		mode      string
		threshold float64
		minLines  int
	)
	cmd := &cobra.Command{
		Use:   "annotations",
		Short: "Emit GitHub Checks annotations for a commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := newService()
			if err != nil {
				return err
			}
			res, err := svc.Annotations(cmd.Context(), query.AnnotationOptions{
				Revision:  revision,
				Mode:      query.AnnotationMode(mode),
				Threshold: threshold,
				MinLines:  minLines,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&revision, "revision", "", "commit to annotate (default HEAD)")
	cmd.Flags().StringVar(&mode, "mode", "auto", "annotation mode: auto, file or lines")
	cmd.Flags().Float64Var(&threshold, "threshold", query.DefaultConsolidateThreshold, "AI coverage above which a file consolidates to one annotation")
	cmd.Flags().IntVar(&minLines, "min-lines", query.DefaultMinLines, "smallest line group worth annotating")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		since       string
		until       string
		format      string
		fullPrompts bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attribution data for external analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, svc, err := newService()
			if err != nil {
				return err
			}
			if c, cerr := cache.Open(repo.Root()); cerr == nil {
				defer c.Close()
				svc.SetCache(c)
			}
			exp, err := svc.Export(cmd.Context(), query.ExportOptions{
				Since:       since,
				Until:       until,
				FullPrompts: fullPrompts,
			})
			if err != nil {
				return err
			}

			switch format {
			case "json":
				err = printJSON(exp)
			case "csv":
				err = exp.WriteCSV(os.Stdout)
			default:
				return usageError{fmt.Errorf("unknown format %q, want json or csv", format)}
			}
			if err != nil {
				return err
			}

			if cfg := config.LoadLenient(repo.Root()); cfg.Privacy.AuditLog {
				if aerr := audit.New(repo.Root()).LogExport(format, len(exp.Commits)); aerr != nil {
					fmt.Fprintf(os.Stderr, "whogitit: audit log: %v\n", aerr)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "include commits on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "include commits on or before this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	cmd.Flags().BoolVar(&fullPrompts, "full-prompts", false, "do not truncate prompt text")
	return cmd
}

func pagerCmd() *cobra.Command {
	var (
		revision string
		noPager  bool
	)
	cmd := &cobra.Command{
		Use:   "pager",
		Short: "Annotate a unified diff from stdin with attribution markers",
		Long:  "Reads a diff on stdin, marks each added line with its attribution, and pages the result. Intended for use as 'git diff | whogitit pager'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := newService()
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := svc.AnnotateDiff(cmd.Context(), revision, os.Stdin, &buf); err != nil {
				return err
			}
			return pageOutput(&buf, noPager)
		},
	}
	cmd.Flags().StringVar(&revision, "revision", "", "revision whose attribution to consult (default HEAD)")
	cmd.Flags().BoolVar(&noPager, "no-pager", false, "write directly to stdout")
	return cmd
}

// pageOutput routes text through $PAGER when stdout is a terminal.
func pageOutput(r io.Reader, noPager bool) error {
	if noPager || !isatty.IsTerminal(os.Stdout.Fd()) {
		_, err := io.Copy(os.Stdout, r)
		return err
	}

	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less -R"
	}
	parts := strings.Fields(pager)
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		// Pager missing, fall back to plain output.
		_, cerr := io.Copy(os.Stdout, r)
		return cerr
	}
	return cmd.Wait()
}

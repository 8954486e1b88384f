// Command whogitit tracks per-line AI attribution in git repositories:
// capture hooks feed an editing session's edits into a pending buffer,
// commit finalization attaches attribution notes, and query commands
// answer who (or what) wrote each line.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthropic/whogitit/internal/gitutil"
	"github.com/anthropic/whogitit/internal/notes"
	"github.com/anthropic/whogitit/internal/query"
)

// usageError marks argument problems so main can exit 2 instead of 1.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func main() {
	rootCmd := &cobra.Command{
		Use:           "whogitit",
		Short:         "AI-aware git blame: track which lines AI wrote",
		Long:          "whogitit records AI editing sessions via agent hooks and attaches per-line attribution to commits as git notes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(blameCmd())
	rootCmd.AddCommand(promptCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(annotationsCmd())
	rootCmd.AddCommand(pagerCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(retentionCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(redactTestCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(trailersCmd())
	rootCmd.AddCommand(copyNotesCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(postCommitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "whogitit: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// openRepo discovers the repository containing the working directory.
func openRepo() (*gitutil.Repository, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return gitutil.Open(wd)
}

// newService opens the repository and builds the query service over its
// notes store.
func newService() (*gitutil.Repository, *query.Service, error) {
	repo, err := openRepo()
	if err != nil {
		return nil, nil, err
	}
	return repo, query.NewService(repo, notes.NewStore(repo, nil)), nil
}

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

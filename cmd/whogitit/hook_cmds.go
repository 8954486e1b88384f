package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthropic/whogitit/internal/cache"
	"github.com/anthropic/whogitit/internal/capture"
)

// Hook commands always exit zero. A capture failure must never break
// the agent's tool call or the user's commit; problems go to stderr.

func captureCmd() *cobra.Command {
	var stdin bool
	cmd := &cobra.Command{
		Use:    "capture",
		Short:  "Record one agent tool event (hook entry point)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stdin {
				fmt.Fprintln(os.Stderr, "whogitit: capture requires --stdin")
				return nil
			}
			ev, err := capture.ParseEvent(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "whogitit: %v\n", err)
				return nil
			}
			repo, err := openRepo()
			if err != nil {
				// Edits outside a repository are not tracked.
				return nil
			}
			if err := capture.NewEngine(repo).Handle(ev); err != nil {
				fmt.Fprintf(os.Stderr, "whogitit: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdin, "stdin", false, "read the event JSON from stdin")
	return cmd
}

func postCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "post-commit",
		Short:  "Finalize pending attribution onto the new commit (hook entry point)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return nil
			}
			attr, err := capture.NewEngine(repo).Finalize(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "whogitit: %v\n", err)
				return nil
			}
			if attr == nil {
				return nil
			}

			// Warm the summary cache for the commit just attributed.
			if head, herr := repo.Head(); herr == nil {
				if c, cerr := cache.Open(repo.Root()); cerr == nil {
					_ = c.Put(cache.FromAttribution(head.Hash.String(), attr))
					c.Close()
				}
			}

			ai := attr.TotalAILines() + attr.TotalAIModifiedLines()
			fmt.Fprintf(os.Stderr, "whogitit: attributed %d AI line(s) across %d file(s)\n", ai, len(attr.Files))
			return nil
		},
	}
}

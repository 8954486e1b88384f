package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anthropic/whogitit/internal/notes"
)

// captureHookScript is the shim installed into the agent's hooks
// directory. It translates the agent's hook payload into a capture
// event and hands it to the binary. jq keeps the shim dependency-free
// beyond what agent users already have.
const captureHookScript = `#!/usr/bin/env bash
# Installed by 'whogitit setup'. Translates agent tool hooks into
# whogitit capture events. Must never fail the hosting tool call.
set -u

command -v jq >/dev/null 2>&1 || exit 0
command -v whogitit >/dev/null 2>&1 || exit 0

payload=$(cat)
tool=$(printf '%s' "$payload" | jq -r '.tool_name // empty')
case "$tool" in
  Edit|Write|Bash) ;;
  *) exit 0 ;;
esac

printf '%s' "$payload" | jq -c '{
  tool: .tool_name,
  file_path: (.tool_input.file_path // ""),
  command: (.tool_input.command // ""),
  description: (.tool_input.description // ""),
  transcript_path: (.transcript_path // ""),
  tool_use_id: (.tool_use_id // ""),
  plan_mode: ((.permission_mode // "") == "plan")
}' | whogitit capture --stdin

exit 0
`

// Repo hook bodies appended by 'whogitit init'. Each carries the
// "whogitit" marker used to detect an existing install.
const (
	postCommitHookBody = `# whogitit: attach AI attribution to the new commit
command -v whogitit >/dev/null 2>&1 && whogitit post-commit 2>/dev/null || true
`

	prePushHookBody = `# whogitit: push attribution notes alongside the branch
if [ "${WHOGITIT_PUSHING_NOTES:-}" != "1" ] && command -v whogitit >/dev/null 2>&1; then
  remote="$1"
  WHOGITIT_PUSHING_NOTES=1 git push "$remote" ` + notes.Ref + ` 2>/dev/null || true
fi
`

	postRewriteHookBody = `# whogitit: preserve attribution across rebase and amend
command -v whogitit >/dev/null 2>&1 && whogitit copy-notes 2>/dev/null || true
`
)

func claudeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude"), nil
}

func hookScriptPath() (string, error) {
	dir, err := claudeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hooks", "whogitit-capture.sh"), nil
}

func settingsPath() (string, error) {
	dir, err := claudeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Install the global agent capture hooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptPath, err := hookScriptPath()
			if err != nil {
				return err
			}

			current, _ := os.ReadFile(scriptPath)
			if string(current) == captureHookScript {
				fmt.Println("Capture hook already up to date.")
			} else {
				if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(scriptPath, []byte(captureHookScript), 0o755); err != nil {
					return err
				}
				fmt.Printf("Installed capture hook: %s\n", scriptPath)
			}

			sp, err := settingsPath()
			if err != nil {
				return err
			}
			changed, warnings, err := mergeSettingsFile(sp, scriptPath)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintf(os.Stderr, "whogitit: %s\n", w)
			}
			if changed {
				fmt.Printf("Updated agent settings: %s\n", sp)
			} else {
				fmt.Println("Agent settings already configured.")
			}
			fmt.Println("Run 'whogitit init' inside each repository to install its git hooks.")
			return nil
		},
	}
}

// hookCommand is the settings entry for one phase.
func hookCommand(phase, scriptPath string) string {
	return fmt.Sprintf("WHOGITIT_HOOK_PHASE=%s %s", phase, scriptPath)
}

// hasPhaseHook reports whether a PreToolUse/PostToolUse list already
// invokes the capture shim for the given phase.
func hasPhaseHook(entries []any, phase string) bool {
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		hooks, ok := m["hooks"].([]any)
		if !ok {
			continue
		}
		for _, h := range hooks {
			hm, ok := h.(map[string]any)
			if !ok {
				continue
			}
			cmdStr, _ := hm["command"].(string)
			if strings.Contains(cmdStr, "whogitit-capture.sh") &&
				strings.Contains(cmdStr, "WHOGITIT_HOOK_PHASE="+phase) {
				return true
			}
		}
	}
	return false
}

// mergeSettings adds the two capture hook entries to a settings
// document, preserving everything else. It reports whether the document
// changed and any structural problems repaired along the way.
func mergeSettings(settings map[string]any, scriptPath string) (bool, []string) {
	var warnings []string

	hooks, ok := settings["hooks"].(map[string]any)
	if !ok {
		if _, present := settings["hooks"]; present {
			warnings = append(warnings, "settings 'hooks' was not an object, replacing it")
		}
		hooks = make(map[string]any)
		settings["hooks"] = hooks
	}

	changed := false
	for _, pc := range []struct{ key, phase string }{
		{"PreToolUse", "pre"},
		{"PostToolUse", "post"},
	} {
		entries, _ := hooks[pc.key].([]any)
		if hasPhaseHook(entries, pc.phase) {
			continue
		}
		entries = append(entries, map[string]any{
			"matcher": "Edit|Write|Bash",
			"hooks": []any{
				map[string]any{
					"type":    "command",
					"command": hookCommand(pc.phase, scriptPath),
				},
			},
		})
		hooks[pc.key] = entries
		changed = true
	}
	return changed, warnings
}

// mergeSettingsFile applies mergeSettings to the file on disk, backing
// up the original before the first write.
func mergeSettingsFile(path, scriptPath string) (bool, []string, error) {
	settings := make(map[string]any)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, &settings); uerr != nil {
			return false, nil, fmt.Errorf("parse %s: %w", path, uerr)
		}
	case os.IsNotExist(err):
	default:
		return false, nil, err
	}

	changed, warnings := mergeSettings(settings, scriptPath)
	if !changed {
		return false, warnings, nil
	}

	if data != nil {
		if err := os.WriteFile(path+".backup", data, 0o644); err != nil {
			return false, warnings, fmt.Errorf("back up settings: %w", err)
		}
	}
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return false, warnings, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, warnings, err
	}
	return true, warnings, os.WriteFile(path, append(out, '\n'), 0o644)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Install this repository's attribution git hooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}

			if !force {
				scriptPath, err := hookScriptPath()
				if err != nil {
					return err
				}
				if _, err := os.Stat(scriptPath); err != nil {
					return fmt.Errorf("global capture hook not installed; run 'whogitit setup' first or pass --force")
				}
			}

			hooksDir := filepath.Join(repo.Root(), ".git", "hooks")
			if err := os.MkdirAll(hooksDir, 0o755); err != nil {
				return err
			}
			for _, h := range []struct{ name, body string }{
				{"post-commit", postCommitHookBody},
				{"pre-push", prePushHookBody},
				{"post-rewrite", postRewriteHookBody},
			} {
				installed, err := installRepoHook(filepath.Join(hooksDir, h.name), h.body)
				if err != nil {
					return err
				}
				if installed {
					fmt.Printf("Installed %s hook.\n", h.name)
				} else {
					fmt.Printf("%s hook already installed.\n", h.name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "install repo hooks even without the global setup")
	return cmd
}

// installRepoHook creates the hook, or appends the whogitit section to
// an existing one. A hook that already mentions whogitit is left alone.
func installRepoHook(path, body string) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	if strings.Contains(string(existing), "whogitit") {
		return false, nil
	}

	if existing == nil {
		content := "#!/bin/sh\n" + body
		return true, os.WriteFile(path, []byte(content), 0o755)
	}

	content := strings.TrimRight(string(existing), "\n") + "\n\n" + body
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return false, err
	}
	return true, nil
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the attribution setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			check := func(ok bool, label, hint string) {
				mark := "ok  "
				if !ok {
					mark = "FAIL"
				}
				fmt.Printf("[%s] %s\n", mark, label)
				if !ok && hint != "" {
					fmt.Printf("       %s\n", hint)
				}
			}

			_, lookErr := exec.LookPath("whogitit")
			check(lookErr == nil, "whogitit on PATH", "install the binary somewhere on $PATH")

			scriptPath, err := hookScriptPath()
			if err != nil {
				return err
			}
			script, readErr := os.ReadFile(scriptPath)
			check(readErr == nil, "capture hook installed", "run 'whogitit setup'")
			if readErr == nil {
				check(string(script) == captureHookScript, "capture hook up to date", "run 'whogitit setup' to refresh it")
				info, _ := os.Stat(scriptPath)
				check(info != nil && info.Mode()&0o111 != 0, "capture hook executable",
					fmt.Sprintf("chmod +x %s", scriptPath))
			}

			sp, err := settingsPath()
			if err != nil {
				return err
			}
			configured := false
			if data, err := os.ReadFile(sp); err == nil {
				var settings map[string]any
				if json.Unmarshal(data, &settings) == nil {
					if hooks, ok := settings["hooks"].(map[string]any); ok {
						pre, _ := hooks["PreToolUse"].([]any)
						post, _ := hooks["PostToolUse"].([]any)
						configured = hasPhaseHook(pre, "pre") && hasPhaseHook(post, "post")
					}
				}
			}
			check(configured, "agent settings configured", "run 'whogitit setup'")

			_, jqErr := exec.LookPath("jq")
			check(jqErr == nil, "jq available", "install jq; the capture shim needs it")

			repo, repoErr := openRepo()
			if repoErr != nil {
				check(false, "inside a git repository", "repo checks skipped")
				return nil
			}
			for _, name := range []string{"post-commit", "pre-push", "post-rewrite"} {
				data, _ := os.ReadFile(filepath.Join(repo.Root(), ".git", "hooks", name))
				check(strings.Contains(string(data), "whogitit"),
					name+" hook installed", "run 'whogitit init'")
			}

			store := notes.NewStore(repo, nil)
			shas, err := store.List(cmd.Context())
			if err == nil {
				orphans := 0
				for _, sha := range shas {
					if _, rerr := repo.ResolveCommit(sha); rerr != nil {
						orphans++
					}
				}
				check(orphans == 0, fmt.Sprintf("attribution notes reachable (%d total)", len(shas)),
					fmt.Sprintf("%d orphaned note(s); run 'git notes --ref=whogitit prune'", orphans))
			}
			return nil
		},
	}
}

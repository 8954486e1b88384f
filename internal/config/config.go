// Package config loads whogitit configuration from TOML.
//
// Lookup precedence: the WHOGITIT_CONFIG environment variable, then the
// repo-local .whogitit.toml, then the user-global config, then built-in
// defaults. Hook paths load leniently (warn and fall back to defaults);
// user-facing commands treat a broken config as an error.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/anthropic/whogitit/internal/redact"
)

// EnvConfigPath overrides all other config locations when set.
const EnvConfigPath = "WHOGITIT_CONFIG"

// RepoFileName is the repo-local config file at the repository root.
const RepoFileName = ".whogitit.toml"

// Config is the full configuration tree.
type Config struct {
	Privacy   PrivacyConfig   `toml:"privacy"`
	Retention RetentionConfig `toml:"retention"`
	Analysis  AnalysisConfig  `toml:"analysis"`
}

// CustomPattern is a user-defined redaction pattern.
type CustomPattern struct {
	Name        string `toml:"name"`
	Pattern     string `toml:"pattern"`
	Description string `toml:"description"`
}

// PrivacyConfig controls prompt redaction and audit logging.
type PrivacyConfig struct {
	Enabled            bool            `toml:"enabled"`
	UseBuiltinPatterns bool            `toml:"use_builtin_patterns"`
	DisabledPatterns   []string        `toml:"disabled_patterns"`
	CustomPatterns     []CustomPattern `toml:"custom_patterns"`
	AuditLog           bool            `toml:"audit_log"`
}

// RetentionConfig controls note pruning. A nil MaxAgeDays disables
// age-based pruning entirely.
type RetentionConfig struct {
	MaxAgeDays *int     `toml:"max_age_days"`
	AutoPurge  bool     `toml:"auto_purge"`
	RetainRefs []string `toml:"retain_refs"`
	MinCommits int      `toml:"min_commits"`
}

// AnalysisConfig tunes the capture and attribution pipeline.
type AnalysisConfig struct {
	MaxPendingAgeHours  int     `toml:"max_pending_age_hours"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Privacy: PrivacyConfig{
			Enabled:            true,
			UseBuiltinPatterns: true,
		},
		Retention: RetentionConfig{
			RetainRefs: []string{"refs/heads/main"},
			MinCommits: 100,
		},
		Analysis: AnalysisConfig{
			MaxPendingAgeHours:  24,
			SimilarityThreshold: 0.6,
		},
	}
}

// UserConfigPath returns the user-global config location, honoring
// XDG_CONFIG_HOME. Empty when no home directory is available.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "whogitit", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "whogitit", "config.toml")
}

// resolve picks the first config file that exists in precedence order.
// Returns empty when no file is present anywhere.
func resolve(repoRoot string) string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	var candidates []string
	if repoRoot != "" {
		candidates = append(candidates, filepath.Join(repoRoot, RepoFileName))
	}
	if u := UserConfigPath(); u != "" {
		candidates = append(candidates, u)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Load reads configuration for the given repository root. A missing file
// yields defaults; an unreadable or invalid file is an error.
func Load(repoRoot string) (*Config, error) {
	path := resolve(repoRoot)
	if path == "" {
		return Default(), nil
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadLenient is Load for hook paths: any failure logs a warning and
// falls back to defaults.
func LoadLenient(repoRoot string) *Config {
	cfg, err := Load(repoRoot)
	if err != nil {
		log.Printf("config: %v (using defaults)", err)
		return Default()
	}
	return cfg
}

// BuildRedactor assembles the active pattern set: builtins minus the
// disabled names, plus valid custom patterns. Invalid customs and unknown
// disabled names are warned about and skipped.
func (p *PrivacyConfig) BuildRedactor() *redact.Redactor {
	if !p.Enabled {
		return redact.None()
	}

	var patterns []redact.Pattern
	known := make(map[string]bool)
	if p.UseBuiltinPatterns {
		for _, pat := range redact.Builtin() {
			known[pat.Name] = true
			if p.isDisabled(pat.Name) {
				continue
			}
			patterns = append(patterns, pat)
		}
	}
	for _, c := range p.CustomPatterns {
		known[c.Name] = true
		if p.isDisabled(c.Name) {
			continue
		}
		pat, err := redact.Compile(c.Name, c.Pattern, c.Description)
		if err != nil {
			log.Printf("config: skipping custom pattern %s: %v", c.Name, err)
			continue
		}
		patterns = append(patterns, pat)
	}
	for _, d := range p.DisabledPatterns {
		if !known[d] {
			log.Printf("config: disabled pattern %s does not exist", d)
		}
	}
	return redact.NewRedactor(patterns)
}

func (p *PrivacyConfig) isDisabled(name string) bool {
	for _, d := range p.DisabledPatterns {
		if d == name {
			return true
		}
	}
	return false
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if !cfg.Privacy.Enabled {
		t.Error("Privacy.Enabled = false, want true")
	}
	if !cfg.Privacy.UseBuiltinPatterns {
		t.Error("Privacy.UseBuiltinPatterns = false, want true")
	}
	if cfg.Privacy.AuditLog {
		t.Error("Privacy.AuditLog = true, want false")
	}
	if cfg.Retention.MaxAgeDays != nil {
		t.Errorf("Retention.MaxAgeDays = %v, want nil", *cfg.Retention.MaxAgeDays)
	}
	if cfg.Retention.MinCommits != 100 {
		t.Errorf("Retention.MinCommits = %d, want 100", cfg.Retention.MinCommits)
	}
	if len(cfg.Retention.RetainRefs) != 1 || cfg.Retention.RetainRefs[0] != "refs/heads/main" {
		t.Errorf("Retention.RetainRefs = %v, want [refs/heads/main]", cfg.Retention.RetainRefs)
	}
	if cfg.Analysis.SimilarityThreshold != 0.6 {
		t.Errorf("Analysis.SimilarityThreshold = %f, want 0.6", cfg.Analysis.SimilarityThreshold)
	}
	if cfg.Analysis.MaxPendingAgeHours != 24 {
		t.Errorf("Analysis.MaxPendingAgeHours = %d, want 24", cfg.Analysis.MaxPendingAgeHours)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Privacy.Enabled {
		t.Error("missing file should yield defaults")
	}
}

func TestLoad_RepoLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, RepoFileName), `
[privacy]
enabled = false

[analysis]
similarity_threshold = 0.8
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Privacy.Enabled {
		t.Error("Privacy.Enabled = true, want false from file")
	}
	if cfg.Analysis.SimilarityThreshold != 0.8 {
		t.Errorf("SimilarityThreshold = %f, want 0.8", cfg.Analysis.SimilarityThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Retention.MinCommits != 100 {
		t.Errorf("MinCommits = %d, want default 100", cfg.Retention.MinCommits)
	}
}

func TestLoad_EnvOverridesRepoLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, RepoFileName), "[analysis]\nsimilarity_threshold = 0.9\n")
	envPath := filepath.Join(t.TempDir(), "override.toml")
	writeFile(t, envPath, "[analysis]\nsimilarity_threshold = 0.3\n")
	t.Setenv(EnvConfigPath, envPath)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.SimilarityThreshold != 0.3 {
		t.Errorf("SimilarityThreshold = %f, want 0.3 from env config", cfg.Analysis.SimilarityThreshold)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, RepoFileName), "not [valid toml ===")
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted invalid TOML")
	}
}

func TestLoadLenient_InvalidTOMLFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, RepoFileName), "not [valid toml ===")
	cfg := LoadLenient(dir)
	if cfg == nil || !cfg.Privacy.Enabled {
		t.Error("LoadLenient should fall back to defaults")
	}
}

func TestLoad_RetentionMaxAge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, RepoFileName), `
[retention]
max_age_days = 365
min_commits = 50
retain_refs = ["refs/heads/main", "refs/heads/release"]
auto_purge = true
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retention.MaxAgeDays == nil || *cfg.Retention.MaxAgeDays != 365 {
		t.Errorf("MaxAgeDays = %v, want 365", cfg.Retention.MaxAgeDays)
	}
	if cfg.Retention.MinCommits != 50 {
		t.Errorf("MinCommits = %d, want 50", cfg.Retention.MinCommits)
	}
	if !cfg.Retention.AutoPurge {
		t.Error("AutoPurge = false, want true")
	}
	if len(cfg.Retention.RetainRefs) != 2 {
		t.Errorf("RetainRefs = %v, want two refs", cfg.Retention.RetainRefs)
	}
}

func TestBuildRedactor_Disabled(t *testing.T) {
	p := PrivacyConfig{Enabled: false}
	r := p.BuildRedactor()
	out, matches := r.Redact("api_key = secret123")
	if out != "api_key = secret123" || len(matches) != 0 {
		t.Error("disabled privacy should not redact")
	}
}

func TestBuildRedactor_DisabledPattern(t *testing.T) {
	p := PrivacyConfig{Enabled: true, UseBuiltinPatterns: true, DisabledPatterns: []string{"EMAIL"}}
	r := p.BuildRedactor()
	out, _ := r.Redact("mail user@test.com please")
	if strings.Contains(out, "[REDACTED]") {
		t.Errorf("EMAIL disabled but output redacted: %q", out)
	}
	out2, _ := r.Redact("password = hunter2")
	if !strings.Contains(out2, "[REDACTED]") {
		t.Errorf("PASSWORD should still redact: %q", out2)
	}
}

func TestBuildRedactor_CustomPattern(t *testing.T) {
	p := PrivacyConfig{
		Enabled: true,
		CustomPatterns: []CustomPattern{
			{Name: "TICKET", Pattern: `TICKET-\d+`, Description: "internal ticket id"},
			{Name: "BROKEN", Pattern: `([`, Description: "does not compile"},
		},
	}
	r := p.BuildRedactor()
	out, matches := r.Redact("see TICKET-4521 for details")
	if strings.Contains(out, "TICKET-4521") {
		t.Errorf("custom pattern did not redact: %q", out)
	}
	if len(matches) != 1 || matches[0].PatternName != "TICKET" {
		t.Errorf("matches = %+v, want one TICKET match", matches)
	}
}

package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropic/whogitit/internal/audit"
	"github.com/anthropic/whogitit/internal/snapshot"
)

const (
	stateDirName = "state"

	// StateMaxAge is the reclamation ceiling for transient pre-state.
	// A pre event whose post never arrived leaves an orphan behind.
	StateMaxAge = time.Hour
)

// stateStore holds transient pre-tool state between the pre and post
// phases of one tool invocation. Entries are keyed by (session, path)
// for single-file tools and (session, invocation id) for Bash.
type stateStore struct {
	dir string
}

func newStateStore(repoRoot string) *stateStore {
	return &stateStore{dir: filepath.Join(repoRoot, audit.DirName, stateDirName)}
}

func (s *stateStore) keyPath(kind, session, key string) string {
	sum := sha256.Sum256([]byte(session + "\x00" + key))
	return filepath.Join(s.dir, kind+"-"+hex.EncodeToString(sum[:8])+".json")
}

func (s *stateStore) write(path string, v any) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("serialize pre-state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write pre-state: %w", err)
	}
	return nil
}

// SavePre records a file's content ahead of a Write or Edit.
func (s *stateStore) SavePre(session, relPath string, snap snapshot.ContentSnapshot) error {
	return s.write(s.keyPath("pre", session, relPath), snap)
}

// TakePre consumes the pre snapshot for a path, if one was recorded.
func (s *stateStore) TakePre(session, relPath string) (*snapshot.ContentSnapshot, bool) {
	path := s.keyPath("pre", session, relPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	_ = os.Remove(path)
	var snap snapshot.ContentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// ClearPre drops any stale pre snapshot for a path.
func (s *stateStore) ClearPre(session, relPath string) {
	_ = os.Remove(s.keyPath("pre", session, relPath))
}

// SaveBashManifest records the dirty-file contents ahead of a Bash
// invocation.
func (s *stateStore) SaveBashManifest(session, invocationID string, files map[string]string) error {
	return s.write(s.keyPath("bash", session, invocationID), files)
}

// TakeBashManifest consumes the manifest for a Bash invocation.
func (s *stateStore) TakeBashManifest(session, invocationID string) (map[string]string, bool) {
	path := s.keyPath("bash", session, invocationID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	_ = os.Remove(path)
	var files map[string]string
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, false
	}
	return files, true
}

// Reap removes state entries older than StateMaxAge.
func (s *stateStore) Reap() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-StateMaxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
}

// Package audit keeps a tamper-evident record of destructive and
// privacy-relevant operations. Events append to a JSON-lines file and
// chain hashes: each event commits to its predecessor, so any edit to
// history breaks verification from that point on.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event types.
const (
	EventDelete         = "delete"
	EventExport         = "export"
	EventRetentionApply = "retention_apply"
	EventConfigChange   = "config_change"
	EventRedaction      = "redaction"
)

const (
	// DirName holds whogitit's repo-local state.
	DirName = ".whogitit"
	// FileName is the audit log inside DirName.
	FileName = "audit.jsonl"

	hashBytes = 16
)

// genesisHash anchors the chain before the first event.
var genesisHash = "00000000000000000000000000000000"

// Event is one audit record. The detail fields are populated per event
// type and omitted otherwise.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"event_type"`
	User           string    `json:"user,omitempty"`
	Commit         string    `json:"commit,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Format         string    `json:"format,omitempty"`
	CommitCount    int       `json:"commit_count,omitempty"`
	PatternName    string    `json:"pattern_name,omitempty"`
	RedactionCount int       `json:"redaction_count,omitempty"`
	PrevHash       string    `json:"prev_hash"`
	EventHash      string    `json:"event_hash"`
}

// Log is an append-only audit log rooted at a repository.
type Log struct {
	path string
}

// New returns the audit log for a repository root.
func New(repoRoot string) *Log {
	return &Log{path: filepath.Join(repoRoot, DirName, FileName)}
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Exists reports whether any events have been written.
func (l *Log) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// hashEvent computes the chained hash: H(prev_hash || canonical event
// body without the hash fields).
func hashEvent(prevHash string, e Event) (string, error) {
	body := e
	body.PrevHash = ""
	body.EventHash = ""
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit event: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)[:hashBytes]), nil
}

// Append chains and writes one event. The caller fills the type and
// detail fields; timestamp, user, and hashes are set here.
func (l *Log) Append(e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.User == "" {
		e.User = currentUser()
	}

	prev, err := l.lastHash()
	if err != nil {
		return err
	}
	e.PrevHash = prev
	e.EventHash, err = hashEvent(prev, e)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("serialize audit event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// lastHash returns the newest event hash, or the genesis hash for an
// empty log.
func (l *Log) lastHash() (string, error) {
	events, err := l.ReadAll()
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return genesisHash, nil
	}
	return events[len(events)-1].EventHash, nil
}

// ReadAll returns every parseable event in order. Unparseable lines are
// skipped; Verify is the tool that notices them.
func (l *Log) ReadAll() ([]Event, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return events, nil
}

// ReadSince filters events at or after the cutoff.
func (l *Log) ReadSince(cutoff time.Time) ([]Event, error) {
	events, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Verify recomputes the hash chain and reports the first discrepancy.
func (l *Log) Verify() error {
	events, err := l.ReadAll()
	if err != nil {
		return err
	}
	prev := genesisHash
	for i, e := range events {
		if e.PrevHash != prev {
			return fmt.Errorf("audit event %d: prev_hash %s does not chain from %s", i+1, e.PrevHash, prev)
		}
		want, err := hashEvent(prev, e)
		if err != nil {
			return err
		}
		if e.EventHash != want {
			return fmt.Errorf("audit event %d: event_hash %s, recomputed %s", i+1, e.EventHash, want)
		}
		prev = e.EventHash
	}
	return nil
}

// LogDelete records removal of a commit's attribution.
func (l *Log) LogDelete(commit, reason string) error {
	return l.Append(Event{EventType: EventDelete, Commit: commit, Reason: reason})
}

// LogExport records a bulk data export.
func (l *Log) LogExport(format string, commitCount int) error {
	return l.Append(Event{EventType: EventExport, Format: format, CommitCount: commitCount})
}

// LogRetention records an executed retention sweep.
func (l *Log) LogRetention(commitCount int, reason string) error {
	return l.Append(Event{EventType: EventRetentionApply, CommitCount: commitCount, Reason: reason})
}

// LogConfigChange records a configuration change.
func (l *Log) LogConfigChange(reason string) error {
	return l.Append(Event{EventType: EventConfigChange, Reason: reason})
}

// LogRedaction records that a pattern fired on captured text.
func (l *Log) LogRedaction(patternName string, count int) error {
	return l.Append(Event{EventType: EventRedaction, PatternName: patternName, RedactionCount: count})
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

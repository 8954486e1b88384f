package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anthropic/whogitit/internal/pending"
	"github.com/anthropic/whogitit/internal/snapshot"
)

func TestDebouncer_Collapses(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { fired.Add(1) })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Feed()
	}
	time.Sleep(120 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
}

func TestDebouncer_StoppedDropsPending(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(50*time.Millisecond, func() { fired.Add(1) })
	d.Feed()
	d.Stop()
	time.Sleep(120 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("fired %d times after Stop", got)
	}
}

func TestTailer_ReadsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(path, []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := make(chan []byte, 8)
	tl := newTailer(path, 0, 20*time.Millisecond)
	done := make(chan struct{})
	go func() {
		_, _ = tl.Tail(ctx, lines)
		close(done)
	}()

	read := func() string {
		select {
		case l := <-lines:
			return string(l)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for line")
			return ""
		}
	}

	if got := read(); got != "one" {
		t.Errorf("line = %q, want one", got)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("two\nthree\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if got := read(); got != "two" {
		t.Errorf("line = %q, want two", got)
	}
	if got := read(); got != "three" {
		t.Errorf("line = %q, want three", got)
	}

	cancel()
	<-done
}

func TestTailer_WaitsForMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := make(chan []byte, 1)
	tl := newTailer(path, 0, 20*time.Millisecond)
	go func() { _, _ = tl.Tail(ctx, lines) }()

	time.Sleep(60 * time.Millisecond)
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case l := <-lines:
		if string(l) != "hello" {
			t.Errorf("line = %q", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file appearance not noticed")
	}
}

func TestMonitor_EmitsBufferChanges(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(root, "")
	updates := make(chan Update, 8)
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, updates)
		close(done)
	}()

	// Initial emission has no buffer yet.
	select {
	case u := <-updates:
		if u.Kind != KindBuffer || u.Buffer != nil {
			t.Errorf("initial update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial update")
	}

	buf := pending.New(snapshot.SessionMetadata{
		SessionID: uuid.NewString(),
		Model:     snapshot.ModelInfo{ID: "claude-opus-4-5", Provider: "anthropic"},
		StartedAt: time.Now().UTC(),
	})
	buf.RecordEdit("a.go", nil,
		snapshot.New("package a\n"),
		snapshot.ToolWrite, "write a", nil, snapshot.EditContext{})
	if err := buf.Save(root); err != nil {
		t.Fatal(err)
	}

	select {
	case u := <-updates:
		if u.Kind != KindBuffer {
			t.Fatalf("update kind = %s", u.Kind)
		}
		if u.Buffer == nil || len(u.Buffer.FileHistories) != 1 {
			t.Errorf("buffer update = %+v", u.Buffer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffer change not observed")
	}

	cancel()
	<-done
}

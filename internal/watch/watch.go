// Package watch streams live session activity: pending buffer changes
// and new prompts appearing in the agent transcript.
package watch

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anthropic/whogitit/internal/capture"
	"github.com/anthropic/whogitit/internal/pending"
)

// debounceWindow collapses the bursts of writes an atomic buffer save
// produces into one update.
const debounceWindow = 100 * time.Millisecond

// UpdateKind tags what changed.
type UpdateKind string

const (
	// KindBuffer reports a change to the pending edit buffer.
	KindBuffer UpdateKind = "buffer"
	// KindPrompt reports a new user prompt in the transcript.
	KindPrompt UpdateKind = "prompt"
)

// Update is one observed change during a session.
type Update struct {
	Kind      UpdateKind
	Timestamp time.Time

	// Buffer state, set for KindBuffer. Buffer is nil when the pending
	// file was removed (typically by commit finalization).
	Buffer *pending.Buffer

	// Prompt text, set for KindPrompt.
	Prompt string
}

// Monitor watches one repository's session activity.
type Monitor struct {
	root           string
	transcriptPath string
}

// New builds a monitor for the repository at root. transcriptPath is
// optional; when empty only the pending buffer is watched.
func New(root, transcriptPath string) *Monitor {
	return &Monitor{root: root, transcriptPath: transcriptPath}
}

// Run watches until ctx is cancelled, sending updates on the channel.
// The channel is not closed; the caller owns its lifetime.
func (m *Monitor) Run(ctx context.Context, updates chan<- Update) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(m.root); err != nil {
		return err
	}

	deb := newDebouncer(debounceWindow, func() {
		m.emitBuffer(ctx, updates)
	})
	defer deb.Stop()

	var wg sync.WaitGroup
	if m.transcriptPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.tailPrompts(ctx, updates)
		}()
	}
	defer wg.Wait()

	// Initial state so the consumer does not start blank.
	m.emitBuffer(ctx, updates)

	bufferPath := filepath.Join(m.root, pending.FileName)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Name != bufferPath {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				deb.Feed()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: fsnotify error: %v", err)
		}
	}
}

func (m *Monitor) emitBuffer(ctx context.Context, updates chan<- Update) {
	buf, err := pending.Load(m.root)
	if err != nil {
		log.Printf("watch: load pending buffer: %v", err)
		return
	}
	select {
	case updates <- Update{Kind: KindBuffer, Timestamp: time.Now(), Buffer: buf}:
	case <-ctx.Done():
	}
}

// tailPrompts follows the transcript and emits each new user prompt.
func (m *Monitor) tailPrompts(ctx context.Context, updates chan<- Update) {
	lines := make(chan []byte, 16)
	t := newTailer(m.transcriptPath, 0, 0)

	go func() {
		if _, err := t.Tail(ctx, lines); err != nil {
			log.Printf("watch: tail transcript: %v", err)
		}
		close(lines)
	}()

	for line := range lines {
		text, ok := capture.PromptFromLine(line)
		if !ok {
			continue
		}
		select {
		case updates <- Update{Kind: KindPrompt, Timestamp: time.Now(), Prompt: text}:
		case <-ctx.Done():
			return
		}
	}
}

// debouncer collapses rapid triggers into one call after a quiet
// window.
type debouncer struct {
	window time.Duration
	fire   func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, fire func()) *debouncer {
	return &debouncer{window: window, fire: fire}
}

func (d *debouncer) Feed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Reset(d.window)
		return
	}
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.timer = nil
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fire()
		}
	})
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

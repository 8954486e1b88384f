package watch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// tailer follows a single file for appended lines. It polls by size
// rather than using fsnotify, which is more reliable for files another
// process appends to.
type tailer struct {
	path     string
	offset   int64
	interval time.Duration
}

// newTailer starts reading from offset; 0 means the beginning. A zero
// interval defaults to 500ms.
func newTailer(path string, offset int64, interval time.Duration) *tailer {
	if interval == 0 {
		interval = 500 * time.Millisecond
	}
	return &tailer{path: path, offset: offset, interval: interval}
}

// Tail sends complete appended lines on the channel until ctx is
// cancelled, returning the final offset. A missing file is waited for;
// a truncated file restarts from the beginning.
//
// Known limitation: a final line with no trailing newline is held back
// until the newline arrives, and a truncation observed while such a
// partial line is buffered re-reads from the new start of the file.
// Transcript writers append whole JSONL records, so neither case loses
// a prompt in practice.
func (t *tailer) Tail(ctx context.Context, lines chan<- []byte) (int64, error) {
	for {
		if _, err := os.Stat(t.path); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return t.offset, nil
		case <-time.After(t.interval):
		}
	}

	f, err := os.Open(t.path)
	if err != nil {
		return t.offset, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return t.offset, fmt.Errorf("stat %s: %w", t.path, err)
	}
	if info.Size() < t.offset {
		t.offset = 0
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return t.offset, fmt.Errorf("seek %s to %d: %w", t.path, t.offset, err)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					// Partial line, wait for the rest.
					break
				}
				return t.offset, fmt.Errorf("read %s: %w", t.path, err)
			}

			t.offset += int64(len(line))
			for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
				line = line[:len(line)-1]
			}
			if len(line) == 0 {
				continue
			}

			out := make([]byte, len(line))
			copy(out, line)
			select {
			case lines <- out:
			case <-ctx.Done():
				return t.offset, nil
			}
		}

		select {
		case <-ctx.Done():
			return t.offset, nil
		case <-ticker.C:
			info, err := os.Stat(t.path)
			if err != nil {
				continue
			}
			if info.Size() < t.offset {
				t.offset = 0
				f.Close()
				f, err = os.Open(t.path)
				if err != nil {
					return t.offset, fmt.Errorf("reopen %s: %w", t.path, err)
				}
				reader = bufio.NewReader(f)
			}
		}
	}
}

package capture

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

const (
	// promptMaxBytes bounds how much of a prompt is retained.
	promptMaxBytes = 2000

	// transcriptReadCap bounds how much of a transcript is read. The
	// newest records live at the end, so an oversized file is read
	// from its tail.
	transcriptReadCap = 10 * 1024 * 1024

	maxTranscriptLine = 4 * 1024 * 1024
)

// transcriptRecord is the subset of an agent transcript record needed
// for prompt recovery. The format is owned by the host agent; anything
// unrecognized is skipped.
type transcriptRecord struct {
	Type             string `json:"type"`
	IsCompactSummary bool   `json:"isCompactSummary"`
	Message          struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractPrompt returns the text of the newest user record in a JSONL
// transcript, skipping tool results and compaction summaries. The
// result is truncated to promptMaxBytes without splitting a code point.
func ExtractPrompt(transcriptPath string) (string, error) {
	data, err := readTail(transcriptPath, transcriptReadCap)
	if err != nil {
		return "", err
	}

	var prompt string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxTranscriptLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if text, ok := PromptFromLine(line); ok {
			prompt = text
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan transcript: %w", err)
	}
	if prompt == "" {
		return "", fmt.Errorf("no user prompt in transcript")
	}
	return TruncatePrompt(prompt, promptMaxBytes), nil
}

// PromptFromLine extracts the user prompt from one raw transcript
// record, reporting false for records that are not usable prompts.
func PromptFromLine(line []byte) (string, bool) {
	var rec transcriptRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", false
	}
	if rec.Type != "user" || rec.IsCompactSummary {
		return "", false
	}
	return userText(rec.Message.Content)
}

// userText extracts the textual parts of a user message. Content is
// either a plain string or a list of typed parts; a message whose
// parts are all tool results is not a prompt.
func userText(content json.RawMessage) (string, bool) {
	if len(content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s, s != ""
	}
	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return "", false
	}
	var buf bytes.Buffer
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			buf.WriteString(p.Text)
		}
	}
	return buf.String(), buf.Len() > 0
}

// TruncatePrompt cuts text to at most limit bytes on a rune boundary.
func TruncatePrompt(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// readTail reads up to cap bytes from the end of a file, dropping a
// leading partial line when the file was larger than the cap.
func readTail(path string, readCap int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	if info.Size() <= readCap {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		return data, nil
	}

	if _, err := f.Seek(-readCap, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("seek transcript: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read transcript tail: %w", err)
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return data, nil
}

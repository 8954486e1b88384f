// Package trailers renders and parses the attribution trailers that
// whogitit appends to commit messages. Trailers are plain "Key: value"
// lines at the end of the message, readable without any tooling.
package trailers

import (
	"fmt"
	"strconv"
	"strings"
)

// Trailer keys.
const (
	KeySession    = "AI-Session"
	KeyModel      = "AI-Model"
	KeyAILines    = "AI-Lines"
	KeyAIModified = "AI-Modified"
	KeyHumanLines = "Human-Lines"
	KeyCoAuthor   = "Co-Authored-By"
)

// sessionDisplayLen is how much of the session id appears in the
// trailer. The full id stays in the attribution note.
const sessionDisplayLen = 12

// Trailer is one key/value pair.
type Trailer struct {
	Key   string
	Value string
}

// Stats is the line tally a commit's trailers summarize.
type Stats struct {
	AILines         int
	AIModifiedLines int
	HumanLines      int
}

// Generate builds the trailer set for a commit made with AI
// involvement. Zero-valued counters for modified and human lines are
// left out to keep messages short.
func Generate(sessionID, modelID string, stats Stats) []Trailer {
	session := sessionID
	if len(session) > sessionDisplayLen {
		session = session[:sessionDisplayLen]
	}

	trailers := []Trailer{
		{KeySession, session},
		{KeyModel, modelID},
		{KeyAILines, strconv.Itoa(stats.AILines)},
	}
	if stats.AIModifiedLines > 0 {
		trailers = append(trailers, Trailer{KeyAIModified, strconv.Itoa(stats.AIModifiedLines)})
	}
	if stats.HumanLines > 0 {
		trailers = append(trailers, Trailer{KeyHumanLines, strconv.Itoa(stats.HumanLines)})
	}
	trailers = append(trailers, Trailer{KeyCoAuthor, CoAuthor(modelID)})
	return trailers
}

// CoAuthor maps a model id to the Co-Authored-By value git expects,
// a display name plus a no-reply address.
func CoAuthor(modelID string) string {
	name := "Claude"
	switch {
	case strings.Contains(modelID, "opus"):
		name = "Claude Opus 4.5"
	case strings.Contains(modelID, "sonnet"):
		name = "Claude Sonnet"
	case strings.Contains(modelID, "haiku"):
		name = "Claude Haiku"
	}
	return fmt.Sprintf("%s <noreply@anthropic.com>", name)
}

// Format renders trailers as newline-joined "Key: value" lines.
func Format(trailers []Trailer) string {
	lines := make([]string, len(trailers))
	for i, tr := range trailers {
		lines[i] = fmt.Sprintf("%s: %s", tr.Key, tr.Value)
	}
	return strings.Join(lines, "\n")
}

// Append attaches trailers to a commit message. A blank line separates
// the message body from the trailer block unless the message already
// ends in trailers, in which case the new lines join the existing
// block.
func Append(message string, trailers []Trailer) string {
	if len(trailers) == 0 {
		return message
	}
	block := Format(trailers)
	msg := strings.TrimRight(message, "\n")
	if msg == "" {
		return block + "\n"
	}
	if hasExistingTrailers(msg) {
		return msg + "\n" + block + "\n"
	}
	return msg + "\n\n" + block + "\n"
}

// hasExistingTrailers reports whether the message already ends in a
// trailer block. Only the last few lines are inspected.
func hasExistingTrailers(message string) bool {
	lines := strings.Split(message, "\n")
	checked := 0
	for i := len(lines) - 1; i >= 0 && checked < 5; i-- {
		line := strings.TrimSpace(lines[i])
		checked++
		if line == "" {
			continue
		}
		key, _, ok := strings.Cut(line, ": ")
		return ok && isTrailerKey(key)
	}
	return false
}

func isTrailerKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

// Parsed holds the whogitit trailers recovered from a commit message.
type Parsed struct {
	Session         string
	Model           string
	AILines         int
	AIModifiedLines int
	HumanLines      int
}

// HasAITrailers reports whether the message carried any whogitit
// identity trailers.
func (p Parsed) HasAITrailers() bool {
	return p.Session != "" || p.Model != ""
}

// Parse walks the message from the end, collecting trailer lines until
// the first non-trailer line. Keys outside the whogitit set are
// ignored but do not stop the walk.
func Parse(message string) Parsed {
	var p Parsed
	lines := strings.Split(strings.TrimRight(message, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok || !isTrailerKey(key) {
			break
		}
		switch key {
		case KeySession:
			p.Session = value
		case KeyModel:
			p.Model = value
		case KeyAILines:
			p.AILines, _ = strconv.Atoi(value)
		case KeyAIModified:
			p.AIModifiedLines, _ = strconv.Atoi(value)
		case KeyHumanLines:
			p.HumanLines, _ = strconv.Atoi(value)
		}
	}
	return p
}

package query

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/anthropic/whogitit/internal/aiblame"
	"github.com/anthropic/whogitit/internal/snapshot"
)

// Source markers prepended to annotated diff lines.
var sourceMarkers = map[snapshot.SourceType]string{
	snapshot.SourceAI:         "[AI]",
	snapshot.SourceAIModified: "[AI~]",
	snapshot.SourceHuman:      "[HU]",
	snapshot.SourceOriginal:   "[==]",
	snapshot.SourceUnknown:    "[??]",
}

// AnnotateDiff reads a unified diff and writes it back with each added
// line prefixed by the source marker of that line at the destination
// revision. Context, removal, and header lines pass through untouched.
func (s *Service) AnnotateDiff(ctx context.Context, revision string, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	var (
		path     string
		blame    *aiblame.Result
		destLine int
	)

	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "+++ "):
			path = destPath(line)
			blame = nil
			if path != "" {
				if b, err := s.blamer.Blame(ctx, path, revision); err == nil {
					blame = b
				}
			}
		case strings.HasPrefix(line, "@@"):
			if start, ok := parseHunkDest(line); ok {
				destLine = start
			}
		case strings.HasPrefix(line, "+") && path != "":
			fmt.Fprintf(bw, "%-5s %s\n", markerAt(blame, destLine), line)
			destLine++
			continue
		case strings.HasPrefix(line, "-"):
			// Removed line, no destination position.
		case strings.HasPrefix(line, " "):
			destLine++
		}
		fmt.Fprintln(bw, line)
	}
	return sc.Err()
}

func markerAt(blame *aiblame.Result, line int) string {
	if blame == nil || line < 1 || line > len(blame.Lines) {
		return sourceMarkers[snapshot.SourceUnknown]
	}
	if m, ok := sourceMarkers[blame.Lines[line-1].Source.Type]; ok {
		return m
	}
	return sourceMarkers[snapshot.SourceUnknown]
}

// destPath extracts the destination path from a "+++ b/path" header.
// "/dev/null" (a deleted file) yields "".
func destPath(line string) string {
	p := strings.TrimPrefix(line, "+++ ")
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	if p == "/dev/null" {
		return ""
	}
	p = strings.TrimPrefix(p, "b/")
	return p
}

// parseHunkDest pulls the destination start line out of a hunk header
// like "@@ -12,3 +15,4 @@".
func parseHunkDest(line string) (int, bool) {
	for _, f := range strings.Fields(line) {
		if !strings.HasPrefix(f, "+") {
			continue
		}
		num := f[1:]
		if i := strings.IndexByte(num, ','); i >= 0 {
			num = num[:i]
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

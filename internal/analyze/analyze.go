// Package analyze classifies each line of a committed file by origin,
// reconciling the pre-session content, the cumulative AI edits, and the
// final committed content.
package analyze

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/anthropic/whogitit/internal/snapshot"
)

// DefaultThreshold is the similarity floor for classifying a line as
// AI-modified rather than human.
const DefaultThreshold = 0.6

// Confidence values per classification.
const (
	confidenceExact    = 1.0
	confidenceHuman    = 0.9
	confidenceUnknown  = 0.5
	confidenceFragment = 0.85
)

// Analyzer produces per-line attributions for one file at a time.
type Analyzer struct {
	threshold float64
	dmp       *diffmatchpatch.DiffMatchPatch
}

// New creates an analyzer with the given similarity threshold; a
// non-positive threshold selects the default.
func New(threshold float64) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Analyzer{threshold: threshold, dmp: diffmatchpatch.New()}
}

// aiLine remembers which edit first produced a line of AI output.
type aiLine struct {
	editID      string
	promptIndex int
}

// File attributes every line of final. A nil original means the file did
// not exist before the session.
func (a *Analyzer) File(path string, original *snapshot.ContentSnapshot, edits []snapshot.AIEdit, final string) snapshot.FileAttribution {
	origContent := ""
	if original != nil {
		origContent = original.Content
	}

	finalLines := splitLines(final)
	lines := make([]snapshot.LineAttribution, len(finalLines))
	for i, content := range finalLines {
		lines[i] = snapshot.LineAttribution{
			LineNumber: i + 1,
			Content:    content,
			Source:     snapshot.UnknownSource(),
			Confidence: confidenceUnknown,
		}
	}

	origLines := splitLines(origContent)
	origSet := make(map[string]bool, len(origLines))
	for _, l := range origLines {
		origSet[normalizeLine(l)] = true
	}

	if len(edits) == 0 {
		// No AI involvement: position-matched lines are Original,
		// everything else is Human.
		matched := a.lineMatches(origContent, final)
		for i := range lines {
			if _, ok := matched[i]; ok || origSet[normalizeLine(finalLines[i])] {
				lines[i].Source = snapshot.OriginalSource()
				lines[i].Confidence = confidenceExact
			} else {
				lines[i].Source = snapshot.HumanSource()
				lines[i].Confidence = confidenceHuman
			}
		}
		return finish(path, lines)
	}

	aiContent := edits[len(edits)-1].After.Content
	aiMap := buildAILineMap(edits)
	aiLines := splitLines(aiContent)

	// Pass 1: lines that survive from the original by position.
	for di := range a.lineMatches(origContent, final) {
		lines[di].Source = snapshot.OriginalSource()
		lines[di].Confidence = confidenceExact
	}

	// Pass 2: lines that survive from the AI state by position. A
	// positional AI match beats content that also appears somewhere in
	// the original: a closing brace the AI added is AI even though the
	// original had braces elsewhere.
	for di, si := range a.lineMatches(aiContent, final) {
		if lines[di].Source.Type != snapshot.SourceUnknown {
			continue
		}
		if info, ok := aiMap[normalizeLine(aiLines[si])]; ok {
			lines[di].Source = snapshot.AISource(info.editID)
			lines[di].PromptIndex = intPtr(info.promptIndex)
			lines[di].Confidence = confidenceExact
		}
	}

	// Pass 3: everything still unmapped, by content.
	for i := range lines {
		if lines[i].Source.Type != snapshot.SourceUnknown {
			continue
		}
		norm := normalizeLine(finalLines[i])
		if origSet[norm] {
			lines[i].Source = snapshot.OriginalSource()
			lines[i].Confidence = confidenceExact
			continue
		}
		if info, ok := aiMap[norm]; ok {
			lines[i].Source = snapshot.AISource(info.editID)
			lines[i].PromptIndex = intPtr(info.promptIndex)
			lines[i].Confidence = confidenceExact
			continue
		}
		if info, sim, ok := a.findSimilarAILine(finalLines[i], aiMap); ok {
			lines[i].Source = snapshot.AIModifiedSource(info.editID, sim)
			lines[i].PromptIndex = intPtr(info.promptIndex)
			lines[i].Confidence = sim
			continue
		}
		lines[i].Source = snapshot.HumanSource()
		lines[i].Confidence = confidenceHuman
	}

	a.rescueUnknownBetweenAI(lines)
	a.matchReformattedBlocks(lines, edits)
	a.absorbFragments(lines, finalLines)

	return finish(path, lines)
}

func finish(path string, lines []snapshot.LineAttribution) snapshot.FileAttribution {
	return snapshot.FileAttribution{
		Path:    path,
		Lines:   lines,
		Summary: snapshot.ComputeSummary(lines),
	}
}

// buildAILineMap indexes every line any edit produced, including blank
// lines so AI-inserted spacing attributes correctly. When several edits
// produced the same line the earliest wins.
func buildAILineMap(edits []snapshot.AIEdit) map[string]aiLine {
	m := make(map[string]aiLine)
	seenAfter := make(map[string]bool)
	for _, e := range edits {
		// Byte-identical consecutive snapshots contribute nothing new.
		if seenAfter[e.After.ContentHash] {
			continue
		}
		seenAfter[e.After.ContentHash] = true
		for _, l := range splitLines(e.After.Content) {
			norm := normalizeLine(l)
			if _, ok := m[norm]; !ok {
				m[norm] = aiLine{editID: e.EditID, promptIndex: e.PromptIndex}
			}
		}
	}
	return m
}

// lineMatches diffs src against dst at line granularity and returns the
// position pairs of unchanged lines, keyed by 0-based dst line index.
func (a *Analyzer) lineMatches(src, dst string) map[int]int {
	if src == "" || dst == "" {
		return nil
	}
	c1, c2, _ := a.dmp.DiffLinesToChars(src, dst)
	diffs := a.dmp.DiffMain(c1, c2, false)

	matches := make(map[int]int)
	si, di := 0, 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for k := 0; k < n; k++ {
				matches[di] = si
				si++
				di++
			}
		case diffmatchpatch.DiffDelete:
			si += n
		case diffmatchpatch.DiffInsert:
			di += n
		}
	}
	return matches
}

// findSimilarAILine scans all AI-produced lines for the closest one at
// or above the threshold. Blank lines are exact-match territory, never
// similarity matches.
func (a *Analyzer) findSimilarAILine(line string, aiMap map[string]aiLine) (aiLine, float64, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return aiLine{}, 0, false
	}

	var best aiLine
	bestSim := 0.0
	for candidate, info := range aiMap {
		cn := strings.TrimSpace(candidate)
		if cn == "" {
			continue
		}
		sim := Similarity(trimmed, cn)
		if sim >= a.threshold && sim > bestSim {
			best = info
			bestSim = sim
		}
	}
	return best, bestSim, bestSim > 0
}

// rescueUnknownBetweenAI reclassifies an Unknown line sandwiched between
// AI lines of the same edit as a modification of that edit's output.
func (a *Analyzer) rescueUnknownBetweenAI(lines []snapshot.LineAttribution) {
	for i := 1; i < len(lines)-1; i++ {
		if lines[i].Source.Type != snapshot.SourceUnknown {
			continue
		}
		prev, next := lines[i-1].Source, lines[i+1].Source
		if prev.Type == snapshot.SourceAI && next.Type == snapshot.SourceAI && prev.EditID == next.EditID {
			lines[i].Source = snapshot.AIModifiedSource(prev.EditID, confidenceUnknown)
			lines[i].PromptIndex = clonePromptIndex(lines[i-1].PromptIndex)
			lines[i].Confidence = confidenceUnknown
		}
	}
}

// blockThreshold relaxes the similarity bar as blocks get longer: long
// runs of text carry enough signal that a lower per-character ratio still
// identifies a reformatting.
func blockThreshold(size int) float64 {
	switch {
	case size == 1:
		return 0.75
	case size == 2:
		return 0.70
	case size <= 4:
		return 0.65
	default:
		return 0.60
	}
}

const maxBlockLines = 8

// blockCandidate is a normalized AI line, or a run of consecutive AI
// lines joined, available for block matching.
type blockCandidate struct {
	text string
	info aiLine
}

// matchReformattedBlocks finds short runs of lines the earlier passes
// called human that are really AI output reflowed by a formatter, e.g. a
// long call chain split across lines. Each run is joined, whitespace-
// normalized, and compared against single and joined AI lines.
func (a *Analyzer) matchReformattedBlocks(lines []snapshot.LineAttribution, edits []snapshot.AIEdit) {
	if len(lines) == 0 || len(edits) == 0 {
		return
	}
	candidates := buildBlockCandidates(edits)
	if len(candidates) == 0 {
		return
	}

	isUnmatched := func(l snapshot.LineAttribution) bool {
		switch l.Source.Type {
		case snapshot.SourceHuman, snapshot.SourceUnknown:
			return true
		case snapshot.SourceAIModified:
			// Low-confidence similarity matches may really be pieces of
			// a reformatted AI block.
			return l.Source.Similarity < 0.85
		}
		return false
	}

	i := 0
	for i < len(lines) {
		if !isUnmatched(lines[i]) {
			i++
			continue
		}
		j := i
		for j < len(lines) && isUnmatched(lines[j]) {
			j++
		}
		runLen := j - i
		// A lone AIModified line is already explained by its similarity
		// match; only join it with neighbors.
		loneModified := runLen == 1 && lines[i].Source.Type == snapshot.SourceAIModified
		if runLen <= maxBlockLines && !loneModified {
			a.matchBlock(lines[i:j], candidates)
		}
		i = j
	}
}

func buildBlockCandidates(edits []snapshot.AIEdit) []blockCandidate {
	var out []blockCandidate
	seenAfter := make(map[string]bool)
	for _, e := range edits {
		if seenAfter[e.After.ContentHash] {
			continue
		}
		seenAfter[e.After.ContentHash] = true
		info := aiLine{editID: e.EditID, promptIndex: e.PromptIndex}
		editLines := splitLines(e.After.Content)
		for _, l := range editLines {
			if n := normalizeForBlock(l); n != "" {
				out = append(out, blockCandidate{text: n, info: info})
			}
		}
		for width := 2; width <= maxBlockLines && width <= len(editLines); width++ {
			for start := 0; start+width <= len(editLines); start++ {
				parts := make([]string, 0, width)
				for _, l := range editLines[start : start+width] {
					parts = append(parts, normalizeForBlock(l))
				}
				if joined := strings.TrimSpace(strings.Join(parts, " ")); joined != "" {
					out = append(out, blockCandidate{text: joined, info: info})
				}
			}
		}
	}
	return out
}

func (a *Analyzer) matchBlock(block []snapshot.LineAttribution, candidates []blockCandidate) {
	parts := make([]string, 0, len(block))
	for _, l := range block {
		parts = append(parts, normalizeForBlock(l.Content))
	}
	joined := strings.TrimSpace(strings.Join(parts, " "))
	if joined == "" {
		return
	}
	threshold := blockThreshold(len(block))

	var best aiLine
	bestSim := 0.0
	for _, c := range candidates {
		sim := Similarity(joined, c.text)
		if sim >= threshold && sim > bestSim {
			best = c.info
			bestSim = sim
		}
	}
	if bestSim == 0 {
		return
	}
	for k := range block {
		block[k].Source = snapshot.AISource(best.editID)
		block[k].PromptIndex = intPtr(best.promptIndex)
		block[k].Confidence = bestSim
	}
}

// fragment prefixes/suffixes that indicate a line continues its
// neighbors rather than standing alone.
var fragmentPrefixes = []string{".", ",", ")", "]", "}", "&&", "||"}
var fragmentSuffixes = []string{"(", "[", "{", ",", "=", "&&", "||"}
var commonFragments = map[string]bool{
	")": true, ");": true, "};": true, "}": true, "})": true, "});": true,
	"]": true, "];": true, "],": true, "),": true,
}

func looksLikeFragment(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	if commonFragments[t] {
		return true
	}
	for _, p := range fragmentPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	for _, s := range fragmentSuffixes {
		if strings.HasSuffix(t, s) {
			return true
		}
	}
	return false
}

// absorbFragments pulls syntactic continuation lines into the AI edit
// that surrounds them, sweeping until stable with a bound on sweeps.
func (a *Analyzer) absorbFragments(lines []snapshot.LineAttribution, finalLines []string) {
	for iter := 0; iter < 5; iter++ {
		changed := false
		for i := 1; i < len(lines)-1; i++ {
			src := lines[i].Source.Type
			if src != snapshot.SourceHuman && src != snapshot.SourceAIModified {
				continue
			}
			prev, next := lines[i-1].Source, lines[i+1].Source
			if prev.Type != snapshot.SourceAI || next.Type != snapshot.SourceAI || prev.EditID != next.EditID {
				continue
			}
			if !looksLikeFragment(finalLines[i]) {
				continue
			}
			lines[i].Source = snapshot.AISource(prev.EditID)
			lines[i].PromptIndex = clonePromptIndex(lines[i-1].PromptIndex)
			lines[i].Confidence = confidenceFragment
			changed = true
		}
		if !changed {
			return
		}
	}
}

// Similarity is the character-level longest-common-subsequence ratio of
// two strings over the longer length, in [0,1]. Wildly different lengths
// short-circuit to 0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
	}
	longer, shorter := la, lb
	if lb > la {
		longer, shorter = lb, la
	}
	if float64(shorter)/float64(longer) < 0.5 {
		return 0
	}

	// Single-row LCS table.
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return float64(prev[lb]) / float64(longer)
}

// splitLines splits content into lines without a phantom final empty
// line after a trailing newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// normalizeLine trims trailing whitespace so formatting churn does not
// defeat exact matching.
func normalizeLine(l string) string {
	return strings.TrimRight(l, " \t\r")
}

// normalizeForBlock collapses internal whitespace and drops the spacing
// formatters insert around continuation punctuation when splitting lines.
func normalizeForBlock(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for _, r := range [][2]string{
		{" .", "."}, {" ,", ","}, {" ;", ";"}, {" )", ")"}, {"( ", "("},
	} {
		s = strings.ReplaceAll(s, r[0], r[1])
	}
	return s
}

func intPtr(i int) *int { return &i }

func clonePromptIndex(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

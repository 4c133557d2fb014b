// Package chunker splits document text into bounded, ordered segments
// for individual embedding.
package chunker

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrEmptyContent is returned when the input contains no non-whitespace text.
var ErrEmptyContent = errors.New("empty content")

// DefaultMaxChunkSize is the target segment size in runes.
const DefaultMaxChunkSize = 1000

// maxContentRunes is the hard safety ceiling. Text beyond it is cut off
// and the result is flagged Truncated; truncation is never silent.
const maxContentRunes = 1 << 20

// Segment is one bounded piece of a document. Index runs contiguously
// from 0 to Total-1.
type Segment struct {
	Text  string
	Index int
	Total int
}

// Result holds the ordered segments for one document. Concatenating the
// segment texts reproduces the (possibly truncated) input exactly.
type Result struct {
	Segments  []Segment
	Truncated bool
}

// Split breaks text into ordered segments of at most maxChunkSize runes.
// Splitting is deterministic: the same text and size bound always produce
// the same segments. Text at or under the bound yields exactly one
// segment with Index=0, Total=1.
func Split(text string, maxChunkSize int) (Result, error) {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyContent
	}

	var truncated bool
	if utf8.RuneCountInString(text) > maxContentRunes {
		runes := []rune(text)
		text = string(runes[:maxContentRunes])
		truncated = true
	}

	if utf8.RuneCountInString(text) <= maxChunkSize {
		return Result{
			Segments:  []Segment{{Text: text, Index: 0, Total: 1}},
			Truncated: truncated,
		}, nil
	}

	parts := recursiveSplit(text, separators, maxChunkSize)
	segments := make([]Segment, len(parts))
	for i, p := range parts {
		segments[i] = Segment{Text: p, Index: i, Total: len(parts)}
	}
	return Result{Segments: segments, Truncated: truncated}, nil
}

// separators in priority order; the empty string means rune-level split.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// recursiveSplit divides text on the coarsest separator that applies,
// then merges the pieces back up to the size bound. Pieces are produced
// with SplitAfter so every separator stays attached to its piece and no
// character is lost at chunk boundaries.
func recursiveSplit(text string, seps []string, maxSize int) []string {
	if utf8.RuneCountInString(text) <= maxSize {
		return []string{text}
	}

	var pieces, finer []string
	for i, sep := range seps {
		if sep == "" {
			return splitByRunes(text, maxSize)
		}
		parts := strings.SplitAfter(text, sep)
		if len(parts) > 1 {
			pieces = parts
			finer = seps[i+1:]
			break
		}
	}
	if len(pieces) == 0 {
		return []string{text}
	}

	// Merge consecutive pieces up to the size bound. A piece over the
	// bound on its own holds no further occurrence of the separator it
	// was cut on (SplitAfter cuts at every occurrence), so it is split
	// again with the finer separators only. Recursing with the full
	// list would loop forever on a piece whose sole separator trails it.
	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, piece := range pieces {
		if utf8.RuneCountInString(piece) > maxSize {
			flush()
			out = append(out, recursiveSplit(piece, finer, maxSize)...)
			continue
		}
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(piece) > maxSize {
			flush()
		}
		current.WriteString(piece)
	}
	flush()

	return out
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}

// Package splitter cuts page text into bounded, overlapping segments using a
// prioritized list of separators.
//
// Lengths are counted in runes. A separator stays attached to the end of the
// piece it terminates, so with zero overlap the segments concatenate back to
// the input. Separators are tried from coarsest to finest; the empty separator
// means fixed character windows and is always appended as the last resort.
package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/types"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// DefaultSeparators is the separator order used when none is configured.
var DefaultSeparators = []string{".", ",", " ", "!", "?", ";", ":"}

type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// span is a byte range into the text being split, with its length in runes.
type span struct {
	start, end int
	runes      int
}

func New(chunkSize, overlap int, separators []string) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrConfiguration, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", types.ErrConfiguration, chunkSize, overlap)
	}
	if len(separators) == 0 {
		return nil, fmt.Errorf("%w: separator list is empty", types.ErrConfiguration)
	}

	seps := make([]string, 0, len(separators)+1)
	seps = append(seps, separators...)
	if seps[len(seps)-1] != "" {
		seps = append(seps, "")
	}

	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: seps,
	}, nil
}

// MustNew is New for package-level defaults and tests.
func MustNew(chunkSize, overlap int, separators []string) *Splitter {
	s, err := New(chunkSize, overlap, separators)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// Split returns the segments of text in order. Empty input gives no segments.
func (s *Splitter) Split(text string) []string {
	spans := s.spans(text)
	segments := make([]string, len(spans))
	for i, sp := range spans {
		segments[i] = text[sp.start:sp.end]
	}
	return segments
}

func (s *Splitter) spans(text string) []span {
	if text == "" {
		return nil
	}
	var out []span
	s.split(text, span{0, len(text), utf8.RuneCountInString(text)}, s.separators, &out)
	return out
}

func (s *Splitter) split(text string, sp span, seps []string, out *[]span) {
	if sp.runes <= s.chunkSize {
		if sp.runes > 0 {
			*out = append(*out, sp)
		}
		return
	}

	sep, finer := pickSeparator(text[sp.start:sp.end], seps)
	if sep == "" {
		s.windows(text, sp, out)
		return
	}

	var fits []span
	for _, p := range pieces(text, sp, sep) {
		if p.runes <= s.chunkSize {
			fits = append(fits, p)
			continue
		}
		// an oversized piece ends the current run; no overlap across it
		if len(fits) > 0 {
			s.merge(fits, out)
			fits = fits[:0]
		}
		s.split(text, p, finer, out)
	}
	if len(fits) > 0 {
		s.merge(fits, out)
	}
}

func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" || strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// pieces cuts sp after every occurrence of sep.
func pieces(text string, sp span, sep string) []span {
	var out []span
	start := sp.start
	for start < sp.end {
		end := sp.end
		if i := strings.Index(text[start:sp.end], sep); i >= 0 {
			end = start + i + len(sep)
		}
		out = append(out, span{start, end, utf8.RuneCountInString(text[start:end])})
		start = end
	}
	return out
}

// merge packs consecutive pieces greedily up to chunkSize. After each emitted
// segment the buffer keeps its trailing pieces while they total at most overlap.
func (s *Splitter) merge(pieces []span, out *[]span) {
	first, total := 0, 0
	for i, p := range pieces {
		if total+p.runes > s.chunkSize && i > first {
			*out = append(*out, join(pieces[first:i], total))
			for total > s.overlap || (total+p.runes > s.chunkSize && total > 0) {
				total -= pieces[first].runes
				first++
			}
		}
		total += p.runes
	}
	if first < len(pieces) {
		*out = append(*out, join(pieces[first:], total))
	}
}

func join(pieces []span, runes int) span {
	return span{pieces[0].start, pieces[len(pieces)-1].end, runes}
}

// windows is the character-level fallback: chunkSize runes wide, stepping by chunkSize-overlap.
func (s *Splitter) windows(text string, sp span, out *[]span) {
	offsets := make([]int, 0, sp.runes+1)
	for i := range text[sp.start:sp.end] {
		offsets = append(offsets, sp.start+i)
	}
	offsets = append(offsets, sp.end)

	n := len(offsets) - 1
	step := s.chunkSize - s.overlap
	for i := 0; i < n; i += step {
		j := min(i+s.chunkSize, n)
		*out = append(*out, span{offsets[i], offsets[j], j - i})
		if j == n {
			break
		}
	}
}

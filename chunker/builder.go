// Package chunker turns page text into Chunk records with provenance.
package chunker

import (
	"strings"

	"docqa/types"
)

// Segmenter is anything that cuts text into ordered segments.
type Segmenter interface {
	Split(text string) []string
}

// Build splits every unit and attaches document, page and split index to each
// segment. Blank segments are skipped, so split indexes stay contiguous.
// An empty page yields no chunks.
func Build(units []types.SourceUnit, s Segmenter) []types.Chunk {
	var chunks []types.Chunk
	for _, u := range units {
		chunks = append(chunks, BuildPage(u, s)...)
	}
	return chunks
}

func BuildPage(u types.SourceUnit, s Segmenter) []types.Chunk {
	segments := s.Split(u.RawText)
	chunks := make([]types.Chunk, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		chunks = append(chunks, types.Chunk{
			Text:       seg,
			DocumentID: u.DocumentID,
			PageIndex:  u.PageIndex,
			SplitIndex: len(chunks),
		})
	}
	return chunks
}

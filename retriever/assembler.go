package retriever

import (
	"fmt"
	"strings"

	"docqa/types"
)

const DefaultSeparator = "\n\n---\n\n"

// TokenCounter reports the token length of text for the answer model.
type TokenCounter func(text string) int

// Assembler joins retrieved chunks, best first, into one context string.
type Assembler struct {
	separator string
	citations bool
	budget    int
	counter   TokenCounter
}

type AssemblerOption func(*Assembler)

func WithSeparator(sep string) AssemblerOption {
	return func(a *Assembler) {
		a.separator = sep
	}
}

// WithCitations prefixes every chunk with "[document, page N]".
func WithCitations(on bool) AssemblerOption {
	return func(a *Assembler) {
		a.citations = on
	}
}

// WithTokenBudget stops adding chunks once the context would exceed limit
// tokens. The best chunk is always kept. A limit of 0 disables the budget.
func WithTokenBudget(limit int, counter TokenCounter) AssemblerOption {
	return func(a *Assembler) {
		a.budget = limit
		a.counter = counter
	}
}

func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{separator: DefaultSeparator}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// With returns a copy of a with opts applied.
func (a *Assembler) With(opts ...AssemblerOption) *Assembler {
	c := *a
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

func (a *Assembler) Assemble(result types.QueryResult) types.AssembledContext {
	var (
		sb     strings.Builder
		out    types.AssembledContext
		sepLen int
	)
	if a.counter != nil {
		sepLen = a.counter(a.separator)
	}

	for i, hit := range result {
		part := hit.Chunk.Text
		if a.citations {
			part = fmt.Sprintf("[%s, page %d] %s", hit.Chunk.DocumentID, hit.Chunk.PageIndex+1, part)
		}

		cost := 0
		if a.counter != nil {
			cost = a.counter(part)
			if i > 0 {
				cost += sepLen
			}
		}
		if i > 0 && a.budget > 0 && a.counter != nil && out.Tokens+cost > a.budget {
			break
		}

		if i > 0 {
			sb.WriteString(a.separator)
		}
		sb.WriteString(part)
		out.Tokens += cost
		out.Sources = append(out.Sources, types.Source{
			DocumentID: hit.Chunk.DocumentID,
			PageIndex:  hit.Chunk.PageIndex,
			SplitIndex: hit.Chunk.SplitIndex,
			Score:      hit.Score,
		})
	}

	out.Text = sb.String()
	return out
}

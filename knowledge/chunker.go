package knowledge

import (
	"strings"
	"unicode/utf8"
)

// ============================================================================
// TEXT CHUNKING
// ============================================================================

// Chunk is a bounded slice of a source document's text.
type Chunk struct {
	Text  string
	Index int
	Total int
}

// separators in preference order: paragraph, line, sentence, word. A hard
// character cut is the last resort.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into overlapping chunks, preferring natural boundaries
// over hard cuts.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given target size and overlap,
// both in characters.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into chunks. Empty or whitespace-only input yields an
// empty slice.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return []Chunk{}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.splitPoint(text, start, end)
		}

		if span := strings.TrimSpace(text[start:end]); span != "" {
			chunks = append(chunks, Chunk{Text: span, Index: len(chunks)})
		}
		if end == len(text) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// splitPoint picks a cut position within (start, end] that lands on the most
// natural boundary available. Boundaries in the first half of the window are
// ignored so chunks do not degenerate.
func (c *Chunker) splitPoint(text string, start, end int) int {
	window := text[start:end]
	minCut := c.size / 2

	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx+len(sep) > minCut {
			return start + idx + len(sep)
		}
	}

	// Hard cut; back off so multi-byte runes stay intact.
	for end > start+1 && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

// Package chunk splits normalized documents into retrieval-sized chunks.
//
// Splitting prefers semantic boundaries (paragraph, then sentence, then
// word) and falls back to fixed-size windows with overlap. Chunks carry
// their rune offset in the document, so concatenating chunk texts in
// position order while dropping overlap-duplicated prefixes reconstructs
// the original text exactly.
package chunk

import (
	"strings"
	"unicode"

	"github.com/beetledev/beetle-engine/engine/domain"
)

const (
	// DefaultTargetSize is the target chunk length in runes.
	DefaultTargetSize = 1000
	// DefaultOverlap is the number of runes repeated between adjacent chunks.
	DefaultOverlap = 200
)

// Split cuts a document into chunks of at most targetSize runes. It is
// deterministic: the same document and parameters always produce the same
// chunks. A document shorter than targetSize yields exactly one chunk;
// zero-length chunks are never produced.
func Split(doc domain.Document, targetSize, overlap int) []domain.Chunk {
	if doc.Text == "" {
		return nil
	}
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= targetSize {
		overlap = targetSize / 4
	}

	runes := []rune(doc.Text)
	n := len(runes)

	var chunks []domain.Chunk
	start := 0
	pos := 0
	for start < n {
		end := start + targetSize
		if end >= n {
			end = n
		} else {
			end = cutPoint(runes, start, end)
		}

		text := string(runes[start:end])
		chunks = append(chunks, domain.Chunk{
			ID:            domain.ChunkID(doc.ID, pos),
			DocumentID:    doc.ID,
			RepositoryID:  doc.RepositoryID,
			Branch:        doc.Branch,
			Text:          text,
			Position:      pos,
			Start:         start,
			TokenEstimate: estimateTokens(text),
			SourceKind:    doc.SourceKind,
		})
		pos++

		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end // forward progress when overlap >= produced chunk
		}
		start = next
	}
	return chunks
}

// Reconstruct rebuilds the original document text from chunks, dropping the
// spans duplicated by overlap. Chunks must belong to the same document and
// be complete; order does not matter.
func Reconstruct(chunks []domain.Chunk) string {
	ordered := make([]domain.Chunk, len(chunks))
	copy(ordered, chunks)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Position < ordered[j-1].Position; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var b strings.Builder
	covered := 0
	for _, c := range ordered {
		r := []rune(c.Text)
		skip := covered - c.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(r) {
			b.WriteString(string(r[skip:]))
		}
		if end := c.Start + len(r); end > covered {
			covered = end
		}
	}
	return b.String()
}

// cutPoint finds the best boundary in (start, limit] to end a chunk,
// scanning backwards no further than half the window.
func cutPoint(runes []rune, start, limit int) int {
	floor := start + (limit-start)/2

	// Paragraph boundary: cut just after a blank line.
	for i := limit - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	// Sentence boundary: terminator followed by whitespace.
	for i := limit - 1; i > floor; i-- {
		if isSentenceEnd(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	// Word boundary.
	for i := limit - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	// Hard cut.
	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// estimateTokens approximates the token count as one token per four runes.
func estimateTokens(text string) int {
	n := len([]rune(text)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

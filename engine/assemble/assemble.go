// Package assemble turns ranked retrieval results into a grounded chat
// prompt. It picks sources greedily under a length budget and labels each
// one so the answer can cite them.
package assemble

import (
	"fmt"
	"strings"

	"github.com/beetledev/beetle-engine/engine/domain"
)

const systemTemplate = `You are a helpful assistant that answers questions based on the provided context.
Your responses should be:
- Accurate and based on the provided sources
- Concise and well-structured
- Include citations in the form [N] when referencing a specific source
- Say "I don't have enough information to answer this question" if the context doesn't contain relevant information

Context sources:

%s`

type Options struct {
	MaxContextLength int // total rune budget for formatted sources
	MaxSources       int
}

type Assembler struct {
	opts Options
}

func New(opts Options) *Assembler {
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = 4000
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = 5
	}
	return &Assembler{opts: opts}
}

// Assemble selects sources in the given (fused-score) order, stopping
// before the length budget or the source cap is exceeded. When even the
// first source is over budget it is truncated rather than dropped, so
// the prompt always carries at least one source if any were retrieved.
func (a *Assembler) Assemble(question string, results []domain.RetrievalResult) domain.ContextPrompt {
	prompt := domain.ContextPrompt{Question: question}

	var blocks []string
	used := 0
	for _, r := range results {
		if len(prompt.Sources) >= a.opts.MaxSources {
			break
		}

		label := len(prompt.Sources) + 1
		text := r.Text
		block := formatSource(label, text, r.SourceKind)

		if used+len([]rune(block)) > a.opts.MaxContextLength {
			if len(prompt.Sources) > 0 {
				break
			}
			// Nothing included yet: shrink the source to fit the budget.
			overhead := len([]rune(formatSource(label, "", r.SourceKind)))
			room := a.opts.MaxContextLength - overhead
			if room < 0 {
				room = 0
			}
			text = truncateRunes(text, room)
			block = formatSource(label, text, r.SourceKind)
			prompt.Truncated = true
		}

		blocks = append(blocks, block)
		used += len([]rune(block))
		prompt.Sources = append(prompt.Sources, domain.PromptSource{
			Label:      label,
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Title:      r.Title,
			SourceKind: r.SourceKind,
			Text:       text,
			FusedScore: r.FusedScore,
		})
	}

	if len(blocks) == 0 {
		blocks = []string{"No relevant sources found."}
	}

	prompt.System = fmt.Sprintf(systemTemplate, strings.Join(blocks, "\n\n"))
	prompt.User = question
	return prompt
}

func formatSource(label int, content string, sourceKind domain.SourceKind) string {
	return fmt.Sprintf("[%d] %s (from %s)", label, strings.TrimSpace(content), sourceKind)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Package answer sends the assembled prompt to the chat capability and
// turns its raw completion into a structured, cited answer.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/beetledev/beetle-engine/engine/domain"
)

// ChatRequest carries the prompt and sampling parameters to the chat
// capability.
type ChatRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// ChatResponse is the capability's raw completion.
type ChatResponse struct {
	Text       string
	TokensUsed int
	Model      string
}

// ChatCompleter is the external text-generation capability.
type ChatCompleter interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

type Options struct {
	MaxTokens        int
	Temperature      float64
	TopP             float64
	TopK             int
	IncludeCitations bool // when false, labels are stripped from the text
	Timeout          time.Duration
	Logger           *slog.Logger
}

type Agent struct {
	chat   ChatCompleter
	opts   Options
	logger *slog.Logger
}

func New(chat ChatCompleter, opts Options) *Agent {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{chat: chat, opts: opts, logger: logger}
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Answer generates the final response for an assembled prompt. The sources
// list is always populated from the prompt, whether or not the model cited
// them and whether or not citations remain in the text.
func (a *Agent) Answer(ctx context.Context, prompt domain.ContextPrompt) (domain.Answer, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	resp, err := a.chat.Chat(ctx, ChatRequest{
		System:      prompt.System,
		User:        prompt.User,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
		TopP:        a.opts.TopP,
		TopK:        a.opts.TopK,
	})
	if err != nil {
		return domain.Answer{}, &domain.AnswerError{
			Retryable: retryable(err),
			Err:       err,
		}
	}
	if strings.TrimSpace(resp.Text) == "" {
		return domain.Answer{}, &domain.AnswerError{
			Retryable: false,
			Err:       errors.New("empty completion"),
		}
	}

	cited := citedLabels(resp.Text, prompt.Sources)
	score := confidence(resp.Text, prompt.Sources, cited)

	text := resp.Text
	if !a.opts.IncludeCitations {
		text = stripCitations(text)
	}

	sources := make([]domain.Citation, len(prompt.Sources))
	for i, s := range prompt.Sources {
		sources[i] = domain.Citation{
			Label:      s.Label,
			ChunkID:    s.ChunkID,
			DocumentID: s.DocumentID,
			Title:      s.Title,
			SourceKind: s.SourceKind,
			Score:      s.FusedScore,
		}
	}

	tokens := resp.TokensUsed
	if tokens == 0 {
		tokens = len(resp.Text) / 4
	}

	a.logger.Debug("answer: completion processed",
		"citations", len(cited),
		"confidence", score,
		"tokens", tokens)

	return domain.Answer{
		Text:       text,
		Sources:    sources,
		Confidence: score,
		TokensUsed: tokens,
		Model:      resp.Model,
	}, nil
}

// citedLabels extracts the citation labels present in the response that
// actually match an included source. Labels pointing at no known source
// are ignored.
func citedLabels(text string, sources []domain.PromptSource) map[int]bool {
	known := make(map[int]bool, len(sources))
	for _, s := range sources {
		known[s.Label] = true
	}
	cited := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		label, err := strconv.Atoi(m[1])
		if err != nil || !known[label] {
			continue
		}
		cited[label] = true
	}
	return cited
}

var uncertaintyIndicators = []string{
	"i don't know", "i don't have", "not enough information",
	"cannot answer", "unclear", "uncertain", "no information",
}

var detailIndicators = []string{"function", "method", "api", "config", "example"}

// confidence scores the answer in [0,1] from citation coverage, response
// length, presence of concrete detail, average source relevance, and an
// uncertainty penalty.
func confidence(text string, sources []domain.PromptSource, cited map[int]bool) float64 {
	if len(sources) == 0 {
		return 0.0
	}

	citationScore := min(float64(len(cited))/float64(len(sources)), 1.0) * 0.3
	lengthScore := min(float64(len(text))/500, 1.0) * 0.2

	lower := strings.ToLower(text)
	uncertainty := 0.0
	for _, ind := range uncertaintyIndicators {
		if strings.Contains(lower, ind) {
			uncertainty = 0.5
			break
		}
	}

	detail := 0.0
	for _, ind := range detailIndicators {
		if strings.Contains(lower, ind) {
			detail = 0.3
			break
		}
	}

	var sum float64
	for _, s := range sources {
		sum += s.FusedScore
	}
	relevance := sum / float64(len(sources)) * 0.2

	total := citationScore + lengthScore + detail + relevance - uncertainty
	return max(0.0, min(1.0, total))
}

var (
	doubledSpace    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunc = regexp.MustCompile(` ([.,;:!?])`)
)

// stripCitations removes [N] labels and cleans up any doubled spaces left
// behind.
func stripCitations(text string) string {
	out := citationPattern.ReplaceAllString(text, "")
	out = doubledSpace.ReplaceAllString(out, " ")
	out = spaceBeforePunc.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae *domain.AnswerError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	// Transport-level failures are worth retrying, bad requests are not.
	return !errors.Is(err, context.Canceled)
}

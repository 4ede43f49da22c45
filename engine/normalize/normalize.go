// Package normalize converts raw source blobs into canonical documents:
// markup stripped, whitespace collapsed, language detected, content length
// enforced.
package normalize

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"

	"github.com/beetledev/beetle-engine/engine/domain"
)

// Options configures normalization. The zero value is not usable; callers
// build it from the validated engine configuration.
type Options struct {
	RemoveHTML       bool
	DetectLanguage   bool
	GenerateSummary  bool
	MinContentLength int
	MaxContentLength int
	SummaryMaxLength int
}

// LanguageUnknown is used when detection is disabled or inconclusive.
const LanguageUnknown = "unknown"

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize converts a source into a document. It is a pure function of its
// inputs.
//
// A cleaned text shorter than MinContentLength fails with a fatal
// *domain.NormalizeError. Text longer than MaxContentLength is truncated
// and the document is still returned, together with a non-fatal
// *domain.NormalizeError (Kind=Truncated) the caller may log and ignore.
// Language detection and summary generation failures are cosmetic and never
// fail normalization.
func Normalize(src domain.Source, repositoryID, branch string, opts Options) (domain.Document, error) {
	text := string(src.Content)
	title := defaultTitle(src.Origin)

	if opts.RemoveHTML && looksLikeHTML(text) {
		if stripped, htmlTitle, ok := stripHTML(text); ok {
			text = stripped
			if htmlTitle != "" {
				title = htmlTitle
			}
		}
	}

	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))

	if len([]rune(text)) < opts.MinContentLength {
		return domain.Document{}, &domain.NormalizeError{
			Kind:   domain.NormalizeTooShort,
			Length: len([]rune(text)),
			Limit:  opts.MinContentLength,
		}
	}

	var truncErr error
	if runes := []rune(text); opts.MaxContentLength > 0 && len(runes) > opts.MaxContentLength {
		truncErr = &domain.NormalizeError{
			Kind:   domain.NormalizeTruncated,
			Length: len(runes),
			Limit:  opts.MaxContentLength,
		}
		text = string(runes[:opts.MaxContentLength])
	}

	lang := LanguageUnknown
	if opts.DetectLanguage {
		lang = detectLanguage(text)
	}

	summary := ""
	if opts.GenerateSummary {
		summary = summarize(text, opts.SummaryMaxLength)
	}

	return domain.Document{
		ID:           domain.DocumentID(src.Origin),
		RepositoryID: repositoryID,
		Branch:       branch,
		Text:         text,
		Language:     lang,
		Title:        title,
		Summary:      summary,
		SourceKind:   src.Origin.Kind,
		OriginRef:    src.Origin.String(),
		CreatedAt:    time.Now().UTC(),
	}, truncErr
}

func looksLikeHTML(text string) bool {
	head := strings.ToLower(text)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") ||
		strings.Contains(head, "<!doctype") ||
		strings.Contains(head, "<body") ||
		strings.Contains(head, "<div") ||
		strings.Contains(head, "<p>")
}

// stripHTML extracts visible text and the page title. Parse failures fall
// back to the raw input.
func stripHTML(raw string) (text, title string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", "", false
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, svg, head").Remove()

	// Insert breaks after block elements so words don't fuse when the tag
	// markup is removed.
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote, pre, section, article").
		Each(func(_ int, s *goquery.Selection) {
			s.AppendHtml("\n")
		})

	body := doc.Find("body")
	if body.Length() > 0 {
		return body.Text(), title, true
	}
	return doc.Text(), title, true
}

// languageConfidenceMin is deliberately lower than whatlanggo's own
// reliability threshold, which rejects prose that reuses a narrow
// domain vocabulary. Detection is cosmetic, so plausible is enough.
const languageConfidenceMin = 0.2

func detectLanguage(text string) string {
	sample := []rune(text)
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	if len(sample) < 50 {
		return LanguageUnknown
	}
	info := whatlanggo.Detect(string(sample))
	if info.Confidence < languageConfidenceMin {
		return LanguageUnknown
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return LanguageUnknown
	}
	return code
}

// summarize takes leading sentences up to maxLen runes.
func summarize(text string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	cut := maxLen
	for i := maxLen; i > maxLen/2; i-- {
		if runes[i-1] == '.' || runes[i-1] == '!' || runes[i-1] == '?' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut]))
}

func defaultTitle(ref domain.OriginRef) string {
	switch ref.Kind {
	case domain.SourceGitHubFile:
		return path.Base(ref.Path)
	case domain.SourceWebPage:
		return ref.URL
	default:
		return ref.Name
	}
}

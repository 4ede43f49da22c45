// Package fetch resolves origin references into raw sources: GitHub file
// contents, web pages, or inline content handed over by the caller.
package fetch

import (
	"context"
	"time"

	"github.com/beetledev/beetle-engine/engine/domain"
)

// Fetcher resolves one origin into raw content.
type Fetcher interface {
	Fetch(ctx context.Context, origin domain.OriginRef) (domain.Source, error)
}

// Dispatcher routes fetches by origin kind. Upload and raw-text origins
// carry their content inline, so they never reach a remote fetcher.
type Dispatcher struct {
	github Fetcher
	web    Fetcher
}

func NewDispatcher(github, web Fetcher) *Dispatcher {
	return &Dispatcher{github: github, web: web}
}

func (d *Dispatcher) Fetch(ctx context.Context, origin domain.OriginRef) (domain.Source, error) {
	switch origin.Kind {
	case domain.SourceGitHubFile:
		return d.github.Fetch(ctx, origin)
	case domain.SourceWebPage:
		return d.web.Fetch(ctx, origin)
	default:
		return domain.Source{}, &domain.FetchError{
			Origin: origin.String(),
			Err:    domain.ErrUnknownSourceKind,
		}
	}
}

// Inline wraps caller-provided content (uploads, raw text) as a Source.
func Inline(origin domain.OriginRef, content []byte) domain.Source {
	return domain.Source{
		Origin:    origin,
		Content:   content,
		FetchedAt: time.Now().UTC(),
	}
}

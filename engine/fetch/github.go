package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/time/rate"

	"github.com/beetledev/beetle-engine/engine/domain"
)

// GitHubFetcher pulls single file contents from the GitHub contents API.
type GitHubFetcher struct {
	gh      *gh.Client
	limiter *rate.Limiter
}

// NewGitHubFetcher creates a fetcher. token may be empty for public repos.
func NewGitHubFetcher(token string) *GitHubFetcher {
	client := gh.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	// Stay well under GitHub's secondary rate limits.
	return &GitHubFetcher{
		gh:      client,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
}

func (f *GitHubFetcher) Fetch(ctx context.Context, origin domain.OriginRef) (domain.Source, error) {
	owner, repo, ok := strings.Cut(origin.Repository, "/")
	if !ok {
		return domain.Source{}, &domain.FetchError{
			Origin: origin.String(),
			Err:    fmt.Errorf("repository %q is not owner/name", origin.Repository),
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return domain.Source{}, &domain.FetchError{Origin: origin.String(), Err: err}
	}

	file, _, _, err := f.gh.Repositories.GetContents(ctx, owner, repo, origin.Path, &gh.RepositoryContentGetOptions{
		Ref: origin.Branch,
	})
	if err != nil {
		return domain.Source{}, &domain.FetchError{Origin: origin.String(), Err: err}
	}
	if file == nil {
		return domain.Source{}, &domain.FetchError{
			Origin: origin.String(),
			Err:    fmt.Errorf("%s is a directory, not a file", origin.Path),
		}
	}

	content, err := file.GetContent()
	if err != nil {
		return domain.Source{}, &domain.FetchError{
			Origin: origin.String(),
			Err:    fmt.Errorf("decode contents: %w", err),
		}
	}

	return domain.Source{
		Origin:    origin,
		Content:   []byte(content),
		FetchedAt: time.Now().UTC(),
	}, nil
}

package fetch

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/beetledev/beetle-engine/engine/domain"
)

const maxWebPageBytes = 10 << 20

// WebFetcher downloads a page and extracts its readable article content,
// dropping navigation and boilerplate before normalization sees it.
type WebFetcher struct {
	client *http.Client
}

func NewWebFetcher(timeout time.Duration) *WebFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (f *WebFetcher) Fetch(ctx context.Context, origin domain.OriginRef) (domain.Source, error) {
	pageURL, err := url.Parse(origin.URL)
	if err != nil {
		return domain.Source{}, &domain.FetchError{Origin: origin.String(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", origin.URL, nil)
	if err != nil {
		return domain.Source{}, &domain.FetchError{Origin: origin.String(), Err: err}
	}
	req.Header.Set("User-Agent", "beetle-engine/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Source{}, &domain.FetchError{Origin: origin.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Source{}, &domain.FetchError{
			Origin: origin.String(),
			Err:    fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebPageBytes))
	if err != nil {
		return domain.Source{}, &domain.FetchError{Origin: origin.String(), Err: err}
	}

	content := body
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && article.Content != "" {
		// Keep the extracted article HTML; normalization strips the
		// remaining tags.
		if article.Title != "" {
			content = []byte("<title>" + html.EscapeString(article.Title) + "</title>" + article.Content)
		} else {
			content = []byte(article.Content)
		}
	}

	return domain.Source{
		Origin:    origin,
		Content:   content,
		FetchedAt: time.Now().UTC(),
	}, nil
}

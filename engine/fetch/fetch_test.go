package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beetledev/beetle-engine/engine/domain"
)

type stubFetcher struct {
	source domain.Source
	err    error
	calls  int
}

func (s *stubFetcher) Fetch(_ context.Context, origin domain.OriginRef) (domain.Source, error) {
	s.calls++
	if s.err != nil {
		return domain.Source{}, s.err
	}
	src := s.source
	src.Origin = origin
	return src, nil
}

func TestDispatcher_Routing(t *testing.T) {
	github := &stubFetcher{source: domain.Source{Content: []byte("file body")}}
	web := &stubFetcher{source: domain.Source{Content: []byte("page body")}}
	d := NewDispatcher(github, web)
	ctx := context.Background()

	ghOrigin := domain.OriginRef{Kind: domain.SourceGitHubFile, Repository: "acme/w", Branch: "main", Path: "a.md"}
	src, err := d.Fetch(ctx, ghOrigin)
	if err != nil {
		t.Fatal(err)
	}
	if string(src.Content) != "file body" || github.calls != 1 || web.calls != 0 {
		t.Errorf("github routing: content=%q gh=%d web=%d", src.Content, github.calls, web.calls)
	}

	webOrigin := domain.OriginRef{Kind: domain.SourceWebPage, URL: "https://example.com"}
	src, err = d.Fetch(ctx, webOrigin)
	if err != nil {
		t.Fatal(err)
	}
	if string(src.Content) != "page body" || web.calls != 1 {
		t.Errorf("web routing: content=%q web=%d", src.Content, web.calls)
	}
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d := NewDispatcher(&stubFetcher{}, &stubFetcher{})

	_, err := d.Fetch(context.Background(), domain.OriginRef{Kind: domain.SourceUpload, Name: "file.pdf"})
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *domain.FetchError, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnknownSourceKind) {
		t.Errorf("err = %v", err)
	}
}

func TestInline(t *testing.T) {
	origin := domain.OriginRef{Kind: domain.SourceRawText, Name: "notes"}
	src := Inline(origin, []byte("inline body"))
	if string(src.Content) != "inline body" {
		t.Errorf("content = %q", src.Content)
	}
	if src.Origin != origin {
		t.Errorf("origin = %+v", src.Origin)
	}
	if src.FetchedAt.IsZero() {
		t.Error("fetched at not set")
	}
}

func TestWebFetcher_Fetch(t *testing.T) {
	page := `<html><head><title>Release Notes</title></head><body>
<nav>home | about | contact</nav>
<article><h1>Release Notes</h1>` + strings.Repeat("<p>The new release improves indexing throughput and fixes several retrieval bugs in the hybrid search path.</p>", 10) + `</article>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "beetle-engine/") {
			t.Errorf("user agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewWebFetcher(5 * time.Second)
	origin := domain.OriginRef{Kind: domain.SourceWebPage, URL: srv.URL}
	src, err := f.Fetch(context.Background(), origin)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(src.Content), "indexing throughput") {
		t.Errorf("article text missing from content")
	}
	if src.FetchedAt.IsZero() {
		t.Error("fetched at not set")
	}
}

func TestWebFetcher_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewWebFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), domain.OriginRef{Kind: domain.SourceWebPage, URL: srv.URL})
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *domain.FetchError, got %v", err)
	}
}

func TestWebFetcher_ConnectionRefused(t *testing.T) {
	f := NewWebFetcher(time.Second)
	_, err := f.Fetch(context.Background(), domain.OriginRef{
		Kind: domain.SourceWebPage,
		URL:  "http://127.0.0.1:1/nothing",
	})
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *domain.FetchError, got %v", err)
	}
}

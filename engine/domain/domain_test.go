package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestPartitionKey(t *testing.T) {
	if got := PartitionKey("acme/widgets", "main"); got != "acme/widgets@main" {
		t.Errorf("partition key = %q", got)
	}
	if PartitionKey("acme/widgets", "main") == PartitionKey("acme/widgets", "dev") {
		t.Error("different branches must yield different partitions")
	}
}

func TestDocumentID_StableAndDistinct(t *testing.T) {
	a := OriginRef{Kind: SourceGitHubFile, Repository: "acme/widgets", Branch: "main", Path: "a.md"}
	b := OriginRef{Kind: SourceGitHubFile, Repository: "acme/widgets", Branch: "main", Path: "b.md"}

	if DocumentID(a) != DocumentID(a) {
		t.Error("document id is not stable")
	}
	if DocumentID(a) == DocumentID(b) {
		t.Error("distinct origins collided")
	}
	if !strings.HasPrefix(DocumentID(a), "doc_") {
		t.Errorf("unexpected id shape: %q", DocumentID(a))
	}
}

func TestChunkID_Ordering(t *testing.T) {
	if got := ChunkID("doc_ab", 7); got != "doc_ab:0007" {
		t.Errorf("chunk id = %q", got)
	}
	// zero-padded positions keep lexicographic order aligned with numeric order
	if ChunkID("d", 2) >= ChunkID("d", 10) {
		t.Error("chunk ids do not sort by position")
	}
}

func TestOriginRefString(t *testing.T) {
	cases := []struct {
		ref  OriginRef
		want string
	}{
		{OriginRef{Kind: SourceGitHubFile, Repository: "acme/w", Branch: "main", Path: "x.md"}, "github_file:acme/w@main:x.md"},
		{OriginRef{Kind: SourceWebPage, URL: "https://example.com/p"}, "web_page:https://example.com/p"},
	}
	for _, tc := range cases {
		if got := tc.ref.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestSanitizeCollectionName(t *testing.T) {
	got := SanitizeCollectionName("beetle", "Acme/Widgets@Main")
	if got != "beetle_acme_widgets_main" {
		t.Errorf("sanitized = %q", got)
	}
	for _, r := range got {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			t.Fatalf("illegal rune %q in collection name", r)
		}
	}
	if SanitizeCollectionName("", "a@b") != "a_b" {
		t.Errorf("empty prefix handling: %q", SanitizeCollectionName("", "a@b"))
	}
}

func TestValidateOrigin(t *testing.T) {
	ok := OriginRef{Kind: SourceGitHubFile, Repository: "acme/w", Branch: "main", Path: "a.md"}
	if err := ValidateOrigin(ok); err != nil {
		t.Fatalf("valid origin rejected: %v", err)
	}

	cases := []struct {
		name string
		ref  OriginRef
		want error
	}{
		{"unknown kind", OriginRef{Kind: "carrier_pigeon"}, ErrUnknownSourceKind},
		{"missing repository", OriginRef{Kind: SourceGitHubFile, Branch: "main", Path: "a"}, ErrMissingOrigin},
		{"missing branch", OriginRef{Kind: SourceGitHubFile, Repository: "r", Path: "a"}, ErrMissingOrigin},
		{"missing path", OriginRef{Kind: SourceGitHubFile, Repository: "r", Branch: "main"}, ErrMissingOrigin},
		{"bad url scheme", OriginRef{Kind: SourceWebPage, URL: "ftp://example.com"}, ErrMissingOrigin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOrigin(tc.ref)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}

	web := OriginRef{Kind: SourceWebPage, URL: "https://example.com/doc"}
	if err := ValidateOrigin(web); err != nil {
		t.Fatalf("valid web origin rejected: %v", err)
	}
}

func TestValidateQuery(t *testing.T) {
	if err := ValidateQuery("acme/w", "main", "how does it work?"); err != nil {
		t.Fatalf("valid query rejected: %v", err)
	}
	if err := ValidateQuery("", "main", "q"); !errors.Is(err, ErrEmptyRepository) {
		t.Errorf("empty repository: got %v", err)
	}
	if err := ValidateQuery("r", "  ", "q"); !errors.Is(err, ErrEmptyBranch) {
		t.Errorf("blank branch: got %v", err)
	}
	if err := ValidateQuery("r", "main", "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank question: got %v", err)
	}
}

func TestNormalizeErrorFatal(t *testing.T) {
	short := &NormalizeError{Kind: NormalizeTooShort, Length: 3, Limit: 50}
	if !short.Fatal() {
		t.Error("too-short must be fatal")
	}
	trunc := &NormalizeError{Kind: NormalizeTruncated, Length: 200000, Limit: 100000}
	if trunc.Fatal() {
		t.Error("truncation must not be fatal")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	var err error = &IndexError{Partial: 12, Retryable: true, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("IndexError does not unwrap")
	}
	err = &RetrievalError{Branch: "vector", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("RetrievalError does not unwrap")
	}
	err = &AnswerError{Retryable: true, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("AnswerError does not unwrap")
	}
}

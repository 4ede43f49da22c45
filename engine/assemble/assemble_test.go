package assemble

import (
	"fmt"
	"strings"
	"testing"

	"github.com/beetledev/beetle-engine/engine/domain"
)

func result(chunkID, text string, score float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		ChunkID:    chunkID,
		DocumentID: "doc-1",
		Text:       text,
		SourceKind: domain.SourceGitHubFile,
		FusedScore: score,
	}
}

func TestAssemble_LabelsSourcesInOrder(t *testing.T) {
	a := New(Options{})
	results := []domain.RetrievalResult{
		result("c1", "first source text", 0.9),
		result("c2", "second source text", 0.7),
		result("c3", "third source text", 0.5),
	}

	prompt := a.Assemble("how does it work?", results)

	if len(prompt.Sources) != 3 {
		t.Fatalf("sources = %d, want 3", len(prompt.Sources))
	}
	for i, s := range prompt.Sources {
		if s.Label != i+1 {
			t.Errorf("source %d label = %d", i, s.Label)
		}
	}
	if !strings.Contains(prompt.System, "[1] first source text (from github_file)") {
		t.Errorf("system prompt missing labeled source:\n%s", prompt.System)
	}
	if prompt.User != "how does it work?" {
		t.Errorf("user prompt = %q", prompt.User)
	}
	if prompt.Truncated {
		t.Error("short sources must not set Truncated")
	}
}

func TestAssemble_RespectsSourceCap(t *testing.T) {
	a := New(Options{MaxSources: 2})
	var results []domain.RetrievalResult
	for i := 0; i < 6; i++ {
		results = append(results, result(fmt.Sprintf("c%d", i), "some text", 1.0))
	}

	prompt := a.Assemble("q", results)
	if len(prompt.Sources) != 2 {
		t.Errorf("sources = %d, want cap of 2", len(prompt.Sources))
	}
}

func TestAssemble_RespectsLengthBudget(t *testing.T) {
	a := New(Options{MaxContextLength: 200, MaxSources: 10})
	var results []domain.RetrievalResult
	for i := 0; i < 10; i++ {
		results = append(results, result(fmt.Sprintf("c%d", i), strings.Repeat("x", 80), 1.0))
	}

	prompt := a.Assemble("q", results)

	total := 0
	for _, s := range prompt.Sources {
		total += len([]rune(formatSource(s.Label, s.Text, s.SourceKind)))
	}
	if total > 200 {
		t.Errorf("formatted sources total %d runes, budget 200", total)
	}
	if len(prompt.Sources) == 0 || len(prompt.Sources) == 10 {
		t.Errorf("sources = %d, expected partial inclusion", len(prompt.Sources))
	}
}

func TestAssemble_TruncatesOversizedFirstSource(t *testing.T) {
	a := New(Options{MaxContextLength: 100})
	results := []domain.RetrievalResult{result("c1", strings.Repeat("long text ", 100), 0.9)}

	prompt := a.Assemble("q", results)

	if len(prompt.Sources) != 1 {
		t.Fatalf("sources = %d, want the truncated first source", len(prompt.Sources))
	}
	if !prompt.Truncated {
		t.Error("Truncated flag not set")
	}
	block := formatSource(1, prompt.Sources[0].Text, prompt.Sources[0].SourceKind)
	if got := len([]rune(block)); got > 100 {
		t.Errorf("truncated block is %d runes, budget 100", got)
	}
}

func TestAssemble_NoResults(t *testing.T) {
	a := New(Options{})
	prompt := a.Assemble("anything?", nil)

	if len(prompt.Sources) != 0 {
		t.Errorf("sources = %d, want none", len(prompt.Sources))
	}
	if !strings.Contains(prompt.System, "No relevant sources found.") {
		t.Errorf("system prompt missing empty-context marker:\n%s", prompt.System)
	}
}

func TestAssemble_CarriesMetadata(t *testing.T) {
	a := New(Options{})
	r := result("c1", "text body", 0.42)
	r.Title = "Install Guide"

	prompt := a.Assemble("q", []domain.RetrievalResult{r})
	s := prompt.Sources[0]
	if s.ChunkID != "c1" || s.DocumentID != "doc-1" || s.Title != "Install Guide" {
		t.Errorf("metadata lost: %+v", s)
	}
	if s.FusedScore != 0.42 {
		t.Errorf("fused score = %f", s.FusedScore)
	}
}

package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/justraw/friction/internal/dossier"
	"github.com/justraw/friction/internal/memory"
	embmock "github.com/justraw/friction/pkg/provider/embeddings/mock"
	"github.com/justraw/friction/pkg/provider/llm"
	llmmock "github.com/justraw/friction/pkg/provider/llm/mock"
)

func TestLLMSummariser(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"facts": ["forgets to say bonjour", "orders espresso"], "commonMistakes": ["missing greeting"]}`,
		},
	}
	s := memory.NewLLMSummariser(provider)

	turns := []dossier.Turn{
		{UserMessage: "café", CharacterResponse: "Et la politesse ?", RespectDelta: -2},
		{UserMessage: "Bonjour, un café s'il vous plaît", CharacterResponse: "Voilà.", RespectDelta: 3},
	}

	summary, err := s.Summarise(context.Background(), turns)
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}

	if len(summary.Facts) != 2 {
		t.Errorf("facts: want 2, got %d", len(summary.Facts))
	}
	if len(summary.CommonMistakes) != 1 {
		t.Errorf("common mistakes: want 1, got %d", len(summary.CommonMistakes))
	}

	// The transcript must carry both sides of each exchange.
	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("complete calls: want 1, got %d", len(provider.CompleteCalls))
	}
	req := provider.CompleteCalls[0].Req
	if !req.JSONResponse {
		t.Error("request should demand a JSON response")
	}
	transcript := req.Messages[0].Content
	for _, want := range []string{"café", "Et la politesse ?", "respect +3"} {
		if !strings.Contains(transcript, want) {
			t.Errorf("transcript missing %q:\n%s", want, transcript)
		}
	}
}

func TestLLMSummariser_EmptyTurns(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{}
	s := memory.NewLLMSummariser(provider)

	summary, err := s.Summarise(context.Background(), nil)
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if len(summary.Facts) != 0 {
		t.Errorf("facts: want none, got %v", summary.Facts)
	}
	if len(provider.CompleteCalls) != 0 {
		t.Error("empty session should not hit the LLM")
	}
}

func TestLLMSummariser_MalformedJSON(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "not json at all"},
	}
	s := memory.NewLLMSummariser(provider)

	_, err := s.Summarise(context.Background(), []dossier.Turn{{UserMessage: "x", CharacterResponse: "y"}})
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestEmbedFacts(t *testing.T) {
	t.Parallel()
	embedder := &embmock.Provider{Dims: 3}
	userID, sessionID := uuid.New(), uuid.New()

	facts, err := memory.EmbedFacts(context.Background(), embedder, userID, sessionID,
		[]string{"fact one", "fact two"})
	if err != nil {
		t.Fatalf("EmbedFacts: %v", err)
	}

	if len(facts) != 2 {
		t.Fatalf("facts: want 2, got %d", len(facts))
	}
	for i, f := range facts {
		if f.ID == uuid.Nil {
			t.Errorf("fact %d: missing ID", i)
		}
		if f.UserID != userID || f.SessionID != sessionID {
			t.Errorf("fact %d: wrong ownership", i)
		}
		if len(f.Embedding) != 3 {
			t.Errorf("fact %d: embedding length want 3, got %d", i, len(f.Embedding))
		}
	}
}

// truncatedEmbedder returns fewer vectors than texts, as a misbehaving
// backend might.
type truncatedEmbedder struct{}

func (truncatedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func (truncatedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 2, 3}}, nil
}

func (truncatedEmbedder) Dimensions() int { return 3 }

func TestEmbedFacts_ShortBatch(t *testing.T) {
	t.Parallel()
	_, err := memory.EmbedFacts(context.Background(), truncatedEmbedder{}, uuid.New(), uuid.New(),
		[]string{"fact one", "fact two"})
	if err == nil {
		t.Fatal("expected error when the embedder returns a short batch, got nil")
	}
}

func TestEmbedFacts_Empty(t *testing.T) {
	t.Parallel()
	embedder := &embmock.Provider{}
	facts, err := memory.EmbedFacts(context.Background(), embedder, uuid.New(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("EmbedFacts: %v", err)
	}
	if facts != nil {
		t.Errorf("want nil facts for empty input, got %v", facts)
	}
	if len(embedder.EmbedCalls) != 0 {
		t.Error("empty input should not hit the embedder")
	}
}

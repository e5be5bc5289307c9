package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/justraw/friction/internal/dossier"
	"github.com/justraw/friction/pkg/provider/embeddings"
	"github.com/justraw/friction/pkg/provider/llm"
)

// distillPrompt is the system prompt sent to the LLM when distilling a
// finished session into facts.
const distillPrompt = `You are analysing a finished language role-play session between a learner and a character.
Distill it into at most 5 short factual observations about the learner that the character
should remember next time: recurring vocabulary or grammar mistakes, politeness habits,
topics they struggled with, and anything they revealed about themselves.
Also list up to 3 recurring mistakes.
Respond with a JSON object: {"facts": ["..."], "commonMistakes": ["..."]}`

// Summary is the distilled output of one session.
type Summary struct {
	// Facts are observations worth recalling in later sessions.
	Facts []string `json:"facts"`

	// CommonMistakes are recurring learner errors, stored on the dossier.
	CommonMistakes []string `json:"commonMistakes"`
}

// Summariser distills a finished session's turn log.
type Summariser interface {
	// Summarise condenses the turns into facts and recurring mistakes.
	Summarise(ctx context.Context, turns []dossier.Turn) (*Summary, error)
}

// LLMSummariser uses an LLM provider to distill sessions.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats the turn log into a transcript, asks the model for a JSON
// distillation, and parses the result.
func (s *LLMSummariser) Summarise(ctx context.Context, turns []dossier.Turn) (*Summary, error) {
	if len(turns) == 0 {
		return &Summary{}, nil
	}

	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "[learner]: %s\n[character]: %s (respect %+d)\n",
			t.UserMessage, t.CharacterResponse, t.RespectDelta)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: distillPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature:  0.3,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("summarise: %w", err)
	}

	summary := &Summary{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), summary); err != nil {
		return nil, fmt.Errorf("summarise: parse response: %w", err)
	}
	return summary, nil
}

// EmbedFacts turns summary facts into embedded [Fact] rows ready for
// [Index.Store].
func EmbedFacts(ctx context.Context, embedder embeddings.Provider, userID, sessionID uuid.UUID, facts []string) ([]Fact, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	vectors, err := embedder.EmbedBatch(ctx, facts)
	if err != nil {
		return nil, fmt.Errorf("memory: embed facts: %w", err)
	}
	if len(vectors) != len(facts) {
		return nil, fmt.Errorf("memory: embed facts: got %d vectors for %d facts", len(vectors), len(facts))
	}

	out := make([]Fact, len(facts))
	for i, content := range facts {
		out[i] = Fact{
			ID:        uuid.New(),
			UserID:    userID,
			SessionID: sessionID,
			Content:   content,
			Embedding: vectors[i],
		}
	}
	return out, nil
}

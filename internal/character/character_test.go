package character

import (
	"context"
	"strings"
	"testing"

	"github.com/justraw/friction/internal/dossier"
	"github.com/justraw/friction/internal/scenario"
	"github.com/justraw/friction/pkg/provider/llm"
	llmmock "github.com/justraw/friction/pkg/provider/llm/mock"
)

func testScenario() scenario.Scenario {
	return scenario.Scenario{
		ID:           "paris-cafe",
		Character:    "Pierre",
		SystemPrompt: "You are Pierre. Respond with JSON.",
	}
}

func TestMoodFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score int
		want  Mood
	}{
		{0, MoodHostile},
		{33, MoodHostile},
		{34, MoodNeutral},
		{50, MoodNeutral},
		{66, MoodNeutral},
		{67, MoodWelcoming},
		{100, MoodWelcoming},
	}
	for _, tc := range tests {
		if got := MoodFor(tc.score); got != tc.want {
			t.Errorf("MoodFor(%d): want %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestParseReply(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		raw        string
		wantText   string
		wantDelta  int
		wantParsed bool
	}{
		{
			name:       "plain json",
			raw:        `{"text": "Voilà votre café.", "respectDelta": 2}`,
			wantText:   "Voilà votre café.",
			wantDelta:  2,
			wantParsed: true,
		},
		{
			name:       "fenced json",
			raw:        "```json\n{\"text\": \"Non.\", \"respectDelta\": -3}\n```",
			wantText:   "Non.",
			wantDelta:  -3,
			wantParsed: true,
		},
		{
			name:       "json wrapped in prose",
			raw:        `Here is my response: {"text": "Oui ?", "respectDelta": 0} hope that helps`,
			wantText:   "Oui ?",
			wantDelta:  0,
			wantParsed: true,
		},
		{
			name:       "raw prose fallback",
			raw:        "Je ne comprends pas.",
			wantText:   "Je ne comprends pas.",
			wantDelta:  0,
			wantParsed: false,
		},
		{
			name:       "broken json fallback",
			raw:        `{"text": "Oui`,
			wantText:   `{"text": "Oui`,
			wantDelta:  0,
			wantParsed: false,
		},
		{
			name:       "json without text fallback",
			raw:        `{"respectDelta": 5}`,
			wantText:   `{"respectDelta": 5}`,
			wantDelta:  0,
			wantParsed: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseReply(tc.raw)
			if got.Text != tc.wantText {
				t.Errorf("text: want %q, got %q", tc.wantText, got.Text)
			}
			if got.RespectDelta != tc.wantDelta {
				t.Errorf("delta: want %d, got %d", tc.wantDelta, got.RespectDelta)
			}
			if got.Parsed != tc.wantParsed {
				t.Errorf("parsed: want %v, got %v", tc.wantParsed, got.Parsed)
			}
		})
	}
}

func TestChat_Send(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"text": "Un café. C'est tout ?", "respectDelta": 1}`,
		},
	}
	g := NewGenerator(provider, Config{Temperature: 0.8, MaxTokens: 300})
	chat := g.StartChat(testScenario())

	d := &dossier.Dossier{Name: "Alex", RespectScore: 72, CommonMistakes: []string{"missing greeting"}}
	reply, err := chat.Send(context.Background(), "Bonjour, un café s'il vous plaît.", TurnContext{
		Dossier:  d,
		Memories: []string{"ordered espresso last time"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if reply.Text != "Un café. C'est tout ?" {
		t.Errorf("reply text: got %q", reply.Text)
	}
	if reply.RespectDelta != 1 {
		t.Errorf("delta: want 1, got %d", reply.RespectDelta)
	}

	req := provider.CompleteCalls[0].Req
	if !req.JSONResponse {
		t.Error("request should demand a JSON response")
	}
	for _, want := range []string{"You are Pierre", "Alex", "72/100", "welcoming", "missing greeting", "ordered espresso last time"} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}

	// History now carries the exchange.
	hist := chat.History()
	if len(hist) != 2 {
		t.Fatalf("history: want 2 messages, got %d", len(hist))
	}
	if hist[1].Role != "assistant" || hist[1].Content != reply.Text {
		t.Errorf("history tail: got %+v", hist[1])
	}
}

func TestChat_Send_RawFallback(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Quoi ?!"},
	}
	g := NewGenerator(provider, Config{})
	chat := g.StartChat(testScenario())

	reply, err := chat.Send(context.Background(), "blah", TurnContext{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Parsed {
		t.Error("parsed: want false for raw prose")
	}
	if reply.Text != "Quoi ?!" || reply.RespectDelta != 0 {
		t.Errorf("fallback reply: got %+v", reply)
	}
}

func TestChat_HistoryLimit(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"text": "Oui.", "respectDelta": 0}`,
		},
	}
	g := NewGenerator(provider, Config{HistoryLimit: 2})
	chat := g.StartChat(testScenario())

	for i := 0; i < 5; i++ {
		if _, err := chat.Send(context.Background(), "encore", TurnContext{}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	// The final request replays at most 2 exchanges (4 messages) plus the new
	// user line.
	last := provider.CompleteCalls[len(provider.CompleteCalls)-1].Req
	if got := len(last.Messages); got != 5 {
		t.Errorf("messages in final request: want 5, got %d", got)
	}
}

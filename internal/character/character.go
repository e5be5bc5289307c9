// Package character turns scenarios into live conversations.
//
// A [Generator] starts a [Chat] per session: it assembles the system prompt
// from the scenario, the learner's dossier, and recalled memories, replays
// the running history, and parses each model reply into text plus a respect
// delta. The generator never fails a turn on a malformed model reply; it
// degrades to the raw text with a zero delta.
package character

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/justraw/friction/internal/dossier"
	"github.com/justraw/friction/internal/scenario"
	"github.com/justraw/friction/pkg/provider/llm"
)

// Mood labels the character's disposition band for a respect score.
type Mood string

const (
	MoodHostile   Mood = "hostile"
	MoodNeutral   Mood = "neutral"
	MoodWelcoming Mood = "welcoming"
)

// MoodFor maps a respect score to its disposition band.
func MoodFor(score int) Mood {
	switch {
	case score <= 33:
		return MoodHostile
	case score >= 67:
		return MoodWelcoming
	default:
		return MoodNeutral
	}
}

// Reply is one parsed character response.
type Reply struct {
	// Text is the character's line.
	Text string `json:"text"`

	// RespectDelta is the score change the model assigned to the learner's
	// turn. Zero when the model reply could not be parsed.
	RespectDelta int `json:"respectDelta"`

	// Translation is an optional English rendering of Text.
	Translation string `json:"translation,omitempty"`

	// Hints are optional coaching notes for the learner.
	Hints []string `json:"hints,omitempty"`

	// Parsed reports whether the model produced well-formed JSON. A false
	// value means Text carries the raw model output.
	Parsed bool `json:"-"`
}

// Config holds the generation knobs shared by all chats.
type Config struct {
	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens caps the reply length.
	MaxTokens int

	// HistoryLimit is how many prior exchanges are replayed per request.
	// Zero means unlimited.
	HistoryLimit int
}

// Generator creates chats.
type Generator struct {
	llm llm.Provider
	cfg Config
}

// NewGenerator creates a Generator backed by the given LLM provider.
func NewGenerator(provider llm.Provider, cfg Config) *Generator {
	return &Generator{llm: provider, cfg: cfg}
}

// StartChat opens a conversation for one session. The returned Chat is safe
// for concurrent use, though the session layer serialises turns anyway.
func (g *Generator) StartChat(scen scenario.Scenario) *Chat {
	return &Chat{
		llm:  g.llm,
		cfg:  g.cfg,
		scen: scen,
	}
}

// TurnContext is the per-turn state woven into the prompt.
type TurnContext struct {
	// Dossier is the learner's current record, including the live respect
	// score.
	Dossier *dossier.Dossier

	// Memories are recalled facts from earlier sessions, most relevant first.
	Memories []string
}

// Chat is one running conversation.
type Chat struct {
	llm  llm.Provider
	cfg  Config
	scen scenario.Scenario

	mu      sync.Mutex
	history []llm.Message
}

// Send submits the learner's line and returns the character's parsed reply.
// The exchange is appended to the history only on success.
func (c *Chat) Send(ctx context.Context, userText string, tc TurnContext) (*Reply, error) {
	c.mu.Lock()
	messages := c.recentHistory()
	messages = append(messages, llm.Message{Role: "user", Content: userText})
	c.mu.Unlock()

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.systemPrompt(tc),
		Messages:     messages,
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("character: complete: %w", err)
	}

	reply := ParseReply(resp.Content)

	c.mu.Lock()
	c.history = append(c.history,
		llm.Message{Role: "user", Content: userText},
		llm.Message{Role: "assistant", Content: reply.Text},
	)
	c.mu.Unlock()

	return reply, nil
}

// SeedAssistant appends a canned character line to the history, as if the
// model had produced it. Used for scripted greetings when no generated
// opening line is available.
func (c *Chat) SeedAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, llm.Message{Role: "assistant", Content: text})
}

// History returns a copy of the full exchange log.
func (c *Chat) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

// recentHistory returns the tail of the history within the configured limit.
// Caller must hold c.mu.
func (c *Chat) recentHistory() []llm.Message {
	if c.cfg.HistoryLimit <= 0 || len(c.history) <= c.cfg.HistoryLimit*2 {
		return append([]llm.Message(nil), c.history...)
	}
	// A limit of N exchanges keeps the last N user/assistant pairs.
	return append([]llm.Message(nil), c.history[len(c.history)-c.cfg.HistoryLimit*2:]...)
}

// systemPrompt assembles the scenario prompt plus the per-turn learner
// context.
func (c *Chat) systemPrompt(tc TurnContext) string {
	var sb strings.Builder
	sb.WriteString(c.scen.SystemPrompt)

	if tc.Dossier != nil {
		name := tc.Dossier.Name
		if name == "" {
			name = dossier.DefaultName
		}
		fmt.Fprintf(&sb, "\n\nUSER: %s, Respect: %d/100.\nCurrent mood: %s.",
			name, tc.Dossier.RespectScore, MoodFor(tc.Dossier.RespectScore))
		if len(tc.Dossier.CommonMistakes) > 0 {
			fmt.Fprintf(&sb, "\nTheir recurring mistakes: %s.", strings.Join(tc.Dossier.CommonMistakes, "; "))
		}
	}

	if len(tc.Memories) > 0 {
		sb.WriteString("\nWhat you remember about them from before:")
		for _, m := range tc.Memories {
			sb.WriteString("\n- " + m)
		}
	}

	return sb.String()
}

// ParseReply extracts a [Reply] from raw model output. It tolerates fenced
// code blocks and leading prose around the JSON object. When no valid object
// can be found, the raw text is returned verbatim with a zero delta.
func ParseReply(raw string) *Reply {
	candidate := strings.TrimSpace(raw)

	// Strip a ```json ... ``` fence if present.
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(strings.TrimSpace(candidate), "```")
		candidate = strings.TrimSpace(candidate)
	}

	// Narrow to the outermost object in case the model wrapped it in prose.
	if start := strings.IndexByte(candidate, '{'); start >= 0 {
		if end := strings.LastIndexByte(candidate, '}'); end > start {
			candidate = candidate[start : end+1]
		}
	}

	reply := &Reply{}
	if err := json.Unmarshal([]byte(candidate), reply); err == nil && reply.Text != "" {
		reply.Parsed = true
		return reply
	}

	return &Reply{Text: strings.TrimSpace(raw)}
}

package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/justraw/friction/internal/character"
	"github.com/justraw/friction/internal/dossier"
	dossiermock "github.com/justraw/friction/internal/dossier/mock"
	"github.com/justraw/friction/internal/memory"
	memorymock "github.com/justraw/friction/internal/memory/mock"
	"github.com/justraw/friction/internal/scenario"
	"github.com/justraw/friction/internal/session"
	embmock "github.com/justraw/friction/pkg/provider/embeddings/mock"
	imagemock "github.com/justraw/friction/pkg/provider/image/mock"
	"github.com/justraw/friction/pkg/provider/llm"
	llmmock "github.com/justraw/friction/pkg/provider/llm/mock"
	"github.com/justraw/friction/pkg/provider/stt"
	sttmock "github.com/justraw/friction/pkg/provider/stt/mock"
	"github.com/justraw/friction/pkg/provider/tts"
	ttsmock "github.com/justraw/friction/pkg/provider/tts/mock"
	"github.com/google/uuid"
)

// stubSummariser records Summarise calls and returns a scripted summary.
type stubSummariser struct {
	mu      sync.Mutex
	calls   int
	summary *memory.Summary
	err     error
}

func (s *stubSummariser) Summarise(_ context.Context, _ []dossier.Turn) (*memory.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.summary != nil {
		return s.summary, nil
	}
	return &memory.Summary{}, nil
}

func (s *stubSummariser) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type env struct {
	llm   *llmmock.Provider
	stt   *sttmock.Provider
	tts   *ttsmock.Provider
	image *imagemock.Provider
	emb   *embmock.Provider
	store *dossiermock.Store
	index *memorymock.Index
	sum   *stubSummariser
	orch  *session.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()

	catalog, err := scenario.NewCatalog("paris-cafe")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	e := &env{
		llm:   &llmmock.Provider{},
		stt:   &sttmock.Provider{Transcript: &stt.Transcript{Text: "Bonjour monsieur", Confidence: 0.95}},
		tts:   &ttsmock.Provider{Clip: &tts.Clip{Data: []byte("mp3-bytes"), MIMEType: "audio/mpeg"}},
		image: &imagemock.Provider{URL: "https://img.example/scene.jpg"},
		emb:   &embmock.Provider{},
		store: dossiermock.NewStore(),
		index: &memorymock.Index{},
		sum:   &stubSummariser{},
	}
	e.orch = session.New(session.Deps{
		Catalog:    catalog,
		Store:      e.store,
		Memory:     e.index,
		Embedder:   e.emb,
		Generator:  character.NewGenerator(e.llm, character.Config{}),
		Summariser: e.sum,
		STT:        e.stt,
		TTS:        e.tts,
		Image:      e.image,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, session.Config{})
	return e
}

// jsonReply builds a well-formed generator response.
func jsonReply(text string, delta int) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: fmt.Sprintf(`{"text": %q, "respectDelta": %d}`, text, delta),
	}
}

// ready runs a handshake with scripted greeting and returns the session.
func (e *env) ready(t *testing.T) *session.Session {
	t.Helper()
	e.llm.CompleteResponses = append([]*llm.CompletionResponse{jsonReply("Oui ?", 0)}, e.llm.CompleteResponses...)
	sess := session.NewSession(uuid.New())
	if _, err := e.orch.Handshake(context.Background(), sess, "paris-cafe"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	return sess
}

func TestHandshakeUnknownScenarioFallsBackToDefault(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponse = jsonReply("Qu'est-ce que vous voulez ?", 0)

	sess := session.NewSession(uuid.New())
	ready, err := e.orch.Handshake(context.Background(), sess, "no-such-scenario")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	if ready.Scenario.ID != "paris-cafe" {
		t.Errorf("scenario = %q, want default %q", ready.Scenario.ID, "paris-cafe")
	}
	if ready.RespectScore != dossier.ScoreDefault {
		t.Errorf("respect score = %d, want %d", ready.RespectScore, dossier.ScoreDefault)
	}
	if ready.Greeting != "Qu'est-ce que vous voulez ?" {
		t.Errorf("greeting = %q, want generated line", ready.Greeting)
	}
	if ready.ImageURL != "https://img.example/scene.jpg" {
		t.Errorf("image url = %q", ready.ImageURL)
	}
	if ready.Audio == nil || ready.Audio.MIMEType != "audio/mpeg" {
		t.Errorf("audio = %+v, want mpeg clip", ready.Audio)
	}
	if got := sess.State(); got != session.StateReady {
		t.Errorf("state = %s, want %s", got, session.StateReady)
	}
}

func TestHandshakeStoreDownUsesDefaultDossier(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.store.GetErr = errors.New("connection refused")
	e.llm.CompleteResponse = jsonReply("Oui ?", 0)

	sess := session.NewSession(uuid.New())
	ready, err := e.orch.Handshake(context.Background(), sess, "paris-cafe")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if ready.RespectScore != dossier.ScoreDefault {
		t.Errorf("respect score = %d, want default %d", ready.RespectScore, dossier.ScoreDefault)
	}
}

func TestHandshakeGeneratorErrorFallsBackToScriptedGreeting(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteErr = errors.New("rate limited")

	sess := session.NewSession(uuid.New())
	ready, err := e.orch.Handshake(context.Background(), sess, "paris-cafe")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	scen, _ := mustScenario(t, "paris-cafe")
	if ready.Greeting != scen.Greeting {
		t.Errorf("greeting = %q, want scripted %q", ready.Greeting, scen.Greeting)
	}
}

func TestHandshakeWithoutGeneratorFails(t *testing.T) {
	t.Parallel()

	catalog, err := scenario.NewCatalog("paris-cafe")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	orch := session.New(session.Deps{
		Catalog: catalog,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, session.Config{})

	_, err = orch.Handshake(context.Background(), session.NewSession(uuid.New()), "")
	if !errors.Is(err, session.ErrGeneratorUnavailable) {
		t.Fatalf("Handshake error = %v, want ErrGeneratorUnavailable", err)
	}
}

func TestTurnTextAppliesDeltaAndPersists(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("Ah, bonjour !", 3)}
	sess := e.ready(t)

	res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour monsieur !"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if res.Text != "Ah, bonjour !" {
		t.Errorf("text = %q", res.Text)
	}
	if res.RespectDelta != 3 {
		t.Errorf("delta = %d, want 3", res.RespectDelta)
	}
	if res.RespectScore != 53 {
		t.Errorf("score = %d, want 53", res.RespectScore)
	}
	if res.Character != "Pierre" {
		t.Errorf("character = %q, want Pierre", res.Character)
	}
	if res.Audio == nil {
		t.Error("audio = nil, want clip")
	}

	if got := e.store.SetScoreCalls; len(got) == 0 || got[len(got)-1] != 53 {
		t.Errorf("SetScore calls = %v, want last 53", got)
	}
	turns := e.store.Turns()
	if len(turns) != 1 {
		t.Fatalf("logged turns = %d, want 1", len(turns))
	}
	if turns[0].UserMessage != "Bonjour monsieur !" || turns[0].RespectScoreAfter != 53 {
		t.Errorf("logged turn = %+v", turns[0])
	}
	if got := sess.State(); got != session.StateReady {
		t.Errorf("state after turn = %s, want %s", got, session.StateReady)
	}
}

func TestTurnScoreClampedAtBounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		seed  int
		delta int
		want  int
	}{
		{name: "upper", seed: 99, delta: 10, want: 100},
		{name: "lower", seed: 1, delta: -10, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			userID := uuid.New()
			e.store.Seed(&dossier.Dossier{UserID: userID, Name: "Alex", RespectScore: tc.seed})
			e.llm.CompleteResponses = []*llm.CompletionResponse{
				jsonReply("Oui ?", 0),
				jsonReply("Hmph.", tc.delta),
			}

			sess := session.NewSession(userID)
			if _, err := e.orch.Handshake(context.Background(), sess, "paris-cafe"); err != nil {
				t.Fatalf("Handshake: %v", err)
			}
			res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "..."})
			if err != nil {
				t.Fatalf("Turn: %v", err)
			}
			if res.RespectScore != tc.want {
				t.Errorf("score = %d, want %d", res.RespectScore, tc.want)
			}
			if got := e.store.SetScoreCalls[len(e.store.SetScoreCalls)-1]; got != tc.want {
				t.Errorf("persisted score = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTurnAudioFailureTakesFailLine(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.stt.Err = errors.New("upstream 500")
	sess := e.ready(t)
	llmCallsAfterHandshake := len(e.llm.CompleteCalls)

	res, err := e.orch.Turn(context.Background(), sess, session.Input{
		Audio: &stt.Audio{Data: []byte("webm"), MIMEType: "audio/webm"},
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	scen, _ := mustScenario(t, "paris-cafe")
	if res.Text != scen.FailLine {
		t.Errorf("text = %q, want fail line %q", res.Text, scen.FailLine)
	}
	if res.RespectDelta != -1 {
		t.Errorf("delta = %d, want -1", res.RespectDelta)
	}
	if res.RespectScore != 49 {
		t.Errorf("score = %d, want 49", res.RespectScore)
	}
	if len(e.llm.CompleteCalls) != llmCallsAfterHandshake {
		t.Errorf("generator called on untranscribable audio")
	}
	turns := e.store.Turns()
	if len(turns) != 1 || turns[0].UserMessage != "[Audio Input]" {
		t.Errorf("logged turns = %+v, want one with placeholder message", turns)
	}
}

func TestTurnEmptyTranscriptTakesFailLine(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.stt.Transcript = &stt.Transcript{Text: "   "}
	sess := e.ready(t)

	res, err := e.orch.Turn(context.Background(), sess, session.Input{
		Audio: &stt.Audio{Data: []byte("webm"), MIMEType: "audio/webm"},
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	scen, _ := mustScenario(t, "paris-cafe")
	if res.Text != scen.FailLine {
		t.Errorf("text = %q, want fail line", res.Text)
	}
}

func TestTurnDroppedWhileBusy(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.stt.Delay = 500 * time.Millisecond
	e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("...", 0)}
	sess := e.ready(t)

	done := make(chan error, 1)
	go func() {
		_, err := e.orch.Turn(context.Background(), sess, session.Input{
			Audio: &stt.Audio{Data: []byte("webm"), MIMEType: "audio/webm"},
		})
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "second"})
	if !errors.Is(err, session.ErrTurnInFlight) {
		t.Fatalf("concurrent Turn error = %v, want ErrTurnInFlight", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("first Turn: %v", err)
	}
}

func TestTurnUnparseableReplyFallsBackToRawText(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponses = []*llm.CompletionResponse{
		{Content: "Je ne parle pas JSON."},
	}
	sess := e.ready(t)

	res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Text != "Je ne parle pas JSON." {
		t.Errorf("text = %q, want raw model output", res.Text)
	}
	if res.RespectDelta != 0 {
		t.Errorf("delta = %d, want 0", res.RespectDelta)
	}
	if res.RespectScore != dossier.ScoreDefault {
		t.Errorf("score = %d, want unchanged %d", res.RespectScore, dossier.ScoreDefault)
	}
}

func TestTurnImageRegeneratedOnLargeDelta(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("Bien.", 5)}
	sess := e.ready(t)

	res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.ImageURL == "" {
		t.Error("image url empty, want re-render on |delta| >= threshold")
	}
	// Handshake render plus one turn render.
	if got := len(e.image.GenerateCalls); got != 2 {
		t.Errorf("Generate calls = %d, want 2", got)
	}
}

func TestTurnImageSkippedOnSmallDelta(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("Mouais.", 1)}
	sess := e.ready(t)

	res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.ImageURL != "" {
		t.Errorf("image url = %q, want none on small delta", res.ImageURL)
	}
	if got := len(e.image.GenerateCalls); got != 1 {
		t.Errorf("Generate calls = %d, want handshake render only", got)
	}
}

func TestTurnImageRegeneratedOnMoodTierChange(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	userID := uuid.New()
	// 66 is neutral; +1 crosses into welcoming even though the delta is small.
	e.store.Seed(&dossier.Dossier{UserID: userID, Name: "Alex", RespectScore: 66})
	e.llm.CompleteResponses = []*llm.CompletionResponse{
		jsonReply("Oui ?", 0),
		jsonReply("Ah, très bien !", 1),
	}

	sess := session.NewSession(userID)
	if _, err := e.orch.Handshake(context.Background(), sess, "paris-cafe"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Merci beaucoup !"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.ImageURL == "" {
		t.Error("image url empty, want re-render on mood tier change")
	}
}

func TestTurnCompletesWhenVoiceAndImageAreDown(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.tts.Err = errors.New("quota exceeded")
	e.image.Err = errors.New("service down")
	e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("Bonjour.", 5)}
	sess := e.ready(t)

	res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour"})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Audio != nil {
		t.Errorf("audio = %+v, want none", res.Audio)
	}
	if res.ImageURL != "" {
		t.Errorf("image url = %q, want none", res.ImageURL)
	}
	if res.Text != "Bonjour." {
		t.Errorf("text = %q, reply must survive stage failures", res.Text)
	}
}

func TestTurnRudeRequestScoresBelowPoliteRequest(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponses = []*llm.CompletionResponse{
		jsonReply("Mais bien sûr ! Tout de suite.", 3),
		jsonReply("Non mais ça ne va pas ?!", -4),
	}
	sess := e.ready(t)

	polite, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Hello, may I please have a coffee?"})
	if err != nil {
		t.Fatalf("polite Turn: %v", err)
	}
	rude, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Hey! Coffee! Now!"})
	if err != nil {
		t.Fatalf("rude Turn: %v", err)
	}

	if rude.RespectScore >= polite.RespectScore {
		t.Errorf("rude score %d, polite score %d: rudeness must cost respect",
			rude.RespectScore, polite.RespectScore)
	}
	if rude.RespectDelta >= 0 {
		t.Errorf("rude delta = %d, want negative", rude.RespectDelta)
	}
}

func TestTurnCompletesWhenMemoryIsDown(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fail func(e *env)
	}{
		{name: "recall error", fail: func(e *env) { e.index.RecallErr = errors.New("pgvector down") }},
		{name: "embedder error", fail: func(e *env) { e.emb.Err = errors.New("quota exceeded") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			tc.fail(e)
			e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("Bonjour.", 2)}
			sess := e.ready(t)

			res, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour"})
			if err != nil {
				t.Fatalf("Turn: %v", err)
			}
			if res.Text != "Bonjour." {
				t.Errorf("text = %q, reply must survive memory failure", res.Text)
			}
			if res.RespectScore != dossier.ScoreDefault+2 {
				t.Errorf("score = %d, want %d", res.RespectScore, dossier.ScoreDefault+2)
			}
		})
	}
}

func TestTurnLogRoundTripInReceiptOrder(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponses = []*llm.CompletionResponse{
		jsonReply("Un.", 1),
		jsonReply("Deux.", -2),
		jsonReply("Trois.", 2),
	}
	sess := e.ready(t)

	messages := []string{"premier", "deuxième", "troisième"}
	for _, msg := range messages {
		if _, err := e.orch.Turn(context.Background(), sess, session.Input{Text: msg}); err != nil {
			t.Fatalf("Turn %q: %v", msg, err)
		}
	}

	turns, err := e.store.TurnsBySession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("TurnsBySession: %v", err)
	}
	if len(turns) != len(messages) {
		t.Fatalf("turns = %d, want %d", len(turns), len(messages))
	}
	wantScores := []int{51, 49, 51}
	for i, turn := range turns {
		if turn.UserMessage != messages[i] {
			t.Errorf("turn %d message = %q, want %q (receipt order)", i, turn.UserMessage, messages[i])
		}
		if turn.RespectScoreAfter != wantScores[i] {
			t.Errorf("turn %d score after = %d, want %d", i, turn.RespectScoreAfter, wantScores[i])
		}
		if turn.SessionID != sess.ID {
			t.Errorf("turn %d session id = %s, want %s", i, turn.SessionID, sess.ID)
		}
	}
}

func TestCloseDistillsSessionIntoMemory(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.sum.summary = &memory.Summary{
		Facts:          []string{"Greets politely", "Orders un café"},
		CommonMistakes: []string{"forgets s'il vous plaît"},
	}
	e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("Bien.", 2)}
	sess := e.ready(t)

	if _, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Un café s'il vous plaît"}); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	e.orch.Close(sess)
	e.orch.Drain()

	if got := e.sum.callCount(); got != 1 {
		t.Fatalf("Summarise calls = %d, want 1", got)
	}
	facts := e.index.Facts()
	if len(facts) != 2 {
		t.Fatalf("stored facts = %d, want 2", len(facts))
	}
	for _, f := range facts {
		if f.UserID != sess.UserID || len(f.Embedding) == 0 {
			t.Errorf("fact = %+v, want embedding and user id set", f)
		}
	}
	if len(e.store.MistakesCalls) != 1 {
		t.Fatalf("SetCommonMistakes calls = %d, want 1", len(e.store.MistakesCalls))
	}
	if got := sess.State(); got != session.StateClosed {
		t.Errorf("state = %s, want %s", got, session.StateClosed)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.llm.CompleteResponses = []*llm.CompletionResponse{jsonReply("Bien.", 2)}
	sess := e.ready(t)
	if _, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour"}); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	e.orch.Close(sess)
	e.orch.Close(sess)
	e.orch.Drain()

	if got := e.sum.callCount(); got != 1 {
		t.Errorf("Summarise calls = %d, want exactly 1", got)
	}
}

func TestCloseWithoutTurnsSkipsSummarization(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.ready(t)

	e.orch.Close(sess)
	e.orch.Drain()

	if got := e.sum.callCount(); got != 0 {
		t.Errorf("Summarise calls = %d, want 0", got)
	}
}

func TestTurnAfterCloseRefused(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.ready(t)
	e.orch.Close(sess)

	_, err := e.orch.Turn(context.Background(), sess, session.Input{Text: "Bonjour"})
	if !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("Turn after close = %v, want ErrNotReady", err)
	}
}

// mustScenario fetches a builtin scenario for assertions.
func mustScenario(t *testing.T, id string) (scenario.Scenario, bool) {
	t.Helper()
	catalog, err := scenario.NewCatalog(id)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	scen, ok := catalog.Get(id)
	if !ok {
		t.Fatalf("builtin scenario %q missing", id)
	}
	return scen, ok
}

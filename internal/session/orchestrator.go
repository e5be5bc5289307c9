package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/justraw/friction/internal/character"
	"github.com/justraw/friction/internal/dossier"
	"github.com/justraw/friction/internal/memory"
	"github.com/justraw/friction/internal/observe"
	"github.com/justraw/friction/internal/resilience"
	"github.com/justraw/friction/internal/scenario"
	"github.com/justraw/friction/pkg/provider/embeddings"
	"github.com/justraw/friction/pkg/provider/image"
	"github.com/justraw/friction/pkg/provider/stt"
	"github.com/justraw/friction/pkg/provider/tts"
)

var (
	// ErrGeneratorUnavailable aborts a handshake when no character generator
	// is configured. This is the one error that reaches the client before
	// READY.
	ErrGeneratorUnavailable = errors.New("session: character generator unavailable")

	// ErrTurnInFlight means the message arrived while another turn was being
	// processed and was dropped.
	ErrTurnInFlight = errors.New("session: turn already in flight")

	// ErrNotReady means the session is not in a state that accepts turns.
	ErrNotReady = errors.New("session: not ready")
)

// Turn outcomes, recorded as the metrics outcome attribute.
const (
	outcomeOK          = "ok"
	outcomeFailLine    = "fail_line"
	outcomeRawFallback = "raw_fallback"
)

// audioPlaceholder is logged as the user message when the utterance could not
// be transcribed.
const audioPlaceholder = "[Audio Input]"

// openingCue prompts the generator for an in-character first line.
const openingCue = "(The learner has just arrived. Open the scene with your first line, in character.)"

// Config holds the orchestrator's tuning knobs.
type Config struct {
	// MemoryRecallLimit caps how many facts are recalled per prompt.
	// Zero means 5.
	MemoryRecallLimit int

	// ImageDeltaThreshold is the minimum |respect delta| that triggers a
	// scene re-render. A mood tier change always triggers one. Zero means 5.
	ImageDeltaThreshold int

	// TurnTimeout bounds one whole turn. Zero means 30s.
	TurnTimeout time.Duration

	// SummaryTimeout bounds the detached close-time summarization.
	// Zero means 30s.
	SummaryTimeout time.Duration

	// StageTimeout bounds each degradable stage call. Zero uses the
	// resilience default.
	StageTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.MemoryRecallLimit <= 0 {
		c.MemoryRecallLimit = 5
	}
	if c.ImageDeltaThreshold <= 0 {
		c.ImageDeltaThreshold = 5
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 30 * time.Second
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 30 * time.Second
	}
}

// Deps are the orchestrator's collaborators. Catalog and Generator are
// required; everything else may be nil and the corresponding stage is
// skipped.
type Deps struct {
	Catalog    *scenario.Catalog
	Store      dossier.Store
	Memory     memory.Index
	Embedder   embeddings.Provider
	Generator  *character.Generator
	Summariser memory.Summariser
	STT        stt.Provider
	TTS        tts.Provider
	Image      image.Provider
	Metrics    *observe.Metrics
	Logger     *slog.Logger
}

// Orchestrator drives sessions through handshake, turns, and close. It is
// safe for concurrent use across sessions; per-session sequencing is enforced
// with the session's single-flight guard.
type Orchestrator struct {
	cfg Config

	catalog    *scenario.Catalog
	store      dossier.Store
	memory     memory.Index
	embedder   embeddings.Provider
	generator  *character.Generator
	summariser memory.Summariser
	stt        stt.Provider
	tts        tts.Provider
	image      image.Provider

	storeDeg  *resilience.Degrader
	memoryDeg *resilience.Degrader
	sttDeg    *resilience.Degrader
	ttsDeg    *resilience.Degrader
	imageDeg  *resilience.Degrader

	metrics *observe.Metrics
	log     *slog.Logger

	// summaryWG tracks detached summarization goroutines so Shutdown (and
	// tests) can wait for them.
	summaryWG sync.WaitGroup
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	cfg.fillDefaults()

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		cfg:        cfg,
		catalog:    deps.Catalog,
		store:      deps.Store,
		memory:     deps.Memory,
		embedder:   deps.Embedder,
		generator:  deps.Generator,
		summariser: deps.Summariser,
		stt:        deps.STT,
		tts:        deps.TTS,
		image:      deps.Image,
		metrics:    metrics,
		log:        log,
	}

	onDegrade := func(name string) {
		metrics.RecordDegradation(context.Background(), name)
	}
	newDeg := func(name string) *resilience.Degrader {
		return resilience.NewDegrader(resilience.DegraderConfig{
			Name:      name,
			Timeout:   cfg.StageTimeout,
			Logger:    log,
			OnDegrade: onDegrade,
		})
	}
	o.storeDeg = newDeg("store")
	o.memoryDeg = newDeg("memory")
	o.sttDeg = newDeg("stt")
	o.ttsDeg = newDeg("tts")
	o.imageDeg = newDeg("image")

	return o
}

// Ready is the handshake result sent to the client.
type Ready struct {
	Scenario     scenario.Scenario
	RespectScore int
	Greeting     string
	Translation  string
	Hints        []string
	ImageURL     string
	Audio        *tts.Clip
}

// Handshake resolves the scenario, loads the dossier, opens the chat, and
// renders the opening scene. Every stage except the generator degrades to a
// default; the handshake itself only fails when no generator is configured.
func (o *Orchestrator) Handshake(ctx context.Context, sess *Session, scenarioID string) (*Ready, error) {
	if o.generator == nil {
		return nil, ErrGeneratorUnavailable
	}
	if sess.State() != StateAwaitingHandshake {
		return nil, fmt.Errorf("session: handshake in state %s", sess.State())
	}

	scen, ok := o.catalog.Get(scenarioID)
	if !ok {
		scen = o.catalog.Default()
		if scenarioID != "" {
			o.log.Warn("unknown scenario requested, using default",
				"requested", scenarioID, "default", scen.ID)
		}
	}

	dos := o.loadDossier(ctx, sess.UserID)
	o.bestEffortStore(ctx, "increment sessions", func(ctx context.Context) error {
		return o.store.IncrementSessions(ctx, sess.UserID)
	})

	memories := o.recall(ctx, sess.UserID, scen.Name+". "+scen.Description)

	chat := o.generator.StartChat(scen)
	greeting := &character.Reply{Text: scen.Greeting}
	reply, err := chat.Send(ctx, openingCue, character.TurnContext{
		Dossier:  dos,
		Memories: memories,
	})
	if err != nil || strings.TrimSpace(reply.Text) == "" {
		if err != nil {
			o.log.Warn("generated greeting failed, using scripted greeting",
				"session_id", sess.ID, "err", err)
		}
		chat.SeedAssistant(scen.Greeting)
	} else {
		greeting = reply
	}

	mood := character.MoodFor(dos.RespectScore)

	var imageURL string
	var clip *tts.Clip
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		imageURL = o.renderScene(gctx, scen, mood)
		return nil
	})
	g.Go(func() error {
		clip = o.speak(gctx, greeting.Text, scen.VoiceID)
		return nil
	})
	_ = g.Wait()

	sess.mu.Lock()
	sess.scen = scen
	sess.chat = chat
	sess.dos = *dos
	sess.lastMood = mood
	sess.mu.Unlock()
	sess.setState(StateReady)

	o.metrics.ActiveSessions.Add(ctx, 1)
	o.log.Info("session ready",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"scenario", scen.ID,
		"respect_score", dos.RespectScore,
	)

	return &Ready{
		Scenario:     scen,
		RespectScore: dos.RespectScore,
		Greeting:     greeting.Text,
		Translation:  greeting.Translation,
		Hints:        greeting.Hints,
		ImageURL:     imageURL,
		Audio:        clip,
	}, nil
}

// Input is one client turn: text, or a recorded utterance.
type Input struct {
	Text  string
	Audio *stt.Audio
}

// Result is one completed turn.
type Result struct {
	Text         string
	Character    string
	RespectScore int
	RespectDelta int
	Translation  string
	Hints        []string
	ImageURL     string
	Audio        *tts.Clip
}

// Turn processes one utterance. It is single-flight: a call that arrives
// while another turn is in flight returns [ErrTurnInFlight] and the message
// is dropped. The turn always completes with a Result once admitted; failing
// stages degrade rather than error.
func (o *Orchestrator) Turn(ctx context.Context, sess *Session, input Input) (*Result, error) {
	switch st := sess.State(); st {
	case StateReady:
	case StateProcessingTurn:
		// A turn in flight has already moved the state; this message is the
		// single-flight drop case, not a lifecycle violation.
		o.metrics.DroppedTurns.Add(ctx, 1)
		o.log.Debug("turn dropped, session busy", "session_id", sess.ID)
		return nil, ErrTurnInFlight
	default:
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, st)
	}
	if !sess.busy.CompareAndSwap(false, true) {
		o.metrics.DroppedTurns.Add(ctx, 1)
		o.log.Debug("turn dropped, session busy", "session_id", sess.ID)
		return nil, ErrTurnInFlight
	}
	defer sess.busy.Store(false)

	sess.casState(StateReady, StateProcessingTurn)
	defer sess.casState(StateProcessingTurn, StateReady)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	scen := sess.Scenario()
	userText, userMessage, heard := o.resolveUtterance(ctx, input)

	var reply *character.Reply
	outcome := outcomeOK
	switch {
	case !heard:
		reply = &character.Reply{Text: scen.FailLine, RespectDelta: -1}
		outcome = outcomeFailLine
	default:
		memories := o.recall(ctx, sess.UserID, userText)
		dos := sess.snapshotDossier()

		llmStart := time.Now()
		var err error
		reply, err = sess.chat.Send(ctx, userText, character.TurnContext{
			Dossier:  &dos,
			Memories: memories,
		})
		o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
		if err != nil {
			o.log.Error("generator failed mid-turn", "session_id", sess.ID, "err", err)
			reply = &character.Reply{Text: scen.FailLine}
			outcome = outcomeFailLine
		} else if !reply.Parsed {
			outcome = outcomeRawFallback
		}
	}

	score, moodChanged := sess.applyDelta(reply.RespectDelta)
	o.metrics.RecordRespectDelta(ctx, reply.RespectDelta)

	turn := dossier.Turn{
		UserID:            sess.UserID,
		SessionID:         sess.ID,
		UserMessage:       userMessage,
		CharacterResponse: reply.Text,
		RespectDelta:      reply.RespectDelta,
		RespectScoreAfter: score,
	}
	sess.recordTurn(turn)
	o.bestEffortStore(ctx, "persist score", func(ctx context.Context) error {
		return o.store.SetScore(ctx, sess.UserID, score)
	})
	o.bestEffortStore(ctx, "log turn", func(ctx context.Context) error {
		return o.store.AppendTurn(ctx, &turn)
	})

	var imageURL string
	var clip *tts.Clip
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		clip = o.speak(gctx, reply.Text, scen.VoiceID)
		return nil
	})
	if abs(reply.RespectDelta) >= o.cfg.ImageDeltaThreshold || moodChanged {
		mood := character.MoodFor(score)
		g.Go(func() error {
			imageURL = o.renderScene(gctx, scen, mood)
			return nil
		})
	}
	_ = g.Wait()

	o.metrics.RecordTurn(ctx, outcome, time.Since(start).Seconds())
	o.log.Info("turn complete",
		"session_id", sess.ID,
		"outcome", outcome,
		"respect_delta", reply.RespectDelta,
		"respect_score", score,
		"duration", time.Since(start),
	)

	return &Result{
		Text:         reply.Text,
		Character:    scen.Character,
		RespectScore: score,
		RespectDelta: reply.RespectDelta,
		Translation:  reply.Translation,
		Hints:        reply.Hints,
		ImageURL:     imageURL,
		Audio:        clip,
	}, nil
}

// Close ends the session. The final score is flushed synchronously
// (best-effort); summarization into long-term memory runs in a detached
// goroutine and is never awaited by the connection. Close is idempotent.
func (o *Orchestrator) Close(sess *Session) {
	prev := State(sess.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return
	}
	if prev == StateAwaitingHandshake {
		// Never reached READY; nothing to flush or distill.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.metrics.ActiveSessions.Add(ctx, -1)

	score := sess.Score()
	o.bestEffortStore(ctx, "flush final score", func(ctx context.Context) error {
		return o.store.SetScore(ctx, sess.UserID, score)
	})

	turns := sess.takeTurns()
	if len(turns) == 0 || o.summariser == nil {
		o.log.Info("session closed", "session_id", sess.ID, "turns", len(turns))
		return
	}

	o.summaryWG.Add(1)
	go o.summarise(sess.UserID, sess.ID, turns)
	o.log.Info("session closed", "session_id", sess.ID, "turns", len(turns))
}

// Drain blocks until all detached summarization work has finished. Called
// during server shutdown.
func (o *Orchestrator) Drain() {
	o.summaryWG.Wait()
}

// summarise distills a finished session into dossier annotations and memory
// facts. Runs detached from any connection; failures are logged and dropped.
func (o *Orchestrator) summarise(userID, sessionID uuid.UUID, turns []dossier.Turn) {
	defer o.summaryWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SummaryTimeout)
	defer cancel()

	sum, err := o.summariser.Summarise(ctx, turns)
	if err != nil {
		o.log.Warn("session summarization failed", "session_id", sessionID, "err", err)
		return
	}

	if len(sum.CommonMistakes) > 0 && o.store != nil {
		if err := o.store.SetCommonMistakes(ctx, userID, sum.CommonMistakes); err != nil {
			o.log.Warn("storing common mistakes failed", "session_id", sessionID, "err", err)
		}
	}

	if len(sum.Facts) == 0 || o.embedder == nil || o.memory == nil {
		return
	}
	facts, err := memory.EmbedFacts(ctx, o.embedder, userID, sessionID, sum.Facts)
	if err != nil {
		o.log.Warn("embedding session facts failed", "session_id", sessionID, "err", err)
		return
	}
	if err := o.memory.Store(ctx, facts); err != nil {
		o.log.Warn("storing session facts failed", "session_id", sessionID, "err", err)
		return
	}
	o.log.Info("session distilled into memory",
		"session_id", sessionID, "facts", len(facts), "mistakes", len(sum.CommonMistakes))
}

// resolveUtterance turns the raw input into learner text. heard is false
// when there is nothing usable and the turn should take the fail line.
func (o *Orchestrator) resolveUtterance(ctx context.Context, input Input) (userText, userMessage string, heard bool) {
	if input.Audio == nil {
		text := strings.TrimSpace(input.Text)
		return text, text, text != ""
	}

	if o.stt == nil {
		return "", audioPlaceholder, false
	}
	sttStart := time.Now()
	tr, ok := resilience.Do(ctx, o.sttDeg, func(ctx context.Context) (*stt.Transcript, error) {
		return o.stt.Transcribe(ctx, *input.Audio)
	})
	o.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if !ok || strings.TrimSpace(tr.Text) == "" {
		return "", audioPlaceholder, false
	}
	text := strings.TrimSpace(tr.Text)
	return text, text, true
}

// loadDossier reads the learner's record, degrading to a fresh default.
func (o *Orchestrator) loadDossier(ctx context.Context, userID uuid.UUID) *dossier.Dossier {
	if o.store == nil {
		return defaultDossier(userID)
	}
	dos, ok := resilience.Do(ctx, o.storeDeg, func(ctx context.Context) (*dossier.Dossier, error) {
		return o.store.Get(ctx, userID)
	})
	if !ok {
		return defaultDossier(userID)
	}
	dos.RespectScore = dossier.Clamp(dos.RespectScore)
	return dos
}

// recall returns memory facts relevant to query, most relevant first.
// Degrades to none.
func (o *Orchestrator) recall(ctx context.Context, userID uuid.UUID, query string) []string {
	if o.memory == nil || o.embedder == nil {
		return nil
	}
	facts, ok := resilience.Do(ctx, o.memoryDeg, func(ctx context.Context) ([]memory.RecalledFact, error) {
		vec, err := o.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		return o.memory.Recall(ctx, userID, vec, o.cfg.MemoryRecallLimit)
	})
	if !ok {
		return nil
	}
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Content
	}
	return out
}

// renderScene generates the scene image for the current mood. Degrades to "".
func (o *Orchestrator) renderScene(ctx context.Context, scen scenario.Scenario, mood character.Mood) string {
	if o.image == nil || scen.VisualBasePrompt == "" {
		return ""
	}
	start := time.Now()
	url, ok := resilience.Do(ctx, o.imageDeg, func(ctx context.Context) (string, error) {
		return o.image.Generate(ctx, image.Request{
			Prompt:          scenePrompt(scen, mood),
			ReferenceImages: scen.ReferenceImages,
		})
	})
	o.metrics.ImageDuration.Record(ctx, time.Since(start).Seconds())
	if !ok {
		return ""
	}
	return url
}

// speak synthesizes text in the scenario voice. Degrades to nil.
func (o *Orchestrator) speak(ctx context.Context, text, voiceID string) *tts.Clip {
	if o.tts == nil || text == "" {
		return nil
	}
	start := time.Now()
	clip, ok := resilience.Do(ctx, o.ttsDeg, func(ctx context.Context) (*tts.Clip, error) {
		return o.tts.Synthesize(ctx, text, voiceID)
	})
	o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if !ok {
		return nil
	}
	return clip
}

// bestEffortStore runs a store write under the store degrader, logging
// context on failure. The turn continues either way.
func (o *Orchestrator) bestEffortStore(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if o.store == nil {
		return
	}
	_, ok := resilience.Do(ctx, o.storeDeg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if !ok {
		o.log.Warn("store write degraded", "op", op)
	}
}

// scenePrompt composes the render prompt from the scenario's fixed visual
// base plus the character's current disposition.
func scenePrompt(scen scenario.Scenario, mood character.Mood) string {
	return fmt.Sprintf("%s %s's expression and body language are %s.",
		scen.VisualBasePrompt, scen.Character, mood)
}

func defaultDossier(userID uuid.UUID) *dossier.Dossier {
	return &dossier.Dossier{
		UserID:       userID,
		Name:         dossier.DefaultName,
		RespectScore: dossier.ScoreDefault,
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Package ws exposes role-play sessions over a WebSocket connection.
//
// One connection owns one [session.Session]. The read loop stays responsive
// while a turn is processed: turns run in a goroutine, and a message arriving
// mid-turn is dropped by the orchestrator's single-flight guard. Malformed or
// unknown JSON frames are logged and ignored.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/justraw/friction/internal/session"
	"github.com/justraw/friction/pkg/provider/stt"
)

// defaultAudioMIME is assumed for binary frames when not configured. Browser
// MediaRecorder uploads WebM/Opus.
const defaultAudioMIME = "audio/webm"

// Config holds handler options.
type Config struct {
	// OriginPatterns is passed to the WebSocket accept check. Empty allows
	// same-host only.
	OriginPatterns []string

	// AudioMIMEType describes binary-frame audio. Empty means audio/webm.
	AudioMIMEType string

	// Logger receives connection lifecycle logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// Handler upgrades HTTP requests to voice-session WebSocket connections.
type Handler struct {
	orch      *session.Orchestrator
	registry  *Registry
	origins   []string
	audioMIME string
	log       *slog.Logger
}

// NewHandler creates a Handler serving sessions from orch.
func NewHandler(orch *session.Orchestrator, registry *Registry, cfg Config) *Handler {
	h := &Handler{
		orch:      orch,
		registry:  registry,
		origins:   cfg.OriginPatterns,
		audioMIME: cfg.AudioMIMEType,
		log:       cfg.Logger,
	}
	if h.audioMIME == "" {
		h.audioMIME = defaultAudioMIME
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	sess := session.NewSession(userID)
	c := &connection{
		conn:      conn,
		sess:      sess,
		orch:      h.orch,
		audioMIME: h.audioMIME,
		log:       h.log.With("session_id", sess.ID, "user_id", userID),
	}

	if !h.registry.Acquire(userID, sess.ID) {
		c.log.Warn("refusing second concurrent session for user")
		c.writeError(r.Context(), "another session is already active for this user")
		conn.Close(websocket.StatusPolicyViolation, "session already active")
		return
	}
	defer h.registry.Release(userID, sess.ID)
	defer h.orch.Close(sess)

	c.log.Info("connection open", "remote", r.RemoteAddr)
	c.readLoop(r.Context())
	c.log.Info("connection closed")
}

// userIDFrom resolves the user identity from the user_id query parameter. An
// absent or malformed value gets a fresh anonymous identity.
func userIDFrom(r *http.Request) uuid.UUID {
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id
		}
	}
	return uuid.New()
}

// connection is the per-socket state: one session, one serialized writer.
type connection struct {
	conn      *websocket.Conn
	sess      *session.Session
	orch      *session.Orchestrator
	audioMIME string
	log       *slog.Logger

	writeMu sync.Mutex
}

// readLoop consumes frames until the connection drops. It returns on any read
// error; the caller tears the session down.
func (c *connection) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.log.Debug("read failed", "err", err)
			}
			return
		}

		switch typ {
		case websocket.MessageText:
			c.handleText(ctx, data)
		case websocket.MessageBinary:
			c.dispatchTurn(ctx, session.Input{
				Audio: &stt.Audio{Data: data, MIMEType: c.audioMIME},
			})
		}
	}
}

// handleText decodes and dispatches one JSON control frame.
func (c *connection) handleText(ctx context.Context, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Debug("ignoring malformed frame", "err", err)
		return
	}

	switch frame.Type {
	case frameStart:
		c.handleStart(ctx, frame.ScenarioID)
	case frameText:
		c.dispatchTurn(ctx, session.Input{Text: frame.Text})
	default:
		c.log.Debug("ignoring unknown frame type", "frame_type", frame.Type)
	}
}

// handleStart runs the handshake. Generator unavailability is the one error
// surfaced to the client; the connection closes right after.
func (c *connection) handleStart(ctx context.Context, scenarioID string) {
	if c.sess.State() != session.StateAwaitingHandshake {
		c.log.Debug("ignoring duplicate start frame")
		return
	}

	ready, err := c.orch.Handshake(ctx, c.sess, scenarioID)
	if err != nil {
		c.log.Error("handshake failed", "err", err)
		c.writeError(ctx, "session could not be initialized")
		c.conn.Close(websocket.StatusInternalError, "handshake failed")
		return
	}
	c.writeJSON(ctx, newReadyFrame(ready))
}

// dispatchTurn processes a turn without blocking the read loop, so messages
// arriving mid-turn are read (and dropped) instead of piling up.
func (c *connection) dispatchTurn(ctx context.Context, input session.Input) {
	go func() {
		res, err := c.orch.Turn(ctx, c.sess, input)
		if err != nil {
			// Dropped or out-of-state turns produce no frame.
			return
		}
		c.writeJSON(ctx, newResponseFrame(res))
	}()
}

// writeJSON marshals v and writes it as a text frame. Writes are serialized
// so handshake and turn goroutines never interleave on the socket.
func (c *connection) writeJSON(ctx context.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal frame", "err", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Debug("write failed", "err", err)
	}
}

func (c *connection) writeError(ctx context.Context, msg string) {
	c.writeJSON(ctx, errorFrame{Type: "error", Message: msg})
}

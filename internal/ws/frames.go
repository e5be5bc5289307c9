package ws

import (
	"encoding/base64"

	"github.com/justraw/friction/internal/scenario"
	"github.com/justraw/friction/internal/session"
)

// clientFrame is the tagged union of JSON frames a client may send. Binary
// frames carry raw audio and bypass JSON entirely.
type clientFrame struct {
	// Type discriminates the frame: "start" or "text".
	Type string `json:"type"`

	// ScenarioID selects the scenario on a start frame. Empty uses the
	// catalog default.
	ScenarioID string `json:"scenarioId,omitempty"`

	// Text is the learner's utterance on a text frame.
	Text string `json:"text,omitempty"`
}

// Client frame types.
const (
	frameStart = "start"
	frameText  = "text"
)

// scenarioInfo is the scenario metadata surfaced in the ready frame.
type scenarioInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Character   string `json:"character"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	InitialMood string `json:"initialMood,omitempty"`
}

// readyFrame completes the handshake.
type readyFrame struct {
	Type            string       `json:"type"`
	Scenario        scenarioInfo `json:"scenario"`
	RespectScore    int          `json:"respectScore"`
	InitialGreeting string       `json:"initialGreeting,omitempty"`
	Translation     string       `json:"translation,omitempty"`
	Hints           []string     `json:"hints,omitempty"`
	ImageURL        string       `json:"imageUrl,omitempty"`
	Audio           string       `json:"audio,omitempty"`
	AudioMIMEType   string       `json:"audioMimeType,omitempty"`
}

// responseFrame carries one completed turn.
type responseFrame struct {
	Type          string   `json:"type"`
	Text          string   `json:"text"`
	Character     string   `json:"character"`
	RespectScore  int      `json:"respectScore"`
	RespectDelta  int      `json:"respectDelta"`
	Translation   string   `json:"translation,omitempty"`
	Hints         []string `json:"hints,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	Audio         string   `json:"audio,omitempty"`
	AudioMIMEType string   `json:"audioMimeType,omitempty"`
}

// errorFrame reports an unrecoverable condition; the connection closes after
// it is sent.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newReadyFrame(ready *session.Ready) readyFrame {
	f := readyFrame{
		Type:            "ready",
		Scenario:        newScenarioInfo(ready.Scenario),
		RespectScore:    ready.RespectScore,
		InitialGreeting: ready.Greeting,
		Translation:     ready.Translation,
		Hints:           ready.Hints,
		ImageURL:        ready.ImageURL,
	}
	if ready.Audio != nil {
		f.Audio = base64.StdEncoding.EncodeToString(ready.Audio.Data)
		f.AudioMIMEType = ready.Audio.MIMEType
	}
	return f
}

func newResponseFrame(res *session.Result) responseFrame {
	f := responseFrame{
		Type:         "response",
		Text:         res.Text,
		Character:    res.Character,
		RespectScore: res.RespectScore,
		RespectDelta: res.RespectDelta,
		Translation:  res.Translation,
		Hints:        res.Hints,
		ImageURL:     res.ImageURL,
	}
	if res.Audio != nil {
		f.Audio = base64.StdEncoding.EncodeToString(res.Audio.Data)
		f.AudioMIMEType = res.Audio.MIMEType
	}
	return f
}

func newScenarioInfo(scen scenario.Scenario) scenarioInfo {
	return scenarioInfo{
		ID:          scen.ID,
		Name:        scen.Name,
		Character:   scen.Character,
		Location:    scen.Location,
		Description: scen.Description,
		Difficulty:  string(scen.Difficulty),
		InitialMood: scen.InitialMood,
	}
}

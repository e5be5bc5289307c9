// Package scenario defines role-play scenarios and the catalog that serves
// them.
//
// A scenario fixes everything about a situation that does not change while it
// is played: the character, the location, the system prompt that drives the
// generator, and the visual base prompt for scene renders. Session state
// (respect score, history, current scene image) lives elsewhere.
package scenario

import "fmt"

// Difficulty rates how forgiving a scenario's character is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// IsValid reports whether d is a recognised difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Scenario is one immutable role-play situation.
type Scenario struct {
	// ID is the stable catalog key (e.g., "paris-cafe").
	ID string `yaml:"id"`

	// Name is the display title shown to clients.
	Name string `yaml:"name"`

	// Character is the in-fiction name of the counterpart.
	Character string `yaml:"character"`

	// Location describes where the scene takes place.
	Location string `yaml:"location"`

	// Description is a one-line pitch shown in scenario pickers.
	Description string `yaml:"description"`

	// Difficulty rates the character's tolerance for mistakes.
	Difficulty Difficulty `yaml:"difficulty"`

	// InitialMood is the character's starting disposition label.
	InitialMood string `yaml:"initial_mood"`

	// SystemPrompt drives the generator. It must instruct the model to answer
	// with a JSON object carrying "text" and "respectDelta".
	SystemPrompt string `yaml:"system_prompt"`

	// VisualBasePrompt is the fixed part of every scene-render prompt.
	VisualBasePrompt string `yaml:"visual_base_prompt"`

	// ReferenceImages are character reference URLs forwarded to the image
	// backend so the subject stays consistent between renders.
	ReferenceImages []string `yaml:"reference_images"`

	// VoiceID selects the TTS voice for this character. Empty uses the
	// provider default.
	VoiceID string `yaml:"voice_id"`

	// Greeting is the character's opening line, spoken before the first
	// learner turn.
	Greeting string `yaml:"greeting"`

	// FailLine is the in-fiction reply used when the learner's speech could
	// not be transcribed.
	FailLine string `yaml:"fail_line"`
}

// Validate reports whether s is complete enough to be served.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario: id is required")
	}
	if s.Character == "" {
		return fmt.Errorf("scenario %q: character is required", s.ID)
	}
	if s.SystemPrompt == "" {
		return fmt.Errorf("scenario %q: system_prompt is required", s.ID)
	}
	if s.Difficulty != "" && !s.Difficulty.IsValid() {
		return fmt.Errorf("scenario %q: difficulty %q is invalid; valid values: Easy, Medium, Hard", s.ID, s.Difficulty)
	}
	return nil
}

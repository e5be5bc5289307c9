package scenario

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCatalog_Builtins(t *testing.T) {
	t.Parallel()
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	s, ok := c.Get("paris-cafe")
	if !ok {
		t.Fatal("paris-cafe not found in catalog")
	}
	if s.Character != "Pierre" {
		t.Errorf("character: want Pierre, got %q", s.Character)
	}
	if s.FailLine == "" {
		t.Error("paris-cafe has no fail line")
	}

	if _, ok := c.Get("border-crossing"); !ok {
		t.Fatal("border-crossing not found in catalog")
	}

	if got := c.Default().ID; got != "paris-cafe" {
		t.Errorf("default scenario: want paris-cafe, got %q", got)
	}
}

func TestNewCatalog_ExplicitDefault(t *testing.T) {
	t.Parallel()
	c, err := NewCatalog("border-crossing")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if got := c.Default().Character; got != "Officer Petrov" {
		t.Errorf("default character: want Officer Petrov, got %q", got)
	}
}

func TestNewCatalog_UnknownDefault(t *testing.T) {
	t.Parallel()
	if _, err := NewCatalog("moon-base"); err == nil {
		t.Fatal("expected error for unknown default scenario, got nil")
	}
}

func TestLoadCatalog_MergesDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// A brand-new scenario plus an override of a built-in.
	writeScenario(t, dir, "bakery.yaml", `
id: bakery
name: La Boulangerie
character: Madame Dubois
location: Lyon
description: Buy a baguette before they sell out.
difficulty: Easy
initial_mood: Cheerful
system_prompt: |
  You are Madame Dubois, a cheerful baker.
  Respond with a JSON object: {"text": "your response", "respectDelta": number}
visual_base_prompt: A warm French bakery at dawn.
greeting: Bonjour mon petit !
`)
	writeScenario(t, dir, "paris-cafe.yml", `
id: paris-cafe
name: Le Garçon de Café (Nice Edition)
character: Pierre
description: Pierre on a good day.
difficulty: Easy
system_prompt: You are a friendly Pierre. Respond with JSON.
`)

	c, err := LoadCatalog(dir, "")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	bakery, ok := c.Get("bakery")
	if !ok {
		t.Fatal("bakery not found after merge")
	}
	if bakery.Character != "Madame Dubois" {
		t.Errorf("bakery character: want Madame Dubois, got %q", bakery.Character)
	}
	// File scenarios without a fail line inherit the default.
	if bakery.FailLine == "" {
		t.Error("bakery has no fail line after merge")
	}

	cafe, _ := c.Get("paris-cafe")
	if cafe.Difficulty != DifficultyEasy {
		t.Errorf("overridden paris-cafe difficulty: want Easy, got %q", cafe.Difficulty)
	}
}

func TestLoadCatalog_InvalidScenario(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", `
id: broken
name: No Prompt
character: Ghost
`)
	if _, err := LoadCatalog(dir, ""); err == nil {
		t.Fatal("expected error for scenario without system_prompt, got nil")
	}
}

func TestList_SortedByID(t *testing.T) {
	t.Parallel()
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	list := c.List()
	if len(list) < 2 {
		t.Fatalf("want at least 2 scenarios, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Errorf("list not sorted: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

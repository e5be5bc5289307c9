package bfl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justraw/friction/pkg/provider/image"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New with empty apiKey: want error, got nil")
	}
}

func TestGenerate_SubmitAndPoll(t *testing.T) {
	var polls atomic.Int32
	var gotPayload map[string]any

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/flux-2-klein-9b", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":          "job-1",
			"polling_url": srv.URL + "/result/job-1",
		})
	})
	mux.HandleFunc("/result/job-1", func(w http.ResponseWriter, _ *http.Request) {
		// Pending on the first poll, Ready on the second.
		if polls.Add(1) < 2 {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "Pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "Ready",
			"result": map[string]string{"sample": "https://cdn.example.com/scene.jpg"},
		})
	})

	p, err := New("test-key", WithBaseURL(srv.URL), WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	url, err := p.Generate(context.Background(), image.Request{
		Prompt:          "a rainy paris cafe terrace at dusk",
		ReferenceImages: []string{"https://refs.example.com/pierre.png"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if url != "https://cdn.example.com/scene.jpg" {
		t.Errorf("url: want scene.jpg URL, got %q", url)
	}
	if gotPayload["prompt"] != "a rainy paris cafe terrace at dusk" {
		t.Errorf("prompt: got %v", gotPayload["prompt"])
	}
	if gotPayload["input_image"] != "https://refs.example.com/pierre.png" {
		t.Errorf("input_image: got %v", gotPayload["input_image"])
	}
	if got := polls.Load(); got != 2 {
		t.Errorf("polls: want 2, got %d", got)
	}
}

func TestGenerate_ReferenceImageLimit(t *testing.T) {
	var gotPayload map[string]any

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/flux-2-klein-9b", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]string{"polling_url": srv.URL + "/result"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "Ready",
			"result": map[string]string{"sample": "https://cdn.example.com/x.jpg"},
		})
	})

	p, err := New("key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	refs := make([]string, 6)
	for i := range refs {
		refs[i] = fmt.Sprintf("https://refs.example.com/%d.png", i)
	}
	if _, err := p.Generate(context.Background(), image.Request{Prompt: "p", ReferenceImages: refs}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, key := range []string{"input_image", "input_image_2", "input_image_3", "input_image_4"} {
		if _, ok := gotPayload[key]; !ok {
			t.Errorf("payload missing %s", key)
		}
	}
	if _, ok := gotPayload["input_image_5"]; ok {
		t.Error("payload contains input_image_5; want at most 4 reference images")
	}
}

func TestGenerate_JobError(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/flux-2-klein-9b", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"polling_url": srv.URL + "/result"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "Error", "error": "nsfw prompt"})
	})

	p, err := New("key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Generate(context.Background(), image.Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "nsfw prompt") {
		t.Fatalf("want job error surfaced, got %v", err)
	}
}

func TestGenerate_PollBudgetExhausted(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/flux-2-klein-9b", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"polling_url": srv.URL + "/result"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "Pending"})
	})

	p, err := New("key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond), WithMaxPolls(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Generate(context.Background(), image.Request{Prompt: "p"}); err == nil {
		t.Fatal("Generate with never-ready job: want error, got nil")
	}
}

func TestGenerate_ContextCancelled(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/flux-2-klein-9b", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"polling_url": srv.URL + "/result"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "Pending"})
	})

	p, err := New("key", WithBaseURL(srv.URL), WithPollInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Generate(ctx, image.Request{Prompt: "p"})
	if err == nil {
		t.Fatal("Generate with cancelled ctx: want error, got nil")
	}
}

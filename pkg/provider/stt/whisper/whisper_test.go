package whisper

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/justraw/friction/pkg/provider/stt"
)

func TestNew_RequiresServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New with empty serverURL: want error, got nil")
	}
}

func TestTranscribe(t *testing.T) {
	var gotFields map[string]string
	var gotFileName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		gotFields = map[string]string{}

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("parse content type: %v", err)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			if part.FormName() == "file" {
				gotFileName = part.FileName()
				continue
			}
			val, _ := io.ReadAll(part)
			gotFields[part.FormName()] = string(val)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": " Je voudrais un croissant.\n"}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("fr"), WithModel("small"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Transcribe(context.Background(), stt.Audio{
		Data:     []byte("fake-wav"),
		MIMEType: "audio/wav",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if want := " Je voudrais un croissant.\n"; got.Text != want {
		t.Errorf("text: want %q, got %q", want, got.Text)
	}
	if gotFileName != "audio.wav" {
		t.Errorf("file name: want audio.wav, got %q", gotFileName)
	}
	if gotFields["language"] != "fr" {
		t.Errorf("language field: want fr, got %q", gotFields["language"])
	}
	if gotFields["model"] != "small" {
		t.Errorf("model field: want small, got %q", gotFields["model"])
	}
}

func TestTranscribe_ServerReportedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": "failed to decode audio"}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), stt.Audio{Data: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "failed to decode audio") {
		t.Fatalf("want server error surfaced, got %v", err)
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mimeType string
		want     string
	}{
		{"audio/webm", "audio.webm"},
		{"audio/ogg", "audio.ogg"},
		{"audio/mpeg", "audio.mp3"},
		{"audio/wav", "audio.wav"},
		{"", "audio.wav"},
	}
	for _, tc := range tests {
		if got := fileName(tc.mimeType); got != tc.want {
			t.Errorf("fileName(%q): want %q, got %q", tc.mimeType, tc.want, got)
		}
	}
}

package art

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/feedagent/internal/config"
)

func newImageServer(t *testing.T, status int) (*httptest.Server, *imageRequest) {
	t.Helper()
	var got imageRequest
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /images/generations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": srv.URL + "/files/img.png"}},
		})
	})
	mux.HandleFunc("GET /files/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG-data"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAI_Render(t *testing.T) {
	srv, got := newImageServer(t, http.StatusOK)
	c := NewOpenAIWithBaseURL("sk-test", "", srv.URL+"/")

	img, err := c.Render(context.Background(), "a neon cat in rain")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(img) != "\x89PNG-data" {
		t.Errorf("image = %q", img)
	}
	want := imageRequest{
		Model: "dall-e-3", Prompt: "a neon cat in rain", N: 1,
		Size: "1024x1024", Quality: "standard", ResponseFormat: "url",
	}
	if *got != want {
		t.Errorf("request = %+v, want %+v", *got, want)
	}
}

func TestOpenAI_RateLimited(t *testing.T) {
	srv, _ := newImageServer(t, http.StatusTooManyRequests)
	c := NewOpenAIWithBaseURL("sk-test", "dall-e-3", srv.URL)

	_, err := c.Render(context.Background(), "x")
	if _, ok := err.(*RateLimitError); !ok {
		t.Errorf("err = %v, want *RateLimitError", err)
	}
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	srv, _ := newImageServer(t, http.StatusBadRequest)
	c := NewOpenAIWithBaseURL("sk-test", "dall-e-3", srv.URL)

	_, err := c.Render(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want status 400", err)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	ctx := context.Background()

	r, err := New(ctx, config.ArtConfig{Provider: "openai", OpenAIAPIKey: "sk"}, nil)
	if err != nil {
		t.Fatalf("New(openai): %v", err)
	}
	if _, ok := r.(*OpenAI); !ok {
		t.Errorf("got %T, want *OpenAI", r)
	}

	if _, err := New(ctx, config.ArtConfig{Provider: "openai"}, nil); err == nil {
		t.Error("expected error without OpenAI key")
	}
	if _, err := New(ctx, config.ArtConfig{Provider: "gemini"}, nil); err == nil {
		t.Error("expected error without Gemini key")
	}
	if _, err := New(ctx, config.ArtConfig{Provider: "midjourney"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestImagenModel(t *testing.T) {
	tests := map[string]string{
		"":                        defaultImagenModel,
		"dall-e-3":                defaultImagenModel,
		"imagen-4.0-generate-001": "imagen-4.0-generate-001",
	}
	for in, want := range tests {
		if got := imagenModel(in); got != want {
			t.Errorf("imagenModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArchive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "generated-art")
	a := NewArchive(dir)
	a.now = func() time.Time { return time.UnixMilli(1735689600123) }

	path, err := a.Archive([]byte("png"))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if filepath.Base(path) != "generated-1735689600123.png" {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png" {
		t.Errorf("read back %q, %v", data, err)
	}
}

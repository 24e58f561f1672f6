// Package art renders images from text prompts and archives the results.
package art

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/feedagent/internal/config"
)

// Renderer turns a prompt into PNG bytes.
type Renderer interface {
	Render(ctx context.Context, prompt string) ([]byte, error)
}

// New returns the renderer selected by cfg.Provider. httpClient is used for
// every outbound request; nil means http.DefaultClient.
func New(ctx context.Context, cfg config.ArtConfig, httpClient *http.Client) (Renderer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("art.openai_api_key is required for the openai provider")
		}
		c := NewOpenAI(cfg.OpenAIAPIKey, cfg.Model)
		if httpClient != nil {
			c.httpClient = httpClient
		}
		return c, nil
	case "gemini":
		return NewGenAI(ctx, cfg.GeminiAPIKey, cfg.Model, httpClient)
	default:
		return nil, fmt.Errorf("unknown art provider %q", cfg.Provider)
	}
}

// Archive writes rendered images to a directory as generated-<unixmillis>.png.
type Archive struct {
	dir string
	now func() time.Time
}

func NewArchive(dir string) *Archive {
	return &Archive{dir: dir, now: time.Now}
}

// Archive writes img and returns the file path.
func (a *Archive) Archive(img []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating art directory: %w", err)
	}
	path := filepath.Join(a.dir, fmt.Sprintf("generated-%d.png", a.now().UnixMilli()))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

package art

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const defaultImagenModel = "imagen-3.0-generate-002"

// GenAI renders through Google's Imagen models.
type GenAI struct {
	client *genai.Client
	model  string
}

func NewGenAI(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("art.gemini_api_key is required for the gemini provider")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GenAI{client: client, model: imagenModel(model)}, nil
}

// imagenModel falls back to the default Imagen model when the configured
// one is empty or belongs to another provider.
func imagenModel(model string) string {
	if model == "" || strings.HasPrefix(model, "dall-e") || strings.HasPrefix(model, "gpt-") {
		return defaultImagenModel
	}
	return model
}

func (g *GenAI) Render(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("generating image: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("no image returned")
	}
	img := resp.GeneratedImages[0]
	if len(img.Image.ImageBytes) == 0 {
		if img.RAIFilteredReason != "" {
			return nil, fmt.Errorf("image filtered: %s", img.RAIFilteredReason)
		}
		return nil, fmt.Errorf("empty image returned")
	}
	return img.Image.ImageBytes, nil
}

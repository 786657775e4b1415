package imagegen

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// DefaultGeminiImageModel is the Gemini model used for coloring pages.
const DefaultGeminiImageModel = "gemini-3-pro-image-preview"

// GeminiProviderConfig holds configuration for the Gemini image provider.
type GeminiProviderConfig struct {
	// APIKey is the Gemini API key (required)
	APIKey string

	// Model is the image model (default: gemini-3-pro-image-preview)
	Model string

	// BaseURL overrides the API endpoint (optional)
	BaseURL string

	// HTTPClient is used for API calls (optional)
	HTTPClient *http.Client
}

// GeminiProvider generates images through the Gemini generateContent API.
//
// Thread Safety: GeminiProvider is safe for concurrent use.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini image provider.
//
// Example:
//
//	provider, err := NewGeminiProvider(ctx, GeminiProviderConfig{APIKey: key})
//	if err != nil {
//	    return err
//	}
//	img, err := provider.Generate(ctx, BuildPrompt("Ocean Friends"), QualityMedium)
func NewGeminiProvider(ctx context.Context, cfg GeminiProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: Gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiImageModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{client: client, model: cfg.Model}, nil
}

// Generate requests one 1:1 image at the tier's image size.
func (p *GeminiProvider) Generate(ctx context.Context, prompt string, quality Quality) (*Image, error) {
	if prompt == "" {
		return nil, fmt.Errorf("imagegen: prompt cannot be empty")
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{
			AspectRatio: "1:1",
			ImageSize:   quality.ImageSize(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %w", ErrRemoteGeneration, err)
	}

	img, err := firstInlineImage(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %w", ErrRemoteGeneration, err)
	}
	return img, nil
}

// Name returns "gemini".
func (p *GeminiProvider) Name() string { return "gemini" }

// Model returns the configured image model name.
func (p *GeminiProvider) Model() string { return p.model }

// firstInlineImage returns the first inline data part of the first candidate.
func firstInlineImage(resp *genai.GenerateContentResponse) (*Image, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoImage
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil, ErrNoImage
	}
	for _, part := range cand.Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = DefaultMIMEType
		}
		return &Image{MIMEType: mime, Data: part.InlineData.Data}, nil
	}
	return nil, ErrNoImage
}

var _ Provider = (*GeminiProvider)(nil)

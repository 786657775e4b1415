package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProviderConfig holds configuration specific to the OpenAI provider.
type OpenAIProviderConfig struct {
	// APIKey is the OpenAI API key (required)
	APIKey string

	// BaseURL is the API endpoint (default: https://api.openai.com/v1)
	BaseURL string

	// Model is the image model to use (default: dall-e-3)
	Model string

	// HTTPClient is used for API calls (optional)
	HTTPClient *http.Client
}

// DefaultOpenAIProviderConfig returns sensible defaults for OpenAI image generation.
func DefaultOpenAIProviderConfig() OpenAIProviderConfig {
	return OpenAIProviderConfig{
		BaseURL: "https://api.openai.com/v1",
		Model:   openai.CreateImageModelDallE3,
	}
}

// OpenAIProvider implements Provider for OpenAI image generation. Images
// are requested as base64 JSON so no second download is needed.
//
// Thread Safety: OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI image provider.
func NewOpenAIProvider(cfg OpenAIProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: OpenAI API key is required")
	}
	defaults := DefaultOpenAIProviderConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// Generate creates one 1024x1024 image. The high tier asks for HD quality;
// OpenAI has no 2K/4K square sizes.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, quality Quality) (*Image, error) {
	if prompt == "" {
		return nil, fmt.Errorf("imagegen: prompt cannot be empty")
	}

	req := openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.model,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}
	if p.model == openai.CreateImageModelDallE3 {
		req.Quality = openai.CreateImageQualityStandard
		if quality == QualityHigh {
			req.Quality = openai.CreateImageQualityHD
		}
		req.Style = openai.CreateImageStyleNatural
	}

	resp, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %w", ErrRemoteGeneration, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: openai: %w", ErrRemoteGeneration, ErrNoImage)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: invalid image payload: %w", ErrRemoteGeneration, err)
	}
	return &Image{MIMEType: DefaultMIMEType, Data: data}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Model returns the configured image model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Ensure OpenAIProvider implements Provider interface at compile time.
var _ Provider = (*OpenAIProvider)(nil)

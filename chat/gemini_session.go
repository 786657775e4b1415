package chat

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// DefaultGeminiChatModel is the Gemini model used by the assistant.
const DefaultGeminiChatModel = "gemini-3-pro-preview"

// GeminiConfig holds configuration for Gemini chat sessions.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiSessionFactory opens Gemini chat sessions. The SDK keeps the
// conversation history inside each session.
type GeminiSessionFactory struct {
	client *genai.Client
	model  string
}

var _ SessionFactory = (*GeminiSessionFactory)(nil)

// NewGeminiSessionFactory creates a factory backed by one genai client.
func NewGeminiSessionFactory(ctx context.Context, cfg GeminiConfig) (*GeminiSessionFactory, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat: Gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiChatModel
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
		return nil, fmt.Errorf("chat: failed to create Gemini client: %w", err)
	}
	return &GeminiSessionFactory{client: client, model: cfg.Model}, nil
}

// Model returns the configured chat model.
func (f *GeminiSessionFactory) Model() string { return f.model }

// NewSession creates a chat with the given system instruction.
func (f *GeminiSessionFactory) NewSession(ctx context.Context, systemInstruction string) (Session, error) {
	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	c, err := f.client.Chats.Create(ctx, f.model, config, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: create session: %w", ErrRemoteChat, err)
	}
	return &geminiSession{chat: c}, nil
}

type geminiSession struct {
	chat *genai.Chat
}

func (s *geminiSession) Send(ctx context.Context, text string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %w", ErrRemoteChat, err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

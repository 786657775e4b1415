package chat

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIChatModel is used when no model is configured.
const DefaultOpenAIChatModel = openai.GPT4oMini

// OpenAIConfig holds configuration for OpenAI chat sessions.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAISessionFactory opens chat-completion sessions. The API is
// stateless, so each session keeps its own message history.
type OpenAISessionFactory struct {
	client *openai.Client
	model  string
}

var _ SessionFactory = (*OpenAISessionFactory)(nil)

// NewOpenAISessionFactory creates a factory.
func NewOpenAISessionFactory(cfg OpenAIConfig) (*OpenAISessionFactory, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat: OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIChatModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return &OpenAISessionFactory{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// Model returns the configured chat model.
func (f *OpenAISessionFactory) Model() string { return f.model }

// NewSession starts a history seeded with the system instruction.
func (f *OpenAISessionFactory) NewSession(ctx context.Context, systemInstruction string) (Session, error) {
	s := &openAISession{client: f.client, model: f.model}
	if systemInstruction != "" {
		s.history = append(s.history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemInstruction,
		})
	}
	return s, nil
}

type openAISession struct {
	client *openai.Client
	model  string

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
}

// Send sends the whole history plus text. A failed turn is not kept.
func (s *openAISession) Send(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := append(append([]openai.ChatCompletionMessage(nil), s.history...), openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %w", ErrRemoteChat, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	reply := resp.Choices[0].Message
	s.history = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply.Content,
	})
	return reply.Content, nil
}

package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dreamlines/chat"
	"dreamlines/core"
	"dreamlines/credential"
	"dreamlines/imagegen"
	"dreamlines/logging"
)

// keyedClient builds a remote client from the currently selected API key
// and rebuilds it when the key changes. Selecting a new key through the
// credential gate therefore takes effect on the next call without a
// restart.
type keyedClient[T any] struct {
	keys   credential.Host
	build  func(ctx context.Context, key string) (T, error)
	logger *logging.Logger

	mu      sync.Mutex
	key     string
	current T
	built   bool
}

func (k *keyedClient[T]) get(ctx context.Context) (T, error) {
	key := k.keys.APIKey()
	if key == "" {
		var zero T
		return zero, credential.ErrCredentialMissing
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.built && key == k.key {
		return k.current, nil
	}
	client, err := k.build(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	if k.built {
		k.logger.Info("API key changed, remote client rebuilt")
	}
	k.key, k.current, k.built = key, client, true
	return client, nil
}

// geminiImages is an imagegen.Provider backed by the selected Gemini key.
type geminiImages struct {
	client *keyedClient[*imagegen.GeminiProvider]
}

func (g *geminiImages) Generate(ctx context.Context, prompt string, quality imagegen.Quality) (*imagegen.Image, error) {
	provider, err := g.client.get(ctx)
	if err != nil {
		return nil, err
	}
	return provider.Generate(ctx, prompt, quality)
}

func (g *geminiImages) Name() string { return core.ProviderGemini }

// geminiSessions is a chat.SessionFactory backed by the selected Gemini key.
type geminiSessions struct {
	client *keyedClient[*chat.GeminiSessionFactory]
}

func (g *geminiSessions) NewSession(ctx context.Context, systemInstruction string) (chat.Session, error) {
	factory, err := g.client.get(ctx)
	if err != nil {
		return nil, err
	}
	return factory.NewSession(ctx, systemInstruction)
}

// newImageProvider picks the image backend named by IMAGE_PROVIDER.
func newImageProvider(cfg *core.Config, keys credential.Host, logger *logging.Logger) (imagegen.Provider, error) {
	switch cfg.ImageProvider {
	case core.ProviderOpenAI:
		return imagegen.NewOpenAIProvider(imagegen.OpenAIProviderConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIImageModel,
		})
	case core.ProviderGemini:
		return &geminiImages{client: &keyedClient[*imagegen.GeminiProvider]{
			keys:   keys,
			logger: logger.Named("imagegen"),
			build: func(ctx context.Context, key string) (*imagegen.GeminiProvider, error) {
				return imagegen.NewGeminiProvider(ctx, imagegen.GeminiProviderConfig{
					APIKey: key,
					Model:  cfg.GeminiImageModel,
				})
			},
		}}, nil
	}
	return nil, fmt.Errorf("unknown image provider %q", cfg.ImageProvider)
}

// newSessionFactory picks the chat backend named by CHAT_PROVIDER.
func newSessionFactory(cfg *core.Config, keys credential.Host, logger *logging.Logger) (chat.SessionFactory, error) {
	switch cfg.ChatProvider {
	case core.ProviderOpenAI:
		return chat.NewOpenAISessionFactory(chat.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIChatModel,
		})
	case core.ProviderGemini:
		return &geminiSessions{client: &keyedClient[*chat.GeminiSessionFactory]{
			keys:   keys,
			logger: logger.Named("chat"),
			build: func(ctx context.Context, key string) (*chat.GeminiSessionFactory, error) {
				return chat.NewGeminiSessionFactory(ctx, chat.GeminiConfig{
					APIKey: key,
					Model:  cfg.GeminiChatModel,
				})
			},
		}}, nil
	}
	return nil, fmt.Errorf("unknown chat provider %q", cfg.ChatProvider)
}

func logProviders(logger *logging.Logger, cfg *core.Config) {
	imageModel, chatModel := cfg.GeminiImageModel, cfg.GeminiChatModel
	if cfg.ImageProvider == core.ProviderOpenAI {
		imageModel = cfg.OpenAIImageModel
	}
	if cfg.ChatProvider == core.ProviderOpenAI {
		chatModel = cfg.OpenAIChatModel
	}
	logger.Info("Remote providers configured",
		zap.String("image_provider", cfg.ImageProvider),
		zap.String("image_model", imageModel),
		zap.String("chat_provider", cfg.ChatProvider),
		zap.String("chat_model", chatModel))
}

// Package core holds configuration, error types and small shared atoms used
// by every DreamLines component.
package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Supported remote providers for image generation and chat.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default model names and settings.
const (
	DefaultGeminiImageModel = "gemini-3-pro-image-preview"
	DefaultGeminiChatModel  = "gemini-3-pro-preview"
	DefaultOpenAIImageModel = "dall-e-3"
	DefaultOpenAIChatModel  = "gpt-4o-mini"
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"

	DefaultWebUIHost      = "localhost"
	DefaultWebUIPort      = 3000
	DefaultDataDir        = "data"
	DefaultLogFile        = "logs/dreamlines.log"
	DefaultEnvFile        = ".env"
	DefaultMaxImagePixels = 2048
	MinMaxImagePixels     = 256
)

// Config holds all configuration values. Build it with LoadConfig.
type Config struct {
	// Remote providers
	ImageProvider    string
	ChatProvider     string
	GeminiImageModel string
	GeminiChatModel  string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIImageModel string
	OpenAIChatModel  string

	// Credential gate
	EnvFile            string
	CredentialReverify bool

	// Book workflow
	PageInterval   time.Duration // pause enforced between sequential page calls
	RequestTimeout time.Duration // per remote call, 0 = none
	MaxImagePixels int           // longest edge of images embedded in the PDF

	// Web UI
	WebUIHost    string
	WebUIPort    int
	WorkspaceTTL time.Duration

	// Storage and logging
	DataDir        string
	HistoryEnabled bool
	LogFile        string
	DevMode        bool
}

// LoadConfig reads the configuration from the environment and validates it.
// Call godotenv.Load first so values from .env are visible.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ImageProvider:    strings.ToLower(GetEnvOrDefault("IMAGE_PROVIDER", ProviderGemini)),
		ChatProvider:     strings.ToLower(GetEnvOrDefault("CHAT_PROVIDER", ProviderGemini)),
		GeminiImageModel: GetEnvOrDefault("GEMINI_IMAGE_MODEL", DefaultGeminiImageModel),
		GeminiChatModel:  GetEnvOrDefault("GEMINI_CHAT_MODEL", DefaultGeminiChatModel),
		OpenAIAPIKey:     GetEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    GetEnvOrDefault("OPENAI_BASE_URL", DefaultOpenAIBaseURL),
		OpenAIImageModel: GetEnvOrDefault("OPENAI_IMAGE_MODEL", DefaultOpenAIImageModel),
		OpenAIChatModel:  GetEnvOrDefault("OPENAI_CHAT_MODEL", DefaultOpenAIChatModel),

		EnvFile:            GetEnvOrDefault("ENV_FILE", DefaultEnvFile),
		CredentialReverify: ParseBoolEnv("CREDENTIAL_REVERIFY", false),

		PageInterval:   ParseDurationEnv("PAGE_INTERVAL", 0),
		RequestTimeout: ParseDurationEnv("REQUEST_TIMEOUT", 180),
		MaxImagePixels: ParseIntEnv("MAX_IMAGE_PIXELS", DefaultMaxImagePixels),

		WebUIHost:    GetEnvOrDefault("WEBUI_HOST", DefaultWebUIHost),
		WebUIPort:    ParseIntEnv("WEBUI_PORT", DefaultWebUIPort),
		WorkspaceTTL: time.Duration(ParseIntEnv("WORKSPACE_TTL", 120)) * time.Minute,

		DataDir:        GetEnvOrDefault("DATA_DIR", DefaultDataDir),
		HistoryEnabled: ParseBoolEnv("HISTORY_ENABLED", true),
		LogFile:        GetEnvOrDefault("LOG_FILE", DefaultLogFile),
		DevMode:        ParseBoolEnv("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	if err := validateProvider("IMAGE_PROVIDER", c.ImageProvider); err != nil {
		return err
	}
	if err := validateProvider("CHAT_PROVIDER", c.ChatProvider); err != nil {
		return err
	}
	if (c.ImageProvider == ProviderOpenAI || c.ChatProvider == ProviderOpenAI) && c.OpenAIAPIKey == "" {
		return ErrMissingAuth(ProviderOpenAI)
	}
	if c.WebUIPort < 1 || c.WebUIPort > 65535 {
		return ErrInvalidValue("WEBUI_PORT", fmt.Sprintf("%d", c.WebUIPort), "must be between 1 and 65535")
	}
	if c.MaxImagePixels < MinMaxImagePixels {
		return ErrInvalidValue("MAX_IMAGE_PIXELS", fmt.Sprintf("%d", c.MaxImagePixels),
			fmt.Sprintf("must be at least %d", MinMaxImagePixels))
	}
	if c.PageInterval < 0 {
		return ErrInvalidValue("PAGE_INTERVAL", c.PageInterval.String(), "must not be negative")
	}
	if c.WorkspaceTTL <= 0 {
		return ErrInvalidValue("WORKSPACE_TTL", c.WorkspaceTTL.String(), "must be positive")
	}
	return nil
}

// HistoryPath is the sqlite file holding the run audit log.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// WebUIAddr is the host:port the web UI listens on.
func (c *Config) WebUIAddr() string {
	return fmt.Sprintf("%s:%d", c.WebUIHost, c.WebUIPort)
}

func validateProvider(name, value string) error {
	switch value {
	case ProviderGemini, ProviderOpenAI:
		return nil
	default:
		return ErrInvalidValue(name, value, "must be \"gemini\" or \"openai\"")
	}
}

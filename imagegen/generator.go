// generator.go implements the PageGenerator organism that turns a theme into
// one GeneratedPage.
//
// This organism composes:
//   - atoms.go: BuildPrompt, Quality, DataURL
//   - Provider interface: GeminiProvider or OpenAIProvider
//   - logging.Logger: for structured logging
package imagegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dreamlines/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Page is one generated coloring page. It lives in memory only.
type Page struct {
	ID          string `json:"id"`
	ImageData   string `json:"imageData"` // data:<mime>;base64,<payload>
	SourceTheme string `json:"sourceTheme"`
}

// Decode returns the page's MIME type and raw image bytes.
func (p Page) Decode() (string, []byte, error) {
	return ParseDataURL(p.ImageData)
}

// GeneratorConfig holds configuration for the page generator.
type GeneratorConfig struct {
	// Timeout bounds each remote call. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// PageGenerator issues exactly one provider call per page.
//
// Thread-Safety: PageGenerator is safe for concurrent use as long as its
// Provider is.
type PageGenerator struct {
	provider Provider
	logger   *logging.Logger
	config   GeneratorConfig
	newID    func() string
}

// NewPageGenerator creates a page generator.
//
// Example:
//
//	provider, _ := NewGeminiProvider(ctx, GeminiProviderConfig{APIKey: key})
//	gen, err := NewPageGenerator(provider, logger, GeneratorConfig{Timeout: 3 * time.Minute})
//	page, err := gen.Generate(ctx, "Jungle Animals", QualityLow)
func NewPageGenerator(provider Provider, logger *logging.Logger, config GeneratorConfig) (*PageGenerator, error) {
	if provider == nil {
		return nil, fmt.Errorf("imagegen: provider cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("imagegen: logger cannot be nil")
	}
	return &PageGenerator{
		provider: provider,
		logger:   logger.Named("imagegen"),
		config:   config,
		newID:    uuid.NewString,
	}, nil
}

// Generate creates one coloring page for theme. There is no internal retry:
// a failed call returns an error wrapping ErrRemoteGeneration.
func (g *PageGenerator) Generate(ctx context.Context, theme string, quality Quality) (*Page, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, fmt.Errorf("imagegen: theme cannot be empty")
	}
	if !quality.Valid() {
		return nil, fmt.Errorf("imagegen: invalid quality %q", quality)
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	log := g.logger.With(
		zap.String("provider", g.provider.Name()),
		zap.String("quality", string(quality)),
	)
	start := time.Now()

	img, err := g.provider.Generate(ctx, BuildPrompt(theme), quality)
	if err != nil {
		log.Error("Page generation failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		log.Error("Provider returned no image data")
		return nil, fmt.Errorf("%w: %w", ErrRemoteGeneration, ErrNoImage)
	}

	page := &Page{
		ID:          g.newID(),
		ImageData:   DataURL(img.MIMEType, img.Data),
		SourceTheme: theme,
	}

	log.Info("Page generated",
		zap.String("page_id", page.ID),
		zap.String("mime_type", img.MIMEType),
		zap.Int("bytes", len(img.Data)),
		zap.Duration("elapsed", time.Since(start)))
	return page, nil
}

package imagegen

import (
	"context"
	"errors"
)

var (
	// ErrRemoteGeneration wraps every failure of a remote image call.
	ErrRemoteGeneration = errors.New("imagegen: remote generation failed")

	// ErrNoImage is returned when a response carries no image part.
	ErrNoImage = errors.New("imagegen: no image data found in response")
)

// Image is one raw image returned by a provider.
type Image struct {
	MIMEType string
	Data     []byte
}

// Provider is the interface for image generation backends. Each call is
// exactly one remote request; implementations never retry.
type Provider interface {
	// Generate creates a square image for prompt at the given quality.
	Generate(ctx context.Context, prompt string, quality Quality) (*Image, error)
	// Name identifies the backend in logs.
	Name() string
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, prompt string, quality Quality) (*Image, error)

// Generate calls f.
func (f ProviderFunc) Generate(ctx context.Context, prompt string, quality Quality) (*Image, error) {
	return f(ctx, prompt, quality)
}

// Name returns "func".
func (f ProviderFunc) Name() string { return "func" }

var _ Provider = ProviderFunc(nil)

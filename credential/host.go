// Package credential decides whether a usable API credential is available
// before any generation feature is reachable.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"dreamlines/core"

	"github.com/joho/godotenv"
)

var (
	// ErrCredentialMissing is returned when no API key is selected.
	ErrCredentialMissing = errors.New("credential: no API key selected")

	// ErrNoEnvironment is returned when the host offers no way to select a key.
	ErrNoEnvironment = errors.New("credential: key selection environment not detected")
)

// KeyVars are the environment variables EnvHost reads the key from, in order.
var KeyVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"}

// Host is the capability that knows whether a credential is selected and
// how to let the user select one.
type Host interface {
	// Available reports whether the host supports key selection at all.
	Available() bool
	// HasSelectedKey reports whether a key is currently selected.
	HasSelectedKey(ctx context.Context) (bool, error)
	// OpenSelectKey runs the host's selection flow.
	OpenSelectKey(ctx context.Context) error
	// APIKey returns the selected key, or "".
	APIKey() string
}

// EnvHost is a Host backed by the process environment and a dotenv file.
// Selecting a key re-reads the dotenv file, so an operator can drop a key
// into place without restarting the server.
type EnvHost struct {
	envFile string
	mu      sync.Mutex
}

// Compile-time check that EnvHost implements Host.
var _ Host = (*EnvHost)(nil)

// NewEnvHost creates a host that reloads envFile on selection.
func NewEnvHost(envFile string) *EnvHost {
	return &EnvHost{envFile: envFile}
}

// EnvFile returns the dotenv path this host reloads.
func (h *EnvHost) EnvFile() string {
	return h.envFile
}

// Available is true when the dotenv file exists or a key is already present.
func (h *EnvHost) Available() bool {
	if h.APIKey() != "" {
		return true
	}
	return h.envFileExists()
}

// HasSelectedKey reports whether one of KeyVars is set.
func (h *EnvHost) HasSelectedKey(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return h.APIKey() != "", nil
}

// OpenSelectKey reloads the dotenv file, overriding values already in the
// environment.
func (h *EnvHost) OpenSelectKey(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !h.envFileExists() {
		return fmt.Errorf("%w: %s", ErrNoEnvironment, core.ErrEnvFileMissing(h.envFile))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := godotenv.Overload(h.envFile); err != nil {
		return fmt.Errorf("credential: failed to reload %s: %w", h.envFile, err)
	}
	return nil
}

// APIKey returns the first non-empty value among KeyVars.
func (h *EnvHost) APIKey() string {
	return core.FirstEnv(KeyVars...)
}

func (h *EnvHost) envFileExists() bool {
	if h.envFile == "" {
		return false
	}
	info, err := os.Stat(h.envFile)
	return err == nil && !info.IsDir()
}

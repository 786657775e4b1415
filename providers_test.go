package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"dreamlines/core"
	"dreamlines/credential"
	"dreamlines/imagegen"
	"dreamlines/logging"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(true, filepath.Join(t.TempDir(), "test.log"))
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Sync() })
	return logger
}

// fakeKeys is a credential.Host whose key can be swapped mid-test.
type fakeKeys struct {
	mu  sync.Mutex
	key string
}

func (f *fakeKeys) Available() bool { return true }

func (f *fakeKeys) HasSelectedKey(ctx context.Context) (bool, error) { return f.APIKey() != "", nil }

func (f *fakeKeys) OpenSelectKey(ctx context.Context) error { return nil }

func (f *fakeKeys) APIKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key
}

func (f *fakeKeys) set(key string) {
	f.mu.Lock()
	f.key = key
	f.mu.Unlock()
}

func TestKeyedClient(t *testing.T) {
	keys := &fakeKeys{}
	var builtWith []string
	client := &keyedClient[string]{
		keys:   keys,
		logger: newTestLogger(t),
		build: func(ctx context.Context, key string) (string, error) {
			builtWith = append(builtWith, key)
			return "client-for-" + key, nil
		},
	}
	ctx := context.Background()

	if _, err := client.get(ctx); !errors.Is(err, credential.ErrCredentialMissing) {
		t.Fatalf("get() without key error = %v, want ErrCredentialMissing", err)
	}

	keys.set("key-one")
	for range 3 {
		got, err := client.get(ctx)
		if err != nil || got != "client-for-key-one" {
			t.Fatalf("get() = %q, %v", got, err)
		}
	}
	if len(builtWith) != 1 {
		t.Errorf("built %d clients for one key, want 1", len(builtWith))
	}

	keys.set("key-two")
	got, err := client.get(ctx)
	if err != nil || got != "client-for-key-two" {
		t.Fatalf("get() after key change = %q, %v", got, err)
	}
	if len(builtWith) != 2 || builtWith[1] != "key-two" {
		t.Errorf("builds = %v", builtWith)
	}
}

func TestKeyedClient_BuildErrorIsNotCached(t *testing.T) {
	keys := &fakeKeys{key: "k"}
	boom := errors.New("dial failed")
	fail := true
	client := &keyedClient[int]{
		keys:   keys,
		logger: newTestLogger(t),
		build: func(ctx context.Context, key string) (int, error) {
			if fail {
				return 0, boom
			}
			return 42, nil
		},
	}

	if _, err := client.get(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("get() error = %v, want %v", err, boom)
	}
	fail = false
	if got, err := client.get(context.Background()); err != nil || got != 42 {
		t.Errorf("get() after recovery = %d, %v", got, err)
	}
}

func TestGeminiImages_NoKey(t *testing.T) {
	cfg := &core.Config{ImageProvider: core.ProviderGemini, GeminiImageModel: "gemini-3-pro-image-preview"}
	provider, err := newImageProvider(cfg, &fakeKeys{}, newTestLogger(t))
	if err != nil {
		t.Fatalf("newImageProvider() error = %v", err)
	}
	if provider.Name() != core.ProviderGemini {
		t.Errorf("Name() = %q", provider.Name())
	}
	if _, err := provider.Generate(context.Background(), "a dragon", imagegen.QualityLow); !errors.Is(err, credential.ErrCredentialMissing) {
		t.Errorf("Generate() without key error = %v", err)
	}
}

func TestGeminiSessions_NoKey(t *testing.T) {
	cfg := &core.Config{ChatProvider: core.ProviderGemini, GeminiChatModel: "gemini-3-pro-preview"}
	factory, err := newSessionFactory(cfg, &fakeKeys{}, newTestLogger(t))
	if err != nil {
		t.Fatalf("newSessionFactory() error = %v", err)
	}
	if _, err := factory.NewSession(context.Background(), "be helpful"); !errors.Is(err, credential.ErrCredentialMissing) {
		t.Errorf("NewSession() without key error = %v", err)
	}
}

func TestUnknownProviders(t *testing.T) {
	cfg := &core.Config{ImageProvider: "dall-e-classic", ChatProvider: "pigeon"}
	if _, err := newImageProvider(cfg, &fakeKeys{}, newTestLogger(t)); err == nil {
		t.Error("newImageProvider() accepted an unknown provider")
	}
	if _, err := newSessionFactory(cfg, &fakeKeys{}, newTestLogger(t)); err == nil {
		t.Error("newSessionFactory() accepted an unknown provider")
	}
}

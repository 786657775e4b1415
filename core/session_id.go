package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// WorkspaceIDLength is the number of random bytes behind a workspace ID.
const WorkspaceIDLength = 32

// GenerateWorkspaceID returns a URL-safe random token identifying one browser
// workspace. It is stored in a cookie, so it must not be guessable.
func GenerateWorkspaceID() (string, error) {
	buf := make([]byte, WorkspaceIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate workspace ID: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

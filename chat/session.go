package chat

import (
	"context"
	"errors"
)

// Fixed assistant texts.
const (
	SystemInstruction = "You are a friendly assistant for a children's coloring book app. " +
		"Help parents come up with creative themes for coloring pages or answer questions about art and creativity for kids."
	Greeting       = "Hi! I can help you think of fun coloring themes. Ask me anything!"
	EmptyReplyText = "I'm sorry, I couldn't generate a response."
	FailureText    = "Oops! Something went wrong with the chat."
)

// ErrRemoteChat wraps failures of the remote conversational endpoint.
var ErrRemoteChat = errors.New("chat: remote call failed")

// Session is one conversation with a remote model. The remote side or the
// session keeps the history.
type Session interface {
	Send(ctx context.Context, text string) (string, error)
}

// SessionFactory opens sessions configured with a system instruction.
type SessionFactory interface {
	NewSession(ctx context.Context, systemInstruction string) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, systemInstruction string) (Session, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context, systemInstruction string) (Session, error) {
	return f(ctx, systemInstruction)
}

// SessionFunc adapts a function to Session.
type SessionFunc func(ctx context.Context, text string) (string, error)

// Send calls f.
func (f SessionFunc) Send(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dreamlines/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Assistant owns one widget's transcript and its lazily created session.
// Sends are serialised; the transcript stays readable while a send waits
// on the remote model. Errors never leave the assistant: they become
// FailureText in the transcript.
type Assistant struct {
	factory    SessionFactory
	logger     *logging.Logger
	transcript *Transcript
	timeout    time.Duration

	sendMu sync.Mutex // one remote turn at a time

	sessMu  sync.Mutex
	session Session

	now   func() time.Time
	newID func() string
}

// Options configure an Assistant.
type Options struct {
	// Timeout bounds each remote turn. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// NewAssistant creates an assistant whose transcript starts with Greeting.
func NewAssistant(factory SessionFactory, logger *logging.Logger, opts Options) (*Assistant, error) {
	if factory == nil {
		return nil, fmt.Errorf("chat: session factory cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	a := &Assistant{
		factory:    factory,
		logger:     logger.Named("chat"),
		transcript: &Transcript{},
		timeout:    opts.Timeout,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	a.transcript.Append(a.message(SpeakerAssistant, Greeting))
	return a, nil
}

// Transcript returns a copy of the conversation so far.
func (a *Assistant) Transcript() []Message {
	return a.transcript.Messages()
}

// Open creates the session if it does not exist yet. Calling it again
// reuses the same session.
func (a *Assistant) Open(ctx context.Context) error {
	_, err := a.ensureSession(ctx)
	return err
}

// Opened reports whether a session exists.
func (a *Assistant) Opened() bool {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	return a.session != nil
}

// Send appends the user's message, waits for the reply and appends it.
// Blank input is ignored and reports sent=false.
//
// The user's message is visible at once, even while an earlier send is
// still waiting for its reply; remote turns run one at a time in send
// order, so replies may follow several queued user messages.
func (a *Assistant) Send(ctx context.Context, text string) (Message, bool) {
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	a.transcript.Append(a.message(SpeakerUser, text))

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	reply := a.reply(ctx, text)
	msg := a.message(SpeakerAssistant, reply)
	a.transcript.Append(msg)
	return msg, true
}

func (a *Assistant) reply(ctx context.Context, text string) string {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	session, err := a.ensureSession(ctx)
	if err != nil {
		a.logger.Error("Chat session unavailable", zap.Error(err))
		return FailureText
	}

	start := time.Now()
	reply, err := session.Send(ctx, text)
	if err != nil {
		a.logger.Error("Chat turn failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return FailureText
	}
	if strings.TrimSpace(reply) == "" {
		a.logger.Warn("Chat model returned an empty reply")
		return EmptyReplyText
	}

	a.logger.Debug("Chat turn completed",
		zap.Int("prompt_chars", len(text)),
		zap.Int("reply_chars", len(reply)),
		zap.Duration("elapsed", time.Since(start)))
	return reply
}

func (a *Assistant) ensureSession(ctx context.Context) (Session, error) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()

	if a.session != nil {
		return a.session, nil
	}
	session, err := a.factory.NewSession(ctx, SystemInstruction)
	if err != nil {
		return nil, err
	}
	a.session = session
	a.logger.Info("Chat session created")
	return session, nil
}

func (a *Assistant) message(speaker Speaker, text string) Message {
	return Message{
		ID:        a.newID(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: a.now(),
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

// fakeFactory counts sessions and delegates sends to sendFn.
type fakeFactory struct {
	sessions    int32
	instruction string
	createErr   error
	sendFn      func(ctx context.Context, text string) (string, error)
	sends       int32
}

func (f *fakeFactory) NewSession(ctx context.Context, systemInstruction string) (Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	atomic.AddInt32(&f.sessions, 1)
	f.instruction = systemInstruction
	return SessionFunc(func(ctx context.Context, text string) (string, error) {
		atomic.AddInt32(&f.sends, 1)
		if f.sendFn == nil {
			return "Try drawing a dragon tea party!", nil
		}
		return f.sendFn(ctx, text)
	}), nil
}

func newTestAssistant(t *testing.T, f *fakeFactory) *Assistant {
	t.Helper()
	a, err := NewAssistant(f, newTestLogger(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNewAssistant_SeedsGreeting(t *testing.T) {
	a := newTestAssistant(t, &fakeFactory{})

	msgs := a.Transcript()
	if len(msgs) != 1 {
		t.Fatalf("transcript length = %d, want 1", len(msgs))
	}
	if msgs[0].Speaker != SpeakerAssistant || msgs[0].Text != Greeting {
		t.Errorf("first message = %+v, want greeting", msgs[0])
	}
	if a.Opened() {
		t.Error("session must be created lazily")
	}
}

func TestNewAssistant_NilFactory(t *testing.T) {
	if _, err := NewAssistant(nil, nil, Options{}); err == nil {
		t.Error("expected error for nil factory")
	}
}

func TestAssistant_OpenReusesSession(t *testing.T) {
	f := &fakeFactory{}
	a := newTestAssistant(t, f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.Open(ctx); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
	}
	a.Send(ctx, "ideas?")

	if f.sessions != 1 {
		t.Errorf("sessions created = %d, want 1", f.sessions)
	}
	if f.instruction != SystemInstruction {
		t.Errorf("system instruction = %q", f.instruction)
	}
}

func TestAssistant_Send(t *testing.T) {
	f := &fakeFactory{}
	a := newTestAssistant(t, f)

	reply, sent := a.Send(context.Background(), "Any ideas for a 5 year old?")
	if !sent {
		t.Fatal("sent = false")
	}
	if reply.Speaker != SpeakerAssistant || reply.Text != "Try drawing a dragon tea party!" {
		t.Errorf("reply = %+v", reply)
	}

	msgs := a.Transcript()
	if len(msgs) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(msgs))
	}
	if msgs[1].Speaker != SpeakerUser || msgs[1].Text != "Any ideas for a 5 year old?" {
		t.Errorf("user message = %+v", msgs[1])
	}
	if msgs[2].ID != reply.ID {
		t.Error("returned reply is not the last transcript entry")
	}
}

func TestAssistant_BlankSendIsNoop(t *testing.T) {
	f := &fakeFactory{}
	a := newTestAssistant(t, f)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, sent := a.Send(context.Background(), text); sent {
			t.Errorf("Send(%q) sent = true", text)
		}
	}
	if a.transcript.Len() != 1 {
		t.Errorf("transcript length = %d, want 1", a.transcript.Len())
	}
	if f.sends != 0 || f.sessions != 0 {
		t.Errorf("remote calls = %d sends, %d sessions; want none", f.sends, f.sessions)
	}
}

func TestAssistant_Fallbacks(t *testing.T) {
	tests := []struct {
		name      string
		factory   *fakeFactory
		wantReply string
	}{
		{
			name:      "remote failure",
			factory:   &fakeFactory{sendFn: func(context.Context, string) (string, error) { return "", errors.New("503") }},
			wantReply: FailureText,
		},
		{
			name:      "empty reply",
			factory:   &fakeFactory{sendFn: func(context.Context, string) (string, error) { return "  ", nil }},
			wantReply: EmptyReplyText,
		},
		{
			name:      "session creation failure",
			factory:   &fakeFactory{createErr: errors.New("no key")},
			wantReply: FailureText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssistant(t, tt.factory)
			reply, sent := a.Send(context.Background(), "hello")
			if !sent {
				t.Fatal("sent = false")
			}
			if reply.Text != tt.wantReply {
				t.Errorf("reply = %q, want %q", reply.Text, tt.wantReply)
			}

			msgs := a.Transcript()
			if len(msgs) != 3 || msgs[1].Text != "hello" || msgs[2].Text != tt.wantReply {
				t.Errorf("transcript = %+v", msgs)
			}
		})
	}
}

func TestAssistant_UserMessageVisibleWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	f := &fakeFactory{sendFn: func(ctx context.Context, text string) (string, error) {
		close(entered)
		<-release
		return "ok", nil
	}}
	a := newTestAssistant(t, f)

	done := make(chan struct{})
	go func() {
		a.Send(context.Background(), "waiting")
		close(done)
	}()

	<-entered
	msgs := a.Transcript()
	if len(msgs) != 2 || msgs[1].Text != "waiting" {
		t.Errorf("transcript during send = %+v", msgs)
	}
	close(release)
	<-done
}

func TestAssistant_SendsAreSerialised(t *testing.T) {
	var active, maxActive int32
	f := &fakeFactory{sendFn: func(ctx context.Context, text string) (string, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return "reply to " + text, nil
	}}
	a := newTestAssistant(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Send(context.Background(), fmt.Sprintf("hi %d", i))
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent remote turns = %d, want 1", maxActive)
	}
	msgs := a.Transcript()
	if len(msgs) != 11 {
		t.Fatalf("transcript length = %d, want 11", len(msgs))
	}
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		index[m.Text] = i
	}
	for i := 0; i < 5; i++ {
		user, okUser := index[fmt.Sprintf("hi %d", i)]
		reply, okReply := index[fmt.Sprintf("reply to hi %d", i)]
		if !okUser || !okReply || reply < user {
			t.Errorf("turn %d: user at %d, reply at %d", i, user, reply)
		}
	}
}

func TestAssistant_QueuedSendVisibleBeforeFirstReply(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	f := &fakeFactory{sendFn: func(ctx context.Context, text string) (string, error) {
		entered <- struct{}{}
		<-release
		return "reply to " + text, nil
	}}
	a := newTestAssistant(t, f)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Send(context.Background(), "first")
	}()
	<-entered
	go func() {
		defer wg.Done()
		a.Send(context.Background(), "second")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for a.transcript.Len() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("second message not appended while first reply pending: %+v", a.Transcript())
		}
		time.Sleep(time.Millisecond)
	}
	msgs := a.Transcript()
	if msgs[1].Text != "first" || msgs[2].Text != "second" || msgs[2].Speaker != SpeakerUser {
		t.Errorf("transcript while waiting = %+v", msgs)
	}
	if n := atomic.LoadInt32(&f.sends); n != 1 {
		t.Errorf("remote turns started = %d, want 1 while the first is pending", n)
	}

	close(release)
	wg.Wait()
	if got := a.Transcript(); len(got) != 5 {
		t.Errorf("final transcript length = %d, want 5", len(got))
	}
}

func TestAssistant_Timeout(t *testing.T) {
	f := &fakeFactory{sendFn: func(ctx context.Context, text string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	a, _ := NewAssistant(f, newTestLogger(t), Options{Timeout: 10 * time.Millisecond})

	reply, _ := a.Send(context.Background(), "slow")
	if reply.Text != FailureText {
		t.Errorf("reply = %q, want fallback", reply.Text)
	}
}

func TestTranscript_MessagesIsCopy(t *testing.T) {
	tr := &Transcript{}
	tr.Append(Message{ID: "1", Text: "a"})
	msgs := tr.Messages()
	msgs[0].Text = "changed"
	if tr.Messages()[0].Text != "a" {
		t.Error("Messages() exposes internal slice")
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/knowtide/knowtide/pkg/chat"
	"github.com/knowtide/knowtide/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	events    chan stream.Event
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		events: make(chan stream.Event, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSub) Events() <-chan stream.Event { return s.events }

func (s *fakeSub) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.events)
	})
}

func (s *fakeSub) emit(data string) { s.events <- stream.Event{Data: data} }

type fakeOpener struct {
	mu       sync.Mutex
	messages []string
	subs     []*fakeSub
	err      error
}

func (o *fakeOpener) Open(ctx context.Context, sessionID, message, token string) (Subscription, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	o.messages = append(o.messages, message)
	sub := newFakeSub()
	o.subs = append(o.subs, sub)
	return sub, nil
}

func (o *fakeOpener) sent() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.messages))
	copy(out, o.messages)
	return out
}

func (o *fakeOpener) lastSub(t *testing.T) *fakeSub {
	t.Helper()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.subs) > 0
	}, time.Second, time.Millisecond)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.subs[len(o.subs)-1]
}

type fakeHistory struct {
	mu       sync.Mutex
	messages []chat.Message
	loads    int
	clears   int
	err      error
}

func (h *fakeHistory) Messages(ctx context.Context) ([]chat.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads++
	return h.messages, h.err
}

func (h *fakeHistory) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clears++
	return h.err
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSpeaker) EnqueueSpeakable(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

func newTestController(opener Opener, history History, speaker Speaker) *Controller {
	return NewController(Config{
		SessionID: "s-1",
		Token:     "tok",
		Opener:    opener,
		History:   history,
		Speaker:   speaker,
	})
}

func waitForIdle(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == Idle },
		2*time.Second, time.Millisecond)
}

func TestTurnAssemblesStreamedMessage(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	sub := opener.lastSub(t)
	sub.emit("He")
	sub.emit("llo")
	sub.emit("[END]")

	waitForIdle(t, c)

	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, chat.PlainText("Hi"), messages[0].Content)
	assert.Equal(t, chat.RoleAssistant, messages[1].Role)
	assert.Equal(t, chat.PlainText("Hello"), messages[1].Content)
}

func TestProtocolErrorSubstitutesApology(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	sub := opener.lastSub(t)
	sub.emit("partial answ")
	sub.emit("Error: backend timeout")

	waitForIdle(t, c)

	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, chat.PlainText(ApologyMessage), messages[1].Content)
}

func TestTransportErrorSubstitutesApology(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	sub := opener.lastSub(t)
	sub.events <- stream.Event{Err: errors.New("connection reset")}

	waitForIdle(t, c)

	messages := c.Messages()
	assert.Equal(t, chat.PlainText(ApologyMessage), messages[1].Content)
}

func TestStreamClosingWithoutSentinelFailsTurn(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	sub := opener.lastSub(t)
	sub.emit("half an ans")
	sub.Close()

	waitForIdle(t, c)

	messages := c.Messages()
	assert.Equal(t, chat.PlainText(ApologyMessage), messages[1].Content)
}

func TestOpenFailureSettlesTurn(t *testing.T) {
	opener := &fakeOpener{err: errors.New("dial refused")}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	err := c.SendMessage(context.Background(), "Hi")

	require.Error(t, err)
	assert.Equal(t, Idle, c.State())
	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, chat.PlainText(ApologyMessage), messages[1].Content)
}

func TestSendWhileStreamingIsRejected(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "first"))
	opener.lastSub(t)

	err := c.SendMessage(context.Background(), "second")

	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, []string{"first"}, opener.sent())
}

func TestEmptyMessageIsNoOp(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "   "))

	assert.Empty(t, opener.sent())
	assert.Empty(t, c.Messages())
	assert.Equal(t, Idle, c.State())
}

func TestEmptySessionPrimesExactlyOnce(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	// a re-rendering UI may run the load effect repeatedly
	require.NoError(t, c.LoadHistory(context.Background()))
	require.NoError(t, c.LoadHistory(context.Background()))
	require.NoError(t, c.LoadHistory(context.Background()))

	assert.Equal(t, []string{PrimingMessage}, opener.sent())
}

func TestLoadedSessionDoesNotPrime(t *testing.T) {
	history := &fakeHistory{messages: []chat.Message{
		chat.NewUserMessage("old question"),
		chat.NewAssistantMessage("old answer"),
	}}
	opener := &fakeOpener{}
	c := newTestController(opener, history, nil)
	defer c.Close()

	require.NoError(t, c.LoadHistory(context.Background()))

	assert.Empty(t, opener.sent())
	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, chat.PlainText("old question"), messages[0].Content)
}

func TestLoadHistoryPropagatesError(t *testing.T) {
	history := &fakeHistory{err: errors.New("store down")}
	c := newTestController(&fakeOpener{}, history, nil)
	defer c.Close()

	assert.Error(t, c.LoadHistory(context.Background()))
}

func TestSpeakableTextForwardedWithoutThinking(t *testing.T) {
	opener := &fakeOpener{}
	speaker := &fakeSpeaker{}
	c := newTestController(opener, &fakeHistory{}, speaker)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	sub := opener.lastSub(t)
	sub.emit("Sure. ")
	sub.emit("<thinking>reasoning here</thinking>")
	sub.emit("The answer is 4.")
	sub.emit("[END]")

	waitForIdle(t, c)

	assert.Equal(t, []string{"Sure. ", "The answer is 4."}, speaker.spoken())
}

func TestEscapedNewlinesUnfoldedIntoContent(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	sub := opener.lastSub(t)
	sub.emit(`line one\nline two`)
	sub.emit("[END]")

	waitForIdle(t, c)

	messages := c.Messages()
	assert.Equal(t, chat.PlainText("line one\nline two"), messages[1].Content)
}

func TestCloseMidStreamStopsFolding(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	sub := opener.lastSub(t)
	sub.emit("some tex")

	require.Eventually(t, func() bool {
		messages := c.Messages()
		return len(messages) == 2 && messages[1].Content == chat.PlainText("some tex")
	}, 2*time.Second, time.Millisecond)

	c.Close()

	select {
	case <-sub.closed:
	default:
		t.Fatal("subscription left open after Close")
	}
	// teardown keeps the partial text, it does not substitute the apology
	messages := c.Messages()
	assert.Equal(t, chat.PlainText("some tex"), messages[1].Content)
}

func TestClearHistoryResetsStore(t *testing.T) {
	history := &fakeHistory{messages: []chat.Message{chat.NewUserMessage("x")}}
	c := newTestController(&fakeOpener{}, history, nil)
	defer c.Close()

	require.NoError(t, c.LoadHistory(context.Background()))
	require.Equal(t, 1, len(c.Messages()))

	require.NoError(t, c.ClearHistory(context.Background()))

	assert.Empty(t, c.Messages())
	assert.Equal(t, 1, history.clears)
}

func TestInjectedClockStampsMessages(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	opener := &fakeOpener{}
	c := NewController(Config{
		SessionID: "s-1",
		Opener:    opener,
		History:   &fakeHistory{},
		Clock:     func() time.Time { return fixed },
	})
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "Hi"))
	opener.lastSub(t).emit("[END]")
	waitForIdle(t, c)

	for _, msg := range c.Messages() {
		assert.Equal(t, fixed, msg.Timestamp)
	}
}

func TestNextTurnAllowedAfterSettle(t *testing.T) {
	opener := &fakeOpener{}
	c := newTestController(opener, &fakeHistory{}, nil)
	defer c.Close()

	require.NoError(t, c.SendMessage(context.Background(), "one"))
	sub := opener.lastSub(t)
	sub.emit("a")
	sub.emit("[END]")
	waitForIdle(t, c)

	require.NoError(t, c.SendMessage(context.Background(), "two"))

	assert.Equal(t, []string{"one", "two"}, opener.sent())
	assert.Equal(t, 4, len(c.Messages()))
}

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/knowtide/knowtide/pkg/chat"
	"github.com/knowtide/knowtide/pkg/logger"
	"github.com/knowtide/knowtide/pkg/stream"
)

// ApologyMessage replaces a failed assistant turn. Every failure path shows
// the same text; details go to the log, not the user.
const ApologyMessage = "Sorry, an error occurred. Please try again."

// PrimingMessage is auto-sent exactly once when a session opens with no
// prior messages, so the assistant speaks first.
const PrimingMessage = "I'm ready to get started."

// ErrBusy rejects a send while a turn is already streaming.
var ErrBusy = errors.New("session: a turn is already streaming")

// State is the controller's per-turn lifecycle.
type State int

const (
	Idle State = iota
	Streaming
)

func (s State) String() string {
	if s == Streaming {
		return "streaming"
	}
	return "idle"
}

// Subscription is one open chat stream, as the controller sees it.
type Subscription interface {
	Events() <-chan stream.Event
	Close()
}

// Opener starts the completion stream for one turn.
type Opener interface {
	Open(ctx context.Context, sessionID, message, token string) (Subscription, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, sessionID, message, token string) (Subscription, error)

func (f OpenerFunc) Open(ctx context.Context, sessionID, message, token string) (Subscription, error) {
	return f(ctx, sessionID, message, token)
}

// History reads and clears the session's persisted messages.
type History interface {
	Messages(ctx context.Context) ([]chat.Message, error)
	Clear(ctx context.Context) error
}

// Speaker receives speakable text fragments for audio playback.
type Speaker interface {
	EnqueueSpeakable(text string)
}

// Config wires a controller's collaborators. Store and Parser default to
// fresh instances; Speaker and OnUpdate are optional.
type Config struct {
	SessionID string
	Token     string
	Store     *chat.Store
	Parser    *chat.StreamParser
	Opener    Opener
	History   History
	Speaker   Speaker

	// Clock stamps new messages; defaults to time.Now.
	Clock chat.Clock

	// OnUpdate is called with a message-list snapshot after every fold and
	// at turn end, for rendering.
	OnUpdate func([]chat.Message)
}

// Controller orchestrates the turns of one chat session: it appends the user
// message and assistant placeholder, opens the stream, folds parsed chunks
// into the store, forwards speakable text, and settles the turn on a
// sentinel or failure. One turn streams at a time.
type Controller struct {
	sessionID string
	token     string

	store   *chat.Store
	parser  *chat.StreamParser
	opener  Opener
	history History
	speaker Speaker
	clock   chat.Clock
	update  func([]chat.Message)
	log     *logger.Logger

	mu     sync.Mutex
	state  State
	sub    Subscription
	primed bool
	closed bool
	wg     sync.WaitGroup
}

func NewController(cfg Config) *Controller {
	store := cfg.Store
	if store == nil {
		store = chat.NewStore()
	}
	parser := cfg.Parser
	if parser == nil {
		parser = chat.NewStreamParser()
	}
	update := cfg.OnUpdate
	if update == nil {
		update = func([]chat.Message) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Controller{
		sessionID: cfg.SessionID,
		token:     cfg.Token,
		store:     store,
		parser:    parser,
		opener:    cfg.Opener,
		history:   cfg.History,
		speaker:   cfg.Speaker,
		clock:     clock,
		update:    update,
		log:       logger.WithComponent("session_controller"),
	}
}

// LoadHistory seeds the store from persisted messages. An empty session
// triggers the priming message exactly once, no matter how many times the
// load runs.
func (c *Controller) LoadHistory(ctx context.Context) error {
	messages, err := c.history.Messages(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if len(messages) > 0 {
		c.store.Seed(messages)
		c.primed = true
		c.mu.Unlock()
		c.update(c.store.Messages())
		return nil
	}
	if c.primed || c.state == Streaming {
		c.mu.Unlock()
		return nil
	}
	c.primed = true
	c.mu.Unlock()

	c.log.Debug("empty session, sending priming message", "session_id", c.sessionID)
	return c.SendMessage(ctx, PrimingMessage)
}

// SendMessage starts one turn. Whitespace-only input is a no-op; a send
// while a turn is streaming is rejected with ErrBusy.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.state == Streaming {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = Streaming
	c.mu.Unlock()

	c.store.Append(chat.NewUserMessageAt(c.clock(), text))
	c.store.Append(chat.NewAssistantPlaceholderAt(c.clock()))
	c.update(c.store.Messages())

	sub, err := c.opener.Open(ctx, c.sessionID, text, c.token)
	if err != nil {
		c.log.Error("failed to open stream", "session_id", c.sessionID, "error", err)
		c.store.ReplaceLast(chat.NewAssistantMessageAt(c.clock(), ApologyMessage))
		c.update(c.store.Messages())
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		// torn down between the open and here; don't leak the stream
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.sub = sub
	c.wg.Add(1)
	c.mu.Unlock()

	go c.consume(sub)
	return nil
}

// consume drains one turn's stream. It exits when the end sentinel arrives,
// a failure settles the turn, or the subscription is closed under it.
func (c *Controller) consume(sub Subscription) {
	defer c.wg.Done()
	settled := false

	for event := range sub.Events() {
		if event.Err != nil {
			c.log.Error("transport error mid-stream", "session_id", c.sessionID, "error", event.Err)
			c.failTurn()
			settled = true
			break
		}
		if event.IsEnd() {
			c.settleTurn(sub)
			settled = true
			break
		}
		if desc, ok := event.ErrorPayload(); ok {
			c.log.Error("protocol error from stream", "session_id", c.sessionID, "detail", desc)
			c.failTurn()
			settled = true
			break
		}

		chunks := c.parser.ParseChunk(event.Data)
		if err := c.store.Fold(chunks); err != nil {
			// batch dropped rather than corrupting message shape
			c.log.Warn("fold rejected, dropping chunk batch", "session_id", c.sessionID, "error", err)
		} else {
			c.update(c.store.Messages())
		}

		if c.speaker != nil {
			for _, chunk := range chunks {
				if chunk.Speakable && chunk.Content != "" {
					c.speaker.EnqueueSpeakable(chunk.Content)
				}
			}
		}
	}

	if !settled {
		// the channel closed without a sentinel: either teardown or the
		// connection dropped
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			c.settleTurn(sub)
		} else {
			c.log.Error("stream ended without end sentinel", "session_id", c.sessionID)
			c.failTurn()
		}
	}
}

// settleTurn closes the subscription and returns the controller to Idle.
func (c *Controller) settleTurn(sub Subscription) {
	sub.Close()
	c.mu.Lock()
	c.sub = nil
	c.state = Idle
	c.mu.Unlock()
	c.parser.Reset()
	c.update(c.store.Messages())
}

// failTurn substitutes the fixed apology for the in-flight assistant
// message, then settles.
func (c *Controller) failTurn() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.state = Idle
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	c.parser.Reset()
	c.store.ReplaceLast(chat.NewAssistantMessageAt(c.clock(), ApologyMessage))
	c.update(c.store.Messages())
}

// ClearHistory deletes the session's persisted messages and, on success,
// empties the store.
func (c *Controller) ClearHistory(ctx context.Context) error {
	if err := c.history.Clear(ctx); err != nil {
		return err
	}
	c.store.Reset()
	c.update(c.store.Messages())
	return nil
}

// Messages returns a snapshot of the current message list.
func (c *Controller) Messages() []chat.Message {
	return c.store.Messages()
}

// State reports whether a turn is currently streaming.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the controller down, cancelling any open stream. No folding
// happens after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	c.wg.Wait()
}

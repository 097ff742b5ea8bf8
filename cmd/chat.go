package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/knowtide/knowtide/pkg/backend"
	"github.com/knowtide/knowtide/pkg/chat"
	"github.com/knowtide/knowtide/pkg/config"
	"github.com/knowtide/knowtide/pkg/logger"
	"github.com/knowtide/knowtide/pkg/render"
	"github.com/knowtide/knowtide/pkg/session"
	"github.com/knowtide/knowtide/pkg/speech"
	"github.com/knowtide/knowtide/pkg/stream"
	"github.com/spf13/viper"
)

func runChat(ctx context.Context) error {
	cfg := config.Get()
	log := logger.WithComponent("chat_cmd")

	if cfg.Supabase.URL == "" {
		return errors.New("supabase.url is not configured")
	}
	token := cfg.Supabase.AccessToken
	if token == "" {
		return errors.New("supabase.access_token is not configured")
	}

	store := backend.NewClientWithTimeout(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Backend.Timeout)
	user, err := store.CurrentUser(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	log.Debug("authenticated", "user_id", user.ID)

	sessionID := viper.GetString("session")
	if sessionID == "" {
		documentID := viper.GetString("document")
		if documentID == "" {
			return errors.New("provide --session to resume or --document to start")
		}
		sess, err := store.GetOrCreateSession(ctx, token, documentID)
		if err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}
		sessionID = sess.ID
	}

	speaker, stopSpeaker, err := buildSpeaker(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopSpeaker()

	renderer := render.NewRenderer(cfg.ShowThinking)
	printer := newTurnPrinter(cfg.ShowThinking)

	controller := session.NewController(session.Config{
		SessionID: sessionID,
		Token:     token,
		Opener:    session.StreamOpener(stream.NewClient(cfg.Backend.URL)),
		History:   session.NewBackendHistory(store, token, sessionID),
		Speaker:   speaker,
		OnUpdate:  printer.update,
	})
	defer controller.Close()

	fmt.Printf("Session %s (type /help for commands)\n\n", sessionID)

	if err := controller.LoadHistory(ctx); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	for _, msg := range controller.Messages() {
		fmt.Println(renderer.Message(msg))
	}
	printer.sync(controller.Messages())
	if err := waitIdle(ctx, controller); err != nil {
		return err
	}
	printer.finish()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Println("  /history  reprint the conversation")
			fmt.Println("  /clear    delete this session's messages")
			fmt.Println("  /quit     leave")
			continue
		case line == "/history":
			for _, msg := range controller.Messages() {
				fmt.Println(renderer.Message(msg))
			}
			continue
		case line == "/clear":
			if err := controller.ClearHistory(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			} else {
				printer.sync(nil)
				fmt.Println("History cleared.")
			}
			continue
		case strings.HasPrefix(line, "/"):
			fmt.Printf("Unknown command %s\n", line)
			continue
		}

		if err := controller.SendMessage(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			continue
		}
		if err := waitIdle(ctx, controller); err != nil {
			return err
		}
		printer.finish()
	}
}

// buildSpeaker wires the configured text-to-speech pipeline, or returns a nil
// Speaker when speech is off.
func buildSpeaker(ctx context.Context, cfg *config.Config) (session.Speaker, func(), error) {
	if !cfg.Speech.Enabled {
		return nil, func() {}, nil
	}

	var (
		synth  speech.Synthesizer
		closer func()
	)
	switch cfg.Speech.Provider {
	case "google":
		if cfg.Speech.GoogleAPIKey == "" {
			return nil, nil, errors.New("speech.google_api_key is required for the google provider")
		}
		synth = speech.NewGoogleSynthesizer(
			cfg.Speech.GoogleAPIKey,
			cfg.Speech.Voice,
			cfg.Speech.LanguageCode,
			cfg.Speech.SpeakingRate,
		)
		closer = func() {}
	case "backend":
		socket, err := speech.DialSocketSynthesizer(ctx, socketURL(cfg.Backend.URL)+"/ws/tts")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect speech socket: %w", err)
		}
		synth = socket
		closer = func() { socket.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown speech provider %q", cfg.Speech.Provider)
	}

	queue := speech.NewOutputQueue(synth, speech.NewExecPlayer(cfg.Speech.PlayerCmd))
	return queue, func() {
		queue.Close()
		closer()
	}, nil
}

func socketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

// waitIdle blocks until the controller's current turn settles.
func waitIdle(ctx context.Context, c *session.Controller) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.State() == session.Idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// turnPrinter streams the in-flight assistant message to stdout as it grows.
// It prints only the portion not yet written, so each fold appends rather
// than repainting the line.
type turnPrinter struct {
	showThinking bool

	mu      sync.Mutex
	printed int
	open    bool
}

func newTurnPrinter(showThinking bool) *turnPrinter {
	return &turnPrinter{showThinking: showThinking}
}

func (p *turnPrinter) update(messages []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if !last.IsAssistant() {
		p.printed = 0
		return
	}

	text := p.projection(last.Content)
	if len(text) < p.printed {
		// the message was replaced wholesale, not appended to; reprint it
		if p.open {
			fmt.Println()
		}
		fmt.Print("Tutor: ", text)
		p.printed = len(text)
		p.open = true
		return
	}
	if len(text) > p.printed {
		if !p.open {
			fmt.Print("Tutor: ")
			p.open = true
		}
		fmt.Print(text[p.printed:])
		p.printed = len(text)
	}
}

// finish ends the streamed line once a turn settles.
func (p *turnPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		fmt.Println()
		p.open = false
	}
	p.printed = 0
}

// sync resets the printer after history is rendered or cleared, so already
// printed messages are not streamed again.
func (p *turnPrinter) sync(messages []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed = 0
	p.open = false
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.IsAssistant() {
		p.printed = len(p.projection(last.Content))
	}
}

func (p *turnPrinter) projection(c chat.Content) string {
	if p.showThinking {
		return chat.FlattenContent(c)
	}
	return chat.VisibleText(c)
}

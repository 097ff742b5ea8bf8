package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/knowtide/knowtide/pkg/logger"
)

// Client opens server-sent-event chat streams against the tutoring backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a stream client. The underlying HTTP client carries no
// overall timeout; a stream lives until the end sentinel or cancellation.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		log:        logger.WithComponent("stream_client"),
	}
}

// Open starts a chat completion stream for one turn. The returned
// subscription delivers decoded event payloads until the stream ends or
// Close is called. The stream is not resumable; every turn opens a new one.
func (c *Client) Open(ctx context.Context, sessionID, message, token string) (*Subscription, error) {
	endpoint := fmt.Sprintf("%s/api/chat/stream?%s", c.baseURL, url.Values{
		"message":    {message},
		"session_id": {sessionID},
	}.Encode())

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	sub := &Subscription{
		events: make(chan Event, 64),
		cancel: cancel,
	}
	go c.readStream(ctx, resp.Body, sub.events)

	c.log.Debug("stream opened", "session_id", sessionID)
	return sub, nil
}

// readStream decodes SSE framing: "data:" lines accumulate into one event
// payload, dispatched on the following blank line. Comment and non-data
// fields are ignored.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	dispatch := func() {
		if len(data) == 0 {
			return
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		select {
		case events <- Event{Data: payload}:
		case <-ctx.Done():
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}

	// A final event without trailing blank line still counts.
	dispatch()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.log.Error("stream read failed", "error", err)
		select {
		case events <- Event{Err: fmt.Errorf("stream reading error: %w", err)}:
		case <-ctx.Done():
		}
	}
}

// Subscription is one open chat stream. Closing it cancels the underlying
// request; the events channel is closed by the reader, so a consumer ranging
// over Events always terminates.
type Subscription struct {
	events    chan Event
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Events returns the channel of decoded stream events.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close cancels the stream. Safe to call more than once, and after the
// stream has already ended on its own.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
}

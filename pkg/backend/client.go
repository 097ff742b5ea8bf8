package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/knowtide/knowtide/pkg/logger"
)

// Client talks to the hosted relational store (Supabase) that persists chat
// sessions and messages. The chat computation itself lives elsewhere; this
// client only reads and clears durable state.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	log        *logger.Logger
}

func NewClient(baseURL, anonKey string) *Client {
	return NewClientWithTimeout(baseURL, anonKey, 30*time.Second)
}

func NewClientWithTimeout(baseURL, anonKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.WithComponent("backend_client"),
	}
}

// CurrentUser resolves the user an access token belongs to.
func (c *Client) CurrentUser(ctx context.Context, token string) (User, error) {
	var user User
	err := c.do(ctx, token, http.MethodGet, "/auth/v1/user", nil, nil, &user)
	if err != nil {
		return User{}, fmt.Errorf("failed to fetch current user: %w", err)
	}
	if user.ID == "" {
		return User{}, fmt.Errorf("no authenticated user")
	}
	return user, nil
}

// GetOrCreateSession returns the user's session for a document, creating one
// if none exists yet.
func (c *Client) GetOrCreateSession(ctx context.Context, token, documentID string) (Session, error) {
	user, err := c.CurrentUser(ctx, token)
	if err != nil {
		return Session{}, err
	}

	var existing []Session
	query := url.Values{
		"document_id": {"eq." + documentID},
		"user_id":     {"eq." + user.ID},
		"select":      {"*"},
	}
	if err := c.do(ctx, token, http.MethodGet, "/rest/v1/chat_sessions", query, nil, &existing); err != nil {
		return Session{}, fmt.Errorf("failed to fetch session: %w", err)
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	payload := map[string]string{
		"document_id": documentID,
		"user_id":     user.ID,
	}
	var created []Session
	if err := c.do(ctx, token, http.MethodPost, "/rest/v1/chat_sessions", nil, payload, &created); err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	if len(created) == 0 {
		return Session{}, fmt.Errorf("failed to create session: empty response")
	}

	c.log.Info("created chat session", "session_id", created[0].ID, "document_id", documentID)
	return created[0], nil
}

// GetSession fetches a single session by id.
func (c *Client) GetSession(ctx context.Context, token, sessionID string) (Session, error) {
	var sessions []Session
	query := url.Values{
		"id":     {"eq." + sessionID},
		"select": {"*"},
	}
	if err := c.do(ctx, token, http.MethodGet, "/rest/v1/chat_sessions", query, nil, &sessions); err != nil {
		return Session{}, fmt.Errorf("failed to fetch session: %w", err)
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("session %s not found", sessionID)
	}
	return sessions[0], nil
}

// GetSessionMessages returns a session's messages in creation order.
func (c *Client) GetSessionMessages(ctx context.Context, token, sessionID string) ([]MessageRow, error) {
	var rows []MessageRow
	query := url.Values{
		"session_id": {"eq." + sessionID},
		"select":     {"*"},
		"order":      {"created_at.asc"},
	}
	if err := c.do(ctx, token, http.MethodGet, "/rest/v1/chat_messages", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch session messages: %w", err)
	}
	return rows, nil
}

// ClearSessionMessages deletes every message in a session and verifies the
// deletion actually took.
func (c *Client) ClearSessionMessages(ctx context.Context, token, sessionID string) error {
	query := url.Values{"session_id": {"eq." + sessionID}}
	if err := c.do(ctx, token, http.MethodDelete, "/rest/v1/chat_messages", query, nil, nil); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}

	remaining, err := c.GetSessionMessages(ctx, token, sessionID)
	if err != nil {
		return fmt.Errorf("failed to verify deletion: %w", err)
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%d messages remain after deletion", len(remaining))
	}

	c.log.Info("cleared session messages", "session_id", sessionID)
	return nil
}

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, payload, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

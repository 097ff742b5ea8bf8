package backend

import (
	"time"

	"github.com/knowtide/knowtide/pkg/chat"
)

// Session is one chat session row, scoped to a user and a document.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageContent is the role/content pair stored per message row.
type MessageContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageRow is one persisted chat message.
type MessageRow struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Content   MessageContent `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// User is the authenticated user behind an access token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ToChatMessage converts a persisted row into the in-memory message shape.
func (r MessageRow) ToChatMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		Role:      r.Content.Role,
		Content:   chat.PlainText(r.Content.Content),
		Timestamp: r.CreatedAt,
	}
}

// ToChatMessages converts rows in place, preserving creation order.
func ToChatMessages(rows []MessageRow) []chat.Message {
	messages := make([]chat.Message, len(rows))
	for i, row := range rows {
		messages[i] = row.ToChatMessage()
	}
	return messages
}

package session

import (
	"context"

	"github.com/knowtide/knowtide/pkg/backend"
	"github.com/knowtide/knowtide/pkg/chat"
	"github.com/knowtide/knowtide/pkg/stream"
)

// BackendHistory adapts the persistence client to the History interface,
// bound to one session and access token.
type BackendHistory struct {
	client    *backend.Client
	token     string
	sessionID string
}

func NewBackendHistory(client *backend.Client, token, sessionID string) *BackendHistory {
	return &BackendHistory{client: client, token: token, sessionID: sessionID}
}

func (h *BackendHistory) Messages(ctx context.Context) ([]chat.Message, error) {
	rows, err := h.client.GetSessionMessages(ctx, h.token, h.sessionID)
	if err != nil {
		return nil, err
	}
	return backend.ToChatMessages(rows), nil
}

func (h *BackendHistory) Clear(ctx context.Context) error {
	return h.client.ClearSessionMessages(ctx, h.token, h.sessionID)
}

// StreamOpener adapts the SSE client to the Opener interface.
func StreamOpener(client *stream.Client) Opener {
	return OpenerFunc(func(ctx context.Context, sessionID, message, token string) (Subscription, error) {
		sub, err := client.Open(ctx, sessionID, message, token)
		if err != nil {
			return nil, err
		}
		return sub, nil
	})
}

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knowtide/knowtide/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSessionMessagesOrderedAndConverted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/chat_messages", r.URL.Path)
		assert.Equal(t, "eq.s-1", r.URL.Query().Get("session_id"))
		assert.Equal(t, "created_at.asc", r.URL.Query().Get("order"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		fmt.Fprint(w, `[
			{"id":"m1","session_id":"s-1","content":{"role":"user","content":"Hi"},"created_at":"2025-01-01T10:00:00Z"},
			{"id":"m2","session_id":"s-1","content":{"role":"assistant","content":"Hello"},"created_at":"2025-01-01T10:00:05Z"}
		]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon")
	rows, err := client.GetSessionMessages(context.Background(), "tok", "s-1")

	require.NoError(t, err)
	require.Len(t, rows, 2)

	messages := ToChatMessages(rows)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, chat.PlainText("Hi"), messages[0].Content)
	assert.Equal(t, chat.RoleAssistant, messages[1].Role)
	assert.Equal(t, chat.PlainText("Hello"), messages[1].Content)
}

func TestGetOrCreateSessionReturnsExisting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/user":
			fmt.Fprint(w, `{"id":"u-1","email":"a@b.c"}`)
		case "/rest/v1/chat_sessions":
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "eq.doc-1", r.URL.Query().Get("document_id"))
			assert.Equal(t, "eq.u-1", r.URL.Query().Get("user_id"))
			fmt.Fprint(w, `[{"id":"s-9","user_id":"u-1","document_id":"doc-1"}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon")
	session, err := client.GetOrCreateSession(context.Background(), "tok", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, "s-9", session.ID)
}

func TestGetOrCreateSessionCreatesWhenMissing(t *testing.T) {
	var created map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/v1/user":
			fmt.Fprint(w, `{"id":"u-1"}`)
		case r.URL.Path == "/rest/v1/chat_sessions" && r.Method == http.MethodGet:
			fmt.Fprint(w, `[]`)
		case r.URL.Path == "/rest/v1/chat_sessions" && r.Method == http.MethodPost:
			assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			fmt.Fprint(w, `[{"id":"s-new","user_id":"u-1","document_id":"doc-2"}]`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon")
	session, err := client.GetOrCreateSession(context.Background(), "tok", "doc-2")

	require.NoError(t, err)
	assert.Equal(t, "s-new", session.ID)
	assert.Equal(t, "doc-2", created["document_id"])
	assert.Equal(t, "u-1", created["user_id"])
}

func TestClearSessionMessagesVerifiesDeletion(t *testing.T) {
	deleted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon")
	err := client.ClearSessionMessages(context.Background(), "tok", "s-1")

	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestClearSessionMessagesFailsWhenRowsRemain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			fmt.Fprint(w, `[{"id":"m1","session_id":"s-1","content":{"role":"user","content":"x"}}]`)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon")
	err := client.ClearSessionMessages(context.Background(), "tok", "s-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "remain after deletion")
}

func TestCurrentUserRejectsAnonymous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon")
	_, err := client.CurrentUser(context.Background(), "tok")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no authenticated user")
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "anon")
	_, err := client.GetSessionMessages(context.Background(), "tok", "s-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "permission denied")
}

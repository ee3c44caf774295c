package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidehustle-chat/internal/chat"
	"sidehustle-chat/internal/db"
	myMiddleware "sidehustle-chat/internal/middleware"
)

// tokens treats the bearer token as the user id.
type tokens struct{}

func (tokens) ValidateToken(token string) (string, string, error) {
	if token == "" || token == "bad" {
		return "", "", errors.New("invalid token")
	}
	return token, "user-" + token, nil
}

type api struct {
	server *httptest.Server
	hub    *chat.Hub
}

func newAPI(t *testing.T) *api {
	t.Helper()
	database, err := db.NewDatabase(db.SQLite, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := chat.NewHub(nil, "", zerolog.Nop())
	go hub.Run(ctx)

	svc := chat.NewService(chat.NewRepository(database), nil, nil, nil, hub, zerolog.Nop())
	handler := chat.NewHandler(svc, hub, zerolog.Nop())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.NewAuthMiddleware(tokens{}).Handle)
		handler.Routes(r)
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return &api{server: server, hub: hub}
}

func (a *api) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *api) send(t *testing.T, from, to, content string) chat.SendResult {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/messages", from, map[string]string{"recipient_id": to, "content": content})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[chat.SendResult](t, resp)
}

func TestHandler_MessagingFlow(t *testing.T) {
	a := newAPI(t)
	alice, bob := uuid.NewString(), uuid.NewString()

	sent := a.send(t, alice, bob, "hi")
	assert.NotEmpty(t, sent.ConversationID)
	assert.Equal(t, "hi", sent.Message.Content)

	resp := a.do(t, http.MethodGet, "/api/unread", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[map[string]int](t, resp)["unread_count"])

	resp = a.do(t, http.MethodGet, "/api/conversations", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeBody[chat.ConversationPage](t, resp)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, alice, page.Conversations[0].OtherParticipant.ID)
	assert.Equal(t, 1, page.Conversations[0].UnreadCount)

	resp = a.do(t, http.MethodGet, "/api/conversations/"+sent.ConversationID, bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeBody[chat.ConversationView](t, resp)
	assert.Zero(t, view.Conversation.UnreadCount)
	require.Len(t, view.Messages.Messages, 1)

	resp = a.do(t, http.MethodPatch, "/api/messages/"+sent.MessageID, alice, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", decodeBody[chat.Message](t, resp).Content)

	resp = a.do(t, http.MethodDelete, "/api/messages/"+sent.MessageID, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/conversations/"+sent.ConversationID+"/messages", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeBody[chat.MessagePage](t, resp)
	require.Len(t, msgs.Messages, 1)
	assert.NotNil(t, msgs.Messages[0].DeletedAt)
}

func TestHandler_ReadAndArchive(t *testing.T) {
	a := newAPI(t)
	alice, bob := uuid.NewString(), uuid.NewString()
	first := a.send(t, alice, bob, "one")
	a.send(t, alice, bob, "two")

	resp := a.do(t, http.MethodPost, "/api/conversations/"+first.ConversationID+"/read", bob,
		map[string]string{"through_message_id": first.MessageID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[map[string]int](t, resp)["unread_count"])

	// no body: read everything
	resp = a.do(t, http.MethodPost, "/api/conversations/"+first.ConversationID+"/read", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decodeBody[map[string]int](t, resp)["unread_count"])

	resp = a.do(t, http.MethodPut, "/api/conversations/"+first.ConversationID+"/archive", bob, map[string]bool{"archived": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/conversations?archive=archived", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[chat.ConversationPage](t, resp).Conversations, 1)

	resp = a.do(t, http.MethodGet, "/api/conversations/"+first.ConversationID+"/unread", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decodeBody[map[string]int](t, resp)["unread_count"])
}

func TestHandler_StartConversation(t *testing.T) {
	a := newAPI(t)
	alice, bob := uuid.NewString(), uuid.NewString()

	resp := a.do(t, http.MethodPost, "/api/conversations", alice, map[string]string{"recipient_id": bob})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeBody[map[string]string](t, resp)["conversation_id"]

	resp = a.do(t, http.MethodPost, "/api/conversations", bob, map[string]string{"recipient_id": alice})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first, decodeBody[map[string]string](t, resp)["conversation_id"])
}

func TestHandler_Errors(t *testing.T) {
	a := newAPI(t)
	alice, bob := uuid.NewString(), uuid.NewString()
	sent := a.send(t, alice, bob, "hi")

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/api/conversations", "", nil, http.StatusUnauthorized, ""},
		{"bad token", http.MethodGet, "/api/conversations", "bad", nil, http.StatusUnauthorized, ""},
		{"empty message", http.MethodPost, "/api/messages", alice, map[string]string{"recipient_id": bob, "content": " "}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"self conversation", http.MethodPost, "/api/conversations", alice, map[string]string{"recipient_id": alice}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"stranger loads", http.MethodGet, "/api/conversations/" + sent.ConversationID, uuid.NewString(), nil, http.StatusForbidden, "PERMISSION_DENIED"},
		{"unknown conversation", http.MethodGet, "/api/conversations/" + uuid.NewString(), alice, nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad cursor", http.MethodGet, "/api/conversations?cursor=%25%25", alice, nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad limit", http.MethodGet, "/api/conversations?limit=ten", alice, nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad archive filter", http.MethodGet, "/api/conversations?archive=muted", alice, nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"edit by other", http.MethodPatch, "/api/messages/" + sent.MessageID, bob, map[string]string{"content": "x"}, http.StatusForbidden, "PERMISSION_DENIED"},
		{"delete missing", http.MethodDelete, "/api/messages/nope", alice, nil, http.StatusNotFound, "NOT_FOUND"},
		{"malformed body", http.MethodPost, "/api/messages", alice, "not an object", http.StatusBadRequest, "INVALID_ARGUMENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.do(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			}
		})
	}
}

func dialWS(t *testing.T, a *api, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws?token=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) chat.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env chat.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestHandler_WebSocket(t *testing.T) {
	a := newAPI(t)
	alice, bob := uuid.NewString(), uuid.NewString()

	bobConn := dialWS(t, a, bob)
	aliceConn := dialWS(t, a, alice)

	// the hub registers the subscription before the upgrade completes
	sent := a.send(t, alice, bob, "over http")

	env := readEnvelope(t, bobConn)
	assert.Equal(t, chat.EventNewMessage, env.Type)
	assert.Equal(t, sent.ConversationID, env.ConversationID)
	ev, err := env.Event()
	require.NoError(t, err)
	assert.Equal(t, "over http", ev.(chat.NewMessage).Message.Content)
	assert.Equal(t, chat.EventNewMessage, readEnvelope(t, aliceConn).Type)

	// commands over the socket
	require.NoError(t, bobConn.WriteJSON(chat.WSCommand{Type: "send", ConversationID: sent.ConversationID, Content: "over ws"}))
	env = readEnvelope(t, aliceConn)
	require.Equal(t, chat.EventNewMessage, env.Type)
	assert.Greater(t, env.Version, int64(1))
	assert.Equal(t, chat.EventNewMessage, readEnvelope(t, bobConn).Type)

	require.NoError(t, bobConn.WriteJSON(chat.WSCommand{Type: "mark_read", ConversationID: sent.ConversationID}))
	env = readEnvelope(t, aliceConn)
	require.Equal(t, chat.EventReadUpdated, env.Type)
	ev, err = env.Event()
	require.NoError(t, err)
	assert.Equal(t, bob, ev.(chat.ReadUpdated).ReaderID)
	readEnvelope(t, bobConn)

	// errors come back to the sender only
	require.NoError(t, bobConn.WriteJSON(chat.WSCommand{Type: "send", RecipientID: bob, Content: "me"}))
	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var wsErr chat.WSError
	require.NoError(t, bobConn.ReadJSON(&wsErr))
	assert.Equal(t, "error", wsErr.Type)
	assert.Equal(t, "send", wsErr.Command)
	assert.Equal(t, "INVALID_ARGUMENT", wsErr.Code)

	require.NoError(t, bobConn.WriteJSON(map[string]string{"type": "typing"}))
	require.NoError(t, bobConn.ReadJSON(&wsErr))
	assert.Equal(t, "typing", wsErr.Command)
}

func TestHandler_WebSocketFollow(t *testing.T) {
	a := newAPI(t)
	alice, bob, carol := uuid.NewString(), uuid.NewString(), uuid.NewString()
	sent := a.send(t, alice, bob, "hi")

	conn := dialWS(t, a, carol)
	require.NoError(t, conn.WriteJSON(chat.WSCommand{Type: "follow", ConversationID: sent.ConversationID}))

	var wsErr chat.WSError
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, "PERMISSION_DENIED", wsErr.Code)
	assert.Equal(t, "follow", wsErr.Command)
}

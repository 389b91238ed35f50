package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gig-chat/internal/database"
	"gig-chat/internal/engine"
	"gig-chat/internal/middleware"
	"gig-chat/internal/models"
	"gig-chat/internal/utils"
	"gig-chat/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeEvent = "probe"

type testEnv struct {
	server *httptest.Server
	hub    *websocket.Hub
	auth   *middleware.Authenticator
	db     *database.MemoryDB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db := database.NewMemoryDB()
	db.AddUser(&models.User{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: "employer"})
	db.AddUser(&models.User{ID: "u2", Name: "Bo", Email: "bo@example.com", Role: "worker"})
	db.AddJob(&models.Job{ID: "j1", Title: "Barista", EmployerID: "u1"})

	registry := prometheus.NewRegistry()
	metrics := utils.NewMetricsCollector(registry)
	hub := websocket.NewHub(actor.NewActorSystem(), nil, metrics, logger, 2*time.Second)
	chat := engine.NewEngine(db, hub, metrics, logger, engine.Options{MaxMessageLength: 100})
	auth := middleware.NewAuthenticator("test-secret", "", logger)

	server := NewServer(chat, hub, db, auth, metrics, registry, nil, 2*time.Second, logger)
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, hub: hub, auth: auth, db: db}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.auth.GenerateToken(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, userID, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (e *testEnv) sessions() int {
	stats, err := e.hub.Stats(context.Background())
	if err != nil {
		return -1
	}
	return stats.Sessions
}

// dial opens a live session and waits until the hub has bound it.
func (e *testEnv) dial(t *testing.T, userID string) *ws.Conn {
	t.Helper()
	before := e.sessions()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + e.token(t, userID)
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return e.sessions() > before }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func emit(t *testing.T, conn *ws.Conn, name string, data interface{}) {
	t.Helper()
	evt, err := models.NewEvent(name, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(evt))
}

func readEvent(t *testing.T, conn *ws.Conn) *models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt models.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return &evt
}

// readUntil returns the first event named want, skipping probes. Any other
// event on the way fails the test.
func readUntil(t *testing.T, conn *ws.Conn, want string) *models.Event {
	t.Helper()
	for {
		evt := readEvent(t, conn)
		if evt.Event == probeEvent {
			continue
		}
		require.Equal(t, want, evt.Event, "unexpected event %s: %s", evt.Event, evt.Data)
		return evt
	}
}

// waitInRoom blocks until at least n sessions not belonging to exclude are
// in room. Each check delivers a probe frame to them.
func (e *testEnv) waitInRoom(t *testing.T, room, exclude string, n int) {
	t.Helper()
	probe, err := models.NewEvent(probeEvent, map[string]string{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := e.hub.PublishToRoom(context.Background(), room, exclude, probe)
		return err == nil && got >= n
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRequestSendFansOutToBothParticipants(t *testing.T) {
	env := newTestEnv(t)
	sender := env.dial(t, "u1")
	receiver := env.dial(t, "u2")

	resp, body := env.do(t, "u1", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u2", "content": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var sent models.MessageView
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "hello", sent.Content)
	assert.Equal(t, "Ada", sent.Sender.Name)
	assert.Equal(t, "Bo", sent.Receiver.Name)

	evt := readUntil(t, receiver, models.EventNewMessage)
	var got models.MessageView
	require.NoError(t, json.Unmarshal(evt.Data, &got))
	assert.Equal(t, sent.ID, got.ID)

	evt = readUntil(t, sender, models.EventMessageSent)
	require.NoError(t, json.Unmarshal(evt.Data, &got))
	assert.Equal(t, sent.ID, got.ID)
}

func TestChannelSendAcksOriginatingSessionOnly(t *testing.T) {
	env := newTestEnv(t)
	phone := env.dial(t, "u1")
	laptop := env.dial(t, "u1")
	receiver := env.dial(t, "u2")

	emit(t, phone, models.EventSendMessage, map[string]string{"receiverId": "u2", "content": "from phone", "clientId": "c-42"})

	// the phone gets message_sent and the ack, in either order
	seen := map[string]*models.Event{}
	for len(seen) < 2 {
		evt := readEvent(t, phone)
		seen[evt.Event] = evt
	}
	require.Contains(t, seen, models.EventMessageSent)
	require.Contains(t, seen, models.EventMessageAck)
	var ack models.MessageAck
	require.NoError(t, json.Unmarshal(seen[models.EventMessageAck].Data, &ack))
	assert.Equal(t, "c-42", ack.ClientID)
	assert.Equal(t, "from phone", ack.Message.Content)

	readUntil(t, laptop, models.EventMessageSent)
	readUntil(t, receiver, models.EventNewMessage)

	// the laptop must not see the ack; the next thing it gets is the reply
	resp, body := env.do(t, "u2", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u1", "content": "reply"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	readUntil(t, laptop, models.EventNewMessage)
}

func TestTypingReachesOnlyTheOtherParticipant(t *testing.T) {
	env := newTestEnv(t)
	u1a := env.dial(t, "u1")
	u1b := env.dial(t, "u1")
	u2 := env.dial(t, "u2")
	room := models.RoomID("u1", "u2")

	emit(t, u1a, models.EventJoinChat, map[string]string{"otherUserId": "u2"})
	emit(t, u1b, models.EventJoinChat, map[string]string{"otherUserId": "u2"})
	emit(t, u2, models.EventJoinChat, map[string]string{"otherUserId": "u1"})
	env.waitInRoom(t, room, "u2", 2)
	env.waitInRoom(t, room, "u1", 1)

	emit(t, u1a, models.EventTyping, map[string]interface{}{"receiverId": "u2", "isTyping": true})

	evt := readUntil(t, u2, models.EventUserTyping)
	var signal models.TypingSignal
	require.NoError(t, json.Unmarshal(evt.Data, &signal))
	assert.Equal(t, models.TypingSignal{UserID: "u1", IsTyping: true}, signal)

	// neither u1 session sees its own typing signal
	resp, body := env.do(t, "u2", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u1", "content": "hey"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	readUntil(t, u1a, models.EventNewMessage)
	readUntil(t, u1b, models.EventNewMessage)
}

func TestChannelErrorsGoToTheSender(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "u1")

	emit(t, conn, models.EventSendMessage, map[string]string{"receiverId": "u2", "content": "   ", "clientId": "c-1"})
	evt := readUntil(t, conn, models.EventError)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Data, &payload))
	assert.Equal(t, utils.ErrInvalidInput, payload.Code)
	assert.Equal(t, "c-1", payload.ClientID)

	emit(t, conn, models.EventSendMessage, map[string]string{"receiverId": "u999", "content": "hi"})
	evt = readUntil(t, conn, models.EventError)
	require.NoError(t, json.Unmarshal(evt.Data, &payload))
	assert.Equal(t, utils.ErrUserNotFound, payload.Code)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("not json")))
	readUntil(t, conn, models.EventError)
}

func TestChannelOversizedContentKeepsSession(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "u1")

	// Step 1: just over the character limit reaches validation
	emit(t, conn, models.EventSendMessage, map[string]string{"receiverId": "u2", "content": strings.Repeat("a", 101), "clientId": "c-1"})
	evt := readUntil(t, conn, models.EventError)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Data, &payload))
	assert.Equal(t, utils.ErrInvalidInput, payload.Code)
	assert.Equal(t, "c-1", payload.ClientID)

	// Step 2: a frame far beyond the read limit is discarded, not fatal
	emit(t, conn, models.EventSendMessage, map[string]string{"receiverId": "u2", "content": strings.Repeat("a", 20000), "clientId": "c-2"})
	evt = readUntil(t, conn, models.EventError)
	require.NoError(t, json.Unmarshal(evt.Data, &payload))
	assert.Equal(t, utils.ErrInvalidInput, payload.Code)
	assert.Equal(t, 1, env.sessions())

	// Step 3: the session still sends
	emit(t, conn, models.EventSendMessage, map[string]string{"receiverId": "u2", "content": strings.Repeat("é", 100), "clientId": "c-3"})
	seen := map[string]bool{}
	for len(seen) < 2 {
		seen[readEvent(t, conn).Event] = true
	}
	assert.True(t, seen[models.EventMessageAck])
	assert.True(t, seen[models.EventMessageSent])
}

func TestRequestBodyIsCapped(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "u1", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u2", "content": strings.Repeat("a", 20000)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), utils.ErrInvalidInput)

	resp, _ = env.do(t, "u2", http.MethodPost, "/api/chat/start-conversation", map[string]string{"employerId": "u1", "jobId": "j1", "initialMessage": strings.Repeat("a", 20000)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketAuthFailure(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=bogus"

	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	evt := readEvent(t, conn)
	assert.Equal(t, models.EventAuthError, evt.Event)

	// the server closes right after
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, env.sessions())
}

func TestDisconnectUnbindsSession(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "u1")

	resp, body := env.do(t, "u2", http.MethodGet, "/api/chat/presence/u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"userId":"u1","online":true}`, string(body))

	conn.Close()
	require.Eventually(t, func() bool { return env.sessions() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, body = env.do(t, "u2", http.MethodGet, "/api/chat/presence/u1", nil)
	assert.JSONEq(t, `{"userId":"u1","online":false}`, string(body))
}

func TestChatRESTFlow(t *testing.T) {
	env := newTestEnv(t)

	// Step 1: start a conversation about a job
	resp, body := env.do(t, "u2", http.MethodPost, "/api/chat/start-conversation", map[string]string{"employerId": "u1", "jobId": "j1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first models.MessageView
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, "Hi! I'm interested in your job posting: Barista", first.Content)
	assert.Equal(t, "j1", first.ContextID)

	// Step 2: the employer sees one unread message
	resp, body = env.do(t, "u1", http.MethodGet, "/api/chat/unread-count", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"unreadCount":1}`, string(body))

	resp, body = env.do(t, "u1", http.MethodGet, "/api/chat/conversations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conversations []models.ConversationView
	require.NoError(t, json.Unmarshal(body, &conversations))
	require.Len(t, conversations, 1)
	assert.Equal(t, "u2", conversations[0].OtherUser.ID)
	assert.Equal(t, 1, conversations[0].UnreadCount)

	// Step 3: peeking does not mark anything read
	resp, _ = env.do(t, "u1", http.MethodGet, "/api/chat/messages/u2?markRead=false", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = env.do(t, "u1", http.MethodGet, "/api/chat/unread-count", nil)
	assert.JSONEq(t, `{"unreadCount":1}`, string(body))

	// Step 4: explicit mark-read, then again
	resp, body = env.do(t, "u1", http.MethodPatch, "/api/chat/mark-read/u2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Messages marked as read","updated":1}`, string(body))
	_, body = env.do(t, "u1", http.MethodPatch, "/api/chat/mark-read/u2", nil)
	assert.JSONEq(t, `{"message":"Messages marked as read","updated":0}`, string(body))

	// Step 5: the thread reads the same from both sides
	_, body = env.do(t, "u2", http.MethodGet, "/api/chat/messages/u1", nil)
	var thread []models.MessageView
	require.NoError(t, json.Unmarshal(body, &thread))
	require.Len(t, thread, 1)
	assert.Equal(t, first.ID, thread[0].ID)
	assert.True(t, thread[0].IsRead)
}

func TestChatErrorStatuses(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "", http.MethodGet, "/api/chat/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, "u1", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u999", "content": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), utils.ErrUserNotFound)

	resp, _ = env.do(t, "u1", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u2", "content": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "u1", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u2", "content": strings.Repeat("a", 101)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "u1", http.MethodPost, "/api/chat/send", map[string]string{"receiverId": "u2", "content": "hi", "jobId": "j404"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, "u2", http.MethodPost, "/api/chat/start-conversation", map[string]string{"employerId": "u2", "jobId": "j1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, "u1", http.MethodGet, "/api/chat/messages/u999", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.dial(t, "u1")

	resp, body := env.do(t, "", http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.Presence)
	assert.Equal(t, 1, health.Presence.Sessions)

	resp, body = env.do(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gigchat_http_requests_total")
}

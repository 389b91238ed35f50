package websocket

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gig-chat/internal/engine"
	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Bytes allowed around the content of a send_message frame.
	envelopeHeadroom = 1024

	// Frames above this close the connection. Frames between the read limit
	// and this are discarded and answered with an error event.
	maxFrameSize = 1 << 20

	sendBufferSize = 256
)

// ReadLimitFor is the largest frame or request body that can carry content
// of maxContentLength characters. A character is at most six bytes once
// JSON-escaped.
func ReadLimitFor(maxContentLength int) int64 {
	return int64(6*maxContentLength + envelopeHeadroom)
}

// SessionState tracks a connection through its lifecycle.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateJoined
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// ChatEngine is what a live session can ask of the delivery pipeline.
type ChatEngine interface {
	SendViaChannel(ctx context.Context, sessionID, receiverID, content, contextID, clientID string) (*engine.Delivery, error)
	SetTyping(ctx context.Context, userID, counterpartID string, isTyping bool) error
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub    *Hub
	engine ChatEngine
	conn   *websocket.Conn

	id     string
	userID string

	// Buffered channel of outbound frames. Never closed; done ends the writer.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	// rooms is only touched by the read pump.
	rooms     map[string]struct{}
	readLimit int64

	requestTimeout time.Duration
	logger         zerolog.Logger
}

// NewClient wraps an upgraded connection for an authenticated user.
// maxContentLength sizes the read limit.
func NewClient(hub *Hub, chat ChatEngine, conn *websocket.Conn, userID string, maxContentLength int, requestTimeout time.Duration, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	c := &Client{
		hub:            hub,
		engine:         chat,
		conn:           conn,
		id:             id,
		userID:         userID,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		rooms:          make(map[string]struct{}),
		readLimit:      ReadLimitFor(maxContentLength),
		requestTimeout: requestTimeout,
		logger:         logger.With().Str("user_id", userID).Str("session_id", id).Logger(),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Client) SessionID() string { return c.id }

func (c *Client) UserID() string { return c.userID }

func (c *Client) State() SessionState { return SessionState(c.state.Load()) }

// Deliver queues a frame without blocking. A full buffer or a closed
// session drops the frame.
func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Start registers the session and runs both pumps. It returns once the
// session is bound, so events published afterwards reach it.
func (c *Client) Start(ctx context.Context) error {
	if err := c.hub.Register(ctx, c); err != nil {
		c.close()
		return err
	}
	c.logger.Info().Msg("websocket session opened")
	go c.WritePump()
	go c.ReadPump()
	return nil
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		c.conn.Close()
	})
}

// ReadPump pumps events from the websocket connection to the engine.
func (c *Client) ReadPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		c.hub.Unregister(ctx, c.id)
		cancel()
		c.close()
		c.logger.Info().Msg("websocket session closed")
	}()
	c.conn.SetReadLimit(max(c.readLimit, maxFrameSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		raw, tooLarge, err := c.readFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if tooLarge {
			c.sendError(utils.NewValidationError("message is too large"), "")
			continue
		}
		c.dispatch(raw)
	}
}

// readFrame reads the next frame. Anything beyond readLimit is drained so
// the session survives it.
func (c *Client) readFrame() ([]byte, bool, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, false, err
	}
	raw, err := io.ReadAll(io.LimitReader(r, c.readLimit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(raw)) <= c.readLimit {
		return raw, false, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

// WritePump pumps frames from the send buffer to the websocket connection.
// Each frame is one JSON event.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn().Err(err).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
			c.hub.Touch(ctx, c.userID)
			cancel()
		}
	}
}

type roomRequest struct {
	OtherUserID string `json:"otherUserId"`
}

type typingRequest struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type sendRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ContextID  string `json:"contextId,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
}

func (c *Client) dispatch(raw []byte) {
	var evt models.Event
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Event == "" {
		c.sendError(utils.NewValidationError("malformed event"), "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	switch evt.Event {
	case models.EventJoinChat, models.EventLeaveChat:
		var req roomRequest
		if err := json.Unmarshal(evt.Data, &req); err != nil || req.OtherUserID == "" {
			c.sendError(utils.NewValidationError("otherUserId is required"), "")
			return
		}
		c.handleRoom(ctx, evt.Event, models.RoomID(c.userID, req.OtherUserID))

	case models.EventTyping:
		var req typingRequest
		if err := json.Unmarshal(evt.Data, &req); err != nil {
			c.sendError(utils.NewValidationError("malformed typing event"), "")
			return
		}
		if err := c.engine.SetTyping(ctx, c.userID, req.ReceiverID, req.IsTyping); err != nil {
			c.sendError(err, "")
		}

	case models.EventSendMessage:
		var req sendRequest
		if err := json.Unmarshal(evt.Data, &req); err != nil {
			c.sendError(utils.NewValidationError("malformed send_message event"), "")
			return
		}
		if _, err := c.engine.SendViaChannel(ctx, c.id, req.ReceiverID, req.Content, req.ContextID, req.ClientID); err != nil {
			c.sendError(err, req.ClientID)
		}

	default:
		c.sendError(utils.NewValidationError("unknown event "+evt.Event), "")
	}
}

func (c *Client) handleRoom(ctx context.Context, event, roomID string) {
	var err error
	if event == models.EventJoinChat {
		var joined bool
		if joined, err = c.hub.Join(ctx, c.id, roomID); err == nil && joined {
			c.rooms[roomID] = struct{}{}
		}
	} else {
		if _, err = c.hub.Leave(ctx, c.id, roomID); err == nil {
			delete(c.rooms, roomID)
		}
	}
	if err != nil {
		c.sendError(err, "")
		return
	}
	if c.State() != StateDisconnected {
		if len(c.rooms) > 0 {
			c.state.Store(int32(StateJoined))
		} else {
			c.state.Store(int32(StateAuthenticated))
		}
	}
	c.logger.Debug().Str("event", event).Str("room_id", roomID).Msg("room membership changed")
}

// sendError reports a failure to this session only.
func (c *Client) sendError(err error, clientID string) {
	payload := &models.ErrorPayload{Code: utils.ErrInternal, Message: "internal error", ClientID: clientID}
	if appErr, ok := utils.AsAppError(err); ok {
		payload.Code = appErr.Code
		payload.Message = appErr.Message
	} else {
		c.logger.Error().Err(err).Msg("unexpected error handling event")
	}
	evt, mErr := models.NewEvent(models.EventError, payload)
	if mErr != nil {
		return
	}
	frame, mErr := json.Marshal(evt)
	if mErr != nil {
		return
	}
	if !c.Deliver(frame) {
		c.logger.Warn().Str("code", payload.Code).Msg("dropped error event")
	}
}

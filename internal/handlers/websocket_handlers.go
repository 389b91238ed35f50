package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gig-chat/internal/models"
	"gig-chat/internal/utils"
	"gig-chat/internal/websocket"

	ws "github.com/gorilla/websocket"
)

// HandleWebSocket upgrades the connection and binds it to the token's user.
// An invalid token still upgrades, receives one auth_error event and is
// closed without ever joining the registry.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, authErr := s.Auth.Authenticate(r)

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader has already written an HTTP error
			s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		if authErr != nil {
			s.Logger.Info().Err(authErr).Msg("websocket authentication failed")
			s.rejectConnection(conn, authErr)
			return
		}

		client := websocket.NewClient(s.Hub, s.Engine, conn, userID, s.Engine.MaxMessageLength(), s.RequestTimeout, s.Logger)
		ctx, cancel := context.WithTimeout(context.Background(), s.RequestTimeout)
		defer cancel()
		if err := client.Start(ctx); err != nil {
			s.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to register websocket session")
		}
	}
}

func (s *Server) rejectConnection(conn *ws.Conn, authErr error) {
	defer conn.Close()

	payload := &models.ErrorPayload{Code: utils.ErrUnauthorized, Message: "authentication failed"}
	if appErr, ok := utils.AsAppError(authErr); ok {
		payload.Code = appErr.Code
		payload.Message = appErr.Message
	}
	evt, err := models.NewEvent(models.EventAuthError, payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(evt)
	if err != nil {
		return
	}

	deadline := time.Now().Add(time.Second)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(ws.TextMessage, frame); err != nil {
		return
	}
	conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.ClosePolicyViolation, "authentication failed"), deadline)
}

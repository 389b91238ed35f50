package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"gig-chat/internal/middleware"
	"gig-chat/internal/utils"
	"gig-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
)

// SendMessageRequest is the body of POST /send. jobId is accepted as an
// alias of contextId.
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ContextID  string `json:"contextId,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

// StartConversationRequest is the body of POST /start-conversation.
type StartConversationRequest struct {
	EmployerID     string `json:"employerId"`
	JobID          string `json:"jobId"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

type markReadResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

type unreadCountResponse struct {
	UnreadCount int64 `json:"unreadCount"`
}

type presenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.RequestTimeout)
}

// decodeBody reads a JSON body no larger than a live-channel frame.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, websocket.ReadLimitFor(s.Engine.MaxMessageLength()))
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return utils.NewValidationError("request body is too large")
		}
		return utils.NewValidationError("invalid request body")
	}
	return nil
}

// HandleConversations lists the caller's conversations, newest first.
func (s *Server) HandleConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserIDFromContext(r.Context())
		ctx, cancel := s.requestContext(r)
		defer cancel()

		conversations, err := s.Engine.Conversations(ctx, userID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, conversations)
	}
}

// HandleThread returns the thread with otherUserId and marks it read unless
// markRead=false is given.
func (s *Server) HandleThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserIDFromContext(r.Context())
		otherUserID := chi.URLParam(r, "otherUserId")
		markRead := r.URL.Query().Get("markRead") != "false"

		ctx, cancel := s.requestContext(r)
		defer cancel()

		messages, err := s.Engine.Thread(ctx, userID, otherUserID, markRead)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, messages)
	}
}

// HandleSendMessage is the request/response send path.
func (s *Server) HandleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserIDFromContext(r.Context())

		var req SendMessageRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		contextID := req.ContextID
		if contextID == "" {
			contextID = req.JobID
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		delivery, err := s.Engine.SendViaRequest(ctx, userID, req.ReceiverID, req.Content, contextID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, delivery.View)
	}
}

// HandleStartConversation opens a thread with the employer of a job.
func (s *Server) HandleStartConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserIDFromContext(r.Context())

		var req StartConversationRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()

		delivery, err := s.Engine.StartConversation(ctx, userID, req.EmployerID, req.JobID, req.InitialMessage)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, delivery.View)
	}
}

// HandleMarkRead marks everything otherUserId sent to the caller as read.
func (s *Server) HandleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserIDFromContext(r.Context())
		otherUserID := chi.URLParam(r, "otherUserId")

		ctx, cancel := s.requestContext(r)
		defer cancel()

		n, err := s.Engine.MarkRead(ctx, userID, otherUserID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, &markReadResponse{Message: "Messages marked as read", Updated: n})
	}
}

func (s *Server) HandleUnreadCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserIDFromContext(r.Context())
		ctx, cancel := s.requestContext(r)
		defer cancel()

		n, err := s.Engine.UnreadCount(ctx, userID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, &unreadCountResponse{UnreadCount: n})
	}
}

// HandlePresence reports whether a user has a live session here or on any
// instance sharing the presence mirror.
func (s *Server) HandlePresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "userId")
		ctx, cancel := s.requestContext(r)
		defer cancel()

		online, err := s.Hub.IsOnline(ctx, target)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, &presenceResponse{UserID: target, Online: online})
	}
}

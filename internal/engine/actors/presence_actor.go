package actors

import (
	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"
)

// Session is one live connection as seen by the registry. Deliver must not
// block; it reports false when the frame was dropped.
type Session interface {
	SessionID() string
	UserID() string
	Deliver(payload []byte) bool
}

// Message types for PresenceActor
type (
	BindSessionMsg struct {
		Session Session
	}

	UnbindSessionMsg struct {
		SessionID string
	}

	JoinRoomMsg struct {
		SessionID string
		RoomID    string
	}

	LeaveRoomMsg struct {
		SessionID string
		RoomID    string
	}

	// PublishToUserMsg fans a frame out to every session of a user.
	PublishToUserMsg struct {
		UserID  string
		Payload []byte
	}

	// PublishToRoomMsg fans a frame out to a room, skipping every session
	// that belongs to ExcludeUserID.
	PublishToRoomMsg struct {
		RoomID        string
		ExcludeUserID string
		Payload       []byte
	}

	PublishToSessionMsg struct {
		SessionID string
		Payload   []byte
	}

	ResolveSessionMsg struct {
		SessionID string
	}

	IsOnlineMsg struct {
		UserID string
	}

	GetPresenceStatsMsg struct{}
)

// Responses
type (
	BindResult struct {
		// FirstSession is true when the user had no other live session.
		FirstSession bool
	}

	UnbindResult struct {
		Found  bool
		UserID string
		// LastSession is true when the user has no live session left.
		LastSession bool
	}

	ResolveResult struct {
		UserID string
		Found  bool
	}

	PresenceStats struct {
		Sessions int `json:"sessions"`
		Users    int `json:"users"`
		Rooms    int `json:"rooms"`
	}
)

// PresenceActor owns every session, personal channel and room. All mutation
// happens inside Receive, so no locking is needed.
type PresenceActor struct {
	sessions     map[string]Session             // SessionID -> Session
	userSessions map[string]map[string]Session  // UserID -> SessionID -> Session
	rooms        map[string]map[string]Session  // RoomID -> SessionID -> Session
	sessionRooms map[string]map[string]struct{} // SessionID -> RoomIDs
	logger       zerolog.Logger
}

func NewPresenceActor(logger zerolog.Logger) actor.Actor {
	return &PresenceActor{
		sessions:     make(map[string]Session),
		userSessions: make(map[string]map[string]Session),
		rooms:        make(map[string]map[string]Session),
		sessionRooms: make(map[string]map[string]struct{}),
		logger:       logger.With().Str("component", "presence").Logger(),
	}
}

func (a *PresenceActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *BindSessionMsg:
		context.Respond(a.bind(msg.Session))
	case *UnbindSessionMsg:
		context.Respond(a.unbind(msg.SessionID))
	case *JoinRoomMsg:
		context.Respond(a.join(msg.SessionID, msg.RoomID))
	case *LeaveRoomMsg:
		context.Respond(a.leave(msg.SessionID, msg.RoomID))
	case *PublishToUserMsg:
		context.Respond(a.deliverAll(a.userSessions[msg.UserID], "", msg.Payload))
	case *PublishToRoomMsg:
		context.Respond(a.deliverAll(a.rooms[msg.RoomID], msg.ExcludeUserID, msg.Payload))
	case *PublishToSessionMsg:
		session, ok := a.sessions[msg.SessionID]
		context.Respond(ok && a.deliver(session, msg.Payload))
	case *ResolveSessionMsg:
		session, ok := a.sessions[msg.SessionID]
		if !ok {
			context.Respond(&ResolveResult{})
			return
		}
		context.Respond(&ResolveResult{UserID: session.UserID(), Found: true})
	case *IsOnlineMsg:
		context.Respond(len(a.userSessions[msg.UserID]) > 0)
	case *GetPresenceStatsMsg:
		context.Respond(&PresenceStats{
			Sessions: len(a.sessions),
			Users:    len(a.userSessions),
			Rooms:    len(a.rooms),
		})
	}
}

func (a *PresenceActor) bind(session Session) *BindResult {
	id := session.SessionID()
	if _, exists := a.sessions[id]; exists {
		return &BindResult{}
	}
	a.sessions[id] = session

	userID := session.UserID()
	set, ok := a.userSessions[userID]
	if !ok {
		set = make(map[string]Session)
		a.userSessions[userID] = set
	}
	set[id] = session

	a.logger.Debug().Str("user_id", userID).Str("session_id", id).Int("user_sessions", len(set)).Msg("session bound")
	return &BindResult{FirstSession: len(set) == 1}
}

// unbind drops the session from its personal channel and from every room it
// joined, and nothing else.
func (a *PresenceActor) unbind(sessionID string) *UnbindResult {
	session, ok := a.sessions[sessionID]
	if !ok {
		return &UnbindResult{}
	}
	delete(a.sessions, sessionID)

	for roomID := range a.sessionRooms[sessionID] {
		a.removeFromRoom(sessionID, roomID)
	}
	delete(a.sessionRooms, sessionID)

	userID := session.UserID()
	result := &UnbindResult{Found: true, UserID: userID}
	if set, ok := a.userSessions[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(a.userSessions, userID)
			result.LastSession = true
		}
	}

	a.logger.Debug().Str("user_id", userID).Str("session_id", sessionID).Bool("last_session", result.LastSession).Msg("session unbound")
	return result
}

func (a *PresenceActor) join(sessionID, roomID string) bool {
	session, ok := a.sessions[sessionID]
	if !ok {
		return false
	}
	members, ok := a.rooms[roomID]
	if !ok {
		members = make(map[string]Session)
		a.rooms[roomID] = members
	}
	members[sessionID] = session

	joined, ok := a.sessionRooms[sessionID]
	if !ok {
		joined = make(map[string]struct{})
		a.sessionRooms[sessionID] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

func (a *PresenceActor) leave(sessionID, roomID string) bool {
	joined, ok := a.sessionRooms[sessionID]
	if !ok {
		return false
	}
	if _, ok := joined[roomID]; !ok {
		return false
	}
	delete(joined, roomID)
	if len(joined) == 0 {
		delete(a.sessionRooms, sessionID)
	}
	a.removeFromRoom(sessionID, roomID)
	return true
}

func (a *PresenceActor) removeFromRoom(sessionID, roomID string) {
	members, ok := a.rooms[roomID]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(a.rooms, roomID)
	}
}

func (a *PresenceActor) deliverAll(targets map[string]Session, excludeUserID string, payload []byte) int {
	delivered := 0
	for _, session := range targets {
		if excludeUserID != "" && session.UserID() == excludeUserID {
			continue
		}
		if a.deliver(session, payload) {
			delivered++
		}
	}
	return delivered
}

func (a *PresenceActor) deliver(session Session, payload []byte) bool {
	if session.Deliver(payload) {
		return true
	}
	a.logger.Warn().Str("user_id", session.UserID()).Str("session_id", session.SessionID()).Msg("send buffer full, frame dropped")
	return false
}

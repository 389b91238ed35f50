package websocket

import (
	"context"
	"encoding/json"
	"time"

	"gig-chat/internal/engine/actors"
	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"
)

// PresenceMirror publishes online state outside this process. Optional.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Hub fronts the presence actor. Every registry change and every publish is
// a request to that actor, so sessions, channels and rooms are only ever
// touched from one goroutine.
type Hub struct {
	system  *actor.ActorSystem
	pid     *actor.PID
	timeout time.Duration
	mirror  PresenceMirror
	metrics *utils.MetricsCollector
	logger  zerolog.Logger
}

// NewHub spawns the presence actor. mirror may be nil.
func NewHub(system *actor.ActorSystem, mirror PresenceMirror, metrics *utils.MetricsCollector, logger zerolog.Logger, timeout time.Duration) *Hub {
	logger = logger.With().Str("component", "hub").Logger()
	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewPresenceActor(logger)
	})
	return &Hub{
		system:  system,
		pid:     system.Root.Spawn(props),
		timeout: timeout,
		mirror:  mirror,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *Hub) request(msg interface{}) (interface{}, error) {
	result, err := h.system.Root.RequestFuture(h.pid, msg, h.timeout).Result()
	if err != nil {
		h.logger.Error().Err(err).Msgf("presence request %T failed", msg)
		return nil, utils.NewActorTimeoutError("presence")
	}
	return result, nil
}

// Register binds a session to its user's personal channel.
func (h *Hub) Register(ctx context.Context, session actors.Session) error {
	result, err := h.request(&actors.BindSessionMsg{Session: session})
	if err != nil {
		return err
	}
	h.metrics.SessionOpened()
	if result.(*actors.BindResult).FirstSession {
		h.setOnline(ctx, session.UserID())
	}
	return nil
}

// Unregister removes a session from its personal channel and every room.
func (h *Hub) Unregister(ctx context.Context, sessionID string) {
	result, err := h.request(&actors.UnbindSessionMsg{SessionID: sessionID})
	if err != nil {
		return
	}
	unbound := result.(*actors.UnbindResult)
	if !unbound.Found {
		return
	}
	h.metrics.SessionClosed()
	if unbound.LastSession {
		h.setOffline(ctx, unbound.UserID)
	}
}

// Join adds a bound session to a room. It reports false for unknown sessions.
func (h *Hub) Join(ctx context.Context, sessionID, roomID string) (bool, error) {
	result, err := h.request(&actors.JoinRoomMsg{SessionID: sessionID, RoomID: roomID})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (h *Hub) Leave(ctx context.Context, sessionID, roomID string) (bool, error) {
	result, err := h.request(&actors.LeaveRoomMsg{SessionID: sessionID, RoomID: roomID})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (h *Hub) PublishToUser(ctx context.Context, userID string, evt *models.Event) (int, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0, err
	}
	result, err := h.request(&actors.PublishToUserMsg{UserID: userID, Payload: payload})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (h *Hub) PublishToRoom(ctx context.Context, roomID, excludeUserID string, evt *models.Event) (int, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0, err
	}
	result, err := h.request(&actors.PublishToRoomMsg{RoomID: roomID, ExcludeUserID: excludeUserID, Payload: payload})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (h *Hub) PublishToSession(ctx context.Context, sessionID string, evt *models.Event) (bool, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return false, err
	}
	result, err := h.request(&actors.PublishToSessionMsg{SessionID: sessionID, Payload: payload})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// ResolveSession returns the user bound to sessionID, or "" when the session
// is unknown.
func (h *Hub) ResolveSession(ctx context.Context, sessionID string) (string, error) {
	result, err := h.request(&actors.ResolveSessionMsg{SessionID: sessionID})
	if err != nil {
		return "", err
	}
	return result.(*actors.ResolveResult).UserID, nil
}

// IsOnline checks the local registry first and then the mirror, so users
// connected to another instance count too.
func (h *Hub) IsOnline(ctx context.Context, userID string) (bool, error) {
	result, err := h.request(&actors.IsOnlineMsg{UserID: userID})
	if err != nil {
		return false, err
	}
	if result.(bool) || h.mirror == nil {
		return result.(bool), nil
	}
	online, err := h.mirror.IsOnline(ctx, userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("presence mirror lookup failed")
		return false, nil
	}
	return online, nil
}

func (h *Hub) Stats(ctx context.Context) (*actors.PresenceStats, error) {
	result, err := h.request(&actors.GetPresenceStatsMsg{})
	if err != nil {
		return nil, err
	}
	return result.(*actors.PresenceStats), nil
}

// Touch refreshes the mirrored presence of a connected user.
func (h *Hub) Touch(ctx context.Context, userID string) {
	h.setOnline(ctx, userID)
}

// Shutdown stops the presence actor after it drains its mailbox.
func (h *Hub) Shutdown() {
	if err := h.system.Root.PoisonFuture(h.pid).Wait(); err != nil {
		h.logger.Warn().Err(err).Msg("presence actor did not stop cleanly")
	}
}

func (h *Hub) setOnline(ctx context.Context, userID string) {
	if h.mirror == nil {
		return
	}
	if err := h.mirror.SetOnline(ctx, userID); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to mirror presence")
	}
}

func (h *Hub) setOffline(ctx context.Context, userID string) {
	if h.mirror == nil {
		return
	}
	if err := h.mirror.SetOffline(ctx, userID); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to clear mirrored presence")
	}
}

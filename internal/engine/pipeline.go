package engine

import (
	"context"
	"time"

	"gig-chat/internal/database"
	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/rs/zerolog"
)

// Send paths, used as a metrics label.
const (
	PathRequest = "request"
	PathChannel = "channel"
)

// Delivery is the outcome of a successful send.
type Delivery struct {
	Message *models.Message
	View    *models.MessageView
}

// Pipeline is the single send implementation behind both paths. A message
// is committed before any event leaves, and fan-out failures never undo it.
type Pipeline struct {
	db         database.DBAdapter
	store      *MessageStore
	fanout     Fanout
	limiter    RateLimiter
	rateLimit  int
	rateWindow time.Duration
	metrics    *utils.MetricsCollector
	logger     zerolog.Logger
}

func (p *Pipeline) send(ctx context.Context, path string, params AppendParams) (*Delivery, error) {
	startTime := time.Now()

	if err := p.store.Validate(params); err != nil {
		return nil, err
	}
	counted, err := p.checkRate(ctx, params.SenderID)
	if err != nil {
		return nil, err
	}

	// only committed messages count against the sender
	msg, err := p.store.Append(ctx, params)
	if err != nil {
		if counted {
			p.refundRate(ctx, params.SenderID)
		}
		return nil, err
	}

	users, err := p.db.GetUsers(ctx, []string{msg.SenderID, msg.ReceiverID})
	if err != nil {
		// the message is already committed; fall back to bare ids
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to resolve participants")
		users = map[string]*models.User{}
	}
	view := msg.View(users[msg.SenderID], users[msg.ReceiverID])

	p.publish(ctx, msg.ReceiverID, models.EventNewMessage, view)
	p.publish(ctx, msg.SenderID, models.EventMessageSent, view)

	p.metrics.MessageSent(path)
	p.metrics.AddOperationLatency("send_message", time.Since(startTime))
	p.logger.Debug().
		Str("message_id", msg.ID).
		Str("sender_id", msg.SenderID).
		Str("receiver_id", msg.ReceiverID).
		Str("path", path).
		Msg("message sent")

	return &Delivery{Message: msg, View: view}, nil
}

func (p *Pipeline) publish(ctx context.Context, userID, name string, view *models.MessageView) {
	evt, err := models.NewEvent(name, view)
	if err != nil {
		p.logger.Error().Err(err).Str("event", name).Msg("failed to encode event")
		return
	}
	n, err := p.fanout.PublishToUser(ctx, userID, evt)
	if err != nil {
		p.logger.Warn().Err(err).Str("event", name).Str("user_id", userID).Str("message_id", view.ID).Msg("fan-out failed")
		return
	}
	p.metrics.FanoutDelivered(name, n)
}

func rateKey(userID string) string {
	return "send:" + userID
}

// checkRate fails open: a limiter outage never blocks sending. counted
// reports whether the limiter recorded this send.
func (p *Pipeline) checkRate(ctx context.Context, userID string) (counted bool, err error) {
	if p.limiter == nil || p.rateLimit <= 0 {
		return false, nil
	}
	ok, err := p.limiter.Allow(ctx, rateKey(userID), p.rateLimit, p.rateWindow)
	if err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable")
		return false, nil
	}
	if !ok {
		return true, utils.NewAppError(utils.ErrTooManyRequests, "too many messages, slow down", nil)
	}
	return true, nil
}

func (p *Pipeline) refundRate(ctx context.Context, userID string) {
	if err := p.limiter.Refund(ctx, rateKey(userID), p.rateWindow); err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to refund rate limit")
	}
}

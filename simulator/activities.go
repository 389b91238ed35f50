package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gig-chat/internal/models"

	"github.com/google/uuid"
)

var sampleLines = []string{
	"Hi! Is this job still open?",
	"I can start next week.",
	"What is the budget for this?",
	"Sounds good, thanks!",
	"Could you share more details about the scope?",
	"I've sent over my portfolio.",
	"When would you like to schedule a call?",
}

// SimulateActivities sends messages at the configured rate until ctx ends.
// Each tick picks a connected user, a Zipf-skewed counterpart and a send path.
func (s *ChatSimulator) SimulateActivities(ctx context.Context) {
	if s.config.MessageFrequency <= 0 {
		return
	}
	// MessageFrequency is per user per hour
	perSecond := s.config.MessageFrequency * float64(len(s.users)) / 3600
	interval := time.Duration(float64(time.Second) / perSecond)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sender := s.users[int(s.randFloat()*float64(len(s.users)))%len(s.users)]
			receiver := s.counterpartFor(sender)
			if err := s.converse(ctx, sender, receiver); err != nil {
				s.logger.Debug().Err(err).Str("sender_id", sender.ID).Str("receiver_id", receiver.ID).Msg("simulated send failed")
			}
		}
	}
}

func (s *ChatSimulator) converse(ctx context.Context, sender, receiver *SimulatedUser) error {
	sender.mu.Lock()
	connected := sender.IsConnected
	sender.mu.Unlock()

	content := sampleLines[int(s.randFloat()*float64(len(sampleLines)))%len(sampleLines)]

	if connected && s.randFloat() < s.config.TypingRate {
		if err := s.simulateTyping(sender, receiver); err != nil {
			return err
		}
	}

	if connected && s.randFloat() < s.config.ChannelSendRatio {
		if err := s.sendViaChannel(sender, receiver, content); err != nil {
			return err
		}
	} else if err := s.sendViaRequest(ctx, sender, receiver, content); err != nil {
		return err
	}

	// the receiver sometimes opens the thread, which marks it read
	if s.randFloat() < 0.5 {
		return s.markRead(ctx, receiver, sender)
	}
	return nil
}

func (s *ChatSimulator) simulateTyping(sender, receiver *SimulatedUser) error {
	join := map[string]string{"otherUserId": receiver.ID}
	if err := s.emit(sender, models.EventJoinChat, join); err != nil {
		return err
	}
	for _, typing := range []bool{true, false} {
		if err := s.emit(sender, models.EventTyping, map[string]interface{}{"receiverId": receiver.ID, "isTyping": typing}); err != nil {
			return err
		}
	}
	s.stats.mu.Lock()
	s.stats.TypingSignals += 2
	s.stats.mu.Unlock()
	return nil
}

func (s *ChatSimulator) sendViaChannel(sender, receiver *SimulatedUser, content string) error {
	err := s.emit(sender, models.EventSendMessage, map[string]string{
		"receiverId": receiver.ID,
		"content":    content,
		"clientId":   uuid.NewString(),
	})
	if err != nil {
		return err
	}
	s.stats.mu.Lock()
	s.stats.ChannelSends++
	s.stats.mu.Unlock()
	return nil
}

func (s *ChatSimulator) sendViaRequest(ctx context.Context, sender, receiver *SimulatedUser, content string) error {
	resp, err := s.makeRequest(ctx, sender.Token, "POST", "/api/chat/send", map[string]string{
		"receiverId": receiver.ID,
		"content":    content,
	})
	if err != nil {
		return err
	}
	var msg models.MessageView
	if err := json.Unmarshal(resp, &msg); err != nil {
		return fmt.Errorf("failed to parse send response: %v", err)
	}
	s.stats.mu.Lock()
	s.stats.RequestSends++
	s.stats.mu.Unlock()
	return nil
}

func (s *ChatSimulator) markRead(ctx context.Context, reader, other *SimulatedUser) error {
	resp, err := s.makeRequest(ctx, reader.Token, "PATCH", "/api/chat/mark-read/"+other.ID, nil)
	if err != nil {
		return err
	}
	var result struct {
		Updated int64 `json:"updated"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to parse mark-read response: %v", err)
	}
	s.stats.mu.Lock()
	s.stats.ReadsMarked += result.Updated
	s.stats.mu.Unlock()
	return nil
}

// Package chat keeps the room's ephemeral text log in step with the relay.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Synchronizer appends sent messages locally and received messages as they
// arrive. The relay echoes every message back to its sender; the echo is
// dropped so each message shows up exactly once.
type Synchronizer struct {
	onMessage func(domain.ChatMessage)
	now       func() time.Time

	mu       sync.Mutex
	channel  core.SignalingChannel
	room     domain.RoomID
	self     domain.Participant
	bound    bool
	messages []domain.ChatMessage
}

// New returns a synchronizer emitting on channel. onMessage may be nil.
func New(channel core.SignalingChannel, onMessage func(domain.ChatMessage)) *Synchronizer {
	return &Synchronizer{
		onMessage: onMessage,
		now:       time.Now,
		channel:   channel,
	}
}

// Bind starts a fresh log for room.
func (s *Synchronizer) Bind(room domain.RoomID, self domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	s.self = self
	s.bound = true
	s.messages = nil
}

// Rebind switches to a new channel after the relay connection was
// re-established. The log is kept.
func (s *Synchronizer) Rebind(channel core.SignalingChannel, self domain.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = channel
	s.self.PeerID = self
}

// Send emits text to the room and appends it to the local log.
func (s *Synchronizer) Send(ctx context.Context, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.ErrChatEmpty
	}
	if len(text) > domain.MaxChatTextLen {
		return domain.ChatMessage{}, domain.ErrChatTooLong
	}

	s.mu.Lock()
	if !s.bound {
		s.mu.Unlock()
		return domain.ChatMessage{}, domain.ErrNotJoined
	}
	room, self, channel := s.room, s.self, s.channel
	s.mu.Unlock()

	payload := protocol.Chat{
		ID:        uuid.NewString(),
		Sender:    self,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
	msg, err := protocol.New(protocol.TypeChatSend, room, self.PeerID, "", payload)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if err := channel.Emit(ctx, msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: chat: %v", domain.ErrSignalingDisconnected, err)
	}

	entry := domain.ChatMessage{
		ID:            payload.ID,
		SenderID:      self.ID,
		SenderDisplay: self.Name,
		Text:          text,
		Timestamp:     payload.Timestamp,
		Direction:     domain.DirectionSent,
	}
	s.append(entry)
	return entry, nil
}

// OnIncoming appends a chat-message frame from the relay. It reports false
// when the frame is our own echo.
func (s *Synchronizer) OnIncoming(msg protocol.Message) (domain.ChatMessage, bool, error) {
	var p protocol.Chat
	if err := msg.Decode(&p); err != nil {
		return domain.ChatMessage{}, false, err
	}

	s.mu.Lock()
	bound, self := s.bound, s.self
	s.mu.Unlock()
	if !bound {
		return domain.ChatMessage{}, false, domain.ErrNotJoined
	}
	if s.isSelf(self, p.Sender, msg.From) {
		log.Debug().Str("module", "chat").Str("id", p.ID).Msg("own echo dropped")
		return domain.ChatMessage{}, false, nil
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	entry := domain.ChatMessage{
		ID:            p.ID,
		SenderID:      p.Sender.ID,
		SenderDisplay: p.Sender.Name,
		Text:          p.Text,
		Timestamp:     ts,
		Direction:     domain.DirectionReceived,
	}
	s.append(entry)
	return entry, true, nil
}

func (s *Synchronizer) isSelf(self, sender domain.Participant, from domain.PeerID) bool {
	if self.ID != "" && sender.ID == self.ID {
		return true
	}
	return from != "" && from == self.PeerID
}

func (s *Synchronizer) append(m domain.ChatMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	if s.onMessage != nil {
		s.onMessage(m)
	}
}

// Messages returns the log in arrival order.
func (s *Synchronizer) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.messages...)
}

// Last returns the newest message, if any.
func (s *Synchronizer) Last() (domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return domain.ChatMessage{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Clear drops the log; called when the local client leaves the room.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.bound = false
}

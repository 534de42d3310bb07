// Package relay is the room-scoped signaling relay. It keeps no media: it
// tracks who is in which room, forwards offers, answers and ICE between two
// named members, and fans chat and captions out to the whole room.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/observability"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidRoom  = errors.New("invalid room id")
	ErrRateLimited  = errors.New("rate limited")
	ErrEmptyPayload = errors.New("empty payload")
)

type Hub struct {
	Registry *Registry
	Rooms    *Rooms
	Policy   Policy
	Limiter  *RateLimiter
	// Grace keeps a disconnected member in its room for this long. A client
	// that reconnects with the same peer id in time resumes its membership
	// and gets the frames it missed. Zero leaves the room at once.
	Grace time.Duration
	// ParkLimit caps the frames held for a member within its grace period.
	ParkLimit int

	now func() time.Time
}

func NewHub(limiter *RateLimiter) *Hub {
	return &Hub{
		Registry: NewRegistry(),
		Rooms:    NewRooms(),
		Policy:   SimplePolicy{},
		Limiter:  limiter,
		now:      time.Now,
	}
}

// Connect registers a new client connection. A stale or parked connection
// with the same peer id hands its room membership over and is canceled.
func (h *Hub) Connect(peer domain.PeerID, identity domain.ParticipantID, conn Conn, cancel context.CancelFunc) {
	prev, prevCancel, roomID := h.Registry.Bind(peer, identity, conn, cancel)
	if roomID != "" {
		if room, ok := h.Rooms.Get(roomID); ok && room.ReplaceConn(peer, nil, conn) {
			log.Info().Str("module", "relay").Str("peer", string(peer)).Str("room", string(roomID)).Msg("membership resumed")
		}
	}
	if parked, ok := prev.(*parkedConn); ok {
		parked.Close()
		return
	}
	if prevCancel != nil {
		prevCancel()
	}
}

// Disconnect is called by the adapter once conn's pumps have exited. With a
// grace period a joined member is parked instead of leaving.
func (h *Hub) Disconnect(peer domain.PeerID, conn Conn) {
	if h.Grace > 0 && h.park(peer, conn) {
		return
	}
	roomID, ok := h.Registry.Unbind(peer, conn)
	if !ok {
		return
	}
	if roomID != "" {
		h.leaveRoom(peer, roomID, conn)
	}
	h.Limiter.Forget(peer)
}

func (h *Hub) park(peer domain.PeerID, conn Conn) bool {
	parked := newParkedConn(h.ParkLimit)
	expire := func() { h.expire(peer, parked) }
	roomID, ok := h.Registry.Park(peer, conn, parked, expire)
	if !ok {
		return false
	}
	room, ok := h.Rooms.Get(roomID)
	if !ok || !room.ReplaceConn(peer, conn, parked) {
		if roomID, ok := h.Registry.Unbind(peer, parked); ok {
			h.leaveRoom(peer, roomID, nil)
		}
		h.Limiter.Forget(peer)
		return true
	}
	parked.arm(h.Grace, expire)
	log.Info().Str("module", "relay").Str("peer", string(peer)).Str("room", string(roomID)).Dur("grace", h.Grace).Msg("member parked")
	return true
}

// expire ends a park that was not resumed in time. The member leaves its
// room as if it had disconnected then.
func (h *Hub) expire(peer domain.PeerID, parked *parkedConn) {
	roomID, ok := h.Registry.Unbind(peer, parked)
	if !ok {
		return
	}
	missed := parked.held()
	parked.Close()
	log.Info().Str("module", "relay").Str("peer", string(peer)).Str("room", string(roomID)).Int("missed", missed).Msg("reconnect grace expired")
	if roomID != "" {
		h.leaveRoom(peer, roomID, parked)
	}
	h.Limiter.Forget(peer)
}

// Handle processes one frame received from peer.
func (h *Hub) Handle(peer domain.PeerID, msg protocol.Message) {
	observability.RelayFrames.WithLabelValues(frameLabel(msg.Type)).Inc()
	msg.From = peer

	var err error
	switch msg.Type {
	case protocol.TypeJoinRoom:
		err = h.join(peer, msg)
	case protocol.TypeLeaveRoom:
		h.leave(peer)
	case protocol.TypeSendingSignal:
		err = h.forwardOffer(peer, msg)
	case protocol.TypeReturningSignal:
		err = h.forward(peer, msg, protocol.TypeSignalAnswer)
	case protocol.TypeIceFragment:
		err = h.forward(peer, msg, protocol.TypeIceFragment)
	case protocol.TypeChatSend:
		err = h.chat(peer, msg)
	case protocol.TypeTranscriptFragment:
		err = h.transcript(peer, msg)
	case protocol.TypeMediaState:
		err = h.mediaState(peer, msg)
	case protocol.TypePing:
		h.reply(peer, protocol.Message{Type: protocol.TypePong})
	default:
		err = errors.New("unknown type " + string(msg.Type))
	}
	if err != nil {
		log.Debug().Str("module", "relay").Str("peer", string(peer)).Str("type", string(msg.Type)).Err(err).Msg("frame rejected")
		h.reply(peer, protocol.Errorf("%s: %v", msg.Type, err))
	}
}

// frameLabel bounds the metric label to the types clients may send.
func frameLabel(t protocol.Type) string {
	switch t {
	case protocol.TypeJoinRoom, protocol.TypeLeaveRoom, protocol.TypeSendingSignal,
		protocol.TypeReturningSignal, protocol.TypeIceFragment, protocol.TypeChatSend,
		protocol.TypeTranscriptFragment, protocol.TypeMediaState, protocol.TypePing:
		return string(t)
	}
	return "unknown"
}

// reply sends msg straight to peer's connection, joined or not.
func (h *Hub) reply(peer domain.PeerID, msg protocol.Message) {
	conn, ok := h.Registry.Conn(peer)
	if !ok {
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Str("module", "relay").Err(err).Msg("marshal reply")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		observability.RelayDropped.Inc()
		log.Warn().Str("module", "relay").Str("peer", string(peer)).Err(err).Msg("reply dropped")
		h.Registry.Cancel(peer)
	}
}

// publish fans msg out to room, skipping skip, and applies the policy to
// members whose queues are full.
func (h *Hub) publish(room *Room, skip domain.PeerID, msg protocol.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Str("module", "relay").Err(err).Msg("marshal broadcast")
		return
	}
	res := room.Broadcast(skip, frame)
	for _, slow := range res.Dropped {
		h.onBackpressure(room, slow)
	}
}

func (h *Hub) sendTo(room *Room, target domain.PeerID, msg protocol.Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := room.SendTo(target, frame); err != nil {
		if errors.Is(err, ErrBackpressure) {
			h.onBackpressure(room, target)
			return nil
		}
		return err
	}
	return nil
}

func (h *Hub) onBackpressure(room *Room, peer domain.PeerID) {
	observability.RelayDropped.Inc()
	if h.Policy == nil {
		return
	}
	switch h.Policy.OnBackPressure(room, peer) {
	case KickMember:
		log.Warn().Str("module", "relay").Str("room", string(room.ID())).Str("peer", string(peer)).Msg("kicking slow member")
		h.Registry.Cancel(peer)
	case DropFrame, NoAction:
	}
}

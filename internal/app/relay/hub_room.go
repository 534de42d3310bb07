package relay

import (
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/observability"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (h *Hub) join(peer domain.PeerID, msg protocol.Message) error {
	if msg.Room == "" || len(msg.Room) > domain.MaxRoomIDLen {
		return ErrInvalidRoom
	}
	var req protocol.JoinRoom
	if err := msg.Decode(&req); err != nil {
		return err
	}
	conn, ok := h.Registry.Conn(peer)
	if !ok {
		return domain.ErrUnknownPeer
	}
	id := req.Participant.ID
	if id == "" {
		id = h.Registry.Identity(peer)
	}
	p, err := domain.NewParticipant(id, peer, req.Participant.Name, req.Participant.Avatar)
	if err != nil {
		return err
	}
	p.MicOn, p.VideoOn = req.Participant.MicOn, req.Participant.VideoOn

	if current, _, joined := h.Registry.RoomOf(peer); joined && current != msg.Room {
		h.leave(peer)
	}
	room, existing, resumed := h.Rooms.Join(msg.Room, *p, conn)
	h.Registry.SetRoom(peer, msg.Room, *p)
	if !resumed {
		observability.RelayMembers.Inc()
	}
	log.Info().Str("module", "relay").Str("peer", string(peer)).Str("room", string(msg.Room)).Int("existing", len(existing)).Bool("resumed", resumed).Msg("joined room")

	snapshot, err := protocol.New(protocol.TypeRosterSnapshot, msg.Room, "", peer, protocol.RosterSnapshot{Participants: existing, Resumed: resumed})
	if err != nil {
		return err
	}
	if err := h.sendTo(room, peer, snapshot); err != nil {
		return err
	}
	if resumed {
		// Media state may have changed while the member was away.
		if updated, err := protocol.New(protocol.TypeParticipantUpdated, msg.Room, peer, "", protocol.ParticipantUpdated{Participant: *p}); err == nil {
			h.publish(room, peer, updated)
		}
	}
	if lines := room.Transcripts(); len(lines) > 0 {
		captions, err := protocol.New(protocol.TypeCaptionSnapshot, msg.Room, "", peer, protocol.CaptionSnapshot{Fragments: lines})
		if err != nil {
			return err
		}
		return h.sendTo(room, peer, captions)
	}
	return nil
}

// leave takes peer out of its room at its own request.
func (h *Hub) leave(peer domain.PeerID) {
	roomID, _, ok := h.Registry.RoomOf(peer)
	if !ok {
		return
	}
	h.Registry.ClearRoom(peer)
	h.leaveRoom(peer, roomID, nil)
}

// leaveRoom removes peer from roomID if conn is its connection (nil matches
// any) and tells the rest of the room.
func (h *Hub) leaveRoom(peer domain.PeerID, roomID domain.RoomID, conn Conn) {
	room, _, ok := h.Rooms.Leave(roomID, peer, conn)
	if !ok {
		return
	}
	observability.RelayMembers.Dec()
	log.Info().Str("module", "relay").Str("peer", string(peer)).Str("room", string(roomID)).Msg("left room")

	left, err := protocol.New(protocol.TypePeerLeft, roomID, peer, "", protocol.PeerLeft{PeerID: peer})
	if err == nil {
		h.publish(room, peer, left)
	}
}

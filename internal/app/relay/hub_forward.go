package relay

import (
	"strings"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/google/uuid"
)

// target resolves the room both peer and msg.To are in.
func (h *Hub) target(peer domain.PeerID, msg protocol.Message) (*Room, domain.Participant, error) {
	roomID, p, ok := h.Registry.RoomOf(peer)
	if !ok {
		return nil, domain.Participant{}, domain.ErrNotJoined
	}
	room, ok := h.Rooms.Get(roomID)
	if !ok || msg.To == "" || msg.To == peer || !room.Has(msg.To) {
		return nil, domain.Participant{}, domain.ErrUnknownPeer
	}
	return room, p, nil
}

// forwardOffer relays an initiator's offer as peer-joined, stamped with the
// sender's roster entry so the callee learns who is calling.
func (h *Hub) forwardOffer(peer domain.PeerID, msg protocol.Message) error {
	room, p, err := h.target(peer, msg)
	if err != nil {
		return err
	}
	var sig protocol.Signal
	if err := msg.Decode(&sig); err != nil {
		return err
	}
	sig.Participant = &p
	out, err := protocol.New(protocol.TypePeerJoined, room.ID(), peer, msg.To, sig)
	if err != nil {
		return err
	}
	return h.sendTo(room, msg.To, out)
}

func (h *Hub) forward(peer domain.PeerID, msg protocol.Message, as protocol.Type) error {
	room, _, err := h.target(peer, msg)
	if err != nil {
		return err
	}
	if len(msg.Payload) == 0 {
		return ErrEmptyPayload
	}
	out := protocol.Message{Type: as, Room: room.ID(), From: peer, To: msg.To, Payload: msg.Payload}
	return h.sendTo(room, msg.To, out)
}

// joined returns peer's room and roster entry.
func (h *Hub) joined(peer domain.PeerID) (*Room, domain.Participant, error) {
	roomID, p, ok := h.Registry.RoomOf(peer)
	if !ok {
		return nil, domain.Participant{}, domain.ErrNotJoined
	}
	room, ok := h.Rooms.Get(roomID)
	if !ok {
		return nil, domain.Participant{}, domain.ErrNotJoined
	}
	return room, p, nil
}

// chat echoes the message to every member, the sender included.
func (h *Hub) chat(peer domain.PeerID, msg protocol.Message) error {
	room, p, err := h.joined(peer)
	if err != nil {
		return err
	}
	var c protocol.Chat
	if err := msg.Decode(&c); err != nil {
		return err
	}
	c.Text = strings.TrimSpace(c.Text)
	switch {
	case c.Text == "":
		return domain.ErrChatEmpty
	case len(c.Text) > domain.MaxChatTextLen:
		return domain.ErrChatTooLong
	}
	if !h.Limiter.Allow(peer) {
		return ErrRateLimited
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = h.now().UTC()
	}
	c.Sender = p
	out, err := protocol.New(protocol.TypeChatMessage, room.ID(), peer, "", c)
	if err != nil {
		return err
	}
	h.publish(room, "", out)
	return nil
}

// transcript stores the speaker's latest line and sends the whole room its
// current caption list.
func (h *Hub) transcript(peer domain.PeerID, msg protocol.Message) error {
	room, p, err := h.joined(peer)
	if err != nil {
		return err
	}
	var f domain.TranscriptFragment
	if err := msg.Decode(&f); err != nil {
		return err
	}
	f.ParticipantID = p.ID
	f.Username = p.Name
	if f.Timestamp.IsZero() {
		f.Timestamp = h.now().UTC()
	}
	out, err := protocol.New(protocol.TypeCaptionSnapshot, room.ID(), peer, "", protocol.CaptionSnapshot{
		Fragments: room.AddTranscript(f),
	})
	if err != nil {
		return err
	}
	h.publish(room, "", out)
	return nil
}

func (h *Hub) mediaState(peer domain.PeerID, msg protocol.Message) error {
	room, _, err := h.joined(peer)
	if err != nil {
		return err
	}
	var st protocol.MediaState
	if err := msg.Decode(&st); err != nil {
		return err
	}
	p, ok := h.Registry.UpdateParticipant(peer, func(p *domain.Participant) {
		p.MicOn, p.VideoOn = st.MicOn, st.VideoOn
	})
	if !ok {
		return domain.ErrNotJoined
	}
	room.UpdateMember(p)
	out, err := protocol.New(protocol.TypeParticipantUpdated, room.ID(), peer, "", protocol.ParticipantUpdated{Participant: p})
	if err != nil {
		return err
	}
	h.publish(room, peer, out)
	return nil
}

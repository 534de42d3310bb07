// Package protocol defines the JSON frames exchanged between clients and the
// relay. Every frame is an envelope with a type discriminator; the payload
// shape depends on the type.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeJoinRoom           Type = "join-room"
	TypeLeaveRoom          Type = "leave-room"
	TypeRosterSnapshot     Type = "roster-snapshot"
	TypeSendingSignal      Type = "sending-signal"
	TypePeerJoined         Type = "peer-joined"
	TypeReturningSignal    Type = "returning-signal"
	TypeSignalAnswer       Type = "signal-answer"
	TypeIceFragment        Type = "ice-fragment"
	TypePeerLeft           Type = "peer-left"
	TypeChatSend           Type = "chat-send"
	TypeChatMessage        Type = "chat-message"
	TypeTranscriptFragment Type = "transcript-fragment"
	TypeCaptionSnapshot    Type = "caption-snapshot"
	TypeMediaState         Type = "media-state"
	TypeParticipantUpdated Type = "participant-updated"
	TypePing               Type = "ping"
	TypePong               Type = "pong"
	TypeError              Type = "error"
)

// Message is the envelope of every frame on the wire.
type Message struct {
	Type    Type            `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	From    domain.PeerID   `json:"from,omitempty"`
	To      domain.PeerID   `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type JoinRoom struct {
	Participant domain.Participant `json:"participant"`
}

type RosterSnapshot struct {
	Participants []domain.Participant `json:"participants"`
	// Resumed is set when the relay kept the member's place across a
	// reconnect, so the peers still hold their links to it.
	Resumed bool `json:"resumed,omitempty"`
}

// Signal carries a session description from one peer to another. It is used
// by sending-signal/peer-joined (offer) and returning-signal/signal-answer
// (answer).
type Signal struct {
	Signal      webrtc.SessionDescription `json:"signal"`
	Participant *domain.Participant       `json:"participant,omitempty"`
}

type IceFragment struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type PeerLeft struct {
	PeerID domain.PeerID `json:"peerId"`
}

type Chat struct {
	ID        string             `json:"id"`
	Sender    domain.Participant `json:"sender"`
	Text      string             `json:"text"`
	Timestamp time.Time          `json:"timestamp"`
}

type CaptionSnapshot struct {
	Fragments []domain.TranscriptFragment `json:"fragments"`
}

type MediaState struct {
	MicOn   bool `json:"micOn"`
	VideoOn bool `json:"videoOn"`
}

type ParticipantUpdated struct {
	Participant domain.Participant `json:"participant"`
}

// New builds an envelope with v marshalled as its payload. A nil v yields an
// envelope without payload.
func New(t Type, room domain.RoomID, from, to domain.PeerID, v any) (Message, error) {
	msg := Message{Type: t, Room: room, From: from, To: to}
	if v == nil {
		return msg, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload of m into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: bad payload: %w", m.Type, err)
	}
	return nil
}

// Errorf builds an error frame, the way the relay reports bad requests.
func Errorf(format string, args ...any) Message {
	return Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxPeerIDLen      = 36
	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrPeerIDInvalid      = errors.New("peer id invalid")
)

type (
	// PeerID is the transport identifier of a connected client.
	PeerID string
	// ParticipantID is the identity-provider id of a user.
	ParticipantID string
)

// Participant is one member of a room as seen by every other member.
type Participant struct {
	ID      ParticipantID `json:"id"`
	PeerID  PeerID        `json:"peerId"`
	Name    string        `json:"name"`
	Avatar  string        `json:"avatar,omitempty"`
	MicOn   bool          `json:"micOn"`
	VideoOn bool          `json:"videoOn"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
// Media flags start enabled, matching a freshly acquired camera and mic.
func NewParticipant(id ParticipantID, peer PeerID, name, avatar string) (*Participant, error) {
	if err := ValidatePeerID(peer); err != nil {
		return nil, err
	}
	p := &Participant{ID: id, PeerID: peer, Avatar: avatar, MicOn: true, VideoOn: true}
	if err := p.SetName(name); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = ParticipantID(peer)
	}
	return p, nil
}

func (p *Participant) SetName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	p.Name = name
	return nil
}

// CaptionKey is the key a participant's transcript fragments are merged under.
func (p Participant) CaptionKey() string {
	if p.ID != "" {
		return string(p.ID)
	}
	return p.Name
}

func ValidatePeerID(id PeerID) error {
	if id == "" || len(id) > MaxPeerIDLen {
		return ErrPeerIDInvalid
	}
	return nil
}

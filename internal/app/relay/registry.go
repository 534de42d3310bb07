package relay

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Conn is the relay's handle on one client connection. TrySend never
// blocks; a full queue is reported as ErrBackpressure.
type Conn interface {
	TrySend(frame []byte) error
	Close()
}

type sessionEntry struct {
	Identity    domain.ParticipantID
	Room        domain.RoomID
	Participant domain.Participant
	Conn        Conn
	Cancel      context.CancelFunc
}

// Registry maps every connected peer to its connection and current room.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.PeerID]*sessionEntry)}
}

// Bind registers a fresh connection. A previous connection with the same
// peer id is returned so the caller can cancel it; its room membership
// carries over to conn.
func (r *Registry) Bind(peer domain.PeerID, identity domain.ParticipantID, conn Conn, cancel context.CancelFunc) (prev Conn, prevCancel context.CancelFunc, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &sessionEntry{Identity: identity, Conn: conn, Cancel: cancel}
	if old, ok := r.sessions[peer]; ok {
		prev, prevCancel = old.Conn, old.Cancel
		e.Room, e.Participant = old.Room, old.Participant
	}
	r.sessions[peer] = e
	log.Info().Str("module", "relay.registry").Str("peer", string(peer)).Str("room", string(e.Room)).Msg("bound connection")
	return prev, prevCancel, e.Room
}

// Park swaps conn for a stand-in while peer may still reconnect. It only
// applies to a joined peer whose bound connection is conn.
func (r *Registry) Park(peer domain.PeerID, conn, parked Conn, cancel context.CancelFunc) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[peer]
	if !ok || e.Conn != conn || e.Room == "" {
		return "", false
	}
	e.Conn, e.Cancel = parked, cancel
	log.Info().Str("module", "relay.registry").Str("peer", string(peer)).Str("room", string(e.Room)).Msg("parked connection")
	return e.Room, true
}

func (r *Registry) Conn(peer domain.PeerID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[peer]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind forgets peer, but only if conn is still the bound connection. It
// returns the room peer was in.
func (r *Registry) Unbind(peer domain.PeerID, conn Conn) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[peer]
	if !ok || e.Conn != conn {
		return "", false
	}
	delete(r.sessions, peer)
	log.Info().Str("module", "relay.registry").Str("peer", string(peer)).Msg("unbind connection")
	return e.Room, true
}

// Identity is the participant id the connection authenticated with, if any.
func (r *Registry) Identity(peer domain.PeerID) domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[peer]; ok {
		return e.Identity
	}
	return ""
}

func (r *Registry) RoomOf(peer domain.PeerID) (domain.RoomID, domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[peer]
	if !ok || e.Room == "" {
		return "", domain.Participant{}, false
	}
	return e.Room, e.Participant, true
}

func (r *Registry) SetRoom(peer domain.PeerID, room domain.RoomID, p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[peer]
	if !ok {
		return false
	}
	e.Room = room
	e.Participant = p
	log.Info().Str("module", "relay.registry").Str("peer", string(peer)).Str("room", string(room)).Msg("updated room")
	return true
}

func (r *Registry) UpdateParticipant(peer domain.PeerID, fn func(*domain.Participant)) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[peer]
	if !ok || e.Room == "" {
		return domain.Participant{}, false
	}
	fn(&e.Participant)
	return e.Participant, true
}

func (r *Registry) ClearRoom(peer domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[peer]; ok {
		e.Room = ""
	}
}

// Cancel stops the pumps of peer's connection.
func (r *Registry) Cancel(peer domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.sessions[peer]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "relay.registry").Str("peer", string(peer)).Msg("canceled connection")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

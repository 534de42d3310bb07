package relay

import (
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/observability"
	"github.com/rs/zerolog/log"
)

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"members"`
}

// Rooms creates rooms on first join and drops them once empty.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomID]*Room)}
}

// Join adds p to room id, creating the room on first join. The lookup and
// the insert share one lock with Leave, so a join never lands in a room that
// is being dropped.
func (f *Rooms) Join(id domain.RoomID, p domain.Participant, conn Conn) (room *Room, existing []domain.Participant, resumed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		room = newRoom(id)
		f.rooms[id] = room
		observability.RelayRooms.Set(float64(len(f.rooms)))
	}
	existing, resumed = room.AddMember(p, conn)
	return room, existing, resumed
}

func (f *Rooms) Get(id domain.RoomID) (*Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// Leave removes peer from room id if conn is its connection (nil matches
// any), drops its caption line and removes the room once empty.
func (f *Rooms) Leave(id domain.RoomID, peer domain.PeerID, conn Conn) (*Room, domain.Participant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, domain.Participant{}, false
	}
	p, ok := room.RemoveMember(peer, conn)
	if !ok {
		return nil, domain.Participant{}, false
	}
	room.DropTranscript(p.CaptionKey())
	if room.MemberCount() == 0 {
		delete(f.rooms, id)
		observability.RelayRooms.Set(float64(len(f.rooms)))
		log.Info().Str("module", "relay").Str("room", string(id)).Msg("room closed")
	}
	return room, p, true
}

func (f *Rooms) List() []RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}

package relay

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type member struct {
	participant domain.Participant
	conn        Conn
	seq         uint64
}

// PublishResult reports who a frame reached.
type PublishResult struct {
	SendTo  int
	Dropped []domain.PeerID
}

// Room is a threadsafe in-memory room. It never closes connections; that is
// the adapter's job.
type Room struct {
	id domain.RoomID

	mu          sync.RWMutex
	seq         uint64
	members     map[domain.PeerID]*member
	transcripts map[string]domain.TranscriptFragment
}

func newRoom(id domain.RoomID) *Room {
	return &Room{
		id:          id,
		members:     make(map[domain.PeerID]*member),
		transcripts: make(map[string]domain.TranscriptFragment),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// AddMember adds p and returns everyone else present, in join order. A peer
// that is already a member keeps its place and takes the new conn; resumed
// reports that case.
func (r *Room) AddMember(p domain.Participant, conn Conn) (existing []domain.Participant, resumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing = r.snapshotLocked(p.PeerID)
	if m, ok := r.members[p.PeerID]; ok {
		m.participant = p
		r.swapLocked(m, conn)
		log.Info().Str("module", "relay.room").Str("room", string(r.id)).Str("peer", string(p.PeerID)).Msg("member resumed")
		return existing, true
	}
	r.seq++
	r.members[p.PeerID] = &member{participant: p, conn: conn, seq: r.seq}
	log.Info().Str("module", "relay.room").Str("room", string(r.id)).Str("peer", string(p.PeerID)).Int("members", len(r.members)).Msg("member added")
	return existing, false
}

// RemoveMember removes peer if conn is its connection. A nil conn matches any.
func (r *Room) RemoveMember(peer domain.PeerID, conn Conn) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[peer]
	if !ok || (conn != nil && m.conn != conn) {
		return domain.Participant{}, false
	}
	delete(r.members, peer)
	log.Info().Str("module", "relay.room").Str("room", string(r.id)).Str("peer", string(peer)).Msg("member removed")
	return m.participant, true
}

// ReplaceConn points peer's membership at conn, if old is its connection (nil
// matches any). Frames held for a parked member go out on conn first.
func (r *Room) ReplaceConn(peer domain.PeerID, old, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[peer]
	if !ok || (old != nil && m.conn != old) {
		return false
	}
	r.swapLocked(m, conn)
	return true
}

func (r *Room) swapLocked(m *member, conn Conn) {
	prev := m.conn
	m.conn = conn
	parked, ok := prev.(*parkedConn)
	if !ok || prev == conn {
		return
	}
	frames := parked.drain()
	for _, frame := range frames {
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Str("module", "relay.room").Str("room", string(r.id)).Str("peer", string(m.participant.PeerID)).Err(err).Msg("held frames dropped")
			return
		}
	}
	if len(frames) > 0 {
		log.Debug().Str("module", "relay.room").Str("room", string(r.id)).Str("peer", string(m.participant.PeerID)).Int("frames", len(frames)).Msg("held frames delivered")
	}
}

func (r *Room) UpdateMember(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[p.PeerID]
	if !ok {
		return false
	}
	m.participant = p
	return true
}

func (r *Room) Has(peer domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[peer]
	return ok
}

// Broadcast sends frame to every member except skip. An empty skip reaches
// everyone.
func (r *Room) Broadcast(skip domain.PeerID, frame []byte) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for peer, m := range r.members {
		if peer == skip {
			continue
		}
		if err := m.conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, peer)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "relay.room").Str("room", string(r.id)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers frame to a single member.
func (r *Room) SendTo(peer domain.PeerID, frame []byte) error {
	r.mu.RLock()
	m, ok := r.members[peer]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrUnknownPeer
	}
	return m.conn.TrySend(frame)
}

func (r *Room) MembersSnapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked("")
}

func (r *Room) snapshotLocked(skip domain.PeerID) []domain.Participant {
	ms := make([]*member, 0, len(r.members))
	for peer, m := range r.members {
		if peer != skip {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
	out := make([]domain.Participant, len(ms))
	for i, m := range ms {
		out[i] = m.participant
	}
	return out
}

// AddTranscript stores f as the latest line of its speaker and returns the
// room's transcript list.
func (r *Room) AddTranscript(f domain.TranscriptFragment) []domain.TranscriptFragment {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts[f.Key()] = f
	return r.transcriptsLocked()
}

func (r *Room) DropTranscript(key string) {
	r.mu.Lock()
	delete(r.transcripts, key)
	r.mu.Unlock()
}

func (r *Room) Transcripts() []domain.TranscriptFragment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transcriptsLocked()
}

func (r *Room) transcriptsLocked() []domain.TranscriptFragment {
	out := make([]domain.TranscriptFragment, 0, len(r.transcripts))
	for _, f := range r.transcripts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

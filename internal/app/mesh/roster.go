package mesh

import (
	"sort"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/samber/lo"
)

// Roster is the authoritative participant table of a room. Every mutation is
// a single critical section, so concurrent join and leave notifications
// cannot lose an add or a remove.
type Roster struct {
	mu     sync.RWMutex
	byPeer map[domain.PeerID]domain.Participant
}

func NewRoster() *Roster {
	return &Roster{byPeer: make(map[domain.PeerID]domain.Participant)}
}

// Upsert adds p or replaces the entry with the same peer id. It reports
// whether p was new.
func (r *Roster) Upsert(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.byPeer[p.PeerID]
	r.byPeer[p.PeerID] = p
	return !existed
}

// Update replaces a known participant; unknown ones are ignored.
func (r *Roster) Update(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPeer[p.PeerID]; !ok {
		return false
	}
	r.byPeer[p.PeerID] = p
	return true
}

func (r *Roster) Remove(id domain.PeerID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byPeer[id]
	delete(r.byPeer, id)
	return p, ok
}

func (r *Roster) Get(id domain.PeerID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byPeer[id]
	return p, ok
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPeer)
}

// Snapshot returns a copy ordered by peer id.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	out := lo.Values(r.byPeer)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Clear empties the table and returns what it held.
func (r *Roster) Clear() []domain.Participant {
	r.mu.Lock()
	out := lo.Values(r.byPeer)
	r.byPeer = make(map[domain.PeerID]domain.Participant)
	r.mu.Unlock()
	return out
}

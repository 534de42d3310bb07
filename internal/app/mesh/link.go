package mesh

import (
	"errors"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/observability"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Role int

const (
	Initiator Role = iota
	Answerer
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "answerer"
}

type State int

const (
	Idle State = iota
	Negotiating
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	default:
		return "closed"
	}
}

var errBadTransition = errors.New("invalid link transition")

// PeerLink owns one peer connection: Idle → Negotiating → Connected → Closed.
// Closed is terminal; a peer that comes back gets a new link with a new id.
type PeerLink struct {
	id   string
	peer domain.PeerID
	role Role
	pc   core.PeerConnection
	log  zerolog.Logger

	mu        sync.Mutex
	state     State
	localSet  bool
	answered  bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	remote    core.RemoteStream
	released  bool
}

func newPeerLink(peer domain.PeerID, role Role, pc core.PeerConnection) *PeerLink {
	id := uuid.NewString()
	observability.LinksOpen.Inc()
	return &PeerLink{
		id:   id,
		peer: peer,
		role: role,
		pc:   pc,
		log: log.With().
			Str("module", "mesh.link").
			Str("peer", string(peer)).
			Str("link", id).
			Str("role", role.String()).
			Logger(),
	}
}

func (l *PeerLink) ID() string          { return l.id }
func (l *PeerLink) Peer() domain.PeerID { return l.peer }
func (l *PeerLink) Role() Role          { return l.role }

func (l *PeerLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Remote returns the remote stream once the link is Connected.
func (l *PeerLink) Remote() (core.RemoteStream, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connected {
		return nil, false
	}
	return l.remote, l.remote != nil
}

func (l *PeerLink) transition(to State) {
	l.log.Info().Str("from", l.state.String()).Str("to", to.String()).Msg("link state")
	observability.LinkTransitions.WithLabelValues(l.role.String(), to.String()).Inc()
	l.state = to
}

// begin enters Negotiating. Only valid from Idle.
func (l *PeerLink) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Idle {
		return errBadTransition
	}
	l.transition(Negotiating)
	return nil
}

// connected enters Connected on the first usable remote media. It reports
// whether this call made the transition.
func (l *PeerLink) connected(rs core.RemoteStream) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Negotiating {
		return false
	}
	l.remote = rs
	l.transition(Connected)
	return true
}

// localApplied records that the local description is set, so an answer can
// be accepted.
func (l *PeerLink) localApplied() {
	l.mu.Lock()
	l.localSet = true
	l.mu.Unlock()
}

// remoteApplied records that the remote description is set and flushes the
// candidates buffered until then.
func (l *PeerLink) remoteApplied() {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return
	}
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
}

// applyAnswer applies the remote answer to an initiator link that has sent
// its offer and not yet received an answer.
func (l *PeerLink) applyAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.role != Initiator || l.state != Negotiating || !l.localSet || l.answered {
		l.mu.Unlock()
		return domain.ErrDuplicateSignalIgnored
	}
	// Claimed under the lock: a duplicate arriving meanwhile is rejected.
	l.answered = true
	l.mu.Unlock()

	if err := l.pc.ApplyAnswer(answer); err != nil {
		return err
	}
	l.remoteApplied()
	return nil
}

// addCandidate applies a remote candidate, or buffers it until the remote
// description is known.
func (l *PeerLink) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	switch {
	case l.state == Closed:
		l.mu.Unlock()
		return nil
	case !l.remoteSet:
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(c)
}

// close moves the link to Closed and releases its connection and buffered
// candidates. Resources are released exactly once; it reports whether this
// call did it.
func (l *PeerLink) close() bool {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return false
	}
	l.released = true
	l.transition(Closed)
	l.pending = nil
	l.remote = nil
	l.mu.Unlock()

	observability.LinksOpen.Dec()
	if err := l.pc.Close(); err != nil {
		l.log.Warn().Err(err).Msg("close peer connection")
	}
	return true
}

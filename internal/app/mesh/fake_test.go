package mesh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
)

var errChannelClosed = errors.New("channel closed")

type fakeTrack struct {
	id      string
	kind    core.TrackKind
	enabled atomic.Bool
	stops   atomic.Int32
}

func newFakeTrack(id string, kind core.TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() core.TrackKind   { return t.kind }
func (t *fakeTrack) Enabled() bool          { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(on bool)     { t.enabled.Store(on) }
func (t *fakeTrack) Stop()                  { t.stops.Add(1) }
func (t *fakeTrack) Stopped() bool          { return t.stops.Load() > 0 }
func (t *fakeTrack) RTP() webrtc.TrackLocal { return nil }

type fakeMedia struct {
	tracks []core.LocalTrack
	err    error
}

func (m fakeMedia) Acquire(context.Context) ([]core.LocalTrack, error) {
	return m.tracks, m.err
}

func avMedia() (fakeMedia, *fakeTrack, *fakeTrack) {
	a := newFakeTrack("mic", core.KindAudio)
	v := newFakeTrack("cam", core.KindVideo)
	return fakeMedia{tracks: []core.LocalTrack{a, v}}, a, v
}

type fakeStream struct{}

func (fakeStream) Video() core.VideoSource { return nil }
func (fakeStream) Audio() core.AudioSource { return nil }

// fakePC connects as soon as both descriptions are exchanged.
type fakePC struct {
	peer domain.PeerID
	gate chan struct{}

	mu         sync.Mutex
	tracks     []core.LocalTrack
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	onICE      func(webrtc.ICECandidateInit)
	onRemote   func(core.RemoteStream)
	onFailed   func(error)
	closes     int
}

func (p *fakePC) AddLocalTrack(t core.LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePC) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if p.gate != nil {
		select {
		case <-ctx.Done():
			return webrtc.SessionDescription{}, ctx.Err()
		case <-p.gate:
		}
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-to-" + string(p.peer)}, nil
}

func (p *fakePC) ApplyOfferAndCreateAnswer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.remote = append(p.remote, offer)
	p.mu.Unlock()
	p.connect()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + string(p.peer)}, nil
}

func (p *fakePC) ApplyAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = append(p.remote, answer)
	p.mu.Unlock()
	p.connect()
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePC) OnRemoteMedia(fn func(core.RemoteStream)) {
	p.mu.Lock()
	p.onRemote = fn
	p.mu.Unlock()
}

func (p *fakePC) OnFailed(fn func(error)) {
	p.mu.Lock()
	p.onFailed = fn
	p.mu.Unlock()
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePC) connect() {
	p.mu.Lock()
	fn := p.onRemote
	p.mu.Unlock()
	if fn != nil {
		fn(fakeStream{})
	}
}

func (p *fakePC) fail(err error) {
	p.mu.Lock()
	fn := p.onFailed
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (p *fakePC) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePC) remoteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remote)
}

type pcFactory struct {
	gate chan struct{}

	mu  sync.Mutex
	pcs map[domain.PeerID][]*fakePC
}

func newPCFactory() *pcFactory {
	return &pcFactory{pcs: make(map[domain.PeerID][]*fakePC)}
}

func (f *pcFactory) New(peer domain.PeerID) (core.PeerConnection, error) {
	pc := &fakePC{peer: peer, gate: f.gate}
	f.mu.Lock()
	f.pcs[peer] = append(f.pcs[peer], pc)
	f.mu.Unlock()
	return pc, nil
}

func (f *pcFactory) get(peer domain.PeerID) []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.pcs[peer]...)
}

func (f *pcFactory) all() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakePC
	for _, pcs := range f.pcs {
		out = append(out, pcs...)
	}
	return out
}

// recordingChannel keeps every emitted frame and delivers nothing.
type recordingChannel struct {
	self    domain.PeerID
	emitErr error

	mu      sync.Mutex
	emitted []protocol.Message
	closes  int
	in      chan protocol.Message
}

func newRecordingChannel(self domain.PeerID) *recordingChannel {
	return &recordingChannel{self: self, in: make(chan protocol.Message)}
}

func (c *recordingChannel) Self() domain.PeerID { return c.self }

func (c *recordingChannel) Emit(_ context.Context, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emitted = append(c.emitted, msg)
	return nil
}

func (c *recordingChannel) Messages() <-chan protocol.Message { return c.in }

func (c *recordingChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *recordingChannel) ofType(t protocol.Type) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Message
	for _, m := range c.emitted {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// fakeHub is a minimal in-memory relay for one room.
type fakeHub struct {
	mu      sync.Mutex
	order   []domain.PeerID
	members map[domain.PeerID]*hubChannel
	parts   map[domain.PeerID]domain.Participant
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		members: make(map[domain.PeerID]*hubChannel),
		parts:   make(map[domain.PeerID]domain.Participant),
	}
}

type hubChannel struct {
	hub    *fakeHub
	self   domain.PeerID
	out    chan protocol.Message
	closed bool
}

func (h *fakeHub) connect(self domain.PeerID) *hubChannel {
	return &hubChannel{hub: h, self: self, out: make(chan protocol.Message, 256)}
}

func (c *hubChannel) Self() domain.PeerID               { return c.self }
func (c *hubChannel) Messages() <-chan protocol.Message { return c.out }
func (c *hubChannel) Emit(_ context.Context, msg protocol.Message) error {
	return c.hub.route(c, msg)
}

func (c *hubChannel) Close() error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.out)
	h.removeLocked(c.self)
	return nil
}

func (h *fakeHub) deliverLocked(to domain.PeerID, msg protocol.Message) {
	if c, ok := h.members[to]; ok && !c.closed {
		c.out <- msg
	}
}

func (h *fakeHub) removeLocked(id domain.PeerID) {
	if _, ok := h.members[id]; !ok {
		return
	}
	delete(h.members, id)
	delete(h.parts, id)
	for i, p := range h.order {
		if p == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	for _, p := range h.order {
		msg, _ := protocol.New(protocol.TypePeerLeft, "", id, "", protocol.PeerLeft{PeerID: id})
		h.deliverLocked(p, msg)
	}
}

func (h *fakeHub) route(from *hubChannel, msg protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if from.closed {
		return errChannelClosed
	}
	msg.From = from.self
	switch msg.Type {
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoom
		if err := msg.Decode(&p); err != nil {
			return err
		}
		existing := make([]domain.Participant, 0, len(h.order))
		for _, id := range h.order {
			existing = append(existing, h.parts[id])
		}
		h.order = append(h.order, from.self)
		h.members[from.self] = from
		h.parts[from.self] = p.Participant
		snap, _ := protocol.New(protocol.TypeRosterSnapshot, msg.Room, "", from.self, protocol.RosterSnapshot{Participants: existing})
		h.deliverLocked(from.self, snap)
	case protocol.TypeSendingSignal:
		msg.Type = protocol.TypePeerJoined
		h.deliverLocked(msg.To, msg)
	case protocol.TypeReturningSignal:
		msg.Type = protocol.TypeSignalAnswer
		h.deliverLocked(msg.To, msg)
	case protocol.TypeIceFragment:
		h.deliverLocked(msg.To, msg)
	case protocol.TypeLeaveRoom:
		h.removeLocked(from.self)
	}
	return nil
}

// dispatch feeds relay frames to the coordinator until the channel closes.
func dispatch(c *Coordinator, in <-chan protocol.Message) {
	for msg := range in {
		switch msg.Type {
		case protocol.TypeRosterSnapshot:
			var p protocol.RosterSnapshot
			if msg.Decode(&p) == nil {
				_ = c.OnRosterSnapshot(p.Participants)
			}
		case protocol.TypePeerJoined:
			var p protocol.Signal
			if msg.Decode(&p) == nil && p.Participant != nil {
				_ = c.OnPeerJoinedSignal(msg.From, p.Signal, *p.Participant)
			}
		case protocol.TypeSignalAnswer:
			var p protocol.Signal
			if msg.Decode(&p) == nil {
				_ = c.OnAnswerSignal(msg.From, p.Signal)
			}
		case protocol.TypeIceFragment:
			var p protocol.IceFragment
			if msg.Decode(&p) == nil {
				_ = c.OnIceFragment(msg.From, p.Candidate)
			}
		case protocol.TypePeerLeft:
			var p protocol.PeerLeft
			if msg.Decode(&p) == nil {
				_ = c.OnPeerLeft(p.PeerID)
			}
		}
	}
}

type removals struct {
	mu  sync.Mutex
	ids []domain.PeerID
}

func (r *removals) add(p domain.Participant) {
	r.mu.Lock()
	r.ids = append(r.ids, p.PeerID)
	r.mu.Unlock()
}

func (r *removals) list() []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PeerID(nil), r.ids...)
}

type hubClient struct {
	coord   *Coordinator
	pcs     *pcFactory
	removed *removals
}

func joinHub(ctx context.Context, h *fakeHub, id domain.PeerID) (*hubClient, error) {
	ch := h.connect(id)
	pcs := newPCFactory()
	removed := &removals{}
	coord := NewCoordinator(ch, pcs.New, Hooks{PeerRemoved: removed.add}, Options{})
	go dispatch(coord, ch.Messages())
	media, _, _ := avMedia()
	if err := coord.Join(ctx, "room", domain.Participant{Name: string(id)}, media); err != nil {
		return nil, err
	}
	return &hubClient{coord: coord, pcs: pcs, removed: removed}, nil
}

func connectedPeers(c *Coordinator) map[domain.PeerID]Role {
	out := make(map[domain.PeerID]Role)
	for _, l := range c.Links() {
		if l.State == Connected {
			out[l.Peer] = l.Role
		}
	}
	return out
}

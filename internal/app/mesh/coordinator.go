// Package mesh maintains the local client's full mesh of peer connections.
//
// Role assignment is fixed by arrival order: a client that joins a room
// initiates toward everyone in its roster snapshot, and answers everyone who
// joins later. Two clients therefore never initiate the same link.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Hooks notify consumers outside the mesh. Every field is optional.
type Hooks struct {
	// PeerConnected fires when a link receives its first remote media.
	PeerConnected func(peer domain.PeerID)
	// PeerRemoved fires when a participant's link is gone, for any reason.
	PeerRemoved func(p domain.Participant)
	// LinkFailed reports a link-scoped failure. The link is already closed.
	LinkFailed func(peer domain.PeerID, err error)
}

type Options struct {
	// Trickle sends local candidates as ice-fragment frames instead of
	// waiting for gathering to complete before the offer/answer is sent.
	Trickle bool
	// LeaveTimeout bounds the best-effort leave-room notification.
	LeaveTimeout time.Duration
}

type joinState int

const (
	notJoined joinState = iota
	joined
	left
)

// LinkInfo is a read-only view of one link.
type LinkInfo struct {
	ID    string
	Peer  domain.PeerID
	Role  Role
	State State
}

// Coordinator owns the set of PeerLinks for one room.
type Coordinator struct {
	newPC core.PeerConnectionFactory
	hooks Hooks
	opts  Options

	mu           sync.Mutex
	channel      core.SignalingChannel
	state        joinState
	ctx          context.Context
	cancel       context.CancelFunc
	room         domain.RoomID
	self         domain.Participant
	tracks       []core.LocalTrack
	links        map[domain.PeerID]*PeerLink
	snapshotSeen bool
	paused       bool
	// resuming marks the first snapshot after Resume, which resyncs links.
	resuming bool

	roster      *Roster
	wg          conc.WaitGroup
	releaseOnce sync.Once
}

func NewCoordinator(channel core.SignalingChannel, newPC core.PeerConnectionFactory, hooks Hooks, opts Options) *Coordinator {
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = 2 * time.Second
	}
	return &Coordinator{
		newPC:   newPC,
		hooks:   hooks,
		opts:    opts,
		channel: channel,
		links:   make(map[domain.PeerID]*PeerLink),
		roster:  NewRoster(),
	}
}

// Join acquires local media and announces self to the room.
func (c *Coordinator) Join(ctx context.Context, room domain.RoomID, self domain.Participant, media core.MediaProvider) error {
	c.mu.Lock()
	switch c.state {
	case joined:
		c.mu.Unlock()
		return domain.ErrAlreadyJoined
	case left:
		c.mu.Unlock()
		return domain.ErrLeft
	}
	c.mu.Unlock()

	tracks, err := media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	if len(tracks) == 0 {
		return fmt.Errorf("%w: no tracks", domain.ErrMediaUnavailable)
	}

	self.PeerID = c.channel.Self()
	self.MicOn = kindEnabled(tracks, core.KindAudio)
	self.VideoOn = kindEnabled(tracks, core.KindVideo)

	msg, err := protocol.New(protocol.TypeJoinRoom, room, self.PeerID, "", protocol.JoinRoom{Participant: self})
	if err != nil {
		stopTracks(tracks)
		return err
	}

	c.mu.Lock()
	if c.state != notJoined {
		c.mu.Unlock()
		stopTracks(tracks)
		return domain.ErrAlreadyJoined
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.room = room
	c.self = self
	c.tracks = tracks
	c.state = joined
	c.mu.Unlock()

	if err := c.channel.Emit(ctx, msg); err != nil {
		_ = c.Leave(ctx)
		return fmt.Errorf("%w: join: %v", domain.ErrSignalingDisconnected, err)
	}
	log.Info().Str("module", "mesh").Str("room", string(room)).Str("self", string(self.PeerID)).Int("tracks", len(tracks)).Msg("joined")
	return nil
}

// OnRosterSnapshot starts an initiator link toward every participant that
// was present before we joined. After a reconnect that the relay did not
// resume, every peer has dropped its link to us, so all links are rebuilt.
func (c *Coordinator) OnRosterSnapshot(existing []domain.Participant) error {
	return c.onSnapshot(existing, false)
}

// OnRosterResumed handles the snapshot of a membership the relay kept across
// a reconnect: live links stay, peers that left meanwhile are dropped and
// peers without a link get one.
func (c *Coordinator) OnRosterResumed(existing []domain.Participant) error {
	return c.onSnapshot(existing, true)
}

func (c *Coordinator) onSnapshot(existing []domain.Participant, keep bool) error {
	c.mu.Lock()
	if c.state != joined {
		c.mu.Unlock()
		return domain.ErrNotJoined
	}
	if c.snapshotSeen {
		c.mu.Unlock()
		log.Warn().Str("module", "mesh").Msg("second roster snapshot ignored")
		return domain.ErrDuplicateSignalIgnored
	}
	c.snapshotSeen = true
	resync := c.resuming
	c.resuming = false

	present := make(map[domain.PeerID]bool, len(existing))
	var stale []*PeerLink
	for _, p := range existing {
		if p.PeerID == c.self.PeerID {
			continue
		}
		present[p.PeerID] = true
		c.roster.Upsert(p)
		if l, ok := c.links[p.PeerID]; ok && l.State() != Closed {
			if !resync || keep {
				if !resync {
					log.Warn().Str("module", "mesh").Str("peer", string(p.PeerID)).Msg("snapshot peer already linked")
				}
				continue
			}
			stale = append(stale, l)
			delete(c.links, p.PeerID)
		}
		l, err := c.newLinkLocked(p.PeerID, Initiator)
		if err != nil {
			c.failLocked(p.PeerID, err)
			continue
		}
		c.wg.Go(func() { c.negotiateAsInitiator(l) })
	}

	var gone []domain.Participant
	if resync {
		for peer, l := range c.links {
			if !present[peer] {
				stale = append(stale, l)
				delete(c.links, peer)
			}
		}
		for _, p := range c.roster.Snapshot() {
			if !present[p.PeerID] {
				c.roster.Remove(p.PeerID)
				gone = append(gone, p)
			}
		}
	}
	c.mu.Unlock()

	for _, l := range stale {
		l.close()
	}
	if resync {
		log.Info().Str("module", "mesh").Bool("kept", keep).Int("peers", len(present)).Int("closed", len(stale)).Int("gone", len(gone)).Msg("links resynced")
	}
	for _, p := range gone {
		if c.hooks.PeerRemoved != nil {
			c.hooks.PeerRemoved(p)
		}
	}
	return nil
}

// OnPeerJoinedSignal answers a newcomer's offer. A second offer for a link
// that is already negotiating or connected is rejected, not applied.
func (c *Coordinator) OnPeerJoinedSignal(remote domain.PeerID, offer webrtc.SessionDescription, p domain.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != joined {
		return domain.ErrNotJoined
	}
	if c.paused {
		log.Warn().Str("module", "mesh").Str("peer", string(remote)).Msg("offer while signaling paused")
	}
	if remote == c.self.PeerID {
		return domain.ErrDuplicateSignalIgnored
	}
	if l, ok := c.links[remote]; ok && l.State() != Closed {
		log.Warn().Str("module", "mesh").Str("peer", string(remote)).Str("state", l.State().String()).Msg("duplicate offer ignored")
		return domain.ErrDuplicateSignalIgnored
	}

	p.PeerID = remote
	c.roster.Upsert(p)
	l, err := c.newLinkLocked(remote, Answerer)
	if err != nil {
		c.failLocked(remote, err)
		return err
	}
	c.wg.Go(func() { c.negotiateAsAnswerer(l, offer) })
	return nil
}

// OnAnswerSignal completes the handshake of an initiator link.
func (c *Coordinator) OnAnswerSignal(remote domain.PeerID, answer webrtc.SessionDescription) error {
	l := c.link(remote)
	if l == nil {
		log.Warn().Str("module", "mesh").Str("peer", string(remote)).Msg("answer for unknown link")
		return domain.ErrUnknownPeer
	}
	err := l.applyAnswer(answer)
	switch {
	case errors.Is(err, domain.ErrDuplicateSignalIgnored):
		log.Warn().Str("module", "mesh").Str("peer", string(remote)).Str("state", l.State().String()).Msg("duplicate answer ignored")
		return err
	case err != nil:
		c.fail(l, fmt.Errorf("apply answer: %w", err))
		return err
	}
	return nil
}

// OnIceFragment hands a remote candidate to the matching link.
func (c *Coordinator) OnIceFragment(remote domain.PeerID, cand webrtc.ICECandidateInit) error {
	l := c.link(remote)
	if l == nil {
		log.Debug().Str("module", "mesh").Str("peer", string(remote)).Msg("candidate for unknown link")
		return domain.ErrUnknownPeer
	}
	if err := l.addCandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(remote)).Msg("add candidate")
		return err
	}
	return nil
}

// OnPeerLeft tears down the link to a departed participant.
func (c *Coordinator) OnPeerLeft(remote domain.PeerID) error {
	c.mu.Lock()
	l := c.links[remote]
	delete(c.links, remote)
	p, known := c.roster.Remove(remote)
	c.mu.Unlock()

	if l == nil && !known {
		log.Debug().Str("module", "mesh").Str("peer", string(remote)).Msg("peer-left for unknown peer")
		return domain.ErrUnknownPeer
	}
	if l != nil {
		l.close()
	}
	if !known {
		p = domain.Participant{PeerID: remote, ID: domain.ParticipantID(remote)}
	}
	log.Info().Str("module", "mesh").Str("peer", string(remote)).Msg("peer left")
	if c.hooks.PeerRemoved != nil {
		c.hooks.PeerRemoved(p)
	}
	return nil
}

// OnParticipantUpdated applies a capability change of a known participant.
func (c *Coordinator) OnParticipantUpdated(p domain.Participant) bool {
	if p.PeerID == c.Self().PeerID {
		return false
	}
	return c.roster.Update(p)
}

// SetMicEnabled toggles every local audio track and announces it.
func (c *Coordinator) SetMicEnabled(ctx context.Context, on bool) error {
	return c.setKind(ctx, core.KindAudio, on)
}

// SetVideoEnabled toggles every local video track and announces it.
func (c *Coordinator) SetVideoEnabled(ctx context.Context, on bool) error {
	return c.setKind(ctx, core.KindVideo, on)
}

func (c *Coordinator) setKind(ctx context.Context, kind core.TrackKind, on bool) error {
	c.mu.Lock()
	if c.state != joined {
		c.mu.Unlock()
		return domain.ErrNotJoined
	}
	for _, t := range c.tracks {
		if t.Kind() == kind {
			t.SetEnabled(on)
		}
	}
	if kind == core.KindAudio {
		c.self.MicOn = on
	} else {
		c.self.VideoOn = on
	}
	state := protocol.MediaState{MicOn: c.self.MicOn, VideoOn: c.self.VideoOn}
	room, self, channel := c.room, c.self.PeerID, c.channel
	c.mu.Unlock()

	msg, err := protocol.New(protocol.TypeMediaState, room, self, "", state)
	if err != nil {
		return err
	}
	return channel.Emit(ctx, msg)
}

// Leave cancels every in-flight negotiation, closes every link, disconnects
// from the relay and stops the local tracks. Calling it again is a no-op.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state != joined {
		c.mu.Unlock()
		return nil
	}
	c.state = left
	c.cancel()
	links := c.links
	c.links = make(map[domain.PeerID]*PeerLink)
	room, self, channel := c.room, c.self.PeerID, c.channel
	c.mu.Unlock()

	var wg conc.WaitGroup
	for _, l := range links {
		l := l
		wg.Go(func() { l.close() })
	}
	wg.Wait()
	c.wg.Wait()

	if msg, err := protocol.New(protocol.TypeLeaveRoom, room, self, "", nil); err == nil {
		emitCtx, cancel := context.WithTimeout(ctx, c.opts.LeaveTimeout)
		if err := channel.Emit(emitCtx, msg); err != nil {
			log.Debug().Err(err).Str("module", "mesh").Msg("leave-room not delivered")
		}
		cancel()
	}
	closeErr := channel.Close()

	c.releaseTracks()
	for _, p := range c.roster.Clear() {
		if c.hooks.PeerRemoved != nil {
			c.hooks.PeerRemoved(p)
		}
	}
	log.Info().Str("module", "mesh").Str("room", string(room)).Int("links", len(links)).Msg("left")
	return closeErr
}

func (c *Coordinator) releaseTracks() {
	c.releaseOnce.Do(func() {
		c.mu.Lock()
		tracks := c.tracks
		c.mu.Unlock()
		stopTracks(tracks)
	})
}

// Pause stops accepting roster changes while the relay is unreachable.
// Existing links are left alone.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	log.Warn().Str("module", "mesh").Msg("signaling paused")
}

// Resume rebinds the coordinator to a fresh channel and re-announces self.
// The relay answers with a roster snapshot that resyncs the links: kept when
// the relay resumed the membership, rebuilt when it did not.
func (c *Coordinator) Resume(ctx context.Context, channel core.SignalingChannel) error {
	c.mu.Lock()
	if c.state != joined {
		c.mu.Unlock()
		return domain.ErrNotJoined
	}
	old := c.channel
	c.channel = channel
	c.paused = false
	c.snapshotSeen = false
	c.resuming = true
	c.self.PeerID = channel.Self()
	self, room := c.self, c.room
	c.mu.Unlock()

	if old != nil && old != channel {
		_ = old.Close()
	}
	msg, err := protocol.New(protocol.TypeJoinRoom, room, self.PeerID, "", protocol.JoinRoom{Participant: self})
	if err != nil {
		return err
	}
	if err := channel.Emit(ctx, msg); err != nil {
		return fmt.Errorf("%w: rejoin: %v", domain.ErrSignalingDisconnected, err)
	}
	log.Info().Str("module", "mesh").Str("room", string(room)).Msg("signaling resumed")
	return nil
}

func (c *Coordinator) Self() domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Coordinator) Room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Coordinator) Tracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.LocalTrack(nil), c.tracks...)
}

// Participants is a snapshot of the remote roster.
func (c *Coordinator) Participants() []domain.Participant {
	return c.roster.Snapshot()
}

func (c *Coordinator) Participant(id domain.PeerID) (domain.Participant, bool) {
	return c.roster.Get(id)
}

// Links is a snapshot of the link table ordered by peer id.
func (c *Coordinator) Links() []LinkInfo {
	c.mu.Lock()
	out := make([]LinkInfo, 0, len(c.links))
	for _, l := range c.links {
		out = append(out, LinkInfo{ID: l.ID(), Peer: l.Peer(), Role: l.Role(), State: l.State()})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// RemoteStreams returns the streams of every Connected link.
func (c *Coordinator) RemoteStreams() map[domain.PeerID]core.RemoteStream {
	c.mu.Lock()
	links := make([]*PeerLink, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	out := make(map[domain.PeerID]core.RemoteStream, len(links))
	for _, l := range links {
		if rs, ok := l.Remote(); ok {
			out[l.Peer()] = rs
		}
	}
	return out
}

func (c *Coordinator) link(peer domain.PeerID) *PeerLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.links[peer]
}

// newLinkLocked builds the connection for peer, attaches the shared local
// tracks and registers the link. c.mu must be held.
func (c *Coordinator) newLinkLocked(peer domain.PeerID, role Role) (*PeerLink, error) {
	pc, err := c.newPC(peer)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	l := newPeerLink(peer, role, pc)
	for _, t := range c.tracks {
		if err := pc.AddLocalTrack(t); err != nil {
			l.close()
			return nil, fmt.Errorf("attach %s track: %w", t.Kind(), err)
		}
	}

	ctx, room, self := c.ctx, c.room, c.self.PeerID
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if !c.opts.Trickle || ctx.Err() != nil {
			return
		}
		msg, err := protocol.New(protocol.TypeIceFragment, room, self, peer, protocol.IceFragment{Candidate: ci})
		if err != nil {
			return
		}
		if err := c.emit(ctx, msg); err != nil {
			l.log.Warn().Err(err).Msg("send candidate")
		}
	})
	pc.OnRemoteMedia(func(rs core.RemoteStream) {
		if ctx.Err() != nil {
			return
		}
		if l.connected(rs) && c.hooks.PeerConnected != nil {
			c.hooks.PeerConnected(peer)
		}
	})
	pc.OnFailed(func(err error) {
		if ctx.Err() != nil {
			return
		}
		c.fail(l, err)
	})

	c.links[peer] = l
	return l, nil
}

func (c *Coordinator) negotiateAsInitiator(l *PeerLink) {
	ctx := c.linkCtx()
	if err := l.begin(); err != nil {
		return
	}
	offer, err := l.pc.CreateOffer(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.fail(l, fmt.Errorf("create offer: %w", err))
		return
	}
	l.localApplied()

	self := c.Self()
	msg, err := protocol.New(protocol.TypeSendingSignal, c.Room(), self.PeerID, l.Peer(), protocol.Signal{Signal: offer, Participant: &self})
	if err != nil {
		c.fail(l, err)
		return
	}
	if err := c.emit(ctx, msg); err != nil {
		if ctx.Err() == nil {
			c.fail(l, fmt.Errorf("%w: send offer: %v", domain.ErrSignalingDisconnected, err))
		}
		return
	}
	l.log.Debug().Msg("offer sent")
}

func (c *Coordinator) negotiateAsAnswerer(l *PeerLink, offer webrtc.SessionDescription) {
	ctx := c.linkCtx()
	if err := l.begin(); err != nil {
		return
	}
	answer, err := l.pc.ApplyOfferAndCreateAnswer(ctx, offer)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.fail(l, fmt.Errorf("answer offer: %w", err))
		return
	}
	l.localApplied()
	l.remoteApplied()

	msg, err := protocol.New(protocol.TypeReturningSignal, c.Room(), c.Self().PeerID, l.Peer(), protocol.Signal{Signal: answer})
	if err != nil {
		c.fail(l, err)
		return
	}
	if err := c.emit(ctx, msg); err != nil {
		if ctx.Err() == nil {
			c.fail(l, fmt.Errorf("%w: send answer: %v", domain.ErrSignalingDisconnected, err))
		}
		return
	}
	l.log.Debug().Msg("answer sent")
}

func (c *Coordinator) linkCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Coordinator) emit(ctx context.Context, msg protocol.Message) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	return channel.Emit(ctx, msg)
}

// fail evicts a single link after a link-scoped error. Other links are not
// touched.
func (c *Coordinator) fail(l *PeerLink, cause error) {
	c.mu.Lock()
	if cur, ok := c.links[l.Peer()]; !ok || cur != l {
		c.mu.Unlock()
		l.close()
		return
	}
	delete(c.links, l.Peer())
	p, known := c.roster.Remove(l.Peer())
	c.mu.Unlock()

	if !l.close() {
		return
	}
	c.reportFailure(l.Peer(), p, known, cause)
}

// failLocked reports a link that could not even be built. c.mu must be held;
// hooks run after it is released by the caller's defer, so they are invoked
// on a separate goroutine.
func (c *Coordinator) failLocked(peer domain.PeerID, cause error) {
	p, known := c.roster.Remove(peer)
	c.wg.Go(func() { c.reportFailure(peer, p, known, cause) })
}

func (c *Coordinator) reportFailure(peer domain.PeerID, p domain.Participant, known bool, cause error) {
	err := fmt.Errorf("%w: %v", domain.ErrPeerNegotiationFailed, cause)
	log.Error().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("link failed")
	if c.hooks.LinkFailed != nil {
		c.hooks.LinkFailed(peer, err)
	}
	if !known {
		p = domain.Participant{PeerID: peer, ID: domain.ParticipantID(peer)}
	}
	if c.hooks.PeerRemoved != nil {
		c.hooks.PeerRemoved(p)
	}
}

func kindEnabled(tracks []core.LocalTrack, kind core.TrackKind) bool {
	for _, t := range tracks {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

func stopTracks(tracks []core.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}

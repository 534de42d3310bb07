// Package rtc adapts pion peer connections and media to the coordinator's
// core interfaces.
package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrTransportFailed = errors.New("transport failed")
	ErrRemoteClosed    = errors.New("closed by remote")
)

// Config is the transport part of the client configuration.
type Config struct {
	ICEServers []string
	// Trickle sends candidates as they are gathered. Without it, every
	// description waits for gathering to complete.
	Trickle bool
}

func (c Config) webrtc() webrtc.Configuration {
	if len(c.ICEServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: c.ICEServers}},
	}
}

// NewFactory returns the factory the mesh coordinator builds links with.
func NewFactory(cfg Config, decoders Decoders) core.PeerConnectionFactory {
	return func(peer core.PeerID) (core.PeerConnection, error) {
		return NewConnection(cfg, peer, decoders)
	}
}

type Connection struct {
	pc       *webrtc.PeerConnection
	peer     core.PeerID
	trickle  bool
	decoders Decoders
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	onICE    func(webrtc.ICECandidateInit)
	onRemote func(core.RemoteStream)
	onFailed func(error)
	remote   *RemoteStream
	closing  bool

	failOnce  sync.Once
	closeOnce sync.Once
}

var _ core.PeerConnection = (*Connection)(nil)

func NewConnection(cfg Config, peer core.PeerID, decoders Decoders) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg.webrtc())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:       pc,
		peer:     peer,
		trickle:  cfg.Trickle,
		decoders: decoders,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.start()
	return c, nil
}

func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.failed(ErrTransportFailed)
		case webrtc.PeerConnectionStateClosed:
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				c.failed(ErrRemoteClosed)
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || !c.trickle {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		c.mu.Lock()
		first := c.remote == nil
		if first {
			c.remote = newRemoteStream()
		}
		rs, fn := c.remote, c.onRemote
		c.mu.Unlock()

		go rs.consume(c.ctx, track, c.decoders)
		if first && fn != nil {
			fn(rs)
		}
	})
}

func (c *Connection) failed(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		fn := c.onFailed
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

// CreateOffer creates and applies the local offer.
func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.setLocal(ctx, offer)
}

func (c *Connection) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.setLocal(ctx, answer)
}

func (c *Connection) setLocal(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var gatherComplete <-chan struct{}
	if !c.trickle {
		gatherComplete = webrtc.GatheringCompletePromise(c.pc)
	}
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if gatherComplete != nil {
		select {
		case <-gatherComplete:
		case <-ctx.Done():
			return webrtc.SessionDescription{}, ctx.Err()
		}
	}
	return *c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnRemoteMedia(fn func(core.RemoteStream)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

func (c *Connection) OnFailed(fn func(error)) {
	c.mu.Lock()
	c.onFailed = fn
	c.mu.Unlock()
}

// AddLocalTrack attaches a shared local track and drains its RTCP so the
// interceptors keep working.
func (c *Connection) AddLocalTrack(t core.LocalTrack) error {
	sender, err := c.pc.AddTrack(t.RTP())
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.cancel()
		if err = c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.peer)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Msg("closed")
		}
	})
	return err
}

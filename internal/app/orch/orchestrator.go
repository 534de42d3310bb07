// Package orch runs one participant: it owns the relay connection and routes
// every inbound frame, in relay order, to the mesh, chat and caption
// components.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app/assist"
	"github.com/dkeye/huddle/internal/app/caption"
	"github.com/dkeye/huddle/internal/app/chat"
	"github.com/dkeye/huddle/internal/app/mesh"
	"github.com/dkeye/huddle/internal/app/record"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Dialer opens a relay connection announcing self as the peer id.
type Dialer func(ctx context.Context, self domain.PeerID) (core.SignalingChannel, error)

// Deps are the adapters the orchestrator drives. Screen, Recognizer,
// Suggester and Muxer are optional capabilities.
type Deps struct {
	Dial  Dialer
	Media core.MediaProvider
	// Screen is captured for the recording only; peers keep the camera.
	Screen     core.MediaProvider
	NewPC      core.PeerConnectionFactory
	Recognizer assist.Recognizer
	Suggester  assist.Suggester
	Muxer      record.MuxerFactory
}

// Events are the user-facing notifications. Every field is optional.
type Events struct {
	Chat        func(domain.ChatMessage)
	Captions    func([]domain.TranscriptFragment)
	Roster      func([]domain.Participant)
	Suggestions func(replyTo domain.ChatMessage, suggestions []string)
	Artifact    func(record.Artifact)
	Error       func(error)
}

type Options struct {
	Room         domain.RoomID
	Self         domain.Participant
	Mesh         mesh.Options
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// Recording is used when Deps.Muxer is set.
	Recording      record.Options
	SuggestTimeout time.Duration
	RestartDelay   time.Duration
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	events Events
	peer   domain.PeerID

	// Mesh, Chat and Transcriber are set once Ready is closed.
	Mesh        *mesh.Coordinator
	Chat        *chat.Synchronizer
	Captions    *caption.Aggregator
	Recorder    *record.Compositor
	Suggest     *assist.Suggestions
	Transcriber *assist.Transcriber

	ready     chan struct{}
	readyOnce sync.Once
	bg        conc.WaitGroup

	screenMu sync.Mutex
	screen   []core.LocalTrack
}

func New(deps Deps, opts Options, events Events) *Orchestrator {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	o := &Orchestrator{
		deps:     deps,
		opts:     opts,
		events:   events,
		peer:     domain.PeerID(uuid.NewString()),
		Captions: caption.New(),
		ready:    make(chan struct{}),
	}
	if deps.Suggester != nil {
		o.Suggest = assist.NewSuggestions(deps.Suggester, opts.SuggestTimeout)
	}
	if deps.Muxer != nil {
		ro := opts.Recording
		onArtifact := ro.OnArtifact
		ro.OnArtifact = func(a record.Artifact) {
			if onArtifact != nil {
				onArtifact(a)
			}
			if events.Artifact != nil {
				events.Artifact(a)
			}
		}
		o.Recorder = record.NewCompositor(record.SourceFunc(o.sources), deps.Muxer, ro)
	}
	return o
}

// Run joins the room and processes relay frames until ctx is done. A lost
// relay connection is redialed with backoff while the peer links stay up.
func (o *Orchestrator) Run(ctx context.Context) error {
	channel, err := o.deps.Dial(ctx, o.peer)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignalingDisconnected, err)
	}
	o.Mesh = mesh.NewCoordinator(channel, o.deps.NewPC, mesh.Hooks{
		PeerConnected: func(domain.PeerID) { o.rosterChanged() },
		PeerRemoved:   o.onPeerRemoved,
		LinkFailed:    o.onLinkFailed,
	}, o.opts.Mesh)
	o.Chat = chat.New(channel, o.events.Chat)

	if err := o.Mesh.Join(ctx, o.opts.Room, o.opts.Self, o.deps.Media); err != nil {
		_ = channel.Close()
		return err
	}
	self := o.Mesh.Self()
	o.Chat.Bind(o.opts.Room, self)
	if o.deps.Recognizer != nil {
		o.Transcriber = assist.NewTranscriber(o.deps.Recognizer, channel, o.opts.RestartDelay)
		o.Transcriber.Start(ctx, o.opts.Room, self)
	}
	defer o.teardown(ctx)
	o.readyOnce.Do(func() { close(o.ready) })

	log.Info().Str("module", "orch").Str("room", string(o.opts.Room)).Str("peer", string(self.PeerID)).Msg("joined")
	for {
		if err := o.loop(ctx, channel); err != nil {
			return nil
		}
		next, err := o.reconnect(ctx)
		if err != nil {
			return nil
		}
		channel = next
	}
}

// loop dispatches frames until the channel closes (nil) or ctx ends.
func (o *Orchestrator) loop(ctx context.Context, channel core.SignalingChannel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-channel.Messages():
			if !ok {
				log.Warn().Str("module", "orch").Msg("relay connection lost")
				return nil
			}
			o.dispatch(ctx, msg)
		}
	}
}

func (o *Orchestrator) reconnect(ctx context.Context) (core.SignalingChannel, error) {
	o.Mesh.Pause()
	o.report(domain.ErrSignalingDisconnected)

	delay := o.opts.ReconnectMin
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		channel, err := o.deps.Dial(ctx, o.peer)
		if err == nil {
			if err = o.Mesh.Resume(ctx, channel); err == nil {
				o.Chat.Rebind(channel, channel.Self())
				if o.Transcriber != nil {
					o.Transcriber.Rebind(channel, channel.Self())
				}
				log.Info().Str("module", "orch").Int("attempt", attempt).Msg("relay reconnected")
				return channel, nil
			}
			_ = channel.Close()
		}
		log.Warn().Str("module", "orch").Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("reconnect failed")
		delay *= 2
		if delay > o.opts.ReconnectMax {
			delay = o.opts.ReconnectMax
		}
	}
}

func (o *Orchestrator) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if o.Recorder != nil {
		if _, err := o.Recorder.Stop(); err != nil && !errors.Is(err, domain.ErrNotRecording) {
			log.Error().Str("module", "orch").Err(err).Msg("stop recording")
		}
	}
	if o.Transcriber != nil {
		o.Transcriber.Stop()
	}
	o.StopScreenShare()
	o.bg.Wait()
	if err := o.Mesh.Leave(ctx); err != nil {
		log.Debug().Str("module", "orch").Err(err).Msg("leave")
	}
	o.Captions.Clear()
	o.Chat.Clear()
	log.Info().Str("module", "orch").Str("room", string(o.opts.Room)).Msg("left")
}

// Ready is closed once the room is joined.
func (o *Orchestrator) Ready() <-chan struct{} { return o.ready }

func (o *Orchestrator) joined() bool {
	select {
	case <-o.ready:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) report(err error) {
	if o.events.Error != nil {
		o.events.Error(err)
	}
}

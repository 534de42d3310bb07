package orch

import (
	"context"
	"fmt"
	"image"

	"github.com/dkeye/huddle/internal/app/record"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) SetMic(ctx context.Context, on bool) error {
	if !o.joined() {
		return domain.ErrNotJoined
	}
	return o.Mesh.SetMicEnabled(ctx, on)
}

func (o *Orchestrator) SetVideo(ctx context.Context, on bool) error {
	if !o.joined() {
		return domain.ErrNotJoined
	}
	return o.Mesh.SetVideoEnabled(ctx, on)
}

func (o *Orchestrator) StartRecording(ctx context.Context) (record.Info, error) {
	if o.Recorder == nil {
		return record.Info{}, domain.ErrNotRecording
	}
	return o.Recorder.Start(ctx)
}

func (o *Orchestrator) StopRecording() (record.Artifact, error) {
	if o.Recorder == nil {
		return record.Artifact{}, domain.ErrNotRecording
	}
	return o.Recorder.Stop()
}

// StartScreenShare adds the screen capture to the recording from the next
// draw tick on. Starting twice is a no-op.
func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	if !o.joined() {
		return domain.ErrNotJoined
	}
	if o.deps.Screen == nil {
		return fmt.Errorf("%w: no screen capture configured", domain.ErrMediaUnavailable)
	}
	o.screenMu.Lock()
	defer o.screenMu.Unlock()
	if o.screen != nil {
		return nil
	}
	tracks, err := o.deps.Screen.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: screen: %v", domain.ErrMediaUnavailable, err)
	}
	o.screen = tracks
	log.Info().Str("module", "orch").Int("tracks", len(tracks)).Msg("screen share started")
	return nil
}

// StopScreenShare releases the capture; its slot leaves the recording on the
// next tick.
func (o *Orchestrator) StopScreenShare() {
	o.screenMu.Lock()
	tracks := o.screen
	o.screen = nil
	o.screenMu.Unlock()
	if tracks == nil {
		return
	}
	for _, t := range tracks {
		t.Stop()
	}
	log.Info().Str("module", "orch").Msg("screen share stopped")
}

// Sharing reports whether a screen capture is active.
func (o *Orchestrator) Sharing() bool {
	o.screenMu.Lock()
	defer o.screenMu.Unlock()
	return o.screen != nil
}

func (o *Orchestrator) screenSource() (record.Source, bool) {
	o.screenMu.Lock()
	defer o.screenMu.Unlock()
	src := record.Source{ID: "screen", Kind: record.SourceScreen}
	for _, t := range o.screen {
		if t.Kind() != core.KindVideo || t.Stopped() {
			continue
		}
		src.Video = noFrame{}
		if v, ok := t.(core.VideoSource); ok {
			src.Video = v
		}
	}
	return src, src.Video != nil
}

// noFrame keeps a slot for a camera whose frames are not decoded locally.
type noFrame struct{}

func (noFrame) LatestFrame() image.Image { return nil }

// sources lists what the recorder draws: the local camera first, then every
// connected peer in roster order, then the screen share.
func (o *Orchestrator) sources() []record.Source {
	if !o.joined() {
		return nil
	}
	var out []record.Source
	local := record.Source{ID: "local", Kind: record.SourceLocal}
	for _, t := range o.Mesh.Tracks() {
		if !t.Enabled() || t.Stopped() {
			continue
		}
		switch t.Kind() {
		case core.KindVideo:
			local.Video = noFrame{}
			if v, ok := t.(core.VideoSource); ok {
				local.Video = v
			}
		case core.KindAudio:
			if a, ok := t.(core.AudioSource); ok {
				local.Audio = a
			}
		}
	}
	if local.Video != nil || local.Audio != nil {
		out = append(out, local)
	}

	streams := o.Mesh.RemoteStreams()
	for _, p := range o.Mesh.Participants() {
		rs, ok := streams[p.PeerID]
		if !ok {
			continue
		}
		src := record.Source{ID: string(p.PeerID), Kind: record.SourceRemote}
		if p.VideoOn {
			src.Video = rs.Video()
		}
		if p.MicOn {
			src.Audio = rs.Audio()
		}
		if src.Video != nil || src.Audio != nil {
			out = append(out, src)
		}
	}
	if screen, ok := o.screenSource(); ok {
		out = append(out, screen)
	}
	return out
}

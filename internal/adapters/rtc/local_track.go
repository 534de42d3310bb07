package rtc

import (
	"image"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// LocalTrack is a captured track every peer connection shares. Samples
// written while disabled are dropped, so peers see a frozen or silent
// track without renegotiation.
type LocalTrack struct {
	kind  core.TrackKind
	track *webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	onStop   func()

	// preview keeps a decoded copy of what is sent, for the recorder.
	videoDec VideoDecoder
	audioDec AudioDecoder
	frame    remoteVideo
	pcm      remoteAudio
}

var _ core.LocalTrack = (*LocalTrack)(nil)

func NewLocalTrack(kind core.TrackKind, codec webrtc.RTPCodecCapability, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{kind: kind, track: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string             { return t.track.ID() }
func (t *LocalTrack) Kind() core.TrackKind   { return t.kind }
func (t *LocalTrack) Enabled() bool          { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(on bool)     { t.enabled.Store(on) }
func (t *LocalTrack) Stopped() bool          { return t.stopped.Load() }
func (t *LocalTrack) RTP() webrtc.TrackLocal { return t.track }
func (t *LocalTrack) OnStop(fn func())       { t.onStop = fn }

// Preview decodes every sample written while enabled, so the track can serve
// as the recorder's local video or audio source. Call it before writing.
func (t *LocalTrack) Preview(decoders Decoders) {
	mime := t.track.Codec().MimeType
	switch t.kind {
	case core.KindVideo:
		if newDec := decoders.video(mime); newDec != nil {
			t.videoDec = newDec()
		}
	case core.KindAudio:
		if newDec := decoders.audio(mime); newDec != nil {
			t.audioDec = newDec()
			t.pcm.max = pcmBuffer
		}
	}
}

// LatestFrame is the last decoded frame sent on a video track.
func (t *LocalTrack) LatestFrame() image.Image { return t.frame.LatestFrame() }

// ReadPCM drains decoded audio sent on an audio track.
func (t *LocalTrack) ReadPCM(dst []int16) int { return t.pcm.ReadPCM(dst) }

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// WriteSample forwards s to every bound peer connection.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return io.ErrClosedPipe
	}
	if !t.enabled.Load() {
		return nil
	}
	t.decode(s.Data)
	return t.track.WriteSample(s)
}

func (t *LocalTrack) decode(data []byte) {
	switch {
	case t.videoDec != nil:
		if img, err := t.videoDec.Decode(data); err == nil && img != nil {
			t.frame.set(img)
		}
	case t.audioDec != nil:
		if pcm, err := t.audioDec.Decode(data); err == nil {
			t.pcm.write(pcm)
		}
	}
}

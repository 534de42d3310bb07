package rtc

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog/log"
)

// maxLate is how many packets the sample builder holds for reordering.
const maxLate = 128

// pcmBuffer caps buffered remote audio at one second of 48kHz mono.
const pcmBuffer = 48000

// VideoDecoder turns one depacketized frame into an image.
type VideoDecoder interface {
	Decode(frame []byte) (image.Image, error)
}

// AudioDecoder turns one depacketized frame into 48kHz mono PCM.
type AudioDecoder interface {
	Decode(frame []byte) ([]int16, error)
}

// Decoders are keyed by codec mime type, e.g. webrtc.MimeTypeVP8. Without a
// decoder for a codec the stream reports no video and silent audio.
type Decoders struct {
	Video map[string]func() VideoDecoder
	Audio map[string]func() AudioDecoder
}

// RemoteStream holds the most recent decoded media of one peer.
type RemoteStream struct {
	video remoteVideo
	audio remoteAudio
}

var _ core.RemoteStream = (*RemoteStream)(nil)

func newRemoteStream() *RemoteStream {
	return &RemoteStream{audio: remoteAudio{max: pcmBuffer}}
}

func (s *RemoteStream) Video() core.VideoSource { return &s.video }
func (s *RemoteStream) Audio() core.AudioSource { return &s.audio }

func depacketizer(mime string) rtp.Depacketizer {
	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}
	case strings.ToLower(webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}
	case strings.ToLower(webrtc.MimeTypeH264):
		return &codecs.H264Packet{}
	case strings.ToLower(webrtc.MimeTypeOpus):
		return &codecs.OpusPacket{}
	}
	return nil
}

// consume reads track until it ends, feeding complete frames to the decoder
// registered for its codec.
func (s *RemoteStream) consume(ctx context.Context, track *webrtc.TrackRemote, decoders Decoders) {
	codec := track.Codec()
	l := log.With().Str("module", "webrtc.remote").Str("track_id", track.ID()).Str("codec", codec.MimeType).Logger()
	dep := depacketizer(codec.MimeType)
	if dep == nil {
		l.Warn().Msg("unsupported codec, track ignored")
		return
	}
	sink := s.sink(track.Kind(), codec.MimeType, decoders)
	sb := samplebuilder.New(maxLate, dep, codec.ClockRate)

	for ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.Debug().Err(err).Msg("track read ended")
			}
			return
		}
		sb.Push(pkt)
		for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
			if sink != nil {
				sink(sample.Data)
			}
		}
	}
}

func (s *RemoteStream) sink(kind webrtc.RTPCodecType, mime string, decoders Decoders) func([]byte) {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		if newDec := decoders.video(mime); newDec != nil {
			dec := newDec()
			return func(frame []byte) {
				if img, err := dec.Decode(frame); err == nil && img != nil {
					s.video.set(img)
				}
			}
		}
	case webrtc.RTPCodecTypeAudio:
		if newDec := decoders.audio(mime); newDec != nil {
			dec := newDec()
			var failed bool
			return func(frame []byte) {
				pcm, err := dec.Decode(frame)
				if err != nil {
					if !failed {
						failed = true
						log.Debug().Str("module", "webrtc.remote").Err(err).Msg("audio frame not decoded")
					}
					return
				}
				s.audio.write(pcm)
			}
		}
	}
	return nil
}

func (d Decoders) video(mime string) func() VideoDecoder {
	for k, newDec := range d.Video {
		if strings.EqualFold(k, mime) {
			return newDec
		}
	}
	return nil
}

func (d Decoders) audio(mime string) func() AudioDecoder {
	for k, newDec := range d.Audio {
		if strings.EqualFold(k, mime) {
			return newDec
		}
	}
	return nil
}

type remoteVideo struct {
	mu     sync.RWMutex
	latest image.Image
}

func (v *remoteVideo) set(img image.Image) {
	v.mu.Lock()
	v.latest = img
	v.mu.Unlock()
}

func (v *remoteVideo) LatestFrame() image.Image {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.latest
}

// remoteAudio is a bounded FIFO of PCM. When full, the oldest samples go.
type remoteAudio struct {
	mu  sync.Mutex
	buf []int16
	max int
}

func (a *remoteAudio) write(pcm []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, pcm...)
	if over := len(a.buf) - a.max; a.max > 0 && over > 0 {
		a.buf = append(a.buf[:0], a.buf[over:]...)
	}
}

func (a *remoteAudio) ReadPCM(dst []int16) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := copy(dst, a.buf)
	a.buf = append(a.buf[:0], a.buf[n:]...)
	return n
}

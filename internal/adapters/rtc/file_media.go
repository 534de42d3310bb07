package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

var ErrNoMediaFiles = errors.New("no media files configured")

// oggPageDuration is the duration of one Opus page as browsers emit it.
const oggPageDuration = 20 * time.Millisecond

// FileMedia plays an IVF (VP8) and an Ogg (Opus) file in a loop as the
// local camera and microphone. Headless clients and tests use it. With
// Decoders set, the tracks also serve as local recording sources.
type FileMedia struct {
	VideoPath string
	AudioPath string
	StreamID  string
	Decoders  Decoders
}

var _ core.MediaProvider = FileMedia{}

func (m FileMedia) Acquire(ctx context.Context) ([]core.LocalTrack, error) {
	if m.VideoPath == "" && m.AudioPath == "" {
		return nil, ErrNoMediaFiles
	}
	stream := m.StreamID
	if stream == "" {
		stream = "huddle"
	}

	var tracks []core.LocalTrack
	release := func() {
		for _, t := range tracks {
			t.Stop()
		}
	}
	if m.VideoPath != "" {
		t, err := m.play(ctx, core.KindVideo, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, stream, m.VideoPath, playIVF)
		if err != nil {
			release()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if m.AudioPath != "" {
		t, err := m.play(ctx, core.KindAudio, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, stream, m.AudioPath, playOgg)
		if err != nil {
			release()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

type player func(ctx context.Context, r io.Reader, t *LocalTrack) error

func (m FileMedia) play(ctx context.Context, kind core.TrackKind, codec webrtc.RTPCodecCapability, stream, path string, p player) (*LocalTrack, error) {
	// Check the file up front so a bad path fails Acquire.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	_ = f.Close()

	t, err := NewLocalTrack(kind, codec, stream)
	if err != nil {
		return nil, err
	}
	t.Preview(m.Decoders)
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.OnStop(cancel)

	l := log.With().Str("module", "webrtc.file").Str("kind", string(kind)).Str("path", path).Logger()
	go func() {
		for ctx.Err() == nil {
			f, err := os.Open(path)
			if err != nil {
				l.Error().Err(err).Msg("reopen failed")
				return
			}
			err = p(ctx, f, t)
			_ = f.Close()
			if err == nil || errors.Is(err, io.EOF) {
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, io.ErrClosedPipe) {
				l.Error().Err(err).Msg("playback stopped")
			}
			return
		}
	}()
	return t, nil
}

func playIVF(ctx context.Context, r io.Reader, t *LocalTrack) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}
	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := t.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

func playOgg(ctx context.Context, r io.Reader, t *LocalTrack) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}
	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples)/48000*1000) * time.Millisecond
		if err := t.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}

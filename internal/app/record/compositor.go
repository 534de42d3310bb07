// Package record composites every visible stream of a call into one
// recording: video side by side on a fixed canvas, audio mixed down.
package record

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/huddle/internal/app/task"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	xdraw "golang.org/x/image/draw"
)

type Status int

const (
	Idle Status = iota
	Recording
	Stopped
)

func (s Status) String() string {
	switch s {
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

type Options struct {
	Width      int
	Height     int
	FPS        int
	SampleRate int
	Dir        string
	// OnArtifact receives the finished file, at most once per session.
	OnArtifact func(Artifact)
}

// Info describes the current or last session.
type Info struct {
	ID             string
	Status         Status
	StartedAt      time.Time
	ActiveSources  []string
	PartitionWidth float64
	Draws          int64
}

// Compositor records one session at a time.
type Compositor struct {
	sources  SourceProvider
	newMuxer MuxerFactory
	opts     Options
	now      func() time.Time

	mu   sync.Mutex
	sess *session
}

type session struct {
	id      string
	started time.Time
	path    string
	format  Format
	log     zerolog.Logger

	muxer  Muxer
	mixer  *Mixer
	canvas *image.RGBA
	pcm    []int16
	loop   *task.Periodic

	status   atomic.Int32
	draws    atomic.Int64
	stopOnce sync.Once
	stopErr  error
	artifact Artifact

	mu     sync.Mutex
	active []string
	width  float64
}

func NewCompositor(sources SourceProvider, newMuxer MuxerFactory, opts Options) *Compositor {
	if opts.Width <= 0 {
		opts.Width = 1920
	}
	if opts.Height <= 0 {
		opts.Height = 1080
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	return &Compositor{
		sources:  sources,
		newMuxer: newMuxer,
		opts:     opts,
		now:      time.Now,
	}
}

// Start opens the output and starts the draw loop.
func (c *Compositor) Start(ctx context.Context) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && Status(c.sess.status.Load()) == Recording {
		return Info{}, domain.ErrAlreadyRecording
	}

	started := c.now()
	s := &session{
		id:      uuid.NewString(),
		started: started,
		path:    filepath.Join(c.opts.Dir, ArtifactName(started)),
		format: Format{
			Width:      c.opts.Width,
			Height:     c.opts.Height,
			FPS:        c.opts.FPS,
			SampleRate: c.opts.SampleRate,
		},
		mixer:  NewMixer(),
		canvas: image.NewRGBA(image.Rect(0, 0, c.opts.Width, c.opts.Height)),
		pcm:    make([]int16, c.opts.SampleRate/c.opts.FPS),
	}
	s.log = log.With().Str("module", "record").Str("session", s.id).Logger()

	if c.opts.Dir != "" {
		if err := os.MkdirAll(c.opts.Dir, 0o755); err != nil {
			s.mixer.Close()
			return Info{}, fmt.Errorf("recording dir: %w", err)
		}
	}
	muxer, err := c.newMuxer(ctx, s.path, s.format)
	if err != nil {
		s.mixer.Close()
		observability.Recordings.WithLabelValues("failed").Inc()
		return Info{}, fmt.Errorf("open muxer: %w", err)
	}
	s.muxer = muxer
	// The handle is set before the first tick, which may finish the session.
	s.loop = task.New("record.draw", time.Second/time.Duration(s.format.FPS), func(context.Context) {
		c.tick(s)
	})
	s.status.Store(int32(Recording))
	c.sess = s
	s.loop.Start(context.WithoutCancel(ctx))
	s.log.Info().Str("path", s.path).Int("width", s.format.Width).Int("height", s.format.Height).Msg("recording started")
	return s.info(), nil
}

// Stop ends the session: the draw loop is stopped, the mixer closed and the
// output finalized. The artifact is delivered once, on a clean close.
func (c *Compositor) Stop() (Artifact, error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || Status(s.status.Load()) != Recording {
		return Artifact{}, domain.ErrNotRecording
	}
	return c.finish(s, nil)
}

// Info reports the current or last session.
func (c *Compositor) Info() Info {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return Info{Status: Idle}
	}
	return s.info()
}

func (c *Compositor) finish(s *session, cause error) (Artifact, error) {
	s.stopOnce.Do(func() {
		s.status.Store(int32(Stopped))
		// Stop waits for an in-flight tick, so no frame is drawn after this.
		s.loop.Stop()
		s.mixer.Close()

		err := s.muxer.Close()
		switch {
		case cause != nil:
			s.stopErr = cause
		case err != nil:
			s.stopErr = fmt.Errorf("finalize %s: %w", s.path, err)
		}
		if s.stopErr != nil {
			observability.Recordings.WithLabelValues("failed").Inc()
			s.log.Error().Err(s.stopErr).Msg("recording aborted")
			return
		}

		s.artifact = Artifact{
			SessionID: s.id,
			Name:      filepath.Base(s.path),
			Path:      s.path,
			StartedAt: s.started,
			StoppedAt: c.now(),
		}
		observability.Recordings.WithLabelValues("ok").Inc()
		s.log.Info().Str("path", s.path).Int64("frames", s.draws.Load()).Msg("recording stopped")
		if c.opts.OnArtifact != nil {
			c.opts.OnArtifact(s.artifact)
		}
	})
	if s.stopErr != nil {
		return Artifact{}, s.stopErr
	}
	return s.artifact, nil
}

func (c *Compositor) tick(s *session) {
	if Status(s.status.Load()) != Recording {
		return
	}
	sources := c.sources.Sources()
	videos := lo.Filter(sources, func(src Source, _ int) bool { return src.Video != nil })
	audios := lo.FilterMap(sources, func(src Source, _ int) (core.AudioSource, bool) { return src.Audio, src.Audio != nil })

	s.track(videos, s.format.Width)
	draw(s.canvas, videos)

	if err := s.muxer.WriteVideo(s.canvas); err != nil {
		go c.finish(s, fmt.Errorf("write video: %w", err))
		return
	}
	n, err := s.mixer.Mix(audios, s.pcm)
	if err != nil {
		return
	}
	if err := s.muxer.WriteAudio(s.pcm[:n]); err != nil {
		go c.finish(s, fmt.Errorf("write audio: %w", err))
		return
	}
	s.draws.Add(1)
	observability.DrawTicks.Inc()
}

// draw paints every video source into its slot, stretched to fit. A source
// without a current frame leaves its slot black.
func draw(canvas *image.RGBA, videos []Source) {
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, xdraw.Src)
	for i, rect := range Partitions(canvas.Bounds(), len(videos)) {
		frame := videos[i].Video.LatestFrame()
		if frame == nil {
			continue
		}
		xdraw.ApproxBiLinear.Scale(canvas, rect, frame, frame.Bounds(), xdraw.Src, nil)
	}
}

func (s *session) track(videos []Source, width int) {
	ids := lo.Map(videos, func(src Source, _ int) string { return src.ID })
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) != len(s.active) {
		s.log.Debug().Int("sources", len(ids)).Float64("partition", PartitionWidth(width, len(ids))).Msg("layout changed")
	}
	s.active = ids
	s.width = PartitionWidth(width, len(ids))
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.id,
		Status:         Status(s.status.Load()),
		StartedAt:      s.started,
		ActiveSources:  append([]string(nil), s.active...),
		PartitionWidth: s.width,
		Draws:          s.draws.Load(),
	}
}

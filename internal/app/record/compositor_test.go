package record

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

// blankVideo has no frame yet.
type blankVideo struct{}

func (blankVideo) LatestFrame() image.Image { return nil }

type boundedVideo struct{ img *image.RGBA }

func newBoundedVideo(c color.Color) boundedVideo {
	img := image.NewRGBA(image.Rect(0, 0, 32, 18))
	for y := 0; y < 18; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	return boundedVideo{img: img}
}

func (v boundedVideo) LatestFrame() image.Image { return v.img }

type constAudio struct{ v int16 }

func (a constAudio) ReadPCM(dst []int16) int {
	for i := range dst {
		dst[i] = a.v
	}
	return len(dst)
}

type fakeMuxer struct {
	mu     sync.Mutex
	path   string
	videos int
	audios int
	last   *image.RGBA
	closes int
	err    error
}

func (m *fakeMuxer) WriteVideo(frame *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closes > 0 {
		return errors.New("write after close")
	}
	if m.err != nil {
		return m.err
	}
	m.videos++
	m.last = image.NewRGBA(frame.Bounds())
	copy(m.last.Pix, frame.Pix)
	return nil
}

func (m *fakeMuxer) WriteAudio([]int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audios++
	return nil
}

func (m *fakeMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeMuxer) frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videos
}

type sourceSet struct {
	mu   sync.Mutex
	list []Source
}

func (s *sourceSet) Sources() []Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Source(nil), s.list...)
}

func (s *sourceSet) set(list ...Source) {
	s.mu.Lock()
	s.list = list
	s.mu.Unlock()
}

func newTestCompositor(t *testing.T, sources SourceProvider, opts Options) (*Compositor, *fakeMuxer) {
	t.Helper()
	mux := &fakeMuxer{}
	opts.Dir = t.TempDir()
	c := NewCompositor(sources, func(_ context.Context, path string, _ Format) (Muxer, error) {
		mux.path = path
		return mux, nil
	}, opts)
	return c, mux
}

func TestPartitionWidth_TilesCanvas(t *testing.T) {
	req := require.New(t)
	for _, w := range []int{1920, 1260} {
		for n := 1; n <= 3; n++ {
			req.Equal(float64(w), PartitionWidth(w, n)*float64(n))

			rects := Partitions(image.Rect(0, 0, w, 10), n)
			req.Len(rects, n)
			req.Equal(0, rects[0].Min.X)
			req.Equal(w, rects[n-1].Max.X)
			for i := 1; i < n; i++ {
				req.Equal(rects[i-1].Max.X, rects[i].Min.X)
			}
		}
	}
	req.Zero(PartitionWidth(1920, 0))
	req.Nil(Partitions(image.Rect(0, 0, 10, 10), 0))
}

func TestArtifactName(t *testing.T) {
	at := time.Date(2024, 2, 29, 13, 5, 9, 123_000_000, time.FixedZone("CET", 3600))
	require.Equal(t, "meeting_2024-02-29T12-05-09.123Z.webm", ArtifactName(at))
}

func TestMixer_GainKeepsFullScaleInRange(t *testing.T) {
	req := require.New(t)
	m := NewMixer()
	dst := make([]int16, 4)

	// Three full-scale sources average instead of clipping
	n, err := m.Mix([]core.AudioSource{constAudio{32767}, constAudio{32767}, constAudio{32767}}, dst)
	req.NoError(err)
	req.Equal(4, n)
	req.Equal(int16(32767), dst[0])

	_, err = m.Mix([]core.AudioSource{constAudio{1000}, constAudio{-1000}}, dst)
	req.NoError(err)
	req.Equal(int16(0), dst[3])

	_, err = m.Mix(nil, dst)
	req.NoError(err)
	req.Equal([]int16{0, 0, 0, 0}, dst)

	m.Close()
	req.True(m.Closed())
	_, err = m.Mix(nil, dst)
	req.ErrorIs(err, ErrMixerClosed)
}

func TestCompositor_LocalTwoRemotesAndScreen(t *testing.T) {
	req := require.New(t)
	sources := &sourceSet{}
	sources.set(
		Source{ID: "local", Kind: SourceLocal, Video: newBoundedVideo(color.RGBA{R: 255, A: 255}), Audio: constAudio{100}},
		Source{ID: "peer-1", Kind: SourceRemote, Video: newBoundedVideo(color.RGBA{G: 255, A: 255}), Audio: constAudio{200}},
		Source{ID: "peer-2", Kind: SourceRemote, Video: blankVideo{}, Audio: constAudio{300}},
		Source{ID: "screen", Kind: SourceScreen, Video: newBoundedVideo(color.RGBA{B: 255, A: 255})},
	)
	var mu sync.Mutex
	var artifacts []Artifact
	c, mux := newTestCompositor(t, sources, Options{Width: 400, Height: 40, FPS: 50, OnArtifact: func(a Artifact) {
		mu.Lock()
		artifacts = append(artifacts, a)
		mu.Unlock()
	}})

	// When recording runs for a few frames
	info, err := c.Start(context.Background())
	req.NoError(err)
	req.Equal(Recording, info.Status)
	req.Eventually(func() bool { return mux.frames() >= 3 }, 2*time.Second, 5*time.Millisecond)

	// Then the four sources share the canvas
	req.Equal([]string{"local", "peer-1", "peer-2", "screen"}, c.Info().ActiveSources)
	req.Equal(100.0, c.Info().PartitionWidth)
	mux.mu.Lock()
	frame := mux.last
	mux.mu.Unlock()
	req.Equal(color.RGBA{R: 255, A: 255}, frame.RGBAAt(50, 20))
	req.Equal(color.RGBA{G: 255, A: 255}, frame.RGBAAt(150, 20))
	req.Equal(color.RGBA{A: 255}, frame.RGBAAt(250, 20))
	req.Equal(color.RGBA{B: 255, A: 255}, frame.RGBAAt(350, 20))

	// When recording stops
	art, err := c.Stop()
	req.NoError(err)
	drawn := mux.frames()

	// Then exactly one artifact, the mixer is closed and drawing has ended
	time.Sleep(60 * time.Millisecond)
	req.Equal(drawn, mux.frames())
	req.Equal(1, mux.closes)
	req.True(c.sess.mixer.Closed())
	req.Equal(Stopped, c.Info().Status)
	mu.Lock()
	req.Len(artifacts, 1)
	req.Equal(art, artifacts[0])
	mu.Unlock()
	req.Equal(mux.path, art.Path)
	req.Regexp(`^meeting_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3}Z\.webm$`, art.Name)

	// Then a second stop does not produce another artifact
	_, err = c.Stop()
	req.ErrorIs(err, domain.ErrNotRecording)
	mu.Lock()
	req.Len(artifacts, 1)
	mu.Unlock()
}

func TestCompositor_SourceChangesApplyWithoutRestart(t *testing.T) {
	req := require.New(t)
	sources := &sourceSet{}
	sources.set(Source{ID: "local", Video: blankVideo{}})
	c, mux := newTestCompositor(t, sources, Options{Width: 300, Height: 10, FPS: 50})

	_, err := c.Start(context.Background())
	req.NoError(err)
	req.Eventually(func() bool { return c.Info().PartitionWidth == 300 }, 2*time.Second, 5*time.Millisecond)
	id := c.Info().ID

	// When two peers join mid-recording
	sources.set(Source{ID: "local", Video: blankVideo{}}, Source{ID: "a", Video: blankVideo{}}, Source{ID: "b", Video: blankVideo{}})

	// Then the next tick uses three slots in the same session
	req.Eventually(func() bool { return c.Info().PartitionWidth == 100 }, 2*time.Second, 5*time.Millisecond)
	req.Equal(id, c.Info().ID)
	mux.mu.Lock()
	req.Equal(0, mux.closes)
	mux.mu.Unlock()

	_, err = c.Stop()
	req.NoError(err)
}

func TestCompositor_StartTwiceAndStopIdle(t *testing.T) {
	req := require.New(t)
	c, _ := newTestCompositor(t, SourceFunc(func() []Source { return nil }), Options{FPS: 50})

	_, err := c.Stop()
	req.ErrorIs(err, domain.ErrNotRecording)

	_, err = c.Start(context.Background())
	req.NoError(err)
	_, err = c.Start(context.Background())
	req.ErrorIs(err, domain.ErrAlreadyRecording)

	_, err = c.Stop()
	req.NoError(err)
}

func TestCompositor_WriteFailureCleansUp(t *testing.T) {
	req := require.New(t)
	var called atomic.Bool
	mux := &fakeMuxer{err: errors.New("pipe closed")}
	c := NewCompositor(SourceFunc(func() []Source { return nil }), func(context.Context, string, Format) (Muxer, error) {
		return mux, nil
	}, Options{FPS: 50, Dir: t.TempDir(), OnArtifact: func(Artifact) { called.Store(true) }})

	_, err := c.Start(context.Background())
	req.NoError(err)

	// Then the session ends on its own with everything released
	req.Eventually(func() bool { return c.Info().Status == Stopped }, 2*time.Second, 5*time.Millisecond)
	req.Eventually(func() bool {
		mux.mu.Lock()
		defer mux.mu.Unlock()
		return mux.closes == 1
	}, 2*time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return c.sess.mixer.Closed() }, 2*time.Second, 5*time.Millisecond)
	req.False(called.Load())

	_, err = c.Stop()
	req.ErrorIs(err, domain.ErrNotRecording)
}

func TestCompositor_FailureOnFirstTick(t *testing.T) {
	req := require.New(t)
	for i := 0; i < 20; i++ {
		// Given a muxer that fails the first frame of a fast loop
		mux := &fakeMuxer{err: errors.New("pipe closed")}
		c := NewCompositor(SourceFunc(func() []Source { return nil }), func(context.Context, string, Format) (Muxer, error) {
			return mux, nil
		}, Options{Width: 16, Height: 16, FPS: 1000, Dir: t.TempDir()})

		// When the session starts
		_, err := c.Start(context.Background())
		req.NoError(err)

		// Then the failing tick stops the loop it was started by
		req.Eventually(func() bool { return c.Info().Status == Stopped }, 2*time.Second, time.Millisecond)
		req.Eventually(func() bool { return c.sess.mixer.Closed() }, 2*time.Second, time.Millisecond)
	}
}

func TestCompositor_MuxerOpenFailure(t *testing.T) {
	c := NewCompositor(SourceFunc(func() []Source { return nil }), func(context.Context, string, Format) (Muxer, error) {
		return nil, errors.New("ffmpeg not found")
	}, Options{Dir: t.TempDir()})

	_, err := c.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, Idle, c.Info().Status)
}

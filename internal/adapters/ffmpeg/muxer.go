// Package ffmpeg encodes the compositor's raw canvas and PCM into a WebM file
// by feeding an ffmpeg process over pipes.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/dkeye/huddle/internal/app/record"
	"github.com/rs/zerolog/log"
)

// Muxer owns one ffmpeg process. Video goes to stdin as raw RGBA, audio to
// fd 3 as s16le mono.
type Muxer struct {
	cmd    *exec.Cmd
	video  io.WriteCloser
	audio  *os.File
	stderr bytes.Buffer
	path   string

	buf       []byte
	closeOnce sync.Once
	closeErr  error
}

var _ record.Muxer = (*Muxer)(nil)

// NewFactory returns a record.MuxerFactory running the ffmpeg binary at
// bin.
func NewFactory(bin string) record.MuxerFactory {
	if bin == "" {
		bin = "ffmpeg"
	}
	return func(ctx context.Context, path string, f record.Format) (record.Muxer, error) {
		return Start(ctx, bin, path, f)
	}
}

func args(path string, f record.Format) []string {
	size := strconv.Itoa(f.Width) + "x" + strconv.Itoa(f.Height)
	return []string{
		"-y", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-s", size, "-r", strconv.Itoa(f.FPS), "-i", "pipe:0",
		"-f", "s16le", "-ar", strconv.Itoa(f.SampleRate), "-ac", "1", "-i", "pipe:3",
		"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8", "-b:v", "2M", "-pix_fmt", "yuv420p",
		"-c:a", "libopus", "-b:a", "96k",
		path,
	}
}

// Start launches ffmpeg. The process outlives ctx; Close ends it.
func Start(_ context.Context, bin, path string, f record.Format) (*Muxer, error) {
	cmd := exec.Command(bin, args(path, f)...)
	m := &Muxer{cmd: cmd, path: path}
	cmd.Stderr = &m.stderr

	video, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	audioR, audioW, err := os.Pipe()
	if err != nil {
		_ = video.Close()
		return nil, err
	}
	cmd.ExtraFiles = []*os.File{audioR}

	if err := cmd.Start(); err != nil {
		_ = video.Close()
		_ = audioR.Close()
		_ = audioW.Close()
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	// The child holds its own copy of the read end.
	_ = audioR.Close()
	m.video, m.audio = video, audioW

	log.Info().Str("module", "ffmpeg").Str("path", path).Int("pid", cmd.Process.Pid).Msg("muxer started")
	return m, nil
}

func (m *Muxer) WriteVideo(frame *image.RGBA) error {
	_, err := m.video.Write(frame.Pix)
	return err
}

func (m *Muxer) WriteAudio(pcm []int16) error {
	if cap(m.buf) < len(pcm)*2 {
		m.buf = make([]byte, len(pcm)*2)
	}
	b := m.buf[:len(pcm)*2]
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	_, err := m.audio.Write(b)
	return err
}

// Close signals end of input and waits for ffmpeg to finalize the file.
func (m *Muxer) Close() error {
	m.closeOnce.Do(func() {
		_ = m.video.Close()
		_ = m.audio.Close()
		if err := m.cmd.Wait(); err != nil {
			m.closeErr = fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(m.stderr.String()))
			log.Error().Str("module", "ffmpeg").Str("path", m.path).Err(m.closeErr).Msg("muxer failed")
			return
		}
		log.Info().Str("module", "ffmpeg").Str("path", m.path).Msg("muxer finished")
	})
	return m.closeErr
}

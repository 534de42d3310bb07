package record

import (
	"context"
	"image"
)

// Format describes the raw streams handed to a Muxer.
type Format struct {
	Width      int
	Height     int
	FPS        int
	SampleRate int
}

// Muxer encodes the composite canvas and the mixed audio into one file.
type Muxer interface {
	// WriteVideo takes one canvas frame; the muxer copies what it needs.
	WriteVideo(frame *image.RGBA) error
	// WriteAudio takes interleaved signed 16-bit mono samples.
	WriteAudio(pcm []int16) error
	// Close flushes and finalizes the output.
	Close() error
}

type MuxerFactory func(ctx context.Context, path string, f Format) (Muxer, error)

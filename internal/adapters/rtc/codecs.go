package rtc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"

	"github.com/pion/opus"
	"github.com/pion/webrtc/v4"
	"golang.org/x/image/vp8"
)

var ErrEmptyFrame = errors.New("empty frame")

// opusFrameBytes is 20ms of 48kHz mono s16le, the most one SILK frame decodes to.
const opusFrameBytes = 1920

// DefaultDecoders decodes VP8 key frames and SILK-mode Opus.
func DefaultDecoders() Decoders {
	return Decoders{
		Video: map[string]func() VideoDecoder{
			webrtc.MimeTypeVP8: func() VideoDecoder { return &VP8Decoder{} },
		},
		Audio: map[string]func() AudioDecoder{
			webrtc.MimeTypeOpus: func() AudioDecoder { return NewOpusDecoder() },
		},
	}
}

// VP8Decoder decodes key frames only. Inter frames return a nil image, so the
// stream keeps showing the last key frame until the next one arrives.
type VP8Decoder struct{}

func (VP8Decoder) Decode(frame []byte) (image.Image, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	// The image aliases the decoder's buffer, so each frame gets a fresh one.
	d := vp8.NewDecoder()
	d.Init(bytes.NewReader(frame), len(frame))
	fh, err := d.DecodeFrameHeader()
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, nil
	}
	return d.DecodeFrame()
}

// OpusDecoder turns Opus packets into 48kHz mono PCM.
type OpusDecoder struct {
	dec opus.Decoder
	out []byte
}

func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{dec: opus.NewDecoder(), out: make([]byte, opusFrameBytes)}
}

func (d *OpusDecoder) Decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	if _, _, err := d.dec.Decode(frame, d.out); err != nil {
		return nil, err
	}
	pcm := make([]int16, len(d.out)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(d.out[2*i:]))
	}
	return pcm, nil
}

package record

import (
	"errors"
	"math"
	"sync"

	"github.com/dkeye/huddle/internal/core"
)

var ErrMixerClosed = errors.New("mixer closed")

// Mixer sums mono PCM from any number of sources into one bus. Each source
// passes through its own gain of 1/N, so N full-scale sources cannot clip.
type Mixer struct {
	mu      sync.Mutex
	closed  bool
	scratch []int16
	acc     []float64
}

func NewMixer() *Mixer { return &Mixer{} }

// Mix fills dst with the mix of sources and returns len(dst). Sources that
// have fewer samples ready contribute silence for the rest.
func (m *Mixer) Mix(sources []core.AudioSource, dst []int16) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrMixerClosed
	}
	if len(sources) == 0 {
		clear(dst)
		return len(dst), nil
	}
	if cap(m.scratch) < len(dst) {
		m.scratch = make([]int16, len(dst))
		m.acc = make([]float64, len(dst))
	}
	scratch, acc := m.scratch[:len(dst)], m.acc[:len(dst)]
	clear(acc)

	gain := 1 / float64(len(sources))
	for _, src := range sources {
		n := src.ReadPCM(scratch)
		for i := 0; i < n && i < len(acc); i++ {
			acc[i] += float64(scratch[i]) * gain
		}
	}
	for i, v := range acc {
		dst[i] = clamp16(v)
	}
	return len(dst), nil
}

// Close releases the bus. Further Mix calls fail.
func (m *Mixer) Close() {
	m.mu.Lock()
	m.closed = true
	m.scratch, m.acc = nil, nil
	m.mu.Unlock()
}

func (m *Mixer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

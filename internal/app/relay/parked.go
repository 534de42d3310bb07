package relay

import (
	"sync"
	"time"
)

// defaultParkLimit is how many frames a parked member may miss before it is
// dropped from its room.
const defaultParkLimit = 256

// parkedConn stands in for the connection of a member inside its reconnect
// grace period. It holds what the room sends until the member comes back.
type parkedConn struct {
	mu     sync.Mutex
	frames [][]byte
	limit  int
	timer  *time.Timer
	closed bool
}

var _ Conn = (*parkedConn)(nil)

func newParkedConn(limit int) *parkedConn {
	if limit <= 0 {
		limit = defaultParkLimit
	}
	return &parkedConn{limit: limit}
}

func (p *parkedConn) TrySend(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.frames) >= p.limit {
		return ErrBackpressure
	}
	p.frames = append(p.frames, frame)
	return nil
}

// arm calls expire once d has passed, unless the park ends first.
func (p *parkedConn) arm(d time.Duration, expire func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.timer = time.AfterFunc(d, expire)
	}
}

// Close ends the park and stops its timer.
func (p *parkedConn) Close() { p.drain() }

// drain ends the park and hands back the held frames in order.
func (p *parkedConn) drain() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	frames := p.frames
	p.frames = nil
	return frames
}

func (p *parkedConn) held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

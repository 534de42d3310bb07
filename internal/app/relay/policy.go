package relay

import "github.com/dkeye/huddle/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room *Room, peer domain.PeerID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*Room, domain.PeerID) BackpressureAction {
	return KickMember
}

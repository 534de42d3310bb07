//go:generate go run go.uber.org/mock/mockgen -source=signal_iface.go -destination=mocks/mock_signal.go -package=mocks
package core

import (
	"context"

	"github.com/dkeye/huddle/internal/protocol"
)

// SignalingChannel is the client's view of the relay: an at-least-once,
// per-room multicast channel delivering frames in the order the relay sent
// them.
// Owned by the adapter; the adapter must Close() it.
type SignalingChannel interface {
	// Self is the transport identifier the relay knows this client by.
	Self() PeerID
	Emit(ctx context.Context, msg protocol.Message) error
	// Messages is closed when the underlying connection is gone.
	Messages() <-chan protocol.Message
	Close() error
}

// Package signal carries protocol frames over WebSocket: the relay side
// serves them to the hub, the client side implements core.SignalingChannel.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app/relay"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrConnClosed = errors.New("connection closed")

const sendQueue = 64

type SignalWSController struct {
	Hub        *relay.Hub
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(hub *relay.Hub, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	return &SignalWSController{Hub: hub, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

// WsSignalConn is the relay side of one client socket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

var _ relay.Conn = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return relay.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the socket to the hub. The
// peer id comes from the sid query parameter when the client brings one.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	peer := domain.PeerID(c.Query("sid"))
	if domain.ValidatePeerID(peer) != nil {
		peer = domain.PeerID(uuid.NewString())
	}
	identity := domain.ParticipantID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan []byte, sendQueue),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Connect(peer, identity, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, peer, conn)
}

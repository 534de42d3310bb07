package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is the participant side of the relay socket.
type Client struct {
	ws   *websocket.Conn
	self core.PeerID
	send chan []byte
	in   chan protocol.Message

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

var _ core.SignalingChannel = (*Client)(nil)

// Dial connects to the relay endpoint at rawURL, announcing self as the
// peer id.
func Dial(ctx context.Context, rawURL string, self core.PeerID) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("sid", string(self))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:     ws,
		self:   self,
		send:   make(chan []byte, sendQueue),
		in:     make(chan protocol.Message, sendQueue),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	log.Info().Str("module", "signal.client").Str("peer", string(self)).Str("host", u.Host).Msg("connected")
	return c, nil
}

func (c *Client) Self() core.PeerID { return c.self }

func (c *Client) Messages() <-chan protocol.Message { return c.in }

func (c *Client) Emit(ctx context.Context, msg protocol.Message) error {
	if c.ctx.Err() != nil {
		return ErrConnClosed
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// Close sends a close frame and waits for the writer to stop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		_ = c.ws.Close()
	})
	return nil
}

func (c *Client) writePump() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.cancel()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal.client").Msg("write error")
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		close(c.in)
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal.client").Msg("read error")
			}
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "signal.client").Msg("bad frame")
			continue
		}
		select {
		case c.in <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

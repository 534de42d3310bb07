package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/app/relay"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := relay.NewHub(nil)
	ctl := NewSignalWSController(hub, 32768, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func next(t *testing.T, c core.SignalingChannel, want protocol.Type) protocol.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-c.Messages():
			require.True(t, ok, "channel closed waiting for %s", want)
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for "+string(want))
		}
	}
}

func join(t *testing.T, c *Client, name string) {
	t.Helper()
	msg, err := protocol.New(protocol.TypeJoinRoom, "room-1", "", "", protocol.JoinRoom{Participant: domain.Participant{Name: name}})
	require.NoError(t, err)
	require.NoError(t, c.Emit(context.Background(), msg))
}

func TestClient_JoinChatAndLeaveOverWebSocket(t *testing.T) {
	req := require.New(t)
	hub, url := newRelay(t)
	ctx := context.Background()

	alice, err := Dial(ctx, url, "peer-a")
	req.NoError(err)
	defer alice.Close()
	bob, err := Dial(ctx, url, "peer-b")
	req.NoError(err)

	// When both join
	join(t, alice, "alice")
	var roster protocol.RosterSnapshot
	req.NoError(next(t, alice, protocol.TypeRosterSnapshot).Decode(&roster))
	req.Empty(roster.Participants)

	join(t, bob, "bob")
	req.NoError(next(t, bob, protocol.TypeRosterSnapshot).Decode(&roster))
	req.Len(roster.Participants, 1)
	req.Equal(domain.PeerID("peer-a"), roster.Participants[0].PeerID)

	// When bob chats, both see it
	chat, err := protocol.New(protocol.TypeChatSend, "room-1", "", "", protocol.Chat{Text: "hello"})
	req.NoError(err)
	req.NoError(bob.Emit(ctx, chat))
	for _, c := range []*Client{alice, bob} {
		var got protocol.Chat
		msg := next(t, c, protocol.TypeChatMessage)
		req.Equal(domain.PeerID("peer-b"), msg.From)
		req.NoError(msg.Decode(&got))
		req.Equal("hello", got.Text)
	}

	// When bob's socket goes away alice sees him leave
	req.NoError(bob.Close())
	req.NoError(bob.Close())
	left := next(t, alice, protocol.TypePeerLeft)
	req.Equal(domain.PeerID("peer-b"), left.From)
	req.Eventually(func() bool { return hub.Registry.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	// Then emitting on a closed client fails
	req.ErrorIs(bob.Emit(ctx, chat), ErrConnClosed)
}

func TestClient_PingAndBadPeerID(t *testing.T) {
	req := require.New(t)
	_, url := newRelay(t)

	c, err := Dial(context.Background(), url, domain.PeerID(strings.Repeat("x", 64)))
	req.NoError(err)
	defer c.Close()

	req.NoError(c.Emit(context.Background(), protocol.Message{Type: protocol.TypePing}))
	next(t, c, protocol.TypePong)

	// Signaling before joining is answered with an error frame
	req.NoError(c.Emit(context.Background(), protocol.Message{Type: protocol.TypeLeaveRoom}))
	req.NoError(c.Emit(context.Background(), protocol.Message{Type: protocol.TypeSendingSignal, To: "nobody"}))
	msg := next(t, c, protocol.TypeError)
	req.Contains(msg.Error, domain.ErrNotJoined.Error())
}

func TestClient_ServerShutdownClosesMessages(t *testing.T) {
	req := require.New(t)
	gin.SetMode(gin.TestMode)
	hub := relay.NewHub(nil)
	ctl := NewSignalWSController(hub, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", "peer-a")
	req.NoError(err)
	defer c.Close()

	cancel()
	req.Eventually(func() bool {
		select {
		case _, ok := <-c.Messages():
			return !ok
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

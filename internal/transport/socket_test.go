package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/qpub/qpub-client-go/internal/frame"
)

// newEchoServer starts a websocket server that echoes every inbound
// frame back verbatim, standing in for the QPub server in tests — the
// teacher's own test style (internal/websocket/connection_test.go) spins
// up a real httptest server rather than mocking the dialer.
func newEchoServer(t *testing.T) (*httptest.Server, string) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}))
	wsURL := "ws" + srv.URL[len("http"):]
	return srv, wsURL
}

func TestConnectSendReceive(t *testing.T) {
	srv, wsURL := newEchoServer(t)
	defer srv.Close()

	received := make(chan frame.Envelope, 1)
	s := New(wsURL, WithPingInterval(time.Hour))
	s.OnGlobalFrame(func(e frame.Envelope) { received <- e })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	require.NoError(t, s.SendEnvelope(ctx, frame.Envelope{Action: frame.ActionPing, Timestamp: 42}))

	select {
	case env := <-received:
		require.Equal(t, frame.ActionPing, env.Action)
		require.Equal(t, int64(42), env.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestChannelFrameRouting(t *testing.T) {
	srv, wsURL := newEchoServer(t)
	defer srv.Close()

	gotA := make(chan frame.Envelope, 1)
	gotB := make(chan frame.Envelope, 1)

	s := New(wsURL, WithPingInterval(time.Hour))
	s.OnChannelFrame("a", func(e frame.Envelope) { gotA <- e })
	s.OnChannelFrame("b", func(e frame.Envelope) { gotB <- e })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	require.NoError(t, s.SendEnvelope(ctx, frame.Envelope{Action: frame.ActionSubscribed, Channel: "a"}))

	select {
	case env := <-gotA:
		require.Equal(t, "a", env.Channel)
	case <-time.After(time.Second):
		t.Fatal("channel a never received its frame")
	}

	select {
	case <-gotB:
		t.Fatal("channel b should not have received channel a's frame")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendBeforeConnectFails(t *testing.T) {
	s := New("ws://unused")
	err := s.Send(context.Background(), []byte("{}"))
	require.Error(t, err)
}

func TestDoubleConnectFails(t *testing.T) {
	srv, wsURL := newEchoServer(t)
	defer srv.Close()

	s := New(wsURL, WithPingInterval(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	require.Error(t, s.Connect(ctx))
}

package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/qpub/qpub-client-go/internal/channel"
	"github.com/qpub/qpub-client-go/internal/dispatch"
	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/transport"
)

// newScriptedServer mirrors internal/channel's test harness: a real
// websocket server that always acknowledges SUBSCRIBE, standing in for
// a QPub server rather than mocking the dialer.
func newScriptedServer(t *testing.T) (*httptest.Server, string, func() int) {
	var mu sync.Mutex
	var subscribeCount int
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		var writeMu sync.Mutex
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := frame.Decode(data)
			if err != nil {
				continue
			}
			if env.Action == frame.ActionSubscribe {
				mu.Lock()
				subscribeCount++
				mu.Unlock()
				raw, _ := frame.Encode(frame.Envelope{Action: frame.ActionSubscribed, Channel: env.Channel})
				writeMu.Lock()
				conn.WriteMessage(websocket.TextMessage, raw)
				writeMu.Unlock()
			}
		}
	}))
	wsURL := "ws" + srv.URL[len("http"):]
	return srv, wsURL, func() int {
		mu.Lock()
		defer mu.Unlock()
		return subscribeCount
	}
}

func connectedSocket(t *testing.T, wsURL string) *transport.Socket {
	s := transport.New(wsURL, transport.WithPingInterval(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	return s
}

func TestGetIsIdempotentAndRefcounts(t *testing.T) {
	srv, wsURL, _ := newScriptedServer(t)
	defer srv.Close()

	sock := connectedSocket(t, wsURL)
	defer sock.Close()
	loop := dispatch.New()
	defer loop.Close()

	r := New(sock, loop, nil, zerolog.Nop())
	a := r.Get("orders")
	b := r.Get("orders")
	require.Same(t, a, b)

	// Two Get calls, two releases: the channel has no callbacks, so it is
	// removed on the second release.
	r.Release("orders")
	r.Release("orders")
	require.Empty(t, r.Snapshot())
}

func TestReleaseKeepsChannelWithCallbacksForResubscribe(t *testing.T) {
	srv, wsURL, _ := newScriptedServer(t)
	defer srv.Close()

	sock := connectedSocket(t, wsURL)
	defer sock.Close()
	loop := dispatch.New()
	defer loop.Close()

	r := New(sock, loop, nil, zerolog.Nop())
	ch := r.Get("orders")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ch.Subscribe(ctx, func(frame.DeliveredMessage) {}, channel.SubscribeOptions{})
	require.NoError(t, err)

	r.Release("orders")
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "orders", snap[0].Name)
	require.True(t, snap[0].HasCallbacks)
}

func TestResubscribeAllSweepsEveryChannelOnce(t *testing.T) {
	srv, wsURL, subscribeCount := newScriptedServer(t)
	defer srv.Close()

	sock := connectedSocket(t, wsURL)
	defer sock.Close()
	loop := dispatch.New()
	defer loop.Close()

	r := New(sock, loop, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a := r.Get("a")
	b := r.Get("b")
	_, err := a.Subscribe(ctx, func(frame.DeliveredMessage) {}, channel.SubscribeOptions{})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, func(frame.DeliveredMessage) {}, channel.SubscribeOptions{})
	require.NoError(t, err)

	require.Equal(t, 2, subscribeCount())

	r.ResubscribeAll(ctx)
	require.Equal(t, 4, subscribeCount())
}

func TestResetAllClearsEveryChannel(t *testing.T) {
	srv, wsURL, _ := newScriptedServer(t)
	defer srv.Close()

	sock := connectedSocket(t, wsURL)
	defer sock.Close()
	loop := dispatch.New()
	defer loop.Close()

	r := New(sock, loop, nil, zerolog.Nop())
	r.Get("a")
	r.Get("b")
	require.Len(t, r.Snapshot(), 2)

	r.ResetAll()
	require.Empty(t, r.Snapshot())
}

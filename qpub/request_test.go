package qpub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/options"
)

func TestRequestInstancePublishBatchSendsSignedRequest(t *testing.T) {
	var gotAuth string
	var gotBody registryPublishBatchBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"published":true}`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	inst := NewRequestInstance(
		options.WithAPIKey("key-id:key-secret"),
		options.WithHTTPHost(host),
		options.WithHTTPPort(port),
		options.WithSecure(false),
	)
	defer inst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := inst.PublishBatch(ctx, "/publish", []string{"a", "b"}, []frame.DataMessagePayload{
		{Data: []byte(`"x"`)},
	})
	require.NoError(t, err)
	require.Contains(t, string(resp), "published")

	require.Equal(t, "key-id:key-secret", gotAuth)
	require.Equal(t, []string{"a", "b"}, gotBody.Channels)
	require.Len(t, gotBody.Messages, 1)
}

// registryPublishBatchBody mirrors registry.PublishBatchPayload's wire
// shape for decoding in this test without importing the internal
// package's unexported details.
type registryPublishBatchBody struct {
	Channels []string                   `json:"channels"`
	Messages []frame.DataMessagePayload `json:"messages"`
}

func TestRequestInstanceIDHasRestPrefix(t *testing.T) {
	inst := NewRequestInstance()
	defer inst.Close()
	require.Contains(t, inst.ID(), "rest_")
}

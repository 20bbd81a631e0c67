package httprequester

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpub/qpub-client-go/internal/errs"
)

func TestClient_PostAttachesHeaders(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"token":"abc"}`))
	}))
	defer server.Close()

	c := New(Config{
		BaseURL: server.URL,
		Headers: func(ctx context.Context) (map[string]string, error) {
			return map[string]string{"Authorization": "Bearer test"}, nil
		},
	})

	body, err := c.Post(context.Background(), "/auth", map[string]string{"keyId": "k1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test", gotAuth)
	assert.Equal(t, "k1", gotBody["keyId"])
	assert.JSONEq(t, `{"token":"abc"}`, string(body))
}

func TestClient_NonRetryableStatusFailsImmediately(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":1,"message":"bad request","statusCode":400}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, MaxRetries: 3})
	_, err := c.Get(context.Background(), "/thing")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errs.Is(err, errs.KindProtocolError))
}

func TestClient_RetriesOnServerError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"code":2,"message":"unavailable","statusCode":503}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, MaxRetries: 3})
	body, err := c.Get(context.Background(), "/thing")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClient_HeaderSourceErrorAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called when header composition fails")
	}))
	defer server.Close()

	wantErr := errs.AuthFailure("auth.getAuthHeaders", "no token available")
	c := New(Config{
		BaseURL: server.URL,
		Headers: func(ctx context.Context) (map[string]string, error) { return nil, wantErr },
	})

	_, err := c.Post(context.Background(), "/publish", map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Equal(t, wantErr, err)
}

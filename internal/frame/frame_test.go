package frame

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpub/qpub-client-go/internal/errs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Subscribe("orders.btc")
	raw, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionSubscribe, decoded.Action)
	assert.Equal(t, "orders.btc", decoded.Channel)
}

func TestDecodeMalformedReturnsParseError(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInternalParseError))
}

func TestProjectMessagesSinglePayloadPreservesID(t *testing.T) {
	env := Envelope{
		Action:    ActionMessage,
		ID:        "m1",
		Timestamp: 100,
		Channel:   "c",
		Messages: []DataMessagePayload{
			{Data: json.RawMessage(`1`)},
		},
	}
	delivered := ProjectMessages(env)
	require.Len(t, delivered, 1)
	assert.Equal(t, "m1", delivered[0].ID)
}

func TestProjectMessagesMultiPayloadSuffixesID(t *testing.T) {
	env := Envelope{
		Action:    ActionMessage,
		ID:        "m1",
		Timestamp: 100,
		Channel:   "c",
		Messages: []DataMessagePayload{
			{Data: json.RawMessage(`1`)},
			{Data: json.RawMessage(`2`)},
			{Data: json.RawMessage(`3`)},
		},
	}
	delivered := ProjectMessages(env)
	require.Len(t, delivered, 3)
	assert.Equal(t, "m1-0", delivered[0].ID)
	assert.Equal(t, "m1-1", delivered[1].ID)
	assert.Equal(t, "m1-2", delivered[2].ID)
}

func TestActionStringCoversAllVariants(t *testing.T) {
	cases := []Action{
		ActionConnect, ActionConnected, ActionDisconnect, ActionDisconnected,
		ActionSubscribe, ActionSubscribed, ActionUnsubscribe, ActionUnsubscribed,
		ActionPublish, ActionPublished, ActionMessage, ActionError, ActionPing, ActionPong,
	}
	for _, c := range cases {
		assert.NotEqual(t, "unknown", c.String())
	}
}

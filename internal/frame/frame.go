// Package frame implements the QPub wire protocol: a JSON object per
// frame with an integer `action` discriminator, following the teacher's
// StreamMessage/json.RawMessage idiom (internal/websocket/types.go) for
// deferred, polymorphic decoding.
package frame

import (
	"encoding/json"

	"github.com/qpub/qpub-client-go/internal/errs"
)

// Action is the wire-level frame discriminator.
type Action int

const (
	ActionConnect      Action = 0
	ActionConnected    Action = 1
	ActionDisconnect   Action = 2
	ActionDisconnected Action = 3
	ActionSubscribe    Action = 4
	ActionSubscribed   Action = 5
	ActionUnsubscribe  Action = 6
	ActionUnsubscribed Action = 7
	ActionPublish      Action = 8
	ActionPublished    Action = 9
	ActionMessage      Action = 10
	ActionError        Action = 11
	ActionPing         Action = 12
	ActionPong         Action = 13
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionConnected:
		return "connected"
	case ActionDisconnect:
		return "disconnect"
	case ActionDisconnected:
		return "disconnected"
	case ActionSubscribe:
		return "subscribe"
	case ActionSubscribed:
		return "subscribed"
	case ActionUnsubscribe:
		return "unsubscribe"
	case ActionUnsubscribed:
		return "unsubscribed"
	case ActionPublish:
		return "publish"
	case ActionPublished:
		return "published"
	case ActionMessage:
		return "message"
	case ActionError:
		return "error"
	case ActionPing:
		return "ping"
	case ActionPong:
		return "pong"
	default:
		return "unknown"
	}
}

// DataMessagePayload is a single entry in an inbound MESSAGE frame's
// `messages` array, or an outbound PUBLISH frame's `messages` array.
type DataMessagePayload struct {
	Alias string          `json:"alias,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectionDetails accompanies a CONNECTED frame.
type ConnectionDetails struct {
	Alias    string `json:"alias,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	ServerID string `json:"server_id,omitempty"`
}

// ErrorPayload accompanies an ERROR frame.
type ErrorPayload struct {
	Code       int    `json:"code"`
	Href       string `json:"href,omitempty"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// Envelope is the wire representation of every frame, a superset of all
// variant fields per §6. Unused fields are simply absent on the wire via
// `omitempty`.
type Envelope struct {
	Action Action `json:"action"`

	Channel string `json:"channel,omitempty"`

	// CONNECTED
	ConnectionID      string             `json:"connection_id,omitempty"`
	ConnectionDetails *ConnectionDetails `json:"connection_details,omitempty"`

	// DISCONNECTED
	Reason string `json:"reason,omitempty"`
	Code   int    `json:"code,omitempty"`

	// SUBSCRIBED / UNSUBSCRIBED
	SubscriptionID string `json:"subscription_id,omitempty"`

	// MESSAGE
	ID        string               `json:"id,omitempty"`
	Timestamp int64                `json:"timestamp,omitempty"`
	Messages  []DataMessagePayload `json:"messages,omitempty"`

	// ERROR
	Error *ErrorPayload `json:"error,omitempty"`
}

// Encode marshals an Envelope to its wire JSON form.
func Encode(e Envelope) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errs.Wrap("frame.encode", errs.KindInternalParseError, "failed to encode frame", err)
	}
	return raw, nil
}

// Decode parses a wire JSON payload into an Envelope. Parsing failures
// return a KindInternalParseError per §7; transport.Socket then hands
// its global frame handler an ERROR envelope whose message is
// "message_parsing" in place of the undecodable frame.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, errs.InternalParseError("frame.decode", err)
	}
	return e, nil
}

// Connect builds an outgoing CONNECT frame.
func Connect() Envelope { return Envelope{Action: ActionConnect} }

// Disconnect builds an outgoing DISCONNECT frame.
func Disconnect() Envelope { return Envelope{Action: ActionDisconnect} }

// Subscribe builds an outgoing SUBSCRIBE frame for channel.
func Subscribe(channel string) Envelope {
	return Envelope{Action: ActionSubscribe, Channel: channel}
}

// Unsubscribe builds an outgoing UNSUBSCRIBE frame for channel.
func Unsubscribe(channel string) Envelope {
	return Envelope{Action: ActionUnsubscribe, Channel: channel}
}

// Publish builds an outgoing PUBLISH frame carrying messages for channel.
func Publish(channel string, messages []DataMessagePayload) Envelope {
	return Envelope{Action: ActionPublish, Channel: channel, Messages: messages}
}

// Ping builds an outgoing PING frame.
func Ping(timestamp int64) Envelope {
	return Envelope{Action: ActionPing, Timestamp: timestamp}
}

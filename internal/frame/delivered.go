package frame

import "strconv"

// DeliveredMessage is the consumer-facing projection of a single payload
// from an inbound MESSAGE frame.
type DeliveredMessage struct {
	Action    string
	Error     *ErrorPayload
	ID        string
	Timestamp int64
	Channel   string
	Alias     string
	Event     string
	Data      []byte
}

// ProjectMessages turns a MESSAGE envelope's N payloads into N
// DeliveredMessage records, preserving payload-index order. When N>1 the
// delivered id is suffixed "-<index>"; when N==1 the original id is
// preserved unchanged, per spec.md §3.
func ProjectMessages(e Envelope) []DeliveredMessage {
	out := make([]DeliveredMessage, 0, len(e.Messages))
	multi := len(e.Messages) > 1
	for i, m := range e.Messages {
		id := e.ID
		if multi {
			id = e.ID + "-" + strconv.Itoa(i)
		}
		out = append(out, DeliveredMessage{
			Action:    ActionMessage.String(),
			ID:        id,
			Timestamp: e.Timestamp,
			Channel:   e.Channel,
			Alias:     m.Alias,
			Event:     m.Event,
			Data:      []byte(m.Data),
		})
	}
	return out
}

package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope is the wire message exchanged on the channel.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Dialer opens a duplex connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is an open duplex connection.
//
// Receive blocks until a message arrives. An error from Receive means the
// connection is gone; it is never called concurrently with itself.
type Conn interface {
	Send(env Envelope) error
	Receive() (Envelope, error)
	Close() error
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Conn, error)

func (f DialFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

type subscribePayload struct {
	ID      string         `json:"id"`
	Channel string         `json:"channel"`
	Params  map[string]any `json:"params,omitempty"`
}

type unsubscribePayload struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

func newEnvelope(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}, nil
}

package domain

import "context"

// StreamMessage is a single durable message read from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries committed protocol events: ephemeral pub/sub for live
// subscribers (websocket hub) and durable streams for catch-up consumers
// (the read-side mirror).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

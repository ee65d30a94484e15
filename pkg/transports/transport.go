package transports

import (
	"context"
)

// Record is one outbound transcript event as the host receives it.
type Record struct {
	Text         string `json:"text"`
	IsFinal      bool   `json:"is_final"`
	StreamID     int64  `json:"stream_id"`
	EndOfSegment bool   `json:"end_of_segment"`
}

// Sink defines the host boundary for outbound transcript records.
// Send is called synchronously from the dispatcher and must not retain rec.
type Sink interface {
	Name() string
	Send(ctx context.Context, rec Record) error
}

// Closer is implemented by sinks that hold resources (files, sockets).
type Closer interface {
	Close() error
}

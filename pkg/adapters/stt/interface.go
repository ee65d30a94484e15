package stt

import (
	"context"

	"github.com/harunnryd/asrbridge/pkg/frames"
)

// StreamingSTT defines the contract for any STT vendor implementation.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start launches the network side. It must not block on the vendor handshake.
	Start(ctx context.Context) error
	// Close stops the network side and waits for it. Safe to call twice.
	Close() error
	// SendAudio hands one frame from the audio callback to the network side.
	SendAudio(frame frames.AudioFrame) error
	// Results returns a channel of transcript frames. It is closed after Close.
	Results() <-chan frames.TextFrame
}

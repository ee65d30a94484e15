// Package routing holds the process-wide "current stream id" and the rule that
// classifies host audio as primary speaker or other.
//
// Routing is eventual: the dispatcher stamps a transcript with whatever value
// is current when it is sent, which may already reflect a later frame.
package routing

import (
	"strconv"
	"sync/atomic"

	"github.com/harunnryd/asrbridge/pkg/frames"
)

// Cell is the shared current stream id. Written by the callback side, read by
// the dispatcher.
type Cell struct {
	v atomic.Int64
}

func (c *Cell) Set(streamID int64) { c.v.Store(streamID) }
func (c *Cell) Load() int64        { return c.v.Load() }

// String formats the current value for frame meta.
func (c *Cell) String() string { return strconv.FormatInt(c.Load(), 10) }

// Classifier decides whether a frame belongs to the primary (user) speaker.
// Without a configured user rate and channel count every frame is primary.
type Classifier struct {
	UserSampleRate *int
	UserChannels   *int
	UserStreamID   int64
}

func (c Classifier) Source(rate, channels int) frames.Source {
	if c.UserSampleRate == nil || c.UserChannels == nil {
		return frames.SourcePrimary
	}
	if rate == *c.UserSampleRate && channels == *c.UserChannels {
		return frames.SourcePrimary
	}
	return frames.SourceOther
}

// StreamFor maps a source to the stream id transcripts should carry.
func (c Classifier) StreamFor(source frames.Source) int64 {
	if source == frames.SourcePrimary {
		return c.UserStreamID
	}
	return 0
}

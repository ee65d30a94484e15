package metrics

import "time"

const (
	EventFrameEnqueued     = "frame_enqueued"
	EventFrameDropped      = "frame_dropped"
	EventFrameRejected     = "frame_rejected"
	EventAudioSent         = "audio_sent"
	EventConnect           = "stt_connect"
	EventConnectError      = "stt_connect_error"
	EventIdleClose         = "stt_idle_close"
	EventRemoteClose       = "stt_remote_close"
	EventStopClose         = "stt_stop_close"
	EventSendError         = "stt_send_error"
	EventBreakerDenied     = "stt_breaker_denied"
	EventProtocolAnomaly   = "stt_protocol_anomaly"
	EventTranscript        = "transcript_emitted"
	EventTranscriptDropped = "transcript_dropped"
	EventDispatched        = "transcript_dispatched"
	EventSuppressed        = "transcript_suppressed"
	EventSinkError         = "sink_send_error"
)

// EndsConnection reports whether name is the last event recorded for a
// conn_id: a failed handshake or any of the close paths.
func EndsConnection(name string) bool {
	switch name {
	case EventConnectError, EventIdleClose, EventRemoteClose, EventStopClose, EventSendError:
		return true
	default:
		return false
	}
}

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

// Record is a nil-safe shorthand used by components holding an optional observer.
func Record(obs Observer, name string, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: 1, Tags: tags})
}

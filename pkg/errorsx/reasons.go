package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect     ReasonCode = "stt_connect"
	ReasonSTTSend        ReasonCode = "stt_send"
	ReasonSTTClosed      ReasonCode = "stt_closed"
	ReasonSTTRateLimit   ReasonCode = "stt_rate_limit"
	ReasonSTTCircuitOpen ReasonCode = "stt_circuit_open"
	ReasonSTTProtocol    ReasonCode = "stt_protocol"

	ReasonQueueFull  ReasonCode = "relay_queue_full"
	ReasonEmptyAudio ReasonCode = "empty_audio"

	ReasonConfigInvalid ReasonCode = "config_invalid"

	ReasonSinkSend ReasonCode = "sink_send"
)

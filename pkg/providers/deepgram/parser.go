package deepgram

import (
	"encoding/json"
	"errors"
	"fmt"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

var (
	errMalformedMessage = errors.New("malformed message")
	errMissingChannel   = errors.New("message without channel")
	errNoAlternatives   = errors.New("channel without alternatives")
	errUnexpectedType   = errors.New("unexpected message type")
)

// envelope carries the fields the SDK response type does not model: the
// top-level message type and the raw channel object.
type envelope struct {
	Type    string          `json:"type"`
	Channel json.RawMessage `json:"channel"`
}

type channelMarker struct {
	Type string `json:"type"`
}

type transcriptResult struct {
	Text  string
	Final bool
}

// parseMessage decodes one inbound text frame. ok is false for messages that
// carry no transcript; err is set only for protocol anomalies.
func parseMessage(data []byte) (res transcriptResult, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return res, false, fmt.Errorf("%w: %v", errMalformedMessage, err)
	}
	switch env.Type {
	case "", "Results":
	case "Metadata", "SpeechStarted", "UtteranceEnd":
		return res, false, nil
	default:
		return res, false, fmt.Errorf("%w: %s", errUnexpectedType, env.Type)
	}
	if len(env.Channel) == 0 || string(env.Channel) == "null" {
		return res, false, errMissingChannel
	}
	var marker channelMarker
	if err := json.Unmarshal(env.Channel, &marker); err != nil {
		return res, false, fmt.Errorf("%w: channel: %v", errMalformedMessage, err)
	}
	var mr msginterfaces.MessageResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return res, false, fmt.Errorf("%w: %v", errMalformedMessage, err)
	}
	if len(mr.Channel.Alternatives) == 0 {
		return res, false, errNoAlternatives
	}
	res.Text = mr.Channel.Alternatives[0].Transcript
	res.Final = marker.Type == "final" || mr.IsFinal
	return res, true, nil
}

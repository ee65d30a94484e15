package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/asrbridge/pkg/adapters/stt"
	"github.com/harunnryd/asrbridge/pkg/frames"
)

var ErrNotStarted = errors.New("mock stt: not started")

type STTConfig struct {
	ConnID            string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	// FinalEvery emits a final transcript after that many frames. Zero means every frame.
	FinalEvery int
}

// StreamingSTT is a scripted recognizer: audio in, canned transcripts out.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan frames.TextFrame
	mu      sync.Mutex
	started bool
	closed  bool
	frames  int
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	if cfg.ConnID == "" {
		cfg.ConnID = "mock-conn"
	}
	return &StreamingSTT{cfg: cfg, out: make(chan frames.TextFrame, 64)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotStarted
	}
	s.started = true
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.started = false
		close(s.out)
	}
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if frame.Empty() {
		return nil
	}
	s.frames++
	meta := map[string]string{frames.MetaConnID: s.cfg.ConnID}
	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.push(frames.NewTranscriptFrame("", time.Now().UnixNano(), interim, false, meta))
	}
	every := s.cfg.FinalEvery
	if every <= 0 {
		every = 1
	}
	if s.frames%every == 0 {
		s.push(frames.NewTranscriptFrame("", time.Now().UnixNano(), s.cfg.Transcript, true, meta))
	}
	return nil
}

func (s *StreamingSTT) push(tf frames.TextFrame) {
	select {
	case s.out <- tf:
	default:
	}
}

func (s *StreamingSTT) Results() <-chan frames.TextFrame { return s.out }

// Frames reports how many non-empty frames were accepted.
func (s *StreamingSTT) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)

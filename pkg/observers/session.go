package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/metrics"
)

// SessionObserver follows one recognizer connection from handshake to close
// and logs a summary line when it ends.
type SessionObserver struct {
	mu       sync.Mutex
	sessions map[string]*session
	log      *slog.Logger
}

type session struct {
	connected   time.Time
	firstAudio  time.Time
	firstText   time.Time
	firstFinal  time.Time
	audioFrames int
	interim     int
	finals      int
}

func NewSessionObserver(log *slog.Logger) *SessionObserver {
	if log == nil {
		log = slog.Default()
	}
	return &SessionObserver{
		sessions: make(map[string]*session),
		log:      log,
	}
}

func (o *SessionObserver) RecordEvent(ev metrics.MetricsEvent) {
	connID := ""
	if ev.Tags != nil {
		connID = ev.Tags[frames.MetaConnID]
	}
	if connID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.Name == metrics.EventConnect {
		o.sessions[connID] = &session{connected: ev.Time}
		return
	}
	// only a successful handshake opens a session; late events for a
	// closed or failed connection are dropped.
	s := o.sessions[connID]
	if s == nil {
		return
	}
	if metrics.EndsConnection(ev.Name) {
		o.logSessionLocked(connID, ev.Name, ev.Time, s)
		delete(o.sessions, connID)
		return
	}
	switch ev.Name {
	case metrics.EventAudioSent:
		s.audioFrames++
		if s.firstAudio.IsZero() {
			s.firstAudio = ev.Time
		}
	case metrics.EventTranscript:
		if s.firstText.IsZero() {
			s.firstText = ev.Time
		}
		if ev.Tags[frames.MetaIsFinal] == "true" {
			s.finals++
			if s.firstFinal.IsZero() {
				s.firstFinal = ev.Time
			}
		} else {
			s.interim++
		}
	}
}

// Open reports how many connections have not been seen closing yet.
func (o *SessionObserver) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

func (o *SessionObserver) logSessionLocked(connID, reason string, end time.Time, s *session) {
	o.log.Info("stt_session",
		"conn_id", connID,
		"close_reason", reason,
		"duration_ms", durationMs(s.connected, end),
		"first_text_ms", durationMs(s.firstAudio, s.firstText),
		"first_final_ms", durationMs(s.firstAudio, s.firstFinal),
		"audio_frames", s.audioFrames,
		"interim", s.interim,
		"finals", s.finals,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}

var _ metrics.Observer = (*SessionObserver)(nil)

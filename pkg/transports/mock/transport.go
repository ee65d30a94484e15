package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/asrbridge/pkg/transports"
)

var ErrRejected = errors.New("mock sink rejected record")

// Sink is an in-memory sink for local testing and integration.
// It implements transports.Sink without any host runtime.
type Sink struct {
	mu      sync.Mutex
	records []transports.Record
	notify  chan transports.Record
	fail    atomic.Bool
	calls   atomic.Int64
}

func New() *Sink {
	return &Sink{notify: make(chan transports.Record, 256)}
}

func (s *Sink) Name() string { return "mock" }

func (s *Sink) Send(_ context.Context, rec transports.Record) error {
	s.calls.Add(1)
	if s.fail.Load() {
		return ErrRejected
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	select {
	case s.notify <- rec:
	default:
	}
	return nil
}

// FailSends makes every following Send return ErrRejected.
func (s *Sink) FailSends(v bool) { s.fail.Store(v) }

// Calls counts every Send, accepted or not.
func (s *Sink) Calls() int64 { return s.calls.Load() }

// Records returns a copy of every accepted record.
func (s *Sink) Records() []transports.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transports.Record(nil), s.records...)
}

// Sent exposes accepted records as they arrive.
func (s *Sink) Sent() <-chan transports.Record { return s.notify }

var _ transports.Sink = (*Sink)(nil)

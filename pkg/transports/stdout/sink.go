package stdout

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/harunnryd/asrbridge/pkg/transports"
)

// Sink writes each record as one JSON line.
type Sink struct {
	mu  sync.Mutex
	enc *json.Encoder
	w   io.Writer
}

// New returns a sink writing to w, or to os.Stdout when w is nil.
func New(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{enc: json.NewEncoder(w), w: w}
}

func (s *Sink) Name() string { return "stdout" }

func (s *Sink) Send(ctx context.Context, rec transports.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

func (s *Sink) Close() error {
	if c, ok := s.w.(io.Closer); ok && s.w != os.Stdout {
		return c.Close()
	}
	return nil
}

var (
	_ transports.Sink   = (*Sink)(nil)
	_ transports.Closer = (*Sink)(nil)
)

package deepgram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/asrbridge/pkg/adapters/stt"
	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/logging"
	"github.com/harunnryd/asrbridge/pkg/metrics"
	"github.com/harunnryd/asrbridge/pkg/relay"
)

var ErrEmptyFrame = errors.New("deepgram: empty audio frame")

const resultsBuffer = 256

type Option func(*StreamingSTT)

func WithDialer(d Dialer) Option {
	return func(s *StreamingSTT) { s.dialer = d }
}

func WithObserver(obs metrics.Observer) Option {
	return func(s *StreamingSTT) { s.obs = obs }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *StreamingSTT) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithStateListener(l StateListener) Option {
	return func(s *StreamingSTT) { s.listeners = append(s.listeners, l) }
}

// StreamingSTT relays audio frames to the Deepgram listen endpoint. SendAudio
// runs on the caller's goroutine; everything that touches the socket runs on
// the sender loop started by Start.
type StreamingSTT struct {
	cfg       Config
	dialer    Dialer
	obs       metrics.Observer
	logger    *slog.Logger
	listeners []StateListener

	queue *relay.Queue
	conn  *ConnManager
	out   chan frames.TextFrame

	cancel  context.CancelFunc
	group   *errgroup.Group
	started atomic.Bool
	stopped atomic.Bool
	once    sync.Once
}

func New(cfg Config, opts ...Option) *StreamingSTT {
	cfg = cfg.WithDefaults()
	s := &StreamingSTT{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
		out:    make(chan frames.TextFrame, resultsBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = relay.New(cfg.QueueCapacity)
	s.conn = NewConnManager(cfg, s.dialer, s.emit, s.obs, s.logger)
	for _, l := range s.listeners {
		s.conn.AddListener(l)
	}
	return s
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

// Start launches the sender loop. The first handshake happens lazily when the
// first frame is dequeued.
func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.stopped.Load() {
		return ErrStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		return s.sendLoop(ctx)
	})
	s.logger.Info("stt_started",
		"model", s.cfg.Model,
		"language", s.cfg.Language,
		"sample_rate", s.cfg.SampleRate,
		"endpointing", s.cfg.Endpointing.Enabled)
	return nil
}

// SendAudio enqueues a frame for the sender loop, waiting at most the
// configured enqueue timeout. A full queue drops the frame.
func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	if frame.Empty() {
		metrics.Record(s.obs, metrics.EventFrameRejected, map[string]string{"component": "stt"})
		return errorsx.Wrap(ErrEmptyFrame, errorsx.ReasonEmptyAudio)
	}
	if s.stopped.Load() {
		return ErrStopped
	}
	item := relay.Item{Frame: frame, Primary: frame.Source() == frames.SourcePrimary}
	err := s.queue.Enqueue(item, s.cfg.EnqueueTimeout)
	switch {
	case err == nil:
		metrics.Record(s.obs, metrics.EventFrameEnqueued, map[string]string{"component": "stt", frames.MetaSource: frame.Source().String()})
		return nil
	case errors.Is(err, relay.ErrQueueFull):
		s.logger.Warn("relay_queue_full",
			"reason_code", string(errorsx.ReasonQueueFull),
			"capacity", s.queue.Cap(),
			"bytes", len(frame.RawPayload()))
		metrics.Record(s.obs, metrics.EventFrameDropped, map[string]string{"component": "stt"})
		return errorsx.Wrap(err, errorsx.ReasonQueueFull)
	case errors.Is(err, relay.ErrClosed):
		return ErrStopped
	default:
		return err
	}
}

func (s *StreamingSTT) Results() <-chan frames.TextFrame { return s.out }

// State reports the connection state as seen by the sender loop.
func (s *StreamingSTT) State() State { return s.conn.State() }

// Handshakes reports how many handshakes have been attempted.
func (s *StreamingSTT) Handshakes() int64 { return s.conn.Handshakes() }

func (s *StreamingSTT) QueueStats() relay.Stats { return s.queue.Stats() }

// Close stops the sender loop, closes the socket and waits for every
// goroutine it owns. Results is closed once nothing can write to it.
func (s *StreamingSTT) Close() error {
	s.once.Do(func() {
		s.stopped.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		s.queue.Close()
		if s.group != nil {
			if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("stt_sender_exit", "error", err.Error())
			}
		} else {
			s.conn.Shutdown()
		}
		close(s.out)
		st := s.queue.Stats()
		s.logger.Info("stt_closed",
			"frames_enqueued", st.Pushed,
			"frames_dropped", st.Dropped,
			"frames_sent", st.Popped,
			"handshakes", s.conn.Handshakes())
	})
	return nil
}

func (s *StreamingSTT) sendLoop(ctx context.Context) error {
	defer s.conn.Shutdown()
	for {
		item, err := s.queue.Dequeue(ctx, s.cfg.IdleTimeout)
		switch {
		case err == nil:
		case errors.Is(err, relay.ErrIdle):
			if s.conn.State() == StateStreaming {
				s.conn.CloseIdle()
			}
			continue
		case errors.Is(err, relay.ErrClosed), errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}

		if err := s.forward(ctx, item); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				return nil
			}
		}
	}
}

// forward sends one frame, connecting first when needed. A transport error
// loses the frame; the next one reconnects.
func (s *StreamingSTT) forward(ctx context.Context, item relay.Item) error {
	defer frames.ReleaseAudioFrame(item.Frame)
	if err := s.conn.Ensure(ctx); err != nil {
		if !errors.Is(err, ErrStopped) {
			s.logger.Warn("stt_connect_error",
				"reason_code", string(errorsx.Reason(err)),
				"transient", errorsx.IsTransient(err),
				"error", err.Error())
		}
		return err
	}
	connID := s.conn.ConnID()
	if err := s.conn.Send(item.Frame.RawPayload()); err != nil {
		s.logger.Warn("stt_send_error",
			"conn_id", connID,
			"reason_code", string(errorsx.Reason(err)),
			"transient", errorsx.IsTransient(err),
			"error", err.Error())
		return err
	}
	metrics.Record(s.obs, metrics.EventAudioSent, map[string]string{
		"component":       "stt",
		frames.MetaConnID: connID,
		frames.MetaSource: item.Frame.Source().String(),
	})
	return nil
}

// emit runs on reader goroutines. It never blocks the reader.
func (s *StreamingSTT) emit(f frames.TextFrame) {
	connID := f.Meta()[frames.MetaConnID]
	select {
	case s.out <- f:
		metrics.Record(s.obs, metrics.EventTranscript, map[string]string{
			"component":        "stt",
			frames.MetaConnID:  connID,
			frames.MetaIsFinal: boolString(f.IsFinal()),
		})
	default:
		s.logger.Warn("stt_results_full", "conn_id", connID)
		metrics.Record(s.obs, metrics.EventTranscriptDropped, map[string]string{"component": "stt", frames.MetaConnID: connID})
	}
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)

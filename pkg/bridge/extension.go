// Package bridge hosts the transcription extension: it receives audio frames
// from the host callback, relays them to the streaming recognizer and hands
// transcripts back to the host sink.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/logging"
	"github.com/harunnryd/asrbridge/pkg/metrics"
	"github.com/harunnryd/asrbridge/pkg/providers/deepgram"
	"github.com/harunnryd/asrbridge/pkg/relay"
	"github.com/harunnryd/asrbridge/pkg/routing"
	"github.com/harunnryd/asrbridge/pkg/transports"
)

var (
	ErrNotRunning     = errors.New("bridge: extension not running")
	ErrAlreadyStarted = errors.New("bridge: extension already started")
	errNoSink         = errors.New("bridge: no sink configured")
)

const (
	stateNew int32 = iota
	stateStarting
	stateRunning
	stateStopped
)

type Option func(*Extension)

func WithObserver(obs metrics.Observer) Option {
	return func(e *Extension) { e.obs = obs }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) {
		if l != nil {
			e.base = l
		}
	}
}

// WithSTTOptions forwards options to the recognizer, e.g. a custom dialer.
func WithSTTOptions(opts ...deepgram.Option) Option {
	return func(e *Extension) { e.sttOpts = append(e.sttOpts, opts...) }
}

// Extension is the host-facing component. OnAudioFrame is called from the host
// audio callback and returns quickly; all network work happens elsewhere.
type Extension struct {
	sink    transports.Sink
	obs     metrics.Observer
	base    *slog.Logger
	logger  *slog.Logger
	sttOpts []deepgram.Option

	state      atomic.Int32
	stt        *deepgram.StreamingSTT
	dispatcher *Dispatcher
	classifier routing.Classifier
	routing    routing.Cell

	// lifecycle serializes OnStart and OnStop so a stop never overtakes a
	// start in progress.
	lifecycle sync.Mutex
	group     *errgroup.Group
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

func NewExtension(sink transports.Sink, opts ...Option) *Extension {
	e := &Extension{
		sink: sink,
		base: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.base, "asr_extension")
	return e
}

// OnStart resolves the host properties and launches the recognizer and the
// dispatcher. A missing api key is fatal. A failed start may be retried.
func (e *Extension) OnStart(ctx context.Context, props Properties) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if !e.state.CompareAndSwap(stateNew, stateStarting) {
		return ErrAlreadyStarted
	}
	if err := e.start(ctx, props); err != nil {
		e.state.Store(stateNew)
		return err
	}
	e.state.Store(stateRunning)
	return nil
}

func (e *Extension) start(ctx context.Context, props Properties) error {
	settings, err := DecodeProperties(props)
	if err != nil {
		e.logger.Error("extension_config_invalid", "reason_code", string(errorsx.Reason(err)), "error", err.Error())
		return err
	}
	cfg, cls := settings.Resolve()
	if err := cfg.Validate(); err != nil {
		e.logger.Error("extension_config_invalid", "reason_code", string(errorsx.Reason(err)), "error", err.Error())
		return err
	}
	if e.sink == nil {
		return errorsx.Wrap(errNoSink, errorsx.ReasonConfigInvalid)
	}
	e.classifier = cls

	sttLogger := logging.NewComponentLogger(e.base, "deepgram_stt")
	opts := append([]deepgram.Option{deepgram.WithObserver(e.obs), deepgram.WithLogger(sttLogger)}, e.sttOpts...)
	e.stt = deepgram.New(cfg, opts...)
	e.dispatcher = NewDispatcher(e.sink, &e.routing, e.obs, logging.NewComponentLogger(e.base, "dispatcher"))

	if err := e.stt.Start(ctx); err != nil {
		return err
	}
	// the dispatcher outlives the host context: it stops when Results is
	// closed by OnStop, so buffered finals still reach the sink.
	dispatchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.group = &errgroup.Group{}
	e.group.Go(func() error {
		return e.dispatcher.Run(dispatchCtx, e.stt.Results())
	})

	attrs := []any{
		"model", cfg.Model,
		"language", cfg.Language,
		"sample_rate", cfg.SampleRate,
		"endpointing", cfg.Endpointing.Enabled,
		"user_stream_id", cls.UserStreamID,
		"sink", e.sink.Name(),
	}
	if cls.UserSampleRate == nil || cls.UserChannels == nil {
		attrs = append(attrs, "classification", "all_primary")
	}
	e.logger.Info("extension_started", attrs...)
	return nil
}

// OnAudioFrame classifies the frame, hands it to the recognizer and updates
// the routing value. Empty and dropped frames are logged, not returned.
func (e *Extension) OnAudioFrame(frame frames.AudioFrame) error {
	if e.state.Load() != stateRunning {
		return ErrNotRunning
	}
	source := e.classifier.Source(frame.Rate(), frame.Channels())
	err := e.stt.SendAudio(frame.WithSource(source))
	switch {
	case errors.Is(err, deepgram.ErrEmptyFrame):
		e.logger.Warn("empty_audio_frame", "reason_code", string(errorsx.ReasonEmptyAudio))
		return nil
	case errors.Is(err, deepgram.ErrStopped):
		return ErrNotRunning
	}
	e.routing.Set(e.classifier.StreamFor(source))
	if err != nil && !errors.Is(err, relay.ErrQueueFull) {
		return err
	}
	return nil
}

// OnStop stops the recognizer, drains the dispatcher and waits for both.
func (e *Extension) OnStop() error {
	var err error
	e.stopOnce.Do(func() {
		e.lifecycle.Lock()
		defer e.lifecycle.Unlock()
		prev := e.state.Swap(stateStopped)
		if prev != stateRunning {
			return
		}
		err = e.stt.Close()
		if werr := e.group.Wait(); werr != nil && !errors.Is(werr, context.Canceled) && err == nil {
			err = werr
		}
		e.cancel()
		st := e.stt.QueueStats()
		e.logger.Info("extension_stopped",
			"frames_enqueued", st.Pushed,
			"frames_dropped", st.Dropped,
			"handshakes", e.stt.Handshakes())
	})
	return err
}

// Drain lets the lifecycle runner stop the extension.
func (e *Extension) Drain() error { return e.OnStop() }

// StreamID returns the current routing value.
func (e *Extension) StreamID() int64 { return e.routing.Load() }

// ConnState reports the recognizer connection state.
func (e *Extension) ConnState() deepgram.State {
	if e.stt == nil {
		return deepgram.StateDisconnected
	}
	return e.stt.State()
}

package bridge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/metrics"
	"github.com/harunnryd/asrbridge/pkg/redact"
	"github.com/harunnryd/asrbridge/pkg/routing"
	"github.com/harunnryd/asrbridge/pkg/transports"
)

// Record is the outbound transcript event.
type Record = transports.Record

// Dispatcher turns transcript frames into host records. Each record is
// stamped with the routing value current at dispatch time.
type Dispatcher struct {
	sink    transports.Sink
	routing *routing.Cell
	obs     metrics.Observer
	logger  *slog.Logger
}

func NewDispatcher(sink transports.Sink, cell *routing.Cell, obs metrics.Observer, logger *slog.Logger) *Dispatcher {
	if cell == nil {
		cell = &routing.Cell{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sink: sink, routing: cell, obs: obs, logger: logger}
}

func (d *Dispatcher) Name() string { return "transcript_dispatcher" }

// Dispatch sends one record synchronously. Whitespace-only text is dropped.
// A failed send is logged and returned; it is never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, tf frames.TextFrame) error {
	text := tf.Text()
	if strings.TrimSpace(text) == "" {
		d.logger.Debug("transcript_suppressed", "reason", "empty_text", "is_final", tf.IsFinal())
		metrics.Record(d.obs, metrics.EventSuppressed, map[string]string{"component": "dispatcher"})
		return nil
	}
	rec := Record{
		Text:         text,
		IsFinal:      tf.IsFinal(),
		StreamID:     d.routing.Load(),
		EndOfSegment: tf.IsFinal(),
	}
	if d.sink == nil {
		return errorsx.Wrap(errNoSink, errorsx.ReasonSinkSend)
	}
	if err := d.sink.Send(ctx, rec); err != nil {
		d.logger.Warn("sink_send_error",
			"sink", d.sink.Name(),
			"stream_id", rec.StreamID,
			"is_final", rec.IsFinal,
			"reason_code", string(errorsx.ReasonSinkSend),
			"error", err.Error(),
			"text", redact.Transcript(text))
		metrics.Record(d.obs, metrics.EventSinkError, map[string]string{"component": "dispatcher"})
		return errorsx.Wrap(err, errorsx.ReasonSinkSend)
	}
	d.logger.Info("transcript_dispatched",
		"stream_id", rec.StreamID,
		"is_final", rec.IsFinal,
		"conn_id", tf.Meta()[frames.MetaConnID],
		"text", redact.Transcript(text))
	metrics.Record(d.obs, metrics.EventDispatched, map[string]string{
		"component": "dispatcher",
		"is_final":  boolString(rec.IsFinal),
	})
	return nil
}

// Run dispatches frames from in until it is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, in <-chan frames.TextFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tf, ok := <-in:
			if !ok {
				return nil
			}
			_ = d.Dispatch(ctx, tf)
		}
	}
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

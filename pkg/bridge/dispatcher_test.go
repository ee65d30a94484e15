package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/metrics"
	mockstt "github.com/harunnryd/asrbridge/pkg/providers/mock"
	"github.com/harunnryd/asrbridge/pkg/routing"
	"github.com/harunnryd/asrbridge/pkg/transports/mock"
)

func TestDispatchFinalRecord(t *testing.T) {
	sink := mock.New()
	cell := &routing.Cell{}
	cell.Set(7)
	d := NewDispatcher(sink, cell, nil, nil)

	if err := d.Dispatch(context.Background(), frames.NewTranscriptFrame("", 1, "hello world", true, nil)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	recs := sink.Records()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	want := Record{Text: "hello world", IsFinal: true, StreamID: 7, EndOfSegment: true}
	if recs[0] != want {
		t.Fatalf("unexpected record %+v", recs[0])
	}
}

func TestDispatchInterimKeepsSegmentOpen(t *testing.T) {
	sink := mock.New()
	d := NewDispatcher(sink, nil, nil, nil)
	_ = d.Dispatch(context.Background(), frames.NewTranscriptFrame("", 1, "hel", false, nil))
	recs := sink.Records()
	if len(recs) != 1 || recs[0].IsFinal || recs[0].EndOfSegment {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestDispatchSuppressesWhitespace(t *testing.T) {
	sink := mock.New()
	mem := metrics.NewMemoryObserver()
	d := NewDispatcher(sink, nil, mem, nil)
	for _, text := range []string{"", "   ", "\n\t"} {
		if err := d.Dispatch(context.Background(), frames.NewTranscriptFrame("", 1, text, true, nil)); err != nil {
			t.Fatalf("suppressed text must not error: %v", err)
		}
	}
	if sink.Calls() != 0 {
		t.Fatalf("sink must not be called for blank text, got %d calls", sink.Calls())
	}
	if mem.Count(metrics.EventSuppressed) != 3 {
		t.Fatalf("expected 3 suppressions, got %d", mem.Count(metrics.EventSuppressed))
	}
}

func TestDispatchStampsRoutingAtDispatchTime(t *testing.T) {
	sink := mock.New()
	cell := &routing.Cell{}
	d := NewDispatcher(sink, cell, nil, nil)

	// both frames were produced while routing was 7; the second dispatch
	// happens after routing moved to 3.
	a := frames.NewTranscriptFrame("", 1, "first", false, nil)
	b := frames.NewTranscriptFrame("", 2, "second", true, nil)
	cell.Set(7)
	_ = d.Dispatch(context.Background(), a)
	cell.Set(3)
	_ = d.Dispatch(context.Background(), b)

	recs := sink.Records()
	if len(recs) != 2 || recs[0].StreamID != 7 || recs[1].StreamID != 3 {
		t.Fatalf("unexpected routing %+v", recs)
	}
}

func TestDispatchSinkFailureNotRetried(t *testing.T) {
	sink := mock.New()
	sink.FailSends(true)
	mem := metrics.NewMemoryObserver()
	d := NewDispatcher(sink, nil, mem, nil)

	err := d.Dispatch(context.Background(), frames.NewTranscriptFrame("", 1, "lost", true, nil))
	if !errors.Is(err, mock.ErrRejected) || !errorsx.HasReason(err, errorsx.ReasonSinkSend) {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
	if sink.Calls() != 1 {
		t.Fatalf("expected exactly one send attempt, got %d", sink.Calls())
	}
	if mem.Count(metrics.EventSinkError) != 1 {
		t.Fatalf("expected one sink error event")
	}
}

func TestDispatcherRunDrainsUntilClosed(t *testing.T) {
	sink := mock.New()
	d := NewDispatcher(sink, nil, nil, nil)
	in := make(chan frames.TextFrame, 3)
	in <- frames.NewTranscriptFrame("", 1, "a", false, nil)
	in <- frames.NewTranscriptFrame("", 2, " ", true, nil)
	in <- frames.NewTranscriptFrame("", 3, "a b", true, nil)
	close(in)
	if err := d.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(sink.Records()); got != 2 {
		t.Fatalf("expected 2 records, got %d", got)
	}
}

func TestDispatcherRunFollowsRecognizer(t *testing.T) {
	rec := mockstt.NewSTT(mockstt.STTConfig{Transcript: "turn it up", EmitInterim: true, InterimTranscript: "turn", FinalEvery: 2})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sink := mock.New()
	cell := &routing.Cell{}
	cell.Set(4)
	d := NewDispatcher(sink, cell, nil, nil)

	for i := 0; i < 4; i++ {
		pcm := []byte{1, 0, 2, 0}
		if err := rec.SendAudio(frames.NewAudioFrame("s", int64(i), pcm, 16000, 1, frames.SourcePrimary, nil)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	_ = rec.Close()
	if err := d.Run(context.Background(), rec.Results()); err != nil {
		t.Fatalf("run: %v", err)
	}

	recs := sink.Records()
	if len(recs) != 6 {
		t.Fatalf("expected 4 interim and 2 final records, got %d", len(recs))
	}
	finals := 0
	for _, r := range recs {
		if r.StreamID != 4 {
			t.Fatalf("unexpected stream id %d", r.StreamID)
		}
		if r.IsFinal {
			finals++
			if r.Text != "turn it up" || !r.EndOfSegment {
				t.Fatalf("unexpected final %+v", r)
			}
		}
	}
	if finals != 2 {
		t.Fatalf("expected 2 finals, got %d", finals)
	}
}

package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/metrics"
	"github.com/harunnryd/asrbridge/pkg/providers/deepgram"
	"github.com/harunnryd/asrbridge/pkg/transports/mock"
)

// listenServer answers every binary message with a final transcript naming
// the first payload byte.
func listenServer(t *testing.T, handshakes *atomic.Int32) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handshakes.Add(1)
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ != websocket.BinaryMessage || len(data) == 0 {
				continue
			}
			msg := `{"channel":{"alternatives":[{"transcript":"frame ` + string('a'+rune(data[0])) + `"}],"type":"final"}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func userProps(baseURL string) Properties {
	return Properties{
		"api_key":                "test-key",
		"base_url":               baseURL,
		"user_audio_sample_rate": 16000,
		"user_audio_channels":    1,
		"user_stream_id":         7,
		"enqueue_timeout_ms":     20,
	}
}

func pcm(b byte, rate int) frames.AudioFrame {
	return frames.NewAudioFrame("", int64(b), []byte{b, 0, b, 0}, rate, 1, frames.SourcePrimary, nil)
}

func nextRecord(t *testing.T, sink *mock.Sink) Record {
	t.Helper()
	select {
	case rec := <-sink.Sent():
		return rec
	case <-time.After(3 * time.Second):
		t.Fatalf("no record dispatched")
	}
	return Record{}
}

func TestExtensionStartRequiresAPIKey(t *testing.T) {
	ext := NewExtension(mock.New())
	err := ext.OnStart(context.Background(), Properties{"language": "en-US"})
	if !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
		t.Fatalf("expected config_invalid, got %v", err)
	}
	if err := ext.OnAudioFrame(pcm(1, 16000)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("frames must be refused without a running extension, got %v", err)
	}
}

func TestExtensionFinalTranscriptRecord(t *testing.T) {
	var handshakes atomic.Int32
	sink := mock.New()
	ext := NewExtension(sink)
	if err := ext.OnStart(context.Background(), userProps(listenServer(t, &handshakes))); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ext.OnStop()

	if handshakes.Load() != 0 {
		t.Fatalf("start must not dial")
	}
	if err := ext.OnAudioFrame(pcm(1, 16000)); err != nil {
		t.Fatalf("audio: %v", err)
	}
	rec := nextRecord(t, sink)
	want := Record{Text: "frame b", IsFinal: true, StreamID: 7, EndOfSegment: true}
	if rec != want {
		t.Fatalf("unexpected record %+v", rec)
	}
	select {
	case extra := <-sink.Sent():
		t.Fatalf("unexpected extra record %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestExtensionRoutingIsEventual(t *testing.T) {
	var handshakes atomic.Int32
	sink := mock.New()
	ext := NewExtension(sink)
	if err := ext.OnStart(context.Background(), userProps(listenServer(t, &handshakes))); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ext.OnStop()

	if err := ext.OnAudioFrame(pcm(1, 16000)); err != nil {
		t.Fatalf("audio: %v", err)
	}
	if ext.StreamID() != 7 {
		t.Fatalf("primary frame should route to 7, got %d", ext.StreamID())
	}
	if err := ext.OnAudioFrame(pcm(2, 48000)); err != nil {
		t.Fatalf("audio: %v", err)
	}
	if ext.StreamID() != 0 {
		t.Fatalf("other audio should route to 0, got %d", ext.StreamID())
	}

	for i := 0; i < 2; i++ {
		rec := nextRecord(t, sink)
		if rec.StreamID != 7 && rec.StreamID != 0 {
			t.Fatalf("stream id %d not drawn from the submitted routings", rec.StreamID)
		}
	}
}

func TestExtensionEmptyFrameRejected(t *testing.T) {
	var handshakes atomic.Int32
	sink := mock.New()
	ext := NewExtension(sink)
	if err := ext.OnStart(context.Background(), userProps(listenServer(t, &handshakes))); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ext.OnStop()

	empty := frames.NewAudioFrame("", 1, nil, 16000, 1, frames.SourcePrimary, nil)
	if err := ext.OnAudioFrame(empty); err != nil {
		t.Fatalf("empty frame should be dropped quietly, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if handshakes.Load() != 0 {
		t.Fatalf("empty frame must not reach the network")
	}
	if ext.StreamID() != 0 {
		t.Fatalf("empty frame must not update routing, got %d", ext.StreamID())
	}
}

func TestExtensionStopWhileStreaming(t *testing.T) {
	var handshakes atomic.Int32
	sink := mock.New()
	ext := NewExtension(sink)
	if err := ext.OnStart(context.Background(), userProps(listenServer(t, &handshakes))); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ext.OnAudioFrame(pcm(1, 16000)); err != nil {
		t.Fatalf("audio: %v", err)
	}
	nextRecord(t, sink)
	if ext.ConnState() != deepgram.StateStreaming {
		t.Fatalf("expected STREAMING, got %s", ext.ConnState())
	}

	done := make(chan error, 1)
	go func() { done <- ext.OnStop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("stop hung")
	}
	if ext.ConnState() != deepgram.StateClosed {
		t.Fatalf("expected CLOSED, got %s", ext.ConnState())
	}
	if err := ext.OnAudioFrame(pcm(2, 16000)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
	if err := ext.OnStop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := ext.OnStart(context.Background(), userProps("ws://127.0.0.1:1")); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("restart must be refused, got %v", err)
	}
}

// gatedSink holds the first Send until release is closed and remembers the
// context state of every call.
type gatedSink struct {
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	texts   []string
	ctxErrs []error
}

func (g *gatedSink) Name() string { return "gated" }

func (g *gatedSink) Send(ctx context.Context, rec Record) error {
	g.once.Do(func() { <-g.release })
	g.mu.Lock()
	defer g.mu.Unlock()
	g.texts = append(g.texts, rec.Text)
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExtensionStopDeliversBufferedFinalsAfterHostCancel(t *testing.T) {
	var handshakes atomic.Int32
	sink := &gatedSink{release: make(chan struct{})}
	mem := metrics.NewMemoryObserver()
	ext := NewExtension(sink, WithObserver(mem))

	hostCtx, cancelHost := context.WithCancel(context.Background())
	defer cancelHost()
	if err := ext.OnStart(hostCtx, userProps(listenServer(t, &handshakes))); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, b := range []byte{1, 2} {
		if err := ext.OnAudioFrame(pcm(b, 16000)); err != nil {
			t.Fatalf("audio %d: %v", b, err)
		}
	}
	waitFor(t, func() bool { return mem.Count(metrics.EventTranscript) == 2 })

	cancelHost()
	close(sink.release)
	if err := ext.OnStop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.texts) != 2 {
		t.Fatalf("expected both finals delivered, got %v", sink.texts)
	}
	for i, err := range sink.ctxErrs {
		if err != nil {
			t.Fatalf("record %d sent with done context: %v", i, err)
		}
	}
}

func TestExtensionConcurrentStartClaimsOnce(t *testing.T) {
	var handshakes atomic.Int32
	ext := NewExtension(mock.New())
	props := userProps(listenServer(t, &handshakes))

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ext.OnStart(context.Background(), props)
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrAlreadyStarted):
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful start, got %d", ok)
	}
	if err := ext.OnStop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestExtensionStopRacingStartLeavesNothingRunning(t *testing.T) {
	var handshakes atomic.Int32
	props := userProps(listenServer(t, &handshakes))

	for i := 0; i < 20; i++ {
		ext := NewExtension(mock.New())
		var startErr, stopErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			startErr = ext.OnStart(context.Background(), props)
		}()
		go func() {
			defer wg.Done()
			stopErr = ext.OnStop()
		}()
		wg.Wait()

		if stopErr != nil {
			t.Fatalf("round %d stop: %v", i, stopErr)
		}
		if startErr != nil && !errors.Is(startErr, ErrAlreadyStarted) {
			t.Fatalf("round %d start: %v", i, startErr)
		}
		if startErr == nil {
			// the start won, so the stop must have closed what it launched.
			select {
			case _, open := <-ext.stt.Results():
				if open {
					t.Fatalf("round %d: results still open after stop", i)
				}
			case <-time.After(3 * time.Second):
				t.Fatalf("round %d: results never closed", i)
			}
		}
		if err := ext.OnAudioFrame(pcm(1, 16000)); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("round %d: expected ErrNotRunning, got %v", i, err)
		}
	}
}

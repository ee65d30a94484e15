package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/metrics"
	"github.com/harunnryd/asrbridge/pkg/redact"
	"github.com/harunnryd/asrbridge/pkg/resilience"
)

var (
	ErrNotConnected = errors.New("deepgram: no open connection")
	ErrStopped      = errors.New("deepgram: connection manager stopped")
	ErrCircuitOpen  = errors.New("deepgram: reconnect suppressed after repeated failures")
)

// Socket is the subset of *websocket.Conn the manager needs.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Socket, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Socket, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  8192,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, resilience.RateLimitError{Provider: "deepgram", Message: "deepgram: handshake rate limited"}
			}
			return nil, fmt.Errorf("deepgram: handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// connection is one socket plus the reader bound to it. It is replaced, never
// reused, on reconnect.
type connection struct {
	id      string
	sock    Socket
	done    chan struct{}
	closing atomic.Bool
}

// ConnManager owns the provider socket. Only the sender loop drives it; the
// per-connection reader only reads and reports.
type ConnManager struct {
	stateMachine

	cfg     Config
	dialer  Dialer
	emit    func(frames.TextFrame)
	obs     metrics.Observer
	logger  *slog.Logger
	breaker *resilience.CircuitBreaker

	conn       *connection
	stopped    bool
	readers    sync.WaitGroup
	handshakes atomic.Int64
}

func NewConnManager(cfg Config, dialer Dialer, emit func(frames.TextFrame), obs metrics.Observer, logger *slog.Logger) *ConnManager {
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	if emit == nil {
		emit = func(frames.TextFrame) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnManager{
		stateMachine: stateMachine{current: StateDisconnected},
		cfg:          cfg,
		dialer:       dialer,
		emit:         emit,
		obs:          obs,
		logger:       logger,
		breaker:      resilience.NewCircuitBreaker(cfg.Reconnect.FailureThreshold, cfg.Reconnect.Cooldown),
	}
}

// Handshakes reports how many handshakes were attempted.
func (m *ConnManager) Handshakes() int64 { return m.handshakes.Load() }

// ConnID returns the id of the open connection, if any.
func (m *ConnManager) ConnID() string {
	if m.conn == nil {
		return ""
	}
	return m.conn.id
}

// Ensure makes sure a streaming socket exists, dialing lazily.
func (m *ConnManager) Ensure(ctx context.Context) error {
	if m.stopped {
		return ErrStopped
	}
	if c := m.conn; c != nil {
		select {
		case <-c.done:
			m.logger.Info("stt_remote_closed", "conn_id", c.id)
			m.record(metrics.EventRemoteClose, c.id)
			m.drop(c, StateDisconnected, "remote_close")
		default:
			return nil
		}
	}
	if !m.breaker.Allow() {
		m.record(metrics.EventBreakerDenied, "")
		return errorsx.Wrap(ErrCircuitOpen, errorsx.ReasonSTTCircuitOpen)
	}

	rawURL, err := m.cfg.ListenURL()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	connID := uuid.NewString()
	_ = m.transition(StateConnecting, "frame_arrived", connID)
	m.logger.Info("stt_connecting", "conn_id", connID, "url", rawURL)

	m.handshakes.Add(1)
	sock, err := m.dialer.Dial(ctx, rawURL, m.cfg.authHeader())
	if err != nil {
		m.breaker.OnError(err)
		_ = m.transition(StateDisconnected, "handshake_failed", connID)
		m.record(metrics.EventConnectError, connID)
		reason := errorsx.ReasonSTTConnect
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonSTTRateLimit
		}
		return errorsx.Wrap(err, reason)
	}
	m.breaker.OnSuccess()
	// recorded before the reader starts so it precedes every transcript.
	m.record(metrics.EventConnect, connID)

	c := &connection{id: connID, sock: sock, done: make(chan struct{})}
	m.conn = c
	m.readers.Add(1)
	go m.readLoop(c)

	_ = m.transition(StateStreaming, "handshake_ok", connID)
	m.logger.Info("stt_connected", "conn_id", connID)
	return nil
}

// Send writes one binary audio message. Any failure clears the socket so the
// next frame reconnects.
func (m *ConnManager) Send(payload []byte) error {
	c := m.conn
	if c == nil {
		return errorsx.Wrap(ErrNotConnected, errorsx.ReasonSTTSend)
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := c.sock.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		reason := errorsx.ReasonSTTSend
		if isCloseError(err) {
			reason = errorsx.ReasonSTTClosed
			m.record(metrics.EventRemoteClose, c.id)
		} else {
			m.record(metrics.EventSendError, c.id)
		}
		m.drop(c, StateDisconnected, "send_error")
		return errorsx.Wrap(err, reason)
	}
	return nil
}

// CloseIdle gracefully closes a streaming socket after the idle window.
func (m *ConnManager) CloseIdle() {
	c := m.conn
	if c == nil {
		return
	}
	m.record(metrics.EventIdleClose, c.id)
	m.logger.Debug("stt_idle_close", "conn_id", c.id, "idle_timeout", m.cfg.IdleTimeout.String())
	m.closeGracefully(c, "idle")
	m.drop(c, StateClosed, "idle_timeout")
}

// Shutdown closes any socket, moves to Closed and waits for readers. The
// manager refuses to reconnect afterwards.
func (m *ConnManager) Shutdown() {
	if m.stopped {
		return
	}
	m.stopped = true
	if c := m.conn; c != nil {
		m.record(metrics.EventStopClose, c.id)
		m.closeGracefully(c, "stop")
		m.drop(c, StateClosed, "stop")
	} else {
		_ = m.transition(StateClosed, "stop", "")
	}
	m.readers.Wait()
}

func (m *ConnManager) closeGracefully(c *connection, why string) {
	c.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, why)
	_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (m *ConnManager) drop(c *connection, to State, reason string) {
	c.closing.Store(true)
	_ = c.sock.Close()
	if m.conn == c {
		m.conn = nil
	}
	_ = m.transition(to, reason, c.id)
}

func (m *ConnManager) readLoop(c *connection) {
	defer m.readers.Done()
	defer close(c.done)
	for {
		typ, data, err := c.sock.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				m.logger.Info("stt_reader_closed", "conn_id", c.id, "error", err.Error())
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		res, ok, err := parseMessage(data)
		if err != nil {
			m.record(metrics.EventProtocolAnomaly, c.id)
			m.logger.Warn("stt_unexpected_message",
				"conn_id", c.id,
				"reason_code", string(errorsx.ReasonSTTProtocol),
				"error", err.Error(),
				"data", redact.Transcript(string(data)))
			continue
		}
		if !ok {
			m.logger.Debug("stt_control_message", "conn_id", c.id, "data", redact.Transcript(string(data)))
			continue
		}
		if res.Text == "" {
			continue
		}
		m.logger.Info("stt_transcript",
			"conn_id", c.id,
			"is_final", res.Final,
			"text", redact.Transcript(res.Text))
		m.emit(frames.NewTranscriptFrame("", time.Now().UnixNano(), res.Text, res.Final, map[string]string{
			frames.MetaConnID: c.id,
		}))
	}
}

func (m *ConnManager) record(name, connID string) {
	tags := map[string]string{"component": "stt"}
	if connID != "" {
		tags[frames.MetaConnID] = connID
	}
	metrics.Record(m.obs, name, tags)
}

func isCloseError(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

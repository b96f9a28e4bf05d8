// Package session owns the one connection an engine instance has open at a
// time: dialing, the bootstrap handshake, heartbeat echo, and capped
// exponential-backoff reconnection with registry replay. The transport
// shape (dial, read loop, ping/pong, a send-side lock) is adapted from
// pkg/smartconnect/websocket.go; the bootstrap sequence and framing are
// this protocol's own.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saidsurucu/tvstream/internal/config"
	"github.com/saidsurucu/tvstream/internal/dispatch"
	"github.com/saidsurucu/tvstream/internal/errs"
	"github.com/saidsurucu/tvstream/internal/logger"
	"github.com/saidsurucu/tvstream/internal/metrics"
	"github.com/saidsurucu/tvstream/internal/registry"
	"github.com/saidsurucu/tvstream/internal/ringbuf"
	"github.com/saidsurucu/tvstream/internal/store"
	"github.com/saidsurucu/tvstream/internal/wire"
)

// AuthTokenSource is the narrow seam onto the out-of-scope credential
// store: a read-only getter for an already-minted auth token and, if the
// caller authenticated, a session cookie for custom-indicator descriptor
// fetches.
type AuthTokenSource interface {
	AuthToken() string
	SessionCookie() string
}

// Session drives one engine instance's connection lifecycle.
type Session struct {
	log     *slog.Logger
	cfg     *config.Config
	auth    AuthTokenSource
	reg     *registry.Registry
	st      *store.Store
	disp    *dispatch.Dispatcher
	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	outbound *ringbuf.Ring

	mu              sync.Mutex
	conn            *websocket.Conn
	writeMu         sync.Mutex
	connected       bool
	shouldReconnect bool
	attempt         int
	quoteSessionID  string
	chartSessionID  string
	connectedCh     chan struct{}
	lastHeartbeat   time.Time
	traceID         string
}

// traceCtx builds a context carrying the current connection's trace ID, so
// that server errors and unknown-tag drops processed during a given
// connection can be correlated in logs with the reconnect attempt that
// established it. Returns a bare context before the first bootstrap.
func (s *Session) traceCtx() context.Context {
	s.mu.Lock()
	tid := s.traceID
	s.mu.Unlock()
	if tid == "" {
		return context.Background()
	}
	return logger.WithTraceID(context.Background(), tid)
}

// New builds a Session. log and m/health may be nil.
func New(cfg *config.Config, auth AuthTokenSource, reg *registry.Registry, st *store.Store, disp *dispatch.Dispatcher, m *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:      log,
		cfg:      cfg,
		auth:     auth,
		reg:      reg,
		st:       st,
		disp:     disp,
		metrics:  m,
		health:   health,
		outbound: ringbuf.New(256),
	}
}

// IsConnected reports whether the bootstrap has completed on the current
// connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastHeartbeat returns the wall-clock time of the last echoed heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Connect arms the reconnect flag, starts the connection loop, and blocks
// until bootstrap completes or timeout/ctx elapses.
func (s *Session) Connect(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.shouldReconnect {
		s.mu.Unlock()
		return errs.New(errs.InvalidArgument, "already connected or connecting")
	}
	s.shouldReconnect = true
	s.attempt = 0
	connectedCh := make(chan struct{})
	s.connectedCh = connectedCh
	s.mu.Unlock()

	go s.runLoop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-connectedCh:
		return nil
	case <-timer.C:
		return errs.New(errs.Timeout, "connect timed out waiting for bootstrap")
	case <-ctx.Done():
		return errs.Wrap(errs.Timeout, "connect canceled", ctx.Err())
	}
}

// Disconnect clears the reconnect flag, closes the transport, and wakes
// every blocked waiter in the data store.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.shouldReconnect = false
	conn := s.conn
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
	if s.health != nil {
		s.health.SetConnected(false)
	}
	s.st.WakeAll()
}

// Ping reports the time elapsed since the last server heartbeat was
// received and echoed. It sends no frame of its own and does not measure a
// round trip.
func (s *Session) Ping() (time.Duration, error) {
	if !s.IsConnected() {
		return 0, errs.New(errs.TransportError, "not connected")
	}
	last := s.LastHeartbeat()
	if last.IsZero() {
		return 0, errs.New(errs.NotAvailable, "no heartbeat observed yet")
	}
	return time.Since(last), nil
}

func (s *Session) runLoop() {
	for {
		s.mu.Lock()
		should := s.shouldReconnect
		s.mu.Unlock()
		if !should {
			return
		}

		err := s.connectOnce()

		s.mu.Lock()
		stillWant := s.shouldReconnect
		s.mu.Unlock()
		if !stillWant {
			return
		}
		if err == nil {
			// connectOnce only returns nil for a clean Disconnect, already
			// handled above, but guard against a logic slip regardless.
			return
		}

		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.Reconnects.Inc()
		}
		if s.health != nil {
			s.health.SetReconnectAttempts(attempt)
		}
		if attempt >= s.cfg.MaxReconnectAttempts {
			s.log.Error("max reconnect attempts reached, giving up", "attempts", attempt)
			s.mu.Lock()
			s.shouldReconnect = false
			s.mu.Unlock()
			return
		}

		delay := backoffDelay(attempt, s.cfg.ReconnectCap())
		s.log.Warn("transport closed, reconnecting", append([]any{"attempt", attempt, "delay", delay, "error", err}, logger.LogWithTrace(s.traceCtx())...)...)
		time.Sleep(delay)
	}
}

// backoffDelay implements min(cap, 2^attempt) seconds.
func backoffDelay(attempt int, cap time.Duration) time.Duration {
	d := time.Duration(1) << uint(attempt) * time.Second
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

func (s *Session) connectOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := dial(ctx, s.cfg.Endpoint, s.cfg.Origin)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	stopWriter := make(chan struct{})
	go s.drainOutbound(conn, stopWriter)

	if err := s.bootstrap(conn); err != nil {
		close(stopWriter)
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.attempt = 0
	s.connected = true
	connectedCh := s.connectedCh
	s.mu.Unlock()
	if connectedCh != nil {
		select {
		case <-connectedCh:
		default:
			close(connectedCh)
		}
	}
	if s.health != nil {
		s.health.SetConnected(true)
	}
	s.log.Info("session bootstrap complete", logger.LogWithTrace(s.traceCtx())...)

	readErr := s.readLoop(conn)
	close(stopWriter)

	s.mu.Lock()
	s.connected = false
	disconnectRequested := !s.shouldReconnect
	s.mu.Unlock()
	if s.health != nil {
		s.health.SetConnected(false)
	}
	s.st.WakeAll()

	if disconnectRequested {
		return nil
	}
	return readErr
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	ctx := s.traceCtx()
	var buf []byte
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		buf = append(buf, message...)

		frames, remainder, decodeErr := wire.Decode(buf)
		buf = remainder
		if decodeErr != nil {
			return decodeErr
		}

		for _, f := range frames {
			if s.metrics != nil {
				s.metrics.FramesDecodedTotal.Inc()
			}
			if s.health != nil {
				s.health.SetLastFrameTime(time.Now())
			}
			if f.Heartbeat != nil {
				s.handleHeartbeat(conn, *f.Heartbeat)
				continue
			}
			if f.Message != nil {
				s.disp.Handle(ctx, *f.Message)
			}
		}
	}
}

func (s *Session) handleHeartbeat(conn *websocket.Conn, hb wire.Heartbeat) {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.HeartbeatsTotal.Inc()
	}
	echo := wire.EncodeHeartbeat(hb)
	if err := s.writeDirect(conn, echo); err != nil {
		s.log.Warn("failed to echo heartbeat", append([]any{"error", err}, logger.LogWithTrace(s.traceCtx())...)...)
	}
	if s.metrics != nil {
		s.metrics.OutboundBypassTotal.Inc()
	}
}

func (s *Session) writeDirect(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) drainOutbound(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		frame, ok := s.outbound.Pop()
		if !ok {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		if err := s.writeDirect(conn, frame); err != nil {
			s.log.Warn("outbound write failed", "error", err)
			return
		}
		if s.metrics != nil {
			s.metrics.OutboundQueueDepth.Set(float64(s.outbound.Len()))
		}
	}
}

// enqueue pushes an encoded frame onto the outbound queue. A full queue
// drops the oldest queued frame to make room, rather than dropping the
// newest — the caller's intent is always "most recent state wins".
func (s *Session) enqueue(frame []byte) {
	if s.outbound.Push(frame) {
		return
	}
	s.outbound.Pop()
	if s.metrics != nil {
		s.metrics.OutboundDropsTotal.Inc()
	}
	s.outbound.Push(frame)
}

func (s *Session) send(m wire.Message) {
	frame, err := wire.EncodeMessage(m)
	if err != nil {
		s.log.Error("failed to encode outbound message", "method", m.Method, "error", err)
		return
	}
	s.enqueue(frame)
}

// sendBypass writes m directly to conn, skipping the outbound queue —
// used only for bootstrap messages and the heartbeat echo, where losing
// the frame would wedge the whole session.
func (s *Session) sendBypass(conn *websocket.Conn, m wire.Message) error {
	frame, err := wire.EncodeMessage(m)
	if err != nil {
		return err
	}
	if err := s.writeDirect(conn, frame); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.OutboundBypassTotal.Inc()
	}
	return nil
}

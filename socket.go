package kvrpc

import (
	"context"
	"crypto/tls"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

/* =========================
   Socket channel
   - one Socket owns one websocket connection at a time
   - handshake retried forever with a fixed delay
   - inbound frames buffered in an unbounded queue
   ========================= */

type SocketState int32

const (
	StateDisconnected SocketState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventClose
	eventError
	eventUnexpected
)

type socketEvent struct {
	kind eventKind
	data string
	code int
	err  error
}

// socketConn is one live connection and the goroutines serving it.
type socketConn struct {
	ws     *websocket.Conn
	events *Queue[socketEvent]
	stop   chan struct{}
	once   sync.Once
}

func (c *socketConn) shutdown() {
	c.once.Do(func() {
		close(c.stop)
		_ = c.ws.Close()
		c.events.Close()
	})
}

type Socket struct {
	opts   *DialOptions
	dialer *websocket.Dialer

	state atomic.Int32

	mu   sync.Mutex
	conn *socketConn

	muW sync.Mutex
}

func NewSocket(opts *DialOptions) *Socket {
	opt := opts.WithDefaults()
	return &Socket{
		opts: opt,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opt.HandshakeTimeout,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: opt.InsecureSkipVerify},
			Jar:              opt.HTTPClient.Jar,
		},
	}
}

// State returns the current lifecycle state.
func (s *Socket) State() SocketState { return SocketState(s.state.Load()) }

// Connect opens the socket. Failed handshakes are retried every
// retryDelay until one succeeds or ctx is done.
func (s *Socket) Connect(ctx context.Context, rawURL string, retryDelay time.Duration) error {
	if _, err := url.Parse(rawURL); err != nil {
		return errors.Annotate(err, "invalid socket url")
	}
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) &&
		!s.state.CompareAndSwap(int32(StateClosed), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	if retryDelay <= 0 {
		retryDelay = s.opts.RetryDelay
	}

	var ws *websocket.Conn
	for attempt := 1; ; attempt++ {
		conn, resp, err := s.dialer.DialContext(ctx, rawURL, s.opts.Headers.Clone())
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			ws = conn
			break
		}
		if ctx.Err() != nil {
			s.state.Store(int32(StateDisconnected))
			return errors.Trace(ctx.Err())
		}
		logger.Warningf("websocket handshake with %s failed (attempt %d), retrying in %v: %v", rawURL, attempt, retryDelay, err)
		if s.opts.OnReconnectAttempt != nil {
			s.opts.OnReconnectAttempt(attempt, retryDelay)
		}
		select {
		case <-s.opts.Clock.After(retryDelay):
		case <-ctx.Done():
			s.state.Store(int32(StateDisconnected))
			return errors.Trace(ctx.Err())
		}
	}

	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	c := &socketConn{
		ws:     ws,
		events: NewQueue[socketEvent](),
		stop:   make(chan struct{}),
	}
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
	s.state.Store(int32(StateOpen))
	logger.Debugf("websocket connected to %s", rawURL)

	go s.readLoop(c)
	go s.pingLoop(c)
	return nil
}

func (s *Socket) current() *socketConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// readLoop funnels native frames into the event queue.
func (s *Socket) readLoop(c *socketConn) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				_ = c.events.Push(socketEvent{kind: eventClose, code: ce.Code, err: err})
			} else {
				_ = c.events.Push(socketEvent{kind: eventError, code: closeAbnormalClosure, err: err})
			}
			s.dropped(c)
			return
		}
		if mt != websocket.TextMessage {
			_ = c.events.Push(socketEvent{kind: eventUnexpected, code: CloseUnexpectedEvent})
			s.closeConn(c, CloseUnexpectedEvent)
			c.shutdown()
			return
		}
		msg := string(data)
		if s.opts.OnMessage != nil {
			s.opts.OnMessage(msg)
		}
		_ = c.events.Push(socketEvent{kind: eventMessage, data: msg})
	}
}

func (s *Socket) pingLoop(c *socketConn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ticker.C:
			s.muW.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			s.muW.Unlock()
			if err != nil {
				failures++
				if failures >= 3 {
					logger.Warningf("websocket ping failed %d times, dropping connection: %v", failures, err)
					_ = c.ws.Close()
					return
				}
			} else {
				failures = 0
			}
		case <-c.stop:
			return
		}
	}
}

// dropped handles a connection that ended without a local Close.
func (s *Socket) dropped(c *socketConn) {
	if s.current() == c {
		s.state.CompareAndSwap(int32(StateOpen), int32(StateClosed))
	}
	c.shutdown()
}

// Receive blocks until the next message. A close or error frame is
// returned as *SocketClosedError.
func (s *Socket) Receive(ctx context.Context) (string, error) {
	c := s.current()
	if c == nil {
		return "", newSocketClosedError(closeAbnormalClosure, ErrTransportClosed)
	}
	ev, err := c.events.Pop(ctx)
	if err == io.EOF {
		return "", newSocketClosedError(closeNormalClosure, ErrTransportClosed)
	}
	if err != nil {
		return "", errors.Trace(err)
	}
	switch ev.kind {
	case eventMessage:
		return ev.data, nil
	case eventClose, eventError, eventUnexpected:
		return "", newSocketClosedError(ev.code, ev.err)
	}
	return "", newSocketClosedError(CloseUnexpectedEvent, nil)
}

// Send writes one text frame. It fails immediately unless the socket is
// open; delivery is not acknowledged.
func (s *Socket) Send(ctx context.Context, msg string) error {
	c := s.current()
	if s.State() != StateOpen || c == nil {
		return &SocketClosedError{Code: CloseSendOnClosed, Reason: "closed socket", Err: ErrTransportClosed}
	}
	s.muW.Lock()
	defer s.muW.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
	} else {
		_ = c.ws.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return newSocketClosedError(closeAbnormalClosure, &TransportError{Op: "write", Err: err, Temporary: true})
	}
	return nil
}

// Close closes the socket with a normal closure code.
func (s *Socket) Close() error {
	return s.CloseWithCode(closeNormalClosure)
}

// CloseWithCode closes the socket. It is a no-op unless the socket is
// open, so the native close happens at most once per connection.
func (s *Socket) CloseWithCode(code int) error {
	c := s.current()
	if c == nil {
		return nil
	}
	s.closeConn(c, code)
	return nil
}

func (s *Socket) closeConn(c *socketConn, code int) {
	if s.current() != c || !s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}
	s.muW.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	s.muW.Unlock()
	if err != nil {
		logger.Debugf("websocket close frame not sent: %v", err)
	}
	c.shutdown()
	s.state.Store(int32(StateClosed))
}

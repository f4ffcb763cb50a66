package pubsub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// heartbeatInterval is both the watchdog tick and the maximum age a
	// heartbeat may have before the socket is considered dead.
	heartbeatInterval = 10 * time.Second

	// writeWait bounds a single frame write to a slow peer.
	writeWait = 10 * time.Second

	// sendQueueSize is the per-socket outbound buffer. A socket that
	// falls this far behind starts losing events rather than slowing
	// everyone else down.
	sendQueueSize = 256

	// heartbeatText is the literal frame clients send to stay alive.
	heartbeatText = "heartbeat"
)

var (
	// ErrNoSession means the socket has already been torn down.
	ErrNoSession = errors.New("no session")
	// ErrSessionClosed means the frame was dropped because the socket's
	// queue is full or it is mid-teardown.
	ErrSessionClosed = errors.New("session closed")
)

// DisconnectReason says why a socket was torn down.
type DisconnectReason int

const (
	// DisconnectReadExhaust covers read errors, write errors and explicit
	// closes: the underlying connection is gone or being discarded.
	DisconnectReadExhaust DisconnectReason = iota
	// DisconnectPingTimeout means the heartbeat watchdog fired.
	DisconnectPingTimeout
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectReadExhaust:
		return "read_exhaust"
	case DisconnectPingTimeout:
		return "ping_timeout"
	default:
		return "unknown"
	}
}

// Session is the transport a Socket runs over. A gorilla *websocket.Conn
// satisfies it; tests substitute an in-memory implementation.
type Session interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Handlers are the callbacks a Socket invokes from its own goroutines.
// OnMessage receives every inbound text frame except the heartbeat.
// OnDisconnect fires exactly once, whatever tears the socket down.
type Handlers struct {
	OnMessage    func(data []byte)
	OnDisconnect func(reason DisconnectReason)
}

// Socket wraps one websocket session with a buffered outbound queue, a
// single writer goroutine and a heartbeat watchdog. Frames queued with
// Send leave in order; delivery is best-effort.
type Socket struct {
	id       string
	sess     Session
	handlers Handlers

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	// watchdogInterval is heartbeatInterval except in tests.
	watchdogInterval time.Duration

	mu       sync.Mutex
	lastPing time.Time
}

// NewSocket wraps sess. The socket is inert until Start is called, so the
// caller can finish wiring (registration, closures over the returned
// handle) without racing the read loop.
func NewSocket(sess Session, handlers Handlers) *Socket {
	return newSocket(sess, handlers, heartbeatInterval)
}

func newSocket(sess Session, handlers Handlers, interval time.Duration) *Socket {
	return &Socket{
		id:               gonanoid.Must(),
		sess:             sess,
		handlers:         handlers,
		send:             make(chan []byte, sendQueueSize),
		done:             make(chan struct{}),
		watchdogInterval: interval,
	}
}

func (s *Socket) ID() string { return s.id }

// Start launches the read loop, the write pump and the watchdog.
func (s *Socket) Start() {
	go s.readLoop()
	go s.writePump()
	go s.watchdog()
}

// Send queues a frame for delivery. It never blocks: a torn-down socket
// reports ErrNoSession and a full queue drops the frame with
// ErrSessionClosed.
func (s *Socket) Send(data []byte) error {
	select {
	case <-s.done:
		return ErrNoSession
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrNoSession
	default:
		return ErrSessionClosed
	}
}

// Connected reports whether the socket is still live.
func (s *Socket) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close tears the socket down. Safe to call any number of times and
// concurrently with the socket's own teardown paths.
func (s *Socket) Close() {
	s.teardown(DisconnectReadExhaust)
}

func (s *Socket) readLoop() {
	for {
		_, data, err := s.sess.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read failed", "component", "pubsub", "socket_id", s.id, "error", err)
			}
			s.teardown(DisconnectReadExhaust)
			return
		}
		if string(data) == heartbeatText {
			s.mu.Lock()
			s.lastPing = time.Now()
			s.mu.Unlock()
			continue
		}
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(data)
		}
	}
}

func (s *Socket) writePump() {
	for {
		select {
		case data := <-s.send:
			s.sess.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.sess.WriteMessage(websocket.TextMessage, data); err != nil {
				s.teardown(DisconnectReadExhaust)
				return
			}
		case <-s.done:
			return
		}
	}
}

// watchdog enforces the heartbeat contract: a client that has not sent
// the heartbeat frame within one interval is torn down. last_ping starts
// at zero, so a client that never heartbeats dies on the first tick.
func (s *Socket) watchdog() {
	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			last := s.lastPing
			s.mu.Unlock()
			if last.IsZero() || time.Since(last) > s.watchdogInterval {
				s.teardown(DisconnectPingTimeout)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Socket) teardown(reason DisconnectReason) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sess.Close()
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(reason)
		}
	})
}

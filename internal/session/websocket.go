package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket defaults.
const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultReadLimit    = 4096
)

var idSeq atomic.Uint64

// NewID returns a process-unique session ID.
func NewID() string {
	return fmt.Sprintf("client_%d_%d", time.Now().UnixNano(), idSeq.Add(1))
}

// WebSocketOptions tunes a WebSocket session.
type WebSocketOptions struct {
	// WriteTimeout bounds a single write when ctx has no earlier deadline.
	WriteTimeout time.Duration

	// PongWait is how long the peer may stay silent before reads fail.
	// Pings are sent every PongWait*9/10.
	PongWait time.Duration

	// ReadLimit caps the size of one inbound message.
	ReadLimit int64
}

func (o WebSocketOptions) withDefaults() WebSocketOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

// WebSocket is a Session over a gorilla/websocket connection.
//
// Writes are serialized through writeSem, so a waiting Send can give up when
// its context ends. Only one goroutine may call Receive.
type WebSocket struct {
	id   string
	info Info
	conn *websocket.Conn
	opts WebSocketOptions

	writeSem  chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// NewWebSocket wraps an upgraded connection and starts its keepalive.
func NewWebSocket(conn *websocket.Conn, info Info, opts WebSocketOptions) *WebSocket {
	opts = opts.withDefaults()
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	if info.RemoteAddr == "" {
		info.RemoteAddr = conn.RemoteAddr().String()
	}

	s := &WebSocket{
		id:       NewID(),
		info:     info,
		conn:     conn,
		opts:     opts,
		writeSem: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go s.keepalive()
	return s
}

func (s *WebSocket) ID() string { return s.id }

func (s *WebSocket) Info() Info { return s.info }

// Send writes msg as a text frame.
func (s *WebSocket) Send(ctx context.Context, msg []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case s.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	defer func() { <-s.writeSem }()

	deadline := time.Now().Add(s.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write to %s: %w", s.id, err)
	}
	return nil
}

// Receive reads the next text or binary message. Cancelling ctx closes the
// session, since the underlying read cannot be abandoned otherwise.
func (s *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and releases the connection.
func (s *WebSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// Done is closed when the session is closed.
func (s *WebSocket) Done() <-chan struct{} { return s.done }

func (s *WebSocket) keepalive() {
	ticker := time.NewTicker(s.opts.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

// Package fake provides an in-memory session for testing.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skynet-gcs/gcsbridge/internal/session"
)

// Session is an in-memory session. Inbound messages are queued with Push;
// outbound messages are recorded and can be read back with Sent.
type Session struct {
	id   string
	info session.Info

	inbound chan []byte

	mu        sync.Mutex
	sent      [][]byte
	sendErr   error
	sendDelay time.Duration
	notify    chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a controller session with the given ID.
func NewSession(id string) *Session {
	return NewSessionWithInfo(id, session.Info{Role: session.RoleController, ConnectedAt: time.Now()})
}

// NewSessionWithInfo creates a session with explicit principal info.
func NewSessionWithInfo(id string, info session.Info) *Session {
	return &Session{
		id:      id,
		info:    info,
		inbound: make(chan []byte, 64),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Info() session.Info { return s.info }

// Send records msg, honoring any configured delay or error.
func (s *Session) Send(ctx context.Context, msg []byte) error {
	select {
	case <-s.done:
		return session.ErrClosed
	default:
	}

	s.mu.Lock()
	delay, sendErr := s.sendDelay, s.sendErr
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return session.ErrClosed
		}
	}
	if sendErr != nil {
		return sendErr
	}

	s.mu.Lock()
	s.sent = append(s.sent, append([]byte(nil), msg...))
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns the next pushed message.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.inbound:
		return msg, nil
	case <-s.done:
		return nil, session.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Push queues an inbound message.
func (s *Session) Push(msg string) {
	s.inbound <- []byte(msg)
}

// FailSends makes every later Send return err.
func (s *Session) FailSends(err error) {
	if err == nil {
		err = errors.New("simulated send failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SetSendDelay makes every later Send block for d.
func (s *Session) SetSendDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendDelay = d
}

// Sent returns a copy of every message delivered so far.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// WaitSent blocks until at least n messages were delivered or timeout elapses.
func (s *Session) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(s.Sent()) >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline:
			return len(s.Sent()) >= n
		}
	}
}

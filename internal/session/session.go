// Package session tracks connected operator clients.
//
// A Session is the bridge's handle on one client: it can be sent serialized
// snapshots and yields inbound command messages. The Registry owns the set
// of live sessions; the broadcaster enumerates it and removes sessions that
// fail.
package session

import (
	"context"
	"errors"
	"time"
)

// Session errors.
var (
	ErrClosed    = errors.New("SESSION_CLOSED")
	ErrDuplicate = errors.New("SESSION_DUPLICATE")
)

// Roles a session can carry.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Info describes who is behind a session.
type Info struct {
	Subject     string
	Role        string
	RemoteAddr  string
	ConnectedAt time.Time
}

// CanCommand reports whether the session may issue vehicle commands.
func (i Info) CanCommand() bool {
	return i.Role == RoleController
}

// Session is one connected operator client.
type Session interface {
	// ID returns the session's unique identity.
	ID() string

	// Info returns the session's principal and origin.
	Info() Info

	// Send delivers one serialized message. It returns once the message was
	// written or ctx expired.
	Send(ctx context.Context, msg []byte) error

	// Receive blocks until the next inbound message arrives. It returns
	// ErrClosed (possibly wrapped) once the session is closed.
	Receive(ctx context.Context) ([]byte, error)

	// Close terminates the session. It is safe to call more than once.
	Close() error
}

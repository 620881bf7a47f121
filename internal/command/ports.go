package command

import (
	"context"
	"time"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
	"github.com/skynet-gcs/gcsbridge/internal/flightmode"
	"github.com/skynet-gcs/gcsbridge/internal/session"
)

// Port is what the API layer needs from the dispatcher.
type Port interface {
	Serve(ctx context.Context, s session.Session) error
	Stats() Stats
}

// Vehicle is the subset of the vehicle adapter the dispatcher calls directly.
type Vehicle interface {
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	SetVelocityBody(ctx context.Context, v adapter.VelocityBodyYawspeed) error
}

// ModeController validates and performs mode changes.
type ModeController interface {
	Request(ctx context.Context, mode flightmode.Mode) error
	State() flightmode.State
}

// AuditLogger records dispatched action commands.
type AuditLogger interface {
	LogAction(ctx context.Context, action, sessionID, user string, params map[string]interface{}, err error, latency time.Duration)
}

var (
	_ Vehicle        = adapter.IVehicleAdapter(nil)
	_ ModeController = (*flightmode.Machine)(nil)
)

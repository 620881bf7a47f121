package api

import (
	"context"

	"github.com/skynet-gcs/gcsbridge/internal/command"
	"github.com/skynet-gcs/gcsbridge/internal/flightmode"
	"github.com/skynet-gcs/gcsbridge/internal/session"
	"github.com/skynet-gcs/gcsbridge/internal/telemetry"
)

// SnapshotReader provides the current telemetry snapshot.
type SnapshotReader interface {
	Read() telemetry.Snapshot
}

// SessionHandler serves one connected session until it ends.
type SessionHandler interface {
	Serve(ctx context.Context, s session.Session) error
	Stats() command.Stats
}

// TelemetryStatus reports telemetry channel health.
type TelemetryStatus interface {
	Stale() []telemetry.ChannelFailure
	Updates() map[string]uint64
}

// BroadcastStatus reports broadcaster counters.
type BroadcastStatus interface {
	Stats() telemetry.Stats
}

// ModeStatus reports the flight mode machine state.
type ModeStatus interface {
	State() flightmode.State
}

// Compile-time assertions for port conformance
var (
	_ SnapshotReader  = (*telemetry.Store)(nil)
	_ SessionHandler  = (*command.Dispatcher)(nil)
	_ TelemetryStatus = (*telemetry.Manager)(nil)
	_ BroadcastStatus = (*telemetry.Broadcaster)(nil)
	_ ModeStatus      = (*flightmode.Machine)(nil)
)

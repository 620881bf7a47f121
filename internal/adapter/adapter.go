// Package adapter defines IVehicleAdapter, the southbound vehicle contract.
package adapter

import (
	"context"
	"iter"
)

// Position is a global position fix.
type Position struct {
	LatitudeDeg       float64 `json:"latitudeDeg"`
	LongitudeDeg      float64 `json:"longitudeDeg"`
	AbsoluteAltitudeM float64 `json:"absoluteAltitudeM"`
	RelativeAltitudeM float64 `json:"relativeAltitudeM"`
}

// EulerAngle is the vehicle attitude in degrees.
type EulerAngle struct {
	RollDeg  float64 `json:"rollDeg"`
	PitchDeg float64 `json:"pitchDeg"`
	YawDeg   float64 `json:"yawDeg"`
}

// Battery is the primary battery state.
// RemainingPercent is a fraction in [0, 1].
type Battery struct {
	VoltageV         float64 `json:"voltageV"`
	RemainingPercent float64 `json:"remainingPercent"`
}

// GPSInfo is the GNSS receiver state.
type GPSInfo struct {
	NumSatellites int `json:"numSatellites"`
	FixType       int `json:"fixType"`
}

// FixedwingMetrics carries speed and climb rate (VFR HUD).
type FixedwingMetrics struct {
	AirspeedMS    float64 `json:"airspeedMS"`
	GroundspeedMS float64 `json:"groundspeedMS"`
	ClimbRateMS   float64 `json:"climbRateMS"`
}

// ConnectionState reports whether the vehicle link is alive.
type ConnectionState struct {
	IsConnected bool `json:"isConnected"`
}

// VelocityBodyYawspeed is a body-frame velocity setpoint.
type VelocityBodyYawspeed struct {
	ForwardMS    float64 `json:"forwardMS"`
	RightMS      float64 `json:"rightMS"`
	DownMS       float64 `json:"downMS"`
	YawspeedDegS float64 `json:"yawspeedDegS"`
}

// FlightMode is the mode reported by the vehicle.
type FlightMode string

// Flight modes reported by telemetry.
const (
	FlightModeUnknown        FlightMode = "UNKNOWN"
	FlightModeReady          FlightMode = "READY"
	FlightModeTakeoff        FlightMode = "TAKEOFF"
	FlightModeHold           FlightMode = "HOLD"
	FlightModeMission        FlightMode = "MISSION"
	FlightModeReturnToLaunch FlightMode = "RETURN_TO_LAUNCH"
	FlightModeLand           FlightMode = "LAND"
	FlightModeOffboard       FlightMode = "OFFBOARD"
	FlightModeFollowMe       FlightMode = "FOLLOW_ME"
	FlightModeManual         FlightMode = "MANUAL"
	FlightModeAltctl         FlightMode = "ALTCTL"
	FlightModePosctl         FlightMode = "POSCTL"
	FlightModeAcro           FlightMode = "ACRO"
	FlightModeStabilized     FlightMode = "STABILIZED"
	FlightModeRattitude      FlightMode = "RATTITUDE"
)

// Telemetry exposes one independent subscription per telemetry category.
//
// Every method returns a lazy, infinite, non-restartable sequence. The
// sequence ends when ctx is cancelled (no error is yielded) or when the
// underlying stream fails (a single non-nil error is yielded last).
type Telemetry interface {
	ConnectionState(ctx context.Context) iter.Seq2[ConnectionState, error]
	Position(ctx context.Context) iter.Seq2[Position, error]
	Attitude(ctx context.Context) iter.Seq2[EulerAngle, error]
	Battery(ctx context.Context) iter.Seq2[Battery, error]
	FlightMode(ctx context.Context) iter.Seq2[FlightMode, error]
	Armed(ctx context.Context) iter.Seq2[bool, error]
	GPSInfo(ctx context.Context) iter.Seq2[GPSInfo, error]
	FixedwingMetrics(ctx context.Context) iter.Seq2[FixedwingMetrics, error]
}

// Action is the request/response command surface. Each call returns once
// the vehicle acknowledged (or rejected) the request.
type Action interface {
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	ReturnToLaunch(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	Hold(ctx context.Context) error
}

// Offboard is the external setpoint control surface.
type Offboard interface {
	// SetVelocityBody sends a single body-frame velocity setpoint.
	SetVelocityBody(ctx context.Context, v VelocityBodyYawspeed) error

	// StartOffboard requests the setpoint-driven mode. At least one setpoint
	// must have been sent beforehand or the vehicle rejects the request.
	StartOffboard(ctx context.Context) error

	// StopOffboard leaves the setpoint-driven mode (vehicle falls back to hold).
	StopOffboard(ctx context.Context) error
}

// IVehicleAdapter defines the stable southbound adapter contract.
type IVehicleAdapter interface {
	Telemetry
	Action
	Offboard

	// Close releases the underlying link. Open telemetry sequences end with
	// ErrClosed.
	Close() error
}

// Package flightmode enforces the preconditions for vehicle mode changes.
//
// Setpoint-dependent modes (OFFBOARD) are entered only after a zero-velocity
// setpoint was accepted by the vehicle in the same activation attempt. All
// other modes are entered with a single vehicle call.
package flightmode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
)

// Errors returned by the machine.
var (
	ErrUnknownMode        = errors.New("UNKNOWN_MODE")
	ErrTransitionAborted  = errors.New("MODE_TRANSITION_ABORTED")
	ErrTransitionRejected = errors.New("MODE_TRANSITION_REJECTED")
	ErrTransitionPending  = errors.New("MODE_TRANSITION_PENDING")
)

// TransitionError reports a failed mode transition. It matches its Kind
// (ErrTransitionAborted or ErrTransitionRejected) and the vehicle error.
type TransitionError struct {
	Mode Mode
	Step string
	Kind error
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Mode, e.Step, e.Err)
}

func (e *TransitionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Mode is a mode an operator may request.
type Mode string

// Requestable modes.
const (
	ModeOffboard Mode = "OFFBOARD"
	ModeRTL      Mode = "RTL"
	ModeTakeoff  Mode = "TAKEOFF"
	ModeLand     Mode = "LAND"
	ModeHold     Mode = "HOLD"
)

// Modes returns every requestable mode.
func Modes() []Mode {
	return []Mode{ModeOffboard, ModeRTL, ModeTakeoff, ModeLand, ModeHold}
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// SetpointDependent reports whether the mode needs a primed setpoint stream.
func (m Mode) SetpointDependent() bool {
	return m == ModeOffboard
}

// Phase is the machine's coarse state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePrimingSetpoint
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhasePrimingSetpoint:
		return "PrimingSetpoint"
	case PhaseActive:
		return "Active"
	default:
		return "Phase(?)"
	}
}

// State is the machine state. Mode is set only while Active, and while
// priming it names the mode being primed for.
type State struct {
	Phase Phase
	Mode  Mode
	Since time.Time
}

func (s State) String() string {
	if s.Phase == PhaseActive {
		return fmt.Sprintf("Active(%s)", s.Mode)
	}
	return s.Phase.String()
}

// IsActive reports whether the machine is Active in mode m.
func (s State) IsActive(m Mode) bool {
	return s.Phase == PhaseActive && s.Mode == m
}

// Vehicle is the subset of the vehicle adapter the machine drives.
type Vehicle interface {
	SetVelocityBody(ctx context.Context, v adapter.VelocityBodyYawspeed) error
	StartOffboard(ctx context.Context) error
	ReturnToLaunch(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	Hold(ctx context.Context) error
}

// Machine is the flight mode state machine.
//
// OFFBOARD activations are serialized: a second one waits, bounded by its
// context, until the priming sequence in flight has finished. Direct modes
// never wait. When transitions overlap, the state is owned by the request
// that started last.
type Machine struct {
	vehicle Vehicle
	logger  *slog.Logger

	offboard chan struct{}
	seq      atomic.Uint64

	mu      sync.RWMutex
	state   State
	applied uint64
}

// New creates a machine in the Idle state.
func New(vehicle Vehicle, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		vehicle:  vehicle,
		logger:   logger.With("component", "flightmode"),
		offboard: make(chan struct{}, 1),
		state:    State{Phase: PhaseIdle, Since: time.Now()},
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// set moves the machine to phase/mode on behalf of request seq. It is a
// no-op once a later request has set the state.
func (m *Machine) set(seq uint64, phase Phase, mode Mode) {
	m.mu.Lock()
	if seq < m.applied {
		m.mu.Unlock()
		m.logger.Debug("Superseded state change dropped", "to", State{Phase: phase, Mode: mode}.String())
		return
	}
	prev := m.state
	m.applied = seq
	m.state = State{Phase: phase, Mode: mode, Since: time.Now()}
	next := m.state
	m.mu.Unlock()

	m.logger.Debug("Flight mode state changed", "from", prev.String(), "to", next.String())
}

// Request drives the machine toward mode.
//
// For OFFBOARD: Idle -> PrimingSetpoint -> Active(OFFBOARD). A failure of the
// priming setpoint or of the start call returns the machine to Idle and is
// reported as ErrTransitionAborted; the start call is never made when the
// setpoint failed.
//
// A second OFFBOARD request whose context ends while another is priming
// returns ErrTransitionPending without calling the vehicle.
//
// For the other modes the vehicle call is made directly. On failure the
// previous state is kept and ErrTransitionRejected is returned.
func (m *Machine) Request(ctx context.Context, mode Mode) error {
	if mode.SetpointDependent() {
		select {
		case m.offboard <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrTransitionPending, mode, ctx.Err())
		}
		defer func() { <-m.offboard }()
		return m.enterOffboard(ctx, m.seq.Add(1), mode)
	}
	return m.enterDirect(ctx, m.seq.Add(1), mode)
}

func (m *Machine) enterOffboard(ctx context.Context, seq uint64, mode Mode) error {
	m.set(seq, PhasePrimingSetpoint, mode)

	if err := m.vehicle.SetVelocityBody(ctx, adapter.VelocityBodyYawspeed{}); err != nil {
		m.set(seq, PhaseIdle, "")
		m.logger.Warn("ModeTransitionAborted", "mode", string(mode), "step", "prime_setpoint", "error", err)
		return &TransitionError{Mode: mode, Step: "prime_setpoint", Kind: ErrTransitionAborted, Err: err}
	}

	if err := m.vehicle.StartOffboard(ctx); err != nil {
		m.set(seq, PhaseIdle, "")
		m.logger.Warn("ModeTransitionAborted", "mode", string(mode), "step", "start_offboard", "error", err)
		return &TransitionError{Mode: mode, Step: "start_offboard", Kind: ErrTransitionAborted, Err: err}
	}

	m.set(seq, PhaseActive, mode)
	m.logger.Info("Mode entered", "mode", string(mode))
	return nil
}

func (m *Machine) enterDirect(ctx context.Context, seq uint64, mode Mode) error {
	var call func(context.Context) error
	switch mode {
	case ModeRTL:
		call = m.vehicle.ReturnToLaunch
	case ModeTakeoff:
		call = m.vehicle.Takeoff
	case ModeLand:
		call = m.vehicle.Land
	case ModeHold:
		call = m.vehicle.Hold
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	if err := call(ctx); err != nil {
		m.logger.Warn("VehicleCommandRejected", "mode", string(mode), "state", m.State().String(), "error", err)
		return &TransitionError{Mode: mode, Step: "command", Kind: ErrTransitionRejected, Err: err}
	}

	m.set(seq, PhaseActive, mode)
	m.logger.Info("Mode entered", "mode", string(mode))
	return nil
}

package flightmode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
	"github.com/skynet-gcs/gcsbridge/internal/adapter/fake"
)

func newMachine() (*Machine, *fake.FakeAdapter) {
	vehicle := fake.NewFakeAdapter()
	return New(vehicle, slog.New(slog.NewTextHandler(io.Discard, nil))), vehicle
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"OFFBOARD", "RTL", "TAKEOFF", "LAND", "HOLD"} {
		m, err := ParseMode(name)
		if err != nil || string(m) != name {
			t.Errorf("ParseMode(%q) = %q, %v", name, m, err)
		}
	}
	for _, name := range []string{"", "offboard", "MISSION", "POSCTL"} {
		if _, err := ParseMode(name); !errors.Is(err, ErrUnknownMode) {
			t.Errorf("ParseMode(%q): expected ErrUnknownMode, got %v", name, err)
		}
	}
	if !ModeOffboard.SetpointDependent() || ModeHold.SetpointDependent() {
		t.Error("Only OFFBOARD is setpoint-dependent")
	}
}

func TestOffboardPrimesBeforeStart(t *testing.T) {
	m, vehicle := newMachine()

	if err := m.Request(context.Background(), ModeOffboard); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	calls := vehicle.Calls()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 calls, got %v", vehicle.CallNames())
	}
	if calls[0].Name != fake.CallSetVelocityBody || calls[0].Setpoint != (adapter.VelocityBodyYawspeed{}) {
		t.Errorf("Expected zero setpoint first, got %+v", calls[0])
	}
	if calls[1].Name != fake.CallStartOffboard {
		t.Errorf("Expected start offboard second, got %s", calls[1].Name)
	}
	if s := m.State(); !s.IsActive(ModeOffboard) || s.String() != "Active(OFFBOARD)" {
		t.Errorf("Expected Active(OFFBOARD), got %s", s)
	}
}

func TestOffboardSetpointFailureSkipsStart(t *testing.T) {
	m, vehicle := newMachine()
	vehicle.SetErrorSimulation(fake.CallSetVelocityBody, "DENIED")

	err := m.Request(context.Background(), ModeOffboard)
	if !errors.Is(err, ErrTransitionAborted) {
		t.Fatalf("Expected ErrTransitionAborted, got %v", err)
	}

	for _, name := range vehicle.CallNames() {
		if name == fake.CallStartOffboard {
			t.Fatal("Start offboard must not be called after a failed setpoint")
		}
	}
	if m.State().Phase != PhaseIdle {
		t.Errorf("Expected Idle, got %s", m.State())
	}
}

func TestOffboardStartFailureReturnsToIdle(t *testing.T) {
	m, vehicle := newMachine()
	vehicle.SetErrorSimulation(fake.CallStartOffboard, "DENIED")

	err := m.Request(context.Background(), ModeOffboard)
	if !errors.Is(err, ErrTransitionAborted) {
		t.Fatalf("Expected ErrTransitionAborted, got %v", err)
	}
	if m.State().Phase != PhaseIdle {
		t.Errorf("Expected Idle, got %s", m.State())
	}
}

func TestOffboardFailureFromActiveReturnsToIdle(t *testing.T) {
	m, vehicle := newMachine()
	ctx := context.Background()

	if err := m.Request(ctx, ModeHold); err != nil {
		t.Fatalf("Request(HOLD) failed: %v", err)
	}
	vehicle.SetErrorSimulation(fake.CallSetVelocityBody, "TIMEOUT")

	if err := m.Request(ctx, ModeOffboard); !errors.Is(err, ErrTransitionAborted) {
		t.Fatalf("Expected ErrTransitionAborted, got %v", err)
	}
	if m.State().Phase != PhaseIdle {
		t.Errorf("Expected Idle after aborted priming, got %s", m.State())
	}
}

func TestDirectModes(t *testing.T) {
	tests := []struct {
		mode Mode
		call string
	}{
		{ModeRTL, fake.CallReturnToLaunch},
		{ModeTakeoff, fake.CallTakeoff},
		{ModeLand, fake.CallLand},
		{ModeHold, fake.CallHold},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			m, vehicle := newMachine()
			if err := m.Request(context.Background(), tt.mode); err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			names := vehicle.CallNames()
			if len(names) != 1 || names[0] != tt.call {
				t.Errorf("Expected single %s call, got %v", tt.call, names)
			}
			if !m.State().IsActive(tt.mode) {
				t.Errorf("Expected Active(%s), got %s", tt.mode, m.State())
			}
		})
	}
}

func TestDirectModeFromActiveOffboard(t *testing.T) {
	m, vehicle := newMachine()
	ctx := context.Background()

	_ = m.Request(ctx, ModeOffboard)
	vehicle.ResetCalls()

	if err := m.Request(ctx, ModeLand); err != nil {
		t.Fatalf("Request(LAND) failed: %v", err)
	}
	if names := vehicle.CallNames(); len(names) != 1 || names[0] != fake.CallLand {
		t.Errorf("Expected no priming for LAND, got %v", names)
	}
	if !m.State().IsActive(ModeLand) {
		t.Errorf("Expected Active(LAND), got %s", m.State())
	}
}

func TestDirectModeFailureKeepsState(t *testing.T) {
	m, vehicle := newMachine()
	ctx := context.Background()

	_ = m.Request(ctx, ModeOffboard)
	vehicle.SetErrorSimulation(fake.CallReturnToLaunch, "BUSY")

	err := m.Request(ctx, ModeRTL)
	if !errors.Is(err, ErrTransitionRejected) || !errors.Is(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, "px4"), adapter.ErrBusy) {
		t.Fatalf("Expected rejected BUSY transition, got %v", err)
	}
	if !m.State().IsActive(ModeOffboard) {
		t.Errorf("Expected state to stay Active(OFFBOARD), got %s", m.State())
	}
}

func TestDirectModeDoesNotWaitForSlowRequest(t *testing.T) {
	m, vehicle := newMachine()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	vehicle.SetHook(fake.CallTakeoff, func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	})

	takeoff := make(chan error, 1)
	go func() { takeoff <- m.Request(context.Background(), ModeTakeoff) }()
	<-entered

	// Another session lands while TAKEOFF is still waiting on the vehicle.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := m.Request(ctx, ModeLand); err != nil {
		t.Fatalf("LAND failed while TAKEOFF was pending: %v", err)
	}
	if !m.State().IsActive(ModeLand) {
		t.Errorf("Expected Active(LAND), got %s", m.State())
	}

	close(release)
	if err := <-takeoff; err != nil {
		t.Fatalf("TAKEOFF failed: %v", err)
	}
	// The earlier request finishing later does not overwrite the state.
	if !m.State().IsActive(ModeLand) {
		t.Errorf("Expected Active(LAND) to be kept, got %s", m.State())
	}
}

func TestOffboardRequestsAreSerialized(t *testing.T) {
	m, vehicle := newMachine()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	vehicle.SetHook(fake.CallStartOffboard, func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	})

	first := make(chan error, 1)
	go func() { first <- m.Request(context.Background(), ModeOffboard) }()
	<-entered
	if m.State().Phase != PhasePrimingSetpoint {
		t.Errorf("Expected PrimingSetpoint while start is pending, got %s", m.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	err := m.Request(ctx, ModeOffboard)
	if !errors.Is(err, ErrTransitionPending) || errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("Expected ErrTransitionPending, got %v", err)
	}
	if time.Since(started) > time.Second {
		t.Error("Queued OFFBOARD request ignored its deadline")
	}

	var primes int
	for _, name := range vehicle.CallNames() {
		if name == fake.CallSetVelocityBody {
			primes++
		}
	}
	if primes != 1 {
		t.Errorf("Expected one priming setpoint, got %d in %v", primes, vehicle.CallNames())
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("First OFFBOARD request failed: %v", err)
	}
	if !m.State().IsActive(ModeOffboard) {
		t.Errorf("Expected Active(OFFBOARD), got %s", m.State())
	}
}

func TestTransitionErrorCarriesVehicleCause(t *testing.T) {
	m, vehicle := newMachine()
	vehicle.SetErrorSimulation(fake.CallStartOffboard, "UNSUPPORTED")

	err := m.Request(context.Background(), ModeOffboard)

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransitionError, got %T", err)
	}
	if te.Mode != ModeOffboard || te.Step != "start_offboard" {
		t.Errorf("Unexpected transition error %+v", te)
	}
	if got := adapter.Code(adapter.NormalizeVehicleErrorWithAutopilot(te.Err, nil, "px4")); got != "UNSUPPORTED" {
		t.Errorf("Expected UNSUPPORTED cause, got %s", got)
	}
}

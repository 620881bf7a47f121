// Package fake provides a fake vehicle adapter implementation for testing.
package fake

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
)

// Call names recorded by FakeAdapter.
const (
	CallArm             = "arm"
	CallDisarm          = "disarm"
	CallReturnToLaunch  = "return_to_launch"
	CallTakeoff         = "takeoff"
	CallLand            = "land"
	CallHold            = "hold"
	CallSetVelocityBody = "set_velocity_body"
	CallStartOffboard   = "start_offboard"
	CallStopOffboard    = "stop_offboard"
)

// Call is one recorded command invocation.
type Call struct {
	Name     string
	Setpoint adapter.VelocityBodyYawspeed
}

// FakeAdapter implements IVehicleAdapter for testing purposes.
type FakeAdapter struct {
	connection *adapter.Feed[adapter.ConnectionState]
	position   *adapter.Feed[adapter.Position]
	attitude   *adapter.Feed[adapter.EulerAngle]
	battery    *adapter.Feed[adapter.Battery]
	flightMode *adapter.Feed[adapter.FlightMode]
	armed      *adapter.Feed[bool]
	gps        *adapter.Feed[adapter.GPSInfo]
	fixedwing  *adapter.Feed[adapter.FixedwingMetrics]

	mu     sync.Mutex
	calls  []Call
	errors map[string]string
	hooks  map[string]func(ctx context.Context) error
	closed bool
}

// NewFakeAdapter creates a new fake adapter for testing.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		connection: adapter.NewFeed[adapter.ConnectionState](adapter.DefaultFeedBuffer),
		position:   adapter.NewFeed[adapter.Position](adapter.DefaultFeedBuffer),
		attitude:   adapter.NewFeed[adapter.EulerAngle](adapter.DefaultFeedBuffer),
		battery:    adapter.NewFeed[adapter.Battery](adapter.DefaultFeedBuffer),
		flightMode: adapter.NewFeed[adapter.FlightMode](adapter.DefaultFeedBuffer),
		armed:      adapter.NewFeed[bool](adapter.DefaultFeedBuffer),
		gps:        adapter.NewFeed[adapter.GPSInfo](adapter.DefaultFeedBuffer),
		fixedwing:  adapter.NewFeed[adapter.FixedwingMetrics](adapter.DefaultFeedBuffer),
		errors:     make(map[string]string),
		hooks:      make(map[string]func(ctx context.Context) error),
	}
}

// Telemetry

func (f *FakeAdapter) ConnectionState(ctx context.Context) iter.Seq2[adapter.ConnectionState, error] {
	return f.connection.Subscribe(ctx)
}

func (f *FakeAdapter) Position(ctx context.Context) iter.Seq2[adapter.Position, error] {
	return f.position.Subscribe(ctx)
}

func (f *FakeAdapter) Attitude(ctx context.Context) iter.Seq2[adapter.EulerAngle, error] {
	return f.attitude.Subscribe(ctx)
}

func (f *FakeAdapter) Battery(ctx context.Context) iter.Seq2[adapter.Battery, error] {
	return f.battery.Subscribe(ctx)
}

func (f *FakeAdapter) FlightMode(ctx context.Context) iter.Seq2[adapter.FlightMode, error] {
	return f.flightMode.Subscribe(ctx)
}

func (f *FakeAdapter) Armed(ctx context.Context) iter.Seq2[bool, error] {
	return f.armed.Subscribe(ctx)
}

func (f *FakeAdapter) GPSInfo(ctx context.Context) iter.Seq2[adapter.GPSInfo, error] {
	return f.gps.Subscribe(ctx)
}

func (f *FakeAdapter) FixedwingMetrics(ctx context.Context) iter.Seq2[adapter.FixedwingMetrics, error] {
	return f.fixedwing.Subscribe(ctx)
}

// Actions

func (f *FakeAdapter) Arm(ctx context.Context) error { return f.invoke(ctx, Call{Name: CallArm}) }

func (f *FakeAdapter) Disarm(ctx context.Context) error { return f.invoke(ctx, Call{Name: CallDisarm}) }

func (f *FakeAdapter) ReturnToLaunch(ctx context.Context) error {
	return f.invoke(ctx, Call{Name: CallReturnToLaunch})
}

func (f *FakeAdapter) Takeoff(ctx context.Context) error {
	return f.invoke(ctx, Call{Name: CallTakeoff})
}

func (f *FakeAdapter) Land(ctx context.Context) error { return f.invoke(ctx, Call{Name: CallLand}) }

func (f *FakeAdapter) Hold(ctx context.Context) error { return f.invoke(ctx, Call{Name: CallHold}) }

// Offboard

func (f *FakeAdapter) SetVelocityBody(ctx context.Context, v adapter.VelocityBodyYawspeed) error {
	return f.invoke(ctx, Call{Name: CallSetVelocityBody, Setpoint: v})
}

func (f *FakeAdapter) StartOffboard(ctx context.Context) error {
	return f.invoke(ctx, Call{Name: CallStartOffboard})
}

func (f *FakeAdapter) StopOffboard(ctx context.Context) error {
	return f.invoke(ctx, Call{Name: CallStopOffboard})
}

// Close fails every telemetry feed with ErrClosed.
func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.connection.Fail(adapter.ErrClosed)
	f.position.Fail(adapter.ErrClosed)
	f.attitude.Fail(adapter.ErrClosed)
	f.battery.Fail(adapter.ErrClosed)
	f.flightMode.Fail(adapter.ErrClosed)
	f.armed.Fail(adapter.ErrClosed)
	f.gps.Fail(adapter.ErrClosed)
	f.fixedwing.Fail(adapter.ErrClosed)
	return nil
}

func (f *FakeAdapter) invoke(ctx context.Context, call Call) error {
	// Check for context cancellation
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return adapter.ErrClosed
	}
	f.calls = append(f.calls, call)
	errorType := f.errors[call.Name]
	hook := f.hooks[call.Name]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	if errorType != "" {
		return simulatedError(call.Name, errorType)
	}
	return nil
}

// Helper methods for testing

// PublishConnection pushes a connection state sample.
func (f *FakeAdapter) PublishConnection(v adapter.ConnectionState) { f.connection.Publish(v) }

// PublishPosition pushes a position sample.
func (f *FakeAdapter) PublishPosition(v adapter.Position) { f.position.Publish(v) }

// PublishAttitude pushes an attitude sample.
func (f *FakeAdapter) PublishAttitude(v adapter.EulerAngle) { f.attitude.Publish(v) }

// PublishBattery pushes a battery sample.
func (f *FakeAdapter) PublishBattery(v adapter.Battery) { f.battery.Publish(v) }

// PublishFlightMode pushes a flight mode sample.
func (f *FakeAdapter) PublishFlightMode(v adapter.FlightMode) { f.flightMode.Publish(v) }

// PublishArmed pushes an armed sample.
func (f *FakeAdapter) PublishArmed(v bool) { f.armed.Publish(v) }

// PublishGPSInfo pushes a GPS sample.
func (f *FakeAdapter) PublishGPSInfo(v adapter.GPSInfo) { f.gps.Publish(v) }

// PublishFixedwingMetrics pushes a speed/climb sample.
func (f *FakeAdapter) PublishFixedwingMetrics(v adapter.FixedwingMetrics) { f.fixedwing.Publish(v) }

// FailChannel terminates one telemetry feed with err. Channel names match
// the telemetry method names in snake case ("position", "flight_mode", ...).
func (f *FakeAdapter) FailChannel(channel string, err error) {
	switch channel {
	case "connection":
		f.connection.Fail(err)
	case "position":
		f.position.Fail(err)
	case "attitude":
		f.attitude.Fail(err)
	case "battery":
		f.battery.Fail(err)
	case "flight_mode":
		f.flightMode.Fail(err)
	case "armed":
		f.armed.Fail(err)
	case "gps":
		f.gps.Fail(err)
	case "fixedwing":
		f.fixedwing.Fail(err)
	}
}

// Subscribers returns the number of live subscriptions on every feed combined.
func (f *FakeAdapter) Subscribers() int {
	return f.connection.Subscribers() + f.position.Subscribers() + f.attitude.Subscribers() +
		f.battery.Subscribers() + f.flightMode.Subscribers() + f.armed.Subscribers() +
		f.gps.Subscribers() + f.fixedwing.Subscribers()
}

// SetErrorSimulation makes the named call fail with errorType
// (BUSY, DENIED, UNSUPPORTED, TIMEOUT, UNAVAILABLE or INTERNAL).
func (f *FakeAdapter) SetErrorSimulation(call, errorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[call] = errorType
}

// DisableErrorSimulation clears all simulated errors.
func (f *FakeAdapter) DisableErrorSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = make(map[string]string)
}

// SetHook runs fn whenever the named call is made, after it is recorded.
// A non-nil error from fn is returned to the caller.
func (f *FakeAdapter) SetHook(call string, fn func(ctx context.Context) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[call] = fn
}

// Calls returns a copy of the recorded calls in invocation order.
func (f *FakeAdapter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallNames returns the names of the recorded calls in invocation order.
func (f *FakeAdapter) CallNames() []string {
	calls := f.Calls()
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

// ResetCalls clears the call log.
func (f *FakeAdapter) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// simulatedError returns an autopilot-style error for the configured type.
func simulatedError(call, errorType string) error {
	switch errorType {
	case "BUSY":
		return fmt.Errorf("%s: MAV_RESULT_TEMPORARILY_REJECTED", call)
	case "DENIED":
		return fmt.Errorf("%s: MAV_RESULT_DENIED", call)
	case "UNSUPPORTED":
		return fmt.Errorf("%s: MAV_RESULT_UNSUPPORTED", call)
	case "TIMEOUT":
		return fmt.Errorf("%s: ACK_TIMEOUT", call)
	case "UNAVAILABLE":
		return fmt.Errorf("%s: NO_SYSTEM", call)
	default:
		return fmt.Errorf("%s: simulated internal error", call)
	}
}

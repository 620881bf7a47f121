package mavlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
	"github.com/skynet-gcs/gcsbridge/internal/adaptertest"
)

const (
	vehicleSystemID    = 1
	vehicleComponentID = 1
	mavTypeQuadrotor   = 2
)

// vehicleSim answers COMMAND_LONG with a COMMAND_ACK and records every
// outbound message.
type vehicleSim struct {
	mu       sync.Mutex
	a        *Adapter
	sent     []message.Message
	result   common.MAV_RESULT
	silent   bool
	writeErr error
}

func (v *vehicleSim) WriteMessageAll(msg message.Message) error {
	v.mu.Lock()
	if v.writeErr != nil {
		err := v.writeErr
		v.mu.Unlock()
		return err
	}
	v.sent = append(v.sent, msg)
	a, result, silent := v.a, v.result, v.silent
	v.mu.Unlock()

	if cmd, ok := msg.(*common.MessageCommandLong); ok && !silent && a != nil {
		go a.handleMessage(vehicleSystemID, vehicleComponentID, &common.MessageCommandAck{
			Command: cmd.Command,
			Result:  result,
		})
	}
	return nil
}

func (v *vehicleSim) Close() {}

func (v *vehicleSim) inject(errorType string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch errorType {
	case "BUSY":
		v.result = common.MAV_RESULT_TEMPORARILY_REJECTED
	case "DENIED":
		v.result = common.MAV_RESULT_DENIED
	case "UNSUPPORTED":
		v.result = common.MAV_RESULT_UNSUPPORTED
	case "TIMEOUT":
		v.silent = true
	case "UNAVAILABLE":
		v.writeErr = errors.New("link down")
	default:
		v.result = common.MAV_RESULT_CANCELLED
	}
}

func (v *vehicleSim) commands() []common.MessageCommandLong {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []common.MessageCommandLong
	for _, msg := range v.sent {
		if cmd, ok := msg.(*common.MessageCommandLong); ok {
			out = append(out, *cmd)
		}
	}
	return out
}

func (v *vehicleSim) setpoints() []common.MessageSetPositionTargetLocalNed {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []common.MessageSetPositionTargetLocalNed
	for _, msg := range v.sent {
		if sp, ok := msg.(*common.MessageSetPositionTargetLocalNed); ok {
			out = append(out, *sp)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		SystemID:    255,
		LinkTimeout: time.Second,
		AckTimeout:  150 * time.Millisecond,
	}
}

// newDetachedAdapter returns an adapter that has not seen a vehicle yet.
func newDetachedAdapter(t *testing.T, cfg Config) (*Adapter, *vehicleSim) {
	t.Helper()
	sim := &vehicleSim{result: common.MAV_RESULT_ACCEPTED}
	a := newAdapter(sim, nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sim.mu.Lock()
	sim.a = a
	sim.mu.Unlock()
	t.Cleanup(func() { _ = a.Close() })
	return a, sim
}

// newTestAdapter returns an adapter locked onto the simulated vehicle.
func newTestAdapter(t *testing.T, cfg Config) (*Adapter, *vehicleSim) {
	t.Helper()
	a, sim := newDetachedAdapter(t, cfg)
	a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(0, false))
	return a, sim
}

func heartbeat(customMode uint32, armed bool) *common.MessageHeartbeat {
	hb := &common.MessageHeartbeat{
		Type:         mavTypeQuadrotor,
		Autopilot:    mavAutopilotPX4,
		CustomMode:   customMode,
		SystemStatus: 4,
	}
	if armed {
		hb.BaseMode = mavModeFlagSafetyArmed
	}
	return hb
}

// next subscribes to feed, runs publish and returns the first value.
func next[T any](t *testing.T, feed *adapter.Feed[T], publish func()) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan T, 1)
	exited := make(chan struct{})
	before := feed.Subscribers()
	go func() {
		defer close(exited)
		for v, err := range feed.Subscribe(ctx) {
			if err == nil {
				got <- v
			}
			return
		}
	}()
	waitFor(t, func() bool { return feed.Subscribers() > before })

	publish()

	var v T
	select {
	case v = <-got:
	case <-ctx.Done():
		t.Fatal("Timed out waiting for a telemetry value")
	}
	<-exited
	return v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestMAVLinkAdapterConformance(t *testing.T) {
	capabilities := adaptertest.Capabilities{
		Name:      "mavlink",
		Autopilot: "px4",
		InjectError: func(a adapter.IVehicleAdapter, action, errorType string) {
			a.(*Adapter).link.(*vehicleSim).inject(errorType)
		},
	}

	adaptertest.RunConformance(t, func() adapter.IVehicleAdapter {
		a, _ := newTestAdapter(t, testConfig())
		return a
	}, capabilities)
}

func TestHeartbeatReportsState(t *testing.T) {
	a, _ := newDetachedAdapter(t, testConfig())
	offboard := modeOffboard.customMode()

	conn := next(t, a.connection, func() {
		a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(offboard, true))
	})
	if !conn.IsConnected {
		t.Error("Expected connected after first heartbeat")
	}

	armed := next(t, a.armed, func() {
		a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(offboard, true))
	})
	if !armed {
		t.Error("Expected armed from SAFETY_ARMED flag")
	}

	mode := next(t, a.flightMode, func() {
		a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(offboard, true))
	})
	if mode != adapter.FlightModeOffboard {
		t.Errorf("Expected OFFBOARD, got %s", mode)
	}
}

func TestHeartbeatNonPX4ModeUnknown(t *testing.T) {
	a, _ := newDetachedAdapter(t, testConfig())

	mode := next(t, a.flightMode, func() {
		hb := heartbeat(modeOffboard.customMode(), false)
		hb.Autopilot = 3 // MAV_AUTOPILOT_ARDUPILOTMEGA
		a.handleMessage(vehicleSystemID, vehicleComponentID, hb)
	})
	if mode != adapter.FlightModeUnknown {
		t.Errorf("Expected UNKNOWN for non-PX4 autopilot, got %s", mode)
	}
}

func TestIgnoresGroundStationsAndOtherSystems(t *testing.T) {
	a, _ := newDetachedAdapter(t, testConfig())

	// Another ground station and our own echo never become the target.
	gcs := heartbeat(0, false)
	gcs.Type = mavTypeGCS
	gcs.Autopilot = mavAutopilotInvalid
	a.handleMessage(200, 190, gcs)
	a.handleMessage(255, 190, heartbeat(0, false))

	err := a.Arm(context.Background())
	if !errors.Is(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, "px4"), adapter.ErrUnavailable) {
		t.Fatalf("Expected UNAVAILABLE without a vehicle, got %v", err)
	}

	a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(0, false))

	pos := next(t, a.position, func() {
		a.handleMessage(2, 1, &common.MessageGlobalPositionInt{Lat: 1})
		a.handleMessage(vehicleSystemID, vehicleComponentID, &common.MessageGlobalPositionInt{Lat: 10_000_000})
	})
	if !near(pos.LatitudeDeg, 1) {
		t.Errorf("Expected only the locked vehicle's position, got %+v", pos)
	}
}

func TestIgnoresOtherComponentHeartbeats(t *testing.T) {
	a, _ := newTestAdapter(t, testConfig())

	armed := next(t, a.armed, func() {
		// A companion computer on the vehicle reporting its own autopilot.
		a.handleMessage(vehicleSystemID, 191, heartbeat(0, true))
		a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(0, false))
	})
	if armed {
		t.Error("Armed state taken from a component other than the autopilot")
	}
}

func TestLateSubscriberSeesConnection(t *testing.T) {
	// The first heartbeat arrives before anyone subscribes.
	a, _ := newTestAdapter(t, testConfig())

	conn := next(t, a.connection, func() {
		a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(0, false))
	})
	if !conn.IsConnected {
		t.Error("Expected a late subscriber to see the link as connected")
	}
}

func TestTelemetryDecoding(t *testing.T) {
	a, _ := newTestAdapter(t, testConfig())
	send := func(msg message.Message) func() {
		return func() { a.handleMessage(vehicleSystemID, vehicleComponentID, msg) }
	}

	pos := next(t, a.position, send(&common.MessageGlobalPositionInt{
		Lat:         473977418,
		Lon:         85455939,
		Alt:         488000,
		RelativeAlt: 10500,
	}))
	if !near(pos.LatitudeDeg, 47.3977418) || !near(pos.LongitudeDeg, 8.5455939) ||
		!near(pos.AbsoluteAltitudeM, 488) || !near(pos.RelativeAltitudeM, 10.5) {
		t.Errorf("Unexpected position %+v", pos)
	}

	att := next(t, a.attitude, send(&common.MessageAttitude{
		Roll:  float32(math.Pi / 2),
		Pitch: float32(-math.Pi / 4),
		Yaw:   float32(math.Pi),
	}))
	if math.Abs(att.RollDeg-90) > 1e-4 || math.Abs(att.PitchDeg+45) > 1e-4 || math.Abs(att.YawDeg-180) > 1e-4 {
		t.Errorf("Unexpected attitude %+v", att)
	}

	bat := next(t, a.battery, send(&common.MessageSysStatus{VoltageBattery: 12600, BatteryRemaining: 76}))
	if !near(bat.VoltageV, 12.6) || !near(bat.RemainingPercent, 0.76) {
		t.Errorf("Unexpected battery %+v", bat)
	}

	bat = next(t, a.battery, send(&common.MessageSysStatus{VoltageBattery: math.MaxUint16, BatteryRemaining: -1}))
	if bat.VoltageV != 0 || bat.RemainingPercent != 0 {
		t.Errorf("Expected unknown battery values as zero, got %+v", bat)
	}

	gps := next(t, a.gps, send(&common.MessageGpsRawInt{FixType: 3, SatellitesVisible: 14}))
	if gps.NumSatellites != 14 || gps.FixType != 3 {
		t.Errorf("Unexpected GPS %+v", gps)
	}

	hud := next(t, a.fixedwing, send(&common.MessageVfrHud{Airspeed: 12.5, Groundspeed: 11, Climb: -0.5}))
	if hud.AirspeedMS != 12.5 || hud.GroundspeedMS != 11 || hud.ClimbRateMS != -0.5 {
		t.Errorf("Unexpected VFR HUD %+v", hud)
	}
}

func TestLinkLossReportsDisconnected(t *testing.T) {
	cfg := testConfig()
	cfg.LinkTimeout = 80 * time.Millisecond
	a, _ := newDetachedAdapter(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var states []bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st, err := range a.ConnectionState(ctx) {
			if err != nil {
				return
			}
			states = append(states, st.IsConnected)
			if len(states) == 2 {
				return
			}
		}
	}()
	waitFor(t, func() bool { return a.connection.Subscribers() > 0 })

	a.handleMessage(vehicleSystemID, vehicleComponentID, heartbeat(0, false))
	<-done

	if len(states) != 2 || !states[0] || states[1] {
		t.Errorf("Expected [true false], got %v", states)
	}
}

func TestArmSendsCommandLong(t *testing.T) {
	a, sim := newTestAdapter(t, testConfig())

	if err := a.Arm(context.Background()); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if err := a.Disarm(context.Background()); err != nil {
		t.Fatalf("Disarm failed: %v", err)
	}

	cmds := sim.commands()
	if len(cmds) != 2 {
		t.Fatalf("Expected 2 commands, got %d", len(cmds))
	}
	for i, want := range []float32{1, 0} {
		cmd := cmds[i]
		if cmd.Command != common.MAV_CMD_COMPONENT_ARM_DISARM || cmd.Param1 != want {
			t.Errorf("Command %d: got %v param1=%v", i, commandName(cmd.Command), cmd.Param1)
		}
		if cmd.TargetSystem != vehicleSystemID || cmd.TargetComponent != vehicleComponentID {
			t.Errorf("Command %d addressed to %d/%d", i, cmd.TargetSystem, cmd.TargetComponent)
		}
	}
}

func TestModeCommands(t *testing.T) {
	tests := []struct {
		name string
		call func(*Adapter) error
		cmd  common.MAV_CMD
		main float32
		sub  float32
	}{
		{"hold", func(a *Adapter) error { return a.Hold(context.Background()) }, common.MAV_CMD_DO_SET_MODE, px4MainAuto, px4AutoLoiter},
		{"takeoff", func(a *Adapter) error { return a.Takeoff(context.Background()) }, common.MAV_CMD_DO_SET_MODE, px4MainAuto, px4AutoTakeoff},
		{"rtl", func(a *Adapter) error { return a.ReturnToLaunch(context.Background()) }, common.MAV_CMD_NAV_RETURN_TO_LAUNCH, 0, 0},
		{"land", func(a *Adapter) error { return a.Land(context.Background()) }, common.MAV_CMD_NAV_LAND, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, sim := newTestAdapter(t, testConfig())
			if err := tt.call(a); err != nil {
				t.Fatalf("%s failed: %v", tt.name, err)
			}
			cmds := sim.commands()
			if len(cmds) != 1 || cmds[0].Command != tt.cmd {
				t.Fatalf("Expected one %s, got %+v", commandName(tt.cmd), cmds)
			}
			if tt.cmd == common.MAV_CMD_DO_SET_MODE {
				if cmds[0].Param1 != mavModeFlagCustomModeEnabled || cmds[0].Param2 != tt.main || cmds[0].Param3 != tt.sub {
					t.Errorf("Unexpected mode params %v/%v/%v", cmds[0].Param1, cmds[0].Param2, cmds[0].Param3)
				}
			}
		})
	}
}

func TestCommandResultNormalization(t *testing.T) {
	tests := []struct {
		result common.MAV_RESULT
		want   error
	}{
		{common.MAV_RESULT_TEMPORARILY_REJECTED, adapter.ErrBusy},
		{common.MAV_RESULT_DENIED, adapter.ErrDenied},
		{common.MAV_RESULT_FAILED, adapter.ErrDenied},
		{common.MAV_RESULT_UNSUPPORTED, adapter.ErrUnsupported},
		{common.MAV_RESULT_CANCELLED, adapter.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(resultName(tt.result), func(t *testing.T) {
			a, sim := newTestAdapter(t, testConfig())
			sim.mu.Lock()
			sim.result = tt.result
			sim.mu.Unlock()

			err := a.Arm(context.Background())
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := adapter.NormalizeVehicleErrorWithAutopilot(err, nil, "px4"); !errors.Is(got, tt.want) {
				t.Errorf("Expected %v, got %v (%v)", tt.want, adapter.Code(got), err)
			}
		})
	}
}

func TestCommandRetransmitsUntilTimeout(t *testing.T) {
	a, sim := newTestAdapter(t, testConfig())
	sim.inject("TIMEOUT")

	start := time.Now()
	err := a.Arm(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, "px4"), adapter.ErrTimeout) {
		t.Fatalf("Expected TIMEOUT, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Ack wait not bounded by AckTimeout: %v", elapsed)
	}

	cmds := sim.commands()
	if len(cmds) != commandAttempts {
		t.Fatalf("Expected %d attempts, got %d", commandAttempts, len(cmds))
	}
	for i, cmd := range cmds {
		if int(cmd.Confirmation) != i {
			t.Errorf("Attempt %d: confirmation %d", i, cmd.Confirmation)
		}
	}
}

func TestConcurrentSameCommandIsBusy(t *testing.T) {
	a, sim := newTestAdapter(t, testConfig())
	sim.inject("TIMEOUT")

	first := make(chan error, 1)
	go func() { first <- a.Arm(context.Background()) }()
	waitFor(t, func() bool { return len(sim.commands()) > 0 })

	err := a.Disarm(context.Background())
	if !errors.Is(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, "px4"), adapter.ErrBusy) {
		t.Errorf("Expected BUSY while the same command is pending, got %v", err)
	}
	<-first
}

func TestUnsolicitedAckIgnored(t *testing.T) {
	a, _ := newTestAdapter(t, testConfig())
	a.handleMessage(vehicleSystemID, vehicleComponentID, &common.MessageCommandAck{
		Command: common.MAV_CMD_NAV_LAND,
		Result:  common.MAV_RESULT_DENIED,
	})
	if err := a.Land(context.Background()); err != nil {
		t.Errorf("Stale ack leaked into the next command: %v", err)
	}
}

func TestAckForOtherGroundStationIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 2 * time.Second
	a, sim := newTestAdapter(t, cfg)
	sim.inject("TIMEOUT")

	done := make(chan error, 1)
	go func() { done <- a.Arm(context.Background()) }()
	waitFor(t, func() bool { return len(sim.commands()) > 0 })

	a.handleMessage(vehicleSystemID, vehicleComponentID, &common.MessageCommandAck{
		Command:      common.MAV_CMD_COMPONENT_ARM_DISARM,
		Result:       common.MAV_RESULT_ACCEPTED,
		TargetSystem: 200,
	})
	select {
	case err := <-done:
		t.Fatalf("Arm completed on another station's ack: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	a.handleMessage(vehicleSystemID, vehicleComponentID, &common.MessageCommandAck{
		Command:      common.MAV_CMD_COMPONENT_ARM_DISARM,
		Result:       common.MAV_RESULT_DENIED,
		TargetSystem: cfg.SystemID,
	})
	err := <-done
	if !errors.Is(adapter.NormalizeVehicleErrorWithAutopilot(err, nil, "px4"), adapter.ErrDenied) {
		t.Errorf("Expected DENIED from our own ack, got %v", err)
	}
}

func TestOffboardRequiresSetpoint(t *testing.T) {
	a, sim := newTestAdapter(t, testConfig())

	if err := a.StartOffboard(context.Background()); err == nil {
		t.Fatal("Expected StartOffboard to fail without a setpoint")
	}
	if len(sim.commands()) != 0 {
		t.Error("No mode change may be sent without a setpoint")
	}
}

func TestOffboardSetpointStream(t *testing.T) {
	a, sim := newTestAdapter(t, testConfig())
	ctx := context.Background()

	setpoint := adapter.VelocityBodyYawspeed{ForwardMS: 2, RightMS: -1, DownMS: 0.5, YawspeedDegS: 90}
	if err := a.SetVelocityBody(ctx, setpoint); err != nil {
		t.Fatalf("SetVelocityBody failed: %v", err)
	}

	sp := sim.setpoints()
	if len(sp) != 1 {
		t.Fatalf("Expected one setpoint, got %d", len(sp))
	}
	if sp[0].CoordinateFrame != common.MAV_FRAME_BODY_NED || sp[0].TypeMask != velocityTypeMask {
		t.Errorf("Unexpected frame/mask %v/%v", sp[0].CoordinateFrame, sp[0].TypeMask)
	}
	if sp[0].Vx != 2 || sp[0].Vy != -1 || sp[0].Vz != 0.5 || math.Abs(float64(sp[0].YawRate)-math.Pi/2) > 1e-6 {
		t.Errorf("Unexpected setpoint %+v", sp[0])
	}
	if sp[0].TargetSystem != vehicleSystemID {
		t.Errorf("Setpoint addressed to %d", sp[0].TargetSystem)
	}

	// Not streamed before offboard is requested.
	time.Sleep(3 * setpointInterval)
	if n := len(sim.setpoints()); n != 1 {
		t.Fatalf("Setpoint streamed before StartOffboard: %d", n)
	}

	if err := a.StartOffboard(ctx); err != nil {
		t.Fatalf("StartOffboard failed: %v", err)
	}
	cmds := sim.commands()
	if len(cmds) != 1 || cmds[0].Command != common.MAV_CMD_DO_SET_MODE || cmds[0].Param2 != px4MainOffboard {
		t.Fatalf("Expected DO_SET_MODE OFFBOARD, got %+v", cmds)
	}
	waitFor(t, func() bool { return len(sim.setpoints()) >= 4 })

	if err := a.StopOffboard(ctx); err != nil {
		t.Fatalf("StopOffboard failed: %v", err)
	}
	cmds = sim.commands()
	if last := cmds[len(cmds)-1]; last.Param2 != px4MainAuto || last.Param3 != px4AutoLoiter {
		t.Errorf("Expected hold after stop, got %+v", last)
	}

	stopped := len(sim.setpoints())
	time.Sleep(4 * setpointInterval)
	if n := len(sim.setpoints()); n > stopped+1 {
		t.Errorf("Setpoint stream continued after StopOffboard: %d -> %d", stopped, n)
	}
}

func TestOffboardStreamStopsWhenRejected(t *testing.T) {
	a, sim := newTestAdapter(t, testConfig())
	ctx := context.Background()

	if err := a.SetVelocityBody(ctx, adapter.VelocityBodyYawspeed{}); err != nil {
		t.Fatalf("SetVelocityBody failed: %v", err)
	}
	sim.inject("DENIED")
	if err := a.StartOffboard(ctx); err == nil {
		t.Fatal("Expected StartOffboard to fail")
	}

	after := len(sim.setpoints())
	time.Sleep(4 * setpointInterval)
	if n := len(sim.setpoints()); n > after+1 {
		t.Errorf("Setpoint stream kept running after rejection: %d -> %d", after, n)
	}
}

func TestCloseFailsPendingCommand(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 5 * time.Second
	a, sim := newTestAdapter(t, cfg)
	sim.inject("TIMEOUT")

	done := make(chan error, 1)
	go func() { done <- a.Arm(context.Background()) }()
	waitFor(t, func() bool { return len(sim.commands()) > 0 })

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, adapter.ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pending command not released by Close")
	}
}

package mavlink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
)

// commandAttempts is how often a COMMAND_LONG is sent within AckTimeout.
const commandAttempts = 3

// mavModeFlagCustomModeEnabled is MAV_MODE_FLAG_CUSTOM_MODE_ENABLED.
const mavModeFlagCustomModeEnabled = 1

// velocityTypeMask ignores position, acceleration and yaw; velocity and yaw
// rate are used.
const velocityTypeMask = 0x05C7

var commandNames = map[common.MAV_CMD]string{
	common.MAV_CMD_COMPONENT_ARM_DISARM: "MAV_CMD_COMPONENT_ARM_DISARM",
	common.MAV_CMD_DO_SET_MODE:          "MAV_CMD_DO_SET_MODE",
	common.MAV_CMD_NAV_RETURN_TO_LAUNCH: "MAV_CMD_NAV_RETURN_TO_LAUNCH",
	common.MAV_CMD_NAV_LAND:             "MAV_CMD_NAV_LAND",
	common.MAV_CMD_NAV_TAKEOFF:          "MAV_CMD_NAV_TAKEOFF",
}

var resultNames = map[common.MAV_RESULT]string{
	common.MAV_RESULT_ACCEPTED:             "MAV_RESULT_ACCEPTED",
	common.MAV_RESULT_TEMPORARILY_REJECTED: "MAV_RESULT_TEMPORARILY_REJECTED",
	common.MAV_RESULT_DENIED:               "MAV_RESULT_DENIED",
	common.MAV_RESULT_UNSUPPORTED:          "MAV_RESULT_UNSUPPORTED",
	common.MAV_RESULT_FAILED:               "MAV_RESULT_FAILED",
	common.MAV_RESULT_IN_PROGRESS:          "MAV_RESULT_IN_PROGRESS",
	common.MAV_RESULT_CANCELLED:            "MAV_RESULT_CANCELLED",
}

func commandName(cmd common.MAV_CMD) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("MAV_CMD_%d", cmd)
}

func resultName(res common.MAV_RESULT) string {
	if name, ok := resultNames[res]; ok {
		return name
	}
	return fmt.Sprintf("MAV_RESULT_%d", res)
}

// Actions

func (a *Adapter) Arm(ctx context.Context) error {
	return a.commandLong(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1})
}

func (a *Adapter) Disarm(ctx context.Context) error {
	return a.commandLong(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{0})
}

func (a *Adapter) ReturnToLaunch(ctx context.Context) error {
	return a.commandLong(ctx, common.MAV_CMD_NAV_RETURN_TO_LAUNCH, [7]float32{})
}

// Takeoff switches to AUTO.TAKEOFF; the vehicle uses its configured altitude.
func (a *Adapter) Takeoff(ctx context.Context) error {
	return a.setMode(ctx, modeTakeoff)
}

// Land lands at the current position.
func (a *Adapter) Land(ctx context.Context) error {
	nan := float32(math.NaN())
	return a.commandLong(ctx, common.MAV_CMD_NAV_LAND, [7]float32{0, 0, 0, nan, nan, nan, nan})
}

// Hold switches to AUTO.LOITER.
func (a *Adapter) Hold(ctx context.Context) error {
	return a.setMode(ctx, modeHold)
}

// Offboard

// SetVelocityBody sends one setpoint and keeps it as the setpoint re-sent
// while offboard mode is requested.
func (a *Adapter) SetVelocityBody(ctx context.Context, v adapter.VelocityBodyYawspeed) error {
	const name = "SET_POSITION_TARGET_LOCAL_NED"
	if err := a.ready(ctx, name); err != nil {
		return err
	}
	tgt, ok := a.currentTarget()
	if !ok {
		return fmt.Errorf("%s: NO_SYSTEM", name)
	}

	sp := common.MessageSetPositionTargetLocalNed{
		TargetSystem:    tgt.system,
		TargetComponent: tgt.component,
		CoordinateFrame: common.MAV_FRAME_BODY_NED,
		TypeMask:        velocityTypeMask,
		Vx:              float32(v.ForwardMS),
		Vy:              float32(v.RightMS),
		Vz:              float32(v.DownMS),
		YawRate:         radians(v.YawspeedDegS),
	}

	a.mu.Lock()
	a.setpoint = &sp
	a.mu.Unlock()

	return a.writeSetpoint(sp)
}

// StartOffboard starts the setpoint stream and requests OFFBOARD mode.
func (a *Adapter) StartOffboard(ctx context.Context) error {
	a.mu.Lock()
	if a.setpoint == nil {
		a.mu.Unlock()
		return errors.New("OFFBOARD: NO_SETPOINT_SET")
	}
	a.streaming = true
	a.mu.Unlock()

	if err := a.setMode(ctx, modeOffboard); err != nil {
		a.setStreaming(false)
		return err
	}
	return nil
}

// StopOffboard stops the setpoint stream and switches to hold.
func (a *Adapter) StopOffboard(ctx context.Context) error {
	a.setStreaming(false)
	return a.setMode(ctx, modeHold)
}

func (a *Adapter) setStreaming(on bool) {
	a.mu.Lock()
	a.streaming = on
	a.mu.Unlock()
}

// streamSetpoint re-sends the last setpoint while offboard is requested.
func (a *Adapter) streamSetpoint() {
	a.mu.Lock()
	if !a.streaming || a.setpoint == nil {
		a.mu.Unlock()
		return
	}
	sp := *a.setpoint
	a.mu.Unlock()

	if err := a.writeSetpoint(sp); err != nil {
		a.logger.Debug("Setpoint stream write failed", "error", err)
	}
}

func (a *Adapter) writeSetpoint(sp common.MessageSetPositionTargetLocalNed) error {
	sp.TimeBootMs = a.bootMillis()
	if err := a.link.WriteMessageAll(&sp); err != nil {
		return fmt.Errorf("SET_POSITION_TARGET_LOCAL_NED: CONNECTION_ERROR: %w", err)
	}
	return nil
}

func (a *Adapter) setMode(ctx context.Context, mode px4Mode) error {
	return a.commandLong(ctx, common.MAV_CMD_DO_SET_MODE,
		[7]float32{mavModeFlagCustomModeEnabled, float32(mode.main), float32(mode.sub)})
}

// ready fails fast on a done context or a closed adapter.
func (a *Adapter) ready(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if a.closed() {
		return fmt.Errorf("%s: %w", name, adapter.ErrClosed)
	}
	return nil
}

// commandLong sends a COMMAND_LONG and waits for its COMMAND_ACK. The
// command is re-sent with an incremented confirmation until acknowledged,
// up to commandAttempts times within AckTimeout.
func (a *Adapter) commandLong(ctx context.Context, cmd common.MAV_CMD, params [7]float32) error {
	name := commandName(cmd)
	if err := a.ready(ctx, name); err != nil {
		return err
	}
	tgt, ok := a.currentTarget()
	if !ok {
		return fmt.Errorf("%s: NO_SYSTEM", name)
	}

	acks, ok := a.expectAck(cmd)
	if !ok {
		return fmt.Errorf("%s: COMMAND_BUSY", name)
	}
	defer a.releaseAck(cmd)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.AckTimeout)
	defer cancel()
	resend := time.NewTicker(max(a.cfg.AckTimeout/commandAttempts, time.Millisecond))
	defer resend.Stop()

	msg := common.MessageCommandLong{
		TargetSystem:    tgt.system,
		TargetComponent: tgt.component,
		Command:         cmd,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	}

	for attempt := 1; ; attempt++ {
		if attempt <= commandAttempts {
			// The node encodes asynchronously; each attempt gets its own copy.
			out := msg
			if err := a.link.WriteMessageAll(&out); err != nil {
				return fmt.Errorf("%s: CONNECTION_ERROR: %w", name, err)
			}
			a.logger.Debug("Command sent", "command", name, "attempt", attempt)
		}

		select {
		case res := <-acks:
			if res == common.MAV_RESULT_ACCEPTED {
				return nil
			}
			return fmt.Errorf("%s: %s", name, resultName(res))
		case <-resend.C:
			msg.Confirmation++
		case <-a.done:
			return fmt.Errorf("%s: %w", name, adapter.ErrClosed)
		case <-ctx.Done():
			return fmt.Errorf("%s: ACK_TIMEOUT: %w", name, ctx.Err())
		}
	}
}

// expectAck registers the waiter for cmd. Only one command per id may be
// outstanding, since acks carry no request identifier.
func (a *Adapter) expectAck(cmd common.MAV_CMD) (chan common.MAV_RESULT, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.pending[cmd]; busy {
		return nil, false
	}
	ch := make(chan common.MAV_RESULT, 1)
	a.pending[cmd] = ch
	return ch, true
}

func (a *Adapter) releaseAck(cmd common.MAV_CMD) {
	a.mu.Lock()
	delete(a.pending, cmd)
	a.mu.Unlock()
}

func (a *Adapter) handleAck(ack *common.MessageCommandAck) {
	// Progress reports; the final result follows.
	if ack.Result == common.MAV_RESULT_IN_PROGRESS {
		return
	}
	// Acks addressed to another ground station.
	if ack.TargetSystem != 0 && ack.TargetSystem != a.cfg.SystemID {
		return
	}

	a.mu.Lock()
	ch, ok := a.pending[ack.Command]
	a.mu.Unlock()
	if !ok {
		a.logger.Debug("Unsolicited COMMAND_ACK", "command", commandName(ack.Command), "result", resultName(ack.Result))
		return
	}

	select {
	case ch <- ack.Result:
	default:
	}
}

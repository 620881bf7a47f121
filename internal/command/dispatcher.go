package command

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
	"github.com/skynet-gcs/gcsbridge/internal/flightmode"
	"github.com/skynet-gcs/gcsbridge/internal/session"
)

// DefaultCommandTimeout bounds one arm/disarm or mode request.
const DefaultCommandTimeout = 10 * time.Second

// Config controls dispatch behavior.
type Config struct {
	// CommandTimeout bounds each ArmDisarm and SetMode vehicle call.
	CommandTimeout time.Duration

	// Acknowledge sends a COMMAND_ACK to the issuing session after each
	// ArmDisarm and SetMode.
	Acknowledge bool

	// StopOnDisconnect sends one zero setpoint when a controller session
	// ends while OFFBOARD is active.
	StopOnDisconnect bool

	// Autopilot selects the error normalization table.
	Autopilot string
}

// Stats counts inbound messages by outcome.
type Stats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
	Setpoints uint64 `json:"setpoints"`
	Accepted  uint64 `json:"accepted"`
	Failed    uint64 `json:"failed"`
}

// Dispatcher turns inbound session messages into vehicle calls.
type Dispatcher struct {
	vehicle Vehicle
	modes   ModeController
	cfg     Config
	logger  *slog.Logger

	auditMu     sync.RWMutex
	auditLogger AuditLogger

	inflight sync.WaitGroup

	received  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	setpoints atomic.Uint64
	accepted  atomic.Uint64
	failed    atomic.Uint64
}

var _ Port = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the vehicle and the mode machine.
func NewDispatcher(vehicle Vehicle, modes ModeController, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		vehicle: vehicle,
		modes:   modes,
		cfg:     cfg,
		logger:  logger.With("component", "dispatcher"),
	}
}

// SetAuditLogger sets the audit trail for action commands.
func (d *Dispatcher) SetAuditLogger(l AuditLogger) {
	d.auditMu.Lock()
	defer d.auditMu.Unlock()
	d.auditLogger = l
}

// Serve reads and dispatches messages from s until the session closes or
// ctx is cancelled. It returns nil when the session ended on its own.
func (d *Dispatcher) Serve(ctx context.Context, s session.Session) error {
	defer d.sessionEnded(ctx, s)

	for {
		msg, err := s.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, session.ErrClosed) {
				return nil
			}
			return err
		}
		d.Handle(ctx, s, msg)
	}
}

// Handle dispatches one inbound message from s. ManualControl is forwarded
// before Handle returns; ArmDisarm and SetMode run in their own goroutine.
func (d *Dispatcher) Handle(ctx context.Context, s session.Session, msg []byte) {
	d.received.Add(1)

	cmd, err := Decode(msg)
	if err != nil {
		d.malformed.Add(1)
		d.logger.Debug("MalformedCommand", "session", s.ID(), "error", err)
		return
	}

	if !s.Info().CanCommand() {
		d.dropped.Add(1)
		d.logger.Debug("Command dropped for viewer session", "session", s.ID(), "subject", s.Info().Subject)
		return
	}

	switch c := cmd.(type) {
	case ManualControl:
		d.setpoints.Add(1)
		_ = d.vehicle.SetVelocityBody(ctx, c.Setpoint())
	default:
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.execute(ctx, s, cmd)
		}()
	}
}

// Wait blocks until every in-flight action command has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Stats returns the message counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:  d.received.Load(),
		Malformed: d.malformed.Load(),
		Dropped:   d.dropped.Load(),
		Setpoints: d.setpoints.Load(),
		Accepted:  d.accepted.Load(),
		Failed:    d.failed.Load(),
	}
}

// execute runs one action command. The call is detached from the session
// context so a client going away does not abort an arm or mode change.
func (d *Dispatcher) execute(ctx context.Context, s session.Session, cmd Command) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	ack := Ack{Type: TypeCommandAck}
	var (
		action string
		params map[string]interface{}
		err    error
	)

	switch c := cmd.(type) {
	case ArmDisarm:
		arm := c.Arm
		ack.Command = CmdComponentArmDisarm
		ack.Arm = &arm
		params = map[string]interface{}{"arm": arm}
		if arm {
			action = "arm"
			err = d.vehicle.Arm(actx)
		} else {
			action = "disarm"
			err = d.vehicle.Disarm(actx)
		}
		err = d.normalize(err)
		if err != nil {
			d.logger.Warn("VehicleCommandRejected", "session", s.ID(), "action", action, "code", adapter.Code(err), "error", err)
		}

	case SetMode:
		action = "set_mode"
		ack.Command = TypeSetMode
		ack.Mode = string(c.Mode)
		params = map[string]interface{}{"mode": string(c.Mode)}
		// The machine logs its own transition failures.
		err = d.normalize(d.modes.Request(actx, c.Mode))

	default:
		return
	}

	latency := time.Since(start)
	if err != nil {
		d.failed.Add(1)
		ack.Result = ResultFailed
		ack.Code = adapter.Code(err)
	} else {
		d.accepted.Add(1)
		ack.Result = ResultAccepted
		d.logger.Info("Command accepted", "session", s.ID(), "action", action, "latency", latency)
	}

	d.audit(actx, action, s, params, err, latency)

	if d.cfg.Acknowledge {
		d.acknowledge(actx, s, ack)
	}
}

// normalize maps a vehicle or transition error to a bridge error code.
func (d *Dispatcher) normalize(err error) error {
	if err == nil {
		return nil
	}
	var te *flightmode.TransitionError
	if errors.As(err, &te) && te.Err != nil {
		err = te.Err
	}
	return adapter.NormalizeVehicleErrorWithAutopilot(err, nil, d.cfg.Autopilot)
}

func (d *Dispatcher) audit(ctx context.Context, action string, s session.Session, params map[string]interface{}, err error, latency time.Duration) {
	d.auditMu.RLock()
	l := d.auditLogger
	d.auditMu.RUnlock()

	if l != nil {
		l.LogAction(ctx, action, s.ID(), s.Info().Subject, params, err, latency)
	}
}

func (d *Dispatcher) acknowledge(ctx context.Context, s session.Session, ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		d.logger.Error("Failed to encode command ack", "error", err)
		return
	}
	if err := s.Send(ctx, data); err != nil {
		d.logger.Debug("ClientTransportFailure", "session", s.ID(), "op", "ack", "error", err)
	}
}

// sessionEnded stops the vehicle when a controller leaves while OFFBOARD is
// active and StopOnDisconnect is set.
func (d *Dispatcher) sessionEnded(ctx context.Context, s session.Session) {
	if !d.cfg.StopOnDisconnect || !s.Info().CanCommand() {
		return
	}
	if !d.modes.State().IsActive(flightmode.ModeOffboard) {
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CommandTimeout)
	defer cancel()

	if err := d.vehicle.SetVelocityBody(sctx, adapter.VelocityBodyYawspeed{}); err != nil {
		d.logger.Warn("VehicleCommandRejected", "session", s.ID(), "action", "stop_on_disconnect", "error", err)
		return
	}
	d.logger.Info("Zero setpoint sent on controller disconnect", "session", s.ID())
}

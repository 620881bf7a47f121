package mavlink

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
	"github.com/skynet-gcs/gcsbridge/internal/config"
)

// Defaults applied to a zero Config.
const (
	DefaultSystemID          = 255
	DefaultHeartbeatInterval = time.Second
	DefaultLinkTimeout       = 3 * time.Second
	DefaultAckTimeout        = 3 * time.Second
)

// setpointInterval is the offboard setpoint re-send period (20 Hz).
const setpointInterval = 50 * time.Millisecond

// MAVLink enum values from minimal.xml.
const (
	mavTypeGCS             = 6   // MAV_TYPE_GCS
	mavAutopilotInvalid    = 8   // MAV_AUTOPILOT_INVALID
	mavAutopilotPX4        = 12  // MAV_AUTOPILOT_PX4
	mavModeFlagSafetyArmed = 128 // MAV_MODE_FLAG_SAFETY_ARMED
)

// Config configures the MAVLink adapter.
type Config struct {
	// Address is a vehicle connection string (see config.ParseVehicleAddress).
	Address string

	// SystemID is our own MAVLink system id.
	SystemID uint8

	HeartbeatInterval time.Duration
	LinkTimeout       time.Duration
	AckTimeout        time.Duration
}

func (c *Config) applyDefaults() {
	if c.SystemID == 0 {
		c.SystemID = DefaultSystemID
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.LinkTimeout <= 0 {
		c.LinkTimeout = DefaultLinkTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
}

// link is the write side of a MAVLink node.
type link interface {
	WriteMessageAll(msg message.Message) error
	Close()
}

type nodeLink struct {
	node *gomavlib.Node
}

func (l nodeLink) WriteMessageAll(msg message.Message) error { return l.node.WriteMessageAll(msg) }

func (l nodeLink) Close() { l.node.Close() }

// target is the vehicle the adapter locked onto.
type target struct {
	system    uint8
	component uint8
}

// Adapter implements adapter.IVehicleAdapter over MAVLink.
type Adapter struct {
	cfg     Config
	link    link
	events  <-chan gomavlib.Event
	logger  *slog.Logger
	started time.Time

	connection *adapter.Feed[adapter.ConnectionState]
	position   *adapter.Feed[adapter.Position]
	attitude   *adapter.Feed[adapter.EulerAngle]
	battery    *adapter.Feed[adapter.Battery]
	flightMode *adapter.Feed[adapter.FlightMode]
	armed      *adapter.Feed[bool]
	gps        *adapter.Feed[adapter.GPSInfo]
	fixedwing  *adapter.Feed[adapter.FixedwingMetrics]

	mu        sync.Mutex
	target    *target
	lastSeen  time.Time
	connected bool
	pending   map[common.MAV_CMD]chan common.MAV_RESULT
	setpoint  *common.MessageSetPositionTargetLocalNed
	streaming bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ adapter.IVehicleAdapter = (*Adapter)(nil)

// New opens the vehicle link described by cfg.Address.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	cfg.applyDefaults()

	addr, err := config.ParseVehicleAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	endpoint, err := endpointConf(addr)
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:           []gomavlib.EndpointConf{endpoint},
		Dialect:             common.Dialect,
		OutVersion:          gomavlib.V2,
		OutSystemID:         cfg.SystemID,
		HeartbeatPeriod:     cfg.HeartbeatInterval,
		HeartbeatSystemType: mavTypeGCS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MAVLink node: %w", err)
	}

	a := newAdapter(nodeLink{node: node}, node.Events(), cfg, logger)
	a.logger.Info("Vehicle link opened", "address", cfg.Address, "kind", addr.Kind, "systemId", cfg.SystemID)
	return a, nil
}

// newAdapter starts the event loop on an open link.
func newAdapter(l link, events <-chan gomavlib.Event, cfg Config, logger *slog.Logger) *Adapter {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		cfg:        cfg,
		link:       l,
		events:     events,
		logger:     logger.With("component", "mavlink"),
		started:    time.Now(),
		connection: adapter.NewFeed[adapter.ConnectionState](adapter.DefaultFeedBuffer),
		position:   adapter.NewFeed[adapter.Position](adapter.DefaultFeedBuffer),
		attitude:   adapter.NewFeed[adapter.EulerAngle](adapter.DefaultFeedBuffer),
		battery:    adapter.NewFeed[adapter.Battery](adapter.DefaultFeedBuffer),
		flightMode: adapter.NewFeed[adapter.FlightMode](adapter.DefaultFeedBuffer),
		armed:      adapter.NewFeed[bool](adapter.DefaultFeedBuffer),
		gps:        adapter.NewFeed[adapter.GPSInfo](adapter.DefaultFeedBuffer),
		fixedwing:  adapter.NewFeed[adapter.FixedwingMetrics](adapter.DefaultFeedBuffer),
		pending:    make(map[common.MAV_CMD]chan common.MAV_RESULT),
		done:       make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()
	return a
}

// Telemetry

func (a *Adapter) ConnectionState(ctx context.Context) iter.Seq2[adapter.ConnectionState, error] {
	return a.connection.Subscribe(ctx)
}

func (a *Adapter) Position(ctx context.Context) iter.Seq2[adapter.Position, error] {
	return a.position.Subscribe(ctx)
}

func (a *Adapter) Attitude(ctx context.Context) iter.Seq2[adapter.EulerAngle, error] {
	return a.attitude.Subscribe(ctx)
}

func (a *Adapter) Battery(ctx context.Context) iter.Seq2[adapter.Battery, error] {
	return a.battery.Subscribe(ctx)
}

func (a *Adapter) FlightMode(ctx context.Context) iter.Seq2[adapter.FlightMode, error] {
	return a.flightMode.Subscribe(ctx)
}

func (a *Adapter) Armed(ctx context.Context) iter.Seq2[bool, error] {
	return a.armed.Subscribe(ctx)
}

func (a *Adapter) GPSInfo(ctx context.Context) iter.Seq2[adapter.GPSInfo, error] {
	return a.gps.Subscribe(ctx)
}

func (a *Adapter) FixedwingMetrics(ctx context.Context) iter.Seq2[adapter.FixedwingMetrics, error] {
	return a.fixedwing.Subscribe(ctx)
}

// Close stops the event loop, closes the link and ends every telemetry
// sequence with adapter.ErrClosed.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		a.link.Close()
		a.failFeeds(adapter.ErrClosed)
		a.logger.Info("Vehicle link closed")
	})
	return nil
}

func (a *Adapter) failFeeds(err error) {
	a.connection.Fail(err)
	a.position.Fail(err)
	a.attitude.Fail(err)
	a.battery.Fail(err)
	a.flightMode.Fail(err)
	a.armed.Fail(err)
	a.gps.Fail(err)
	a.fixedwing.Fail(err)
}

func (a *Adapter) closed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func (a *Adapter) run() {
	defer a.wg.Done()

	watchdog := time.NewTicker(a.cfg.LinkTimeout / 4)
	defer watchdog.Stop()
	stream := time.NewTicker(setpointInterval)
	defer stream.Stop()

	for {
		select {
		case <-a.done:
			return

		case evt, ok := <-a.events:
			if !ok {
				a.logger.Error("TelemetryChannelFailure", "error", "MAVLink event stream ended")
				a.failFeeds(fmt.Errorf("LINK_DOWN: %w", adapter.ErrClosed))
				return
			}
			a.handleEvent(evt)

		case now := <-watchdog.C:
			a.checkLink(now)

		case <-stream.C:
			a.streamSetpoint()
		}
	}
}

func (a *Adapter) handleEvent(evt gomavlib.Event) {
	switch e := evt.(type) {
	case *gomavlib.EventFrame:
		a.handleMessage(e.SystemID(), e.ComponentID(), e.Message())
	case *gomavlib.EventChannelOpen:
		a.logger.Info("MAVLink channel opened", "channel", fmt.Sprint(e.Channel))
	case *gomavlib.EventChannelClose:
		a.logger.Warn("MAVLink channel closed", "channel", fmt.Sprint(e.Channel))
	case *gomavlib.EventParseError:
		a.logger.Debug("MAVLink parse error", "error", e.Error)
	}
}

// handleMessage decodes one inbound message into the telemetry feeds.
func (a *Adapter) handleMessage(systemID, componentID uint8, msg message.Message) {
	if systemID == a.cfg.SystemID {
		return
	}

	if hb, ok := msg.(*common.MessageHeartbeat); ok {
		a.handleHeartbeat(systemID, componentID, hb)
		return
	}
	if !a.fromTarget(systemID) {
		return
	}

	switch m := msg.(type) {
	case *common.MessageGlobalPositionInt:
		a.position.Publish(adapter.Position{
			LatitudeDeg:       float64(m.Lat) / 1e7,
			LongitudeDeg:      float64(m.Lon) / 1e7,
			AbsoluteAltitudeM: float64(m.Alt) / 1000,
			RelativeAltitudeM: float64(m.RelativeAlt) / 1000,
		})

	case *common.MessageAttitude:
		a.attitude.Publish(adapter.EulerAngle{
			RollDeg:  degrees(m.Roll),
			PitchDeg: degrees(m.Pitch),
			YawDeg:   degrees(m.Yaw),
		})

	case *common.MessageSysStatus:
		battery := adapter.Battery{}
		if m.VoltageBattery != math.MaxUint16 {
			battery.VoltageV = float64(m.VoltageBattery) / 1000
		}
		// -1 means not estimated.
		if m.BatteryRemaining >= 0 {
			battery.RemainingPercent = float64(m.BatteryRemaining) / 100
		}
		a.battery.Publish(battery)

	case *common.MessageGpsRawInt:
		gps := adapter.GPSInfo{FixType: int(m.FixType)}
		if m.SatellitesVisible != math.MaxUint8 {
			gps.NumSatellites = int(m.SatellitesVisible)
		}
		a.gps.Publish(gps)

	case *common.MessageVfrHud:
		a.fixedwing.Publish(adapter.FixedwingMetrics{
			AirspeedMS:    float64(m.Airspeed),
			GroundspeedMS: float64(m.Groundspeed),
			ClimbRateMS:   float64(m.Climb),
		})

	case *common.MessageCommandAck:
		a.handleAck(m)
	}
}

func (a *Adapter) handleHeartbeat(systemID, componentID uint8, hb *common.MessageHeartbeat) {
	if hb.Type == mavTypeGCS || hb.Autopilot == mavAutopilotInvalid {
		return
	}

	a.mu.Lock()
	if a.target == nil {
		a.target = &target{system: systemID, component: componentID}
		a.logger.Info("Vehicle detected", "systemId", systemID, "componentId", componentID,
			"autopilot", int(hb.Autopilot))
	}
	if a.target.system != systemID || a.target.component != componentID {
		a.mu.Unlock()
		return
	}
	a.lastSeen = time.Now()
	reconnected := !a.connected
	a.connected = true
	a.mu.Unlock()

	if reconnected {
		a.logger.Info("Vehicle connected", "systemId", systemID)
	}
	// Every heartbeat republishes the link state; subscribers that attach
	// after the first one still observe it.
	a.connection.Publish(adapter.ConnectionState{IsConnected: true})

	a.armed.Publish(hb.BaseMode&mavModeFlagSafetyArmed != 0)

	mode := adapter.FlightModeUnknown
	if hb.Autopilot == mavAutopilotPX4 {
		mode = px4FlightMode(hb.CustomMode)
	}
	a.flightMode.Publish(mode)
}

// checkLink reports the link lost once no heartbeat arrived within LinkTimeout.
func (a *Adapter) checkLink(now time.Time) {
	a.mu.Lock()
	lost := a.connected && now.Sub(a.lastSeen) > a.cfg.LinkTimeout
	if lost {
		a.connected = false
	}
	a.mu.Unlock()

	if lost {
		a.logger.Warn("Vehicle heartbeat lost", "timeout", a.cfg.LinkTimeout)
		a.connection.Publish(adapter.ConnectionState{IsConnected: false})
	}
}

func (a *Adapter) fromTarget(systemID uint8) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target != nil && a.target.system == systemID
}

func (a *Adapter) currentTarget() (target, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.target == nil {
		return target{}, false
	}
	return *a.target, true
}

// bootMillis is the time_boot_ms field for outbound setpoints.
func (a *Adapter) bootMillis() uint32 {
	return uint32(time.Since(a.started).Milliseconds())
}

func degrees(rad float32) float64 {
	return float64(rad) * 180 / math.Pi
}

func radians(deg float64) float32 {
	return float32(deg * math.Pi / 180)
}

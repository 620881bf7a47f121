package telemetry

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
)

// Channel identifies one vehicle telemetry category.
type Channel int

// Telemetry channels.
const (
	ChannelConnection Channel = iota
	ChannelPosition
	ChannelAttitude
	ChannelBattery
	ChannelFlightMode
	ChannelArmed
	ChannelGPSInfo
	ChannelFixedwingMetrics

	channelCount
)

var channelNames = [channelCount]string{
	ChannelConnection:       "connection",
	ChannelPosition:         "position",
	ChannelAttitude:         "attitude",
	ChannelBattery:          "battery",
	ChannelFlightMode:       "flight_mode",
	ChannelArmed:            "armed",
	ChannelGPSInfo:          "gps_info",
	ChannelFixedwingMetrics: "fixedwing_metrics",
}

// channelFields is the field ownership table. No field appears twice.
var channelFields = [channelCount][]Field{
	ChannelConnection:       {FieldConnected},
	ChannelPosition:         {FieldLatitude, FieldLongitude, FieldAltitudeRelative},
	ChannelAttitude:         {FieldRoll, FieldPitch, FieldHeading},
	ChannelBattery:          {FieldBatteryVoltage, FieldBatteryRemaining},
	ChannelFlightMode:       {FieldMode},
	ChannelArmed:            {FieldArmed},
	ChannelGPSInfo:          {FieldSatellites},
	ChannelFixedwingMetrics: {FieldGroundSpeed, FieldClimbRate},
}

func (c Channel) String() string {
	if c < 0 || c >= channelCount {
		return "unknown"
	}
	return channelNames[c]
}

// Fields returns the snapshot fields owned by c.
func (c Channel) Fields() []Field {
	if c < 0 || c >= channelCount {
		return nil
	}
	return append([]Field(nil), channelFields[c]...)
}

// Channels returns every telemetry channel.
func Channels() []Channel {
	out := make([]Channel, channelCount)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// ChannelFailure records a telemetry stream that ended abnormally.
type ChannelFailure struct {
	Channel Channel
	Err     error
	At      time.Time
}

// Manager owns one subscription per telemetry channel and writes every
// record into the store. Channels fail independently: a stream that ends
// with an error leaves its fields stale and the others running.
type Manager struct {
	vehicle adapter.Telemetry
	store   *Store
	logger  *slog.Logger

	mu      sync.Mutex
	failed  map[Channel]ChannelFailure
	updates [channelCount]atomic.Uint64

	connectedOnce sync.Once
	connected     chan struct{}
}

// NewManager creates a subscription manager.
func NewManager(vehicle adapter.Telemetry, store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		vehicle:   vehicle,
		store:     store,
		logger:    logger.With("component", "telemetry"),
		failed:    make(map[Channel]ChannelFailure),
		connected: make(chan struct{}),
	}
}

// Run subscribes to every channel and blocks until all subscriptions have
// ended, which normally happens only when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	start := func(ch Channel, run func(context.Context, *Writer) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.supervise(ctx, ch, run)
		}()
	}

	start(ChannelConnection, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelConnection, m.vehicle.ConnectionState(ctx), func(v adapter.ConnectionState) error {
			if v.IsConnected {
				m.connectedOnce.Do(func() { close(m.connected) })
			}
			return w.Update(FieldConnected, v.IsConnected)
		})
	})
	start(ChannelPosition, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelPosition, m.vehicle.Position(ctx), func(v adapter.Position) error {
			return updateAll(w,
				FieldLatitude, v.LatitudeDeg,
				FieldLongitude, v.LongitudeDeg,
				FieldAltitudeRelative, v.RelativeAltitudeM)
		})
	})
	start(ChannelAttitude, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelAttitude, m.vehicle.Attitude(ctx), func(v adapter.EulerAngle) error {
			return updateAll(w,
				FieldRoll, v.RollDeg,
				FieldPitch, v.PitchDeg,
				FieldHeading, v.YawDeg)
		})
	})
	start(ChannelBattery, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelBattery, m.vehicle.Battery(ctx), func(v adapter.Battery) error {
			// Vehicle reports a fraction, clients expect percent.
			return updateAll(w,
				FieldBatteryVoltage, v.VoltageV,
				FieldBatteryRemaining, v.RemainingPercent*100)
		})
	})
	start(ChannelFlightMode, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelFlightMode, m.vehicle.FlightMode(ctx), func(v adapter.FlightMode) error {
			return w.Update(FieldMode, string(v))
		})
	})
	start(ChannelArmed, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelArmed, m.vehicle.Armed(ctx), func(v bool) error {
			return w.Update(FieldArmed, v)
		})
	})
	start(ChannelGPSInfo, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelGPSInfo, m.vehicle.GPSInfo(ctx), func(v adapter.GPSInfo) error {
			return w.Update(FieldSatellites, v.NumSatellites)
		})
	})
	start(ChannelFixedwingMetrics, func(ctx context.Context, w *Writer) error {
		return consume(m, ChannelFixedwingMetrics, m.vehicle.FixedwingMetrics(ctx), func(v adapter.FixedwingMetrics) error {
			return updateAll(w,
				FieldGroundSpeed, v.GroundspeedMS,
				FieldClimbRate, v.ClimbRateMS)
		})
	})

	wg.Wait()
	return ctx.Err()
}

// supervise runs one channel and records its outcome. A panic in the
// channel's handler is contained to that channel.
func (m *Manager) supervise(ctx context.Context, c Channel, run func(context.Context, *Writer) error) {
	defer func() {
		if r := recover(); r != nil {
			m.fail(c, errors.New("panic in telemetry handler"))
			m.logger.Error("TelemetryChannelFailure", "channel", c.String(), "panic", r)
		}
	}()

	m.logger.Debug("Telemetry subscription started", "channel", c.String())
	err := run(ctx, m.store.Writer(c))
	if err == nil {
		m.logger.Debug("Telemetry subscription ended", "channel", c.String())
		return
	}

	m.fail(c, err)
	m.logger.Error("TelemetryChannelFailure", "channel", c.String(), "error", err)
}

func (m *Manager) fail(c Channel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[c] = ChannelFailure{Channel: c, Err: err, At: time.Now()}
}

// consume applies every record of seq in receipt order and returns the
// stream's terminal error. Ownership or kind violations are logged and the
// record is skipped.
func consume[T any](m *Manager, c Channel, seq iter.Seq2[T, error], apply func(T) error) error {
	for v, err := range seq {
		if err != nil {
			return err
		}
		if err := apply(v); err != nil {
			m.logger.Error("Rejected telemetry write", "channel", c.String(), "error", err)
			continue
		}
		m.updates[c].Add(1)
	}
	return nil
}

// updateAll writes field/value pairs through w. A rejected value does not
// stop the remaining fields of the record from being written.
func updateAll(w *Writer, pairs ...any) error {
	var errs []error
	for i := 0; i+1 < len(pairs); i += 2 {
		f, ok := pairs[i].(Field)
		if !ok {
			errs = append(errs, ErrUnknownField)
			continue
		}
		if err := w.Update(f, pairs[i+1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stale returns the channels whose streams ended with an error, ordered by channel.
func (m *Manager) Stale() []ChannelFailure {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ChannelFailure, 0, len(m.failed))
	for _, f := range m.failed {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Updates returns the number of records applied per channel name.
func (m *Manager) Updates() map[string]uint64 {
	out := make(map[string]uint64, channelCount)
	for c := Channel(0); c < channelCount; c++ {
		out[c.String()] = m.updates[c].Load()
	}
	return out
}

// Connected is closed once the vehicle first reports a live connection.
func (m *Manager) Connected() <-chan struct{} {
	return m.connected
}

// WaitConnected blocks until the vehicle reports a live connection, timeout
// elapses or ctx is cancelled. A zero timeout waits indefinitely.
func (m *Manager) WaitConnected(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-m.connected:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return adapter.ErrTimeout
		}
		return ctx.Err()
	}
}

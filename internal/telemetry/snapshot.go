package telemetry

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Snapshot errors.
var (
	ErrUnknownField  = errors.New("UNKNOWN_FIELD")
	ErrFieldKind     = errors.New("FIELD_KIND")
	ErrFieldNotOwned = errors.New("FIELD_NOT_OWNED")
)

// DefaultMode is reported until the vehicle announces its flight mode.
const DefaultMode = "UNKNOWN"

// Field identifies one snapshot field.
type Field int

// Snapshot fields.
const (
	FieldConnected Field = iota
	FieldArmed
	FieldMode
	FieldBatteryVoltage
	FieldBatteryRemaining
	FieldLatitude
	FieldLongitude
	FieldAltitudeRelative
	FieldHeading
	FieldPitch
	FieldRoll
	FieldSatellites
	FieldGroundSpeed
	FieldClimbRate

	fieldCount
)

type fieldKind int

const (
	kindBool fieldKind = iota
	kindString
	kindFloat
	kindInt
)

var fieldNames = [fieldCount]string{
	FieldConnected:        "connected",
	FieldArmed:            "armed",
	FieldMode:             "mode",
	FieldBatteryVoltage:   "battery_voltage",
	FieldBatteryRemaining: "battery_remaining",
	FieldLatitude:         "latitude",
	FieldLongitude:        "longitude",
	FieldAltitudeRelative: "altitude_relative",
	FieldHeading:          "heading",
	FieldPitch:            "pitch",
	FieldRoll:             "roll",
	FieldSatellites:       "satellites",
	FieldGroundSpeed:      "ground_speed",
	FieldClimbRate:        "climb_rate",
}

var fieldKinds = [fieldCount]fieldKind{
	FieldConnected:        kindBool,
	FieldArmed:            kindBool,
	FieldMode:             kindString,
	FieldBatteryVoltage:   kindFloat,
	FieldBatteryRemaining: kindFloat,
	FieldLatitude:         kindFloat,
	FieldLongitude:        kindFloat,
	FieldAltitudeRelative: kindFloat,
	FieldHeading:          kindFloat,
	FieldPitch:            kindFloat,
	FieldRoll:             kindFloat,
	FieldSatellites:       kindInt,
	FieldGroundSpeed:      kindFloat,
	FieldClimbRate:        kindFloat,
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Fields returns every snapshot field in declaration order.
func Fields() []Field {
	out := make([]Field, fieldCount)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// Snapshot is an immutable copy of the latest known vehicle state.
type Snapshot struct {
	Connected        bool    `json:"connected"`
	Armed            bool    `json:"armed"`
	Mode             string  `json:"mode"`
	BatteryVoltage   float64 `json:"battery_voltage"`
	BatteryRemaining float64 `json:"battery_remaining"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	AltitudeRelative float64 `json:"altitude_relative"`
	Heading          float64 `json:"heading"`
	Pitch            float64 `json:"pitch"`
	Roll             float64 `json:"roll"`
	Satellites       int     `json:"satellites"`
	GroundSpeed      float64 `json:"ground_speed"`
	ClimbRate        float64 `json:"climb_rate"`
}

// Store holds the snapshot as independently atomic fields.
//
// Every field is a single atomic word (the mode string is an atomic
// pointer), so a concurrent Read never observes a half-written value.
// Reads are not consistent across fields: two fields in one Read may have
// been written at different times.
type Store struct {
	words [fieldCount]atomic.Uint64
	mode  atomic.Pointer[string]
}

// NewStore creates a store with zero values and mode UNKNOWN.
func NewStore() *Store {
	s := &Store{}
	mode := DefaultMode
	s.mode.Store(&mode)
	return s
}

// Update writes a single field. The value must match the field's kind:
// bool, string, finite float64 or int.
func (s *Store) Update(field Field, value any) error {
	if field < 0 || field >= fieldCount {
		return fmt.Errorf("%w: %d", ErrUnknownField, int(field))
	}

	switch fieldKinds[field] {
	case kindBool:
		v, ok := value.(bool)
		if !ok {
			return kindError(field, value)
		}
		var w uint64
		if v {
			w = 1
		}
		s.words[field].Store(w)
	case kindString:
		v, ok := value.(string)
		if !ok {
			return kindError(field, value)
		}
		s.mode.Store(&v)
	case kindFloat:
		v, ok := value.(float64)
		if !ok {
			return kindError(field, value)
		}
		// NaN and Inf have no JSON encoding.
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s does not accept %v", ErrFieldKind, field, v)
		}
		s.words[field].Store(math.Float64bits(v))
	case kindInt:
		v, ok := value.(int)
		if !ok {
			return kindError(field, value)
		}
		s.words[field].Store(uint64(int64(v)))
	}
	return nil
}

func kindError(field Field, value any) error {
	return fmt.Errorf("%w: %s does not accept %T", ErrFieldKind, field, value)
}

// Read returns a copy of the current snapshot.
func (s *Store) Read() Snapshot {
	return Snapshot{
		Connected:        s.loadBool(FieldConnected),
		Armed:            s.loadBool(FieldArmed),
		Mode:             *s.mode.Load(),
		BatteryVoltage:   s.loadFloat(FieldBatteryVoltage),
		BatteryRemaining: s.loadFloat(FieldBatteryRemaining),
		Latitude:         s.loadFloat(FieldLatitude),
		Longitude:        s.loadFloat(FieldLongitude),
		AltitudeRelative: s.loadFloat(FieldAltitudeRelative),
		Heading:          s.loadFloat(FieldHeading),
		Pitch:            s.loadFloat(FieldPitch),
		Roll:             s.loadFloat(FieldRoll),
		Satellites:       int(int64(s.words[FieldSatellites].Load())),
		GroundSpeed:      s.loadFloat(FieldGroundSpeed),
		ClimbRate:        s.loadFloat(FieldClimbRate),
	}
}

func (s *Store) loadBool(f Field) bool {
	return s.words[f].Load() == 1
}

func (s *Store) loadFloat(f Field) float64 {
	return math.Float64frombits(s.words[f].Load())
}

// Writer returns a writer restricted to the fields owned by ch.
func (s *Store) Writer(ch Channel) *Writer {
	w := &Writer{store: s, channel: ch}
	for _, f := range ch.Fields() {
		w.owned |= 1 << uint(f)
	}
	return w
}

// Writer updates the store on behalf of one telemetry channel.
type Writer struct {
	store   *Store
	channel Channel
	owned   uint32
}

// Channel returns the channel the writer belongs to.
func (w *Writer) Channel() Channel { return w.channel }

// Update writes field if the writer's channel owns it.
func (w *Writer) Update(field Field, value any) error {
	if field < 0 || field >= fieldCount || w.owned&(1<<uint(field)) == 0 {
		return fmt.Errorf("%w: %s may not write %s", ErrFieldNotOwned, w.channel, field)
	}
	return w.store.Update(field, value)
}

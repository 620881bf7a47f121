package mavlink

import "github.com/skynet-gcs/gcsbridge/internal/adapter"

// PX4 main modes (custom_mode bits 16..23).
const (
	px4MainManual     = 1
	px4MainAltctl     = 2
	px4MainPosctl     = 3
	px4MainAuto       = 4
	px4MainAcro       = 5
	px4MainOffboard   = 6
	px4MainStabilized = 7
	px4MainRattitude  = 8
)

// PX4 AUTO sub modes (custom_mode bits 24..31).
const (
	px4AutoReady        = 1
	px4AutoTakeoff      = 2
	px4AutoLoiter       = 3
	px4AutoMission      = 4
	px4AutoRTL          = 5
	px4AutoLand         = 6
	px4AutoFollowTarget = 8
)

// px4Mode is a main/sub mode pair.
type px4Mode struct {
	main uint8
	sub  uint8
}

// customMode packs the pair into the HEARTBEAT custom_mode layout.
func (m px4Mode) customMode() uint32 {
	return uint32(m.main)<<16 | uint32(m.sub)<<24
}

var (
	modeOffboard = px4Mode{main: px4MainOffboard}
	modeTakeoff  = px4Mode{main: px4MainAuto, sub: px4AutoTakeoff}
	modeHold     = px4Mode{main: px4MainAuto, sub: px4AutoLoiter}
)

var autoSubModes = map[uint8]adapter.FlightMode{
	px4AutoReady:        adapter.FlightModeReady,
	px4AutoTakeoff:      adapter.FlightModeTakeoff,
	px4AutoLoiter:       adapter.FlightModeHold,
	px4AutoMission:      adapter.FlightModeMission,
	px4AutoRTL:          adapter.FlightModeReturnToLaunch,
	px4AutoLand:         adapter.FlightModeLand,
	px4AutoFollowTarget: adapter.FlightModeFollowMe,
}

var mainModes = map[uint8]adapter.FlightMode{
	px4MainManual:     adapter.FlightModeManual,
	px4MainAltctl:     adapter.FlightModeAltctl,
	px4MainPosctl:     adapter.FlightModePosctl,
	px4MainAcro:       adapter.FlightModeAcro,
	px4MainOffboard:   adapter.FlightModeOffboard,
	px4MainStabilized: adapter.FlightModeStabilized,
	px4MainRattitude:  adapter.FlightModeRattitude,
}

// px4FlightMode decodes a PX4 custom_mode.
func px4FlightMode(customMode uint32) adapter.FlightMode {
	main := uint8(customMode >> 16)
	sub := uint8(customMode >> 24)

	if main == px4MainAuto {
		if mode, ok := autoSubModes[sub]; ok {
			return mode
		}
		return adapter.FlightModeUnknown
	}
	if mode, ok := mainModes[main]; ok {
		return mode
	}
	return adapter.FlightModeUnknown
}

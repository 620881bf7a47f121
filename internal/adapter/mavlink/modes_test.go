package mavlink

import (
	"testing"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
)

func TestPX4FlightMode(t *testing.T) {
	tests := []struct {
		main, sub uint8
		want      adapter.FlightMode
	}{
		{px4MainManual, 0, adapter.FlightModeManual},
		{px4MainAltctl, 0, adapter.FlightModeAltctl},
		{px4MainPosctl, 0, adapter.FlightModePosctl},
		{px4MainAcro, 0, adapter.FlightModeAcro},
		{px4MainOffboard, 0, adapter.FlightModeOffboard},
		{px4MainStabilized, 0, adapter.FlightModeStabilized},
		{px4MainRattitude, 0, adapter.FlightModeRattitude},
		{px4MainAuto, px4AutoReady, adapter.FlightModeReady},
		{px4MainAuto, px4AutoTakeoff, adapter.FlightModeTakeoff},
		{px4MainAuto, px4AutoLoiter, adapter.FlightModeHold},
		{px4MainAuto, px4AutoMission, adapter.FlightModeMission},
		{px4MainAuto, px4AutoRTL, adapter.FlightModeReturnToLaunch},
		{px4MainAuto, px4AutoLand, adapter.FlightModeLand},
		{px4MainAuto, px4AutoFollowTarget, adapter.FlightModeFollowMe},
		{px4MainAuto, 7, adapter.FlightModeUnknown},
		{0, 0, adapter.FlightModeUnknown},
		{42, 0, adapter.FlightModeUnknown},
	}

	for _, tt := range tests {
		mode := px4Mode{main: tt.main, sub: tt.sub}
		if got := px4FlightMode(mode.customMode()); got != tt.want {
			t.Errorf("main=%d sub=%d: got %s, want %s", tt.main, tt.sub, got, tt.want)
		}
	}
}

func TestPX4CustomModeLayout(t *testing.T) {
	// OFFBOARD as reported by PX4 in HEARTBEAT.custom_mode.
	if got := modeOffboard.customMode(); got != 0x00060000 {
		t.Errorf("OFFBOARD custom mode = %#x, want 0x60000", got)
	}
	if got := modeHold.customMode(); got != 0x03040000 {
		t.Errorf("AUTO.LOITER custom mode = %#x, want 0x3040000", got)
	}
	if got := px4FlightMode(modeTakeoff.customMode()); got != adapter.FlightModeTakeoff {
		t.Errorf("Takeoff round trip = %s", got)
	}
}

package mavlink

import (
	"reflect"
	"testing"

	"github.com/bluenviron/gomavlib/v3"

	"github.com/skynet-gcs/gcsbridge/internal/config"
)

func TestEndpointConf(t *testing.T) {
	tests := []struct {
		address string
		want    gomavlib.EndpointConf
	}{
		{"udp://:14550", gomavlib.EndpointUDPServer{Address: ":14550"}},
		{"udpout://10.0.0.2:14550", gomavlib.EndpointUDPClient{Address: "10.0.0.2:14550"}},
		{"tcp://127.0.0.1:5760", gomavlib.EndpointTCPClient{Address: "127.0.0.1:5760"}},
		{"tcpin://:5760", gomavlib.EndpointTCPServer{Address: ":5760"}},
		{"serial:///dev/ttyACM0:115200", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 115200}},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			addr, err := config.ParseVehicleAddress(tt.address)
			if err != nil {
				t.Fatalf("ParseVehicleAddress failed: %v", err)
			}
			got, err := endpointConf(addr)
			if err != nil {
				t.Fatalf("endpointConf failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEndpointConfUnknownKind(t *testing.T) {
	if _, err := endpointConf(config.VehicleAddress{Kind: "carrier_pigeon"}); err == nil {
		t.Error("Expected error for unknown link kind")
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	if _, err := New(Config{Address: "14550"}, nil); err == nil {
		t.Error("Expected error for address without scheme")
	}
}

package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseVehicleAddress(t *testing.T) {
	tests := []struct {
		in   string
		want VehicleAddress
	}{
		{"udp://:14550", VehicleAddress{Kind: LinkUDPServer, Address: ":14550"}},
		{"udpin://0.0.0.0:14540", VehicleAddress{Kind: LinkUDPServer, Address: "0.0.0.0:14540"}},
		{"udpout://192.168.1.10:14550", VehicleAddress{Kind: LinkUDPClient, Address: "192.168.1.10:14550"}},
		{"tcp://127.0.0.1:5760", VehicleAddress{Kind: LinkTCPClient, Address: "127.0.0.1:5760"}},
		{"tcpin://:5760", VehicleAddress{Kind: LinkTCPServer, Address: ":5760"}},
		{"serial:///dev/ttyUSB0:57600", VehicleAddress{Kind: LinkSerial, Device: "/dev/ttyUSB0", Baud: 57600}},
		{"serial:///dev/ttyACM0", VehicleAddress{Kind: LinkSerial, Device: "/dev/ttyACM0", Baud: DefaultSerialBaud}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVehicleAddress(tt.in)
			if err != nil {
				t.Fatalf("ParseVehicleAddress failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseVehicleAddressErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"14550",
		"udp://",
		"udp://14550",
		"udp://:0",
		"udp://:70000",
		"udpout://:14550",
		"tcp://:5760",
		"http://host:80",
		"serial://",
		"serial:///dev/ttyUSB0:fast",
		"serial://:57600",
	} {
		if _, err := ParseVehicleAddress(in); err == nil {
			t.Errorf("ParseVehicleAddress(%q): expected error", in)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"send timeout equals interval", func(c *Config) { c.Broadcast.SendTimeout = c.Broadcast.Interval }, "send timeout"},
		{"zero interval", func(c *Config) { c.Broadcast.Interval = 0 }, "broadcast interval"},
		{"bad address", func(c *Config) { c.Vehicle.Address = "carrier-pigeon" }, "vehicle address"},
		{"unknown autopilot", func(c *Config) { c.Vehicle.Autopilot = "ardupilot-x" }, "autopilot"},
		{"system id", func(c *Config) { c.Vehicle.SystemID = 0 }, "system id"},
		{"link timeout", func(c *Config) { c.Vehicle.LinkTimeout = 500 * time.Millisecond }, "link timeout"},
		{"negative connect timeout", func(c *Config) { c.Vehicle.ConnectTimeout = -time.Second }, "connect timeout"},
		{"command below ack", func(c *Config) { c.Commands.Timeout = time.Second }, "command timeout"},
		{"hs256 without secret", func(c *Config) { c.Auth.Enabled = true }, "secret"},
		{"rs256 without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "RS256" }, "public key"},
		{"unsupported alg", func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "none" }, "unsupported algorithm"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"listen addr", func(c *Config) { c.Server.ListenAddr = "8080" }, "listen address"},
	}

	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Defaults must validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAuthDisabledIgnoresKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Algorithm = "none"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Disabled auth must not be validated, got %v", err)
	}
}

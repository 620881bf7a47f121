package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/skynet-gcs/gcsbridge/internal/adapter"
)

// DefaultSerialBaud is used when a serial address omits the baud rate.
const DefaultSerialBaud = 57600

// Vehicle link kinds.
const (
	LinkUDPServer = "udp_server"
	LinkUDPClient = "udp_client"
	LinkTCPServer = "tcp_server"
	LinkTCPClient = "tcp_client"
	LinkSerial    = "serial"
)

// VehicleAddress is a parsed vehicle connection string.
type VehicleAddress struct {
	Kind string

	// Address is host:port for network links.
	Address string

	// Device and Baud are set for serial links.
	Device string
	Baud   int
}

// ParseVehicleAddress parses a connection string:
//
//	udp://[host]:port      listen for the vehicle (also udpin://)
//	udpout://host:port     send to the vehicle
//	tcp://host:port        connect to the vehicle (also tcpout://)
//	tcpin://[host]:port    accept a connection from the vehicle
//	serial:///dev/ttyX[:baud]
func ParseVehicleAddress(s string) (VehicleAddress, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || rest == "" {
		return VehicleAddress{}, fmt.Errorf("invalid vehicle address %q: expected scheme://target", s)
	}

	switch strings.ToLower(scheme) {
	case "udp", "udpin":
		return networkAddress(LinkUDPServer, rest, true)
	case "udpout":
		return networkAddress(LinkUDPClient, rest, false)
	case "tcp", "tcpout":
		return networkAddress(LinkTCPClient, rest, false)
	case "tcpin":
		return networkAddress(LinkTCPServer, rest, true)
	case "serial":
		return serialAddress(rest)
	default:
		return VehicleAddress{}, fmt.Errorf("invalid vehicle address %q: unsupported scheme %q", s, scheme)
	}
}

func networkAddress(kind, hostport string, hostOptional bool) (VehicleAddress, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return VehicleAddress{}, fmt.Errorf("invalid vehicle address %q: %w", hostport, err)
	}
	if host == "" && !hostOptional {
		return VehicleAddress{}, fmt.Errorf("invalid vehicle address %q: host required", hostport)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return VehicleAddress{}, fmt.Errorf("invalid vehicle address %q: bad port %q", hostport, port)
	}
	return VehicleAddress{Kind: kind, Address: net.JoinHostPort(host, port)}, nil
}

func serialAddress(rest string) (VehicleAddress, error) {
	device, baud := rest, DefaultSerialBaud
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		n, err := strconv.Atoi(rest[i+1:])
		if err != nil || n <= 0 {
			return VehicleAddress{}, fmt.Errorf("invalid serial address %q: bad baud rate", rest)
		}
		device, baud = rest[:i], n
	}
	if device == "" {
		return VehicleAddress{}, fmt.Errorf("invalid serial address %q: device required", rest)
	}
	return VehicleAddress{Kind: LinkSerial, Device: device, Baud: baud}, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	return errors.Join(
		c.validateServer(),
		c.validateVehicle(),
		c.validateBroadcast(),
		c.validateCommands(),
		c.validateAuth(),
		c.validateLogging(),
	)
}

func (c *Config) validateServer() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("server listen address %q: %w", c.Server.ListenAddr, err)
	}
	if c.Server.WSWriteTimeout <= 0 || c.Server.WSPongWait <= 0 {
		return fmt.Errorf("websocket write timeout and pong wait must be positive")
	}
	if c.Server.WSReadLimit <= 0 {
		return fmt.Errorf("websocket read limit must be positive, got %d", c.Server.WSReadLimit)
	}
	return nil
}

func (c *Config) validateVehicle() error {
	v := c.Vehicle
	if _, err := ParseVehicleAddress(v.Address); err != nil {
		return err
	}
	if _, ok := adapter.AutopilotErrorMappings[v.Autopilot]; !ok {
		return fmt.Errorf("unknown autopilot %q", v.Autopilot)
	}
	if v.SystemID < 1 || v.SystemID > 255 {
		return fmt.Errorf("vehicle system id must be in [1, 255], got %d", v.SystemID)
	}
	if v.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", v.HeartbeatInterval)
	}
	if v.LinkTimeout < v.HeartbeatInterval {
		return fmt.Errorf("link timeout %v must be >= heartbeat interval %v", v.LinkTimeout, v.HeartbeatInterval)
	}
	if v.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout must be positive, got %v", v.AckTimeout)
	}
	if v.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must be non-negative, got %v", v.ConnectTimeout)
	}
	return nil
}

func (c *Config) validateBroadcast() error {
	b := c.Broadcast
	if b.Interval <= 0 {
		return fmt.Errorf("broadcast interval must be positive, got %v", b.Interval)
	}
	if b.SendTimeout <= 0 {
		return fmt.Errorf("broadcast send timeout must be positive, got %v", b.SendTimeout)
	}
	if b.SendTimeout >= b.Interval {
		return fmt.Errorf("broadcast send timeout %v must be < interval %v", b.SendTimeout, b.Interval)
	}
	return nil
}

func (c *Config) validateCommands() error {
	if c.Commands.Timeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %v", c.Commands.Timeout)
	}
	if c.Commands.Timeout < c.Vehicle.AckTimeout {
		return fmt.Errorf("command timeout %v must be >= ack timeout %v", c.Commands.Timeout, c.Vehicle.AckTimeout)
	}
	return nil
}

func (c *Config) validateAuth() error {
	a := c.Auth
	if !a.Enabled {
		return nil
	}
	switch a.Algorithm {
	case "HS256":
		if a.Secret == "" {
			return fmt.Errorf("auth: HS256 requires a secret")
		}
	case "RS256":
		if a.PublicKeyFile == "" {
			return fmt.Errorf("auth: RS256 requires a public key file")
		}
	default:
		return fmt.Errorf("auth: unsupported algorithm %q", a.Algorithm)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
}

package config

import (
	"time"
)

// Config is the complete bridge configuration. It is fixed for the lifetime
// of the process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Vehicle   VehicleConfig   `yaml:"vehicle"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Commands  CommandsConfig  `yaml:"commands"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig configures the client-facing HTTP and WebSocket listener.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`

	// WebSocket session settings.
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`
	WSPongWait     time.Duration `yaml:"ws_pong_wait"`
	WSReadLimit    int64         `yaml:"ws_read_limit"`
}

// VehicleConfig configures the vehicle link.
type VehicleConfig struct {
	// Address is a connection string: udp://[host]:port, udpout://host:port,
	// tcp://host:port or serial:///dev/ttyX[:baud].
	Address   string `yaml:"address"`
	Autopilot string `yaml:"autopilot"`

	// SystemID is the MAVLink system ID the bridge sends as.
	SystemID int `yaml:"system_id"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LinkTimeout       time.Duration `yaml:"link_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`

	// ConnectTimeout bounds the startup wait for the vehicle. Zero waits
	// forever.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// BroadcastConfig configures the snapshot broadcast.
type BroadcastConfig struct {
	Interval    time.Duration `yaml:"interval"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// CommandsConfig configures command dispatch.
type CommandsConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	Acknowledge      bool          `yaml:"acknowledge"`
	StopOnDisconnect bool          `yaml:"stop_on_disconnect"`
}

// AuthConfig configures bearer-token authentication of clients.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Algorithm     string `yaml:"algorithm"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"public_key_file"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// AuditConfig configures the command audit trail. An empty Dir disables it.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			WSWriteTimeout: 5 * time.Second,
			WSPongWait:     60 * time.Second,
			WSReadLimit:    4096,
		},
		Vehicle: VehicleConfig{
			Address:           "udp://:14550",
			Autopilot:         "px4",
			SystemID:          255,
			HeartbeatInterval: 1 * time.Second,
			LinkTimeout:       3 * time.Second,
			AckTimeout:        3 * time.Second,
		},
		Broadcast: BroadcastConfig{
			Interval:    100 * time.Millisecond,
			SendTimeout: 50 * time.Millisecond,
		},
		Commands: CommandsConfig{
			Timeout:          10 * time.Second,
			StopOnDisconnect: true,
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Audit: AuditConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

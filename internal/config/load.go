package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GCSB_"

// Load builds the configuration: Defaults, then the YAML file at path (if
// path is non-empty), then GCSB_* environment overrides. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile merges the YAML file over cfg. Keys absent from the file keep
// their current value; unknown keys are rejected.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file leaves the defaults unchanged.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies GCSB_* variables to cfg.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	e := envApplier{lookup: lookup}

	e.str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	e.list("ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)
	e.duration("WS_WRITE_TIMEOUT", &cfg.Server.WSWriteTimeout)
	e.duration("WS_PONG_WAIT", &cfg.Server.WSPongWait)

	e.str("VEHICLE_ADDRESS", &cfg.Vehicle.Address)
	e.str("VEHICLE_AUTOPILOT", &cfg.Vehicle.Autopilot)
	e.integer("VEHICLE_SYSTEM_ID", &cfg.Vehicle.SystemID)
	e.duration("VEHICLE_HEARTBEAT_INTERVAL", &cfg.Vehicle.HeartbeatInterval)
	e.duration("VEHICLE_LINK_TIMEOUT", &cfg.Vehicle.LinkTimeout)
	e.duration("VEHICLE_ACK_TIMEOUT", &cfg.Vehicle.AckTimeout)
	e.duration("VEHICLE_CONNECT_TIMEOUT", &cfg.Vehicle.ConnectTimeout)

	e.duration("BROADCAST_INTERVAL", &cfg.Broadcast.Interval)
	e.duration("BROADCAST_SEND_TIMEOUT", &cfg.Broadcast.SendTimeout)

	e.duration("COMMANDS_TIMEOUT", &cfg.Commands.Timeout)
	e.boolean("COMMANDS_ACKNOWLEDGE", &cfg.Commands.Acknowledge)
	e.boolean("COMMANDS_STOP_ON_DISCONNECT", &cfg.Commands.StopOnDisconnect)

	e.boolean("AUTH_ENABLED", &cfg.Auth.Enabled)
	e.str("AUTH_ALGORITHM", &cfg.Auth.Algorithm)
	e.str("AUTH_SECRET", &cfg.Auth.Secret)
	e.str("AUTH_PUBLIC_KEY_FILE", &cfg.Auth.PublicKeyFile)
	e.str("AUTH_ISSUER", &cfg.Auth.Issuer)
	e.str("AUTH_AUDIENCE", &cfg.Auth.Audience)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_FILE", &cfg.Logging.File)

	e.str("AUDIT_DIR", &cfg.Audit.Dir)

	return errors.Join(e.errs...)
}

type envApplier struct {
	lookup lookupFunc
	errs   []error
}

func (e *envApplier) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envApplier) fail(key, val string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, val, err))
}

func (e *envApplier) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envApplier) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (e *envApplier) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envApplier) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envApplier) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

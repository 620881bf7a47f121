// Package main implements the gcsbridge entry point.
//
// gcsbridge links one MAVLink vehicle to browser ground stations: telemetry
// is merged into a snapshot that is broadcast to every WebSocket client at a
// fixed rate, and client commands are dispatched to the vehicle.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/skynet-gcs/gcsbridge/internal/adapter/mavlink"
	"github.com/skynet-gcs/gcsbridge/internal/api"
	"github.com/skynet-gcs/gcsbridge/internal/audit"
	"github.com/skynet-gcs/gcsbridge/internal/auth"
	"github.com/skynet-gcs/gcsbridge/internal/command"
	"github.com/skynet-gcs/gcsbridge/internal/config"
	"github.com/skynet-gcs/gcsbridge/internal/flightmode"
	"github.com/skynet-gcs/gcsbridge/internal/logging"
	"github.com/skynet-gcs/gcsbridge/internal/session"
	"github.com/skynet-gcs/gcsbridge/internal/telemetry"
)

const (
	Version = "1.0.0"

	// shutdownTimeout bounds the HTTP drain on exit.
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gcsbridge: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line overrides. Only flags set explicitly
// override the configuration file and environment.
type options struct {
	configPath  string
	listen      string
	vehicle     string
	logLevel    string
	logFile     string
	auditDir    string
	acknowledge bool
	version     bool
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("gcsbridge", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file")
	fs.StringVar(&opts.listen, "listen", "", "client listen address (host:port)")
	fs.StringVar(&opts.vehicle, "vehicle", "", "vehicle connection string (udp://:14550, tcp://host:port, serial:///dev/ttyACM0:57600)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&opts.logFile, "log-file", "", "write JSON logs to this rotated file instead of stderr")
	fs.StringVar(&opts.auditDir, "audit-dir", "", "directory for the command audit trail")
	fs.BoolVar(&opts.acknowledge, "acknowledge", false, "reply COMMAND_ACK to ARM and SET_MODE commands")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return opts, fs, nil
}

// applyFlags layers explicitly set flags over cfg and re-validates it.
func applyFlags(cfg *config.Config, opts *options, fs *pflag.FlagSet) error {
	if fs.Changed("listen") {
		cfg.Server.ListenAddr = opts.listen
	}
	if fs.Changed("vehicle") {
		cfg.Vehicle.Address = opts.vehicle
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if fs.Changed("log-file") {
		cfg.Logging.File = opts.logFile
	}
	if fs.Changed("audit-dir") {
		cfg.Audit.Dir = opts.auditDir
	}
	if fs.Changed("acknowledge") {
		cfg.Commands.Acknowledge = opts.acknowledge
	}
	return cfg.Validate()
}

func run(args []string) error {
	opts, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.version {
		fmt.Printf("gcsbridge %s\n", Version)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, opts, fs); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("Starting gcsbridge", "version", Version, "vehicle", cfg.Vehicle.Address,
		"listen", cfg.Server.ListenAddr, "autopilot", cfg.Vehicle.Autopilot)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	vehicle, err := mavlink.New(mavlink.Config{
		Address:           cfg.Vehicle.Address,
		SystemID:          uint8(cfg.Vehicle.SystemID),
		HeartbeatInterval: cfg.Vehicle.HeartbeatInterval,
		LinkTimeout:       cfg.Vehicle.LinkTimeout,
		AckTimeout:        cfg.Vehicle.AckTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open vehicle link: %w", err)
	}
	defer vehicle.Close()

	store := telemetry.NewStore()
	registry := session.NewRegistry()
	manager := telemetry.NewManager(vehicle, store, logger)
	machine := flightmode.New(vehicle, logger)

	dispatcher := command.NewDispatcher(vehicle, machine, command.Config{
		CommandTimeout:   cfg.Commands.Timeout,
		Acknowledge:      cfg.Commands.Acknowledge,
		StopOnDisconnect: cfg.Commands.StopOnDisconnect,
		Autopilot:        cfg.Vehicle.Autopilot,
	}, logger)

	if cfg.Audit.Dir != "" {
		auditLogger, err := audit.NewLogger(cfg.Audit.Dir, audit.Options{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		})
		if err != nil {
			return err
		}
		defer closeQuietly(auditLogger, logger, "audit log")
		dispatcher.SetAuditLogger(auditLogger)
		logger.Info("Command audit enabled", "file", auditLogger.GetFilePath())
	}
	// Vehicle calls still in flight finish before the audit log and the
	// link close.
	defer dispatcher.Wait()

	authMiddleware, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		return err
	}

	broadcaster := telemetry.NewBroadcaster(store, registry, telemetry.BroadcastConfig{
		Interval:    cfg.Broadcast.Interval,
		SendTimeout: cfg.Broadcast.SendTimeout,
	}, logger)

	server := api.NewServer(api.Deps{
		Store:      store,
		Registry:   registry,
		Dispatcher: dispatcher,
		Auth:       authMiddleware,
		Telemetry:  manager,
		Broadcast:  broadcaster,
		Modes:      machine,
	}, api.Options{
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebSocket: session.WebSocketOptions{
			WriteTimeout: cfg.Server.WSWriteTimeout,
			PongWait:     cfg.Server.WSPongWait,
			ReadLimit:    cfg.Server.WSReadLimit,
		},
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := manager.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return broadcaster.Run(gctx) })

	g.Go(func() error {
		logger.Info("Waiting for vehicle heartbeat", "timeout", cfg.Vehicle.ConnectTimeout)
		if err := manager.WaitConnected(gctx, cfg.Vehicle.ConnectTimeout); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("vehicle did not connect within %s: %w", cfg.Vehicle.ConnectTimeout, err)
		}
		logger.Info("Vehicle connected, accepting clients")

		ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.ListenAddr, err)
		}
		return server.Serve(ln)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Bridge stopped with error", "error", err)
		return err
	}
	logger.Info("Bridge stopped")
	return nil
}

func newAuthMiddleware(cfg config.AuthConfig) (*auth.Middleware, error) {
	if !cfg.Enabled {
		return auth.NewMiddleware(), nil
	}

	vc := auth.VerifierConfig{
		Algorithm: cfg.Algorithm,
		SecretKey: cfg.Secret,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
	}
	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		vc.PublicKeyPEM = string(pem)
	}

	verifier, err := auth.NewVerifier(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}
	return auth.NewMiddlewareWithVerifier(verifier), nil
}

func closeQuietly(c io.Closer, logger *slog.Logger, what string) {
	if err := c.Close(); err != nil {
		logger.Warn("Close failed", "what", what, "error", err)
	}
}

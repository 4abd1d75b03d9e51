// Calder IoT Console Core
//
// This is the main entry point for the console client: it authenticates
// against the identity service, opens the realtime measurement channel,
// subscribes to the devices named on the command line, and prints
// notification-worthy threshold alerts as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/calder-iot/console-core/internal/alerts"
	"github.com/calder-iot/console-core/internal/archive"
	"github.com/calder-iot/console-core/internal/authz"
	"github.com/calder-iot/console-core/internal/infrastructure/config"
	"github.com/calder-iot/console-core/internal/infrastructure/logging"
	"github.com/calder-iot/console-core/internal/realtime"
	"github.com/calder-iot/console-core/internal/session"
	"github.com/calder-iot/console-core/internal/simulator"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// simulatorAddr is where the embedded simulator listens in -simulate mode.
const simulatorAddr = "127.0.0.1:8473"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	simulate := fs.Bool("simulate", false, "run against an embedded backend simulator")
	username := fs.String("user", os.Getenv("CONSOLE_USER"), "account username")
	password := fs.String("password", os.Getenv("CONSOLE_PASSWORD"), "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceIDs := fs.Args()

	log := logging.Default()
	log.Info("starting Console Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Start the embedded simulator and point every endpoint at it.
	if *simulate {
		if err := startSimulator(ctx, cfg, log, deviceIDs); err != nil {
			return err
		}
		if *username == "" {
			*username = "demo"
			*password = "demo-password"
		}
	}

	if *username == "" || *password == "" {
		return fmt.Errorf("credentials required: pass -user/-password or set CONSOLE_USER/CONSOLE_PASSWORD")
	}

	// Identity and session
	identity, err := session.NewIdentityClient(cfg.Identity)
	if err != nil {
		return fmt.Errorf("creating identity client: %w", err)
	}
	manager := session.NewManager(identity, session.NewMemoryStore(), log)
	manager.InitializeFromStorage(ctx, "/")

	// Role hierarchy
	roles := authz.New(cfg.Roles)

	// Realtime transport and channel
	var transport realtime.Transport
	switch cfg.Realtime.Transport {
	case "mqtt":
		transport = realtime.NewMQTTTransport(cfg.Realtime)
	default:
		transport = realtime.NewWSTransport(cfg.Realtime)
	}
	channel := realtime.NewChannel(transport, cfg.Realtime.Reconnect, manager.Token, log)
	channel.SetStateHandler(func(st realtime.State) {
		log.Info("realtime state changed", "state", st.String())
	})
	manager.SetTeardown(channel.Disconnect)

	// Threshold alerts to the console
	channel.On(realtime.EventThresholdExceeded, func(ev realtime.Event) {
		alert, err := realtime.DecodeThresholdAlert(ev)
		if err != nil {
			log.Warn("undecodable threshold alert", "device_id", ev.DeviceID, "error", err)
			return
		}
		action := alerts.Classify(alert)
		if !action.Notify() {
			return
		}
		fmt.Printf("[%s] %s: %s\n", strings.ToUpper(action.Level.String()), alert.DeviceID, action.Message)
	})

	// Measurement archive (optional)
	sink, err := archive.Connect(cfg.Archive, log)
	if err != nil {
		return fmt.Errorf("connecting archive: %w", err)
	}
	if sink != nil {
		sink.Attach(channel)
		defer func() {
			log.Info("closing archive")
			if closeErr := sink.Close(); closeErr != nil {
				log.Error("error closing archive", "error", closeErr)
			}
		}()
		log.Info("archive connected", "url", cfg.Archive.URL, "bucket", cfg.Archive.Bucket)
	}

	// Authenticate
	auth, err := manager.Login(ctx, session.Credentials{Username: *username, Password: *password})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	highest, _ := roles.HighestOf(manager.Roles())
	log.Info("logged in",
		"user", auth.Claims.Username,
		"role", highest,
		"priority", roles.PriorityOf(highest),
	)
	defer func() {
		log.Info("logging out")
		manager.Logout(context.Background())
	}()

	// Connect and subscribe
	channel.Connect()
	for _, id := range deviceIDs {
		if err := channel.Subscribe(ctx, id); err != nil {
			log.Warn("subscribe deferred until connected", "device_id", id, "error", err)
		}
	}
	log.Info("watching devices", "count", len(deviceIDs))

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Logout tears the channel down via the session teardown hook.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CONSOLE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CONSOLE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startSimulator boots the embedded backend, repoints the configuration
// at it, seeds a demo account, and emits synthetic measurement traffic
// for the watched devices.
func startSimulator(ctx context.Context, cfg *config.Config, log *logging.Logger, deviceIDs []string) error {
	sim, err := simulator.NewServer(simulator.Options{
		Addr:        simulatorAddr,
		TokenSecret: "console-simulator",
		DefaultRole: authz.RoleScientist,
	}, log)
	if err != nil {
		return fmt.Errorf("creating simulator: %w", err)
	}

	go func() {
		if runErr := sim.Run(ctx); runErr != nil {
			log.Error("simulator stopped", "error", runErr)
		}
	}()
	if err := waitForListener(ctx, simulatorAddr); err != nil {
		return fmt.Errorf("simulator did not come up: %w", err)
	}

	base := "http://" + simulatorAddr
	cfg.Identity.BaseURL = base
	cfg.API.BaseURL = base
	cfg.Realtime.URL = "ws://" + simulatorAddr + "/ws"
	cfg.Realtime.Transport = "websocket"

	if err := sim.SeedUser(ctx, "demo", "demo-password", authz.RoleScientist); err != nil {
		return fmt.Errorf("seeding demo account: %w", err)
	}

	go emitSyntheticTraffic(ctx, sim, deviceIDs, log)

	log.Info("simulator started", "addr", simulatorAddr)
	return nil
}

// waitForListener polls until the address accepts connections.
func waitForListener(ctx context.Context, addr string) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			return conn.Close()
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for %s", addr)
}

// emitSyntheticTraffic pushes a measurement per watched device every few
// seconds, with an occasional threshold breach.
func emitSyntheticTraffic(ctx context.Context, sim *simulator.Server, deviceIDs []string, log *logging.Logger) {
	if len(deviceIDs) == 0 {
		return
	}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, id := range deviceIDs {
				value := 20 + float64(tick%10)
				numeric := value
				sim.EmitMeasurement(realtime.Measurement{
					ID:              fmt.Sprintf("m-%d", tick),
					DeviceID:        id,
					MeasurementDate: time.Now(),
					Values: []realtime.MeasurementValue{
						{FieldName: "temperature", Value: fmt.Sprintf("%.1f", value), NumericValue: &numeric},
					},
				})
				if tick%5 == 0 {
					sim.EmitThreshold(realtime.ThresholdAlert{
						DeviceID:  id,
						FieldName: "temperature",
						Status:    realtime.SeverityCritical,
						Value:     value,
						Threshold: 25,
						Message:   fmt.Sprintf("temperature %.1f exceeded threshold 25.0", value),
					})
				}
			}
			log.Debug("synthetic traffic emitted", "tick", tick)
		}
	}
}

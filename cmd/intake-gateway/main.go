// ABOUTME: Entry point for the intake-gateway server
// ABOUTME: Wires store, agents, scheduler and the HTTP control surface

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/medforce/intake-gateway/internal/agent"
	"github.com/medforce/intake-gateway/internal/auth"
	"github.com/medforce/intake-gateway/internal/channel"
	"github.com/medforce/intake-gateway/internal/config"
	"github.com/medforce/intake-gateway/internal/gateway"
	"github.com/medforce/intake-gateway/internal/heartbeat"
	"github.com/medforce/intake-gateway/internal/identity"
	"github.com/medforce/intake-gateway/internal/metrics"
	"github.com/medforce/intake-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _     _        _
 (_)_ _| |_ __ _| |_____ ___ __ _ __ _| |_ _____ __ ____ _ _  _
 | | ' \  _/ _' | / / -_)___/ _' / _' |  _/ -_) V  V / _' | || |
 |_|_||_\__\__,_|_\_\___|   \__, \__,_|\__\___|\_/\_/\__,_|\_, |
                            |___/                          |__/
`

// getConfigPath returns the path to the gateway config file.
// Priority: INTAKE_CONFIG env var > XDG_CONFIG_HOME/intake/gateway.yaml > ~/.config/intake/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv(config.EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "intake", "gateway.yaml")
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: intake-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve              Start the gateway server")
		fmt.Println("  init               Write a starter config file")
		fmt.Println("  token --sub NAME   Issue an operator token for the control API")
		fmt.Println("  health             Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Storage.DatabasePath)
	if cfg.Server.AuthSecret == "" {
		yellow := color.New(color.FgYellow)
		yellow.Print("    ▶ ")
		fmt.Println("Auth:      disabled (set server.auth_secret to enable)")
	}
	fmt.Println()

	logger.Info("starting intake-gateway",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"database", cfg.Storage.DatabasePath,
	)

	st, err := store.NewSQLite(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	resolver := identity.NewResolver(logger)
	if err := resolver.Rebuild(ctx, st); err != nil {
		return fmt.Errorf("rebuilding identity index: %w", err)
	}

	channels := channel.NewRegistry(logger)
	collector := metrics.New()

	gw := gateway.New(st, channels, resolver, collector, gateway.Options{
		MaxChainDepth:      cfg.Gateway.MaxChainDepth,
		RateLimitPerMinute: cfg.Gateway.RateLimitPerMinute,
		MaxMessageLength:   cfg.Gateway.MaxMessageLength,
		DedupeTTL:          cfg.Gateway.DedupeTTL.Std(),
		QueueIdleTTL:       cfg.Queue.IdleTTL.Std(),
		QueueDepth:         cfg.Queue.Depth,
	}, logger)
	defer gw.Close()

	scorer := agent.NewRiskScorer(nil, logger)
	gw.RegisterAgent(agent.NewIntakeAgent(logger))
	gw.RegisterAgent(agent.NewClinicalAgent(scorer, logger))
	gw.RegisterAgent(agent.NewBookingAgent(logger))
	gw.RegisterAgent(agent.NewMonitoringAgent(logger))
	gw.RegisterAgent(agent.NewGPCommsAgent(logger))
	gw.RegisterAgent(agent.NewHelpersAgent(logger))

	sched := heartbeat.New(st, gw.Submit,
		cfg.Heartbeat.CheckInterval.Std(),
		cfg.Heartbeat.MilestoneDays,
		cfg.Heartbeat.GPReminderAfter.Std(),
		logger)
	if err := sched.Recover(ctx); err != nil {
		return fmt.Errorf("recovering monitored patients: %w", err)
	}
	gw.SetMonitorRegistry(sched)
	sched.Start(ctx)
	defer sched.Stop()

	api := gateway.NewAPI(gw, resolver, []byte(cfg.Server.AuthSecret), logger)
	return api.ListenAndServe(cfg.Server.ListenAddr, ctx.Done())
}

// runInit writes a starter config with a fresh auth secret.
func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	secret, err := randomSecret()
	if err != nil {
		return err
	}
	cfg := fmt.Sprintf(`server:
  listen_addr: ":8080"
  auth_secret: "%s"

storage:
  database_path: "intake.db"

logging:
  level: "info"
  format: "text"

gateway:
  max_chain_depth: 10
  rate_limit_per_minute: 5
  max_message_length: 10000
  dedupe_ttl: "10m"

queue:
  idle_ttl: "30m"
  depth: 256

heartbeat:
  check_interval: "1h"
  milestone_days: [14, 30, 60, 90]
  gp_reminder_after: "48h"
`, secret)

	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

// runToken issues a bearer token for the control API.
func runToken() error {
	var subject string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if subject == "" {
		return fmt.Errorf("--sub is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.AuthSecret == "" {
		return fmt.Errorf("server.auth_secret is not set; run 'intake-gateway init' first")
	}

	token, err := auth.GenerateToken([]byte(cfg.Server.AuthSecret), subject, "operator", auth.DefaultTokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}
	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

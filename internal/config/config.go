package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
	// Mode selects the transports: http, mcp or both.
	Mode string
	// AdminID is upserted as an admin user at startup so a fresh
	// deployment can register its tasks and users.
	AdminID string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// IngestConfig holds location ingestion settings.
type IngestConfig struct {
	BatchWorkers int
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Ingest       IngestConfig

	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	appName              = "fieldtrack"
	defaultAddr          = "0.0.0.0:7080"
	defaultLogLevel      = "info"
	defaultMode          = "http"
	defaultBatchWorkers  = 4
	defaultShutdownGrace = 5 * time.Second
)

var validModes = []string{"http", "mcp", "both"}

// Location returns the zone used to evaluate work-hour windows.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvFloat returns the environment variable as a float pointer, or nil when unset or invalid
func getEnvFloat(key string) *float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return &f
		}
	}
	return nil
}

// loadDotEnv loads optional .env files from the working directory and the config directory.
func loadDotEnv() {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, appName, ".env"))
	}
	for _, file := range envFiles {
		_ = godotenv.Load(file) // optional, and Load never overrides variables already set
	}
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs is Parse over an explicit argument list.
func ParseArgs(args []string) (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("FIELDTRACK_ADDR", defaultAddr),
			AuthToken: getEnvString("FIELDTRACK_AUTH_TOKEN", ""),
			Mode:      getEnvString("FIELDTRACK_MODE", defaultMode),
			AdminID:   getEnvString("FIELDTRACK_ADMIN_ID", ""),
		},
		Log: LogConfig{
			Level: getEnvString("FIELDTRACK_LOG_LEVEL", defaultLogLevel),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("FIELDTRACK_BARK_URL", ""),
				Enabled: getEnvBool("FIELDTRACK_BARK_ENABLED", false),
			},
		},
		Ingest: IngestConfig{
			BatchWorkers: getEnvInt("FIELDTRACK_BATCH_WORKERS", defaultBatchWorkers),
		},
		StateDir:      getEnvString("FIELDTRACK_STATE_DIR", ""),
		UseUTC:        getEnvBool("FIELDTRACK_USE_UTC", false),
		ShutdownGrace: getEnvDuration("FIELDTRACK_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := flag.NewFlagSet(appName+"d", flag.ContinueOnError)
	var (
		addr, logLevel, stateDir, mode, adminID string
		useUTC                                  bool
		batchWorkers                            int
		shutdownGrace                           time.Duration
	)
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&mode, "mode", "", "Transports to serve: http, mcp or both")
	fs.StringVar(&adminID, "admin-id", "", "User id to register as admin at startup")
	fs.BoolVar(&useUTC, "use-utc", false, "Evaluate work hours in UTC instead of system local time")
	fs.IntVar(&batchWorkers, "batch-workers", 0, "Concurrent workers for batch location ingestion")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if mode != "" {
		cfg.Server.Mode = mode
	}
	if adminID != "" {
		cfg.Server.AdminID = adminID
	}
	if batchWorkers > 0 {
		cfg.Ingest.BatchWorkers = batchWorkers
	}
	// For bool flags, check if explicitly set via Visit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	cfg.Server.Mode = strings.ToLower(strings.TrimSpace(cfg.Server.Mode))
	if !isValidMode(cfg.Server.Mode) {
		return nil, fmt.Errorf("invalid mode %q: valid modes are %v", cfg.Server.Mode, validModes)
	}
	if cfg.Ingest.BatchWorkers < 1 {
		cfg.Ingest.BatchWorkers = defaultBatchWorkers
	}
	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	return cfg, nil
}

func isValidMode(mode string) bool {
	for _, m := range validModes {
		if m == mode {
			return true
		}
	}
	return false
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, appName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ThrottleConfig defines the parameters for per-connection inbound frame
// throttling.
type ThrottleConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings. Values come from the
// environment (see NewConfigFromEnv); godotenv loads a .env file into the
// environment before that in the server binary.
type Config struct {
	// Port is the plain TCP listen port for the line protocol.
	Port int
	// WSPort is the listen port of the WebSocket gateway. Zero disables
	// the gateway.
	WSPort int
	// MaxClients caps simultaneous connections across both listeners.
	MaxClients int
	// MaxHistory caps stored messages per conversation. Reserved until the
	// history feature lands; carried so deployments can set it now.
	MaxHistory int
	// IdleTimeout disconnects a client that sends nothing for this long.
	IdleTimeout time.Duration
	// WriteTimeout bounds a single blocking write to one client.
	WriteTimeout time.Duration
	// ShutdownTimeout bounds the graceful shutdown of the engine and
	// listeners.
	ShutdownTimeout time.Duration

	// LogPath is the log file location; empty logs to stderr only.
	LogPath string
	// LogLevel is one of debug, info, warn, error, none.
	LogLevel string
	// LogConsole mirrors log lines to stderr in addition to the file.
	LogConsole bool

	// RequireAuth gates every command except LOGIN behind authentication.
	RequireAuth bool

	// TLSCert and TLSKey enable TLS on both listeners when set together.
	TLSCert string
	TLSKey  string

	// AllowedOrigins lists the origins accepted by the WebSocket gateway.
	// "*" allows any origin.
	AllowedOrigins []string

	Throttle ThrottleConfig
}

// NewConfig creates a Config populated with default values for all
// settings.
func NewConfig() *Config {
	return &Config{
		Port:            8080,
		WSPort:          8081,
		MaxClients:      100,
		MaxHistory:      1000,
		IdleTimeout:     300 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogPath:         "server.log",
		LogLevel:        "info",
		LogConsole:      true,
		RequireAuth:     true,
		AllowedOrigins:  []string{"http://localhost:8081"},
		Throttle: ThrottleConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

// NewConfigFromEnv creates a Config from environment variables, falling
// back to defaults for anything unset or unparseable.
func NewConfigFromEnv() *Config {
	cfg := NewConfig()

	cfg.Port = parseIntValue(os.Getenv("SERVER_PORT"), cfg.Port)
	if ws := os.Getenv("WS_PORT"); ws == "0" {
		cfg.WSPort = 0
	} else {
		cfg.WSPort = parseIntValue(ws, cfg.WSPort)
	}
	cfg.MaxClients = parseIntValue(os.Getenv("MAX_CLIENTS"), cfg.MaxClients)
	cfg.MaxHistory = parseIntValue(os.Getenv("MAX_HISTORY"), cfg.MaxHistory)
	cfg.IdleTimeout = parseSeconds(os.Getenv("CLIENT_TIMEOUT"), cfg.IdleTimeout)
	cfg.WriteTimeout = parseSeconds(os.Getenv("WRITE_TIMEOUT"), cfg.WriteTimeout)
	cfg.ShutdownTimeout = parseSeconds(os.Getenv("SHUTDOWN_TIMEOUT"), cfg.ShutdownTimeout)

	if path, ok := os.LookupEnv("LOG_PATH"); ok {
		cfg.LogPath = path
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	cfg.LogConsole = parseBoolValue(os.Getenv("LOG_CONSOLE"), cfg.LogConsole)
	cfg.RequireAuth = parseBoolValue(os.Getenv("REQUIRE_AUTH"), cfg.RequireAuth)

	cfg.TLSCert = os.Getenv("TLS_CERT")
	cfg.TLSKey = os.Getenv("TLS_KEY")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	cfg.Throttle.Burst = parseIntValue(os.Getenv("THROTTLE_BURST"), cfg.Throttle.Burst)
	cfg.Throttle.RefillInterval = parseSeconds(os.Getenv("THROTTLE_REFILL_INTERVAL"), cfg.Throttle.RefillInterval)

	return cfg
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.WSPort < 0 || c.WSPort > 65535 {
		return fmt.Errorf("config: invalid websocket port %d", c.WSPort)
	}
	if c.WSPort == c.Port && c.WSPort != 0 {
		return fmt.Errorf("config: websocket port %d collides with tcp port", c.WSPort)
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("config: max clients must be positive, got %d", c.MaxClients)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("config: TLS requires both certificate and key")
	}
	return nil
}

// Addr returns the TCP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// WSAddr returns the WebSocket gateway listen address.
func (c *Config) WSAddr() string {
	return fmt.Sprintf(":%d", c.WSPort)
}

// TLSEnabled reports whether both listeners should serve TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBoolValue(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

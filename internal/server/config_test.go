package server

import (
	"testing"
	"time"
)

// TestNewConfigDefaults verifies the out-of-the-box configuration.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.WSPort != 8081 {
		t.Errorf("Expected default websocket port 8081, got %d", cfg.WSPort)
	}
	if cfg.MaxClients != 100 {
		t.Errorf("Expected default max clients 100, got %d", cfg.MaxClients)
	}
	if cfg.MaxHistory != 1000 {
		t.Errorf("Expected default max history 1000, got %d", cfg.MaxHistory)
	}
	if cfg.IdleTimeout != 300*time.Second {
		t.Errorf("Expected default idle timeout 300s, got %v", cfg.IdleTimeout)
	}
	if cfg.LogPath != "server.log" {
		t.Errorf("Expected default log path server.log, got %q", cfg.LogPath)
	}
	if !cfg.RequireAuth {
		t.Error("Authentication should be required by default")
	}
	if cfg.TLSEnabled() {
		t.Error("TLS should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

// TestNewConfigFromEnv verifies environment overrides and fallbacks for
// unparseable values.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("WS_PORT", "9001")
	t.Setenv("MAX_CLIENTS", "25")
	t.Setenv("CLIENT_TIMEOUT", "60")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PATH", "/tmp/relay.log")
	t.Setenv("REQUIRE_AUTH", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, https://admin.example.com")
	t.Setenv("THROTTLE_BURST", "not-a-number")

	cfg := NewConfigFromEnv()

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if cfg.WSPort != 9001 {
		t.Errorf("Expected websocket port 9001, got %d", cfg.WSPort)
	}
	if cfg.MaxClients != 25 {
		t.Errorf("Expected max clients 25, got %d", cfg.MaxClients)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("Expected idle timeout 60s, got %v", cfg.IdleTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %q", cfg.LogLevel)
	}
	if cfg.LogPath != "/tmp/relay.log" {
		t.Errorf("Expected log path /tmp/relay.log, got %q", cfg.LogPath)
	}
	if cfg.RequireAuth {
		t.Error("REQUIRE_AUTH=false should disable the auth gate")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.Throttle.Burst != 20 {
		t.Errorf("Unparseable burst should keep the default, got %d", cfg.Throttle.Burst)
	}
}

// TestWSPortZeroDisablesGateway verifies WS_PORT=0 turns the gateway off.
func TestWSPortZeroDisablesGateway(t *testing.T) {
	t.Setenv("WS_PORT", "0")

	cfg := NewConfigFromEnv()
	if cfg.WSPort != 0 {
		t.Errorf("Expected websocket port 0, got %d", cfg.WSPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Disabled gateway should validate, got %v", err)
	}
}

// TestConfigValidate covers the rejection cases.
func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"port collision", func(c *Config) { c.WSPort = c.Port }},
		{"zero max clients", func(c *Config) { c.MaxClients = 0 }},
		{"tls cert without key", func(c *Config) { c.TLSCert = "cert.pem" }},
		{"tls key without cert", func(c *Config) { c.TLSKey = "key.pem" }},
	}

	for _, tc := range cases {
		cfg := NewConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

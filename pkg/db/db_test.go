package db

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Port)
	}
	if cfg.Database != "mediaref" {
		t.Errorf("expected database 'mediaref', got '%s'", cfg.Database)
	}
	if cfg.MaxConns < cfg.MinConns {
		t.Errorf("max conns %d below min conns %d", cfg.MaxConns, cfg.MinConns)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "db.internal"
	cfg.Port = 6543
	cfg.User = "resolver"
	cfg.Password = "p@ss:w/rd"
	cfg.Database = "media"
	cfg.SSLMode = "require"
	cfg.ConnectTimeout = 5 * time.Second

	u, err := url.Parse(cfg.ConnectionString())
	if err != nil {
		t.Fatalf("connection string does not parse: %v", err)
	}
	if u.Host != "db.internal:6543" {
		t.Errorf("unexpected host %q", u.Host)
	}
	if u.Path != "/media" {
		t.Errorf("unexpected path %q", u.Path)
	}
	if pw, _ := u.User.Password(); pw != "p@ss:w/rd" {
		t.Errorf("password did not survive escaping: %q", pw)
	}
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Errorf("expected sslmode=require, got %q", got)
	}
	if got := u.Query().Get("connect_timeout"); got != "5" {
		t.Errorf("expected connect_timeout=5, got %q", got)
	}
}

func TestConnectionString_NoPassword(t *testing.T) {
	cfg := DefaultConfig()
	if strings.Contains(cfg.ConnectionString(), "mediaref:@") {
		t.Errorf("empty password should not be rendered: %s", cfg.ConnectionString())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"missing database", func(c *Config) { c.Database = "" }},
		{"missing user", func(c *Config) { c.User = "" }},
		{"min above max", func(c *Config) { c.MinConns = 20; c.MaxConns = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConnect_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	if _, err := Connect(context.Background(), cfg); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestConnectWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	cfg.Host = ""
	if _, err := ConnectWithRetry(ctx, cfg, 3, time.Millisecond); err == nil {
		t.Error("expected error")
	}
}

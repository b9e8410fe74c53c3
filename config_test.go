package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal("Expectation: no error, Received:", err)
	}
	if cfg.Addr != defaultAddr {
		t.Fatal("Expectation:", defaultAddr, "Received:", cfg.Addr)
	}
	if cfg.AuthEndpoint != defaultAuthEndpoint {
		t.Fatal("Expectation:", defaultAuthEndpoint, "Received:", cfg.AuthEndpoint)
	}
	if len(cfg.PrivatePatterns) != 2 || cfg.PrivatePatterns[0] != "private-*" {
		t.Fatal("Expectation: default private patterns, Received:", cfg.PrivatePatterns)
	}
	if cfg.IdentityKey != "user_id" || cfg.Database != "memory" {
		t.Fatal("Expectation: user_id/memory, Received:", cfg.IdentityKey, cfg.Database)
	}
	if cfg.authTimeout() != defaultAuthTimeout {
		t.Fatal("Expectation:", defaultAuthTimeout, "Received:", cfg.authTimeout())
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echohub.yml")
	data := `
addr: ":7001"
app_key: secret
auth_hosts:
  - http://app.test
auth_timeout: 2s
private_channels:
  - secret-*
database: redis
redis:
  addr: 10.0.0.1:6379
  publish_presence: true
subscribers:
  nats:
    enabled: true
    subject: app.events
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal("Expectation: no error, Received:", err)
	}
	if cfg.Addr != ":7001" || cfg.AppKey != "secret" {
		t.Fatal("Expectation: addr/app_key from file, Received:", cfg.Addr, cfg.AppKey)
	}
	if len(cfg.AuthHosts) != 1 || cfg.AuthHosts[0] != "http://app.test" {
		t.Fatal("Expectation: configured auth host, Received:", cfg.AuthHosts)
	}
	if cfg.authTimeout() != 2*time.Second {
		t.Fatal("Expectation: 2s, Received:", cfg.authTimeout())
	}
	if len(cfg.PrivatePatterns) != 1 || cfg.PrivatePatterns[0] != "secret-*" {
		t.Fatal("Expectation: [secret-*], Received:", cfg.PrivatePatterns)
	}
	if cfg.Database != "redis" || cfg.Redis.Addr != "10.0.0.1:6379" || !cfg.Redis.PublishPresence {
		t.Fatal("Expectation: redis settings from file, Received:", cfg.Database, cfg.Redis)
	}
	if !cfg.Subscribers.Nats.Enabled || cfg.Subscribers.Nats.Subject != "app.events" {
		t.Fatal("Expectation: nats subscriber enabled, Received:", cfg.Subscribers.Nats)
	}
	// Untouched sections still get defaults.
	if cfg.ClientEvents[0] != "client-*" || cfg.Subscribers.Kafka.GroupID != "echohub" {
		t.Fatal("Expectation: defaults for untouched sections, Received:", cfg.ClientEvents, cfg.Subscribers.Kafka.GroupID)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig("/nonexistent/echohub.yml"); err == nil {
		t.Fatal("Expectation: error for missing file, Received: nil")
	}

	path := filepath.Join(t.TempDir(), "bad.yml")
	os.WriteFile(path, []byte("addr: [unclosed"), 0o600)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("Expectation: error for bad yaml, Received: nil")
	}
}

func TestAuthTimeoutFallsBackOnGarbage(t *testing.T) {
	cfg := &config{AuthTimeout: "soon"}
	if cfg.authTimeout() != defaultAuthTimeout {
		t.Fatal("Expectation: default timeout, Received:", cfg.authTimeout())
	}
	cfg.AuthTimeout = "-1s"
	if cfg.authTimeout() != defaultAuthTimeout {
		t.Fatal("Expectation: default timeout, Received:", cfg.authTimeout())
	}
}

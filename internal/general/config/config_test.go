package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
relay:
  port: 9090
channel:
  url: ws://tracker.example.com/ws
  heartbeat_interval: 15s
broadcast:
  interval: 5s
trip:
  arrival_threshold_meters: 100
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Relay.Port != 9090 {
		t.Errorf("relay port = %d, want 9090", cfg.Relay.Port)
	}
	if cfg.Channel.URL != "ws://tracker.example.com/ws" {
		t.Errorf("channel url = %q", cfg.Channel.URL)
	}
	if cfg.Channel.HeartbeatInterval.Std() != 15*time.Second {
		t.Errorf("heartbeat = %v, want 15s", cfg.Channel.HeartbeatInterval.Std())
	}
	if cfg.Broadcast.Interval.Std() != 5*time.Second {
		t.Errorf("broadcast interval = %v, want 5s", cfg.Broadcast.Interval.Std())
	}
	if cfg.Trip.ArrivalThresholdMeters != 100 {
		t.Errorf("arrival threshold = %f, want 100", cfg.Trip.ArrivalThresholdMeters)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "relay:\n  port: 8081\n"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Channel.ReconnectBase.Std() != 2*time.Second {
		t.Errorf("reconnect base = %v, want 2s", cfg.Channel.ReconnectBase.Std())
	}
	if cfg.Channel.ReconnectCap.Std() != 30*time.Second {
		t.Errorf("reconnect cap = %v, want 30s", cfg.Channel.ReconnectCap.Std())
	}
	if cfg.Channel.MaxReconnectAttempts != 10 {
		t.Errorf("max attempts = %d, want 10", cfg.Channel.MaxReconnectAttempts)
	}
	if cfg.Routing.RequestTimeout.Std() != 8*time.Second {
		t.Errorf("request timeout = %v, want 8s", cfg.Routing.RequestTimeout.Std())
	}
	if cfg.Routing.GeocodeTTL.Std() != 24*time.Hour {
		t.Errorf("geocode ttl = %v, want 24h", cfg.Routing.GeocodeTTL.Std())
	}
	if cfg.Trip.ArrivalThresholdMeters != 120 {
		t.Errorf("arrival threshold = %f, want 120", cfg.Trip.ArrivalThresholdMeters)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "relay:\n  port: 70000\n"))
	if err == nil {
		t.Error("expected validation error for out-of-range port")
	}

	_, err = LoadFromFile(writeConfig(t, "channel:\n  heartbeat_interval: soon\n"))
	if err == nil {
		t.Error("expected parse error for bad duration")
	}
}

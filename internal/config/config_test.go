package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("BORROWD_TEST_SET", "from-env")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "${BORROWD_TEST_SET}", "from-env"},
		{"set ignores default", "${BORROWD_TEST_SET:fallback}", "from-env"},
		{"unset with default", "${BORROWD_TEST_UNSET:fallback}", "fallback"},
		{"unset without default", "${BORROWD_TEST_UNSET}", ""},
		{"embedded", "url: http://${BORROWD_TEST_UNSET:localhost}:8080", "url: http://localhost:8080"},
		{"plain", "no variables", "no variables"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
portal:
  url: http://portal.test
  session: abc
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Portal.CookieName != "JSESSIONID" {
		t.Errorf("cookie name = %q", cfg.Portal.CookieName)
	}
	if cfg.Portal.Timeout.Duration() != 10*time.Second {
		t.Errorf("portal timeout = %v", cfg.Portal.Timeout.Duration())
	}
	if cfg.Refresh.Interval != 0 {
		t.Errorf("periodic refresh should be off by default, got %v", cfg.Refresh.Interval.Duration())
	}
	if cfg.Refresh.Kind != "KEY" {
		t.Errorf("refresh kind = %q", cfg.Refresh.Kind)
	}
	if cfg.Ledger.GetRetention() != 30*24*time.Hour {
		t.Errorf("retention = %v", cfg.Ledger.GetRetention())
	}
	if cfg.API.Host != "127.0.0.1" || cfg.API.Port != 8080 {
		t.Errorf("api addr = %s:%d", cfg.API.Host, cfg.API.Port)
	}
	if cfg.GetShutdownTimeout() != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.GetShutdownTimeout())
	}
	if cfg.EventBus.GetWorkers() != 4 || cfg.EventBus.GetQueueSize() != 100 {
		t.Errorf("eventbus = %d/%d", cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	}
	if cfg.Log.GetLevel() != "info" {
		t.Errorf("log level = %q", cfg.Log.GetLevel())
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("BORROWD_TEST_SESSION", "cookie-value")

	cfg, err := Parse([]byte(`
portal:
  url: http://portal.test
  session: ${BORROWD_TEST_SESSION}
  breaker:
    consecutive_failures: 2
    timeout: 1m
refresh:
  interval: 30s
  kind: bicycle
  location: North
log:
  level: DEBUG
notify:
  mqtt:
    enabled: true
    broker: tcp://broker:1883
    qos: 1
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Portal.Session != "cookie-value" {
		t.Errorf("session = %q", cfg.Portal.Session)
	}
	if cfg.Portal.Breaker.ConsecutiveFailures != 2 || cfg.Portal.Breaker.Timeout.Duration() != time.Minute {
		t.Errorf("breaker = %+v", cfg.Portal.Breaker)
	}
	if cfg.Refresh.Interval.Duration() != 30*time.Second || cfg.Refresh.Kind != "bicycle" {
		t.Errorf("refresh = %+v", cfg.Refresh)
	}
	if cfg.Log.GetLevel() != "debug" {
		t.Errorf("log level = %q", cfg.Log.GetLevel())
	}
	if cfg.Notify.MQTT.ClientID != "borrowd" {
		t.Errorf("mqtt client id = %q", cfg.Notify.MQTT.ClientID)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing url", "portal:\n  session: abc\n"},
		{"missing session", "portal:\n  url: http://portal.test\n"},
		{"bad duration", "portal:\n  url: http://portal.test\n  session: abc\n  timeout: soon\n"},
		{"mqtt without broker", "portal:\n  url: http://portal.test\n  session: abc\nnotify:\n  mqtt:\n    enabled: true\n"},
		{"redis without addr", "portal:\n  url: http://portal.test\n  session: abc\nnotify:\n  redis:\n    enabled: true\n"},
		{"amqp without url", "portal:\n  url: http://portal.test\n  session: abc\nnotify:\n  amqp:\n    enabled: true\n"},
		{"bad qos", "portal:\n  url: http://portal.test\n  session: abc\nnotify:\n  mqtt:\n    enabled: true\n    broker: tcp://b:1883\n    qos: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("portal:\n  url: http://portal.test\n  session: abc\ndatabase:\n  path: /tmp/x.sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/x.sqlite" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(envConfigPath, "")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxReconnectAttempts != 5 || cfg.ReconnectDelay != 3*time.Second || cfg.FallbackPollInterval != 5*time.Second {
		t.Fatalf("unexpected acquisition defaults %+v", cfg)
	}
	if cfg.MaxBufferPoints != 50 || cfg.HistoryDays != 1 || cfg.ListenPort != 8086 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.StatusWSURL != "ws://localhost:5001/" {
		t.Fatalf("unexpected derived ws url %q", cfg.StatusWSURL)
	}
	if cfg.Events.RapidSlots != 5000 || cfg.Events.NearCompleteDistance != 100 {
		t.Fatalf("unexpected rules %+v", cfg.Events)
	}
	if !cfg.LogColors {
		t.Fatal("log colors should default on")
	}
}

func TestLoadConfigLayering(t *testing.T) {
	path := writeFile(t, `
status_api_url: https://status.example.org
max_reconnect_attempts: 2
reconnect_delay: 1s
max_buffer_points: 100
events:
  rapid_slots: 8000
  rapid_window: 30m
  stall_window: 10m
  regression_slots: -500
  near_complete_distance: 32
`)
	t.Setenv(envConfigPath, path)
	t.Setenv("MAX_BUFFER_POINTS", "75")
	t.Setenv("RECONNECT_DELAY", "2s")
	t.Setenv("LOG_COLORS", "true")

	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"--reconnect-delay=4s", "--network=EPHEMERY-2", "--no-color"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadConfig(flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxReconnectAttempts != 2 {
		t.Fatalf("file value lost: %d", cfg.MaxReconnectAttempts)
	}
	if cfg.MaxBufferPoints != 75 {
		t.Fatalf("env should override file, got %d", cfg.MaxBufferPoints)
	}
	if cfg.ReconnectDelay != 4*time.Second {
		t.Fatalf("flag should override env, got %v", cfg.ReconnectDelay)
	}
	if cfg.ListenPort != 8086 {
		t.Fatalf("unset flag must not override, got %d", cfg.ListenPort)
	}
	if cfg.LogColors {
		t.Fatal("--no-color should override LOG_COLORS")
	}
	if cfg.Network != "ephemery-2" {
		t.Fatalf("unexpected network %q", cfg.Network)
	}
	if cfg.StatusWSURL != "wss://status.example.org:5001/" {
		t.Fatalf("unexpected derived ws url %q", cfg.StatusWSURL)
	}
	if cfg.Events.StallWindow != 10*time.Minute || cfg.Events.NearCompleteDistance != 32 {
		t.Fatalf("unexpected rules %+v", cfg.Events)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{
			name: "unknown field",
			file: "status_url: http://x\n",
			want: "failed to parse config file",
		},
		{
			name: "bad env duration",
			env:  map[string]string{"FALLBACK_POLL_INTERVAL": "soon"},
			want: "FALLBACK_POLL_INTERVAL",
		},
		{
			name: "non-positive limit",
			file: "max_buffer_points: 0\n",
			want: "max_buffer_points must be positive",
		},
		{
			name: "otlp without endpoint",
			env:  map[string]string{"ENABLE_OTLP": "true", "ALIAS": "node-1"},
			want: "otlp_endpoint is required",
		},
		{
			name: "bad scheme",
			env:  map[string]string{"STATUS_API_URL": "ftp://host"},
			want: "scheme must be http or https",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			t.Setenv(envConfigPath, path)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAllowsZeroAttempts(t *testing.T) {
	cfg := Default()
	cfg.MaxReconnectAttempts = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero attempts should be valid: %v", err)
	}
	cfg.MaxReconnectAttempts = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative attempts should be rejected")
	}
}

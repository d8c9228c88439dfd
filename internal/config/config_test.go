package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/interp"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.TickRate != DefaultTickRate {
		t.Errorf("Server.TickRate = %d, want %d", cfg.Server.TickRate, DefaultTickRate)
	}
	if cfg.Server.DSCP != DefaultDSCP {
		t.Errorf("Server.DSCP = %d, want %d", cfg.Server.DSCP, DefaultDSCP)
	}
	if cfg.Channel.Timeout != "30s" {
		t.Errorf("Channel.Timeout = %q, want %q", cfg.Channel.Timeout, "30s")
	}
	if cfg.Queue.Capacity != 256 || cfg.Queue.DrainPerTick != 64 {
		t.Errorf("Queue = %+v, want capacity 256, drain 64", cfg.Queue)
	}
	if cfg.Compression.MinSize != 100 || cfg.Compression.ThresholdPercent != 20 || cfg.Compression.MaxDecompress != 65536 {
		t.Errorf("Compression = %+v", cfg.Compression)
	}
	if !cfg.Prediction.Enabled || cfg.Prediction.ErrorSmoothMs != 150 {
		t.Errorf("Prediction = %+v", cfg.Prediction)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	// Test loading non-existent config
	_, err := Load(tmpDir)
	if !errors.HasCode(err, "E082") {
		t.Errorf("Load(empty dir) error = %v, want E082", err)
	}

	configJSON := `{
  "server": {
    "port": 28000,
    "tickRate": 20,
    "dscp": 0
  },
  "channel": {
    "timeout": "10s",
    "duplicates": 2
  },
  "interp": {
    "mode": "cubic"
  },
  "prediction": {
    "enabled": false
  },
  "master": {
    "urls": ["http://master.example/heartbeat"]
  }
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != 28000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 28000)
	}
	if cfg.Server.DSCP != 0 {
		t.Errorf("Server.DSCP = %d, want 0", cfg.Server.DSCP)
	}
	if cfg.Server.MaxClients != DefaultMaxClients {
		t.Errorf("Server.MaxClients = %d, want default %d", cfg.Server.MaxClients, DefaultMaxClients)
	}
	if cfg.TickInterval() != 50*time.Millisecond {
		t.Errorf("TickInterval() = %v, want 50ms", cfg.TickInterval())
	}
	if cfg.ChannelTimeout() != 10*time.Second {
		t.Errorf("ChannelTimeout() = %v, want 10s", cfg.ChannelTimeout())
	}
	if cfg.InterpMode() != interp.ModeCubic {
		t.Errorf("InterpMode() = %v, want cubic", cfg.InterpMode())
	}
	if cfg.Prediction.Enabled {
		t.Error("Prediction.Enabled should be false")
	}
	if len(cfg.Master.URLs) != 1 || cfg.MasterInterval() != 300*time.Second {
		t.Errorf("Master = %+v", cfg.Master)
	}
	if cfg.Path() != filepath.Join(tmpDir, ConfigFileName) {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configYAML := `server:
  port: 27915
  maxClients: 16
interp:
  smoothing: 0.25
demo:
  compress: true
  bucket: demos
`
	if err := os.WriteFile(filepath.Join(tmpDir, "netsync.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 27915 || cfg.Server.MaxClients != 16 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Interp.Smoothing != 0.25 {
		t.Errorf("Interp.Smoothing = %v, want 0.25", cfg.Interp.Smoothing)
	}
	if !cfg.Demo.Compress || cfg.Demo.Bucket != "demos" {
		t.Errorf("Demo = %+v", cfg.Demo)
	}
	if cfg.Server.TickRate != DefaultTickRate {
		t.Errorf("Server.TickRate = %d, want default", cfg.Server.TickRate)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		code    string
		subject string
	}{
		{"invalid json", ConfigFileName, "not valid json", "E080", ""},
		{"unknown yaml key", "netsync.yml", "server:\n  bogus: 1\n", "E080", ""},
		{"tick rate", ConfigFileName, `{"server": {"tickRate": 5000}}`, "E081", "server.tickRate"},
		{"duplicates", ConfigFileName, `{"channel": {"duplicates": 3}}`, "E081", "channel.duplicates"},
		{"timeout", ConfigFileName, `{"channel": {"timeout": "soon"}}`, "E081", "channel.timeout"},
		{"queue", ConfigFileName, `{"queue": {"capacity": 10000}}`, "E081", "queue.capacity"},
		{"buffer order", ConfigFileName, `{"interp": {"minBufferMs": 300, "maxBufferMs": 100}}`, "E081", "interp.maxBufferMs"},
		{"mode", ConfigFileName, `{"interp": {"mode": "hermite"}}`, "E081", "interp.mode"},
		{"smoothing", ConfigFileName, `{"interp": {"smoothing": 1.5}}`, "E081", "interp.smoothing"},
		{"log level", ConfigFileName, `{"log": {"level": "loud"}}`, "E081", "log.level"},
		{"dscp", ConfigFileName, `{"server": {"dscp": 64}}`, "E081", "server.dscp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := LoadFile(path)
			if !errors.HasCode(err, tt.code) {
				t.Fatalf("LoadFile() error = %v, want %s", err, tt.code)
			}
			if tt.subject != "" && !strings.Contains(err.Error(), tt.subject) {
				t.Errorf("LoadFile() error = %v, want subject %s", err, tt.subject)
			}
		})
	}
}

func TestSave(t *testing.T) {
	for _, name := range []string{ConfigFileName, "netsync.yaml"} {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), name)

			cfg := New()
			cfg.Server.Port = 29000
			cfg.Master.URLs = []string{"http://a", "http://b"}

			// Save should fail without configPath set
			if err := cfg.Save(); err == nil {
				t.Error("Expected error when saving without path")
			}

			if err := cfg.SaveTo(configPath); err != nil {
				t.Fatalf("SaveTo error: %v", err)
			}

			loaded, err := LoadFile(configPath)
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if loaded.Server.Port != 29000 {
				t.Errorf("Server.Port = %d, want %d", loaded.Server.Port, 29000)
			}
			if len(loaded.Master.URLs) != 2 {
				t.Errorf("Master.URLs = %v, want 2 entries", loaded.Master.URLs)
			}

			// Now Save should work
			loaded.Server.Port = 29001
			if err := loaded.Save(); err != nil {
				t.Fatalf("Save error: %v", err)
			}
			reloaded, err := LoadFile(configPath)
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if reloaded.Server.Port != 29001 {
				t.Errorf("Server.Port = %d, want %d", reloaded.Server.Port, 29001)
			}
		})
	}
}

func TestSaveToMissingDir(t *testing.T) {
	err := New().SaveTo(filepath.Join(t.TempDir(), "missing", ConfigFileName))
	if !errors.HasCode(err, "E083") {
		t.Errorf("SaveTo() error = %v, want E083", err)
	}
}

func TestDerivedSettings(t *testing.T) {
	cfg := New()
	cfg.Server.Host = "0.0.0.0"
	cfg.Channel.Duplicates = 1
	cfg.Compression.ThresholdPercent = 30
	cfg.Interp.MinBufferMs = 40
	cfg.Interp.MaxBufferMs = 120

	if got := cfg.ServerAddress(); got != "0.0.0.0:27910" {
		t.Errorf("ServerAddress() = %q, want %q", got, "0.0.0.0:27910")
	}

	nc := cfg.NetchanConfig(slog.Default())
	if nc.Timeout != 30*time.Second || nc.Duplicates != 1 || nc.MaxFragment != 1280 {
		t.Errorf("NetchanConfig() = %+v", nc)
	}

	if opts := cfg.CompressOptions(); opts.ThresholdPercent != 30 || opts.MinSize != 100 {
		t.Errorf("CompressOptions() = %+v", opts)
	}

	w := cfg.WindowConfig()
	if w.Min != 40*time.Millisecond || w.Max != 120*time.Millisecond {
		t.Errorf("WindowConfig() bounds = %v..%v", w.Min, w.Max)
	}
	if w.Expected != 100*time.Millisecond || w.Initial != 100*time.Millisecond {
		t.Errorf("WindowConfig() expected = %v, initial = %v", w.Expected, w.Initial)
	}
	if w.AvgWeight != 2 || w.MaxWeight != 0.5 {
		t.Errorf("WindowConfig() weights = %v, %v, want 2, 0.5", w.AvgWeight, w.MaxWeight)
	}
	cfg.Interp.JitterAvgWeight = 1
	if w = cfg.WindowConfig(); w.AvgWeight != 1 || w.MaxWeight != 0 {
		t.Errorf("WindowConfig() weights = %v, %v, want 1, 0", w.AvgWeight, w.MaxWeight)
	}

	if cfg.ErrorDecay() != 150*time.Millisecond || cfg.ExtrapolateMax() != 50*time.Millisecond {
		t.Errorf("ErrorDecay() = %v, ExtrapolateMax() = %v", cfg.ErrorDecay(), cfg.ExtrapolateMax())
	}
}

func TestDemoDir(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := New()
	if got := cfg.DemoDir(); got != "demos" {
		t.Errorf("DemoDir() unsaved = %q, want demos", got)
	}

	cfg.SaveTo(filepath.Join(tmpDir, ConfigFileName))
	if got := cfg.DemoDir(); got != filepath.Join(tmpDir, "demos") {
		t.Errorf("DemoDir() = %q, want %q", got, filepath.Join(tmpDir, "demos"))
	}

	cfg.Demo.Dir = "/var/demos"
	if got := cfg.DemoDir(); got != "/var/demos" {
		t.Errorf("DemoDir() absolute = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"trace", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFindConfigDir(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := FindConfigDir(nested); !errors.HasCode(err, "E082") {
		t.Errorf("FindConfigDir() without config error = %v, want E082", err)
	}

	New().SaveTo(filepath.Join(root, "netsync.yml"))
	if !Exists(root) {
		t.Error("Exists() = false after SaveTo")
	}
	got, err := FindConfigDir(nested)
	if err != nil {
		t.Fatalf("FindConfigDir() error = %v", err)
	}
	if got != root {
		t.Errorf("FindConfigDir() = %q, want %q", got, root)
	}
}

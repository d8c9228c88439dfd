package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/vango-dev/netsync/internal/config"
	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/demo"
)

func TestZapLevel(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want zapcore.Level
	}{
		{slog.LevelDebug, zapcore.Level(-4)},
		{slog.LevelInfo, zapcore.InfoLevel},
		{slog.LevelWarn, zapcore.InfoLevel},
		{slog.LevelError, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		if got := zapLevel(tt.in); got != tt.want {
			t.Errorf("zapLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, _, err := newLogger(&globals{logLevel: "loud"}, config.New())
	if !neterrors.HasCode(err, "E120") {
		t.Errorf("newLogger error = %v, want E120", err)
	}
}

func TestReportErrorFormats(t *testing.T) {
	bind := neterrors.New("E060").WithSubject("0.0.0.0:27910")
	plain := errors.New("unknown flag: --bogus")

	var out bytes.Buffer
	reportError(&out, bind, "compact")
	if got, want := out.String(), "0.0.0.0:27910: E060: Could not bind game socket\n"; got != want {
		t.Errorf("compact = %q, want %q", got, want)
	}

	out.Reset()
	reportError(&out, plain, "compact")
	if got, want := out.String(), "unknown flag: --bogus\n"; got != want {
		t.Errorf("compact plain = %q, want %q", got, want)
	}

	for _, err := range []error{bind, plain} {
		out.Reset()
		reportError(&out, err, "json")
		var doc map[string]string
		if jerr := json.Unmarshal(out.Bytes(), &doc); jerr != nil {
			t.Fatalf("json output %q: %v", out.String(), jerr)
		}
		if doc["message"] == "" {
			t.Errorf("json output %q has no message", out.String())
		}
	}
	if doc := out.String(); strings.Contains(doc, "code") {
		t.Errorf("json plain = %q, want no code", doc)
	}

	out.Reset()
	reportError(&out, bind, "pretty")
	if !strings.Contains(out.String(), "E060") || strings.Count(out.String(), "\n") < 2 {
		t.Errorf("pretty = %q, want multi-line output naming E060", out.String())
	}
}

func TestVersionShort(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version --short = %q, want %q", got, version)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := loadConfig(&globals{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != config.DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, config.DefaultPort)
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	cmd := configCmd(&globals{})
	cmd.SetArgs([]string{"init", "--yaml", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	cfg, err := config.LoadFile(filepath.Join(dir, "netsync.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.TickRate != config.DefaultTickRate {
		t.Errorf("TickRate = %d, want %d", cfg.Server.TickRate, config.DefaultTickRate)
	}

	cmd = configCmd(&globals{})
	cmd.SetArgs([]string{"init", dir})
	if err := cmd.Execute(); !neterrors.HasCode(err, "E120") {
		t.Errorf("second init error = %v, want E120", err)
	}
}

func TestDemoInfo(t *testing.T) {
	rec, err := demo.Create(t.TempDir(), demo.Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, msg := range [][]byte{{1, 2, 3}, {4, 5}} {
		if err := rec.Write(msg); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := runDemoInfo(rec.Path()); err != nil {
		t.Errorf("runDemoInfo: %v", err)
	}
	if err := runDemoInfo(filepath.Join(t.TempDir(), "missing.dm2")); !neterrors.HasCode(err, "E100") {
		t.Errorf("runDemoInfo(missing) error = %v, want E100", err)
	}
}

func TestDemoUploadNeedsBucket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsync.json")
	if err := config.New().SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	err := runDemoUpload(context.Background(), &globals{configPath: path}, "x.dm2", uploadOptions{})
	if !neterrors.HasCode(err, "E121") {
		t.Errorf("upload error = %v, want E121", err)
	}
}

func TestBotCommandTurns(t *testing.T) {
	b := &bot{turnRate: 90}
	start := time.Unix(100, 0)
	b.last = start
	cmd := b.command(start.Add(500 * time.Millisecond))
	if cmd.Msec != 250 {
		t.Errorf("Msec = %d, want 250", cmd.Msec)
	}
	if b.yaw != 45 {
		t.Errorf("yaw = %v, want 45", b.yaw)
	}
	if cmd.Forward != 200 {
		t.Errorf("Forward = %d, want 200", cmd.Forward)
	}
}

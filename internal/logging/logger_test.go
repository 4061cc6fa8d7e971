package logging

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitializeSilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	if err := Initialize(""); err != nil {
		t.Fatal(err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected a no-op logger")
	}
}

func TestLogRequestFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogRequest("c1", "GET", "/users/7", 200, 3*time.Millisecond)
	LogRawBytes("parse error input", []byte("GET /\x00"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["conn_id"] != "c1" || fields["path"] != "/users/7" || fields["status"] != int64(200) {
		t.Errorf("request fields = %v", fields)
	}
	if got := entries[1].ContextMap()["ascii"]; got != "GET /." {
		t.Errorf("ascii dump = %q", got)
	}
}

func TestSetLevel(t *testing.T) {
	if err := SetLevel("warn"); err != nil {
		t.Fatal(err)
	}
	if Level() != "warn" {
		t.Errorf("Level = %q", Level())
	}
	if err := SetLevel("nope"); err == nil {
		t.Error("expected error for unknown level")
	}
	_ = SetLevel("info")
}

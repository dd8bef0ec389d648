package util

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewZapConfig(t *testing.T) {
	prod := newZapConfig("production", "info", "json")
	if prod.Encoding != "json" || prod.Sampling == nil || !prod.DisableStacktrace {
		t.Fatalf("unexpected production config: %+v", prod)
	}
	if prod.InitialFields["service"] != serviceName {
		t.Fatalf("service field missing")
	}

	dev := newZapConfig("development", "debug", "console")
	if dev.Encoding != "console" || dev.Level.Level() != zapcore.DebugLevel {
		t.Fatalf("unexpected development config: %+v", dev)
	}
}

func TestMasked(t *testing.T) {
	f := Masked("phone", "(555) 123-4567")
	if f.String != "******4567" {
		t.Fatalf("Masked = %q", f.String)
	}
}

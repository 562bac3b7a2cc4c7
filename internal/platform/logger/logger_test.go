package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log := New("", "")
	if log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug disabled at the default info level")
	}
	if !log.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info enabled at the default level")
	}
}

func TestNewHonorsDebugLevel(t *testing.T) {
	log := New("debug", "json")
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug enabled when level=debug")
	}
}

func TestNewHonorsWarnAndErrorLevels(t *testing.T) {
	warnLog := New("warn", "json")
	if warnLog.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info disabled at warn level")
	}
	errLog := New("error", "text")
	if errLog.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("expected warn disabled at error level")
	}
}

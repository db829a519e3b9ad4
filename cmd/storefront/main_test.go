package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		log.SetLevel(log.InfoLevel)
	})

	if warning := setupLogger(lookupFrom(nil)); warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level by default, got %s", log.GetLevel())
	}
	if _, ok := log.StandardLogger().Formatter.(*log.TextFormatter); !ok {
		t.Fatal("expected text formatter by default")
	}

	warning := setupLogger(lookupFrom(map[string]string{envLogFormat: "JSON", envLogLevel: "debug"}))
	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
		t.Fatal("expected json formatter")
	}

	if warning := setupLogger(lookupFrom(map[string]string{envLogLevel: "loud"})); warning == "" {
		t.Fatal("expected warning for unknown level")
	}
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("unknown level should keep info, got %s", log.GetLevel())
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

func envFrom(values map[string]string) app.EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand([]string{"-direction", " DOWN "}, envFrom(map[string]string{
		app.EnvPostgresDSN: " postgres://localhost/storefront ",
	}))
	if err != nil {
		t.Fatalf("parseCommand: %v", err)
	}
	if cmd.direction != "down" || cmd.steps != 1 {
		t.Fatalf("down should default to one step, got %+v", cmd)
	}
	if cmd.dsn != "postgres://localhost/storefront" {
		t.Fatalf("unexpected dsn: %q", cmd.dsn)
	}

	cmd, err = parseCommand([]string{"-dsn", "postgres://flag"}, envFrom(map[string]string{
		app.EnvPostgresDSN: "postgres://env",
	}))
	if err != nil {
		t.Fatalf("parseCommand: %v", err)
	}
	if cmd.direction != "up" || cmd.steps != 0 || cmd.dsn != "postgres://flag" {
		t.Fatalf("flag should win over env, got %+v", cmd)
	}
}

func TestParseCommand_Invalid(t *testing.T) {
	tests := map[string][]string{
		"missing dsn":   {"-direction=status"},
		"bad direction": {"-direction=sideways", "-dsn=postgres://x"},
		"bad steps":     {"-steps=-2", "-dsn=postgres://x"},
		"unknown flag":  {"-force"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseCommand(args, envFrom(nil))
			if !errors.Is(err, errUsage) {
				t.Fatalf("expected usage error, got %v", err)
			}
		})
	}
}

func TestPrintState(t *testing.T) {
	var out bytes.Buffer
	printState(&out, "status", postgres.MigrationState{Version: 3, Applied: 3, Available: 5})

	want := "status ok: version=3 applied=3 available=5 pending=2\n"
	if out.String() != want {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRun_PostgresLifecycle(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_TEST_POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, direction := range []string{"up", "down", "up", "status"} {
		var out bytes.Buffer
		cmd := command{direction: direction, dsn: dsn}
		if direction == "down" {
			cmd.steps = 1
		}
		if err := run(ctx, cmd, &out); err != nil {
			t.Fatalf("%s: %v", direction, err)
		}
		if !strings.HasPrefix(out.String(), direction+" ok:") {
			t.Fatalf("%s: unexpected output %q", direction, out.String())
		}
	}
}

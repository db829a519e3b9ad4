package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

var errUsage = errors.New("usage")

type command struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	_ = godotenv.Load()

	cmd, err := parseCommand(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, cmd, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseCommand(args []string, lookup app.EnvLookup) (command, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cmd command
	fs.StringVar(&cmd.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&cmd.steps, "steps", 0, "migrations to apply or roll back (0 = all for up, 1 for down)")
	fs.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+app.EnvPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return command{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	cmd.direction = strings.ToLower(strings.TrimSpace(cmd.direction))
	switch cmd.direction {
	case "up", "status":
	case "down":
		if cmd.steps <= 0 {
			cmd.steps = 1
		}
	default:
		return command{}, fmt.Errorf("%w: unsupported direction %q (use up|down|status)", errUsage, cmd.direction)
	}
	if cmd.steps < 0 {
		return command{}, fmt.Errorf("%w: steps must be >= 0", errUsage)
	}

	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		if v, ok := lookup(app.EnvPostgresDSN); ok {
			cmd.dsn = strings.TrimSpace(v)
		}
	}
	if cmd.dsn == "" {
		return command{}, fmt.Errorf("%w: %s (or -dsn) is required", errUsage, app.EnvPostgresDSN)
	}
	return cmd, nil
}

func run(ctx context.Context, cmd command, out io.Writer) error {
	store, err := postgres.Open(ctx, cmd.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch cmd.direction {
	case "up":
		if err := store.MigrateUp(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	printState(out, cmd.direction, state)
	return nil
}

func printState(out io.Writer, direction string, state postgres.MigrationState) {
	_, _ = fmt.Fprintf(out, "%s ok: version=%d applied=%d available=%d pending=%d\n",
		direction, state.Version, state.Applied, state.Available, state.Pending())
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

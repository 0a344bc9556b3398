package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"harbor/internal/db"
	"harbor/internal/logging"
	"harbor/migrations"
)

func main() {
	logging.Init("migrate", nil)
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

var getenv = os.Getenv
var newDB = db.NewDB
var apply = migrations.Apply

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", "", "postgres DSN (default $DATABASE_URL)")
	action := fs.String("action", "", "up/down/status/version/redo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*dsn) == "" {
		*dsn = strings.TrimSpace(getenv("DATABASE_URL"))
	}
	if *dsn == "" {
		return errors.New("dsn required")
	}
	switch strings.TrimSpace(*action) {
	case "":
		return errors.New("action required")
	case "up", "down", "status", "version", "redo":
	default:
		return fmt.Errorf("unknown action %q", *action)
	}

	database, err := newDB(*dsn)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := apply(database.Conn(), *action); err != nil {
		return err
	}
	slog.Info("harbor.migrate_done", "action", *action)
	return nil
}

package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Apply runs a goose action against db using the embedded migrations.
// Supported actions: up, down, status, version, redo.
func Apply(db *sql.DB, action string) error {
	if db == nil {
		return errors.New("database required")
	}
	goose.SetBaseFS(EmbeddedFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	switch action {
	case "up":
		return goose.Up(db, ".")
	case "down":
		return goose.Down(db, ".")
	case "status":
		return goose.Status(db, ".")
	case "version":
		_, err := goose.GetDBVersion(db)
		return err
	case "redo":
		return goose.Redo(db, ".")
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

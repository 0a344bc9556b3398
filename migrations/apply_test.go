package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestApplyRequiresDatabase(t *testing.T) {
	if err := Apply(nil, "up"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(EmbeddedFS, "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Fatalf("migrations: %v", names)
	}
	for _, name := range names {
		data, err := EmbeddedFS.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		body := string(data)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s: missing goose annotations", name)
		}
	}
}

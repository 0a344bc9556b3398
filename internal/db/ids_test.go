package db

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIDPrefix(t *testing.T) {
	id := newID("trg")
	if !strings.HasPrefix(id, "trg_") {
		t.Fatalf("id: %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "trg_")); err != nil {
		t.Fatalf("expected uuid suffix: %v", err)
	}
	if newID("trg") == id {
		t.Fatalf("ids should be unique")
	}
}

package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

var marshalJSON = json.Marshal

// WriteJSON encodes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("harbor.write_json_failed", "error", err)
	}
}

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/riverside", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("got status %d, want 202", rec.Code)
	}
}

func TestHandler(t *testing.T) {
	WebhookEventsTotal.WithLabelValues("message_created", "queued").Inc()
	Middleware(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"harbor_http_requests_total", "harbor_webhook_events_total", "harbor_active_widget_sessions"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in output", name)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "/"},
		{"/", "/"},
		{"/health", "/health"},
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/webhook/riverside", "/webhook/{client_id}"},
		{"/widget/riverside/ws", "/widget/{client_id}/ws"},
		{"/widget/riverside/config", "/widget/{client_id}/config"},
		{"/widget", "/widget"},
		{"/random/deep/path", "/random"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.input); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestResponseWriterStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusNotFound)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("got %d, want %d", rw.statusCode, http.StatusNotFound)
	}
	if rw.Unwrap() != rec {
		t.Errorf("unwrap should return the inner writer")
	}
	if _, _, err := rw.Hijack(); err == nil {
		t.Errorf("recorder cannot be hijacked")
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != "ok" || Outcome(errors.New("x")) != "error" {
		t.Fatalf("unexpected outcome labels")
	}
}

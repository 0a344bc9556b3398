package web

import (
	"context"
	"net/http"
	"strings"

	"harbor/internal/metrics"
)

// Version is reported by the root endpoint.
var Version = "0.1.0"

// Pinger is the readiness probe for the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Routes are the handlers mounted by the server. Nil handlers are skipped.
type Routes struct {
	Webhook      http.Handler
	WidgetConfig http.Handler
	WidgetSocket http.Handler
}

type Server struct {
	Mux            *http.ServeMux
	DB             Pinger
	TemporalHealth TemporalHealthFunc
	Goroutines     *GoroutineTracker
	RateLimiter    *RateLimiter
	AllowOrigins   []string
}

func NewServer(database Pinger, routes Routes) *Server {
	s := &Server{
		Mux:          http.NewServeMux(),
		DB:           database,
		AllowOrigins: []string{"*"},
	}
	s.registerRoutes(routes)
	return s
}

// Handler wraps the mux with CORS and request metrics.
func (s *Server) Handler() http.Handler {
	return metrics.Middleware(s.cors(s.Mux))
}

// withRateLimit consults s.RateLimiter per request so it can be set after NewServer.
func (s *Server) withRateLimit(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimiter == nil {
			h.ServeHTTP(w, r)
			return
		}
		RateLimitMiddleware(s.RateLimiter)(h).ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes(routes Routes) {
	s.Mux.HandleFunc("GET /{$}", s.handleRoot)
	s.Mux.HandleFunc("GET /health", s.handleHealth)
	s.Mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.Mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.Mux.Handle("GET /metrics", metrics.Handler())

	if routes.Webhook != nil {
		s.Mux.Handle("POST /webhook/{client_id}", routes.Webhook)
	}
	if routes.WidgetConfig != nil {
		s.Mux.Handle("GET /widget/{client_id}/config", s.withRateLimit(routes.WidgetConfig))
	}
	if routes.WidgetSocket != nil {
		s.Mux.Handle("GET /widget/{client_id}/ws", s.withRateLimit(routes.WidgetSocket))
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"service":     "Harbor",
		"description": "AI web chat agents for Chatwoot",
		"version":     Version,
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowedOrigin(origin); allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Methods", "GET, POST")
			h.Set("Access-Control-Allow-Headers", "*")
			if allowed != "*" {
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, o := range s.AllowOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

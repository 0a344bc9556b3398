// Package widget hosts proactive engagement sessions for the chat widget.
// Each WebSocket connection is one page load with its own trigger evaluator.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"harbor/internal/db"
	"harbor/internal/metrics"
	"harbor/internal/persona"
	"harbor/internal/trigger"
	"harbor/internal/web"
)

const (
	DefaultHelloTimeout = 10 * time.Second
	writeTimeout        = 5 * time.Second
	recordTimeout       = 5 * time.Second
	maxFrameBytes       = 4096
)

type Personas interface {
	Load(clientID string) (*persona.Persona, error)
}

// EventRecorder persists fired triggers. db.DB satisfies it.
type EventRecorder interface {
	RecordTriggerEvent(ctx context.Context, ev db.TriggerEvent) (string, error)
}

type Handler struct {
	Personas     Personas
	Events       EventRecorder
	AllowOrigins []string
	HelloTimeout time.Duration
	Clock        trigger.Clock
	Logger       *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// proactivePersona loads the persona and writes the error response when it
// cannot host a session.
func (h *Handler) proactivePersona(w http.ResponseWriter, r *http.Request) (*persona.Persona, bool) {
	clientID := r.PathValue("client_id")
	p, err := h.Personas.Load(clientID)
	if errors.Is(err, persona.ErrNotFound) {
		web.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown client"})
		return nil, false
	}
	if err != nil {
		h.logger().Error("harbor.widget.persona_failed", "client_id", clientID, "error", err)
		web.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "persona unavailable"})
		return nil, false
	}
	return p, true
}

// ServeConfig returns the trigger configuration for the page script.
func (h *Handler) ServeConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := h.proactivePersona(w, r)
	if !ok {
		return
	}
	if !p.ProactiveTriggers {
		web.WriteJSON(w, http.StatusOK, ConfigResponse{Enabled: false})
		return
	}
	cfg := p.TriggerConfig()
	web.WriteJSON(w, http.StatusOK, ConfigResponse{Enabled: true, Config: &cfg})
}

// ServeSocket runs one engagement session until the page goes away.
func (h *Handler) ServeSocket(w http.ResponseWriter, r *http.Request) {
	p, ok := h.proactivePersona(w, r)
	if !ok {
		return
	}
	if !p.ProactiveTriggers {
		web.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "proactive triggers disabled"})
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(h.AllowOrigins)})
	if err != nil {
		h.logger().Debug("harbor.widget.accept_failed", "client_id", p.ClientID, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	s := &session{
		id:       uuid.NewString(),
		clientID: p.ClientID,
		conn:     conn,
		handler:  h,
		logger:   h.logger().With("client_id", p.ClientID),
	}
	metrics.ActiveWidgetSessions.Inc()
	defer metrics.ActiveWidgetSessions.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	status, reason := s.run(ctx, p)
	_ = conn.Close(status, reason)
}

// originPatterns converts CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "" {
			continue
		}
		if u, err := parseOrigin(o); err == nil {
			out = append(out, u)
		}
	}
	return out
}

type session struct {
	id       string
	clientID string
	pageURL  string
	conn     *websocket.Conn
	handler  *Handler
	logger   *slog.Logger

	ctx     context.Context
	writeMu sync.Mutex
}

func (s *session) run(ctx context.Context, p *persona.Persona) (websocket.StatusCode, string) {
	s.ctx = ctx
	timeout := s.handler.HelloTimeout
	if timeout <= 0 {
		timeout = DefaultHelloTimeout
	}
	helloCtx, cancel := context.WithTimeout(ctx, timeout)
	var hello inbound
	err := wsjson.Read(helloCtx, s.conn, &hello)
	cancel()
	if err != nil {
		s.logger.Debug("harbor.widget.hello_failed", "error", err)
		return websocket.StatusPolicyViolation, "hello required"
	}
	if hello.Type != FrameHello {
		return websocket.StatusPolicyViolation, "hello required"
	}
	s.pageURL = hello.PageURL

	partials := []trigger.Partial{p.Triggers}
	if hello.Config != nil {
		partials = append(partials, *hello.Config)
	}
	cfg := trigger.Merge(partials...)

	signals := trigger.NewSignals()
	opts := []trigger.Option{
		trigger.WithLogger(s.logger),
		trigger.OnFire(s.fired),
	}
	if s.handler.Clock != nil {
		opts = append(opts, trigger.WithClock(s.handler.Clock))
	}
	eval := trigger.New(cfg, s, signals, opts...)
	defer eval.Stop()

	if err := s.write(outbound{Type: FrameReady, SessionID: s.id, Config: &cfg}); err != nil {
		return websocket.StatusInternalError, "write failed"
	}
	s.logger.Info("harbor.widget.session_started", "session_id", s.id, "page_url", s.pageURL)
	eval.Start()

	for {
		var msg inbound
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			s.logger.Info("harbor.widget.session_ended", "session_id", s.id, "fired", eval.Fired(), "status", websocket.CloseStatus(err))
			return websocket.StatusNormalClosure, ""
		}
		switch msg.Type {
		case FrameScroll:
			signals.EmitScroll(trigger.ScrollEvent{ScrollY: msg.ScrollY, ScrollableHeight: msg.ScrollableHeight})
		case FramePointerLeave:
			if msg.ClientY == nil {
				s.logger.Debug("harbor.widget.pointer_leave_without_position", "session_id", s.id)
				continue
			}
			signals.EmitPointerLeave(trigger.PointerLeaveEvent{ClientY: *msg.ClientY})
		default:
			s.logger.Debug("harbor.widget.unknown_frame", "session_id", s.id, "type", msg.Type)
		}
	}
}

func (s *session) write(frame outbound) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, frame)
}

// Open asks the page to open the chat widget.
func (s *session) Open() error {
	return s.write(outbound{Type: FrameOpen})
}

// SetAttribute asks the page to tag the conversation.
func (s *session) SetAttribute(key, value string) error {
	return s.write(outbound{Type: FrameSetAttribute, Key: key, Value: value})
}

func (s *session) fired(sig trigger.Signal) {
	metrics.TriggerFiresTotal.WithLabelValues(string(sig)).Inc()
	s.logger.Info("harbor.widget.trigger_fired", "session_id", s.id, "signal", string(sig))
	if s.handler.Events == nil {
		return
	}
	ev := db.TriggerEvent{
		ClientID:  s.clientID,
		SessionID: s.id,
		Signal:    string(sig),
		PageURL:   s.pageURL,
		FiredAt:   time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), recordTimeout)
		defer cancel()
		if _, err := s.handler.Events.RecordTriggerEvent(ctx, ev); err != nil {
			s.logger.Warn("harbor.widget.record_failed", "session_id", s.id, "error", err)
		}
	}()
}

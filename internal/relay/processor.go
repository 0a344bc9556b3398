package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"harbor/internal/agent"
	"harbor/internal/chatwoot"
	"harbor/internal/config"
	"harbor/internal/escalation"
	"harbor/internal/llm"
	"harbor/internal/metrics"
	"harbor/internal/persona"
)

// Conversation is the slice of the Chatwoot API a job needs.
type Conversation interface {
	SendMessage(ctx context.Context, conversationID int64, content string) (chatwoot.Message, error)
	SendPrivateNote(ctx context.Context, conversationID int64, note string) (chatwoot.Message, error)
	AssignAgent(ctx context.Context, conversationID int64, agentID int) error
	ListMessages(ctx context.Context, conversationID int64) ([]chatwoot.Message, error)
}

type Personas interface {
	Load(clientID string) (*persona.Persona, error)
}

type Responder interface {
	Run(ctx context.Context, p *persona.Persona, history []llm.Message) (agent.Result, error)
}

type Processor struct {
	Personas    Personas
	Agent       Responder
	AdminToken  string
	NewChatwoot func(accountID int, token string) Conversation
	Logger      *slog.Logger
}

func NewProcessor(personas Personas, responder Responder, cfg config.ChatwootConfig) *Processor {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &Processor{
		Personas:   personas,
		Agent:      responder,
		AdminToken: cfg.UserAccessToken,
		NewChatwoot: func(accountID int, token string) Conversation {
			return chatwoot.New(cfg.BaseURL, accountID, token, timeout)
		},
	}
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Handle runs one job and records its outcome.
func (p *Processor) Handle(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return Permanent(err)
	}
	start := time.Now()
	var err error
	switch job.Kind {
	case KindGreeting:
		err = p.SendGreeting(ctx, job)
	default:
		err = p.ProcessMessage(ctx, job)
	}
	metrics.RelayJobDuration.WithLabelValues(job.Kind).Observe(time.Since(start).Seconds())
	metrics.RelayJobsTotal.WithLabelValues(job.Kind, metrics.Outcome(err)).Inc()
	if err != nil {
		p.logger().Error("harbor.job_failed", "kind", job.Kind, "client_id", job.ClientID,
			"conversation_id", job.ConversationID, "error", err, "permanent", IsPermanent(err))
	}
	return err
}

func (p *Processor) persona(clientID string) (*persona.Persona, error) {
	per, err := p.Personas.Load(clientID)
	if err != nil {
		p.logger().Error("harbor.unknown_client", "client_id", clientID, "error", err)
		return nil, Permanent(err)
	}
	return per, nil
}

func (p *Processor) conversation(per *persona.Persona, accountID int) Conversation {
	token := per.BotToken()
	if token == "" {
		token = p.AdminToken
	}
	return p.NewChatwoot(accountID, token)
}

// SendGreeting posts the persona greeting into a new conversation.
func (p *Processor) SendGreeting(ctx context.Context, job Job) error {
	per, err := p.persona(job.ClientID)
	if err != nil {
		return err
	}
	greeting := per.GreetingFor(job.Proactive)
	if strings.TrimSpace(greeting) == "" {
		return nil
	}
	if _, err := p.conversation(per, job.AccountID).SendMessage(ctx, job.ConversationID, greeting); err != nil {
		return err
	}
	p.logger().Info("harbor.greeting_sent", "client_id", job.ClientID,
		"conversation_id", job.ConversationID, "proactive", job.Proactive)
	return nil
}

// ProcessMessage answers a visitor message and escalates when the agent
// asks for a human.
func (p *Processor) ProcessMessage(ctx context.Context, job Job) error {
	per, err := p.persona(job.ClientID)
	if err != nil {
		return err
	}
	cw := p.conversation(per, job.AccountID)

	raw, err := cw.ListMessages(ctx, job.ConversationID)
	if err != nil {
		return err
	}
	history := agent.HistoryToMessages(raw)
	if len(history) == 0 && strings.TrimSpace(job.Content) != "" {
		history = []llm.Message{{Role: llm.RoleUser, Content: job.Content}}
	}

	res, runErr := p.Agent.Run(ctx, per, history)
	reply := res.Response
	if res.Escalate && strings.TrimSpace(reply) == "" {
		reply = escalation.BuildMessage(per, job.ContactName)
	} else if runErr != nil {
		return runErr
	}
	if strings.TrimSpace(reply) == "" {
		p.logger().Warn("harbor.empty_response", "client_id", job.ClientID, "conversation_id", job.ConversationID)
		return nil
	}

	if _, err := cw.SendMessage(ctx, job.ConversationID, reply); err != nil {
		return err
	}

	escalated := res.Escalate && per.HumanEscalation
	if escalated {
		p.handOff(ctx, cw, per, job, len(history))
	}
	p.logger().Info("harbor.message_processed",
		"client_id", job.ClientID,
		"conversation_id", job.ConversationID,
		"escalated", escalated,
	)
	return nil
}

// handOff leaves a note for agents and assigns the conversation. The reply
// has already been sent, so failures here are logged rather than retried.
func (p *Processor) handOff(ctx context.Context, cw Conversation, per *persona.Persona, job Job, exchanged int) {
	metrics.EscalationsTotal.WithLabelValues(per.ClientID).Inc()
	var errs []error
	if _, err := cw.SendPrivateNote(ctx, job.ConversationID, escalation.Note(job.Content, exchanged)); err != nil {
		errs = append(errs, err)
	}
	if per.ChatwootEscalationAgentID > 0 {
		if err := cw.AssignAgent(ctx, job.ConversationID, per.ChatwootEscalationAgentID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger().Error("harbor.escalation_handoff_failed", "client_id", per.ClientID,
			"conversation_id", job.ConversationID, "error", err)
	}
}

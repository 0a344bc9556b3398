// Package agent runs one conversation turn: route, retrieve, respond.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"harbor/internal/escalation"
	"harbor/internal/llm"
	"harbor/internal/metrics"
	"harbor/internal/persona"
)

// Models picks the model route for a persona tier; *llm.Router implements it.
type Models interface {
	For(tier string) *llm.Route
}

// Retriever supplies knowledge-base context for a query.
type Retriever interface {
	Context(ctx context.Context, clientID, query string, maxChars int) (string, error)
}

type Result struct {
	Response    string
	Escalate    bool
	RAGChars    int
	Model       string
	TotalTokens int
}

type Agent struct {
	Models    Models
	Knowledge Retriever
	Logger    *slog.Logger
}

func New(models Models, knowledge Retriever) *Agent {
	return &Agent{Models: models, Knowledge: knowledge}
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Run produces the reply to the latest message in history. An empty history
// yields an empty result.
func (a *Agent) Run(ctx context.Context, p *persona.Persona, history []llm.Message) (Result, error) {
	if p == nil {
		return Result{}, errors.New("persona required")
	}
	if a.Models == nil {
		return Result{}, errors.New("models required")
	}
	if len(history) == 0 {
		return Result{}, nil
	}
	last := history[len(history)-1].Content

	if a.shouldEscalate(p, last) {
		a.logger().Info("harbor.escalation_triggered", "client_id", p.ClientID)
		res, err := a.complete(ctx, p, escalationPrompt(p), history)
		res.Escalate = true
		return res, err
	}

	ragContext := a.retrieve(ctx, p, last)
	res, err := a.complete(ctx, p, responderPrompt(p, ragContext), history)
	res.RAGChars = len(ragContext)
	if err == nil {
		a.logger().Info("harbor.response_generated",
			"client_id", p.ClientID,
			"rag", ragContext != "",
			"model", res.Model,
			"tokens", res.TotalTokens,
		)
	}
	return res, err
}

func (a *Agent) shouldEscalate(p *persona.Persona, last string) bool {
	return p.HumanEscalation && escalation.ShouldEscalate(last, p.EscalationTriggers)
}

func (a *Agent) retrieve(ctx context.Context, p *persona.Persona, query string) string {
	if !p.RAGEnabled || a.Knowledge == nil {
		return ""
	}
	out, err := a.Knowledge.Context(ctx, p.KnowledgeClientID(), query, p.RAGMaxChars)
	if err != nil {
		metrics.KnowledgeSearchesTotal.WithLabelValues("error").Inc()
		a.logger().Error("harbor.rag.retrieval_failed", "client_id", p.ClientID, "error", err)
		return ""
	}
	if out == "" {
		metrics.KnowledgeSearchesTotal.WithLabelValues("empty").Inc()
		return ""
	}
	metrics.KnowledgeSearchesTotal.WithLabelValues("hit").Inc()
	a.logger().Info("harbor.rag.context_retrieved", "client_id", p.ClientID, "chars", len(out))
	return out
}

func (a *Agent) complete(ctx context.Context, p *persona.Persona, system string, history []llm.Message) (Result, error) {
	route := a.Models.For(p.Tier)
	if route == nil || route.Client == nil {
		return Result{}, fmt.Errorf("no model route for tier %q", p.Tier)
	}
	start := time.Now()
	resp, err := route.Chat(ctx, llm.Request{System: system, Messages: history})
	metrics.LLMRequestDuration.WithLabelValues(route.Model).Observe(time.Since(start).Seconds())
	metrics.LLMRequestsTotal.WithLabelValues(route.Model, metrics.Outcome(err)).Inc()
	if err != nil {
		return Result{Model: route.Model}, fmt.Errorf("model %s: %w", route.Model, err)
	}
	return Result{
		Response:    llm.StripThinking(resp.Content),
		Model:       route.Model,
		TotalTokens: resp.TotalTokens,
	}, nil
}

func responderPrompt(p *persona.Persona, ragContext string) string {
	if ragContext == "" {
		return p.SystemPrompt
	}
	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	b.WriteString("\n\n## Relevant Product/Knowledge Context\n")
	b.WriteString("Use this information to answer the customer's question accurately. ")
	b.WriteString("Only reference products listed here. Do not invent products or prices. ")
	b.WriteString("Only share URLs that appear exactly after 'URL:' in the context below. ")
	fmt.Fprintf(&b, "If no URL is provided for a product, direct the customer to the %s website instead.\n\n", p.BusinessName)
	b.WriteString(ragContext)
	return b.String()
}

func escalationPrompt(p *persona.Persona) string {
	return p.SystemPrompt + "\n\n## ESCALATION MODE\n" +
		"The customer needs help from a human. They may be upset, have a complaint, " +
		"or need something you can't handle (refund, damaged item, warranty claim, etc.).\n" +
		"Respond with EMPATHY first. Acknowledge their situation. Then let them know " +
		"you're connecting them with a team member who can help.\n" +
		"Keep it to 1-2 sentences. Be genuine, not robotic.\n" +
		"Examples:\n" +
		"- \"Oh no, sorry to hear about that! Let me get someone from the team who can sort this out for you right away.\"\n" +
		"- \"That's not on. I'll connect you with the team now so they can make it right.\"\n" +
		"- \"Absolutely, let me get one of the crew on this for you straight away.\""
}

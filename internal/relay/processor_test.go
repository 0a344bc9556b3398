package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"harbor/internal/agent"
	"harbor/internal/chatwoot"
	"harbor/internal/llm"
	"harbor/internal/persona"
)

type fakeConversation struct {
	history  []chatwoot.Message
	listErr  error
	sendErr  error
	noteErr  error
	sent     []string
	notes    []string
	assigned []int
}

func (f *fakeConversation) SendMessage(ctx context.Context, id int64, content string) (chatwoot.Message, error) {
	if f.sendErr != nil {
		return chatwoot.Message{}, f.sendErr
	}
	f.sent = append(f.sent, content)
	return chatwoot.Message{Content: content}, nil
}

func (f *fakeConversation) SendPrivateNote(ctx context.Context, id int64, note string) (chatwoot.Message, error) {
	if f.noteErr != nil {
		return chatwoot.Message{}, f.noteErr
	}
	f.notes = append(f.notes, note)
	return chatwoot.Message{}, nil
}

func (f *fakeConversation) AssignAgent(ctx context.Context, id int64, agentID int) error {
	f.assigned = append(f.assigned, agentID)
	return nil
}

func (f *fakeConversation) ListMessages(ctx context.Context, id int64) ([]chatwoot.Message, error) {
	return f.history, f.listErr
}

type fakePersonas map[string]*persona.Persona

func (f fakePersonas) Load(clientID string) (*persona.Persona, error) {
	if p, ok := f[clientID]; ok {
		return p, nil
	}
	return nil, persona.ErrNotFound
}

type fakeAgent struct {
	res     agent.Result
	err     error
	history []llm.Message
}

func (f *fakeAgent) Run(ctx context.Context, p *persona.Persona, history []llm.Message) (agent.Result, error) {
	f.history = history
	return f.res, f.err
}

func override(s string) *string { return &s }

func harness(res agent.Result, err error) (*Processor, *fakeConversation, *fakeAgent, *[]string) {
	conv := &fakeConversation{history: []chatwoot.Message{
		{Content: "hi", MessageType: chatwoot.Incoming, CreatedAt: 1},
		{Content: "Hello!", MessageType: chatwoot.Outgoing, CreatedAt: 2},
		{Content: "talk to a person please", MessageType: chatwoot.Incoming, CreatedAt: 3},
	}}
	ag := &fakeAgent{res: res, err: err}
	var tokens []string
	p := &Processor{
		Personas: fakePersonas{"dental": {
			ClientID:                  "dental",
			BusinessName:              "Riverside Dental",
			Greeting:                  "Hi! I'm Max.",
			HumanEscalation:           true,
			ChatwootEscalationAgentID: 12,
		}},
		Agent:      ag,
		AdminToken: "admin",
		NewChatwoot: func(accountID int, token string) Conversation {
			tokens = append(tokens, token)
			return conv
		},
	}
	return p, conv, ag, &tokens
}

func messageJob(content string) Job {
	return Job{Kind: KindMessage, ClientID: "dental", AccountID: 1, ConversationID: 9, MessageID: 77, Content: content, ContactName: "Maya"}
}

func TestSendGreeting(t *testing.T) {
	p, conv, _, tokens := harness(agent.Result{}, nil)
	err := p.Handle(context.Background(), Job{Kind: KindGreeting, ClientID: "dental", AccountID: 1, ConversationID: 9})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(conv.sent) != 1 || conv.sent[0] != "Hi! I'm Max." {
		t.Fatalf("sent: %v", conv.sent)
	}
	if (*tokens)[0] != "admin" {
		t.Fatalf("expected admin token, got %v", *tokens)
	}
}

func TestSendGreetingProactiveOverride(t *testing.T) {
	p, conv, _, _ := harness(agent.Result{}, nil)
	p.Personas.(fakePersonas)["dental"].Triggers.GreetingOverride = override("Still deciding? I can help.")
	job := Job{Kind: KindGreeting, ClientID: "dental", AccountID: 1, ConversationID: 9, Proactive: true}
	if err := p.Handle(context.Background(), job); err != nil {
		t.Fatalf("err: %v", err)
	}
	if conv.sent[0] != "Still deciding? I can help." {
		t.Fatalf("sent: %v", conv.sent)
	}
}

func TestUnknownClientIsPermanent(t *testing.T) {
	p, conv, _, _ := harness(agent.Result{}, nil)
	err := p.Handle(context.Background(), Job{Kind: KindGreeting, ClientID: "ghost", AccountID: 1, ConversationID: 9})
	if !IsPermanent(err) || !errors.Is(err, persona.ErrNotFound) {
		t.Fatalf("expected permanent not-found, got %v", err)
	}
	if len(conv.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestInvalidJobIsPermanent(t *testing.T) {
	p, _, _, _ := harness(agent.Result{}, nil)
	if err := p.Handle(context.Background(), Job{Kind: "bogus"}); !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestProcessMessageReply(t *testing.T) {
	p, conv, ag, _ := harness(agent.Result{Response: "We open at 9."}, nil)
	if err := p.Handle(context.Background(), messageJob("when do you open?")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(ag.history) != 3 || ag.history[1].Role != llm.RoleAssistant {
		t.Fatalf("history: %+v", ag.history)
	}
	if len(conv.sent) != 1 || conv.sent[0] != "We open at 9." {
		t.Fatalf("sent: %v", conv.sent)
	}
	if len(conv.notes) != 0 || len(conv.assigned) != 0 {
		t.Fatalf("no escalation expected")
	}
}

func TestProcessMessageEscalates(t *testing.T) {
	p, conv, _, _ := harness(agent.Result{Response: "Connecting you now.", Escalate: true}, nil)
	if err := p.Handle(context.Background(), messageJob("talk to a person please")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if conv.sent[0] != "Connecting you now." {
		t.Fatalf("sent: %v", conv.sent)
	}
	if len(conv.notes) != 1 || !strings.Contains(conv.notes[0], `Visitor said: "talk to a person please"`) || !strings.Contains(conv.notes[0], "Context: 3 messages exchanged.") {
		t.Fatalf("notes: %v", conv.notes)
	}
	if len(conv.assigned) != 1 || conv.assigned[0] != 12 {
		t.Fatalf("assigned: %v", conv.assigned)
	}
}

func TestProcessMessageEscalationFallsBackToHandOffText(t *testing.T) {
	p, conv, _, _ := harness(agent.Result{Escalate: true}, errors.New("model down"))
	if err := p.Handle(context.Background(), messageJob("manager now")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.HasPrefix(conv.sent[0], "Of course, Maya") {
		t.Fatalf("sent: %v", conv.sent)
	}
}

func TestProcessMessageHandOffFailureIsLogged(t *testing.T) {
	p, conv, _, _ := harness(agent.Result{Response: "ok", Escalate: true}, nil)
	conv.noteErr = errors.New("note failed")
	if err := p.Handle(context.Background(), messageJob("manager")); err != nil {
		t.Fatalf("hand-off failures should not fail the job: %v", err)
	}
	if len(conv.assigned) != 1 {
		t.Fatalf("assignment should still happen")
	}
}

func TestProcessMessageErrors(t *testing.T) {
	p, conv, _, _ := harness(agent.Result{}, errors.New("model down"))
	if err := p.Handle(context.Background(), messageJob("hi")); err == nil || IsPermanent(err) {
		t.Fatalf("expected retryable model error, got %v", err)
	}

	p, conv, _, _ = harness(agent.Result{Response: "x"}, nil)
	conv.listErr = &chatwoot.StatusError{Code: 404}
	if err := p.Handle(context.Background(), messageJob("hi")); !IsPermanent(err) {
		t.Fatalf("404 should be permanent, got %v", err)
	}

	p, conv, _, _ = harness(agent.Result{Response: "x"}, nil)
	conv.sendErr = &chatwoot.StatusError{Code: 502}
	if err := p.Handle(context.Background(), messageJob("hi")); err == nil || IsPermanent(err) {
		t.Fatalf("502 should be retryable, got %v", err)
	}
}

func TestProcessMessageEmptyHistoryUsesContent(t *testing.T) {
	p, conv, ag, _ := harness(agent.Result{}, nil)
	conv.history = nil
	if err := p.Handle(context.Background(), messageJob("anyone there?")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(ag.history) != 1 || ag.history[0].Content != "anyone there?" {
		t.Fatalf("history: %+v", ag.history)
	}
	if len(conv.sent) != 0 {
		t.Fatalf("empty response should not be sent")
	}
}

func TestBotTokenPreferred(t *testing.T) {
	t.Setenv("DENTAL_BOT_TOKEN", "bot")
	p, _, _, tokens := harness(agent.Result{Response: "x"}, nil)
	p.Personas.(fakePersonas)["dental"].BotTokenEnv = "DENTAL_BOT_TOKEN"
	if err := p.Handle(context.Background(), messageJob("hi")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if (*tokens)[0] != "bot" {
		t.Fatalf("tokens: %v", *tokens)
	}
}

func TestJobKey(t *testing.T) {
	if got := messageJob("x").Key(); got != "message-dental-9-77" {
		t.Fatalf("key: %s", got)
	}
	if got := (Job{Kind: KindGreeting, ClientID: "dental", ConversationID: 9}).Key(); got != "greeting-dental-9" {
		t.Fatalf("key: %s", got)
	}
	if IsPermanent(nil) || Permanent(nil) != nil {
		t.Fatalf("nil handling")
	}
}

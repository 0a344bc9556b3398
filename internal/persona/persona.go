package persona

import (
	"os"
	"strings"

	"harbor/internal/trigger"
)

const (
	TierStarter = "starter"
	TierGrowth  = "growth"
	TierPro     = "pro"
	TierAgency  = "agency"
)

// Persona is the per-client configuration describing how the agent behaves.
type Persona struct {
	ClientID           string   `yaml:"client_id" json:"client_id"`
	Name               string   `yaml:"name" json:"name"`
	BusinessName       string   `yaml:"business_name" json:"business_name"`
	BusinessType       string   `yaml:"business_type" json:"business_type"`
	SystemPrompt       string   `yaml:"system_prompt" json:"system_prompt"`
	Greeting           string   `yaml:"greeting" json:"greeting"`
	EscalationPrompt   string   `yaml:"escalation_prompt" json:"escalation_prompt"`
	EscalationTriggers []string `yaml:"escalation_triggers" json:"escalation_triggers"`
	Tools              []string `yaml:"tools" json:"tools"`
	Tier               string   `yaml:"tier" json:"tier"`
	Language           string   `yaml:"language" json:"language"`

	ChatwootAccountID int `yaml:"chatwoot_account_id" json:"chatwoot_account_id"`
	ChatwootInboxID   int `yaml:"chatwoot_inbox_id" json:"chatwoot_inbox_id"`
	// BotTokenEnv names the env var holding the Chatwoot agent-bot token, so
	// replies appear from the named bot instead of the admin account.
	BotTokenEnv string `yaml:"bot_token_env" json:"bot_token_env"`

	HumanEscalation           bool `yaml:"human_escalation" json:"human_escalation"`
	ChatwootEscalationAgentID int  `yaml:"chatwoot_escalation_agent_id" json:"chatwoot_escalation_agent_id"`

	RAGEnabled  bool   `yaml:"rag_enabled" json:"rag_enabled"`
	RAGClientID string `yaml:"rag_client_id" json:"rag_client_id"`
	RAGMaxChars int    `yaml:"rag_max_chars" json:"rag_max_chars"`

	ProactiveTriggers bool            `yaml:"proactive_triggers" json:"proactive_triggers"`
	MultiChannel      bool            `yaml:"multi_channel" json:"multi_channel"`
	Triggers          trigger.Partial `yaml:"triggers" json:"triggers"`

	Catalog Catalog `yaml:"catalog" json:"catalog"`
}

// Catalog describes where the client's product knowledge comes from.
type Catalog struct {
	ShopifyStore string `yaml:"shopify_store" json:"shopify_store"`
	Cron         string `yaml:"cron" json:"cron"`
	StoreInfo    string `yaml:"store_info" json:"store_info"`
	ProductsFile string `yaml:"products_file" json:"products_file"`
}

var getenv = os.Getenv

func (p *Persona) applyDefaults(clientID string) {
	if strings.TrimSpace(p.ClientID) == "" {
		p.ClientID = clientID
	}
	if p.Tier == "" {
		p.Tier = TierStarter
	}
	if p.ChatwootAccountID <= 0 {
		p.ChatwootAccountID = 1
	}
	if p.Language == "" {
		p.Language = "en"
	}
	if p.RAGMaxChars <= 0 {
		p.RAGMaxChars = 3000
	}
}

// BotToken reads the persona's bot token from the environment at call time.
func (p *Persona) BotToken() string {
	if p == nil || strings.TrimSpace(p.BotTokenEnv) == "" {
		return ""
	}
	return getenv(p.BotTokenEnv)
}

// KnowledgeClientID is the namespace used for knowledge-base lookups.
func (p *Persona) KnowledgeClientID() string {
	if strings.TrimSpace(p.RAGClientID) != "" {
		return p.RAGClientID
	}
	return p.ClientID
}

// PremiumTier reports whether the persona is entitled to the fallback model.
func (p *Persona) PremiumTier() bool {
	return p.Tier == TierPro || p.Tier == TierAgency
}

// TriggerConfig is the persona's effective proactive trigger configuration.
func (p *Persona) TriggerConfig() trigger.Config {
	return trigger.Merge(p.Triggers)
}

// GreetingFor picks the greeting for a new conversation. A proactively
// opened conversation uses the trigger greeting override when one is set.
func (p *Persona) GreetingFor(proactive bool) string {
	if proactive && p.Triggers.GreetingOverride != nil && strings.TrimSpace(*p.Triggers.GreetingOverride) != "" {
		return *p.Triggers.GreetingOverride
	}
	return p.Greeting
}

// Package escalation decides when a conversation is handed to a human.
package escalation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"harbor/internal/persona"
)

// DefaultTriggers apply to every persona in addition to its own triggers.
var DefaultTriggers = []string{
	"speak to a human",
	"speak to someone",
	"talk to a person",
	"real person",
	"human agent",
	"talk to agent",
	"manager",
	"supervisor",
	"complaint",
	"legal",
	"lawyer",
	"this is urgent",
	"emergency",
}

var patterns sync.Map // trigger -> *regexp.Regexp

func pattern(trigger string) *regexp.Regexp {
	key := strings.ToLower(strings.TrimSpace(trigger))
	if v, ok := patterns.Load(key); ok {
		return v.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(key) + `\b`)
	patterns.Store(key, re)
	return re
}

// ShouldEscalate reports whether message contains a default or custom
// trigger as a whole word, ignoring case.
func ShouldEscalate(message string, custom []string) bool {
	lower := strings.ToLower(message)
	for _, set := range [][]string{DefaultTriggers, custom} {
		for _, t := range set {
			if strings.TrimSpace(t) == "" {
				continue
			}
			if pattern(t).MatchString(lower) {
				return true
			}
		}
	}
	return false
}

// BuildMessage is the hand-off text shown to the visitor.
func BuildMessage(p *persona.Persona, contactName string) string {
	if strings.TrimSpace(p.EscalationPrompt) != "" {
		return p.EscalationPrompt
	}
	name := ""
	if contactName = strings.TrimSpace(contactName); contactName != "" {
		name = ", " + contactName
	}
	return fmt.Sprintf("Of course%s — let me connect you with a member of the %s team right now. "+
		"They'll be with you shortly. Please hold on! 👋", name, p.BusinessName)
}

// Note is the private note left for agents when Harbor escalates.
func Note(visitorMessage string, exchanged int) string {
	return fmt.Sprintf("🤖 Harbor escalated this conversation.\nVisitor said: \"%s\"\nContext: %d messages exchanged.", visitorMessage, exchanged)
}

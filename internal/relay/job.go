// Package relay carries out the work queued by the Chatwoot webhook.
package relay

import (
	"errors"
	"fmt"
	"time"

	"harbor/internal/chatwoot"
)

const (
	KindGreeting = "greeting"
	KindMessage  = "message"
)

// ErrQueueFull is returned by a dispatcher that cannot accept more work.
var ErrQueueFull = errors.New("dispatch queue full")

// Job is one unit of webhook work. It is serialized into Temporal workflow
// input, so fields stay plain.
type Job struct {
	Kind           string    `json:"kind"`
	ClientID       string    `json:"client_id"`
	AccountID      int       `json:"account_id"`
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	ContactName    string    `json:"contact_name,omitempty"`
	Proactive      bool      `json:"proactive,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Key identifies the job for de-duplication and workflow ids.
func (j Job) Key() string {
	if j.Kind == KindMessage && j.MessageID > 0 {
		return fmt.Sprintf("%s-%s-%d-%d", j.Kind, j.ClientID, j.ConversationID, j.MessageID)
	}
	return fmt.Sprintf("%s-%s-%d", j.Kind, j.ClientID, j.ConversationID)
}

func (j Job) Validate() error {
	switch j.Kind {
	case KindGreeting, KindMessage:
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if j.ClientID == "" || j.AccountID <= 0 || j.ConversationID <= 0 {
		return errors.New("client, account and conversation ids required")
	}
	return nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether retrying the job cannot help.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe permanentError
	if errors.As(err, &pe) {
		return true
	}
	var se *chatwoot.StatusError
	if errors.As(err, &se) {
		return !se.Retryable()
	}
	return false
}

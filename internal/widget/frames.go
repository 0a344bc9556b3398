package widget

import "harbor/internal/trigger"

// Frame types exchanged with the page script.
const (
	FrameHello        = "hello"
	FrameScroll       = "scroll"
	FramePointerLeave = "pointer_leave"

	FrameReady        = "ready"
	FrameOpen         = "open"
	FrameSetAttribute = "set_attribute"
)

// inbound is any frame the page sends. Only the fields for its type are set.
type inbound struct {
	Type             string           `json:"type"`
	Config           *trigger.Partial `json:"config,omitempty"`
	PageURL          string           `json:"pageUrl,omitempty"`
	ScrollY          float64          `json:"scrollY,omitempty"`
	ScrollableHeight float64          `json:"scrollableHeight,omitempty"`
	ClientY          *float64         `json:"clientY,omitempty"`
}

type outbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Config    *trigger.Config `json:"config,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     string          `json:"value,omitempty"`
}

// ConfigResponse is served to the page before it opens a session.
type ConfigResponse struct {
	Enabled bool `json:"enabled"`
	*trigger.Config
}

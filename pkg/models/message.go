package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// InterruptAfter is how long a pending message may sit without completing
// before readers classify it as interrupted.
const InterruptAfter = 30 * time.Second

// Message is one conversation turn. Content is the raw text; HTML is the
// rendered form supplied by the rendering collaborator. Timestamp is Unix
// milliseconds. Completed flips to true exactly once and never reverts.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	HTML      string `json:"html,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Completed bool   `json:"completed"`

	// Interrupted is derived from (Completed, Timestamp, now) on the read
	// path and is never persisted; stored rows always carry false.
	Interrupted bool `json:"interrupted,omitempty"`
}

// InterruptedAt reports whether the message should be displayed as
// interrupted as of now. A completed message is never interrupted.
func (m Message) InterruptedAt(now time.Time) bool {
	if m.Completed {
		return false
	}
	return now.UnixMilli()-m.Timestamp > InterruptAfter.Milliseconds()
}

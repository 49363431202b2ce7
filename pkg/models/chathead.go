package models

// BoundaryMarker is the sentinel entry in MessageIDs that resets the
// conversational context: consumers building model input stop scanning
// backward at the nearest preceding marker.
const BoundaryMarker = ""

// ChatHead is one conversation within a workspace. MessageIDs is an
// append-only sequence of message ids interleaved with boundary markers;
// entries are never reordered or removed except by whole-head deletion.
// Backend is empty until a backend has been selected. Timestamp is the
// last-activity time in Unix milliseconds.
type ChatHead struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	SystemPrompt string   `json:"systemPrompt"`
	Backend      string   `json:"backend,omitempty"`
	Timestamp    int64    `json:"timestamp"`
	MessageIDs   []string `json:"messageIds"`
}

// ContextIDs returns the message ids that belong to the current model
// context: everything after the last boundary marker, in order.
func (h *ChatHead) ContextIDs() []string {
	start := 0
	for i, id := range h.MessageIDs {
		if id == BoundaryMarker {
			start = i + 1
		}
	}
	out := make([]string, 0, len(h.MessageIDs)-start)
	for _, id := range h.MessageIDs[start:] {
		if id != BoundaryMarker {
			out = append(out, id)
		}
	}
	return out
}

// MessageRefs returns every non-boundary message id in the head.
func (h *ChatHead) MessageRefs() []string {
	out := make([]string, 0, len(h.MessageIDs))
	for _, id := range h.MessageIDs {
		if id != BoundaryMarker {
			out = append(out, id)
		}
	}
	return out
}

// Summary returns a copy of the head with the message list stripped, the
// shape embedded in denormalized workspace snapshots.
func (h *ChatHead) Summary() ChatHead {
	c := *h
	c.MessageIDs = nil
	return c
}

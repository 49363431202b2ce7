package models

// Workspace is the root of a tree of chat heads and their messages.
// CreatedAt is Unix milliseconds. Heads is denormalized onto snapshots at
// read time (most recent activity first, message lists stripped); the
// stored record carries only id, name and creation time.
type Workspace struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	CreatedAt int64      `json:"createdAt"`
	Heads     []ChatHead `json:"heads,omitempty"`
}

// Stored returns the workspace as persisted, without denormalized heads.
func (w *Workspace) Stored() Workspace {
	c := *w
	c.Heads = nil
	return c
}

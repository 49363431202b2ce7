package conv

import "fmt"

// Flat key namespace. Workspace deletion walks the head and message
// prefixes, so everything owned by a workspace embeds its id.
func wsKey(wsID string) string           { return "ws:" + wsID }
func headKey(wsID, chatID string) string { return fmt.Sprintf("head:%s:%s", wsID, chatID) }
func msgKey(wsID, msgID string) string   { return fmt.Sprintf("msg:%s:%s", wsID, msgID) }
func headPrefix(wsID string) string      { return "head:" + wsID + ":" }
func msgPrefix(wsID string) string       { return "msg:" + wsID + ":" }

// WorkspacePrefix and friends are exported for the maintenance sweep.
const (
	WorkspacePrefix = "ws:"
	HeadPrefix      = "head:"
	MessagePrefix   = "msg:"
)

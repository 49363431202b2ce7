package handlers

import (
	"net/http"

	"chatspace/pkg/conv"
	"chatspace/pkg/logger"
	"chatspace/pkg/models"
	"chatspace/pkg/push"
)

// chatFrame is the payload of every chat snapshot and stream frame: full
// replacements, never patches.
type chatFrame struct {
	Head              models.ChatHead  `json:"head"`
	Messages          []models.Message `json:"messages"`
	AvailableBackends []string         `json:"availableBackends"`
}

// workspaceFrame wraps workspace stream frames.
type workspaceFrame struct {
	WorkspaceInfo models.Workspace `json:"workspaceInfo"`
}

// streamChat pushes chat snapshots until the viewer disconnects, the chat
// is deleted, or the subscriber falls behind and is cut off.
func streamChat(w http.ResponseWriter, r *http.Request, svc *conv.Conversations, wsID, chatID string) {
	watch, err := svc.WatchChat(wsID, chatID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer watch.Close()

	st, err := push.NewStream(w, "chat")
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Debug("chat_stream_opened", "workspace", wsID, "chat", chatID)
	for {
		snap, err := watch.Next(r.Context())
		if err != nil {
			if watch.Overflowed() {
				logger.Warn("chat_stream_dropped_slow", "workspace", wsID, "chat", chatID)
			}
			return
		}
		frame := chatFrame{
			Head:              snap.Head,
			Messages:          snap.Messages,
			AvailableBackends: svc.Backends(),
		}
		if err := st.Send(frame); err != nil {
			return
		}
	}
}

// streamWorkspace pushes workspace snapshots with the same lifecycle as
// streamChat.
func streamWorkspace(w http.ResponseWriter, r *http.Request, svc *conv.Conversations, wsID string) {
	watch, err := svc.WatchWorkspace(wsID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer watch.Close()

	st, err := push.NewStream(w, "workspace")
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Debug("workspace_stream_opened", "workspace", wsID)
	for {
		ws, err := watch.Next(r.Context())
		if err != nil {
			if watch.Overflowed() {
				logger.Warn("workspace_stream_dropped_slow", "workspace", wsID)
			}
			return
		}
		if err := st.Send(workspaceFrame{WorkspaceInfo: ws}); err != nil {
			return
		}
	}
}

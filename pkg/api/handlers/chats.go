package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatspace/pkg/conv"
	"chatspace/pkg/push"
	"chatspace/pkg/utils"
)

type chatHandlers struct {
	svc *conv.Conversations
}

// RegisterChats registers the chat-head routes onto the router.
func RegisterChats(r *mux.Router, svc *conv.Conversations) {
	h := &chatHandlers{svc: svc}
	r.HandleFunc("/workspaces/{ws}/chats", h.create).Methods(http.MethodPost)
	r.HandleFunc("/workspaces/{ws}/chats/{chat}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{ws}/chats/{chat}", h.patch).Methods(http.MethodPatch)
	r.HandleFunc("/workspaces/{ws}/chats/{chat}", h.delete).Methods(http.MethodDelete)
}

func (h *chatHandlers) create(w http.ResponseWriter, r *http.Request) {
	wsID := mux.Vars(r)["ws"]
	head, err := h.svc.CreateChatHead(wsID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, head)
}

// get returns the resolved chat snapshot, or a live stream when the
// request accepts text/event-stream.
func (h *chatHandlers) get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	wsID, chatID := vars["ws"], vars["chat"]
	if push.Wants(r) {
		streamChat(w, r, h.svc, wsID, chatID)
		return
	}
	snap, err := h.svc.GetChatHead(wsID, chatID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, chatFrame{
		Head:              snap.Head,
		Messages:          snap.Messages,
		AvailableBackends: h.svc.Backends(),
	})
}

func (h *chatHandlers) patch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var patch conv.HeadPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	head, err := h.svc.PatchChatHead(vars["ws"], vars["chat"], patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, head)
}

func (h *chatHandlers) delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.DeleteChatHead(vars["ws"], vars["chat"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatspace/pkg/conv"
	"chatspace/pkg/utils"
)

type messageHandlers struct {
	svc *conv.Conversations
}

// RegisterMessages registers the message routes onto the router.
func RegisterMessages(r *mux.Router, svc *conv.Conversations) {
	h := &messageHandlers{svc: svc}
	r.HandleFunc("/workspaces/{ws}/chats/{chat}/messages", h.append).Methods(http.MethodPost)
	r.HandleFunc("/workspaces/{ws}/chats/{chat}/assistant", h.assistant).Methods(http.MethodPost)
	r.HandleFunc("/workspaces/{ws}/chats/{chat}/messages/{id}/complete", h.complete).Methods(http.MethodPost)
}

func (h *messageHandlers) append(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Text     string `json:"text"`
		Boundary bool   `json:"boundary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := h.svc.AppendMessage(vars["ws"], vars["chat"], body.Text, body.Boundary)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

// assistant creates the pending row the external inference collaborator
// later completes.
func (h *messageHandlers) assistant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Backend string `json:"backend"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	msg, err := h.svc.AppendAssistantMessage(vars["ws"], vars["chat"], body.Backend)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

func (h *messageHandlers) complete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Content string `json:"content"`
		HTML    string `json:"html"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := h.svc.CompleteMessage(vars["ws"], vars["chat"], vars["id"], body.Content, body.HTML)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

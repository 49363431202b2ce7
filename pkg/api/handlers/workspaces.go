package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatspace/pkg/conv"
	"chatspace/pkg/push"
	"chatspace/pkg/utils"
)

type workspaceHandlers struct {
	svc *conv.Conversations
}

// RegisterWorkspaces registers the workspace routes onto the router.
func RegisterWorkspaces(r *mux.Router, svc *conv.Conversations) {
	h := &workspaceHandlers{svc: svc}
	r.HandleFunc("/workspaces", h.create).Methods(http.MethodPost)
	r.HandleFunc("/workspaces", h.list).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{ws}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/workspaces/{ws}", h.rename).Methods(http.MethodPatch)
	r.HandleFunc("/workspaces/{ws}", h.delete).Methods(http.MethodDelete)
}

func (h *workspaceHandlers) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if r.Body != nil {
		// empty body is fine, name is optional
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	ws, err := h.svc.CreateWorkspace(body.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, ws)
}

func (h *workspaceHandlers) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListWorkspaces()
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, list)
}

// get returns a one-shot snapshot, or a live stream when the request
// accepts text/event-stream.
func (h *workspaceHandlers) get(w http.ResponseWriter, r *http.Request) {
	wsID := mux.Vars(r)["ws"]
	if push.Wants(r) {
		streamWorkspace(w, r, h.svc, wsID)
		return
	}
	ws, err := h.svc.GetWorkspace(wsID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, ws)
}

func (h *workspaceHandlers) rename(w http.ResponseWriter, r *http.Request) {
	wsID := mux.Vars(r)["ws"]
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ws, err := h.svc.RenameWorkspace(wsID, body.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, ws)
}

func (h *workspaceHandlers) delete(w http.ResponseWriter, r *http.Request) {
	wsID := mux.Vars(r)["ws"]
	if err := h.svc.DeleteWorkspace(wsID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Package handlers holds the /v1 HTTP handlers. Each resource registers
// its routes onto the shared router and talks to the conversation service.
package handlers

import (
	"errors"
	"net/http"

	"chatspace/pkg/conv"
	"chatspace/pkg/store"
	"chatspace/pkg/utils"
)

// writeErr maps service errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		utils.JSONError(w, http.StatusConflict, "version conflict")
	case errors.Is(err, conv.ErrValidation):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
	}
}

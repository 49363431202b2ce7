// Package api assembles the public HTTP surface: the /v1 conversation
// routes plus CORS and rate-limit middleware.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatspace/pkg/api/handlers"
	"chatspace/pkg/config"
	"chatspace/pkg/conv"
)

// Router builds the /v1 router with middleware applied.
func Router(svc *conv.Conversations, sec config.SecurityConfig) http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterWorkspaces(v1, svc)
	handlers.RegisterChats(v1, svc)
	handlers.RegisterMessages(v1, svc)

	var h http.Handler = r
	h = RateLimit(sec.RateLimit, h)
	h = CORS(sec.CORS.AllowedOrigins, h)
	return h
}

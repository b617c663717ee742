// Package api exposes the chat engine to the UI process as a JSON API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"fpchat/pkg/api/handlers"
	"fpchat/pkg/engine"
)

// Handler returns the versioned API router:
//   - GET    /v1/conversations
//   - POST   /v1/conversations
//   - DELETE /v1/conversations/{id}
//   - POST   /v1/conversations/{id}/select
//   - GET    /v1/conversations/{id}/timeline
//   - POST   /v1/conversations/{id}/timeline/more
//   - POST   /v1/conversations/{id}/messages
//   - GET    /v1/conversations/{id}/draft
func Handler(e *engine.Engine) http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	(&handlers.Conversations{Eng: e}).Register(v1)
	return r
}

package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/handler"
	"server/internal/middleware"
)

// Run accepts one generation request and blocks until it reaches a terminal
// state. The envelope's own status field carries success or error; the
// transport answer is always 200, mirroring the serverless contract where
// the platform owns HTTP status codes.
func (a *App) Run(w http.ResponseWriter, r *http.Request) {
	var req handler.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.json(w, http.StatusOK, handler.Envelope{
			Status:    "error",
			RequestID: middleware.RequestIDFromContext(r.Context()),
			Message:   "Invalid request body",
		})
		return
	}
	if req.ID == "" {
		req.ID = middleware.RequestIDFromContext(r.Context())
	}
	env := a.Handler.Handle(r.Context(), req)
	a.json(w, http.StatusOK, env)
}

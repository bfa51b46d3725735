package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/handler"
	"server/internal/infra"
)

// App bundles the dependencies the HTTP layer needs.
type App struct {
	Handler *handler.Handler
	Logger  infra.Logger
}

func NewApp(h *handler.Handler, logger infra.Logger) *App {
	return &App{Handler: h, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

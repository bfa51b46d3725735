package httpapi

import (
	"net/http"

	"server/internal/http/handlers"
	"server/internal/infra"
	mw "server/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.Logger(logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Post("/run", app.Run)

	return r
}

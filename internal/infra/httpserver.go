package infra

import (
	"context"
	"net/http"
	"time"
)

// slack added on top of the generation budget when the configured write
// timeout is too tight to let a /run response drain.
const writeTimeoutSlack = 30 * time.Second

// HTTPServer wraps http.Server for a service whose main endpoint blocks for
// an entire generation: the write timeout is forced to outlive the
// generation budget so a response is never cut off mid-poll.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates a configured HTTP server instance. A write timeout
// at or below the generation budget is raised to budget plus slack.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	writeTimeout := cfg.HTTPWriteTimeout
	if writeTimeout <= cfg.GenerationTimeout {
		writeTimeout = cfg.GenerationTimeout + writeTimeoutSlack
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	return &HTTPServer{server: srv}
}

// Start runs the HTTP server in the current goroutine.
func (s *HTTPServer) Start() error {
	if s.server == nil {
		return nil
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, letting in-flight generations
// finish within the context's deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

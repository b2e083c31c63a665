// Package httpserver builds the process's http.Server with conservative
// timeouts. Handlers and middleware live under internal/transport.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the custody ledger API. ReadHeaderTimeout bounds
// slow-header clients; body reads are bounded per handler.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

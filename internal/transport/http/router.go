// Package httptransport mounts the custody ledger's HTTP surface: one
// sub-router per configured ledger variant, sharing a middleware chain for
// correlation, logging, and identity extraction.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/archive"
	"custodia/internal/attestation"
	"custodia/internal/audit"
	"custodia/internal/custody"
	"custodia/internal/evidence"
	"custodia/internal/guidmap"
	"custodia/internal/investigation"
	"custodia/internal/ledger"
	"custodia/internal/platform/middleware"
	"custodia/internal/transfer"
)

// Side bundles the services of one ledger variant behind one mount point.
type Side struct {
	Mode           ledger.Mode
	Attestation    *attestation.Service
	Investigations *investigation.Service
	Evidence       *evidence.Service
	Custody        *custody.Service
	GUIDs          *guidmap.Service
	Archive        *archive.Service
	Transfers      *transfer.Service
	Audits         *audit.Service
}

// NewRouter wires the full HTTP surface. Each side mounts under its mode
// name ("/hot", "/cold"); the permission matrices behind the services
// decide what each variant actually allows.
func NewRouter(log *slog.Logger, signingKey string, sides ...*Side) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(signingKey, log))
		for _, side := range sides {
			handler := newHandler(side, log)
			r.Route("/"+string(side.Mode), handler.Register)
		}
	})

	return r
}

package api

import (
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/metrics"
)

// AdminServer serves the operator-facing endpoints on a separate listener
// from the inner FHIR/VAU traffic: liveness, readiness, and Prometheus
// metrics. Shape (four handlers on one ServeMux, wrapped in its own
// http.Server with conservative timeouts) is unchanged from
// cuemby-warren/pkg/api/health.go; the component checks themselves moved to
// pkg/metrics.RegisterComponent/GetHealth/GetReadiness so both this admin
// surface and the inner request handlers can report into the same health
// state.
type AdminServer struct {
	mux *http.ServeMux
}

// NewAdminServer builds the admin mux. Callers register component health
// via pkg/metrics.RegisterComponent before or after construction — the
// handlers read current state on every request. Passing enablePprof mounts
// net/http/pprof's handlers on this mux rather than the package-global
// http.DefaultServeMux, the way cmd/warren's "--enable-pprof" flag mounts
// them on its own metrics mux instead of the process-wide one.
func NewAdminServer(enablePprof bool) *AdminServer {
	mux := http.NewServeMux()
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return &AdminServer{mux: mux}
}

// Start runs the admin HTTP server until it errors or is shut down.
func (a *AdminServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      a.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler returns the admin mux for embedding or testing.
func (a *AdminServer) Handler() http.Handler {
	return a.mux
}

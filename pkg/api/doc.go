/*
Package api implements the Fachdienst's two HTTP surfaces: the VAU tunnel
that terminates encrypted FHIR traffic, and the admin mux that serves
health, readiness, and metrics.

# Architecture

The outer listener never sees plaintext FHIR until a request has been
through the VAU envelope:

	┌────────────────────────── CLIENT ───────────────────────────┐
	│  Encrypts inner HTTP request with the server's VAU pubkey    │
	└──────────────────────────┬────────────────────────────────--┘
	                           │ POST /VAU/{pseudonym}  (application/octet-stream)
	┌──────────────────────────▼───────────────────────────────────┐
	│                      Tunnel (vau.go)                          │
	│  - verify-or-mint pseudonym                                   │
	│  - ECIES-decrypt envelope (pkg/vau)                           │
	│  - decode inner message, cross-check access token             │
	│  - parse inner HTTP request, dispatch to the chi Router        │
	│  - re-encrypt the inner HTTP response with the client's key    │
	└──────────────────────────┬───────────────────────────────────┘
	                           │ in-process http.Handler call
	┌──────────────────────────▼───────────────────────────────────┐
	│                    Router (router.go)                         │
	│  - requireAuth middleware: verifies the access token against  │
	│    authtoken.KeyCache, stashes it in the request context       │
	│  - /Task, /Communication, /MedicationDispense, /AuditEvent    │
	│    routed through pkg/state.Engine                             │
	└─────────────────────────────────────────────────────────────-┘

/VAUCertificate bypasses the tunnel entirely (there is nothing to decrypt
yet); it serves the server's encryption certificate so a client can build
its first envelope.

# Error rendering

writeError in errors.go is the only function in this package allowed to
write to an http.ResponseWriter for a failed operation. Envelope-class
apperr.Kind values (malformed frame, access-token mismatch) render as a
bare HTTP status with no body; every other kind renders a minimal FHIR
OperationOutcome. This keeps spec.md's "the tunnel never leaks
server-side detail" rule enforceable in one place instead of scattered
across every handler.

# Admin surface

AdminServer (health.go) mounts pkg/metrics' health, readiness, and
Prometheus handlers on their own listener, independent of the VAU
tunnel's — a stuck trust-list refresh or exhausted connection pool should
still leave /health answerable. Passing enablePprof additionally mounts
net/http/pprof's handlers on this same listener.
*/
package api

// Package apperr defines the typed error kinds the Fachdienst server can
// produce and maps each to an HTTP status and, where applicable, a FHIR
// OperationOutcome issue type.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error categories named in spec.md §7.
type Kind string

const (
	// Envelope kinds. All render as 400 with an empty body — the tunnel
	// never leaks server-side detail.
	KindBadVersion    Kind = "bad-version"
	KindBadPoint      Kind = "bad-point"
	KindBadIV         Kind = "bad-iv"
	KindAuthFail      Kind = "auth-fail"
	KindBadFrame      Kind = "bad-frame"
	KindTokenMismatch Kind = "token-mismatch"

	// Auth kinds. Render as 401 or 403 with an OperationOutcome.
	KindMissing        Kind = "missing"
	KindExpired        Kind = "expired"
	KindNotYetValid    Kind = "not-yet-valid"
	KindBadSignature   Kind = "bad-signature"
	KindKeyUnavailable Kind = "key-unavailable"
	KindWrongRole      Kind = "wrong-role"

	// Trust-store kinds, produced by verify_cert (spec.md §4.A). Render as
	// 401 alongside the other security failures.
	KindUnknownIssuer   Kind = "unknown-issuer"
	KindNotValidYet     Kind = "not-valid-yet"
	KindNotValidAnymore Kind = "not-valid-anymore"

	// Task lifecycle kinds. Render as 404 or 409 with an OperationOutcome.
	KindNotFound          Kind = "not-found"
	KindWrongState        Kind = "wrong-state"
	KindBadAccessCode     Kind = "bad-access-code"
	KindBadSecret         Kind = "bad-secret"
	KindAlreadyExpired    Kind = "already-expired"
	KindPayloadMismatch   Kind = "payload-mismatch"
	KindSignatureRejected Kind = "signature-rejected"

	// Messaging kinds. Render as 400 or 409.
	KindPayloadTooLarge       Kind = "payload-too-large"
	KindSenderIsRecipient     Kind = "sender-is-recipient"
	KindBudgetExceeded        Kind = "budget-exceeded"
	KindReferencedTaskBadState Kind = "referenced-task-bad-state"

	// Infra kinds.
	KindUpstream     Kind = "upstream"
	KindStateCorrupt Kind = "state-corrupt"
)

// E is a typed error carrying a Kind and, optionally, a wrapped cause.
type E struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *E) Unwrap() error {
	return e.Err
}

// New builds an E of the given kind, optionally wrapping a cause.
func New(kind Kind, err error) *E {
	return &E{Kind: kind, Err: err}
}

// Newf builds an E of the given kind wrapping a formatted error.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// isEnvelope reports whether a kind belongs to the envelope category — these
// always render as a bare 400 with no body, regardless of cause.
func isEnvelope(k Kind) bool {
	switch k {
	case KindBadVersion, KindBadPoint, KindBadIV, KindAuthFail, KindBadFrame, KindTokenMismatch:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the HTTP status code it renders as.
func HTTPStatus(k Kind) int {
	switch k {
	case KindBadVersion, KindBadPoint, KindBadIV, KindAuthFail, KindBadFrame, KindTokenMismatch:
		return http.StatusBadRequest
	case KindMissing, KindExpired, KindNotYetValid, KindBadSignature, KindKeyUnavailable,
		KindUnknownIssuer, KindNotValidYet, KindNotValidAnymore:
		return http.StatusUnauthorized
	case KindWrongRole:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindWrongState, KindBadAccessCode, KindBadSecret, KindAlreadyExpired,
		KindPayloadMismatch, KindSignatureRejected:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusBadRequest
	case KindSenderIsRecipient, KindReferencedTaskBadState:
		return http.StatusBadRequest
	case KindBudgetExceeded:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusServiceUnavailable
	case KindStateCorrupt:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IssueType maps a Kind to a FHIR OperationOutcome issue type. Envelope
// kinds have none — they never render a body.
func IssueType(k Kind) string {
	switch k {
	case KindMissing, KindExpired, KindNotYetValid, KindBadSignature, KindKeyUnavailable, KindWrongRole,
		KindUnknownIssuer, KindNotValidYet, KindNotValidAnymore:
		return "security"
	case KindNotFound:
		return "not-found"
	case KindWrongState, KindBadAccessCode, KindBadSecret, KindAlreadyExpired,
		KindPayloadMismatch, KindSignatureRejected, KindBudgetExceeded, KindReferencedTaskBadState:
		return "conflict"
	case KindPayloadTooLarge, KindSenderIsRecipient:
		return "invalid"
	case KindUpstream, KindStateCorrupt:
		return "transient"
	default:
		return "processing"
	}
}

// HasBody reports whether a rendered response carries an OperationOutcome
// body. Envelope kinds never do.
func HasBody(k Kind) bool {
	return !isEnvelope(k)
}

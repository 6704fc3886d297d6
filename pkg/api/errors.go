package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/fhircodec"
	"github.com/rs/zerolog/log"
)

// operationOutcome is the minimal FHIR OperationOutcome body spec.md §7
// requires for Auth/Lifecycle/Messaging kinds. Envelope kinds never reach
// this path — the VAU tunnel renders those as a bare status with no body.
type operationOutcome struct {
	ResourceType string            `json:"resourceType"`
	Issue        []outcomeIssue    `json:"issue"`
}

type outcomeIssue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Details  *text  `json:"details,omitempty"`
}

type text struct {
	Text string `json:"text"`
}

// writeError is the single place that turns an error into an HTTP response.
// It is the only function in pkg/api allowed to write to a
// http.ResponseWriter for a failed operation, which is what lets spec.md
// §7's "never leak server-side detail" rule be enforced in one spot.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, fhircodec.ErrUnsupportedMediaType) {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	var appErr *apperr.E
	if !errors.As(err, &appErr) {
		log.Error().Err(err).Msg("unclassified error reached pkg/api")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	status := apperr.HTTPStatus(appErr.Kind)
	if !apperr.HasBody(appErr.Kind) {
		w.WriteHeader(status)
		return
	}

	outcome := operationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []outcomeIssue{{
			Severity: severityFor(status),
			Code:     apperr.IssueType(appErr.Kind),
			Details:  &text{Text: string(appErr.Kind)},
		}},
	}

	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(outcome)
}

func severityFor(status int) string {
	if status >= 500 {
		return "fatal"
	}
	return "error"
}

package api

import (
	"encoding/base64"
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/types"
)

// taskDTO is the wire shape of a Task resource. Only the fields a client
// needs to drive the workflow are exposed; AccessCode/Secret are included
// only when the operation that produced them is the one that minted them
// (Create returns AccessCode, Accept returns Secret), matching the
// original's own "don't echo a credential you didn't just issue" behavior.
type taskDTO struct {
	ResourceType string `json:"resourceType"`
	Id           string `json:"id"`
	Status       string `json:"status"`
	FlowType     int    `json:"flowType"`
	For          string `json:"for,omitempty"`
	Performer    string `json:"performer,omitempty"`
	AuthoredOn   string `json:"authoredOn,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	ExpiryDate   string `json:"expiryDate,omitempty"`
	AcceptDate   string `json:"acceptDate,omitempty"`
	AccessCode   string `json:"accessCode,omitempty"`
	Secret       string `json:"secret,omitempty"`
}

func newTaskDTO(t types.Task) taskDTO {
	return taskDTO{
		ResourceType: "Task",
		Id:           t.Id,
		Status:       string(t.Status),
		FlowType:     int(t.FlowType),
		For:          string(t.For),
		Performer:    string(t.Performer),
		AuthoredOn:   formatTime(t.AuthoredOn),
		LastModified: formatTime(t.LastModified),
		ExpiryDate:   formatTime(t.ExpiryDate),
		AcceptDate:   formatTime(t.AcceptDate),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// createTaskRequest is the body of POST /Task.
type createTaskRequest struct {
	FlowType int `json:"flowType"`
}

// activateParameters is the FHIR Parameters body of POST /Task/{id}/$activate:
// the access code that authorizes the caller plus the CMS-signed KBV bundle,
// base64-encoded the way FHIR's valueBase64Binary carries binary payloads.
type activateParameters struct {
	ResourceType string              `json:"resourceType"`
	Parameter    []activateParameter `json:"parameter"`
}

type activateParameter struct {
	Name              string `json:"name"`
	ValueString       string `json:"valueString,omitempty"`
	ValueBase64Binary string `json:"valueBase64Binary,omitempty"`
}

func (p activateParameters) accessCode() string {
	for _, param := range p.Parameter {
		if param.Name == "accessCode" {
			return param.ValueString
		}
	}
	return ""
}

func (p activateParameters) signedBundle() ([]byte, error) {
	for _, param := range p.Parameter {
		if param.Name == "ePrescription" {
			return base64.StdEncoding.DecodeString(param.ValueBase64Binary)
		}
	}
	return nil, nil
}

// acceptResponse wraps the task plus the secret and the still-CMS-signed
// bundle the pharmacy needs to dispense against.
type acceptResponse struct {
	Task         taskDTO `json:"task"`
	Secret       string  `json:"secret"`
	SignedBundle string  `json:"signedBundle"`
}

// closeRequest is the body of POST /Task/{id}/$close.
type closeRequest struct {
	Secret            string `json:"secret"`
	Medication        string `json:"medication"`
	DosageInstruction string `json:"dosageInstruction,omitempty"`
	WhenPrepared      string `json:"whenPrepared,omitempty"`
}

func (r closeRequest) dispense() types.MedicationDispense {
	d := types.MedicationDispense{
		Medication:        r.Medication,
		DosageInstruction: r.DosageInstruction,
	}
	if t, err := time.Parse(time.RFC3339, r.WhenPrepared); err == nil {
		d.WhenPrepared = t
	}
	return d
}

// abortRequest is the body of POST /Task/{id}/$abort; only the credential
// field that applies to the caller's role needs to be set.
type abortRequest struct {
	AccessCode string `json:"accessCode,omitempty"`
	Secret     string `json:"secret,omitempty"`
}

func newDispenseDTO(d types.MedicationDispense) map[string]any {
	return map[string]any{
		"resourceType":      "MedicationDispense",
		"id":                d.Id.String(),
		"prescriptionId":    d.PrescriptionId,
		"medication":        d.Medication,
		"subject":           string(d.Subject),
		"performer":         string(d.Performer),
		"whenHandedOver":    formatTime(d.WhenHandedOver),
		"whenPrepared":      formatTime(d.WhenPrepared),
		"dosageInstruction": d.DosageInstruction,
	}
}

func newAuditEventDTO(a types.AuditEvent) map[string]any {
	return map[string]any{
		"resourceType": "AuditEvent",
		"id":           a.Id.String(),
		"recorded":     formatTime(a.Recorded),
		"subType":      string(a.SubType),
		"agent":        a.Agent.String(),
		"agentName":    a.AgentName,
		"patient":      string(a.Patient),
		"targetTaskId": a.TargetTaskId,
	}
}

// communicationRequest is the body of POST /Communication.
type communicationRequest struct {
	Kind       string `json:"kind"`
	TaskId     string `json:"taskId"`
	AccessCode string `json:"accessCode,omitempty"`
	Recipient  string `json:"recipient"`
	Payload    string `json:"payload"`
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func newCommunicationDTO(c types.Communication) map[string]any {
	return map[string]any{
		"resourceType": "Communication",
		"id":           c.Id.String(),
		"kind":         string(c.Kind),
		"taskId":       c.TaskId,
		"sent":         formatTime(c.Sent),
		"received":     formatTime(c.Received),
		"sender":       c.Sender.String(),
		"recipient":    c.Recipient.String(),
		"payload":      c.Payload.Text,
	}
}

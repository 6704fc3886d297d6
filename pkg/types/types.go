package types

import (
	"time"

	"github.com/google/uuid"
)

// Kvnr is the 10-character checksummed identifier of a statutorily insured
// person (the patient).
type Kvnr string

// TelematikId identifies a healthcare provider (practice, pharmacy, hospital).
type TelematikId string

// ParticipantKind distinguishes the two concrete forms a ParticipantId can
// take.
type ParticipantKind string

const (
	ParticipantKindKvnr        ParticipantKind = "kvnr"
	ParticipantKindTelematikId ParticipantKind = "telematik-id"
)

// ParticipantId is either a patient's Kvnr or a provider's TelematikId; the
// access token's profession claim selects which.
type ParticipantId struct {
	Kind        ParticipantKind
	Kvnr        Kvnr
	TelematikId TelematikId
}

// NewPatientParticipant builds a ParticipantId for a patient.
func NewPatientParticipant(kvnr Kvnr) ParticipantId {
	return ParticipantId{Kind: ParticipantKindKvnr, Kvnr: kvnr}
}

// Role is the access token's profession claim, mapped to the seven roles
// the lifecycle engine distinguishes. Doctor, Dentist, and the two pharmacy
// professions all carry a TelematikId ParticipantId, so Role (not
// ParticipantKind) is what separates a prescriber from a dispenser in
// access checks.
type Role string

const (
	RolePatient          Role = "patient"
	RoleDoctor           Role = "doctor"
	RoleDentist          Role = "dentist"
	RolePsychotherapist  Role = "psychotherapist"
	RoleHospital         Role = "hospital"
	RolePublicPharmacy   Role = "public-pharmacy"
	RoleHospitalPharmacy Role = "hospital-pharmacy"
)

// IsPrescriber reports whether the role may create and activate tasks.
func (r Role) IsPrescriber() bool {
	return r == RoleDoctor || r == RoleDentist
}

// IsPharmacy reports whether the role may accept, reject, and close tasks.
func (r Role) IsPharmacy() bool {
	return r == RolePublicPharmacy || r == RoleHospitalPharmacy
}

// NewProviderParticipant builds a ParticipantId for a provider.
func NewProviderParticipant(id TelematikId) ParticipantId {
	return ParticipantId{Kind: ParticipantKindTelematikId, TelematikId: id}
}

// String renders the identifying value regardless of kind.
func (p ParticipantId) String() string {
	if p.Kind == ParticipantKindKvnr {
		return string(p.Kvnr)
	}
	return string(p.TelematikId)
}

// FlowType is the three-digit category encoded in a prescription id.
type FlowType int

const (
	FlowTypePharmaceutical FlowType = 160
	FlowTypeDirect         FlowType = 169
	FlowTypeSubstitute     FlowType = 162
	FlowTypeCompounding    FlowType = 166
)

// Valid reports whether the flow type is one of the four recognized codes.
func (f FlowType) Valid() bool {
	switch f {
	case FlowTypePharmaceutical, FlowTypeDirect, FlowTypeSubstitute, FlowTypeCompounding:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a prescription task.
type TaskStatus string

const (
	TaskStatusDraft      TaskStatus = "draft"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Task is the in-server representation of one prescription.
type Task struct {
	Id                       string
	Status                   TaskStatus
	AccessCode               string
	Secret                   string
	For                      Kvnr
	Performer                TelematikId
	FlowType                 FlowType
	AuthoredOn               time.Time
	LastModified             time.Time
	ExpiryDate               time.Time
	AcceptDate               time.Time
	InputBundleId            uuid.UUID
	PatientReceiptId         uuid.UUID
	OutputReceiptId          uuid.UUID
	LastMedicationDispenseId uuid.UUID
}

// HasInputBundle reports whether the signed prescription payload has been
// stored (set by activate, cleared only by task deletion).
func (t *Task) HasInputBundle() bool {
	return t.InputBundleId != uuid.Nil
}

// CommunicationKind identifies one of the four disjoint message shapes.
type CommunicationKind string

const (
	CommunicationKindInfoReq        CommunicationKind = "info-req"
	CommunicationKindReply          CommunicationKind = "reply"
	CommunicationKindDispenseReq    CommunicationKind = "dispense-req"
	CommunicationKindRepresentative CommunicationKind = "representative"
)

// ContentKind distinguishes a plain-string payload from an attachment.
type ContentKind string

const (
	ContentKindString     ContentKind = "string"
	ContentKindAttachment ContentKind = "attachment"
)

// Attachment is a binary payload bounded to 10 KiB, embedded or referenced
// by URL.
type Attachment struct {
	ContentType string
	Language    string
	Data        []byte
	URL         string
	Title       string
}

// AttachmentMaxBytes is the maximum size of an embedded attachment payload.
const AttachmentMaxBytes = 10 * 1024

// Payload is the body of a Communication: either a string or an attachment,
// never both.
type Payload struct {
	Kind       ContentKind
	Text       string
	Attachment *Attachment
}

// Communication is one of the four message kinds bound to a task.
type Communication struct {
	Id         uuid.UUID
	Kind       CommunicationKind
	TaskId     string
	AccessCode string
	Sent       time.Time
	Received   time.Time
	Sender     ParticipantId
	Recipient  ParticipantId
	Payload    Payload
}

// HasBeenReceived reports whether the recipient has already fetched this message.
func (c *Communication) HasBeenReceived() bool {
	return !c.Received.IsZero()
}

// MedicationDispense is the final dispense record produced at close, one per
// completed task.
type MedicationDispense struct {
	Id                uuid.UUID
	PrescriptionId    string
	Medication        string
	Subject           Kvnr
	Performer         TelematikId
	WhenHandedOver    time.Time
	WhenPrepared      time.Time
	DosageInstruction string
}

// AuditEventSubType is the action that produced an audit entry.
type AuditEventSubType string

const (
	AuditSubTypeCreate                 AuditEventSubType = "create"
	AuditSubTypeActivate               AuditEventSubType = "activate"
	AuditSubTypeAccept                 AuditEventSubType = "accept"
	AuditSubTypeReject                 AuditEventSubType = "reject"
	AuditSubTypeClose                  AuditEventSubType = "close"
	AuditSubTypeAbort                  AuditEventSubType = "abort"
	AuditSubTypeCommunicationSend      AuditEventSubType = "communication-send"
	AuditSubTypeCommunicationRetract   AuditEventSubType = "communication-retract"
	AuditSubTypeMedicationDispenseRead AuditEventSubType = "medication-dispense-read"
)

// AuditEvent is an append-only record of a state-changing access.
type AuditEvent struct {
	Id           uuid.UUID
	Recorded     time.Time
	SubType      AuditEventSubType
	Agent        ParticipantId
	AgentName    string
	Patient      Kvnr
	TargetTaskId string
}

// Package state holds the in-memory prescription lifecycle engine: the
// versioned task store (component F), the transition logic that operates on
// it (component G), the messaging and dispense stores (H, I), the audit log
// (J), and the timeout sweeper (K). Every mutating method acquires Engine's
// single mutex, matching the process-wide serialization point described for
// the lifecycle engine.
package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/events"
	"github.com/gematik/erezept-fachdienst/pkg/prescriptionid"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/google/uuid"
)

// VerifiedBundle is what a BundleVerifier extracts from a CMS-signed
// prescription payload.
type VerifiedBundle struct {
	Kvnr           types.Kvnr
	FlowType       types.FlowType
	PrescriptionId string
	ExpiryDate     time.Time
	AcceptDate     time.Time
	PatientReceipt []byte
	SigningTime    time.Time
}

// BundleVerifier CMS-verifies a signed prescription bundle against the
// BNetzA-VL. Satisfied by pkg/cms.
type BundleVerifier interface {
	VerifyBundle(signed []byte) (VerifiedBundle, error)
}

// ReceiptSigner produces the server-signed closing receipt bundle at close.
type ReceiptSigner interface {
	SignReceipt(taskId string, dispense types.MedicationDispense) ([]byte, error)
}

// taskEntry is component F's TaskMeta: the task's version history plus the
// bookkeeping that does not itself need to be versioned.
type taskEntry struct {
	history      *History[types.Task]
	repMsgCount  int
	inputBundle  []byte
	patientBund  []byte
	closingBund  []byte
}

// Engine is the lifecycle engine plus the stores it owns directly.
type Engine struct {
	mu sync.Mutex

	tasks map[string]*taskEntry

	bundles      BundleVerifier
	signer       ReceiptSigner
	broker       *events.Broker
	repMax       int
	now          func() time.Time

	messages  map[uuid.UUID]*types.Communication
	dispenses map[uuid.UUID]*types.MedicationDispense
	audit     []*types.AuditEvent
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithClock overrides the engine's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRepresentativeMax sets the per-task cap on Representative messages.
func WithRepresentativeMax(max int) Option {
	return func(e *Engine) { e.repMax = max }
}

// New constructs an empty Engine.
func New(bundles BundleVerifier, signer ReceiptSigner, broker *events.Broker, opts ...Option) *Engine {
	e := &Engine{
		tasks:     make(map[string]*taskEntry),
		messages:  make(map[uuid.UUID]*types.Communication),
		dispenses: make(map[uuid.UUID]*types.MedicationDispense),
		bundles:   bundles,
		signer:    signer,
		broker:    broker,
		repMax:    3,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("state: generating random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (e *Engine) publish(kind events.EventType, taskId string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:      kind,
		Timestamp: e.now(),
		Metadata:  map[string]string{"task_id": taskId},
	})
}

func (e *Engine) recordAudit(subType types.AuditEventSubType, agent types.ParticipantId, agentName string, patient types.Kvnr, taskId string) {
	ev := &types.AuditEvent{
		Id:           uuid.New(),
		Recorded:     e.now(),
		SubType:      subType,
		Agent:        agent,
		AgentName:    agentName,
		Patient:      patient,
		TargetTaskId: taskId,
	}
	e.audit = append(e.audit, ev)
	e.publish(events.EventAuditEventRecorded, ev.TargetTaskId)
}

// backfillCreateAuditPatient sets the patient on a task's create audit
// event, recorded before Activate learned who the task is for.
func (e *Engine) backfillCreateAuditPatient(taskId string, patient types.Kvnr) {
	for _, ev := range e.audit {
		if ev.TargetTaskId == taskId && ev.SubType == types.AuditSubTypeCreate {
			ev.Patient = patient
			return
		}
	}
}

// Create starts a new Draft task for the given flow type, minted by a
// prescriber. Returns the task and its one-time access code.
func (e *Engine) Create(flowType types.FlowType, role types.Role, agent types.ParticipantId, agentName string) (types.Task, error) {
	if !role.IsPrescriber() {
		return types.Task{}, apperr.New(apperr.KindWrongRole, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := prescriptionid.Generate(flowType)
	if err != nil {
		return types.Task{}, apperr.New(apperr.KindUpstream, err)
	}

	accessCode, err := randomSecret()
	if err != nil {
		return types.Task{}, apperr.New(apperr.KindStateCorrupt, err)
	}

	now := e.now()
	task := types.Task{
		Id:           id.String(),
		Status:       types.TaskStatusDraft,
		AccessCode:   accessCode,
		FlowType:     flowType,
		AuthoredOn:   now,
		LastModified: now,
	}

	if _, exists := e.tasks[task.Id]; exists {
		return types.Task{}, apperr.Newf(apperr.KindStateCorrupt, "state: duplicate prescription id %s", task.Id)
	}

	e.tasks[task.Id] = &taskEntry{history: NewHistory(task)}

	e.recordAudit(types.AuditSubTypeCreate, agent, agentName, "", task.Id)
	e.publish(events.EventTaskCreated, task.Id)

	return task, nil
}

func (e *Engine) entry(id string) (*taskEntry, error) {
	entry, ok := e.tasks[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "state: no task %s", id)
	}
	return entry, nil
}

// Get returns the latest version of a task.
func (e *Engine) Get(id string) (types.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(id)
	if err != nil {
		return types.Task{}, err
	}
	return entry.history.Get(), nil
}

// GetVersion returns a specific historical version of a task.
func (e *Engine) GetVersion(id string, version int) (types.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(id)
	if err != nil {
		return types.Task{}, err
	}
	v, ok := entry.history.GetVersion(version)
	if !ok {
		return types.Task{}, apperr.Newf(apperr.KindNotFound, "state: no version %d of task %s", version, id)
	}
	return v.Resource, nil
}

// List returns the current version of every task readable by the given
// participant: the patient who owns it, or (while claimed) the assigned
// pharmacy. Access-code-only readers must call Get with the id directly.
func (e *Engine) List(reader types.ParticipantId) []types.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []types.Task
	for _, entry := range e.tasks {
		t := entry.history.Get()
		if reader.Kind == types.ParticipantKindKvnr && t.For == reader.Kvnr {
			out = append(out, t)
			continue
		}
		if reader.Kind == types.ParticipantKindTelematikId && t.Performer == reader.TelematikId &&
			(t.Status == types.TaskStatusInProgress || t.Status == types.TaskStatusCompleted) {
			out = append(out, t)
		}
	}
	return out
}

// CountTasksByStatus satisfies metrics.TaskCounter.
func (e *Engine) CountTasksByStatus() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[string]int)
	for _, entry := range e.tasks {
		counts[string(entry.history.Get().Status)]++
	}
	return counts
}

// Activate verifies the signed bundle and moves a Draft task to Ready.
func (e *Engine) Activate(id, accessCode string, signedBundle []byte, role types.Role, agent types.ParticipantId, agentName string) (types.Task, error) {
	if !role.IsPrescriber() {
		return types.Task{}, apperr.New(apperr.KindWrongRole, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(id)
	if err != nil {
		return types.Task{}, err
	}

	current := entry.history.Get()
	if current.Status != types.TaskStatusDraft {
		return types.Task{}, apperr.Newf(apperr.KindWrongState, "state: task %s is %s, not draft", id, current.Status)
	}
	if current.AccessCode != accessCode {
		return types.Task{}, apperr.New(apperr.KindBadAccessCode, nil)
	}

	verified, err := e.bundles.VerifyBundle(signedBundle)
	if err != nil {
		return types.Task{}, apperr.New(apperr.KindSignatureRejected, err)
	}
	if verified.FlowType != current.FlowType {
		return types.Task{}, apperr.New(apperr.KindPayloadMismatch, fmt.Errorf("flow type %d does not match task", verified.FlowType))
	}
	if verified.PrescriptionId != current.Id {
		return types.Task{}, apperr.New(apperr.KindPayloadMismatch, fmt.Errorf("bundle carries id %s, task is %s", verified.PrescriptionId, current.Id))
	}

	entry.inputBundle = signedBundle
	entry.patientBund = verified.PatientReceipt

	next := entry.history.Mutate(func(t types.Task) types.Task {
		t.Status = types.TaskStatusReady
		t.For = verified.Kvnr
		t.ExpiryDate = verified.ExpiryDate
		t.AcceptDate = verified.AcceptDate
		t.InputBundleId = uuid.New()
		t.PatientReceiptId = uuid.New()
		t.AuthoredOn = verified.SigningTime
		t.LastModified = e.now()
		return t
	})

	e.backfillCreateAuditPatient(id, next.For)
	e.recordAudit(types.AuditSubTypeActivate, agent, agentName, next.For, id)
	e.publish(events.EventTaskActivated, next.Id)

	return next, nil
}

// Accept claims a Ready task for a pharmacy, minting its secret.
func (e *Engine) Accept(id, accessCode string, role types.Role, pharmacy types.TelematikId, agentName string) (types.Task, string, []byte, error) {
	if !role.IsPharmacy() {
		return types.Task{}, "", nil, apperr.New(apperr.KindWrongRole, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(id)
	if err != nil {
		return types.Task{}, "", nil, err
	}

	current := entry.history.Get()
	if current.Status != types.TaskStatusReady {
		return types.Task{}, "", nil, apperr.Newf(apperr.KindWrongState, "state: task %s is %s, not ready", id, current.Status)
	}
	if current.AccessCode != accessCode {
		return types.Task{}, "", nil, apperr.New(apperr.KindBadAccessCode, nil)
	}
	if e.now().After(current.ExpiryDate) {
		return types.Task{}, "", nil, apperr.New(apperr.KindAlreadyExpired, nil)
	}

	secret, err := randomSecret()
	if err != nil {
		return types.Task{}, "", nil, apperr.New(apperr.KindStateCorrupt, err)
	}

	next := entry.history.Mutate(func(t types.Task) types.Task {
		t.Status = types.TaskStatusInProgress
		t.Secret = secret
		t.Performer = pharmacy
		t.LastModified = e.now()
		return t
	})

	e.recordAudit(types.AuditSubTypeAccept, types.NewProviderParticipant(pharmacy), agentName, next.For, id)
	e.publish(events.EventTaskAccepted, next.Id)

	return next, secret, entry.inputBundle, nil
}

// Reject releases a claimed task back to Ready, clearing its secret.
func (e *Engine) Reject(id, secret string, role types.Role, pharmacy types.TelematikId, agentName string) (types.Task, error) {
	if !role.IsPharmacy() {
		return types.Task{}, apperr.New(apperr.KindWrongRole, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(id)
	if err != nil {
		return types.Task{}, err
	}

	current := entry.history.Get()
	if current.Status != types.TaskStatusInProgress {
		return types.Task{}, apperr.Newf(apperr.KindWrongState, "state: task %s is %s, not in-progress", id, current.Status)
	}
	if current.Secret != secret {
		return types.Task{}, apperr.New(apperr.KindBadSecret, nil)
	}
	if current.Performer != pharmacy {
		return types.Task{}, apperr.New(apperr.KindWrongRole, nil)
	}

	next := entry.history.Mutate(func(t types.Task) types.Task {
		t.Status = types.TaskStatusReady
		t.Secret = ""
		t.Performer = ""
		t.LastModified = e.now()
		return t
	})

	e.recordAudit(types.AuditSubTypeReject, types.NewProviderParticipant(pharmacy), agentName, next.For, id)
	e.publish(events.EventTaskRejected, next.Id)

	return next, nil
}

// Close finalizes a claimed task: signs a closing receipt, stores the
// dispense record, and transitions to Completed.
func (e *Engine) Close(id, secret string, dispense types.MedicationDispense, role types.Role, pharmacy types.TelematikId, agentName string) (types.Task, error) {
	if !role.IsPharmacy() {
		return types.Task{}, apperr.New(apperr.KindWrongRole, nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(id)
	if err != nil {
		return types.Task{}, err
	}

	current := entry.history.Get()
	if current.Status != types.TaskStatusInProgress {
		return types.Task{}, apperr.Newf(apperr.KindWrongState, "state: task %s is %s, not in-progress", id, current.Status)
	}
	if current.Secret != secret {
		return types.Task{}, apperr.New(apperr.KindBadSecret, nil)
	}

	dispense.Id = uuid.New()
	dispense.PrescriptionId = id
	dispense.Subject = current.For
	dispense.Performer = pharmacy
	if dispense.WhenHandedOver.IsZero() {
		dispense.WhenHandedOver = e.now()
	}

	receipt, err := e.signer.SignReceipt(id, dispense)
	if err != nil {
		return types.Task{}, apperr.New(apperr.KindSignatureRejected, err)
	}
	entry.closingBund = receipt

	e.dispenses[dispense.Id] = &dispense

	next := entry.history.Mutate(func(t types.Task) types.Task {
		t.Status = types.TaskStatusCompleted
		t.Secret = ""
		t.OutputReceiptId = uuid.New()
		t.LastMedicationDispenseId = dispense.Id
		t.LastModified = e.now()
		return t
	})

	e.recordAudit(types.AuditSubTypeClose, types.NewProviderParticipant(pharmacy), agentName, next.For, id)
	e.publish(events.EventMedicationDispenseCreated, dispense.PrescriptionId)
	e.publish(events.EventTaskClosed, next.Id)

	return next, nil
}

// canAbort enforces the role/state table from the lifecycle engine's abort
// contract: Doctor/Dentist while Draft or Ready, Patient while Ready,
// InProgress, or Completed, Pharmacy only while InProgress (and only the
// assigned pharmacy).
func canAbort(status types.TaskStatus, role types.Role) bool {
	switch {
	case role.IsPrescriber():
		return status == types.TaskStatusDraft || status == types.TaskStatusReady
	case role == types.RolePatient:
		return status == types.TaskStatusReady || status == types.TaskStatusInProgress || status == types.TaskStatusCompleted
	case role.IsPharmacy():
		return status == types.TaskStatusInProgress
	default:
		return false
	}
}

// Abort transitions a task to Cancelled after checking the caller's
// credentials against the role/state table for the task's current status.
// Doctor/Dentist callers authenticate with accessCode, Patient with a KVNR
// match, Pharmacy with a secret match; pass the one that applies and leave
// the others empty. Per §3's ownership cascade, abort also immediately
// drops the task's dependent dispense record and messages; the task itself
// remains readable in its terminal Cancelled state until the sweeper times
// it out (§4.K).
func (e *Engine) Abort(id string, role types.Role, agent types.ParticipantId, agentName, accessCode, secret string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.entry(id)
	if err != nil {
		return err
	}

	current := entry.history.Get()

	switch {
	case role == types.RolePatient:
		if current.For != agent.Kvnr {
			return apperr.New(apperr.KindWrongRole, nil)
		}
	case role.IsPharmacy():
		if current.Performer != agent.TelematikId || current.Secret != secret {
			return apperr.New(apperr.KindBadSecret, nil)
		}
	case role.IsPrescriber():
		if current.AccessCode != accessCode {
			return apperr.New(apperr.KindBadAccessCode, nil)
		}
	default:
		return apperr.New(apperr.KindWrongRole, nil)
	}

	if !canAbort(current.Status, role) {
		return apperr.Newf(apperr.KindWrongState, "state: task %s in %s cannot be aborted by this role", id, current.Status)
	}

	droppedDispense := current.LastMedicationDispenseId
	for msgId, msg := range e.messages {
		if msg.TaskId == id {
			delete(e.messages, msgId)
		}
	}
	if droppedDispense != uuid.Nil {
		delete(e.dispenses, droppedDispense)
	}

	next := entry.history.Mutate(func(t types.Task) types.Task {
		t.Status = types.TaskStatusCancelled
		t.Secret = ""
		t.Performer = ""
		t.LastMedicationDispenseId = uuid.Nil
		t.LastModified = e.now()
		return t
	})

	e.recordAudit(types.AuditSubTypeAbort, agent, agentName, current.For, id)
	e.publish(events.EventTaskAborted, next.Id)

	return nil
}

// deleteTaskLocked fully removes a task and every remaining dependent
// resource. Caller must hold e.mu.
func (e *Engine) deleteTaskLocked(id string, last types.Task) {
	delete(e.tasks, id)

	for msgId, msg := range e.messages {
		if msg.TaskId == id {
			delete(e.messages, msgId)
		}
	}

	if last.LastMedicationDispenseId != uuid.Nil {
		delete(e.dispenses, last.LastMedicationDispenseId)
	}
}

// DeleteTaskForSweep removes a timed-out task without credential checks;
// used only by the sweeper (component K).
func (e *Engine) DeleteTaskForSweep(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.tasks[id]
	if !ok {
		return
	}
	last := entry.history.Get()
	e.deleteTaskLocked(id, last)
	e.publish(events.EventTaskSwept, id)
}

// TaskSnapshot describes a task as seen by the sweeper: its current status
// and the timestamp that status was entered.
type TaskSnapshot struct {
	Id           string
	Status       types.TaskStatus
	LastModified time.Time
	ExpiryDate   time.Time
}

// SnapshotTasks returns a point-in-time view for the sweeper to compute
// timeouts from, without holding the engine mutex across the sweep loop.
func (e *Engine) SnapshotTasks() []TaskSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]TaskSnapshot, 0, len(e.tasks))
	for _, entry := range e.tasks {
		t := entry.history.Get()
		out = append(out, TaskSnapshot{Id: t.Id, Status: t.Status, LastModified: t.LastModified, ExpiryDate: t.ExpiryDate})
	}
	return out
}

// StillStale re-checks a task against the live state before a sweep deletes
// it, per §4.K's "if still stale when re-checked" requirement.
func (e *Engine) StillStale(id string, expected types.TaskStatus, deadline time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.tasks[id]
	if !ok {
		return false
	}
	t := entry.history.Get()
	return t.Status == expected && !e.now().Before(deadline)
}

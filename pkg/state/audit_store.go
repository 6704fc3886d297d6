package state

import (
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/google/uuid"
)

// GetAuditEvent returns a single audit event, restricted to the patient it
// targets.
func (e *Engine) GetAuditEvent(id uuid.UUID, patient types.Kvnr) (types.AuditEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ev := range e.audit {
		if ev.Id == id {
			if ev.Patient != patient {
				return types.AuditEvent{}, apperr.New(apperr.KindWrongRole, nil)
			}
			return *ev, nil
		}
	}
	return types.AuditEvent{}, apperr.New(apperr.KindNotFound, nil)
}

// RecordDispenseRead appends a best-effort audit entry for a patient
// reading a dispense record, an audit event recorded outside of a lifecycle
// transition (as is SendMessage's communication-send entry). Callers never surface an error from
// this — a read audit entry is additive, not part of the read's own
// success/failure contract.
func (e *Engine) RecordDispenseRead(patient types.Kvnr, reader types.ParticipantId, readerName, prescriptionId string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recordAudit(types.AuditSubTypeMedicationDispenseRead, reader, readerName, patient, prescriptionId)
}

// ListAuditEvents returns every audit event targeting a patient, oldest
// first; callers apply sort/page-size/pageId themselves (internal/search).
func (e *Engine) ListAuditEvents(patient types.Kvnr) []types.AuditEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []types.AuditEvent
	for _, ev := range e.audit {
		if ev.Patient == patient {
			out = append(out, *ev)
		}
	}
	return out
}

// AuditSnapshot is what the sweeper needs to decide whether an audit event
// has timed out.
type AuditSnapshot struct {
	Id       uuid.UUID
	Recorded time.Time
}

// SnapshotAuditEvents returns every audit event's id and recorded time.
func (e *Engine) SnapshotAuditEvents() []AuditSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]AuditSnapshot, 0, len(e.audit))
	for _, ev := range e.audit {
		out = append(out, AuditSnapshot{Id: ev.Id, Recorded: ev.Recorded})
	}
	return out
}

// PruneAuditForSweep drops a single expired audit event, re-checking it is
// still present and unchanged before deleting.
func (e *Engine) PruneAuditForSweep(id uuid.UUID, deadline time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, ev := range e.audit {
		if ev.Id == id {
			if ev.Recorded.Add(auditRetention).After(deadline) {
				return
			}
			e.audit = append(e.audit[:i], e.audit[i+1:]...)
			return
		}
	}
}

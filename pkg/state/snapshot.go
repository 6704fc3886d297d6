package state

import (
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/google/uuid"
)

// TaskRecord is the exported form of a taskEntry: everything needed to
// rebuild it exactly, including the version history's dense id offset.
type TaskRecord struct {
	Versions       []Version[types.Task]
	Offset         int
	RepMsgCount    int
	InputBundle    []byte
	PatientReceipt []byte
	ClosingReceipt []byte
}

// Snapshot is a full point-in-time export of an Engine's state, used by
// pkg/snapshot to persist across restarts.
type Snapshot struct {
	Tasks     map[string]TaskRecord
	Messages  map[uuid.UUID]types.Communication
	Dispenses map[uuid.UUID]types.MedicationDispense
	Audit     []types.AuditEvent
}

// Export captures the engine's entire state. The caller must not mutate the
// engine concurrently with reading the returned Snapshot's slices/maps,
// though Export itself holds the engine mutex while copying.
func (e *Engine) Export() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Snapshot{
		Tasks:     make(map[string]TaskRecord, len(e.tasks)),
		Messages:  make(map[uuid.UUID]types.Communication, len(e.messages)),
		Dispenses: make(map[uuid.UUID]types.MedicationDispense, len(e.dispenses)),
		Audit:     make([]types.AuditEvent, 0, len(e.audit)),
	}

	for id, entry := range e.tasks {
		out.Tasks[id] = TaskRecord{
			Versions:       entry.history.All(),
			Offset:         entry.history.Offset(),
			RepMsgCount:    entry.repMsgCount,
			InputBundle:    entry.inputBundle,
			PatientReceipt: entry.patientBund,
			ClosingReceipt: entry.closingBund,
		}
	}
	for id, msg := range e.messages {
		out.Messages[id] = *msg
	}
	for id, d := range e.dispenses {
		out.Dispenses[id] = *d
	}
	for _, ev := range e.audit {
		out.Audit = append(out.Audit, *ev)
	}

	return out
}

// Restore replaces the engine's entire state with a previously exported
// Snapshot. Intended to run once, before the engine is exposed to traffic
// or the sweeper is started.
func (e *Engine) Restore(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tasks = make(map[string]*taskEntry, len(s.Tasks))
	for id, rec := range s.Tasks {
		e.tasks[id] = &taskEntry{
			history:     RestoreHistory(rec.Versions, rec.Offset),
			repMsgCount: rec.RepMsgCount,
			inputBundle: rec.InputBundle,
			patientBund: rec.PatientReceipt,
			closingBund: rec.ClosingReceipt,
		}
	}

	e.messages = make(map[uuid.UUID]*types.Communication, len(s.Messages))
	for id, msg := range s.Messages {
		m := msg
		e.messages[id] = &m
	}

	e.dispenses = make(map[uuid.UUID]*types.MedicationDispense, len(s.Dispenses))
	for id, d := range s.Dispenses {
		dd := d
		e.dispenses[id] = &dd
	}

	e.audit = make([]*types.AuditEvent, 0, len(s.Audit))
	for _, ev := range s.Audit {
		copied := ev
		e.audit = append(e.audit, &copied)
	}
}

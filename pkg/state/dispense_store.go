package state

import (
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/google/uuid"
)

// GetDispense returns a dispense record, restricted to the patient it
// belongs to.
func (e *Engine) GetDispense(id uuid.UUID, patient types.Kvnr) (types.MedicationDispense, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.dispenses[id]
	if !ok {
		return types.MedicationDispense{}, apperr.New(apperr.KindNotFound, nil)
	}
	if d.Subject != patient {
		return types.MedicationDispense{}, apperr.New(apperr.KindWrongRole, nil)
	}
	return *d, nil
}

// ListDispenses returns every dispense record belonging to a patient.
func (e *Engine) ListDispenses(patient types.Kvnr) []types.MedicationDispense {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []types.MedicationDispense
	for _, d := range e.dispenses {
		if d.Subject == patient {
			out = append(out, *d)
		}
	}
	return out
}

// DispenseSnapshot is what the sweeper needs to decide whether a dispense
// record has timed out.
type DispenseSnapshot struct {
	Id             uuid.UUID
	WhenHandedOver time.Time
}

// SnapshotDispenses returns every dispense record's id and handover time.
func (e *Engine) SnapshotDispenses() []DispenseSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DispenseSnapshot, 0, len(e.dispenses))
	for _, d := range e.dispenses {
		out = append(out, DispenseSnapshot{Id: d.Id, WhenHandedOver: d.WhenHandedOver})
	}
	return out
}

// DeleteDispenseForSweep removes a timed-out dispense record, re-checking
// it is still present and unchanged before deleting.
func (e *Engine) DeleteDispenseForSweep(id uuid.UUID, deadline time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.dispenses[id]
	if !ok || d.WhenHandedOver.Add(dispenseRetention).After(deadline) {
		return
	}
	delete(e.dispenses, id)
}

package state

import (
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/log"
	"github.com/gematik/erezept-fachdienst/pkg/types"
)

const (
	draftRetention      = 24 * time.Hour
	readyGrace          = 10 * 24 * time.Hour
	cancelledRetention  = 10 * 24 * time.Hour
	activeRetention     = 100 * 24 * time.Hour
	dispenseRetention   = 100 * 24 * time.Hour
	auditRetention      = 3 * 365 * 24 * time.Hour
	sweepInterval       = time.Minute
)

// deadline computes the absolute instant at which a task in the given
// snapshot's state becomes eligible for deletion, per §4.K's table. The
// Ready rule keys off the expiry date at midnight, not last-modified.
func deadline(t TaskSnapshot) (time.Time, bool) {
	switch t.Status {
	case types.TaskStatusDraft:
		return t.LastModified.Add(draftRetention), true
	case types.TaskStatusReady:
		midnight := time.Date(t.ExpiryDate.Year(), t.ExpiryDate.Month(), t.ExpiryDate.Day(), 0, 0, 0, 0, t.ExpiryDate.Location())
		return midnight.Add(readyGrace), true
	case types.TaskStatusCancelled:
		return t.LastModified.Add(cancelledRetention), true
	case types.TaskStatusInProgress, types.TaskStatusCompleted:
		return t.LastModified.Add(activeRetention), true
	default:
		return time.Time{}, false
	}
}

// Sweeper is the timeout sweeper (component K): a one-minute tick that
// deletes tasks, dispense records, and audit events past their retention
// deadline, re-checking each against live state before deleting so a
// concurrent mutation between the scan and the delete is never lost.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper builds a Sweeper over the given engine.
func NewSweeper(engine *Engine) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: sweepInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sweeper's tick loop in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop signals the sweeper to exit and waits for it to do so.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one pass: deleting every task, dispense record, and audit
// event whose retention deadline has passed. Idempotent — a task (or
// dispense/audit entry) no longer present, or whose status or timestamp
// changed since the scan so that it is no longer due when re-checked, is
// simply skipped.
func (s *Sweeper) Sweep() {
	now := s.now()

	for _, t := range s.engine.SnapshotTasks() {
		dl, ok := deadline(t)
		if !ok || now.Before(dl) {
			continue
		}
		if s.engine.StillStale(t.Id, t.Status, dl) {
			s.engine.DeleteTaskForSweep(t.Id)
			log.WithTask(t.Id).Info().Msg("sweeper: deleted timed-out task")
		}
	}

	for _, d := range s.engine.SnapshotDispenses() {
		dl := d.WhenHandedOver.Add(dispenseRetention)
		if now.Before(dl) {
			continue
		}
		s.engine.DeleteDispenseForSweep(d.Id, dl)
	}

	for _, a := range s.engine.SnapshotAuditEvents() {
		dl := a.Recorded.Add(auditRetention)
		if now.Before(dl) {
			continue
		}
		s.engine.PruneAuditForSweep(a.Id, dl)
	}
}

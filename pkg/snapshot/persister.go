package snapshot

import (
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/log"
	"github.com/gematik/erezept-fachdienst/pkg/state"
)

// defaultInterval is how often the persister writes a fresh snapshot while
// running, independent of the final save at shutdown.
const defaultInterval = 5 * time.Minute

// Persister periodically exports an Engine's state to a Store, and saves
// once more on Stop so a graceful shutdown never loses the last interval's
// changes.
type Persister struct {
	engine   *state.Engine
	store    *Store
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPersister builds a Persister over the given engine and store, saving
// every five minutes until stopped.
func NewPersister(engine *state.Engine, store *Store) *Persister {
	return &Persister{
		engine:   engine,
		store:    store,
		interval: defaultInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the persist loop in a background goroutine.
func (p *Persister) Start() {
	go p.run()
}

// Stop signals the loop to exit, waits for it to finish, and performs one
// final save.
func (p *Persister) Stop() {
	close(p.stopCh)
	<-p.doneCh

	if err := p.store.Save(p.engine.Export()); err != nil {
		log.Errorf("snapshot: final save on shutdown failed: %w", err)
	}
}

func (p *Persister) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.store.Save(p.engine.Export()); err != nil {
				log.Errorf("snapshot: periodic save failed: %w", err)
			}
		case <-p.stopCh:
			return
		}
	}
}

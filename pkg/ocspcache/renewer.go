package ocspcache

import (
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/log"
)

// renewWindow is how far ahead of an entry's 6h deadline the renewer
// proactively refreshes it, so Check rarely blocks a request on a live
// OCSP round trip.
const renewWindow = 10 * time.Minute

// sweepInterval is how often the renewer scans for entries due for
// renewal.
const sweepInterval = time.Minute

// Renewer proactively refreshes cache entries before they go stale.
type Renewer struct {
	cache    *Cache
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRenewer builds a Renewer over the given cache.
func NewRenewer(cache *Cache) *Renewer {
	return &Renewer{
		cache:    cache,
		interval: sweepInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the renewal loop in a background goroutine.
func (r *Renewer) Start() {
	go r.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (r *Renewer) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Renewer) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Renewer) sweep() {
	r.cache.mu.RLock()
	due := make([]entry, 0)
	now := time.Now()
	for _, e := range r.cache.entries {
		if now.Add(renewWindow).After(e.validTo) {
			due = append(due, e)
		}
	}
	r.cache.mu.RUnlock()

	for _, e := range due {
		if _, err := r.cache.refresh(e.cert, e.issuer); err != nil {
			log.Errorf("ocspcache: renewing cached response failed: %w", err)
		}
	}
}

package metrics

import "time"

// TaskCounter reports the number of tasks currently held in each status.
// pkg/state.Engine satisfies this interface.
type TaskCounter interface {
	CountTasksByStatus() map[string]int
}

// Collector periodically samples gauge-style metrics that are cheaper to
// poll than to update inline on every state mutation.
type Collector struct {
	tasks  TaskCounter
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(tasks TaskCounter) *Collector {
	return &Collector{
		tasks:  tasks,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection in the background.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.tasks == nil {
		return
	}
	for status, count := range c.tasks.CountTasksByStatus() {
		TasksTotal.WithLabelValues(status).Set(float64(count))
	}
}

package metrics

import (
	"fmt"
	"time"

	"github.com/lattice-rt/cage/pkg/container"
)

// Collector polls a container.Manager on an interval and updates the
// package's gauges. It polls rather than reacting to push events, since
// neither the cgroup nor namespace controllers emit change notifications.
type Collector struct {
	manager *container.Manager
	stopCh  chan struct{}
}

// NewCollector wires a Collector to manager.
func NewCollector(manager *container.Manager) *Collector {
	return &Collector{manager: manager, stopCh: make(chan struct{})}
}

// Start begins polling every 15 seconds, collecting once immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectContainers()
	c.collectCGroups()
	c.collectNamespaces()
}

func (c *Collector) collectContainers() {
	containers := c.manager.List()

	counts := map[container.State]int{
		container.StateStopped: 0,
		container.StateRunning: 0,
		container.StatePaused:  0,
		container.StateError:   0,
	}
	for _, ct := range containers {
		counts[ct.State]++
	}
	for state, n := range counts {
		ContainersTotal.WithLabelValues(state.String()).Set(float64(n))
	}
}

func (c *Collector) collectCGroups() {
	for _, ct := range c.manager.List() {
		stats, err := c.manager.CGroupStats(ct.ID)
		if err != nil {
			continue
		}
		label := fmt.Sprintf("%s-%d", stats.Name, ct.ID)
		CGroupMemoryUsedBytes.WithLabelValues(label).Set(float64(stats.MemoryUsed))
		CGroupMemoryPeakBytes.WithLabelValues(label).Set(float64(stats.MemoryPeak))
		CGroupPenaltyTicks.WithLabelValues(label).Set(float64(stats.PenaltyTicksRemaining))
		CGroupTicksUsed.WithLabelValues(label).Set(float64(stats.TicksUsed))
	}
}

func (c *Collector) collectNamespaces() {
	PIDNamespacesActive.Set(float64(c.manager.PIDNamespaces().ActiveCount()))
	IPCNamespacesActive.Set(float64(c.manager.IPCNamespaces().ActiveCount()))
}

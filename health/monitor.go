package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest Check per component. The reporting loop records
// checks each tick and reads the worst-of state for the summary log.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
	}
}

// Record stores a check, replacing any previous one for the component.
func (m *Monitor) Record(check Check) {
	if check.ObservedAt.IsZero() {
		check.ObservedAt = time.Now()
	}

	m.mu.Lock()
	m.checks[check.Component] = check
	m.mu.Unlock()
}

// UpdateHealthy records a healthy check for the component.
func (m *Monitor) UpdateHealthy(name, detail string) {
	m.Record(Check{Component: name, State: StateHealthy, Detail: detail})
}

// UpdateDegraded records a degraded check for the component.
func (m *Monitor) UpdateDegraded(name, detail string) {
	m.Record(Check{Component: name, State: StateDegraded, Detail: detail})
}

// UpdateUnhealthy records an unhealthy check for the component.
func (m *Monitor) UpdateUnhealthy(name, detail string) {
	m.Record(Check{Component: name, State: StateUnhealthy, Detail: sanitizeDetail(detail)})
}

// Get returns the latest check for a component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	check, ok := m.checks[name]
	return check, ok
}

// Snapshot returns all checks sorted by component name.
func (m *Monitor) Snapshot() []Check {
	m.mu.RLock()
	checks := make([]Check, 0, len(m.checks))
	for _, check := range m.checks {
		checks = append(checks, check)
	}
	m.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool {
		return checks[i].Component < checks[j].Component
	})
	return checks
}

// Overall returns the worst state across all components. An empty monitor
// is healthy.
func (m *Monitor) Overall() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	worst := StateHealthy
	for _, check := range m.checks {
		if check.State.severity() > worst.severity() {
			worst = check.State
		}
	}
	return worst
}

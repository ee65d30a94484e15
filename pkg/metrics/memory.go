package metrics

import "sync"

// MemoryObserver keeps every event in memory. Tests use it to assert on what
// a component reported.
type MemoryObserver struct {
	mu     sync.Mutex
	events []MetricsEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev MetricsEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *MemoryObserver) Count(name string) int {
	return m.CountWhere(name, "", "")
}

// CountWhere counts events named name whose tag key equals value. An empty
// key matches every event with that name.
func (m *MemoryObserver) CountWhere(name, key, value string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Name != name {
			continue
		}
		if key == "" || ev.Tags[key] == value {
			n++
		}
	}
	return n
}

// Events returns a copy of everything recorded so far.
func (m *MemoryObserver) Events() []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsEvent(nil), m.events...)
}

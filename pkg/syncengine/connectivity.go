package syncengine

import "sync"

// ConnectivityMonitor abstracts whatever the host environment uses to detect
// connectivity, so the engine never touches platform globals and stays
// testable.
type ConnectivityMonitor interface {
	IsOnline() bool
	OnChange(fn func(online bool))
}

// ToggleMonitor is a manually driven ConnectivityMonitor. Hosts flip it from
// their own network callbacks; tests flip it directly.
type ToggleMonitor struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

var _ ConnectivityMonitor = &ToggleMonitor{}

func NewToggleMonitor(online bool) *ToggleMonitor {
	return &ToggleMonitor{online: online}
}

func (m *ToggleMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ToggleMonitor) OnChange(fn func(online bool)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline flips connectivity and notifies subscribers of actual changes.
func (m *ToggleMonitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := append(([]func(bool))(nil), m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

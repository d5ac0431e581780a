package field

import (
	"sync"

	"github.com/fieldsrv/server/internal/data"
)

// Portal is one named exit point. Enabled state is runtime-mutable,
// geometry is not.
type Portal struct {
	Info    data.PortalInfo
	enabled bool
}

// PortalMap tracks the portals of one field and their enabled flags.
type PortalMap struct {
	mu      sync.Mutex
	portals map[string]*Portal
}

func newPortalMap(info *data.FieldInfo) *PortalMap {
	m := &PortalMap{portals: make(map[string]*Portal, len(info.Portals))}
	for _, pi := range info.Portals {
		m.portals[pi.Name] = &Portal{Info: pi, enabled: true}
	}
	return m
}

// GetPortal returns a portal by name, or nil.
func (m *PortalMap) GetPortal(name string) *Portal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portals[name]
}

// IsEnabled reports whether the named portal is currently usable.
func (m *PortalMap) IsEnabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.portals[name]
	return p != nil && p.enabled
}

// EnablePortal switches a single portal on or off (scripts drive this).
func (m *PortalMap) EnablePortal(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.portals[name]; p != nil {
		p.enabled = enabled
	}
}

// ResetPortal re-enables every portal (field reset).
func (m *PortalMap) ResetPortal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.portals {
		p.enabled = true
	}
}

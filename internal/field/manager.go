package field

import (
	"sync"

	"github.com/fieldsrv/server/internal/data"
)

// Manager lazily instantiates Field objects from the field table, one per
// fieldID, and hands out the same instance for the process lifetime.
type Manager struct {
	table *data.FieldTable
	deps  Deps

	mu     sync.Mutex
	fields map[int32]*Field
}

func NewManager(table *data.FieldTable, deps Deps) *Manager {
	return &Manager{
		table:  table,
		deps:   deps,
		fields: make(map[int32]*Field),
	}
}

// GetField returns the live Field for an id, creating it on first use.
// Returns nil for ids absent from the field table.
func (m *Manager) GetField(fieldID int32) *Field {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.fields[fieldID]; ok {
		return f
	}
	info := m.table.Get(fieldID)
	if info == nil {
		return nil
	}
	f := NewField(info, m.deps)
	m.fields[fieldID] = f
	return f
}

// ActiveFields snapshots every instantiated field, for the tick loop.
func (m *Manager) ActiveFields() []*Field {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Field, 0, len(m.fields))
	for _, f := range m.fields {
		out = append(out, f)
	}
	return out
}

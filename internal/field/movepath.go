package field

import "github.com/fieldsrv/server/internal/net/packet"

// MoveElem is one node of a movement path.
type MoveElem struct {
	X, Y       int16
	MoveAction byte
	Foothold   int16
}

// MovePath is a decoded client movement path. The last element is the
// authoritative final position.
type MovePath struct {
	OriginX, OriginY int16
	Elems            []MoveElem
}

// Decode reads a path from the wire.
func (m *MovePath) Decode(r *packet.Reader) {
	m.OriginX = int16(r.ReadH())
	m.OriginY = int16(r.ReadH())
	n := int(r.ReadC())
	m.Elems = make([]MoveElem, 0, n)
	for i := 0; i < n; i++ {
		elem := MoveElem{
			X:          int16(r.ReadH()),
			Y:          int16(r.ReadH()),
			MoveAction: r.ReadC(),
			Foothold:   int16(r.ReadH()),
		}
		m.Elems = append(m.Elems, elem)
	}
}

// Encode writes the path back out for rebroadcast.
func (m *MovePath) Encode(w *packet.Writer) {
	w.WriteH(uint16(m.OriginX))
	w.WriteH(uint16(m.OriginY))
	w.WriteC(byte(len(m.Elems)))
	for _, elem := range m.Elems {
		w.WriteH(uint16(elem.X))
		w.WriteH(uint16(elem.Y))
		w.WriteC(elem.MoveAction)
		w.WriteH(uint16(elem.Foothold))
	}
}

// Last returns the final node, or nil for an empty path.
func (m *MovePath) Last() *MoveElem {
	if len(m.Elems) == 0 {
		return nil
	}
	return &m.Elems[len(m.Elems)-1]
}

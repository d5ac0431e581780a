package field

import (
	"sync"
	"time"

	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

const townPortalLifetimeMs = 120_000

// TownPortal is one player-summoned return portal. At most one per owner
// per field.
type TownPortal struct {
	OwnerID   int32
	X, Y      int16
	createdAt int64
}

func (tp *TownPortal) makePacket(open bool) []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_TOWN_PORTAL)
	if open {
		w.WriteC(1)
	} else {
		w.WriteC(0)
	}
	w.WriteD(tp.OwnerID)
	w.WriteH(uint16(tp.X))
	w.WriteH(uint16(tp.Y))
	return w.Bytes()
}

// TownPortalPool owns the player-summoned portals of one field.
type TownPortalPool struct {
	field *Field

	mu      sync.Mutex
	portals map[int32]*TownPortal // ownerID → portal
}

func newTownPortalPool(f *Field) *TownPortalPool {
	return &TownPortalPool{field: f, portals: make(map[int32]*TownPortal)}
}

// Create opens a portal for the user, replacing any previous one they own.
func (p *TownPortalPool) Create(u *world.User, x, y int16) *TownPortal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.portals[u.CharID]; ok {
		p.field.BroadcastPacket(old.makePacket(false))
	}
	tp := &TownPortal{OwnerID: u.CharID, X: x, Y: y, createdAt: time.Now().UnixMilli()}
	p.portals[u.CharID] = tp
	p.field.BroadcastPacket(tp.makePacket(true))
	return tp
}

// RemoveByOwner closes the portal owned by the given character, if any.
func (p *TownPortalPool) RemoveByOwner(ownerID int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tp, ok := p.portals[ownerID]
	if !ok {
		return
	}
	delete(p.portals, ownerID)
	p.field.BroadcastPacket(tp.makePacket(false))
}

// OnEnter replays open portals to an arriving user.
func (p *TownPortalPool) OnEnter(u *world.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tp := range p.portals {
		u.SendPacket(tp.makePacket(true))
	}
}

// Update closes portals past their lifetime.
func (p *TownPortalPool) Update(now int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for owner, tp := range p.portals {
		if now-tp.createdAt < townPortalLifetimeMs {
			continue
		}
		delete(p.portals, owner)
		p.field.BroadcastPacket(tp.makePacket(false))
	}
}

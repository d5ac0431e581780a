package field

import (
	"sync"

	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

// Summoned is one skill-summoned helper attached to its owner.
type Summoned struct {
	ObjectID int32
	OwnerID  int32
	SkillID  int32
	X, Y     int16
}

func (s *Summoned) makeEnterPacket() []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_SUMMONED_ENTER)
	w.WriteD(s.ObjectID)
	w.WriteD(s.OwnerID)
	w.WriteD(s.SkillID)
	w.WriteH(uint16(s.X))
	w.WriteH(uint16(s.Y))
	return w.Bytes()
}

func (s *Summoned) makeLeavePacket() []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_SUMMONED_LEAVE)
	w.WriteD(s.ObjectID)
	w.WriteD(s.OwnerID)
	return w.Bytes()
}

// SummonedPool owns the skill summons present on one field.
type SummonedPool struct {
	field *Field

	mu        sync.Mutex
	summons   map[int32]*Summoned
	idCounter int32
}

func newSummonedPool(f *Field) *SummonedPool {
	return &SummonedPool{field: f, summons: make(map[int32]*Summoned)}
}

// CreateSummoned spawns a summon for the user and announces it.
func (p *SummonedPool) CreateSummoned(u *world.User, skillID int32, pos Point) *Summoned {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idCounter++
	s := &Summoned{
		ObjectID: p.idCounter,
		OwnerID:  u.CharID,
		SkillID:  skillID,
		X:        pos.X,
		Y:        pos.Y,
	}
	p.summons[s.ObjectID] = s
	p.field.BroadcastPacket(s.makeEnterPacket())
	return s
}

// RemoveByOwner despawns every summon belonging to the character. skillID
// of 0 removes all of theirs, otherwise only that skill's summon.
func (p *SummonedPool) RemoveByOwner(ownerID, skillID int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.summons {
		if s.OwnerID != ownerID {
			continue
		}
		if skillID != 0 && s.SkillID != skillID {
			continue
		}
		delete(p.summons, id)
		p.field.BroadcastPacket(s.makeLeavePacket())
	}
}

// OnEnter replays live summons to an arriving user.
func (p *SummonedPool) OnEnter(u *world.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.summons {
		u.SendPacket(s.makeEnterPacket())
	}
}

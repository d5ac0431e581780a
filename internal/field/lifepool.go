package field

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/data"
	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

const mobRespawnDelayMs = 8_000

// Mob is one monster on a field. Mutable state is guarded by the owning
// LifePool's lock.
type Mob struct {
	ObjectID   int32
	TemplateID int32

	x, y       int16
	moveAction byte
	foothold   int16

	hp, maxHP int32
	mp, maxMP int32

	controller         *world.User
	nextAttackPossible bool
	skillCommand       byte

	spawn     data.MobSpawnInfo
	dead      bool
	respawnAt int64
}

func (m *Mob) makeEnterFieldPacket() []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_MOB_ENTER_FIELD)
	w.WriteD(m.ObjectID)
	w.WriteD(m.TemplateID)
	w.WriteH(uint16(m.x))
	w.WriteH(uint16(m.y))
	w.WriteC(m.moveAction)
	w.WriteH(uint16(m.foothold))
	return w.Bytes()
}

func (m *Mob) makeLeaveFieldPacket() []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_MOB_LEAVE_FIELD)
	w.WriteD(m.ObjectID)
	return w.Bytes()
}

func (m *Mob) makeChangeControllerPacket(controlled bool) []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_MOB_CHANGE_CTRL)
	if controlled {
		w.WriteC(1)
	} else {
		w.WriteC(0)
	}
	w.WriteD(m.ObjectID)
	return w.Bytes()
}

// LifePool owns the mobs of one field and delegates their movement AI to
// client controllers, one user per mob.
type LifePool struct {
	field *Field
	log   *zap.Logger

	mu        sync.Mutex
	mobs      map[int32]*Mob
	idCounter int32
}

func newLifePool(f *Field, log *zap.Logger) *LifePool {
	p := &LifePool{
		field: f,
		log:   log,
		mobs:  make(map[int32]*Mob),
	}
	for _, spawn := range f.info.Mobs {
		p.spawnLocked(spawn)
	}
	return p
}

func (p *LifePool) spawnLocked(spawn data.MobSpawnInfo) *Mob {
	p.idCounter++
	m := &Mob{
		ObjectID:   p.idCounter,
		TemplateID: spawn.TemplateID,
		x:          spawn.X,
		y:          spawn.Y,
		foothold:   spawn.Foothold,
		hp:         spawn.MaxHP,
		maxHP:      spawn.MaxHP,
		mp:         spawn.MaxMP,
		maxMP:      spawn.MaxMP,
		spawn:      spawn,
	}
	p.mobs[m.ObjectID] = m
	return m
}

// OnEnter replays live mobs to an arriving user and hands them control of
// any mob that has no controller yet.
func (p *LifePool) OnEnter(u *world.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.mobs {
		if m.dead {
			continue
		}
		u.SendPacket(m.makeEnterFieldPacket())
		if m.controller == nil {
			m.controller = u
			u.SendPacket(m.makeChangeControllerPacket(true))
		}
	}
}

// RemoveController releases every mob the leaving user controlled and
// reassigns them to another occupant when one exists.
func (p *LifePool) RemoveController(u *world.User) {
	next := p.field.anyUserExcept(u)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.mobs {
		if m.controller != u {
			continue
		}
		m.controller = next
		if next != nil {
			next.SendPacket(m.makeChangeControllerPacket(true))
		}
	}
}

// OnPacket dispatches mob-range inbound packets.
func (p *LifePool) OnPacket(u *world.User, t uint16, r *packet.Reader) {
	switch t {
	case packet.C_TYPE_MOB_MOVE:
		p.onMobMove(u, r)
	default:
		p.log.Debug("未處理的怪物封包", zap.Uint16("類型", t))
	}
}

// onMobMove applies a controller's movement report: ack the control
// sequence back to the controller, rebroadcast the path to everyone else.
func (p *LifePool) onMobMove(u *world.User, r *packet.Reader) {
	mobID := r.ReadD()
	ctrlSN := r.ReadH()
	flag := r.ReadC()
	centerSplit := int8(r.ReadC())
	skillCommand := r.ReadC()
	slv := r.ReadC()
	skillEffect := r.ReadH()
	r.ReadC()
	r.ReadD()
	var path MovePath
	path.Decode(r)

	nextAttackPossible := flag&0x0F != 0

	p.mu.Lock()
	m, ok := p.mobs[mobID]
	if !ok || m.dead || m.controller != u {
		p.mu.Unlock()
		return
	}
	m.nextAttackPossible = nextAttackPossible
	m.skillCommand = skillCommand
	if last := path.Last(); last != nil {
		m.x = last.X
		m.y = last.Y
		m.moveAction = last.MoveAction
		m.foothold = last.Foothold
	}
	mobMP := m.mp
	p.mu.Unlock()

	ack := packet.NewWriterWithType(packet.S_TYPE_MOB_CTRL_ACK)
	ack.WriteD(mobID)
	ack.WriteH(ctrlSN)
	if nextAttackPossible {
		ack.WriteC(1)
	} else {
		ack.WriteC(0)
	}
	ack.WriteD(mobMP)
	ack.WriteC(skillCommand)
	ack.WriteC(slv)
	u.SendPacket(ack.Bytes())

	move := packet.NewWriterWithType(packet.S_TYPE_MOB_MOVE)
	move.WriteD(mobID)
	if nextAttackPossible {
		move.WriteC(1)
	} else {
		move.WriteC(0)
	}
	move.WriteC(byte(centerSplit))
	move.WriteC(skillCommand)
	move.WriteC(slv)
	move.WriteH(skillEffect)
	path.Encode(move)
	p.field.SplitSendPacket(move.Bytes(), u)
}

// OnMobDamaged applies damage, killing and scheduling a respawn when HP
// runs out. Returns true when the mob died.
func (p *LifePool) OnMobDamaged(mobID, damage int32) bool {
	now := time.Now().UnixMilli()
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.mobs[mobID]
	if !ok || m.dead {
		return false
	}
	m.hp -= damage
	if m.hp > 0 {
		return false
	}
	m.dead = true
	m.controller = nil
	m.respawnAt = now + mobRespawnDelayMs
	p.field.BroadcastPacket(m.makeLeaveFieldPacket())
	return true
}

// GetMob returns a live mob by object id, or nil.
func (p *LifePool) GetMob(mobID int32) *Mob {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.mobs[mobID]
	if m == nil || m.dead {
		return nil
	}
	return m
}

// Update revives mobs whose respawn timers have elapsed.
func (p *LifePool) Update(now int64) {
	ctrl := p.field.anyUserExcept(nil)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.mobs {
		if !m.dead || now < m.respawnAt {
			continue
		}
		m.dead = false
		m.hp = m.spawn.MaxHP
		m.mp = m.spawn.MaxMP
		m.x = m.spawn.X
		m.y = m.spawn.Y
		m.foothold = m.spawn.Foothold
		m.moveAction = 0
		p.field.BroadcastPacket(m.makeEnterFieldPacket())
		if ctrl != nil {
			m.controller = ctrl
			ctrl.SendPacket(m.makeChangeControllerPacket(true))
		}
	}
}

// Reset restores every mob to its spawn point at full health.
func (p *LifePool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.mobs {
		if !m.dead {
			p.field.BroadcastPacket(m.makeLeaveFieldPacket())
		}
		m.dead = false
		m.controller = nil
		m.hp = m.spawn.MaxHP
		m.mp = m.spawn.MaxMP
		m.x = m.spawn.X
		m.y = m.spawn.Y
		m.foothold = m.spawn.Foothold
		m.moveAction = 0
		p.field.BroadcastPacket(m.makeEnterFieldPacket())
	}
}

// Count returns the number of live mobs.
func (p *LifePool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.mobs {
		if !m.dead {
			n++
		}
	}
	return n
}

package field

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/data"
	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

// Reactor is one interactive object (box, lever, event trigger). State
// advances on hits until the final state clears it from the field.
type Reactor struct {
	ObjectID   int32
	TemplateID int32
	Name       string

	x, y      int16
	state     int8
	maxStates int8
	cleared   bool
	respawnAt int64
	spawn     data.ReactorSpawnInfo
}

func (rc *Reactor) makeEnterPacket() []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_REACTOR_ENTER)
	w.WriteD(rc.ObjectID)
	w.WriteD(rc.TemplateID)
	w.WriteC(byte(rc.state))
	w.WriteH(uint16(rc.x))
	w.WriteH(uint16(rc.y))
	return w.Bytes()
}

func (rc *Reactor) makeLeavePacket() []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_REACTOR_LEAVE)
	w.WriteD(rc.ObjectID)
	w.WriteC(byte(rc.state))
	w.WriteH(uint16(rc.x))
	w.WriteH(uint16(rc.y))
	return w.Bytes()
}

func (rc *Reactor) makeChangeStatePacket(delay int16) []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_REACTOR_CHANGE)
	w.WriteD(rc.ObjectID)
	w.WriteC(byte(rc.state))
	w.WriteH(uint16(rc.x))
	w.WriteH(uint16(rc.y))
	w.WriteH(uint16(delay))
	return w.Bytes()
}

// ReactorPool owns the reactors of one field.
type ReactorPool struct {
	field *Field
	log   *zap.Logger

	mu        sync.Mutex
	reactors  map[int32]*Reactor
	idCounter int32
}

func newReactorPool(f *Field, log *zap.Logger) *ReactorPool {
	p := &ReactorPool{
		field:    f,
		log:      log,
		reactors: make(map[int32]*Reactor),
	}
	for _, spawn := range f.info.Reactors {
		p.idCounter++
		p.reactors[p.idCounter] = &Reactor{
			ObjectID:   p.idCounter,
			TemplateID: spawn.TemplateID,
			Name:       spawn.Name,
			x:          spawn.X,
			y:          spawn.Y,
			maxStates:  spawn.States,
			spawn:      spawn,
		}
	}
	return p
}

// OnEnter replays active reactors to an arriving user.
func (p *ReactorPool) OnEnter(u *world.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rc := range p.reactors {
		if !rc.cleared {
			u.SendPacket(rc.makeEnterPacket())
		}
	}
}

// OnPacket dispatches reactor-range inbound packets.
func (p *ReactorPool) OnPacket(u *world.User, t uint16, r *packet.Reader) {
	switch t {
	case packet.C_TYPE_REACTOR_HIT:
		p.onHit(u, r)
	case packet.C_TYPE_REACTOR_TOUCH:
		// Touch reactors are script-driven; nothing generic to do.
	}
}

func (p *ReactorPool) onHit(u *world.User, r *packet.Reader) {
	reactorID := r.ReadD()
	r.ReadD() // hit delay/option bits
	now := time.Now().UnixMilli()

	p.mu.Lock()
	defer p.mu.Unlock()
	rc, ok := p.reactors[reactorID]
	if !ok || rc.cleared {
		return
	}
	rc.state++
	if rc.state >= rc.maxStates {
		rc.cleared = true
		if rc.spawn.RespawnSec > 0 {
			rc.respawnAt = now + int64(rc.spawn.RespawnSec)*1000
		}
		p.field.BroadcastPacket(rc.makeLeavePacket())
		p.log.Debug("反應器清除",
			zap.Int32("反應器", reactorID),
			zap.Int32("角色", u.CharID))
		return
	}
	p.field.BroadcastPacket(rc.makeChangeStatePacket(0))
}

// FindReactorByName returns the first active reactor with the given name.
func (p *ReactorPool) FindReactorByName(name string) *Reactor {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rc := range p.reactors {
		if !rc.cleared && rc.Name == name {
			return rc
		}
	}
	return nil
}

// Update respawns cleared reactors whose timers have elapsed.
func (p *ReactorPool) Update(now int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rc := range p.reactors {
		if !rc.cleared || rc.respawnAt == 0 || now < rc.respawnAt {
			continue
		}
		rc.cleared = false
		rc.state = 0
		rc.respawnAt = 0
		p.field.BroadcastPacket(rc.makeEnterPacket())
	}
}

// Reset restores every reactor to state 0, optionally shuffling positions
// among the spawn points (event maps reshuffle hidden reactors).
func (p *ReactorPool) Reset(shuffle bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var list []*Reactor
	for _, rc := range p.reactors {
		if !rc.cleared {
			p.field.BroadcastPacket(rc.makeLeavePacket())
		}
		rc.cleared = false
		rc.state = 0
		rc.respawnAt = 0
		list = append(list, rc)
	}
	if shuffle && len(list) > 1 {
		pos := make([]Point, len(list))
		for i, rc := range list {
			pos[i] = Point{X: rc.spawn.X, Y: rc.spawn.Y}
		}
		rand.Shuffle(len(pos), func(i, j int) { pos[i], pos[j] = pos[j], pos[i] })
		for i, rc := range list {
			rc.x = pos[i].X
			rc.y = pos[i].Y
		}
	} else {
		for _, rc := range list {
			rc.x = rc.spawn.X
			rc.y = rc.spawn.Y
		}
	}
	for _, rc := range list {
		p.field.BroadcastPacket(rc.makeEnterPacket())
	}
}

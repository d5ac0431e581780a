package field

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/data"
	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

// ContinentProvider answers ship/continent schedule queries for maps that
// render a travelling vessel.
type ContinentProvider interface {
	ContiState(fieldID int32) (state byte, eventDoing byte)
}

// FieldScript runs the per-map lua hooks.
type FieldScript interface {
	OnFirstUserEnter(hook string, fieldID int32, u *world.User)
	OnUserEnter(hook string, fieldID int32, u *world.User)
}

// Deps bundles the collaborators a Field needs. Continent and Script may
// be nil; the field then skips those hooks.
type Deps struct {
	Items     ItemProvider
	Inventory Inventory
	Parties   *world.PartyManager
	Continent ContinentProvider
	Script    FieldScript
	Log       *zap.Logger
}

// Field is one live map instance: the user roster plus the entity pools.
//
// Lock discipline: f.mu guards only the users map and is the innermost
// lock in the process. Pools take their own lock first and may then
// broadcast (which takes f.mu briefly); Field never calls into a pool
// while holding f.mu.
type Field struct {
	id      int32
	info    *data.FieldInfo
	deps    Deps
	log     *zap.Logger
	space   *Space2D
	areas   []data.AreaRect
	opened  int64

	dropPool     *DropPool
	lifePool     *LifePool
	reactorPool  *ReactorPool
	portalMap    *PortalMap
	townPortals  *TownPortalPool
	summonedPool *SummonedPool

	mu             sync.Mutex
	users          map[int32]*world.User
	firstEnterDone bool
}

func NewField(info *data.FieldInfo, deps Deps) *Field {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	f := &Field{
		id:     info.FieldID,
		info:   info,
		deps:   deps,
		log:    log.With(zap.Int32("地圖", info.FieldID)),
		space:  NewSpace2D(info),
		areas:  info.Areas,
		opened: time.Now().UnixMilli(),
		users:  make(map[int32]*world.User),
	}
	f.dropPool = newDropPool(f, deps.Items, deps.Inventory, info.EverlastingDrops, f.log)
	f.lifePool = newLifePool(f, f.log)
	f.reactorPool = newReactorPool(f, f.log)
	f.portalMap = newPortalMap(info)
	f.townPortals = newTownPortalPool(f)
	f.summonedPool = newSummonedPool(f)
	return f
}

func (f *Field) ID() int32 { return f.id }

func (f *Field) Info() *data.FieldInfo { return f.info }

func (f *Field) Space() *Space2D { return f.space }

func (f *Field) DropPool() *DropPool { return f.dropPool }

func (f *Field) LifePool() *LifePool { return f.lifePool }

func (f *Field) ReactorPool() *ReactorPool { return f.reactorPool }

func (f *Field) PortalMap() *PortalMap { return f.portalMap }

func (f *Field) TownPortals() *TownPortalPool { return f.townPortals }

func (f *Field) SummonedPool() *SummonedPool { return f.summonedPool }

// OnEnter admits a user: presence exchange with current occupants, entity
// replay from every pool, party notification and script hooks.
func (f *Field) OnEnter(u *world.User) {
	enterPkt := u.MakeEnterFieldPacket()

	f.mu.Lock()
	for _, other := range f.users {
		other.SendPacket(enterPkt)
		u.SendPacket(other.MakeEnterFieldPacket())
	}
	f.users[u.CharID] = u
	first := !f.firstEnterDone
	f.firstEnterDone = true
	f.mu.Unlock()

	u.SetFieldID(f.id)

	f.lifePool.OnEnter(u)
	f.dropPool.OnEnter(u)
	f.reactorPool.OnEnter(u)
	f.townPortals.OnEnter(u)
	f.summonedPool.OnEnter(u)

	f.deps.Parties.NotifyTransferField(u.CharID, f.id)

	if f.deps.Script != nil {
		if first && f.info.FirstUserEnter != "" {
			f.deps.Script.OnFirstUserEnter(f.info.FirstUserEnter, f.id, u)
		}
		if f.info.UserEnter != "" {
			f.deps.Script.OnUserEnter(f.info.UserEnter, f.id, u)
		}
	}

	f.log.Debug("玩家進入地圖", zap.Int32("角色", u.CharID))
}

// OnLeave removes a user and announces the departure to everyone left.
func (f *Field) OnLeave(u *world.User) {
	f.mu.Lock()
	delete(f.users, u.CharID)
	f.mu.Unlock()

	f.lifePool.RemoveController(u)
	f.BroadcastPacket(u.MakeLeaveFieldPacket())

	f.log.Debug("玩家離開地圖", zap.Int32("角色", u.CharID))
}

// BroadcastPacket sends data to every user on the field.
func (f *Field) BroadcastPacket(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		u.SendPacket(data)
	}
}

// SplitSendPacket sends data to every user except one.
func (f *Field) SplitSendPacket(data []byte, except *world.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u != except {
			u.SendPacket(data)
		}
	}
}

// BroadcastIf sends data to every user the predicate admits.
func (f *Field) BroadcastIf(pred func(*world.User) bool, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if pred == nil || pred(u) {
			u.SendPacket(data)
		}
	}
}

// anyUserExcept returns an arbitrary occupant other than skip, or nil.
func (f *Field) anyUserExcept(skip *world.User) *world.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u != skip {
			return u
		}
	}
	return nil
}

// FindUser returns the occupant with the given character id, or nil.
func (f *Field) FindUser(charID int32) *world.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[charID]
}

// UserCount returns the number of occupants.
func (f *Field) UserCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// OnPacket routes one inbound packet from an occupant. The 2-byte type
// word has already been consumed by the dispatcher.
func (f *Field) OnPacket(u *world.User, t uint16, r *packet.Reader) {
	switch {
	case t == packet.C_TYPE_USER_MOVE:
		f.OnUserMove(u, r)
	case t == packet.C_TYPE_PICKUP_REQUEST:
		f.dropPool.OnPickUpRequest(u, r, nil)
	case t == packet.C_TYPE_CONTI_STATE:
		f.OnContiMoveState(u, r)
	case t >= packet.C_TYPE_MOB_MIN && t <= packet.C_TYPE_MOB_MAX:
		f.lifePool.OnPacket(u, t, r)
	case t >= packet.C_TYPE_REACTOR_MIN && t <= packet.C_TYPE_REACTOR_MAX:
		f.reactorPool.OnPacket(u, t, r)
	default:
		f.log.Debug("未處理的地圖封包", zap.Uint16("類型", t), zap.Int32("角色", u.CharID))
	}
}

// OnUserMove applies a movement path and rebroadcasts it to the rest of
// the map.
func (f *Field) OnUserMove(u *world.User, r *packet.Reader) {
	r.ReadC() // portal entry count, anti-teleport bookkeeping
	var path MovePath
	path.Decode(r)
	if last := path.Last(); last != nil {
		u.SetMovePosition(last.X, last.Y, last.MoveAction, last.Foothold)
	}

	w := packet.NewWriterWithType(packet.S_TYPE_USER_MOVE)
	w.WriteD(u.CharID)
	path.Encode(w)
	f.SplitSendPacket(w.Bytes(), u)
}

// OnContiMoveState answers a ship-schedule query for this map.
func (f *Field) OnContiMoveState(u *world.User, r *packet.Reader) {
	fieldID := r.ReadD()
	var state, eventDoing byte
	if f.deps.Continent != nil {
		state, eventDoing = f.deps.Continent.ContiState(fieldID)
	}
	w := packet.NewWriterWithType(packet.S_TYPE_CONTI_STATE)
	w.WriteC(state)
	w.WriteC(eventDoing)
	u.SendPacket(w.Bytes())
}

// CountUserInArea counts occupants inside the named area rectangle.
func (f *Field) CountUserInArea(name string) int {
	var rc Rect
	found := false
	for _, a := range f.areas {
		if a.Name == name {
			rc = Rect{Left: a.Left, Top: a.Top, Right: a.Right, Bottom: a.Bottom}
			found = true
			break
		}
	}
	if !found {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.users {
		x, y := u.Pos()
		if rc.PtInRect(Point{X: x, Y: y}) {
			n++
		}
	}
	return n
}

// CountMaleInArea counts male occupants inside the named area.
func (f *Field) CountMaleInArea(name string) int {
	return f.countGenderInArea(name, 0)
}

// CountFemaleInArea counts female occupants inside the named area.
func (f *Field) CountFemaleInArea(name string) int {
	return f.countGenderInArea(name, 1)
}

func (f *Field) countGenderInArea(name string, gender byte) int {
	var rc Rect
	found := false
	for _, a := range f.areas {
		if a.Name == name {
			rc = Rect{Left: a.Left, Top: a.Top, Right: a.Right, Bottom: a.Bottom}
			found = true
			break
		}
	}
	if !found {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.users {
		if u.Gender != gender {
			continue
		}
		x, y := u.Pos()
		if rc.PtInRect(Point{X: x, Y: y}) {
			n++
		}
	}
	return n
}

// Field effect kinds for EffectObject-family broadcasts.
const (
	fieldEffectScreen byte = 3
	fieldEffectSound  byte = 4
	fieldEffectObject byte = 2
)

func (f *Field) broadcastEffect(kind byte, name string) {
	w := packet.NewWriterWithType(packet.S_TYPE_FIELD_EFFECT)
	w.WriteC(kind)
	w.WriteS(name)
	f.BroadcastPacket(w.Bytes())
}

// EffectScreen shows a full-screen effect to everyone on the map.
func (f *Field) EffectScreen(name string) { f.broadcastEffect(fieldEffectScreen, name) }

// EffectSound plays a sound for everyone on the map.
func (f *Field) EffectSound(name string) { f.broadcastEffect(fieldEffectSound, name) }

// EffectObject toggles a named scripted object for everyone on the map.
func (f *Field) EffectObject(name string) { f.broadcastEffect(fieldEffectObject, name) }

// Update advances timed state: mob respawns, reactor respawns, town portal
// expiry and the debounced drop sweep. Called once per server tick.
func (f *Field) Update(now int64) {
	f.lifePool.Update(now)
	f.reactorPool.Update(now)
	f.townPortals.Update(now)
	f.dropPool.TryExpire(false)
}

// Reset restores the map to its pristine state: every drop cleared
// (everlasting included), mobs and reactors respawned, portals re-enabled.
func (f *Field) Reset() {
	f.dropPool.TryExpire(true)
	f.lifePool.Reset()
	f.reactorPool.Reset(true)
	f.portalMap.ResetPortal()
	f.log.Info("地圖重置")
}

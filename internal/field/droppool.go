package field

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

// Drop lifecycle constants, all in milliseconds.
const (
	DropExclusiveOwnershipMs = 10_000  // pickup exclusivity window
	DropLifetimeMs           = 180_000 // drop age before expiry
	DropExpireSweepMs        = 10_000  // minimum interval between expiry sweeps
)

const dropIDSeed = 10000

// Inventory credits pickups to a character. Implementations must not call
// back into the pool.
type Inventory interface {
	// PickUpMoney returns false when the money cannot be credited.
	PickUpMoney(u *world.User, amount int32) bool
	// PickUpItem returns false when inventory is full or the stack is
	// otherwise rejected; the drop then stays on the ground.
	PickUpItem(u *world.User, item *world.ItemSlot) bool
}

// ItemProvider answers the item-metadata questions drop handling asks.
type ItemProvider interface {
	IsQuestItem(itemID int32) bool
	IsTradeBlocked(itemID int32) bool
	ConsumeOnPickup(itemID int32) bool
	Period(itemID int32) int32
	// ApplyStateChange applies a consume-on-pickup item's effect directly.
	ApplyStateChange(u *world.User, itemID int32, now int64)
}

// Proxy identifies a pet picking up on behalf of its owner.
type Proxy struct {
	ID   int32
	Name string
}

// DropPool owns every drop lying on one field. The pool lock is held
// across the full check-credit-remove sequence of a pickup, which is what
// makes pickup exactly-once under concurrent requests. Broadcasts go out
// while the pool lock is held; the field's user-map lock is ordered inside
// pool locks, never the other way around.
type DropPool struct {
	field     *Field
	items     ItemProvider
	inventory Inventory
	log       *zap.Logger

	mu          sync.Mutex
	drops       map[int32]*Drop
	idCounter   int32
	lastExpire  int64
	everlasting bool // field flag: environment drops here never age out
}

func newDropPool(f *Field, items ItemProvider, inventory Inventory, everlasting bool, log *zap.Logger) *DropPool {
	return &DropPool{
		field:       f,
		items:       items,
		inventory:   inventory,
		log:         log,
		drops:       make(map[int32]*Drop),
		idCounter:   dropIDSeed,
		everlasting: everlasting,
	}
}

// Create places a new drop. origin is where the payload came from (the
// mob, the dropping player), target the requested landing x/y; the actual
// landing point snaps to the surface underneath, falling back to the
// closest foothold when the target is outside the map. Returns nil when
// the payload vanishes instead of landing (untradable environment drops).
func (p *DropPool) Create(reward Reward, ownerID, ownPartyID int32, ownType OwnType, sourceID int32, origin, target Point, delay int16, admin, byProxy bool) *Drop {
	x, y := target.X, target.Y
	if fh, landY := p.field.space.FootholdUnderneath(x, origin.Y-100); fh != nil {
		y = landY
	}
	if !p.field.space.IsPointInMBR(x, y) {
		_, pt := p.field.space.FootholdClosest(origin.X, origin.Y)
		x, y = pt.X, pt.Y
	}
	now := time.Now().UnixMilli()

	d := &Drop{
		X:          x,
		Y:          y,
		OwnType:    ownType,
		OwnerID:    ownerID,
		OwnPartyID: ownPartyID,
		SourceID:   sourceID,
		Money:      reward.Money,
		Item:       reward.Item,
		ByProxy:    byProxy,
		createTime: now,
	}
	if d.Item != nil {
		if period := p.items.Period(d.Item.ItemID); period > 0 {
			d.Item.ExpireAt = now + int64(period)*60_000
		}
		d.ownerOnly = p.items.IsQuestItem(d.Item.ItemID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Untradable payloads from the environment play the drop animation
	// and never land, unless an admin forced them out.
	if d.Item != nil && sourceID == 0 && !admin &&
		(p.items.IsQuestItem(d.Item.ItemID) || p.items.IsTradeBlocked(d.Item.ItemID)) {
		p.idCounter++
		d.DropID = p.idCounter
		p.field.BroadcastPacket(d.MakeEnterFieldPacket(DropEnterFadingOut, delay))
		return nil
	}

	d.Everlasting = p.everlasting && sourceID == 0

	p.idCounter++
	d.DropID = p.idCounter
	p.field.BroadcastIf(d.IsShowTo, d.MakeEnterFieldPacket(DropEnterCreate, delay))
	p.drops[d.DropID] = d
	return d
}

// OnEnter replays every live drop to a user entering the field.
func (p *DropPool) OnEnter(u *world.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.drops {
		if d.IsShowTo(u) {
			u.SendPacket(d.MakeEnterFieldPacket(DropEnterSettled, 0))
		}
	}
}

// OnPickUpRequest handles one pickup attempt, either by the user or by a
// pet proxy. Exactly one concurrent request per drop can succeed.
func (p *DropPool) OnPickUpRequest(u *world.User, r *packet.Reader, proxy *Proxy) {
	r.ReadD() // client field key
	r.ReadC()
	cx := int16(r.ReadH())
	cy := int16(r.ReadH())
	dropID := r.ReadD()
	byPlayer := proxy == nil
	now := time.Now().UnixMilli()

	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.drops[dropID]
	if !ok {
		// Lost the race, or a stale request for an expired drop.
		u.SendPacket(makePickUpResultPacket(false, false, 0, 0, byPlayer))
		return
	}

	if age := now - d.createTime; age < DropExclusiveOwnershipMs {
		if d.OwnType == OwnTypeUser && d.OwnerID != 0 && d.OwnerID != u.CharID {
			u.SendPacket(makePickUpResultPacket(false, false, 0, 0, byPlayer))
			return
		}
		if d.OwnType == OwnTypeParty && d.OwnPartyID != 0 &&
			!p.field.deps.Parties.IsMember(d.OwnPartyID, u.CharID) {
			u.SendPacket(makePickUpResultPacket(false, false, 0, 0, byPlayer))
			return
		}
	}

	var picked bool
	if d.IsMoney() {
		picked = p.inventory.PickUpMoney(u, d.Money)
		u.SendPacket(makePickUpResultPacket(picked, true, d.Money, 0, byPlayer))
	} else if p.items.ConsumeOnPickup(d.Item.ItemID) {
		p.items.ApplyStateChange(u, d.Item.ItemID, now)
		picked = true
		u.SendPacket(makePickUpResultPacket(true, false, d.Item.ItemID, d.Item.Number, byPlayer))
	} else {
		picked = p.inventory.PickUpItem(u, d.Item)
		u.SendPacket(makePickUpResultPacket(picked, false, d.Item.ItemID, d.Item.Number, byPlayer))
	}
	if !picked {
		return
	}

	mode := DropLeavePickedUpByUser
	if !byPlayer {
		mode = DropLeavePickedUpByProxy
	}
	p.field.BroadcastPacket(d.MakeLeaveFieldPacket(mode, u.CharID))
	delete(p.drops, dropID)

	p.log.Debug("拾取地面物品",
		zap.Int32("角色", u.CharID),
		zap.Int32("物品", dropID),
		zap.Int16("x", cx),
		zap.Int16("y", cy))
}

// FindDropInRect returns the drops inside rc that are at least minAgeMs
// old, for sweeper-style gameplay queries.
func (p *DropPool) FindDropInRect(rc Rect, minAgeMs int64) []*Drop {
	now := time.Now().UnixMilli()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Drop
	for _, d := range p.drops {
		if !rc.PtInRect(Point{X: d.X, Y: d.Y}) {
			continue
		}
		if now-d.createTime < minAgeMs {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Remove deletes one drop by id. delay > 0 plays a delayed removal on
// clients instead of an instant one. Unknown ids are ignored.
func (p *DropPool) Remove(dropID, delay int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.drops[dropID]
	if !ok {
		return
	}
	if delay > 0 {
		p.field.BroadcastPacket(d.MakeLeaveFieldPacket(DropLeaveDelayed, delay))
	} else {
		p.field.BroadcastPacket(d.MakeLeaveFieldPacket(DropLeaveExpired, 0))
	}
	delete(p.drops, dropID)
}

// TryExpire removes drops older than the lifetime. Sweeps are debounced to
// one per DropExpireSweepMs. forceAll clears the pool unconditionally,
// everlasting drops included (field reset).
func (p *DropPool) TryExpire(forceAll bool) {
	now := time.Now().UnixMilli()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !forceAll && now-p.lastExpire < DropExpireSweepMs {
		return
	}
	p.lastExpire = now
	for id, d := range p.drops {
		if !forceAll && (d.Everlasting || now-d.createTime < DropLifetimeMs) {
			continue
		}
		p.field.BroadcastPacket(d.MakeLeaveFieldPacket(DropLeaveExpired, 0))
		delete(p.drops, id)
	}
}

// Count returns the number of drops currently on the ground.
func (p *DropPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.drops)
}

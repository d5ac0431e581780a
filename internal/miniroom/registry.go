package miniroom

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

// UserFinder resolves a character id to a connected user, for invites.
type UserFinder interface {
	FindUser(charID int32) *world.User
}

// Exchange settles a completed trade atomically: both offers change hands
// or neither does. Implementations persist the movement before reporting
// success.
type Exchange interface {
	Settle(a, b *world.User, offerA, offerB Offer) error
}

// ItemChecker answers tradability questions for items placed in offers.
type ItemChecker interface {
	IsTradeBlocked(itemID int32) bool
}

// Deps bundles the registry's collaborators.
type Deps struct {
	Finder   UserFinder
	Exchange Exchange
	Items    ItemChecker
	Log      *zap.Logger
}

// Registry is the process-wide room directory. Serial numbers are
// monotonic and never reused within a process lifetime.
type Registry struct {
	finder   UserFinder
	exchange Exchange
	items    ItemChecker
	log      *zap.Logger

	sn atomic.Int32

	mu    sync.Mutex
	rooms map[int32]*Base
}

func NewRegistry(deps Deps) *Registry {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		finder:   deps.Finder,
		exchange: deps.Exchange,
		items:    deps.Items,
		log:      log,
		rooms:    make(map[int32]*Base),
	}
}

// GetRoom returns the live room with the given serial number, or nil.
func (g *Registry) GetRoom(sn int32) *Base {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[sn]
}

// Count returns the number of live rooms.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) register(b *Base) {
	g.mu.Lock()
	g.rooms[b.sn] = b
	g.mu.Unlock()
}

func (g *Registry) unregister(sn int32) {
	g.mu.Lock()
	delete(g.rooms, sn)
	g.mu.Unlock()
}

// newRoom builds a category specialization around a fresh Base. Returns
// nil for categories this server does not host.
func (g *Registry) newRoom(cat Category, tournament bool) *Base {
	b := &Base{
		registry:     g,
		sn:           g.sn.Add(1),
		category:     cat,
		maxUsers:     cat.MaxUsers(),
		log:          g.log,
		users:        make([]*world.User, cat.MaxUsers()),
		reserved:     make([]int32, cat.MaxUsers()),
		reservedTime: make([]int64, cat.MaxUsers()),
		tournament:   tournament,
	}
	switch cat {
	case CategoryTrading:
		b.impl = newTradingRoom(b, g.exchange, g.items)
	default:
		return nil
	}
	return b
}

// CreateRoom builds and registers a new room with the requester seated in
// slot 0. The failure reason goes back over the wire; the room is
// discarded on any failure.
func (g *Registry) CreateRoom(u *world.User, cat Category, r *packet.Reader, tournament bool, round int32) *Base {
	b := g.newRoom(cat, tournament)
	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(resEnterResult)
	if b == nil {
		w.WriteC(0)
		w.WriteC(EnterBusy)
		u.SendPacket(w.Bytes())
		return nil
	}

	if reason := b.onCreateBase(u, r, round); reason != 0 {
		w.WriteC(0)
		w.WriteC(reason)
		u.SendPacket(w.Bytes())
		return nil
	}

	b.mu.Lock()
	w.WriteC(byte(b.category))
	w.WriteC(byte(b.maxUsers))
	w.WriteC(0)
	b.encodeAvatarLocked(0, w)
	w.WriteC(0xFF)
	b.mu.Unlock()
	u.SendPacket(w.Bytes())

	g.log.Debug("開啟小屋",
		zap.Int32("編號", b.sn),
		zap.Int32("類型", int32(cat)),
		zap.Int32("角色", u.CharID))
	return b
}

// Enter admits a user into an existing room by serial number. A
// tournament-flag mismatch is reported distinctly from a missing room.
func (g *Registry) Enter(u *world.User, sn int32, r *packet.Reader, tournament bool) {
	rm := g.GetRoom(sn)
	reason := EnterNotFound
	if rm != nil {
		reason = rm.onEnterBase(u, r, tournament)
	}
	if reason == EnterOK {
		return
	}
	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(resEnterResult)
	w.WriteC(0)
	w.WriteC(reason)
	u.SendPacket(w.Bytes())
}

// OnPacket is the dispatcher entry for every room request. The sub-action
// byte follows the type word; create and enter address the registry, the
// rest address the user's current room.
func (g *Registry) OnPacket(u *world.User, r *packet.Reader) {
	action := r.ReadC()
	switch action {
	case packet.MR_Create:
		cat := Category(r.ReadC())
		tournament := r.ReadC() == 1
		g.CreateRoom(u, cat, r, tournament, 0)
	case packet.MR_Enter:
		sn := r.ReadD()
		tournament := r.ReadC() == 1
		g.Enter(u, sn, r, tournament)
	default:
		rm, _ := u.MiniRoom().(*Base)
		if rm == nil {
			g.log.Debug("玩家不在小屋內", zap.Int32("角色", u.CharID), zap.Uint8("動作", action))
			return
		}
		rm.OnPacketBase(u, action, r)
	}
}

// OnUserLeaveGame detaches a disconnecting user from their room, if any.
func (g *Registry) OnUserLeaveGame(u *world.User) {
	rm, _ := u.MiniRoom().(*Base)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if idx := rm.findUserSlotLocked(u); idx >= 0 {
		rm.doLeaveLocked(idx, LeaveUserRequest, true)
	}
}

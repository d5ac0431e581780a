// Package miniroom implements the multi-party interaction rooms: trade
// windows, game rooms and shops. One process-wide registry tracks every
// open room by serial number; a generic slot/admission/leave state
// machine is specialized per category.
package miniroom

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

// Category selects the room specialization and its slot capacity.
type Category int32

const (
	CategoryOmok          Category = 1
	CategoryMemoryGame    Category = 2
	CategoryTrading       Category = 3
	CategoryPersonalShop  Category = 4
	CategoryEntrustedShop Category = 5
)

// MaxUsers returns the slot capacity for the category.
func (c Category) MaxUsers() int {
	if c == CategoryTrading {
		return 2
	}
	return 4
}

// Outbound result codes (first byte after the type word).
const (
	resInvite      byte = 2 // prompt sent to the invited user
	resInviteFail  byte = 3 // failure reason sent back to the inviter
	resEnter       byte = 4 // newcomer avatar broadcast to occupants
	resEnterResult byte = 5 // roster + payload to the entrant, or failure
	resChat        byte = 6
	resLeave       byte = 0x0A
	resBalloon     byte = 0x0C
)

// Admission failure reasons carried by resEnterResult.
const (
	EnterOK                 byte = 0
	EnterNotFound           byte = 1
	EnterFull               byte = 2
	EnterBusy               byte = 3 // already engaged in another interaction
	EnterDead               byte = 4
	EnterInvalidField       byte = 5
	EnterDuplicate          byte = 8
	EnterTournamentMismatch byte = 16
	EnterInvalidPassword    byte = 19
)

// Invite failure reasons carried by resInviteFail.
const (
	InviteInvalidUser     byte = 1
	InviteUnableToProcess byte = 2
)

// Leave reasons. LeaveHostOut tears an entrusted room down; every other
// code leaves entrusted rooms standing.
const (
	LeaveUserRequest byte = 0
	LeaveClosed      byte = 2
	LeaveHostOut     byte = 3
	LeaveTradeDone   byte = 6
	LeaveTradeFail   byte = 7
)

// SeatReservationMs is how long a vacated slot stays held for the
// character who left it.
const SeatReservationMs = 30_000

// roomImpl is the category-specific half of a room. Every hook except
// OnPacket runs with the room lock held; OnPacket is entered lock-free
// and takes it as needed.
type roomImpl interface {
	// OnPacket handles category-specific sub-actions.
	OnPacket(u *world.User, action byte, r *packet.Reader)
	// CheckAdmission runs extra category checks; 0 admits.
	CheckAdmission(u *world.User, onCreate bool) byte
	// EncodeEnter appends category payload to the newcomer broadcast.
	EncodeEnter(u *world.User, w *packet.Writer)
	// EncodeEnterResult appends category payload to the entrant's roster.
	EncodeEnterResult(u *world.User, w *packet.Writer)
	// EncodeLeave appends category payload to the leave broadcast.
	EncodeLeave(u *world.User, w *packet.Writer)
	// OnLeave runs category cleanup for one departing occupant.
	OnLeave(u *world.User, leaveType byte)
	// IsEntrusted reports whether the room outlives its owner's absence.
	IsEntrusted() bool
}

// Base is the generic room state machine. Category specializations hold a
// back-pointer and are reached through impl.
//
// Lock discipline: b.mu is taken before the registry lock when a teardown
// removes the room; the registry never calls into a room while holding
// its own lock.
type Base struct {
	registry *Registry
	sn       int32
	category Category
	maxUsers int
	log      *zap.Logger

	mu           sync.Mutex
	impl         roomImpl
	title        string
	passwordHash []byte
	users        []*world.User
	reserved     []int32
	reservedTime []int64
	curUsers     int
	round        int32
	opened       bool
	tournament   bool
	private      bool
	destroyed    bool
}

func (b *Base) SN() int32 { return b.sn }

func (b *Base) Category() Category { return b.category }

// CurUsers returns the occupancy count.
func (b *Base) CurUsers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.curUsers
}

// Title returns the room title.
func (b *Base) Title() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.title
}

// findEmptySlotLocked clears expired seat reservations, then returns the
// first slot that is free for this character: a seat reserved for them
// wins over a plain empty one. Returns -1 when nothing is available.
func (b *Base) findEmptySlotLocked(charID int32) int {
	now := time.Now().UnixMilli()
	for i := 0; i < b.maxUsers; i++ {
		if b.reserved[i] != 0 && now-b.reservedTime[i] > SeatReservationMs {
			b.reserved[i] = 0
			b.reservedTime[i] = 0
		}
	}
	for i := 0; i < b.maxUsers; i++ {
		if b.users[i] == nil && b.reserved[i] == charID {
			return i
		}
	}
	for i := 0; i < b.maxUsers; i++ {
		if b.users[i] == nil && b.reserved[i] == 0 {
			return i
		}
	}
	return -1
}

func (b *Base) findUserSlotLocked(u *world.User) int {
	for i := 0; i < b.maxUsers; i++ {
		if b.users[i] == u {
			return i
		}
	}
	return -1
}

// FindUserSlot returns the slot index u occupies, or -1.
func (b *Base) FindUserSlot(u *world.User) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findUserSlotLocked(u)
}

// broadcastLocked sends data to every occupant except one.
func (b *Base) broadcastLocked(data []byte, except *world.User) {
	for i := 0; i < b.maxUsers; i++ {
		if b.users[i] != nil && b.users[i] != except {
			b.users[i].SendPacket(data)
		}
	}
}

// Broadcast sends data to every occupant except one.
func (b *Base) Broadcast(data []byte, except *world.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastLocked(data, except)
}

func (b *Base) encodeAvatarLocked(idx int, w *packet.Writer) {
	u := b.users[idx]
	if u == nil {
		return
	}
	w.WriteC(byte(idx))
	u.EncodeAvatar(w)
	w.WriteS(u.Name)
}

// onCreateBase seats the creator in slot 0 and registers the room.
// Returns an admission reason; 0 means the room is live.
func (b *Base) onCreateBase(u *world.User, r *packet.Reader, round int32) byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !u.CanAttachAdditionalProcess() {
		return EnterBusy
	}
	if reason := b.impl.CheckAdmission(u, true); reason != 0 {
		return reason
	}

	b.title = r.ReadS()
	b.private = r.ReadC() == 1
	if b.private {
		hash, err := bcrypt.GenerateFromPassword([]byte(r.ReadS()), bcrypt.DefaultCost)
		if err != nil {
			return EnterBusy
		}
		b.passwordHash = hash
	}

	u.SetMiniRoom(b)
	b.users[0] = u
	b.curUsers = 1
	b.round = round

	b.registry.register(b)
	return EnterOK
}

// onEnterBase runs the full admission sequence for one joining user.
// Returns an admission reason; 0 means the user is seated.
func (b *Base) onEnterBase(u *world.User, r *packet.Reader, tournament bool) byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return EnterNotFound
	}
	if b.tournament != tournament {
		return EnterTournamentMismatch
	}
	if b.findUserSlotLocked(u) >= 0 {
		return EnterDuplicate
	}
	idx := b.findEmptySlotLocked(u.CharID)
	if idx < 0 {
		return EnterFull
	}
	if !u.CanAttachAdditionalProcess() {
		return EnterBusy
	}
	if reason := b.impl.CheckAdmission(u, false); reason != 0 {
		return reason
	}
	if reason := b.checkPasswordLocked(r); reason != 0 {
		return reason
	}

	u.SetMiniRoom(b)
	b.users[idx] = u
	b.reserved[idx] = 0
	b.reservedTime[idx] = 0
	b.curUsers++

	// Announce the newcomer to everyone already seated.
	bc := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	bc.WriteC(resEnter)
	b.encodeAvatarLocked(idx, bc)
	b.impl.EncodeEnter(u, bc)
	b.broadcastLocked(bc.Bytes(), u)

	// Full roster to the newcomer, sentinel-terminated.
	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(resEnterResult)
	w.WriteC(byte(b.category))
	w.WriteC(byte(b.maxUsers))
	w.WriteC(byte(idx))
	for i := 0; i < b.maxUsers; i++ {
		if b.users[i] != nil {
			b.encodeAvatarLocked(i, w)
		}
	}
	w.WriteC(0xFF)
	b.impl.EncodeEnterResult(u, w)
	u.SendPacket(w.Bytes())

	if b.tournament && b.users[0] != nil && b.users[1] != nil {
		b.title = b.users[1].Name + " VS " + b.users[0].Name
	}
	return EnterOK
}

// checkPasswordLocked validates the optional password block of an enter
// request against the room's privacy settings.
func (b *Base) checkPasswordLocked(r *packet.Reader) byte {
	if r.ReadC() == 1 {
		pass := r.ReadS()
		if !b.private {
			return EnterOK
		}
		if bcrypt.CompareHashAndPassword(b.passwordHash, []byte(pass)) == nil {
			return EnterOK
		}
		return EnterInvalidPassword
	}
	if !b.private {
		return EnterOK
	}
	return EnterInvalidPassword
}

// OnPacketBase routes one room sub-action, falling through to the
// category handler for specialized ones.
func (b *Base) OnPacketBase(u *world.User, action byte, r *packet.Reader) {
	switch action {
	case packet.MR_Invite:
		b.onInviteBase(u, r)
	case packet.MR_Chat:
		b.onChat(u, r)
	case packet.MR_Leave:
		b.onLeaveBase(u)
	case packet.MR_Balloon:
		b.onBalloon(u)
	default:
		b.mu.Lock()
		impl := b.impl
		b.mu.Unlock()
		impl.OnPacket(u, action, r)
	}
}

// onInviteBase validates an invite and prompts the target. No seat is
// reserved; the target races everyone else at accept time.
func (b *Base) onInviteBase(u *world.User, r *packet.Reader) {
	target := b.registry.finder.FindUser(r.ReadD())

	b.mu.Lock()
	defer b.mu.Unlock()

	var reason byte
	switch {
	case target == nil || target == u:
		reason = InviteInvalidUser
	case b.curUsers == b.maxUsers:
		reason = InviteUnableToProcess
	}

	if reason != 0 {
		w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
		w.WriteC(resInviteFail)
		w.WriteC(reason)
		if reason == InviteUnableToProcess {
			w.WriteS(target.Name)
		}
		u.SendPacket(w.Bytes())
		return
	}

	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(resInvite)
	w.WriteC(byte(b.category))
	w.WriteS(u.Name)
	w.WriteD(b.sn)
	target.SendPacket(w.Bytes())
}

func (b *Base) onChat(u *world.User, r *packet.Reader) {
	text := r.ReadS()
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.findUserSlotLocked(u)
	if idx < 0 {
		return
	}
	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(resChat)
	w.WriteC(byte(idx))
	w.WriteS(u.Name + " : " + text)
	b.broadcastLocked(w.Bytes(), nil)
}

func (b *Base) onBalloon(u *world.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.findUserSlotLocked(u) != 0 {
		return
	}
	b.opened = true
	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(resBalloon)
	w.WriteD(b.sn)
	w.WriteS(b.title)
	w.WriteC(byte(b.curUsers))
	w.WriteC(byte(b.maxUsers))
	b.broadcastLocked(w.Bytes(), nil)
}

func (b *Base) onLeaveBase(u *world.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.findUserSlotLocked(u)
	if b.curUsers == 0 || idx < 0 {
		return
	}
	b.doLeaveLocked(idx, LeaveUserRequest, true)
}

// DoLeave removes the occupant of one slot with the given reason.
func (b *Base) DoLeave(idx int, leaveType byte, broadcast bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doLeaveLocked(idx, leaveType, broadcast)
}

// doLeaveLocked clears the slot, runs the category hook and destroys the
// room when teardown rules say so: empty ordinary rooms die immediately,
// entrusted rooms only on LeaveHostOut.
func (b *Base) doLeaveLocked(idx int, leaveType byte, broadcast bool) {
	u := b.users[idx]
	if u == nil {
		return
	}
	b.impl.OnLeave(u, leaveType)

	if leaveType != LeaveUserRequest {
		w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
		w.WriteC(resLeave)
		w.WriteC(byte(idx))
		w.WriteC(leaveType)
		u.SendPacket(w.Bytes())
	}

	u.SetMiniRoom(nil)
	b.users[idx] = nil
	b.curUsers--

	// Hold the seat for a possible return while the room is running.
	if b.opened && !b.destroyed {
		b.reserved[idx] = u.CharID
		b.reservedTime[idx] = time.Now().UnixMilli()
	}

	if broadcast {
		w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
		w.WriteC(resLeave)
		w.WriteC(byte(idx))
		w.WriteC(leaveType)
		b.impl.EncodeLeave(u, w)
		b.broadcastLocked(w.Bytes(), u)
	}

	if (b.impl.IsEntrusted() && leaveType == LeaveHostOut) ||
		(!b.impl.IsEntrusted() && b.curUsers == 0) {
		b.removeLocked()
	}
}

// CloseRequest evicts every occupant: slot 0 with hostType, the rest with
// otherType.
func (b *Base) CloseRequest(hostType, otherType byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := b.maxUsers - 1; i >= 1; i-- {
		if b.users[i] != nil {
			b.doLeaveLocked(i, otherType, false)
		}
	}
	if b.users[0] != nil {
		b.doLeaveLocked(0, hostType, false)
	}
}

// removeLocked marks the room destroyed and drops it from the registry.
// Idempotent so racing leave paths tear down exactly once.
func (b *Base) removeLocked() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.registry.unregister(b.sn)
	b.log.Debug("小屋關閉", zap.Int32("編號", b.sn))
}

package world

import (
	"sync"

	"github.com/fieldsrv/server/internal/net/packet"
)

// Sender delivers an encoded packet to one client. *net.Session implements
// it; tests substitute an in-memory recorder.
type Sender interface {
	SendPacket(data []byte)
}

// ItemSlot is one item stack, either in a drop payload or a trade offer.
type ItemSlot struct {
	ItemID   int32
	Number   int16
	ExpireAt int64 // unix ms, 0 = no expiry
}

// User is the core's view of one connected player. Ownership of the
// session belongs to the connection layer; a User appears in at most one
// Field's user map at a time.
type User struct {
	CharID int32
	Name   string
	Gender byte // 0=male, 1=female
	Level  int16
	GM     bool

	SessionID uint64
	sender    Sender

	mu         sync.Mutex
	x, y       int16
	foothold   int16
	moveAction byte
	fieldID    int32
	partyID    int32
	attached   any // secondary interaction currently attached (e.g. a MiniRoom)
}

func NewUser(charID int32, name string, gender byte, level int16, sender Sender) *User {
	return &User{
		CharID: charID,
		Name:   name,
		Gender: gender,
		Level:  level,
		sender: sender,
	}
}

// SendPacket forwards to the session's buffered send. Safe to call while
// holding pool or field locks; the send is an in-memory append.
func (u *User) SendPacket(data []byte) {
	if u.sender != nil {
		u.sender.SendPacket(data)
	}
}

// Pos returns the last known position.
func (u *User) Pos() (x, y int16) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.x, u.y
}

// SetMovePosition updates position, surface and action from a movement
// path's final node.
func (u *User) SetMovePosition(x, y int16, moveAction byte, foothold int16) {
	u.mu.Lock()
	u.x = x
	u.y = y
	u.moveAction = moveAction
	u.foothold = foothold
	u.mu.Unlock()
}

func (u *User) FieldID() int32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fieldID
}

func (u *User) SetFieldID(id int32) {
	u.mu.Lock()
	u.fieldID = id
	u.mu.Unlock()
}

func (u *User) PartyID() int32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.partyID
}

func (u *User) SetPartyID(id int32) {
	u.mu.Lock()
	u.partyID = id
	u.mu.Unlock()
}

// CanAttachAdditionalProcess reports whether the user is free to start a
// secondary interaction (trade window, game room, shop).
func (u *User) CanAttachAdditionalProcess() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attached == nil
}

// SetMiniRoom attaches (or, with nil, detaches) the user's current
// secondary interaction. Stored as any to keep world free of a dependency
// on the room package.
func (u *User) SetMiniRoom(r any) {
	u.mu.Lock()
	u.attached = r
	u.mu.Unlock()
}

// MiniRoom returns the currently attached secondary interaction, or nil.
func (u *User) MiniRoom() any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attached
}

// EncodeAvatar writes the user's roster appearance block.
func (u *User) EncodeAvatar(w *packet.Writer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	w.WriteD(u.CharID)
	w.WriteC(u.Gender)
	w.WriteH(uint16(u.Level))
	w.WriteS(u.Name)
}

// MakeEnterFieldPacket builds the presence packet other occupants receive
// when this user appears on their map.
func (u *User) MakeEnterFieldPacket() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	w := packet.NewWriterWithType(packet.S_TYPE_USER_ENTER_FIELD)
	w.WriteD(u.CharID)
	w.WriteS(u.Name)
	w.WriteC(u.Gender)
	w.WriteH(uint16(u.Level))
	w.WriteH(uint16(u.x))
	w.WriteH(uint16(u.y))
	w.WriteC(u.moveAction)
	w.WriteH(uint16(u.foothold))
	return w.Bytes()
}

// MakeLeaveFieldPacket builds the departure packet broadcast when this
// user leaves a map.
func (u *User) MakeLeaveFieldPacket() []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_USER_LEAVE_FIELD)
	w.WriteD(u.CharID)
	return w.Bytes()
}

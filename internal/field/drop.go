package field

import (
	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

// OwnType scopes who may pick a drop up during its exclusivity window.
type OwnType int32

const (
	OwnTypeUser  OwnType = 0 // exclusive to one character
	OwnTypeParty OwnType = 1 // exclusive to one party
	OwnTypeNone  OwnType = 2 // free for all from the start
)

// Drop enter-field modes.
const (
	DropEnterSettled   byte = 0 // already resting on the ground
	DropEnterCreate    byte = 1 // spawn with the falling animation
	DropEnterFadingOut byte = 3 // play the drop animation, then vanish
)

// Drop leave-field modes.
const (
	DropLeaveExpired         byte = 0 // removed in place
	DropLeavePickedUpByUser  byte = 2 // arg = picking character id
	DropLeaveDelayed         byte = 4 // arg = removal delay in ms
	DropLeavePickedUpByProxy byte = 5 // arg = owning character id
)

// Reward is a drop payload: either a money amount or one item stack,
// never both.
type Reward struct {
	Money int32
	Item  *world.ItemSlot
}

func NewMoneyReward(amount int32) Reward {
	return Reward{Money: amount}
}

func NewItemReward(itemID int32, number int16) Reward {
	return Reward{Item: &world.ItemSlot{ItemID: itemID, Number: number}}
}

// Drop is one item or money pile lying on the ground. All fields are
// written once at creation and read under the owning pool's lock.
type Drop struct {
	DropID      int32
	X, Y        int16
	OwnType     OwnType
	OwnerID     int32
	OwnPartyID  int32
	SourceID    int32 // dropping character, 0 = environment
	Money       int32
	Item        *world.ItemSlot
	Everlasting bool
	ByProxy     bool

	ownerOnly  bool  // quest payloads render only for the owner
	createTime int64 // unix ms
}

// IsMoney reports whether the payload is money rather than an item.
func (d *Drop) IsMoney() bool {
	return d.Item == nil
}

// IsShowTo reports whether this drop should be rendered for u. Quest
// payloads dropped by a player stay private to the owning character.
func (d *Drop) IsShowTo(u *world.User) bool {
	if !d.ownerOnly {
		return true
	}
	return u.CharID == d.OwnerID
}

// MakeEnterFieldPacket builds the spawn packet for this drop. delay is the
// falling-animation delay in ms, meaningful for DropEnterCreate.
func (d *Drop) MakeEnterFieldPacket(mode byte, delay int16) []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_DROP_ENTER_FIELD)
	w.WriteC(mode)
	w.WriteD(d.DropID)
	if d.IsMoney() {
		w.WriteC(1)
		w.WriteD(d.Money)
	} else {
		w.WriteC(0)
		w.WriteD(d.Item.ItemID)
		w.WriteH(uint16(d.Item.Number))
		w.WriteQ(d.Item.ExpireAt)
	}
	w.WriteD(d.OwnerID)
	w.WriteC(byte(d.OwnType))
	w.WriteH(uint16(d.X))
	w.WriteH(uint16(d.Y))
	w.WriteD(d.SourceID)
	w.WriteH(uint16(delay))
	return w.Bytes()
}

// MakeLeaveFieldPacket builds the removal packet. arg is mode-dependent:
// picker id for pickup modes, removal delay for DropLeaveDelayed.
func (d *Drop) MakeLeaveFieldPacket(mode byte, arg int32) []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_DROP_LEAVE_FIELD)
	w.WriteC(mode)
	w.WriteD(d.DropID)
	if mode == DropLeavePickedUpByUser || mode == DropLeaveDelayed || mode == DropLeavePickedUpByProxy {
		w.WriteD(arg)
	}
	return w.Bytes()
}

// makePickUpResultPacket tells the requester how their pickup attempt
// ended. byPlayer is false when a pet performed the pickup.
func makePickUpResultPacket(success, isMoney bool, itemID int32, qty int16, byPlayer bool) []byte {
	w := packet.NewWriterWithType(packet.S_TYPE_PICKUP_RESULT)
	if success {
		w.WriteC(1)
	} else {
		w.WriteC(0)
	}
	if byPlayer {
		w.WriteC(1)
	} else {
		w.WriteC(0)
	}
	if isMoney {
		w.WriteC(1)
		w.WriteD(itemID) // money amount rides the id slot
	} else {
		w.WriteC(0)
		w.WriteD(itemID)
		w.WriteH(uint16(qty))
	}
	return w.Bytes()
}

package packet

// Inbound packet type words (client → server). The field dispatcher routes
// by these ranges; see field.Field.OnPacket.
const (
	// User-level requests
	C_TYPE_ENTER_WORLD    uint16 = 0x14 // charID, name, gender, fieldID (session bootstrap)
	C_TYPE_USER_MOVE      uint16 = 0x29
	C_TYPE_PICKUP_REQUEST uint16 = 0x66
	C_TYPE_CONTI_STATE    uint16 = 0x62

	// Mob control requests (range-delimited)
	C_TYPE_MOB_MIN  uint16 = 0x88
	C_TYPE_MOB_MOVE uint16 = 0x88
	C_TYPE_MOB_MAX  uint16 = 0x9A

	// Reactor requests (range-delimited)
	C_TYPE_REACTOR_MIN   uint16 = 0xA0
	C_TYPE_REACTOR_HIT   uint16 = 0xA0
	C_TYPE_REACTOR_TOUCH uint16 = 0xA1
	C_TYPE_REACTOR_MAX   uint16 = 0xA1

	// MiniRoom requests arrive as one type word with a sub-action byte.
	C_TYPE_MINIROOM uint16 = 0x7A
)

// MiniRoom sub-action codes (first byte after the type word).
const (
	MR_Create  byte = 0x00
	MR_Invite  byte = 0x02
	MR_Enter   byte = 0x04
	MR_Chat    byte = 0x06
	MR_Leave   byte = 0x0A
	MR_Balloon byte = 0x0C

	// Trading room specific
	MR_Trade_PutItem  byte = 0x0D
	MR_Trade_PutMoney byte = 0x0E
	MR_Trade_DoTrade  byte = 0x0F
)

// Outbound packet type words (server → client).
const (
	S_TYPE_USER_ENTER_FIELD uint16 = 0x90
	S_TYPE_USER_LEAVE_FIELD uint16 = 0x91
	S_TYPE_USER_MOVE        uint16 = 0x92
	S_TYPE_PICKUP_RESULT    uint16 = 0x93

	S_TYPE_MOB_ENTER_FIELD uint16 = 0xA8
	S_TYPE_MOB_LEAVE_FIELD uint16 = 0xA9
	S_TYPE_MOB_MOVE        uint16 = 0xAA
	S_TYPE_MOB_CTRL_ACK    uint16 = 0xAB
	S_TYPE_MOB_CHANGE_CTRL uint16 = 0xAC

	S_TYPE_DROP_ENTER_FIELD uint16 = 0xB0
	S_TYPE_DROP_LEAVE_FIELD uint16 = 0xB1

	S_TYPE_REACTOR_ENTER  uint16 = 0xB8
	S_TYPE_REACTOR_LEAVE  uint16 = 0xB9
	S_TYPE_REACTOR_CHANGE uint16 = 0xBA

	S_TYPE_SUMMONED_ENTER uint16 = 0xBC
	S_TYPE_SUMMONED_LEAVE uint16 = 0xBD

	S_TYPE_TOWN_PORTAL uint16 = 0xBE

	S_TYPE_FIELD_EFFECT uint16 = 0xC0
	S_TYPE_CONTI_STATE  uint16 = 0xC1

	S_TYPE_MINIROOM uint16 = 0xC8
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int32

const (
	StateHandshake SessionState = iota
	StateInWorld
	StateDisconnecting
)

package miniroom

import (
	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

const maxTradeItems = 9

// Trade sub-result codes carried under the trading sub-actions.
const (
	tradeItemPlaced  byte = 0
	tradeMoneyPlaced byte = 1
	tradeLocked      byte = 2
)

// Offer is one side of a trade: the money amount plus the staged item
// stacks, in slot order.
type Offer struct {
	Money int32
	Items []world.ItemSlot
}

// TradingRoom is the two-party trade specialization. Each side stages
// items and money, locks their offer, and the exchange settles when both
// sides are locked. All state is guarded by the base room lock.
type TradingRoom struct {
	base     *Base
	exchange Exchange
	items    ItemChecker

	locked [2]bool
	money  [2]int32
	staged [2][maxTradeItems]*world.ItemSlot
}

func newTradingRoom(b *Base, exchange Exchange, items ItemChecker) *TradingRoom {
	return &TradingRoom{base: b, exchange: exchange, items: items}
}

// Base exposes the generic room state for callers holding a TradingRoom.
func (t *TradingRoom) Base() *Base { return t.base }

func (t *TradingRoom) IsEntrusted() bool { return false }

func (t *TradingRoom) CheckAdmission(u *world.User, onCreate bool) byte {
	// Cash-shop maps (region 9) cannot host trades.
	if (u.FieldID()/1_000_000)%100 == 9 {
		return EnterInvalidField
	}
	return EnterOK
}

func (t *TradingRoom) EncodeEnter(u *world.User, w *packet.Writer) {}

func (t *TradingRoom) EncodeEnterResult(u *world.User, w *packet.Writer) {}

func (t *TradingRoom) EncodeLeave(u *world.User, w *packet.Writer) {}

// OnLeave cancels the trade whenever a side departs before settlement;
// staged offers return to their owners implicitly because nothing was
// ever taken out of the inventories.
func (t *TradingRoom) OnLeave(u *world.User, leaveType byte) {
	if leaveType == LeaveTradeDone {
		return
	}
	idx := t.base.findUserSlotLocked(u)
	if idx < 0 || idx > 1 {
		return
	}
	t.locked[idx] = false
	t.money[idx] = 0
	t.staged[idx] = [maxTradeItems]*world.ItemSlot{}
	// The counterpart's lock is void once the offer across changes.
	t.locked[1-idx] = false
}

// OnPacket handles the trading sub-actions. Called without the room lock
// held; each handler takes it.
func (t *TradingRoom) OnPacket(u *world.User, action byte, r *packet.Reader) {
	switch action {
	case packet.MR_Trade_PutItem:
		t.onPutItem(u, r)
	case packet.MR_Trade_PutMoney:
		t.onPutMoney(u, r)
	case packet.MR_Trade_DoTrade:
		t.onDoTrade(u)
	}
}

func (t *TradingRoom) onPutItem(u *world.User, r *packet.Reader) {
	slot := int(r.ReadC())
	itemID := r.ReadD()
	number := int16(r.ReadH())

	b := t.base
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.findUserSlotLocked(u)
	if idx < 0 || idx > 1 || t.locked[idx] {
		return
	}
	if slot < 0 || slot >= maxTradeItems || t.staged[idx][slot] != nil {
		return
	}
	if number <= 0 || (t.items != nil && t.items.IsTradeBlocked(itemID)) {
		return
	}
	t.staged[idx][slot] = &world.ItemSlot{ItemID: itemID, Number: number}

	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(packet.MR_Trade_PutItem)
	w.WriteC(tradeItemPlaced)
	w.WriteC(byte(idx))
	w.WriteC(byte(slot))
	w.WriteD(itemID)
	w.WriteH(uint16(number))
	b.broadcastLocked(w.Bytes(), nil)
}

func (t *TradingRoom) onPutMoney(u *world.User, r *packet.Reader) {
	amount := r.ReadD()

	b := t.base
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.findUserSlotLocked(u)
	if idx < 0 || idx > 1 || t.locked[idx] || amount < 0 {
		return
	}
	t.money[idx] += amount

	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(packet.MR_Trade_PutMoney)
	w.WriteC(tradeMoneyPlaced)
	w.WriteC(byte(idx))
	w.WriteD(t.money[idx])
	b.broadcastLocked(w.Bytes(), nil)
}

// onDoTrade locks the requester's offer and settles once both sides are
// locked. Settlement failure kicks both sides with LeaveTradeFail so the
// client restores its inventory view.
func (t *TradingRoom) onDoTrade(u *world.User) {
	b := t.base
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.findUserSlotLocked(u)
	if idx < 0 || idx > 1 || t.locked[idx] {
		return
	}
	t.locked[idx] = true

	w := packet.NewWriterWithType(packet.S_TYPE_MINIROOM)
	w.WriteC(packet.MR_Trade_DoTrade)
	w.WriteC(tradeLocked)
	w.WriteC(byte(idx))
	b.broadcastLocked(w.Bytes(), u)

	if !t.locked[0] || !t.locked[1] {
		return
	}
	t.doTradeLocked()
}

func (t *TradingRoom) doTradeLocked() {
	b := t.base
	a, c := b.users[0], b.users[1]
	if a == nil || c == nil {
		return
	}

	result := LeaveTradeDone
	if err := t.exchange.Settle(a, c, t.collectOffer(0), t.collectOffer(1)); err != nil {
		b.log.Warn("交易結算失敗", zap.Int32("編號", b.sn), zap.Error(err))
		result = LeaveTradeFail
	}

	for i := b.maxUsers - 1; i >= 0; i-- {
		if b.users[i] != nil {
			b.doLeaveLocked(i, result, false)
		}
	}
}

func (t *TradingRoom) collectOffer(idx int) Offer {
	o := Offer{Money: t.money[idx]}
	for _, it := range t.staged[idx] {
		if it != nil {
			o.Items = append(o.Items, *it)
		}
	}
	return o
}

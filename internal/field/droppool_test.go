package field

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/data"
	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

type fakeSender struct {
	mu   sync.Mutex
	pkts [][]byte
}

func (s *fakeSender) SendPacket(data []byte) {
	s.mu.Lock()
	s.pkts = append(s.pkts, data)
	s.mu.Unlock()
}

func (s *fakeSender) packets() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.pkts))
	copy(out, s.pkts)
	return out
}

// countByType returns how many captured packets carry the given type word.
func (s *fakeSender) countByType(t uint16) int {
	n := 0
	for _, p := range s.packets() {
		r := packet.NewReader(p)
		if r.ReadH() == t {
			n++
		}
	}
	return n
}

type fakeItems struct {
	quest   map[int32]bool
	blocked map[int32]bool
	consume map[int32]bool
	periods map[int32]int32

	mu      sync.Mutex
	applied []int32
}

func (f *fakeItems) IsQuestItem(id int32) bool { return f.quest[id] }

func (f *fakeItems) IsTradeBlocked(id int32) bool { return f.blocked[id] }

func (f *fakeItems) ConsumeOnPickup(id int32) bool { return f.consume[id] }

func (f *fakeItems) Period(id int32) int32 { return f.periods[id] }

func (f *fakeItems) ApplyStateChange(u *world.User, itemID int32, now int64) {
	f.mu.Lock()
	f.applied = append(f.applied, itemID)
	f.mu.Unlock()
}

type fakeInventory struct {
	acceptMoney bool
	acceptItems bool

	mu    sync.Mutex
	money int64
	items []world.ItemSlot
}

func (f *fakeInventory) PickUpMoney(u *world.User, amount int32) bool {
	if !f.acceptMoney {
		return false
	}
	f.mu.Lock()
	f.money += int64(amount)
	f.mu.Unlock()
	return true
}

func (f *fakeInventory) PickUpItem(u *world.User, item *world.ItemSlot) bool {
	if !f.acceptItems {
		return false
	}
	f.mu.Lock()
	f.items = append(f.items, *item)
	f.mu.Unlock()
	return true
}

func testFieldInfo() *data.FieldInfo {
	return &data.FieldInfo{
		FieldID: 100000000,
		Name:    "test",
		Left:    -1000,
		Top:     -1000,
		Right:   1000,
		Bottom:  1000,
		Footholds: []data.FootholdInfo{
			{ID: 1, X1: -1000, X2: 1000, Y: 120},
		},
		Areas: []data.AreaRect{
			{Name: "pq0", Left: 0, Top: 0, Right: 500, Bottom: 500},
		},
	}
}

func newTestField(t *testing.T, items *fakeItems, inv *fakeInventory) *Field {
	t.Helper()
	if items == nil {
		items = &fakeItems{
			quest:   map[int32]bool{},
			blocked: map[int32]bool{},
			consume: map[int32]bool{},
			periods: map[int32]int32{},
		}
	}
	if inv == nil {
		inv = &fakeInventory{acceptMoney: true, acceptItems: true}
	}
	return NewField(testFieldInfo(), Deps{
		Items:     items,
		Inventory: inv,
		Parties:   world.NewPartyManager(nil),
		Log:       zap.NewNop(),
	})
}

func enterUser(f *Field, charID int32) (*world.User, *fakeSender) {
	s := &fakeSender{}
	u := world.NewUser(charID, "user", 0, 30, s)
	u.SetMovePosition(10, 100, 0, 1)
	f.OnEnter(u)
	return u, s
}

func pickupRequest(dropID int32) *packet.Reader {
	w := packet.NewWriter()
	w.WriteD(0)
	w.WriteC(0)
	w.WriteH(10)
	w.WriteH(120)
	w.WriteD(dropID)
	return packet.NewReader(w.Bytes())
}

// pickupResults scans a sender's packets and tallies pickup outcomes.
func pickupResults(s *fakeSender) (success, failure int) {
	for _, p := range s.packets() {
		r := packet.NewReader(p)
		if r.ReadH() != packet.S_TYPE_PICKUP_RESULT {
			continue
		}
		if r.ReadC() == 1 {
			success++
		} else {
			failure++
		}
	}
	return success, failure
}

func TestPickUpExactlyOnceUnderContention(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()

	d := pool.Create(NewMoneyReward(500), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	if d == nil {
		t.Fatal("drop was not created")
	}

	const n = 16
	users := make([]*world.User, n)
	senders := make([]*fakeSender, n)
	for i := range users {
		users[i], senders[i] = enterUser(f, int32(1000+i))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			pool.OnPickUpRequest(users[i], pickupRequest(d.DropID), nil)
		}(i)
	}
	close(start)
	wg.Wait()

	totalSuccess := 0
	for _, s := range senders {
		ok, _ := pickupResults(s)
		totalSuccess += ok
	}
	if totalSuccess != 1 {
		t.Fatalf("got %d successful pickups, want exactly 1", totalSuccess)
	}
	if pool.Count() != 0 {
		t.Fatalf("drop still in pool after pickup, count=%d", pool.Count())
	}
}

func TestPickUpOwnershipWindow(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()

	owner, _ := enterUser(f, 1)
	stranger, strangerSender := enterUser(f, 2)

	d := pool.Create(NewMoneyReward(100), owner.CharID, 0, OwnTypeUser, owner.CharID,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	if d == nil {
		t.Fatal("drop was not created")
	}

	// Inside the window the stranger is refused and the drop survives.
	pool.OnPickUpRequest(stranger, pickupRequest(d.DropID), nil)
	if ok, fail := pickupResults(strangerSender); ok != 0 || fail != 1 {
		t.Fatalf("stranger inside window: success=%d failure=%d, want 0/1", ok, fail)
	}
	if pool.Count() != 1 {
		t.Fatal("drop vanished on a refused pickup")
	}

	// Just short of the boundary still refuses.
	pool.mu.Lock()
	d.createTime = time.Now().UnixMilli() - (DropExclusiveOwnershipMs - 2000)
	pool.mu.Unlock()
	pool.OnPickUpRequest(stranger, pickupRequest(d.DropID), nil)
	if ok, _ := pickupResults(strangerSender); ok != 0 {
		t.Fatal("stranger succeeded before the window elapsed")
	}

	// At or past the boundary anyone may claim it.
	pool.mu.Lock()
	d.createTime = time.Now().UnixMilli() - DropExclusiveOwnershipMs
	pool.mu.Unlock()
	pool.OnPickUpRequest(stranger, pickupRequest(d.DropID), nil)
	if ok, _ := pickupResults(strangerSender); ok != 1 {
		t.Fatal("stranger refused after the window elapsed")
	}
	if pool.Count() != 0 {
		t.Fatal("drop not removed after successful pickup")
	}
}

func TestPickUpPartyOwnership(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()
	parties := f.deps.Parties

	member, memberSender := enterUser(f, 11)
	outsider, outsiderSender := enterUser(f, 12)
	p := parties.CreateParty(10)
	parties.AddMember(p.PartyID, member.CharID)

	d := pool.Create(NewMoneyReward(100), 10, p.PartyID, OwnTypeParty, 10,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)

	pool.OnPickUpRequest(outsider, pickupRequest(d.DropID), nil)
	if ok, fail := pickupResults(outsiderSender); ok != 0 || fail != 1 {
		t.Fatalf("outsider: success=%d failure=%d, want 0/1", ok, fail)
	}

	pool.OnPickUpRequest(member, pickupRequest(d.DropID), nil)
	if ok, _ := pickupResults(memberSender); ok != 1 {
		t.Fatal("party member refused inside the window")
	}
}

func TestPickUpOwnerInsideWindow(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()

	owner, ownerSender := enterUser(f, 1)
	d := pool.Create(NewMoneyReward(250), owner.CharID, 0, OwnTypeUser, owner.CharID,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)

	pool.OnPickUpRequest(owner, pickupRequest(d.DropID), nil)
	if ok, _ := pickupResults(ownerSender); ok != 1 {
		t.Fatal("owner refused their own drop inside the window")
	}

	// A second request for the same id reports failure.
	pool.OnPickUpRequest(owner, pickupRequest(d.DropID), nil)
	if _, fail := pickupResults(ownerSender); fail != 1 {
		t.Fatal("stale pickup request did not report failure")
	}
}

func TestConsumeOnPickupNeverStored(t *testing.T) {
	items := &fakeItems{
		quest:   map[int32]bool{},
		blocked: map[int32]bool{},
		consume: map[int32]bool{2000001: true},
		periods: map[int32]int32{},
	}
	inv := &fakeInventory{acceptMoney: true, acceptItems: true}
	f := newTestField(t, items, inv)
	pool := f.DropPool()

	u, s := enterUser(f, 1)
	d := pool.Create(NewItemReward(2000001, 1), u.CharID, 0, OwnTypeUser, u.CharID,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)

	pool.OnPickUpRequest(u, pickupRequest(d.DropID), nil)
	if ok, _ := pickupResults(s); ok != 1 {
		t.Fatal("consume-on-pickup reported failure")
	}
	if len(items.applied) != 1 || items.applied[0] != 2000001 {
		t.Fatalf("state change not applied: %v", items.applied)
	}
	if len(inv.items) != 0 {
		t.Fatal("consume-on-pickup item was stored in inventory")
	}
}

func TestFullInventoryLeavesDrop(t *testing.T) {
	inv := &fakeInventory{acceptMoney: true, acceptItems: false}
	f := newTestField(t, nil, inv)
	pool := f.DropPool()

	u, s := enterUser(f, 1)
	d := pool.Create(NewItemReward(4000000, 3), u.CharID, 0, OwnTypeUser, u.CharID,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)

	pool.OnPickUpRequest(u, pickupRequest(d.DropID), nil)
	if ok, fail := pickupResults(s); ok != 0 || fail != 1 {
		t.Fatalf("full inventory: success=%d failure=%d, want 0/1", ok, fail)
	}
	if pool.Count() != 1 {
		t.Fatal("drop removed although the credit failed")
	}
}

func TestQuestDropFromEnvironmentVanishes(t *testing.T) {
	items := &fakeItems{
		quest:   map[int32]bool{4001000: true},
		blocked: map[int32]bool{},
		consume: map[int32]bool{},
		periods: map[int32]int32{},
	}
	f := newTestField(t, items, nil)
	pool := f.DropPool()

	_, s := enterUser(f, 1)
	d := pool.Create(NewItemReward(4001000, 1), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	if d != nil {
		t.Fatal("environment quest drop landed instead of vanishing")
	}
	if pool.Count() != 0 {
		t.Fatal("vanishing drop was inserted into the pool")
	}

	// Viewers still see the drop animation (enter mode 3).
	found := false
	for _, p := range s.packets() {
		r := packet.NewReader(p)
		if r.ReadH() == packet.S_TYPE_DROP_ENTER_FIELD && r.ReadC() == DropEnterFadingOut {
			found = true
		}
	}
	if !found {
		t.Fatal("no fading-out enter packet was broadcast")
	}
}

func TestQuestDropFromPlayerVisibleToOwnerOnly(t *testing.T) {
	items := &fakeItems{
		quest:   map[int32]bool{4001000: true},
		blocked: map[int32]bool{},
		consume: map[int32]bool{},
		periods: map[int32]int32{},
	}
	f := newTestField(t, items, nil)
	pool := f.DropPool()

	owner, ownerSender := enterUser(f, 1)
	_, otherSender := enterUser(f, 2)

	d := pool.Create(NewItemReward(4001000, 1), owner.CharID, 0, OwnTypeUser, owner.CharID,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	if d == nil {
		t.Fatal("player-sourced quest drop did not land")
	}
	if ownerSender.countByType(packet.S_TYPE_DROP_ENTER_FIELD) != 1 {
		t.Fatal("owner did not see their quest drop")
	}
	if otherSender.countByType(packet.S_TYPE_DROP_ENTER_FIELD) != 0 {
		t.Fatal("bystander saw a private quest drop")
	}
}

func TestExpirySweepDebounce(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()
	enterUser(f, 1)

	d := pool.Create(NewMoneyReward(100), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)

	now := time.Now().UnixMilli()
	pool.mu.Lock()
	d.createTime = now - DropLifetimeMs
	pool.mu.Unlock()

	pool.TryExpire(false)
	if pool.Count() != 0 {
		t.Fatal("aged drop survived the sweep")
	}

	// The next sweep inside the debounce interval must be a no-op.
	d2 := pool.Create(NewMoneyReward(100), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	pool.mu.Lock()
	d2.createTime = now - DropLifetimeMs
	pool.mu.Unlock()

	pool.TryExpire(false)
	if pool.Count() != 1 {
		t.Fatal("debounced sweep still removed a drop")
	}

	// Backdating the sweep timestamp re-arms it.
	pool.mu.Lock()
	pool.lastExpire = now - DropExpireSweepMs - 1
	pool.mu.Unlock()
	pool.TryExpire(false)
	if pool.Count() != 0 {
		t.Fatal("re-armed sweep did not remove the aged drop")
	}
}

func TestExpireSparesEverlastingUntilForced(t *testing.T) {
	f := NewField(&data.FieldInfo{
		FieldID:          1,
		Left:             -1000,
		Top:              -1000,
		Right:            1000,
		Bottom:           1000,
		EverlastingDrops: true,
		Footholds:        []data.FootholdInfo{{ID: 1, X1: -1000, X2: 1000, Y: 120}},
	}, Deps{
		Items:     &fakeItems{quest: map[int32]bool{}, blocked: map[int32]bool{}, consume: map[int32]bool{}, periods: map[int32]int32{}},
		Inventory: &fakeInventory{acceptMoney: true, acceptItems: true},
		Parties:   world.NewPartyManager(nil),
		Log:       zap.NewNop(),
	})
	pool := f.DropPool()

	d := pool.Create(NewMoneyReward(100), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	if !d.Everlasting {
		t.Fatal("environment drop on an everlasting map should be everlasting")
	}

	pool.mu.Lock()
	d.createTime = time.Now().UnixMilli() - 2*DropLifetimeMs
	pool.mu.Unlock()

	pool.TryExpire(false)
	if pool.Count() != 1 {
		t.Fatal("everlasting drop expired on a normal sweep")
	}

	pool.TryExpire(true)
	if pool.Count() != 0 {
		t.Fatal("forced sweep left the everlasting drop behind")
	}
}

func TestFindDropInRect(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()

	inside := pool.Create(NewMoneyReward(10), 0, 0, OwnTypeNone, 0,
		Point{X: 50, Y: 80}, Point{X: 50, Y: 80}, 0, false, false)
	pool.Create(NewMoneyReward(10), 0, 0, OwnTypeNone, 0,
		Point{X: 900, Y: 80}, Point{X: 900, Y: 80}, 0, false, false)

	rc := Rect{Left: 0, Top: 0, Right: 100, Bottom: 200}
	got := pool.FindDropInRect(rc, 0)
	if len(got) != 1 || got[0].DropID != inside.DropID {
		t.Fatalf("FindDropInRect returned %d drops", len(got))
	}

	// A minimum age filters out fresh drops.
	if got := pool.FindDropInRect(rc, 5000); len(got) != 0 {
		t.Fatal("fresh drop passed the age filter")
	}
}

func TestRemoveDelayedBroadcast(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()
	_, s := enterUser(f, 1)

	d := pool.Create(NewMoneyReward(10), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	pool.Remove(d.DropID, 400)
	if pool.Count() != 0 {
		t.Fatal("Remove left the drop in the pool")
	}

	found := false
	for _, p := range s.packets() {
		r := packet.NewReader(p)
		if r.ReadH() != packet.S_TYPE_DROP_LEAVE_FIELD {
			continue
		}
		if r.ReadC() == DropLeaveDelayed && r.ReadD() == d.DropID {
			found = true
		}
	}
	if !found {
		t.Fatal("no delayed leave packet was broadcast")
	}

	// Unknown ids are ignored.
	pool.Remove(999999, 0)
}

func TestDropIDsMonotonic(t *testing.T) {
	f := newTestField(t, nil, nil)
	pool := f.DropPool()

	a := pool.Create(NewMoneyReward(1), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	b := pool.Create(NewMoneyReward(1), 0, 0, OwnTypeNone, 0,
		Point{X: 10, Y: 80}, Point{X: 10, Y: 80}, 0, false, false)
	if a.DropID <= dropIDSeed || b.DropID != a.DropID+1 {
		t.Fatalf("drop ids not monotonic above seed: %d, %d", a.DropID, b.DropID)
	}
}

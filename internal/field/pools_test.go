package field

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsrv/server/internal/data"
	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/world"
)

func newPoolTestField(t *testing.T, info *data.FieldInfo) *Field {
	t.Helper()
	return NewField(info, Deps{
		Items:     &fakeItems{quest: map[int32]bool{}, blocked: map[int32]bool{}, consume: map[int32]bool{}, periods: map[int32]int32{}},
		Inventory: &fakeInventory{acceptMoney: true, acceptItems: true},
		Parties:   world.NewPartyManager(nil),
		Log:       zap.NewNop(),
	})
}

func mobFieldInfo() *data.FieldInfo {
	info := testFieldInfo()
	info.Mobs = []data.MobSpawnInfo{
		{TemplateID: 100100, X: 10, Y: 120, Foothold: 1, MaxHP: 50},
	}
	return info
}

// mobMoveRequest builds one controller movement report ending at (ex,ey).
func mobMoveRequest(mobID int32, ctrlSN uint16, ex, ey int16) *packet.Reader {
	w := packet.NewWriter()
	w.WriteD(mobID)
	w.WriteH(ctrlSN)
	w.WriteC(1) // next attack possible
	w.WriteC(0) // center split
	w.WriteC(0) // skill command
	w.WriteC(0) // skill level
	w.WriteH(0) // skill effect
	w.WriteC(0)
	w.WriteD(0)
	w.WriteH(10)
	w.WriteH(120)
	w.WriteC(1)
	w.WriteH(uint16(ex))
	w.WriteH(uint16(ey))
	w.WriteC(4)
	w.WriteH(1)
	return packet.NewReader(w.Bytes())
}

func TestMobMoveAckAndRebroadcast(t *testing.T) {
	f := newPoolTestField(t, mobFieldInfo())
	ctrl, ctrlSender := enterUser(f, 1)
	_, otherSender := enterUser(f, 2)

	f.OnPacket(ctrl, packet.C_TYPE_MOB_MOVE, mobMoveRequest(1, 7, 40, 120))

	// The ack goes only to the controller and echoes the control sequence.
	acked := false
	for _, p := range ctrlSender.packets() {
		r := packet.NewReader(p)
		if r.ReadH() != packet.S_TYPE_MOB_CTRL_ACK {
			continue
		}
		if r.ReadD() == 1 && r.ReadH() == 7 && r.ReadC() == 1 {
			acked = true
		}
	}
	if !acked {
		t.Fatal("controller never received the control ack")
	}
	if otherSender.countByType(packet.S_TYPE_MOB_CTRL_ACK) != 0 {
		t.Fatal("bystander received a control ack")
	}

	// The movement goes to everyone except the controller.
	if otherSender.countByType(packet.S_TYPE_MOB_MOVE) != 1 {
		t.Fatal("bystander missed the movement rebroadcast")
	}
	if ctrlSender.countByType(packet.S_TYPE_MOB_MOVE) != 0 {
		t.Fatal("movement echoed back to the controller")
	}

	pool := f.LifePool()
	pool.mu.Lock()
	x := pool.mobs[1].x
	pool.mu.Unlock()
	if x != 40 {
		t.Fatalf("mob x=%d, want 40 (path's last node)", x)
	}
}

func TestMobMoveFromNonControllerIgnored(t *testing.T) {
	f := newPoolTestField(t, mobFieldInfo())
	enterUser(f, 1) // becomes controller
	other, otherSender := enterUser(f, 2)

	f.OnPacket(other, packet.C_TYPE_MOB_MOVE, mobMoveRequest(1, 9, 300, 120))

	if otherSender.countByType(packet.S_TYPE_MOB_CTRL_ACK) != 0 {
		t.Fatal("non-controller report was acked")
	}
	pool := f.LifePool()
	pool.mu.Lock()
	x := pool.mobs[1].x
	pool.mu.Unlock()
	if x != 10 {
		t.Fatalf("mob x=%d after a rejected report, want 10", x)
	}
}

func TestMobDeathAndRespawn(t *testing.T) {
	f := newPoolTestField(t, mobFieldInfo())
	ctrl, ctrlSender := enterUser(f, 1)
	pool := f.LifePool()

	if pool.OnMobDamaged(1, 20) {
		t.Fatal("mob died of a non-lethal hit")
	}
	if !pool.OnMobDamaged(1, 30) {
		t.Fatal("lethal hit did not report a kill")
	}
	if pool.OnMobDamaged(1, 10) {
		t.Fatal("dead mob took damage")
	}
	if pool.GetMob(1) != nil || pool.Count() != 0 {
		t.Fatal("dead mob still visible in the pool")
	}
	if ctrlSender.countByType(packet.S_TYPE_MOB_LEAVE_FIELD) != 1 {
		t.Fatal("death was not broadcast")
	}

	// Force the respawn timer and tick.
	pool.mu.Lock()
	pool.mobs[1].respawnAt = time.Now().UnixMilli() - 1
	pool.mu.Unlock()
	f.Update(time.Now().UnixMilli())

	m := pool.GetMob(1)
	if m == nil {
		t.Fatal("mob did not respawn")
	}
	pool.mu.Lock()
	hp, controller := m.hp, m.controller
	pool.mu.Unlock()
	if hp != 50 {
		t.Fatalf("respawned hp=%d, want full 50", hp)
	}
	if controller != ctrl {
		t.Fatal("respawned mob has no controller")
	}
	if ctrlSender.countByType(packet.S_TYPE_MOB_ENTER_FIELD) < 2 {
		t.Fatal("respawn was not broadcast")
	}
}

func reactorFieldInfo() *data.FieldInfo {
	info := testFieldInfo()
	info.Reactors = []data.ReactorSpawnInfo{
		{TemplateID: 2002, Name: "boxItem0", X: 10, Y: 120, States: 2, RespawnSec: 60},
	}
	return info
}

func reactorHit(reactorID int32) *packet.Reader {
	w := packet.NewWriter()
	w.WriteD(reactorID)
	w.WriteD(0)
	return packet.NewReader(w.Bytes())
}

func TestReactorHitAdvancesThenClears(t *testing.T) {
	f := newPoolTestField(t, reactorFieldInfo())
	u, s := enterUser(f, 1)

	if s.countByType(packet.S_TYPE_REACTOR_ENTER) != 1 {
		t.Fatal("reactor not replayed on admission")
	}

	f.OnPacket(u, packet.C_TYPE_REACTOR_HIT, reactorHit(1))
	if s.countByType(packet.S_TYPE_REACTOR_CHANGE) != 1 {
		t.Fatal("first hit did not broadcast a state change")
	}
	if f.ReactorPool().FindReactorByName("boxItem0") == nil {
		t.Fatal("reactor cleared before its final state")
	}

	f.OnPacket(u, packet.C_TYPE_REACTOR_HIT, reactorHit(1))
	if s.countByType(packet.S_TYPE_REACTOR_LEAVE) != 1 {
		t.Fatal("final hit did not clear the reactor")
	}
	if f.ReactorPool().FindReactorByName("boxItem0") != nil {
		t.Fatal("cleared reactor still findable")
	}

	// Hits on a cleared reactor do nothing.
	f.OnPacket(u, packet.C_TYPE_REACTOR_HIT, reactorHit(1))
	if s.countByType(packet.S_TYPE_REACTOR_CHANGE) != 1 || s.countByType(packet.S_TYPE_REACTOR_LEAVE) != 1 {
		t.Fatal("cleared reactor reacted to a hit")
	}

	// Force the respawn timer and tick.
	rp := f.ReactorPool()
	rp.mu.Lock()
	rp.reactors[1].respawnAt = time.Now().UnixMilli() - 1
	rp.mu.Unlock()
	rp.Update(time.Now().UnixMilli())

	if rp.FindReactorByName("boxItem0") == nil {
		t.Fatal("reactor did not respawn")
	}
	if s.countByType(packet.S_TYPE_REACTOR_ENTER) != 2 {
		t.Fatal("respawn was not broadcast")
	}
}

func TestSummonedLifecycle(t *testing.T) {
	f := newTestField(t, nil, nil)
	owner, ownerSender := enterUser(f, 1)
	sp := f.SummonedPool()

	sp.CreateSummoned(owner, 2301007, Point{X: 10, Y: 120})
	sp.CreateSummoned(owner, 1301007, Point{X: 20, Y: 120})
	if ownerSender.countByType(packet.S_TYPE_SUMMONED_ENTER) != 2 {
		t.Fatal("summon spawns not broadcast")
	}

	// A newcomer sees both live summons replayed.
	_, lateSender := enterUser(f, 2)
	if lateSender.countByType(packet.S_TYPE_SUMMONED_ENTER) != 2 {
		t.Fatal("summons not replayed on admission")
	}

	// Skill-filtered removal takes only the matching summon.
	sp.RemoveByOwner(owner.CharID, 2301007)
	if ownerSender.countByType(packet.S_TYPE_SUMMONED_LEAVE) != 1 {
		t.Fatal("skill-filtered removal did not despawn exactly one")
	}

	sp.RemoveByOwner(owner.CharID, 0)
	sp.mu.Lock()
	left := len(sp.summons)
	sp.mu.Unlock()
	if left != 0 {
		t.Fatalf("%d summons left after removing all of the owner's", left)
	}
}

func TestTownPortalLifecycle(t *testing.T) {
	f := newTestField(t, nil, nil)
	owner, ownerSender := enterUser(f, 1)
	tps := f.TownPortals()

	tps.Create(owner, 30, 120)
	if ownerSender.countByType(packet.S_TYPE_TOWN_PORTAL) != 1 {
		t.Fatal("portal open not broadcast")
	}

	// A second portal by the same owner replaces the first: close then open.
	tps.Create(owner, 50, 120)
	if ownerSender.countByType(packet.S_TYPE_TOWN_PORTAL) != 3 {
		t.Fatal("replacement did not close the previous portal")
	}

	_, lateSender := enterUser(f, 2)
	if lateSender.countByType(packet.S_TYPE_TOWN_PORTAL) != 1 {
		t.Fatal("open portal not replayed on admission")
	}

	// Force the lifetime and tick.
	tps.mu.Lock()
	tps.portals[owner.CharID].createdAt = time.Now().UnixMilli() - townPortalLifetimeMs - 1
	tps.mu.Unlock()
	f.Update(time.Now().UnixMilli())

	tps.mu.Lock()
	left := len(tps.portals)
	tps.mu.Unlock()
	if left != 0 {
		t.Fatal("expired portal still open")
	}
	if ownerSender.countByType(packet.S_TYPE_TOWN_PORTAL) != 4 {
		t.Fatal("expiry close not broadcast")
	}
}

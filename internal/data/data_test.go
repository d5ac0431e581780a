package data

import (
	"os"
	"path/filepath"
	"testing"
)

const itemsYAML = `
- item_id: 4001007
  name: "quest stone"
  quest: true
  trade_block: true
- item_id: 2022000
  name: "touch heal"
  consume_on_pickup: true
  state_change_id: 2022000
- item_id: 5999000
  name: "event coin"
  period: 1440
`

func TestLoadItemTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.yaml")
	if err := os.WriteFile(path, []byte(itemsYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := LoadItemTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Count() != 3 {
		t.Fatalf("count %d, want 3", tbl.Count())
	}
	if !tbl.IsQuestItem(4001007) || !tbl.IsTradeBlocked(4001007) {
		t.Fatal("quest/trade-block flags lost")
	}
	if !tbl.ConsumeOnPickup(2022000) || tbl.StateChangeID(2022000) != 2022000 {
		t.Fatal("consume-on-pickup metadata lost")
	}
	if tbl.Period(5999000) != 1440 {
		t.Fatal("period lost")
	}
	if tbl.IsQuestItem(999999) || tbl.Period(999999) != 0 {
		t.Fatal("unknown item must read as zero flags")
	}
}

func TestLoadItemTableRejectsDuplicateID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.yaml")
	dup := "- item_id: 1\n  name: a\n- item_id: 1\n  name: b\n"
	if err := os.WriteFile(path, []byte(dup), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadItemTable(path); err == nil {
		t.Fatal("duplicate item_id accepted")
	}
}

const fieldYAML = `
field_id: 104000000
name: "hunting ground"
left: -2000
top: -1200
right: 2000
bottom: 800
return_map: 100000000
first_user_enter: "hunting1_on_first_enter"
footholds:
  - { id: 1, x1: -2000, x2: 0, y: 400 }
areas:
  - { name: "bonus", left: 1200, top: 200, right: 2000, bottom: 500 }
mobs:
  - { template_id: 100100, x: -800, y: 400, foothold: 1, max_hp: 80 }
reactors:
  - { template_id: 2002, name: "boxItem0", x: 1500, y: 430, states: 3, respawn_sec: 60 }
`

func TestLoadFieldTable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "104000000.yaml"), []byte(fieldYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-yaml files are skipped, not parsed.
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := LoadFieldTable(dir)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Count() != 1 {
		t.Fatalf("count %d, want 1", tbl.Count())
	}

	info := tbl.Get(104000000)
	if info == nil {
		t.Fatal("field missing")
	}
	if info.FirstUserEnter != "hunting1_on_first_enter" {
		t.Fatal("enter hook name lost")
	}
	if len(info.Footholds) != 1 || info.Footholds[0].Y != 400 {
		t.Fatal("footholds lost")
	}
	if len(info.Areas) != 1 || info.Areas[0].Name != "bonus" {
		t.Fatal("areas lost")
	}
	if len(info.Mobs) != 1 || len(info.Reactors) != 1 {
		t.Fatal("spawn entries lost")
	}
	if tbl.Get(5) != nil {
		t.Fatal("unknown field id must be nil")
	}
}

package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ItemInfo holds the static metadata the world core consults for one item
// template, loaded from items.yaml.
type ItemInfo struct {
	ItemID          int32  `yaml:"item_id"`
	Name            string `yaml:"name"`
	Quest           bool   `yaml:"quest"`             // quest-locked: vanishes when dropped by environment
	TradeBlock      bool   `yaml:"trade_block"`       // cannot change hands
	ConsumeOnPickup bool   `yaml:"consume_on_pickup"` // applied directly, never stored
	StateChangeID   int32  `yaml:"state_change_id"`   // effect id for consume-on-pickup items
	Period          int32  `yaml:"period"`            // minutes until expiry once dropped, 0 = permanent
	MaxPerSlot      int16  `yaml:"max_per_slot"`
}

// ItemTable provides item metadata lookups.
type ItemTable struct {
	items map[int32]*ItemInfo
}

// LoadItemTable reads items.yaml from the given path.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read item table %s: %w", path, err)
	}
	var list []*ItemInfo
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse item table %s: %w", path, err)
	}
	t := &ItemTable{items: make(map[int32]*ItemInfo, len(list))}
	for _, it := range list {
		if _, dup := t.items[it.ItemID]; dup {
			return nil, fmt.Errorf("item table %s: duplicate item_id %d", path, it.ItemID)
		}
		t.items[it.ItemID] = it
	}
	return t, nil
}

// NewItemTable builds a table from an in-memory list (tests, tools).
func NewItemTable(list []*ItemInfo) *ItemTable {
	t := &ItemTable{items: make(map[int32]*ItemInfo, len(list))}
	for _, it := range list {
		t.items[it.ItemID] = it
	}
	return t
}

// Get returns the metadata for an item template, or nil.
func (t *ItemTable) Get(itemID int32) *ItemInfo {
	return t.items[itemID]
}

// IsQuestItem reports whether the item is quest-locked.
func (t *ItemTable) IsQuestItem(itemID int32) bool {
	it := t.items[itemID]
	return it != nil && it.Quest
}

// IsTradeBlocked reports whether the item may never change hands.
func (t *ItemTable) IsTradeBlocked(itemID int32) bool {
	it := t.items[itemID]
	return it != nil && it.TradeBlock
}

// ConsumeOnPickup reports whether picking the item up applies it directly
// instead of storing it.
func (t *ItemTable) ConsumeOnPickup(itemID int32) bool {
	it := t.items[itemID]
	return it != nil && it.ConsumeOnPickup
}

// StateChangeID returns the effect id applied by a consume-on-pickup item.
func (t *ItemTable) StateChangeID(itemID int32) int32 {
	it := t.items[itemID]
	if it == nil {
		return 0
	}
	return it.StateChangeID
}

// Period returns the item's expiry period in minutes (0 = permanent).
func (t *ItemTable) Period(itemID int32) int32 {
	it := t.items[itemID]
	if it == nil {
		return 0
	}
	return it.Period
}

// Count returns the number of loaded item templates.
func (t *ItemTable) Count() int {
	return len(t.items)
}

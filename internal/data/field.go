package data

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AreaRect is a named rectangle used for gameplay count queries.
type AreaRect struct {
	Name   string `yaml:"name"`
	Left   int16  `yaml:"left"`
	Top    int16  `yaml:"top"`
	Right  int16  `yaml:"right"`
	Bottom int16  `yaml:"bottom"`
}

// FootholdInfo is one horizontal walkable segment.
type FootholdInfo struct {
	ID int16 `yaml:"id"`
	X1 int16 `yaml:"x1"`
	X2 int16 `yaml:"x2"`
	Y  int16 `yaml:"y"`
}

// PortalInfo is one named portal.
type PortalInfo struct {
	Name        string `yaml:"name"`
	X           int16  `yaml:"x"`
	Y           int16  `yaml:"y"`
	TargetField int32  `yaml:"target_field"`
	TargetName  string `yaml:"target_name"`
}

// MobSpawnInfo seeds the mob pool of a field.
type MobSpawnInfo struct {
	TemplateID int32 `yaml:"template_id"`
	X          int16 `yaml:"x"`
	Y          int16 `yaml:"y"`
	Foothold   int16 `yaml:"foothold"`
	MaxHP      int32 `yaml:"max_hp"`
	MaxMP      int32 `yaml:"max_mp"`
}

// ReactorSpawnInfo seeds the reactor pool of a field.
type ReactorSpawnInfo struct {
	TemplateID int32  `yaml:"template_id"`
	Name       string `yaml:"name"`
	X          int16  `yaml:"x"`
	Y          int16  `yaml:"y"`
	States     int8   `yaml:"states"` // number of hit states before it clears
	RespawnSec int32  `yaml:"respawn_sec"`
}

// FieldInfo holds metadata for a single map, one YAML file per field.
type FieldInfo struct {
	FieldID          int32              `yaml:"field_id"`
	Name             string             `yaml:"name"`
	Left             int16              `yaml:"left"`
	Top              int16              `yaml:"top"`
	Right            int16              `yaml:"right"`
	Bottom           int16              `yaml:"bottom"`
	ReturnMap        int32              `yaml:"return_map"`
	ForcedReturn     int32              `yaml:"forced_return"`
	Town             bool               `yaml:"town"`
	Swim             bool               `yaml:"swim"`
	FieldLimit       int32              `yaml:"field_limit"`
	MobRate          float64            `yaml:"mob_rate"`
	EverlastingDrops bool               `yaml:"everlasting_drops"`
	FirstUserEnter   string             `yaml:"first_user_enter"` // lua hook name
	UserEnter        string             `yaml:"user_enter"`       // lua hook name
	Areas            []AreaRect         `yaml:"areas"`
	Footholds        []FootholdInfo     `yaml:"footholds"`
	Portals          []PortalInfo       `yaml:"portals"`
	Mobs             []MobSpawnInfo     `yaml:"mobs"`
	Reactors         []ReactorSpawnInfo `yaml:"reactors"`
}

// FieldTable provides field metadata lookups.
type FieldTable struct {
	fields map[int32]*FieldInfo
}

// LoadFieldTable reads every *.yaml file in dir as one field definition,
// the same one-file-per-map layout the map tile data uses.
func LoadFieldTable(dir string) (*FieldTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read field dir %s: %w", dir, err)
	}
	t := &FieldTable{fields: make(map[int32]*FieldInfo)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read field %s: %w", path, err)
		}
		var info FieldInfo
		if err := yaml.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("parse field %s: %w", path, err)
		}
		if _, dup := t.fields[info.FieldID]; dup {
			return nil, fmt.Errorf("field %s: duplicate field_id %d", path, info.FieldID)
		}
		t.fields[info.FieldID] = &info
	}
	return t, nil
}

// NewFieldTable builds a table from in-memory definitions (tests, tools).
func NewFieldTable(list []*FieldInfo) *FieldTable {
	t := &FieldTable{fields: make(map[int32]*FieldInfo, len(list))}
	for _, f := range list {
		t.fields[f.FieldID] = f
	}
	return t
}

// Get returns the metadata for a field, or nil.
func (t *FieldTable) Get(fieldID int32) *FieldInfo {
	return t.fields[fieldID]
}

// Count returns the number of loaded fields.
func (t *FieldTable) Count() int {
	return len(t.fields)
}

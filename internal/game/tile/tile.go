// Package tile models dungeon tiles, their contents and the per-game deck.
package tile

import (
	"sort"
)

// Feature is a special property a tile can carry.
type Feature string

const (
	FeatureTeleportGate    Feature = "teleport_gate"
	FeatureHealingFountain Feature = "healing_fountain"
)

// Tile is a placeable grid cell.
// Orientation is fixed once the tile is on the field; rotation is only legal before placement.
type Tile struct {
	ID          string      `json:"id"`
	Orientation Orientation `json:"orientation"`
	Room        bool        `json:"room"`
	Features    []Feature   `json:"features,omitempty"`
}

// HasFeature reports whether the tile carries f.
func (t Tile) HasFeature(f Feature) bool {
	for _, have := range t.Features {
		if have == f {
			return true
		}
	}
	return false
}

// Rotated returns a copy turned a quarter clockwise.
func (t Tile) Rotated() Tile {
	t.Orientation = t.Orientation.Rotate()
	t.Features = append([]Feature(nil), t.Features...)
	return t
}

// WithOrientation returns a copy using o.
func (t Tile) WithOrientation(o Orientation) Tile {
	t.Orientation = o
	t.Features = append([]Feature(nil), t.Features...)
	return t
}

// ItemType is the inventory category an item belongs to.
type ItemType string

const (
	ItemKey      ItemType = "key"
	ItemWeapon   ItemType = "weapon"
	ItemSpell    ItemType = "spell"
	ItemTreasure ItemType = "treasure"
)

// SpellEffect describes what a spell does when cast outside a battle.
type SpellEffect string

const (
	// SpellNone spells only add their damage in battle.
	SpellNone     SpellEffect = ""
	SpellHeal     SpellEffect = "heal"
	SpellTeleport SpellEffect = "teleport"
)

// Item is anything a player can carry.
type Item struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     ItemType    `json:"type"`
	Damage   int         `json:"damage,omitempty"`
	Value    int         `json:"value,omitempty"`
	Spell    SpellEffect `json:"spell,omitempty"`
	EndsGame bool        `json:"ends_game,omitempty"`
}

// Monster guards a room until defeated.
type Monster struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	HP     int    `json:"hp"`
	Damage int    `json:"damage"`
	Boss   bool   `json:"boss,omitempty"`
	Loot   *Item  `json:"loot,omitempty"`
}

// Spec is one deck entry: a tile plus whatever the room holds.
type Spec struct {
	Tile    Tile     `json:"tile"`
	Monster *Monster `json:"monster,omitempty"`
	Item    *Item    `json:"item,omitempty"`
}

// Clone deep-copies the spec.
func (s Spec) Clone() Spec {
	out := Spec{Tile: s.Tile.WithOrientation(s.Tile.Orientation)}
	if s.Monster != nil {
		m := *s.Monster
		if m.Loot != nil {
			loot := *m.Loot
			m.Loot = &loot
		}
		out.Monster = &m
	}
	if s.Item != nil {
		it := *s.Item
		out.Item = &it
	}
	return out
}

// SortPositions sorts positions row-major in place and returns them.
func SortPositions(ps []Position) []Position {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
	return ps
}

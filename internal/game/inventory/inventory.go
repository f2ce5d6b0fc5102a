// Package inventory implements the per-player, category-capped item store.
package inventory

import (
	"fmt"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// Unlimited marks a category without a cap.
const Unlimited = -1

var capacities = map[tile.ItemType]int{
	tile.ItemKey:      1,
	tile.ItemWeapon:   2,
	tile.ItemSpell:    3,
	tile.ItemTreasure: Unlimited,
}

// Capacity returns the cap for a category, or Unlimited.
func Capacity(t tile.ItemType) int {
	if c, ok := capacities[t]; ok {
		return c
	}
	return 0
}

// RecordKind labels an inventory change.
type RecordKind string

const (
	RecordAdded    RecordKind = "added"
	RecordRemoved  RecordKind = "removed"
	RecordReplaced RecordKind = "replaced"
)

// Record is an audit entry for one inventory change.
type Record struct {
	Kind RecordKind
	Item tile.Item
	// ReplacedID is the id of the item a replacement displaced.
	ReplacedID string
}

// Inventory holds a player's items by category.
type Inventory struct {
	Keys      []tile.Item `json:"keys"`
	Weapons   []tile.Item `json:"weapons"`
	Spells    []tile.Item `json:"spells"`
	Treasures []tile.Item `json:"treasures"`
}

func (inv *Inventory) slot(t tile.ItemType) *[]tile.Item {
	switch t {
	case tile.ItemKey:
		return &inv.Keys
	case tile.ItemWeapon:
		return &inv.Weapons
	case tile.ItemSpell:
		return &inv.Spells
	case tile.ItemTreasure:
		return &inv.Treasures
	}
	return nil
}

// Items returns a copy of the items in one category.
func (inv *Inventory) Items(t tile.ItemType) []tile.Item {
	s := inv.slot(t)
	if s == nil {
		return nil
	}
	return append([]tile.Item(nil), (*s)...)
}

// Count returns how many items a category holds.
func (inv *Inventory) Count(t tile.ItemType) int {
	if s := inv.slot(t); s != nil {
		return len(*s)
	}
	return 0
}

// IsFull reports whether one more item of type t would exceed the cap.
func (inv *Inventory) IsFull(t tile.ItemType) bool {
	c := Capacity(t)
	return c != Unlimited && inv.Count(t) >= c
}

// Add stores item in its category. A full category returns *gameerr.InventoryFullError
// and leaves the inventory unchanged.
func (inv *Inventory) Add(item tile.Item) (Record, error) {
	s := inv.slot(item.Type)
	if s == nil {
		return Record{}, gameerr.WithMetadata(gameerr.CodeInvalidArgument, "unknown item type", map[string]string{
			"item_id": item.ID,
			"type":    string(item.Type),
		})
	}
	if inv.IsFull(item.Type) {
		current := make([]string, 0, len(*s))
		for _, have := range *s {
			current = append(current, have.ID)
		}
		return Record{}, &gameerr.InventoryFullError{
			Category:     string(item.Type),
			Capacity:     Capacity(item.Type),
			CurrentItems: current,
		}
	}
	*s = append(*s, item)
	return Record{Kind: RecordAdded, Item: item}, nil
}

// Find returns the item with id in any category.
func (inv *Inventory) Find(id string) (tile.Item, bool) {
	for _, t := range []tile.ItemType{tile.ItemKey, tile.ItemWeapon, tile.ItemSpell, tile.ItemTreasure} {
		for _, it := range *inv.slot(t) {
			if it.ID == id {
				return it, true
			}
		}
	}
	return tile.Item{}, false
}

// Remove deletes the item with id.
func (inv *Inventory) Remove(id string) (Record, error) {
	for _, t := range []tile.ItemType{tile.ItemKey, tile.ItemWeapon, tile.ItemSpell, tile.ItemTreasure} {
		s := inv.slot(t)
		for i, it := range *s {
			if it.ID == id {
				*s = append((*s)[:i:i], (*s)[i+1:]...)
				return Record{Kind: RecordRemoved, Item: it}, nil
			}
		}
	}
	return Record{}, itemNotFound(id)
}

// Replace atomically swaps oldID for item. It returns the removal record followed by the replacement record.
func (inv *Inventory) Replace(oldID string, item tile.Item) ([]Record, error) {
	next := inv.Clone()
	removed, err := next.Remove(oldID)
	if err != nil {
		return nil, err
	}
	if _, err := next.Add(item); err != nil {
		return nil, gameerr.Wrap(gameerr.CodeCategoryAtCapacityDuringReplace,
			fmt.Sprintf("replacing %s with %s would exceed the %s cap", oldID, item.ID, item.Type), err)
	}
	*inv = next
	return []Record{
		removed,
		{Kind: RecordReplaced, Item: item, ReplacedID: oldID},
	}, nil
}

func itemNotFound(id string) error {
	return gameerr.WithMetadata(gameerr.CodeItemNotFound, "item not in inventory", map[string]string{
		"item_id": id,
	})
}

// HasKey reports whether a key is held.
func (inv *Inventory) HasKey() bool {
	return len(inv.Keys) > 0
}

// TotalWeaponDamage sums the damage of all carried weapons.
func (inv *Inventory) TotalWeaponDamage() int {
	total := 0
	for _, w := range inv.Weapons {
		total += w.Damage
	}
	return total
}

// TotalSpellDamage sums the damage of all carried spells.
func (inv *Inventory) TotalSpellDamage() int {
	total := 0
	for _, s := range inv.Spells {
		total += s.Damage
	}
	return total
}

// ItemsMatching returns the items with the given ids in request order.
// Any missing id fails the whole lookup.
func (inv *Inventory) ItemsMatching(ids []string) ([]tile.Item, error) {
	out := make([]tile.Item, 0, len(ids))
	for _, id := range ids {
		it, ok := inv.Find(id)
		if !ok {
			return nil, itemNotFound(id)
		}
		out = append(out, it)
	}
	return out, nil
}

// SpellsMatching is ItemsMatching restricted to spells; duplicates are rejected.
func (inv *Inventory) SpellsMatching(ids []string) ([]tile.Item, error) {
	seen := make(map[string]bool, len(ids))
	items, err := inv.ItemsMatching(ids)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Type != tile.ItemSpell || seen[it.ID] {
			return nil, itemNotFound(it.ID)
		}
		seen[it.ID] = true
	}
	return items, nil
}

// TreasureValue is the score contribution of the carried treasure.
func (inv *Inventory) TreasureValue() int {
	total := 0
	for _, t := range inv.Treasures {
		total += t.Value
	}
	return total
}

// Validate checks the category caps.
func (inv *Inventory) Validate() error {
	for t, c := range capacities {
		if c != Unlimited && inv.Count(t) > c {
			return gameerr.WithMetadata(gameerr.CodeInvariantViolation, "inventory category over capacity", map[string]string{
				"category": string(t),
				"count":    fmt.Sprintf("%d", inv.Count(t)),
			})
		}
	}
	return nil
}

// Clone returns a deep copy.
func (inv *Inventory) Clone() Inventory {
	return Inventory{
		Keys:      append([]tile.Item(nil), inv.Keys...),
		Weapons:   append([]tile.Item(nil), inv.Weapons...),
		Spells:    append([]tile.Item(nil), inv.Spells...),
		Treasures: append([]tile.Item(nil), inv.Treasures...),
	}
}

package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

func weapon(id string, dmg int) tile.Item {
	return tile.Item{ID: id, Name: id, Type: tile.ItemWeapon, Damage: dmg}
}

func spell(id string, dmg int) tile.Item {
	return tile.Item{ID: id, Name: id, Type: tile.ItemSpell, Damage: dmg}
}

func TestCapacities(t *testing.T) {
	assert.Equal(t, 1, Capacity(tile.ItemKey))
	assert.Equal(t, 2, Capacity(tile.ItemWeapon))
	assert.Equal(t, 3, Capacity(tile.ItemSpell))
	assert.Equal(t, Unlimited, Capacity(tile.ItemTreasure))
}

func TestAddThirdWeaponIsDecisionPoint(t *testing.T) {
	var inv Inventory
	_, err := inv.Add(weapon("w1", 1))
	require.NoError(t, err)
	_, err = inv.Add(weapon("w2", 2))
	require.NoError(t, err)

	_, err = inv.Add(weapon("w3", 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, gameerr.ErrInventoryFull))

	var full *gameerr.InventoryFullError
	require.True(t, errors.As(err, &full))
	assert.Equal(t, "weapon", full.Category)
	assert.Equal(t, 2, full.Capacity)
	assert.Equal(t, []string{"w1", "w2"}, full.CurrentItems)

	assert.Equal(t, 2, inv.Count(tile.ItemWeapon))
	assert.Equal(t, 3, inv.TotalWeaponDamage())
}

func TestTreasureHasNoCap(t *testing.T) {
	var inv Inventory
	for i := 0; i < 50; i++ {
		_, err := inv.Add(tile.Item{ID: string(rune('a' + i%26)), Type: tile.ItemTreasure, Value: 2})
		require.NoError(t, err)
	}
	assert.Equal(t, 100, inv.TreasureValue())
	assert.False(t, inv.IsFull(tile.ItemTreasure))
}

func TestReplaceEmitsBothRecords(t *testing.T) {
	var inv Inventory
	_, _ = inv.Add(weapon("w1", 1))
	_, _ = inv.Add(weapon("w2", 2))

	records, err := inv.Replace("w1", weapon("w3", 3))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, RecordRemoved, records[0].Kind)
	assert.Equal(t, "w1", records[0].Item.ID)
	assert.Equal(t, RecordReplaced, records[1].Kind)
	assert.Equal(t, "w3", records[1].Item.ID)
	assert.Equal(t, "w1", records[1].ReplacedID)

	assert.Equal(t, []string{"w2", "w3"}, ids(inv.Items(tile.ItemWeapon)))
	assert.NoError(t, inv.Validate())
}

func TestReplaceUnknownItem(t *testing.T) {
	var inv Inventory
	_, _ = inv.Add(weapon("w1", 1))

	_, err := inv.Replace("nope", weapon("w2", 2))
	assert.True(t, errors.Is(err, gameerr.ErrItemNotFound))
	assert.Equal(t, []string{"w1"}, ids(inv.Weapons))
}

func TestReplaceAcrossFullCategoryChangesNothing(t *testing.T) {
	var inv Inventory
	_, _ = inv.Add(tile.Item{ID: "k1", Type: tile.ItemKey})
	_, _ = inv.Add(weapon("w1", 1))

	_, err := inv.Replace("w1", tile.Item{ID: "k2", Type: tile.ItemKey})
	assert.Equal(t, gameerr.CodeCategoryAtCapacityDuringReplace, gameerr.CodeOf(err))
	assert.Equal(t, gameerr.KindInvariant, gameerr.CodeOf(err).Kind())
	assert.Equal(t, []string{"w1"}, ids(inv.Weapons))
	assert.Equal(t, []string{"k1"}, ids(inv.Keys))
}

func TestRemove(t *testing.T) {
	var inv Inventory
	_, _ = inv.Add(spell("s1", 2))
	_, _ = inv.Add(spell("s2", 3))

	rec, err := inv.Remove("s1")
	require.NoError(t, err)
	assert.Equal(t, RecordRemoved, rec.Kind)
	assert.Equal(t, 3, inv.TotalSpellDamage())

	_, err = inv.Remove("s1")
	assert.True(t, errors.Is(err, gameerr.ErrItemNotFound))
}

func TestItemsMatchingKeepsRequestOrder(t *testing.T) {
	var inv Inventory
	_, _ = inv.Add(spell("s1", 1))
	_, _ = inv.Add(spell("s2", 2))
	_, _ = inv.Add(weapon("w1", 3))

	items, err := inv.ItemsMatching([]string{"w1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "s2"}, ids(items))

	_, err = inv.ItemsMatching([]string{"s1", "missing"})
	assert.True(t, errors.Is(err, gameerr.ErrItemNotFound))

	_, err = inv.SpellsMatching([]string{"s1", "w1"})
	assert.True(t, errors.Is(err, gameerr.ErrItemNotFound))
	_, err = inv.SpellsMatching([]string{"s1", "s1"})
	assert.True(t, errors.Is(err, gameerr.ErrItemNotFound))

	spells, err := inv.SpellsMatching([]string{"s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, spells[0].Damage)
}

func TestHasKeyAndUnknownType(t *testing.T) {
	var inv Inventory
	assert.False(t, inv.HasKey())
	_, err := inv.Add(tile.Item{ID: "k1", Type: tile.ItemKey})
	require.NoError(t, err)
	assert.True(t, inv.HasKey())

	_, err = inv.Add(tile.Item{ID: "x", Type: "potion"})
	assert.Equal(t, gameerr.CodeInvalidArgument, gameerr.CodeOf(err))
}

func TestCloneIsIndependent(t *testing.T) {
	var inv Inventory
	_, _ = inv.Add(weapon("w1", 1))
	cp := inv.Clone()
	_, _ = cp.Add(weapon("w2", 1))
	assert.Equal(t, 1, inv.Count(tile.ItemWeapon))
}

func ids(items []tile.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

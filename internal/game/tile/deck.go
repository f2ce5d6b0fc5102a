package tile

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// MinDeckSize is the smallest deck that still holds a boss room and a corridor.
const MinDeckSize = 2

// Deck is the per-game ordered sequence of tiles still to be drawn.
type Deck struct {
	ID      string `json:"id"`
	GameID  string `json:"game_id"`
	Version int64  `json:"version"`
	Specs   []Spec `json:"specs"`
	Total   int    `json:"total"`
	Rooms   int    `json:"rooms"`
	Drawn   int    `json:"drawn"`
	// Held is a drawn tile nobody managed to place; it is handed out before Specs.
	Held *Spec `json:"held,omitempty"`
}

// NewDeck wraps specs in a deck aggregate. Specs are copied.
func NewDeck(id, gameID string, specs []Spec) *Deck {
	cp := make([]Spec, len(specs))
	rooms := 0
	for i, s := range specs {
		cp[i] = s.Clone()
		if s.Tile.Room {
			rooms++
		}
	}
	return &Deck{
		ID:     id,
		GameID: gameID,
		Specs:  cp,
		Total:  len(cp),
		Rooms:  rooms,
	}
}

// Remaining returns how many tiles are left, counting a held tile.
func (d *Deck) Remaining() int {
	if d.Held != nil {
		return len(d.Specs) + 1
	}
	return len(d.Specs)
}

// Empty reports deck exhaustion.
func (d *Deck) Empty() bool {
	return d.Remaining() == 0
}

// Draw returns the held tile if any, otherwise removes the next one from Specs.
// Specs only ever shrink.
func (d *Deck) Draw() (Spec, bool) {
	if d.Held != nil {
		held := *d.Held
		d.Held = nil
		return held, true
	}
	if len(d.Specs) == 0 {
		return Spec{}, false
	}
	next := d.Specs[0]
	d.Specs = d.Specs[1:]
	d.Drawn++
	return next, true
}

// Hold keeps a drawn but unplaced tile for the next draw.
func (d *Deck) Hold(spec Spec) {
	held := spec.Clone()
	d.Held = &held
}

// StartTile is the fixed four-way corridor every game begins with.
func StartTile(gameID string) Tile {
	return Tile{
		ID:          DeterministicID(gameID, "tile/start"),
		Orientation: OpenAll,
	}
}

// DeterministicID derives a stable UUID (v5) from a scope and a name.
func DeterministicID(scope, name string) string {
	ns, err := uuid.Parse(scope)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(scope))
	}
	return uuid.NewSHA1(ns, []byte(name)).String()
}

type monsterTemplate struct {
	name   string
	hp     int
	damage int
}

var bestiary = []monsterTemplate{
	{name: "Giant Rat", hp: 3, damage: 1},
	{name: "Goblin", hp: 4, damage: 1},
	{name: "Skeleton", hp: 5, damage: 1},
	{name: "Orc", hp: 7, damage: 2},
	{name: "Ogre", hp: 8, damage: 2},
	{name: "Troll", hp: 9, damage: 3},
}

// The boss must stay below the best two-dice roll.
var bossTemplate = monsterTemplate{name: "Dragon", hp: 10, damage: 3}

// armory is planted in the first room of a deck that would otherwise carry no weapon.
var armory = Item{Name: "Battle Axe", Type: ItemWeapon, Damage: 3}

var lootTable = []Item{
	{Name: "Dagger", Type: ItemWeapon, Damage: 1},
	{Name: "Short Sword", Type: ItemWeapon, Damage: 2},
	{Name: "Battle Axe", Type: ItemWeapon, Damage: 3},
	{Name: "Fireball", Type: ItemSpell, Damage: 3},
	{Name: "Lightning Bolt", Type: ItemSpell, Damage: 2},
	{Name: "Healing Potion", Type: ItemSpell, Spell: SpellHeal},
	{Name: "Teleport Scroll", Type: ItemSpell, Damage: 1, Spell: SpellTeleport},
	{Name: "Iron Key", Type: ItemKey},
	{Name: "Gold Coins", Type: ItemTreasure, Value: 2},
	{Name: "Silver Chalice", Type: ItemTreasure, Value: 3},
	{Name: "Ruby", Type: ItemTreasure, Value: 5},
}

var chestTable = []Item{
	{Name: "Gold Coins", Type: ItemTreasure, Value: 2},
	{Name: "Emerald", Type: ItemTreasure, Value: 4},
	{Name: "Healing Potion", Type: ItemSpell, Spell: SpellHeal},
	{Name: "Short Sword", Type: ItemWeapon, Damage: 2},
	{Name: "Iron Key", Type: ItemKey},
}

var corridorShapes = []Orientation{
	OpenTop | OpenBottom,
	OpenTop | OpenRight,
	OpenTop | OpenRight | OpenBottom,
	OpenAll,
}

var roomShapes = []Orientation{
	OpenTop,
	OpenTop | OpenRight,
	OpenTop | OpenRight | OpenBottom,
}

// Generate builds a deck of size tiles as a pure function of (gameID, seed).
//
// Roughly 40% of the tiles are rooms; the boss room is always drawn last.
// Two teleport gates and up to two healing fountains are spread over corridors.
// When there is any room besides the boss, at least one of them offers a weapon.
func Generate(gameID string, size int, seed int64) ([]Spec, error) {
	if size < MinDeckSize {
		return nil, fmt.Errorf("deck size must be at least %d, got %d", MinDeckSize, size)
	}

	rng := rand.New(rand.NewSource(seed))
	nextID := 0
	id := func(kind string) string {
		nextID++
		return DeterministicID(gameID, fmt.Sprintf("%s/%d/%d", kind, seed, nextID))
	}

	rooms := size * 2 / 5
	if rooms < 1 {
		rooms = 1
	}
	corridors := size - rooms

	specs := make([]Spec, 0, size)
	for i := 0; i < corridors; i++ {
		shape := corridorShapes[rng.Intn(len(corridorShapes))].RotateTimes(rng.Intn(4))
		specs = append(specs, Spec{Tile: Tile{ID: id("tile"), Orientation: shape}})
	}

	// Features go on corridors so a gate or fountain never hides a monster.
	featured := rng.Perm(corridors)
	cursor := 0
	if corridors >= 4 {
		for g := 0; g < 2; g++ {
			idx := featured[cursor]
			cursor++
			specs[idx].Tile.Features = append(specs[idx].Tile.Features, FeatureTeleportGate)
		}
	}
	fountains := 0
	switch {
	case corridors >= 6:
		fountains = 2
	case corridors >= 3:
		fountains = 1
	}
	for f := 0; f < fountains && cursor < len(featured); f++ {
		idx := featured[cursor]
		cursor++
		specs[idx].Tile.Features = append(specs[idx].Tile.Features, FeatureHealingFountain)
	}

	for i := 0; i < rooms-1; i++ {
		shape := roomShapes[rng.Intn(len(roomShapes))].RotateTimes(rng.Intn(4))
		spec := Spec{Tile: Tile{ID: id("tile"), Orientation: shape, Room: true}}
		if rng.Intn(10) < 7 {
			tmpl := bestiary[rng.Intn(len(bestiary))]
			loot := lootTable[rng.Intn(len(lootTable))]
			loot.ID = id("item")
			spec.Monster = &Monster{
				ID:     id("monster"),
				Name:   tmpl.name,
				HP:     tmpl.hp,
				Damage: tmpl.damage,
				Loot:   &loot,
			}
		} else {
			chest := chestTable[rng.Intn(len(chestTable))]
			chest.ID = id("item")
			spec.Item = &chest
		}
		specs = append(specs, spec)
	}

	ensureWeapon(specs[corridors:])
	rng.Shuffle(len(specs), func(i, j int) { specs[i], specs[j] = specs[j], specs[i] })

	hoard := Item{ID: id("item"), Name: "Dragon Hoard", Type: ItemTreasure, Value: 20, EndsGame: true}
	specs = append(specs, Spec{
		Tile: Tile{ID: id("tile"), Orientation: OpenTop, Room: true},
		Monster: &Monster{
			ID:     id("monster"),
			Name:   bossTemplate.name,
			HP:     bossTemplate.hp,
			Damage: bossTemplate.damage,
			Boss:   true,
			Loot:   &hoard,
		},
	})

	return specs, nil
}

func ensureWeapon(rooms []Spec) {
	if len(rooms) == 0 {
		return
	}
	for _, s := range rooms {
		if s.Item != nil && s.Item.Type == ItemWeapon {
			return
		}
		if s.Monster != nil && s.Monster.Loot != nil && s.Monster.Loot.Type == ItemWeapon {
			return
		}
	}
	axe := armory
	first := &rooms[0]
	if first.Monster != nil {
		axe.ID = first.Monster.Loot.ID
		first.Monster.Loot = &axe
		return
	}
	axe.ID = first.Item.ID
	first.Item = &axe
}

// Package field implements the dungeon map: placed tiles, placement slots and
// the transition graph players move along.
package field

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// Slot describes an empty position next to the map.
// Required sides face open neighbours; Blocked sides face walls of placed neighbours.
type Slot struct {
	Required tile.Orientation `json:"required"`
	Blocked  tile.Orientation `json:"blocked"`
}

// Accepts reports whether orientation o satisfies the slot exactly.
func (s Slot) Accepts(o tile.Orientation) bool {
	return o.Contains(s.Required) && o&s.Blocked == 0
}

// Field is the per-game map aggregate.
type Field struct {
	ID      string `json:"id"`
	GameID  string `json:"game_id"`
	Version int64  `json:"version"`

	Tiles     map[tile.Position]tile.Tile       `json:"tiles"`
	Required  map[tile.Position]Slot            `json:"required"`
	Edges     map[tile.Position][]tile.Position `json:"edges"`
	Teleports map[tile.Position]tile.Position   `json:"teleports"`
	Gates     []tile.Position                   `json:"gates"`
	Fountains []tile.Position                   `json:"fountains"`
	Monsters  map[tile.Position]tile.Monster    `json:"monsters"`
	Items     map[tile.Position]tile.Item       `json:"items"`
	Consumed  map[string]bool                   `json:"consumed"`
}

// Placement reports what a committed placement did to the graph.
type Placement struct {
	Position  tile.Position
	Tile      tile.Tile
	Attempts  int
	Connected []tile.Position
	// Partner is set when this tile completed a teleport pair.
	Partner  *tile.Position
	Fountain bool
	Monster  *tile.Monster
	Item     *tile.Item
}

// New creates a field holding only the start tile at the origin.
func New(id, gameID string, start tile.Tile) *Field {
	f := &Field{
		ID:        id,
		GameID:    gameID,
		Tiles:     make(map[tile.Position]tile.Tile),
		Required:  make(map[tile.Position]Slot),
		Edges:     make(map[tile.Position][]tile.Position),
		Teleports: make(map[tile.Position]tile.Position),
		Monsters:  make(map[tile.Position]tile.Monster),
		Items:     make(map[tile.Position]tile.Item),
		Consumed:  make(map[string]bool),
	}
	f.commit(tile.Spec{Tile: start}, tile.Origin)
	return f
}

// TileAt returns the tile placed at pos.
func (f *Field) TileAt(pos tile.Position) (tile.Tile, bool) {
	t, ok := f.Tiles[pos]
	return t, ok
}

// Positions returns every placed position, row-major.
func (f *Field) Positions() []tile.Position {
	out := make([]tile.Position, 0, len(f.Tiles))
	for p := range f.Tiles {
		out = append(out, p)
	}
	return tile.SortPositions(out)
}

// PlacementsFor returns every open slot on the map, row-major.
func (f *Field) PlacementsFor() []tile.Position {
	out := make([]tile.Position, 0, len(f.Required))
	for p := range f.Required {
		out = append(out, p)
	}
	return tile.SortPositions(out)
}

// SlotAt returns the slot for an empty position.
func (f *Field) SlotAt(pos tile.Position) (Slot, bool) {
	s, ok := f.Required[pos]
	return s, ok
}

// AvailableFrom returns the empty positions a player standing on from could place into.
func (f *Field) AvailableFrom(from tile.Position) []tile.Position {
	here, ok := f.Tiles[from]
	if !ok {
		return nil
	}
	var out []tile.Position
	for _, side := range tile.AllSides {
		if !here.Orientation.IsOpen(side) {
			continue
		}
		next := from.Neighbor(side)
		if _, taken := f.Tiles[next]; taken {
			continue
		}
		out = append(out, next)
	}
	return tile.SortPositions(out)
}

// checkTarget validates everything about a placement that does not depend on orientation.
func (f *Field) checkTarget(pos, from tile.Position) (tile.Side, error) {
	if _, taken := f.Tiles[pos]; taken {
		return 0, gameerr.WithMetadata(gameerr.CodePositionAlreadyOccupied, "position already has a tile", map[string]string{
			"position": pos.String(),
		})
	}
	here, ok := f.Tiles[from]
	side, adjacent := from.SideToward(pos)
	if !ok || !adjacent || !here.Orientation.IsOpen(side) {
		return 0, gameerr.WithMetadata(gameerr.CodePositionNotAdjacent, "position is not reachable from the player's tile", map[string]string{
			"position": pos.String(),
			"from":     from.String(),
		})
	}
	return side, nil
}

func (f *Field) fits(t tile.Tile, o tile.Orientation, pos tile.Position, toward tile.Side) bool {
	if !o.IsOpen(toward.Opposite()) {
		return false
	}
	if !t.Room {
		return true
	}
	return f.Required[pos].Accepts(o)
}

// CanPlace checks t as currently oriented against pos for a player standing on from.
func (f *Field) CanPlace(t tile.Tile, pos, from tile.Position) error {
	side, err := f.checkTarget(pos, from)
	if err != nil {
		return err
	}
	if !f.fits(t, t.Orientation, pos, side) {
		return noValidOrientation(t, pos)
	}
	return nil
}

// Fit returns the first orientation, starting from t's own and turning clockwise,
// that can be placed at pos. The second value is the number of attempts made.
func (f *Field) Fit(t tile.Tile, pos, from tile.Position) (tile.Orientation, int, error) {
	for attempt := 1; attempt <= 4; attempt++ {
		err := f.CanPlace(t, pos, from)
		if err == nil {
			return t.Orientation, attempt, nil
		}
		if !errors.Is(err, gameerr.ErrNoValidOrientation) {
			return 0, 0, err
		}
		t = t.Rotated()
	}
	return 0, 4, noValidOrientation(t, pos)
}

func noValidOrientation(t tile.Tile, pos tile.Position) error {
	return gameerr.WithMetadata(gameerr.CodeNoValidOrientation, "tile does not fit the slot in any orientation", map[string]string{
		"tile_id":     t.ID,
		"position":    pos.String(),
		"orientation": t.Orientation.String(),
	})
}

// Place commits spec at pos, rotating it if needed.
func (f *Field) Place(spec tile.Spec, pos, from tile.Position) (Placement, error) {
	o, attempts, err := f.Fit(spec.Tile, pos, from)
	if err != nil {
		return Placement{}, err
	}
	spec = spec.Clone()
	spec.Tile.Orientation = o
	placement := f.commit(spec, pos)
	placement.Attempts = attempts
	return placement, nil
}

func (f *Field) commit(spec tile.Spec, pos tile.Position) Placement {
	t := spec.Tile
	f.Tiles[pos] = t
	delete(f.Required, pos)

	placement := Placement{Position: pos, Tile: t}
	for _, side := range tile.AllSides {
		next := pos.Neighbor(side)
		other, ok := f.Tiles[next]
		if !ok {
			f.refreshSlot(next)
			continue
		}
		if t.Orientation.IsOpen(side) && other.Orientation.IsOpen(side.Opposite()) {
			f.link(pos, next)
			placement.Connected = append(placement.Connected, next)
		}
	}
	tile.SortPositions(placement.Connected)

	if t.HasFeature(tile.FeatureHealingFountain) {
		f.Fountains = append(f.Fountains, pos)
		placement.Fountain = true
	}
	if t.HasFeature(tile.FeatureTeleportGate) {
		f.Gates = append(f.Gates, pos)
		if n := len(f.Gates); n%2 == 0 {
			partner := f.Gates[n-2]
			f.Teleports[pos] = partner
			f.Teleports[partner] = pos
			placement.Partner = &partner
		}
	}
	if spec.Monster != nil {
		m := *spec.Monster
		f.Monsters[pos] = m
		placement.Monster = &m
	}
	if spec.Item != nil {
		it := *spec.Item
		f.Items[pos] = it
		placement.Item = &it
	}
	return placement
}

func (f *Field) link(a, b tile.Position) {
	f.Edges[a] = appendUnique(f.Edges[a], b)
	f.Edges[b] = appendUnique(f.Edges[b], a)
}

func appendUnique(ps []tile.Position, p tile.Position) []tile.Position {
	for _, have := range ps {
		if have == p {
			return ps
		}
	}
	return tile.SortPositions(append(ps, p))
}

// refreshSlot recomputes the slot of an empty position from its placed neighbours.
func (f *Field) refreshSlot(pos tile.Position) {
	var slot Slot
	open := false
	for _, side := range tile.AllSides {
		other, ok := f.Tiles[pos.Neighbor(side)]
		if !ok {
			continue
		}
		if other.Orientation.IsOpen(side.Opposite()) {
			slot.Required |= tile.NewOrientation(side)
			open = true
		} else {
			slot.Blocked |= tile.NewOrientation(side)
		}
	}
	if !open {
		delete(f.Required, pos)
		return
	}
	f.Required[pos] = slot
}

// Neighbors returns the positions one transition away from pos: adjacency
// edges plus the teleport partner, row-major.
func (f *Field) Neighbors(pos tile.Position) []tile.Position {
	out := append([]tile.Position(nil), f.Edges[pos]...)
	if partner, ok := f.Teleports[pos]; ok {
		out = appendUnique(out, partner)
	}
	return tile.SortPositions(out)
}

// HasEdge reports an adjacency transition between a and b.
func (f *Field) HasEdge(a, b tile.Position) bool {
	for _, p := range f.Edges[a] {
		if p == b {
			return true
		}
	}
	return false
}

// IsTeleport reports whether a and b form a teleport pair.
func (f *Field) IsTeleport(a, b tile.Position) bool {
	partner, ok := f.Teleports[a]
	return ok && partner == b
}

// Connected reports any transition between a and b.
func (f *Field) Connected(a, b tile.Position) bool {
	return f.HasEdge(a, b) || f.IsTeleport(a, b)
}

// IsFountain reports whether pos holds a healing fountain.
func (f *Field) IsFountain(pos tile.Position) bool {
	for _, p := range f.Fountains {
		if p == pos {
			return true
		}
	}
	return false
}

// MonsterAt returns the living monster at pos.
func (f *Field) MonsterAt(pos tile.Position) (tile.Monster, bool) {
	m, ok := f.Monsters[pos]
	return m, ok
}

// DefeatMonster removes the monster at pos and drops its loot on the tile.
func (f *Field) DefeatMonster(pos tile.Position) (tile.Monster, bool) {
	m, ok := f.Monsters[pos]
	if !ok {
		return tile.Monster{}, false
	}
	delete(f.Monsters, pos)
	if m.Loot != nil && !f.Consumed[m.Loot.ID] {
		f.Items[pos] = *m.Loot
	}
	return m, true
}

// ItemAt returns the ground item at pos.
func (f *Field) ItemAt(pos tile.Position) (tile.Item, bool) {
	it, ok := f.Items[pos]
	return it, ok
}

// TakeItem removes the ground item at pos and marks it consumed.
func (f *Field) TakeItem(pos tile.Position) (tile.Item, error) {
	it, ok := f.Items[pos]
	if !ok {
		return tile.Item{}, gameerr.WithMetadata(gameerr.CodeNoItemAtPosition, "no item on this tile", map[string]string{
			"position": pos.String(),
		})
	}
	if f.Consumed[it.ID] {
		return tile.Item{}, gameerr.WithMetadata(gameerr.CodeItemAlreadyConsumed, "item was already picked up", map[string]string{
			"position": pos.String(),
			"item_id":  it.ID,
		})
	}
	delete(f.Items, pos)
	f.Consumed[it.ID] = true
	return it, nil
}

// Validate checks the structural invariants of the graph.
func (f *Field) Validate() error {
	for a, targets := range f.Edges {
		at, ok := f.Tiles[a]
		if !ok {
			return fmt.Errorf("edge from empty position %s", a)
		}
		for _, b := range targets {
			bt, ok := f.Tiles[b]
			if !ok {
				return fmt.Errorf("edge %s->%s into empty position", a, b)
			}
			if !f.HasEdge(b, a) {
				return fmt.Errorf("edge %s->%s has no reverse", a, b)
			}
			side, adjacent := a.SideToward(b)
			if !adjacent {
				return fmt.Errorf("edge %s->%s joins non-adjacent positions", a, b)
			}
			if !at.Orientation.IsOpen(side) || !bt.Orientation.IsOpen(side.Opposite()) {
				return fmt.Errorf("edge %s->%s crosses a wall", a, b)
			}
		}
	}
	for a, b := range f.Teleports {
		if f.Teleports[b] != a {
			return fmt.Errorf("teleport %s->%s has no reverse", a, b)
		}
	}
	for p := range f.Required {
		if _, taken := f.Tiles[p]; taken {
			return fmt.Errorf("slot %s is already placed", p)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	cp := &Field{
		ID:        f.ID,
		GameID:    f.GameID,
		Version:   f.Version,
		Tiles:     make(map[tile.Position]tile.Tile, len(f.Tiles)),
		Required:  make(map[tile.Position]Slot, len(f.Required)),
		Edges:     make(map[tile.Position][]tile.Position, len(f.Edges)),
		Teleports: make(map[tile.Position]tile.Position, len(f.Teleports)),
		Gates:     append([]tile.Position(nil), f.Gates...),
		Fountains: append([]tile.Position(nil), f.Fountains...),
		Monsters:  make(map[tile.Position]tile.Monster, len(f.Monsters)),
		Items:     make(map[tile.Position]tile.Item, len(f.Items)),
		Consumed:  make(map[string]bool, len(f.Consumed)),
	}
	for p, t := range f.Tiles {
		cp.Tiles[p] = t.WithOrientation(t.Orientation)
	}
	for p, s := range f.Required {
		cp.Required[p] = s
	}
	for p, es := range f.Edges {
		cp.Edges[p] = append([]tile.Position(nil), es...)
	}
	for p, q := range f.Teleports {
		cp.Teleports[p] = q
	}
	for p, m := range f.Monsters {
		if m.Loot != nil {
			loot := *m.Loot
			m.Loot = &loot
		}
		cp.Monsters[p] = m
	}
	for p, it := range f.Items {
		cp.Items[p] = it
	}
	for id := range f.Consumed {
		cp.Consumed[id] = true
	}
	return cp
}

// ConsumedIDs returns the consumed item ids, sorted.
func (f *Field) ConsumedIDs() []string {
	out := make([]string, 0, len(f.Consumed))
	for id := range f.Consumed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

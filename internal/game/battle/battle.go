// Package battle resolves fights between a player and a monster.
package battle

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

const (
	// DiceCount is how many dice a battle rolls.
	DiceCount = 2
	// DiceSides is the number of faces on each die.
	DiceSides = 6
)

// ErrInvalidDice indicates an injected roll does not fit the dice in play.
var ErrInvalidDice = errors.New("battle dice must be two values between 1 and 6")

// Result is the outcome of a resolved battle.
type Result int

const (
	ResultPending Result = iota
	ResultWin
	ResultDraw
	ResultLose
)

var resultNames = map[Result]string{
	ResultPending: "PENDING",
	ResultWin:     "WIN",
	ResultDraw:    "DRAW",
	ResultLose:    "LOSE",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RESULT_%d", int(r))
}

// Roll returns the dice for the n-th battle of a game.
//
// The values are a pure function of (seed, n): replaying a game with the same
// seed rolls the same dice in the same battles.
func Roll(seed int64, n int) []int {
	rng := rand.New(rand.NewSource(seed*31 + int64(n)*1_000_003))
	out := make([]int, DiceCount)
	for i := range out {
		out[i] = rng.Intn(DiceSides) + 1
	}
	return out
}

// ValidateDice checks an injected roll.
func ValidateDice(dice []int) error {
	if len(dice) != DiceCount {
		return ErrInvalidDice
	}
	for _, d := range dice {
		if d < 1 || d > DiceSides {
			return ErrInvalidDice
		}
	}
	return nil
}

// Decide compares total damage with monster hp: strictly more wins, equal draws.
func Decide(total, hp int) Result {
	switch {
	case total > hp:
		return ResultWin
	case total == hp:
		return ResultDraw
	default:
		return ResultLose
	}
}

// Battle is the record of one combat attempt.
type Battle struct {
	ID           string        `json:"id"`
	PlayerID     string        `json:"player_id"`
	Monster      tile.Monster  `json:"monster"`
	From         tile.Position `json:"from"`
	To           tile.Position `json:"to"`
	Dice         []int         `json:"dice"`
	WeaponDamage int           `json:"weapon_damage"`
	SpellDamage  int           `json:"spell_damage"`
	UsedItemIDs  []string      `json:"used_item_ids"`
	TotalDamage  int           `json:"total_damage"`
	Result       Result        `json:"result"`
	Completed    bool          `json:"completed"`
}

// New opens a battle with the dice already rolled.
func New(id, playerID string, monster tile.Monster, from, to tile.Position, dice []int) *Battle {
	return &Battle{
		ID:       id,
		PlayerID: playerID,
		Monster:  monster,
		From:     from,
		To:       to,
		Dice:     append([]int(nil), dice...),
	}
}

// DiceTotal sums the rolled dice.
func (b *Battle) DiceTotal() int {
	total := 0
	for _, d := range b.Dice {
		total += d
	}
	return total
}

// Finalize adds weapon and spell damage to the dice and decides the outcome.
// A completed battle keeps its stored result; the second return value reports
// whether this call resolved it.
func (b *Battle) Finalize(weapons, spells []tile.Item) (Result, bool) {
	if b.Completed {
		return b.Result, false
	}
	b.WeaponDamage = 0
	for _, w := range weapons {
		b.WeaponDamage += w.Damage
	}
	b.SpellDamage = 0
	b.UsedItemIDs = b.UsedItemIDs[:0]
	for _, s := range spells {
		b.SpellDamage += s.Damage
		b.UsedItemIDs = append(b.UsedItemIDs, s.ID)
	}
	b.TotalDamage = b.DiceTotal() + b.WeaponDamage + b.SpellDamage
	b.Result = Decide(b.TotalDamage, b.Monster.HP)
	b.Completed = true
	return b.Result, true
}

// Clone returns a deep copy.
func (b *Battle) Clone() *Battle {
	if b == nil {
		return nil
	}
	cp := *b
	if b.Monster.Loot != nil {
		loot := *b.Monster.Loot
		cp.Monster.Loot = &loot
	}
	cp.Dice = append([]int(nil), b.Dice...)
	cp.UsedItemIDs = append([]string(nil), b.UsedItemIDs...)
	return &cp
}

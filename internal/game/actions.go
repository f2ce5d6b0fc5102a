package game

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dungeonforge/dungeon-server-go/internal/game/battle"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/movement"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

func (u *unitOfWork) requireInProgress() error {
	g := u.state.Game
	if !g.InProgress() || u.state.Turn == nil {
		return gameerr.WithMetadata(gameerr.CodeGameNotStarted, "game has not started", map[string]string{
			"game_id": g.ID,
		})
	}
	return nil
}

// pastTurn reports whether turnID names a turn that already ended, which
// makes the request a retry. Turn-ending commands must name their turn.
func (u *unitOfWork) pastTurn(turnID string) (bool, error) {
	g := u.state.Game
	switch {
	case turnID == "":
		return false, gameerr.New(gameerr.CodeInvalidArgument, "turn id is required")
	case turnID == u.state.Turn.ID:
		return false, nil
	case g.IsPastTurn(turnID):
		return true, nil
	}
	return false, gameerr.WithMetadata(gameerr.CodeInvalidArgument, "turn id does not belong to this game", map[string]string{
		"turn_id":         turnID,
		"current_turn_id": u.state.Turn.ID,
	})
}

// acting checks that playerID may perform kind now and returns the turn and player.
func (u *unitOfWork) acting(playerID string, kind rules.ActionKind) (*rules.GameTurn, *Player, error) {
	if err := u.requireInProgress(); err != nil {
		return nil, nil, err
	}
	turn := u.state.Turn
	if res := rules.CheckAction(turn, playerID, kind); !res.Legal {
		return nil, nil, res.Err()
	}
	p, ok := u.state.Player(playerID)
	if !ok {
		return nil, nil, gameerr.WithMetadata(gameerr.CodeNotFound, "player not in game", map[string]string{
			"player_id": playerID,
		})
	}
	return turn, p, nil
}

// perform logs an action on the turn and emits the matching event.
func (u *unitOfWork) perform(turn *rules.GameTurn, a rules.Action) {
	a.At = u.now
	turn.Record(a)
	target := a.TileID
	if a.ItemID != "" {
		target = a.ItemID
	}
	evt := rules.NewEvent(rules.EventTurnActionPerformed, turn.GameID, turn.PlayerID, target).
		With("action", string(a.Kind)).
		With("turn_id", turn.ID)
	if a.Position != nil {
		evt = evt.At(*a.Position)
	}
	u.emit(evt)
}

func posPtr(p tile.Position) *tile.Position {
	return &p
}

func (e *Engine) pickTile(u *unitOfWork, c PickTile) error {
	turn, _, err := u.acting(c.PlayerID, rules.ActionPickTile)
	if err != nil {
		return err
	}
	deck := u.state.Deck
	drawnBefore := deck.Drawn
	spec, ok := deck.Draw()
	if !ok {
		return gameerr.WithMetadata(gameerr.CodeDeckEmpty, "deck is empty", map[string]string{
			"game_id": deck.GameID,
		})
	}
	turn.PendingTile = &spec
	u.perform(turn, rules.Action{Kind: rules.ActionPickTile, TileID: spec.Tile.ID})

	if deck.Drawn != drawnBefore && len(deck.Specs) == 0 {
		u.effects.Push(rules.Effect{
			Kind:     rules.EffectDeckExhausted,
			PlayerID: c.PlayerID,
			Resolve: func() error {
				u.emit(rules.NewEventWithAmount(rules.EventDeckExhausted, deck.GameID, c.PlayerID, deck.ID, deck.Total))
				return nil
			},
		})
	}
	return nil
}

func (e *Engine) rotateTile(u *unitOfWork, c RotateTile) error {
	turn, _, err := u.acting(c.PlayerID, rules.ActionRotateTile)
	if err != nil {
		return err
	}
	turn.PendingTile.Tile = turn.PendingTile.Tile.Rotated()
	u.perform(turn, rules.Action{Kind: rules.ActionRotateTile, TileID: turn.PendingTile.Tile.ID})
	return nil
}

func (e *Engine) placeTile(u *unitOfWork, c PlaceTile) error {
	turn, p, err := u.acting(c.PlayerID, rules.ActionPlaceTile)
	if err != nil {
		return err
	}
	st := u.state
	from, _ := st.Movement.PositionOf(p.ID)
	placement, err := st.Field.Place(*turn.PendingTile, c.Position, from)
	if err != nil {
		return err
	}
	turn.PendingTile = nil
	u.perform(turn, rules.Action{Kind: rules.ActionPlaceTile, TileID: placement.Tile.ID, Position: posPtr(c.Position)})

	evt := rules.NewEvent(rules.EventTilePlaced, st.Game.ID, p.ID, placement.Tile.ID).
		At(c.Position).
		With("orientation", placement.Tile.Orientation.String()).
		With("attempts", strconv.Itoa(placement.Attempts)).
		With("room", strconv.FormatBool(placement.Tile.Room))
	if placement.Partner != nil {
		evt = evt.With("teleport_partner", placement.Partner.String())
	}
	u.emit(evt)

	// The player walks onto the tile they placed.
	out, err := st.Movement.Move(st.Field, p.ID, from, c.Position, false)
	if err != nil {
		return err
	}
	return u.arrive(turn, p, out)
}

func (e *Engine) movePlayer(u *unitOfWork, c MovePlayer) error {
	turn, p, err := u.acting(c.PlayerID, rules.ActionMove)
	if err != nil {
		return err
	}
	st := u.state
	out, err := st.Movement.Move(st.Field, p.ID, c.From, c.To, c.IgnoreMonster)
	if err != nil {
		return err
	}
	u.perform(turn, rules.Action{Kind: rules.ActionMove, Position: posPtr(c.To)})
	return u.arrive(turn, p, out)
}

// arrive applies the consequences of a move: a battle when a monster blocks
// the destination, otherwise the move itself and any fountain healing.
func (u *unitOfWork) arrive(turn *rules.GameTurn, p *Player, out movement.Outcome) error {
	if out.Blocked {
		u.beginBattle(turn, p, out)
		return nil
	}
	u.moved(p, out.From, out.To, out.Teleport, "")
	if out.Healed {
		u.heal(p, out.To)
	}
	return nil
}

func (u *unitOfWork) moved(p *Player, from, to tile.Position, teleport bool, reason string) {
	evt := rules.NewEvent(rules.EventPlayerMoved, u.state.Game.ID, p.ID, "").
		At(to).
		With("from", from.String()).
		With("teleport", strconv.FormatBool(teleport))
	if reason != "" {
		evt = evt.With("reason", reason)
	}
	u.emit(evt)
}

func (u *unitOfWork) heal(p *Player, at tile.Position) {
	gained := p.Heal()
	u.emit(rules.NewEventWithAmount(rules.EventPlayerHealedAtFountain, u.state.Game.ID, p.ID, "", gained).At(at))
}

// diceFor returns the dice of the next battle: overrides first, then the seeded roll.
func diceFor(g *Game) []int {
	n := g.BattleCount
	if o := g.Overrides; o != nil && len(o.Dice) >= (n+1)*battle.DiceCount {
		return append([]int(nil), o.Dice[n*battle.DiceCount:(n+1)*battle.DiceCount]...)
	}
	return battle.Roll(g.Seed, n)
}

func (u *unitOfWork) beginBattle(turn *rules.GameTurn, p *Player, out movement.Outcome) {
	g := u.state.Game
	dice := diceFor(g)
	g.BattleCount++
	id := tile.DeterministicID(g.ID, fmt.Sprintf("battle/%d", g.BattleCount))
	b := battle.New(id, p.ID, *out.Monster, out.From, out.To, dice)

	u.perform(turn, rules.Action{Kind: rules.ActionFightMonster, Position: posPtr(out.To)})
	turn.BeginBattle(b)
	u.emit(rules.NewEventWithAmount(rules.EventBattleStarted, g.ID, p.ID, out.Monster.ID, b.DiceTotal()).
		At(out.To).
		With("battle_id", b.ID).
		With("dice", joinInts(b.Dice)).
		With("monster_hp", strconv.Itoa(out.Monster.HP)))
	u.result.Battle = b.Clone()
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (e *Engine) finalizeBattle(u *unitOfWork, c FinalizeBattle) error {
	if err := u.requireInProgress(); err != nil {
		return err
	}
	st := u.state
	g := st.Game
	turn := st.Turn
	retry, err := u.pastTurn(c.TurnID)
	if err != nil {
		return err
	}
	if retry {
		if g.LastBattle != nil && g.LastBattle.PlayerID == c.PlayerID {
			u.result.Battle = g.LastBattle.Clone()
		}
		return nil
	}
	if res := rules.CheckFinalize(turn, c.PlayerID); !res.Legal {
		return res.Err()
	}
	b := turn.Battle
	if b.Completed {
		u.result.Battle = b.Clone()
		return nil
	}
	p, ok := st.Player(c.PlayerID)
	if !ok {
		return gameerr.WithMetadata(gameerr.CodeNotFound, "player not in game", map[string]string{
			"player_id": c.PlayerID,
		})
	}

	spells, err := p.Inventory.SpellsMatching(c.SelectedConsumableIDs)
	if err != nil {
		return err
	}
	result, _ := b.Finalize(p.Inventory.Items(tile.ItemWeapon), spells)
	for _, s := range spells {
		rec, err := p.Inventory.Remove(s.ID)
		if err != nil {
			return err
		}
		u.emit(rules.NewEvent(rules.EventItemRemovedFromInventory, g.ID, p.ID, rec.Item.ID).With("reason", "spell_used"))
		u.emit(rules.NewEventWithAmount(rules.EventSpellCast, g.ID, p.ID, s.ID, s.Damage).With("battle_id", b.ID))
	}
	u.emit(rules.NewEventWithAmount(rules.EventBattleResolved, g.ID, p.ID, b.Monster.ID, b.TotalDamage).
		At(b.To).
		With("battle_id", b.ID).
		With("result", result.String()))
	g.LastBattle = b.Clone()
	u.result.Battle = b.Clone()

	switch result {
	case battle.ResultWin:
		monster, _ := st.Field.DefeatMonster(b.To)
		u.emit(rules.NewEvent(rules.EventMonsterDefeated, g.ID, p.ID, monster.ID).
			At(b.To).
			With("boss", strconv.FormatBool(monster.Boss)))
		if err := u.enterBattleTile(p); err != nil {
			return err
		}
		turn.Phase = rules.PhaseExploring
		if _, hasLoot := st.Field.ItemAt(b.To); hasLoot && c.PickupItem {
			return u.takeItem(turn, p, b.To, c.ReplaceItemID, rules.PhaseAwaitingLoot, rules.ActionPickItem)
		}
		u.endTurn(turn)

	case battle.ResultDraw:
		if err := u.enterBattleTile(p); err != nil {
			return err
		}
		turn.Phase = rules.PhaseExploring
		u.endTurn(turn)

	default:
		lost := p.Damage(b.Monster.Damage)
		u.emit(rules.NewEventWithAmount(rules.EventPlayerDamaged, g.ID, p.ID, b.Monster.ID, lost))
		back, healed, err := st.Movement.Retreat(st.Field, p.ID)
		if err != nil {
			return err
		}
		u.moved(p, b.To, back, false, "retreat")
		if healed {
			u.heal(p, back)
		}
		if p.Stunned() {
			u.emit(rules.NewEvent(rules.EventPlayerStunned, g.ID, p.ID, b.Monster.ID))
		}
		turn.Phase = rules.PhaseExploring
		u.endTurn(turn)
	}
	return nil
}

func (u *unitOfWork) enterBattleTile(p *Player) error {
	st := u.state
	r, _ := st.Movement.RestrictionOf(p.ID)
	to, healed, err := st.Movement.EnterAfterBattle(st.Field, p.ID)
	if err != nil {
		return err
	}
	u.moved(p, r.ReturnTo, to, false, "battle")
	if healed {
		u.heal(p, to)
	}
	return nil
}

// takeItem moves the ground item at pos into the player's inventory and ends
// the turn. A full category without a replacement parks the item in
// awaitPhase and reports the decision instead.
func (u *unitOfWork) takeItem(turn *rules.GameTurn, p *Player, pos tile.Position, replaceID string, awaitPhase rules.Phase, kind rules.ActionKind) error {
	st := u.state
	g := st.Game
	item, ok := st.Field.ItemAt(pos)
	if !ok {
		return gameerr.WithMetadata(gameerr.CodeNoItemAtPosition, "no item on this tile", map[string]string{
			"position": pos.String(),
		})
	}

	// A second key is never offered for replacement.
	if item.Type == tile.ItemKey && p.Inventory.HasKey() {
		u.perform(turn, rules.Action{Kind: rules.ActionSkipItem, ItemID: item.ID, Position: posPtr(pos)})
		u.endTurn(turn)
		return nil
	}

	full := p.Inventory.IsFull(item.Type)
	if full && replaceID == "" {
		_, err := p.Inventory.Add(item)
		var decision *gameerr.InventoryFullError
		if !errors.As(err, &decision) {
			return gameerr.Wrap(gameerr.CodeInvariantViolation, "full category accepted an item", err)
		}
		turn.AwaitItem(awaitPhase, item, pos)
		u.result.Decision = &Decision{InventoryFull: decision, Item: item, Position: pos}
		return nil
	}
	if full {
		held, found := p.Inventory.Find(replaceID)
		if !found {
			return gameerr.WithMetadata(gameerr.CodeItemNotFound, "item to replace is not in inventory", map[string]string{
				"item_id": replaceID,
			})
		}
		if held.Type != item.Type {
			return gameerr.WithMetadata(gameerr.CodeInvalidArgument, "item to replace belongs to another category", map[string]string{
				"item_id":  replaceID,
				"category": string(item.Type),
				"replaced": string(held.Type),
			})
		}
	}

	if _, err := st.Field.TakeItem(pos); err != nil {
		return err
	}
	if full {
		records, err := p.Inventory.Replace(replaceID, item)
		if err != nil {
			return err
		}
		u.emit(rules.NewEvent(rules.EventItemRemovedFromInventory, g.ID, p.ID, records[0].Item.ID).With("reason", "replaced"))
		u.emit(rules.NewEvent(rules.EventItemReplacedInInventory, g.ID, p.ID, item.ID).With("replaced_id", replaceID))
	} else {
		if _, err := p.Inventory.Add(item); err != nil {
			return err
		}
		u.emit(rules.NewEvent(rules.EventItemAddedToInventory, g.ID, p.ID, item.ID).With("type", string(item.Type)))
	}
	u.perform(turn, rules.Action{Kind: kind, ItemID: item.ID, Position: posPtr(pos)})

	if item.EndsGame {
		u.effects.Push(rules.Effect{Kind: rules.EffectEndGame, PlayerID: p.ID, TurnID: turn.ID, Resolve: u.finish})
	}
	u.endTurn(turn)
	return nil
}

// pickActionFor maps the turn phase to the action a pickup request stands for.
func pickActionFor(turn *rules.GameTurn) rules.ActionKind {
	if turn.Phase == rules.PhaseAwaitingLoot {
		return rules.ActionPickItem
	}
	return rules.ActionPickUpEquipment
}

func pickPhaseFor(kind rules.ActionKind) rules.Phase {
	if kind == rules.ActionPickItem {
		return rules.PhaseAwaitingLoot
	}
	return rules.PhaseAwaitingPickup
}

func (e *Engine) pickItem(u *unitOfWork, c PickItem) error {
	if err := u.requireInProgress(); err != nil {
		return err
	}
	kind := pickActionFor(u.state.Turn)
	turn, p, err := u.acting(c.PlayerID, kind)
	if err != nil {
		return err
	}
	here, _ := u.state.Movement.PositionOf(p.ID)
	if here != c.Position {
		return gameerr.WithMetadata(gameerr.CodeInvalidArgument, "player is not standing on that tile", map[string]string{
			"position": c.Position.String(),
			"player":   here.String(),
		})
	}
	return u.takeItem(turn, p, c.Position, c.ReplaceItemID, pickPhaseFor(kind), kind)
}

func (e *Engine) replaceInventoryItem(u *unitOfWork, c ReplaceInventoryItem) error {
	if err := u.requireInProgress(); err != nil {
		return err
	}
	kind := pickActionFor(u.state.Turn)
	turn, p, err := u.acting(c.PlayerID, kind)
	if err != nil {
		return err
	}
	if turn.PendingItem == nil {
		return gameerr.WithMetadata(gameerr.CodeInvalidTurnAction, "no item is waiting for a decision", map[string]string{
			"turn_id": turn.ID,
		})
	}
	if c.ReplaceItemID == "" {
		return gameerr.New(gameerr.CodeInvalidArgument, "replace item id is required")
	}
	return u.takeItem(turn, p, turn.PendingItem.Position, c.ReplaceItemID, pickPhaseFor(kind), kind)
}

func (e *Engine) skipItemPickup(u *unitOfWork, c SkipItemPickup) error {
	turn, _, err := u.acting(c.PlayerID, rules.ActionSkipItem)
	if err != nil {
		return err
	}
	a := rules.Action{Kind: rules.ActionSkipItem}
	if turn.PendingItem != nil {
		a.ItemID = turn.PendingItem.Item.ID
		a.Position = posPtr(turn.PendingItem.Position)
	}
	u.perform(turn, a)
	u.endTurn(turn)
	return nil
}

func (e *Engine) endTurn(u *unitOfWork, c EndTurn) error {
	if err := u.requireInProgress(); err != nil {
		return err
	}
	retry, err := u.pastTurn(c.TurnID)
	if err != nil || retry {
		return err
	}
	turn, _, err := u.acting(c.PlayerID, rules.ActionEndTurn)
	if err != nil {
		return err
	}
	u.perform(turn, rules.Action{Kind: rules.ActionEndTurn})
	u.endTurn(turn)
	return nil
}

func (e *Engine) useSpell(u *unitOfWork, c UseSpell) error {
	turn, p, err := u.acting(c.PlayerID, rules.ActionUseSpell)
	if err != nil {
		return err
	}
	st := u.state
	spell, ok := p.Inventory.Find(c.SpellID)
	if !ok || spell.Type != tile.ItemSpell {
		return gameerr.WithMetadata(gameerr.CodeItemNotFound, "spell not in inventory", map[string]string{
			"item_id": c.SpellID,
		})
	}

	switch spell.Spell {
	case tile.SpellHeal:
		gained := p.Heal()
		u.emit(rules.NewEventWithAmount(rules.EventSpellCast, st.Game.ID, p.ID, spell.ID, gained).With("effect", string(spell.Spell)))
	case tile.SpellTeleport:
		if c.Target == nil {
			return gameerr.New(gameerr.CodeInvalidSpellTarget, "teleport needs a target")
		}
		from, _ := st.Movement.PositionOf(p.ID)
		healed, err := st.Movement.TeleportTo(st.Field, p.ID, *c.Target)
		if err != nil {
			return err
		}
		u.emit(rules.NewEvent(rules.EventSpellCast, st.Game.ID, p.ID, spell.ID).At(*c.Target).With("effect", string(spell.Spell)))
		u.moved(p, from, *c.Target, true, "spell")
		if healed {
			u.heal(p, *c.Target)
		}
	default:
		return gameerr.WithMetadata(gameerr.CodeInvalidTurnAction, "spell only works in battle", map[string]string{
			"item_id": spell.ID,
		})
	}

	if _, err := p.Inventory.Remove(spell.ID); err != nil {
		return err
	}
	u.emit(rules.NewEvent(rules.EventItemRemovedFromInventory, st.Game.ID, p.ID, spell.ID).With("reason", "spell_used"))
	u.perform(turn, rules.Action{Kind: rules.ActionUseSpell, ItemID: spell.ID, Position: c.Target})
	return nil
}

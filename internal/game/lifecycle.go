package game

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dungeonforge/dungeon-server-go/internal/game/battle"
	"github.com/dungeonforge/dungeon-server-go/internal/game/field"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/movement"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

func (e *Engine) createGame(u *unitOfWork, c CreateGame) error {
	if c.Overrides != nil && !e.cfg.AllowOverrides {
		return gameerr.New(gameerr.CodeOverridesDenied, "test overrides are disabled")
	}
	if err := validateOverrides(c.Overrides); err != nil {
		return err
	}

	e.mu.RLock()
	newID, newSeed := e.newID, e.newSeed
	e.mu.RUnlock()

	id := c.GameID
	if id == "" {
		id = newID()
	}
	if _, err := e.repo.Load(u.ctx, id); err == nil {
		return gameerr.WithMetadata(gameerr.CodeInvalidArgument, "game already exists", map[string]string{
			"game_id": id,
		})
	} else if !errors.Is(err, gameerr.ErrNotFound) {
		return err
	}

	var seed int64
	if c.Overrides != nil && c.Overrides.Seed != nil {
		seed = *c.Overrides.Seed
	} else {
		s, err := newSeed()
		if err != nil {
			return fmt.Errorf("seed game %s: %w", id, err)
		}
		seed = s
	}

	size := c.DeckSize
	if size == 0 {
		size = e.cfg.DefaultDeckSize
	}
	var specs []tile.Spec
	if c.Overrides != nil && len(c.Overrides.Deck) > 0 {
		specs = c.Overrides.Deck
		size = len(specs)
	} else {
		generated, err := tile.Generate(id, size, seed)
		if err != nil {
			return gameerr.Wrap(gameerr.CodeInvalidArgument, fmt.Sprintf("invalid deck size %d", size), err)
		}
		specs = generated
	}

	u.state = &State{
		Game: &Game{
			ID:        id,
			Status:    StatusLobby,
			PlayerIDs: []string{},
			Seed:      seed,
			DeckSize:  size,
			Overrides: c.Overrides.clone(),
			CreatedAt: u.now,
		},
		Players:  make(map[string]*Player),
		Field:    field.New(tile.DeterministicID(id, "field"), id, tile.StartTile(id)),
		Movement: movement.New(tile.DeterministicID(id, "movement"), id),
		Deck:     tile.NewDeck(tile.DeterministicID(id, "deck"), id, specs),
	}
	u.emit(rules.NewEventWithAmount(rules.EventGameCreated, id, "", id, size))
	return nil
}

func validateOverrides(o *Overrides) error {
	if o == nil {
		return nil
	}
	if len(o.Dice)%battle.DiceCount != 0 {
		return gameerr.WithMetadata(gameerr.CodeInvalidArgument, "dice overrides must come in whole rolls", map[string]string{
			"dice": strconv.Itoa(len(o.Dice)),
		})
	}
	for i := 0; i < len(o.Dice); i += battle.DiceCount {
		if err := battle.ValidateDice(o.Dice[i : i+battle.DiceCount]); err != nil {
			return gameerr.Wrap(gameerr.CodeInvalidArgument, fmt.Sprintf("dice override %d", i/battle.DiceCount), err)
		}
	}
	if len(o.Deck) == 1 {
		return gameerr.New(gameerr.CodeInvalidArgument, "deck override needs at least two tiles")
	}
	return nil
}

func (e *Engine) addPlayer(u *unitOfWork, c AddPlayer) error {
	g := u.state.Game
	if c.PlayerID == "" {
		return gameerr.New(gameerr.CodeInvalidArgument, "player id is required")
	}
	if g.HasPlayer(c.PlayerID) {
		return nil
	}
	if g.Status != StatusLobby {
		return gameerr.WithMetadata(gameerr.CodeGameAlreadyPrepared, "game already started", map[string]string{
			"game_id":   g.ID,
			"player_id": c.PlayerID,
		})
	}
	if len(g.PlayerIDs) >= e.cfg.MaxPlayers {
		return gameerr.WithMetadata(gameerr.CodeGameAlreadyFull, "game is full", map[string]string{
			"game_id":     g.ID,
			"player_id":   c.PlayerID,
			"max_players": strconv.Itoa(e.cfg.MaxPlayers),
		})
	}

	name := c.Name
	if name == "" {
		name = c.PlayerID
	}
	p := NewPlayer(c.PlayerID, g.ID, name)
	p.IsAI = c.IsAI
	if len(c.Metadata) > 0 {
		p.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			p.Metadata[k] = v
		}
	}
	g.PlayerIDs = append(g.PlayerIDs, p.ID)
	u.state.Players[p.ID] = p
	u.state.Movement.Join(p.ID, tile.Origin)
	u.emit(rules.NewEvent(rules.EventPlayerAdded, g.ID, p.ID, p.ID).With("name", name))
	return nil
}

func (e *Engine) startGame(u *unitOfWork, c StartGame) error {
	g := u.state.Game
	if g.Status != StatusLobby {
		return nil
	}
	if len(g.PlayerIDs) == 0 {
		return gameerr.WithMetadata(gameerr.CodeGameHasNoPlayers, "game has no players", map[string]string{
			"game_id": g.ID,
		})
	}
	g.Status = StatusStarted
	for _, id := range g.PlayerIDs {
		u.state.Players[id].Ready = true
	}
	u.emit(rules.NewEventWithAmount(rules.EventGameStarted, g.ID, "", g.ID, len(g.PlayerIDs)))
	u.startTurn(g.PlayerIDs[0])
	return nil
}

// startTurn opens the next turn for playerID. A stunned player is revived to
// one hit point and their turn ends at once without any action.
func (u *unitOfWork) startTurn(playerID string) {
	st := u.state
	g := st.Game
	if st.Turn != nil {
		st.Finished = append(st.Finished, st.Turn)
	}
	g.TurnNumber++
	turn := rules.NewTurn(g.TurnID(g.TurnNumber), g.ID, playerID, g.TurnNumber, u.now)
	st.Turn = turn
	g.CurrentTurnID = turn.ID
	g.CurrentPlayerID = playerID
	g.Status = StatusTurnInProgress
	st.Movement.StartTurn(playerID)
	u.emit(rules.NewEventWithAmount(rules.EventTurnStarted, g.ID, playerID, turn.ID, turn.Number))

	p := st.Players[playerID]
	if !p.Stunned() {
		return
	}
	p.HP = 1
	u.emit(rules.NewEventWithAmount(rules.EventPlayerRevived, g.ID, playerID, turn.ID, p.HP))
	turn.Skip(u.now)
	u.emit(rules.NewEvent(rules.EventTurnEnded, g.ID, playerID, turn.ID).With("skipped", "true"))
	u.effects.Push(rules.Effect{Kind: rules.EffectTurnEnded, PlayerID: playerID, TurnID: turn.ID, Resolve: u.advance})
}

// endTurn freezes turn and queues the rotation to the next player.
func (u *unitOfWork) endTurn(turn *rules.GameTurn) {
	if turn.PendingTile != nil {
		u.state.Deck.Hold(*turn.PendingTile)
		turn.PendingTile = nil
	}
	if !turn.End(u.now) {
		return
	}
	u.emit(rules.NewEventWithAmount(rules.EventTurnEnded, turn.GameID, turn.PlayerID, turn.ID, len(turn.Actions)))
	u.effects.Push(rules.Effect{Kind: rules.EffectTurnEnded, PlayerID: turn.PlayerID, TurnID: turn.ID, Resolve: u.advance})
}

// advance hands the game to the next player in join order.
func (u *unitOfWork) advance() error {
	g := u.state.Game
	if g.Status == StatusFinished {
		return nil
	}
	u.startTurn(g.NextPlayer(u.state.Turn.PlayerID))
	return nil
}

// finish scores every player and closes the game.
func (u *unitOfWork) finish() error {
	st := u.state
	g := st.Game
	if g.Status == StatusFinished {
		return nil
	}
	scores, winners := Score(st)
	g.Scores = scores
	g.Winners = winners
	g.Tie = len(winners) > 1
	g.WinnerID = ""
	if len(winners) == 1 {
		g.WinnerID = winners[0]
	}
	g.Status = StatusFinished
	g.FinishedAt = u.now
	if st.Turn != nil {
		st.Turn.End(u.now)
	}

	evt := rules.NewEvent(rules.EventGameEnded, g.ID, "", g.WinnerID).With("tie", strconv.FormatBool(g.Tie))
	evt.Scores = scores
	evt.Winners = winners
	u.emit(evt)
	return nil
}

// Score sums each player's treasure. Every player sharing the highest sum is a winner.
func Score(st *State) (map[string]int, []string) {
	scores := make(map[string]int, len(st.Players))
	best := 0
	for _, id := range st.Game.PlayerIDs {
		v := st.Players[id].Inventory.TreasureValue()
		scores[id] = v
		if v > best {
			best = v
		}
	}
	var winners []string
	for id, v := range scores {
		if v == best {
			winners = append(winners, id)
		}
	}
	sort.Strings(winners)
	return scores, winners
}

package game

import (
	"github.com/dungeonforge/dungeon-server-go/internal/game/battle"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// CommandKind names a command type.
type CommandKind string

const (
	CommandCreateGame           CommandKind = "CREATE_GAME"
	CommandAddPlayer            CommandKind = "ADD_PLAYER"
	CommandStartGame            CommandKind = "START_GAME"
	CommandPickTile             CommandKind = "PICK_TILE"
	CommandRotateTile           CommandKind = "ROTATE_TILE"
	CommandPlaceTile            CommandKind = "PLACE_TILE"
	CommandMovePlayer           CommandKind = "MOVE_PLAYER"
	CommandFinalizeBattle       CommandKind = "FINALIZE_BATTLE"
	CommandPickItem             CommandKind = "PICK_ITEM"
	CommandReplaceInventoryItem CommandKind = "REPLACE_INVENTORY_ITEM"
	CommandSkipItemPickup       CommandKind = "SKIP_ITEM_PICKUP"
	CommandEndTurn              CommandKind = "END_TURN"
	CommandUseSpell             CommandKind = "USE_SPELL"
)

// Command is a request to change one game.
type Command interface {
	Kind() CommandKind
	Game() string
	Actor() string
}

// CreateGame opens a new game in the lobby.
type CreateGame struct {
	// GameID is optional; a fresh id is generated when empty.
	GameID    string
	DeckSize  int
	Overrides *Overrides
}

// AddPlayer joins a player to a game in the lobby.
type AddPlayer struct {
	GameID   string
	PlayerID string
	Name     string
	IsAI     bool
	Metadata map[string]string
}

// StartGame leaves the lobby and starts the first turn.
type StartGame struct {
	GameID string
}

// PickTile draws the next tile from the deck.
type PickTile struct {
	GameID   string
	PlayerID string
}

// RotateTile turns the picked tile clockwise.
type RotateTile struct {
	GameID   string
	PlayerID string
}

// PlaceTile puts the picked tile next to the player and walks onto it.
type PlaceTile struct {
	GameID   string
	PlayerID string
	Position tile.Position
}

// MovePlayer moves along one transition. IgnoreMonster refuses to engage a
// monster on the destination instead of starting a battle.
type MovePlayer struct {
	GameID        string
	PlayerID      string
	From          tile.Position
	To            tile.Position
	IgnoreMonster bool
}

// FinalizeBattle resolves the pending battle and the loot decision. TurnID is
// required; naming a turn that already ended makes a retried request a no-op.
type FinalizeBattle struct {
	GameID                string
	PlayerID              string
	TurnID                string
	SelectedConsumableIDs []string
	PickupItem            bool
	ReplaceItemID         string
}

// PickItem takes the item lying on the player's tile.
type PickItem struct {
	GameID        string
	PlayerID      string
	Position      tile.Position
	ReplaceItemID string
}

// ReplaceInventoryItem answers an inventory-full decision by dropping ReplaceItemID.
type ReplaceInventoryItem struct {
	GameID        string
	PlayerID      string
	ReplaceItemID string
}

// SkipItemPickup answers an item decision by leaving the item on the ground.
type SkipItemPickup struct {
	GameID   string
	PlayerID string
}

// EndTurn ends the current turn. TurnID is required; naming a turn that
// already ended makes a retried request a no-op.
type EndTurn struct {
	GameID   string
	PlayerID string
	TurnID   string
}

// UseSpell casts a heal or teleport spell outside battle.
type UseSpell struct {
	GameID   string
	PlayerID string
	SpellID  string
	Target   *tile.Position
}

func (c CreateGame) Kind() CommandKind           { return CommandCreateGame }
func (c AddPlayer) Kind() CommandKind            { return CommandAddPlayer }
func (c StartGame) Kind() CommandKind            { return CommandStartGame }
func (c PickTile) Kind() CommandKind             { return CommandPickTile }
func (c RotateTile) Kind() CommandKind           { return CommandRotateTile }
func (c PlaceTile) Kind() CommandKind            { return CommandPlaceTile }
func (c MovePlayer) Kind() CommandKind           { return CommandMovePlayer }
func (c FinalizeBattle) Kind() CommandKind       { return CommandFinalizeBattle }
func (c PickItem) Kind() CommandKind             { return CommandPickItem }
func (c ReplaceInventoryItem) Kind() CommandKind { return CommandReplaceInventoryItem }
func (c SkipItemPickup) Kind() CommandKind       { return CommandSkipItemPickup }
func (c EndTurn) Kind() CommandKind              { return CommandEndTurn }
func (c UseSpell) Kind() CommandKind             { return CommandUseSpell }

func (c CreateGame) Game() string           { return c.GameID }
func (c AddPlayer) Game() string            { return c.GameID }
func (c StartGame) Game() string            { return c.GameID }
func (c PickTile) Game() string             { return c.GameID }
func (c RotateTile) Game() string           { return c.GameID }
func (c PlaceTile) Game() string            { return c.GameID }
func (c MovePlayer) Game() string           { return c.GameID }
func (c FinalizeBattle) Game() string       { return c.GameID }
func (c PickItem) Game() string             { return c.GameID }
func (c ReplaceInventoryItem) Game() string { return c.GameID }
func (c SkipItemPickup) Game() string       { return c.GameID }
func (c EndTurn) Game() string              { return c.GameID }
func (c UseSpell) Game() string             { return c.GameID }

func (c CreateGame) Actor() string           { return "" }
func (c AddPlayer) Actor() string            { return c.PlayerID }
func (c StartGame) Actor() string            { return "" }
func (c PickTile) Actor() string             { return c.PlayerID }
func (c RotateTile) Actor() string           { return c.PlayerID }
func (c PlaceTile) Actor() string            { return c.PlayerID }
func (c MovePlayer) Actor() string           { return c.PlayerID }
func (c FinalizeBattle) Actor() string       { return c.PlayerID }
func (c PickItem) Actor() string             { return c.PlayerID }
func (c ReplaceInventoryItem) Actor() string { return c.PlayerID }
func (c SkipItemPickup) Actor() string       { return c.PlayerID }
func (c EndTurn) Actor() string              { return c.PlayerID }
func (c UseSpell) Actor() string             { return c.PlayerID }

// Decision is returned instead of an error when the engine needs the player
// to choose how to resolve a full inventory category.
type Decision struct {
	InventoryFull *gameerr.InventoryFullError
	Item          tile.Item
	Position      tile.Position
}

// Result describes what one committed command did.
type Result struct {
	GameID   string
	Events   []rules.Event
	Battle   *battle.Battle
	Decision *Decision
	Versions Versions
	// NoOp is set when the command was accepted but changed nothing.
	NoOp bool
}

// handler runs one command inside a unit of work.
type handler func(u *unitOfWork, cmd Command) error

// typed adapts a handler for one concrete command type to the registry.
func typed[C Command](fn func(u *unitOfWork, cmd C) error) handler {
	return func(u *unitOfWork, cmd Command) error {
		c, ok := cmd.(C)
		if !ok {
			return gameerr.WithMetadata(gameerr.CodeInvalidArgument, "command does not match its kind", map[string]string{
				"kind": string(cmd.Kind()),
			})
		}
		return fn(u, c)
	}
}

func (e *Engine) registerHandlers() {
	e.handlers = map[CommandKind]handler{
		CommandCreateGame:           typed(e.createGame),
		CommandAddPlayer:            typed(e.addPlayer),
		CommandStartGame:            typed(e.startGame),
		CommandPickTile:             typed(e.pickTile),
		CommandRotateTile:           typed(e.rotateTile),
		CommandPlaceTile:            typed(e.placeTile),
		CommandMovePlayer:           typed(e.movePlayer),
		CommandFinalizeBattle:       typed(e.finalizeBattle),
		CommandPickItem:             typed(e.pickItem),
		CommandReplaceInventoryItem: typed(e.replaceInventoryItem),
		CommandSkipItemPickup:       typed(e.skipItemPickup),
		CommandEndTurn:              typed(e.endTurn),
		CommandUseSpell:             typed(e.useSpell),
	}
}

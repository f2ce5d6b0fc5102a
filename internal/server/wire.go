package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/battle"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// CommandRequest is the JSON envelope of a command. Positions are "x,y" strings.
type CommandRequest struct {
	Kind                  game.CommandKind  `json:"kind"`
	GameID                string            `json:"game_id,omitempty"`
	PlayerID              string            `json:"player_id,omitempty"`
	Name                  string            `json:"name,omitempty"`
	IsAI                  bool              `json:"is_ai,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	DeckSize              int               `json:"deck_size,omitempty"`
	Overrides             *game.Overrides   `json:"overrides,omitempty"`
	Position              *tile.Position    `json:"position,omitempty"`
	From                  *tile.Position    `json:"from,omitempty"`
	To                    *tile.Position    `json:"to,omitempty"`
	IgnoreMonster         bool              `json:"ignore_monster,omitempty"`
	TurnID                string            `json:"turn_id,omitempty"`
	SelectedConsumableIDs []string          `json:"selected_consumable_ids,omitempty"`
	PickupItem            bool              `json:"pickup_item,omitempty"`
	ReplaceItemID         string            `json:"replace_item_id,omitempty"`
	SpellID               string            `json:"spell_id,omitempty"`
	Target                *tile.Position    `json:"target,omitempty"`
}

func requirePosition(kind game.CommandKind, name string, p *tile.Position) (tile.Position, error) {
	if p == nil {
		return tile.Position{}, gameerr.WithMetadata(gameerr.CodeInvalidArgument, name+" is required", map[string]string{
			"kind": string(kind),
		})
	}
	return *p, nil
}

// Command converts the envelope into the engine command it names.
func (r CommandRequest) Command() (game.Command, error) {
	switch r.Kind {
	case game.CommandCreateGame:
		return game.CreateGame{GameID: r.GameID, DeckSize: r.DeckSize, Overrides: r.Overrides}, nil
	case game.CommandAddPlayer:
		return game.AddPlayer{GameID: r.GameID, PlayerID: r.PlayerID, Name: r.Name, IsAI: r.IsAI, Metadata: r.Metadata}, nil
	case game.CommandStartGame:
		return game.StartGame{GameID: r.GameID}, nil
	case game.CommandPickTile:
		return game.PickTile{GameID: r.GameID, PlayerID: r.PlayerID}, nil
	case game.CommandRotateTile:
		return game.RotateTile{GameID: r.GameID, PlayerID: r.PlayerID}, nil
	case game.CommandPlaceTile:
		pos, err := requirePosition(r.Kind, "position", r.Position)
		if err != nil {
			return nil, err
		}
		return game.PlaceTile{GameID: r.GameID, PlayerID: r.PlayerID, Position: pos}, nil
	case game.CommandMovePlayer:
		from, err := requirePosition(r.Kind, "from", r.From)
		if err != nil {
			return nil, err
		}
		to, err := requirePosition(r.Kind, "to", r.To)
		if err != nil {
			return nil, err
		}
		return game.MovePlayer{GameID: r.GameID, PlayerID: r.PlayerID, From: from, To: to, IgnoreMonster: r.IgnoreMonster}, nil
	case game.CommandFinalizeBattle:
		return game.FinalizeBattle{
			GameID:                r.GameID,
			PlayerID:              r.PlayerID,
			TurnID:                r.TurnID,
			SelectedConsumableIDs: r.SelectedConsumableIDs,
			PickupItem:            r.PickupItem,
			ReplaceItemID:         r.ReplaceItemID,
		}, nil
	case game.CommandPickItem:
		pos, err := requirePosition(r.Kind, "position", r.Position)
		if err != nil {
			return nil, err
		}
		return game.PickItem{GameID: r.GameID, PlayerID: r.PlayerID, Position: pos, ReplaceItemID: r.ReplaceItemID}, nil
	case game.CommandReplaceInventoryItem:
		return game.ReplaceInventoryItem{GameID: r.GameID, PlayerID: r.PlayerID, ReplaceItemID: r.ReplaceItemID}, nil
	case game.CommandSkipItemPickup:
		return game.SkipItemPickup{GameID: r.GameID, PlayerID: r.PlayerID}, nil
	case game.CommandEndTurn:
		return game.EndTurn{GameID: r.GameID, PlayerID: r.PlayerID, TurnID: r.TurnID}, nil
	case game.CommandUseSpell:
		return game.UseSpell{GameID: r.GameID, PlayerID: r.PlayerID, SpellID: r.SpellID, Target: r.Target}, nil
	default:
		return nil, gameerr.WithMetadata(gameerr.CodeInvalidArgument, "unknown command", map[string]string{
			"kind": string(r.Kind),
		})
	}
}

// HasOverrides reports whether the request asks for determinism overrides.
func (r CommandRequest) HasOverrides() bool {
	o := r.Overrides
	return o != nil && (len(o.Dice) > 0 || len(o.Deck) > 0 || o.Seed != nil)
}

// ResultView is the JSON shape of a committed command.
type ResultView struct {
	GameID   string         `json:"game_id"`
	Events   []rules.Event  `json:"events"`
	Battle   *battle.Battle `json:"battle,omitempty"`
	Decision *DecisionView  `json:"decision,omitempty"`
	Versions game.Versions  `json:"versions"`
	NoOp     bool           `json:"no_op"`
}

// DecisionView asks the player how to resolve a full inventory category.
type DecisionView struct {
	Category     string        `json:"category"`
	Capacity     int           `json:"capacity"`
	CurrentItems []string      `json:"current_items"`
	Item         tile.Item     `json:"item"`
	Position     tile.Position `json:"position"`
}

// NewResultView flattens a result for transports.
func NewResultView(res *game.Result) ResultView {
	view := ResultView{
		GameID:   res.GameID,
		Events:   res.Events,
		Battle:   res.Battle,
		Versions: res.Versions,
		NoOp:     res.NoOp,
	}
	if view.Events == nil {
		view.Events = []rules.Event{}
	}
	if d := res.Decision; d != nil {
		dv := &DecisionView{Item: d.Item, Position: d.Position}
		if d.InventoryFull != nil {
			dv.Category = d.InventoryFull.Category
			dv.Capacity = d.InventoryFull.Capacity
			dv.CurrentItems = d.InventoryFull.CurrentItems
		}
		view.Decision = dv
	}
	return view
}

// Query kinds accepted by the Query call.
const (
	QueryGame               = "GET_GAME"
	QueryField              = "GET_FIELD"
	QueryTile               = "GET_TILE"
	QueryCurrentPlayer      = "GET_CURRENT_PLAYER"
	QueryCurrentTurn        = "GET_CURRENT_TURN"
	QueryPlayer             = "GET_PLAYER"
	QueryPlayerStatus       = "GET_PLAYER_STATUS"
	QueryAvailablePlaces    = "GET_AVAILABLE_PLACES"
	QueryReachablePositions = "GET_REACHABLE_POSITIONS"
	QueryInventory          = "GET_INVENTORY"
	QueryChecksum           = "GET_CHECKSUM"
)

// QueryRequest is the JSON envelope of a read.
type QueryRequest struct {
	Kind          string         `json:"kind"`
	GameID        string         `json:"game_id"`
	PlayerID      string         `json:"player_id,omitempty"`
	Position      *tile.Position `json:"position,omitempty"`
	IgnoreMonster bool           `json:"ignore_monster,omitempty"`
}

// Run answers the query against e. Slices are wrapped so every answer is an object.
func (q QueryRequest) Run(ctx context.Context, e *game.Engine) (any, error) {
	switch strings.ToUpper(q.Kind) {
	case QueryGame:
		return e.GetGame(ctx, q.GameID)
	case QueryField:
		return e.GetField(ctx, q.GameID)
	case QueryTile:
		pos, err := requirePosition(game.CommandKind(q.Kind), "position", q.Position)
		if err != nil {
			return nil, err
		}
		return e.GetTile(ctx, q.GameID, pos)
	case QueryCurrentPlayer:
		return e.GetCurrentPlayer(ctx, q.GameID)
	case QueryCurrentTurn:
		return e.GetCurrentTurn(ctx, q.GameID)
	case QueryPlayer:
		return e.GetPlayer(ctx, q.GameID, q.PlayerID)
	case QueryPlayerStatus:
		return e.GetPlayerStatus(ctx, q.GameID, q.PlayerID)
	case QueryAvailablePlaces:
		places, err := e.GetAvailablePlacesForPlayer(ctx, q.GameID, q.PlayerID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"positions": positionsOrEmpty(places)}, nil
	case QueryReachablePositions:
		reachable, err := e.GetReachablePositions(ctx, q.GameID, q.PlayerID, q.IgnoreMonster)
		if err != nil {
			return nil, err
		}
		return map[string]any{"positions": positionsOrEmpty(reachable)}, nil
	case QueryInventory:
		return e.GetInventory(ctx, q.GameID, q.PlayerID)
	case QueryChecksum:
		return e.GetChecksum(ctx, q.GameID)
	default:
		return nil, gameerr.WithMetadata(gameerr.CodeInvalidArgument, "unknown query", map[string]string{
			"kind": q.Kind,
		})
	}
}

func positionsOrEmpty(in []tile.Position) []tile.Position {
	if in == nil {
		return []tile.Position{}
	}
	return in
}

// fromStruct decodes a structpb message into out through its JSON form.
func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return gameerr.New(gameerr.CodeInvalidArgument, "request body is required")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return gameerr.Wrap(gameerr.CodeInvalidArgument, "encode request", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return gameerr.Wrap(gameerr.CodeInvalidArgument, "malformed request", err)
	}
	return nil
}

// toStruct encodes v into a structpb message through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

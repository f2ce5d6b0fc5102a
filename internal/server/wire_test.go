package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

func decodeRequest(t *testing.T, body string) CommandRequest {
	t.Helper()
	var req CommandRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestCommandRequestPositions(t *testing.T) {
	req := decodeRequest(t, `{"kind":"MOVE_PLAYER","game_id":"g1","player_id":"p1","from":"0,0","to":"0,-1","ignore_monster":true}`)

	cmd, err := req.Command()
	require.NoError(t, err)
	assert.Equal(t, game.MovePlayer{
		GameID:        "g1",
		PlayerID:      "p1",
		From:          tile.Position{X: 0, Y: 0},
		To:            tile.Position{X: 0, Y: -1},
		IgnoreMonster: true,
	}, cmd)
}

func TestCommandRequestMissingPosition(t *testing.T) {
	req := decodeRequest(t, `{"kind":"PLACE_TILE","game_id":"g1","player_id":"p1"}`)

	_, err := req.Command()
	require.Error(t, err)
	assert.Equal(t, gameerr.CodeInvalidArgument, gameerr.CodeOf(err))
}

func TestCommandRequestUnknownKind(t *testing.T) {
	_, err := CommandRequest{Kind: "DANCE"}.Command()
	require.Error(t, err)
	assert.Equal(t, gameerr.CodeInvalidArgument, gameerr.CodeOf(err))
}

func TestCommandRequestBattleFields(t *testing.T) {
	req := decodeRequest(t, `{
		"kind": "FINALIZE_BATTLE",
		"game_id": "g1",
		"player_id": "p1",
		"turn_id": "g1:3",
		"selected_consumable_ids": ["s1", "s2"],
		"pickup_item": true,
		"replace_item_id": "w1"
	}`)

	cmd, err := req.Command()
	require.NoError(t, err)
	fin, ok := cmd.(game.FinalizeBattle)
	require.True(t, ok)
	assert.Equal(t, "g1:3", fin.TurnID)
	assert.Equal(t, []string{"s1", "s2"}, fin.SelectedConsumableIDs)
	assert.True(t, fin.PickupItem)
	assert.Equal(t, "w1", fin.ReplaceItemID)
}

func TestCommandRequestHasOverrides(t *testing.T) {
	seed := int64(7)
	assert.False(t, CommandRequest{Kind: game.CommandCreateGame}.HasOverrides())
	assert.False(t, CommandRequest{Kind: game.CommandCreateGame, Overrides: &game.Overrides{}}.HasOverrides())
	assert.True(t, CommandRequest{Kind: game.CommandCreateGame, Overrides: &game.Overrides{Dice: []int{6}}}.HasOverrides())
	assert.True(t, CommandRequest{Kind: game.CommandCreateGame, Overrides: &game.Overrides{Seed: &seed}}.HasOverrides())
}

func TestCommandRequestThroughStruct(t *testing.T) {
	pos := tile.Position{X: -2, Y: 3}
	s, err := toStruct(CommandRequest{Kind: game.CommandPlaceTile, GameID: "g1", PlayerID: "p1", Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, "-2,3", s.GetFields()["position"].GetStringValue())

	var back CommandRequest
	require.NoError(t, fromStruct(s, &back))
	require.NotNil(t, back.Position)
	assert.Equal(t, pos, *back.Position)
}

func TestFromStructRejectsMalformed(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"kind": 12})
	require.NoError(t, err)

	var req CommandRequest
	err = fromStruct(s, &req)
	require.Error(t, err)
	assert.Equal(t, gameerr.CodeInvalidArgument, gameerr.CodeOf(err))

	err = fromStruct(nil, &req)
	assert.Equal(t, gameerr.CodeInvalidArgument, gameerr.CodeOf(err))
}

func TestToStructNeedsObject(t *testing.T) {
	_, err := toStruct([]string{"a"})
	assert.Error(t, err)
}

func TestNewResultViewDecision(t *testing.T) {
	res := &game.Result{
		GameID: "g1",
		Decision: &game.Decision{
			InventoryFull: &gameerr.InventoryFullError{Category: "weapon", Capacity: 2, CurrentItems: []string{"w1", "w2"}},
			Item:          tile.Item{ID: "w3", Type: tile.ItemWeapon, Damage: 2},
			Position:      tile.Position{X: 1, Y: 0},
		},
	}

	view := NewResultView(res)
	assert.Empty(t, view.Events)
	assert.NotNil(t, view.Events)
	require.NotNil(t, view.Decision)
	assert.Equal(t, "weapon", view.Decision.Category)
	assert.Equal(t, 2, view.Decision.Capacity)
	assert.Equal(t, []string{"w1", "w2"}, view.Decision.CurrentItems)
	assert.Equal(t, "w3", view.Decision.Item.ID)

	s, err := toStruct(view)
	require.NoError(t, err)
	decision := s.GetFields()["decision"].GetStructValue()
	assert.Equal(t, "1,0", decision.GetFields()["position"].GetStringValue())
}

func TestQueryRequestRun(t *testing.T) {
	svc := newTestServices(t)
	gameID := startedGame(t, svc)
	ctx := context.Background()

	answer, err := QueryRequest{Kind: "get_current_player", GameID: gameID}.Run(ctx, svc.Engine)
	require.NoError(t, err)
	p, ok := answer.(*game.Player)
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)

	answer, err = QueryRequest{Kind: QueryReachablePositions, GameID: gameID, PlayerID: "p1"}.Run(ctx, svc.Engine)
	require.NoError(t, err)
	s, err := toStruct(answer)
	require.NoError(t, err)
	assert.NotNil(t, s.GetFields()["positions"].GetListValue())

	_, err = QueryRequest{Kind: QueryTile, GameID: gameID}.Run(ctx, svc.Engine)
	assert.Equal(t, gameerr.CodeInvalidArgument, gameerr.CodeOf(err))

	_, err = QueryRequest{Kind: "GET_WEATHER", GameID: gameID}.Run(ctx, svc.Engine)
	assert.Equal(t, gameerr.CodeInvalidArgument, gameerr.CodeOf(err))

	_, err = QueryRequest{Kind: QueryGame, GameID: "missing"}.Run(ctx, svc.Engine)
	assert.Equal(t, gameerr.CodeNotFound, gameerr.CodeOf(err))
}

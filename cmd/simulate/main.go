// Command simulate plays a complete game between bots and prints the outcome.
// The same seed always produces the same game and checksum.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dungeonforge/dungeon-server-go/internal/config"
	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/game/field"
	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
	"github.com/dungeonforge/dungeon-server-go/internal/storage"
)

var (
	seed      = flag.Int64("seed", 1, "game and bot seed")
	players   = flag.Int("players", 2, "number of bots")
	deckSize  = flag.Int("deck", game.DefaultDeckSize, "deck size")
	maxTurns  = flag.Int("max-turns", 500, "give up after this many turns")
	driver    = flag.String("driver", "memory", "store driver: memory, sqlite or postgres")
	dsn       = flag.String("dsn", "", "store DSN or sqlite path")
	replayDir = flag.String("replay-dir", "", "write the replay here when the game ends")
	verbose   = flag.Bool("v", false, "log every command")
)

func main() {
	flag.Parse()

	level := zapcore.WarnLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := storage.Open(ctx, config.DatabaseConfig{Driver: *driver, DSN: *dsn}, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	out, err := simulate(ctx, logger, store, options{
		seed:      *seed,
		players:   *players,
		deckSize:  *deckSize,
		maxTurns:  *maxTurns,
		replayDir: *replayDir,
	})
	if err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}
	out.print()
}

type options struct {
	seed      int64
	players   int
	deckSize  int
	maxTurns  int
	replayDir string
}

type outcome struct {
	gameID   string
	finished bool
	turns    int
	commands int
	winners  []string
	scores   map[string]int
	checksum string
	replay   int
}

func (o outcome) print() {
	fmt.Printf("game:     %s\n", o.gameID)
	fmt.Printf("turns:    %d (%d commands)\n", o.turns, o.commands)
	if !o.finished {
		fmt.Println("result:   unfinished")
	} else {
		fmt.Printf("winners:  %s\n", strings.Join(o.winners, ", "))
	}
	ids := make([]string, 0, len(o.scores))
	for id := range o.scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %-8s %d\n", id, o.scores[id])
	}
	fmt.Printf("checksum: %s\n", o.checksum)
	if o.replay > 0 {
		fmt.Printf("replay:   %d states verified\n", o.replay)
	}
}

func simulate(ctx context.Context, logger *zap.Logger, store storage.Store, opts options) (outcome, error) {
	engine := game.NewEngine(logger, store, game.Config{DefaultDeckSize: opts.deckSize, MaxPlayers: opts.players})
	recorder := game.NewReplayRecorder(logger, opts.replayDir)
	engine.SetReplayRecorder(recorder)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	ids := 0
	engine.SetIDGenerator(func() string {
		ids++
		return fmt.Sprintf("sim-%d-%d", opts.seed, ids)
	})
	engine.SetSeedSource(func() (int64, error) { return opts.seed, nil })

	b := &bot{
		engine:   engine,
		logger:   logger,
		rng:      rand.New(rand.NewSource(opts.seed)),
		maxTurns: opts.maxTurns,
		stuck:    make(map[string]bool),
		declined: make(map[string]bool),
	}
	res, err := b.run(ctx, game.CreateGame{DeckSize: opts.deckSize})
	if err != nil {
		return outcome{}, err
	}
	b.gameID = res.GameID
	for i := 1; i <= opts.players; i++ {
		id := fmt.Sprintf("bot%d", i)
		if _, err := b.run(ctx, game.AddPlayer{GameID: b.gameID, PlayerID: id, Name: id, IsAI: true}); err != nil {
			return outcome{}, err
		}
	}
	if _, err := b.run(ctx, game.StartGame{GameID: b.gameID}); err != nil {
		return outcome{}, err
	}

	g, err := b.play(ctx)
	if err != nil {
		return outcome{}, err
	}

	sum, err := engine.GetChecksum(ctx, b.gameID)
	if err != nil {
		return outcome{}, err
	}
	out := outcome{
		gameID:   b.gameID,
		finished: g.Status == game.StatusFinished,
		turns:    g.TurnNumber,
		commands: b.commands,
		winners:  g.Winners,
		scores:   g.Scores,
		checksum: sum.Hash,
	}
	if replay, ok := recorder.GetReplay(b.gameID); ok {
		bad, err := replay.Verify()
		if err != nil {
			return outcome{}, fmt.Errorf("verify replay: %w", err)
		}
		if bad >= 0 {
			return outcome{}, fmt.Errorf("replay snapshot %d does not match its checksum", bad)
		}
		out.replay = replay.Size()
	}
	return out, nil
}

// bot plays every seat with a simple explore-first strategy. Once the boss is
// on the map every seat heads for it.
type bot struct {
	engine   *game.Engine
	logger   *zap.Logger
	rng      *rand.Rand
	gameID   string
	maxTurns int
	commands int

	// stuck marks players whose drawn tile fit nowhere around them.
	stuck map[string]bool
	// declined holds ground items a player already turned down.
	declined map[string]bool
}

func (b *bot) run(ctx context.Context, cmd game.Command) (*game.Result, error) {
	b.commands++
	res, err := b.engine.Execute(ctx, cmd)
	if err != nil {
		b.logger.Debug("command rejected",
			zap.String("command", string(cmd.Kind())),
			zap.String("player_id", cmd.Actor()),
			zap.Error(err),
		)
		return nil, err
	}
	b.logger.Debug("command applied",
		zap.String("command", string(cmd.Kind())),
		zap.String("player_id", cmd.Actor()),
		zap.Int("events", len(res.Events)),
	)
	return res, nil
}

func (b *bot) play(ctx context.Context) (*game.Game, error) {
	maxCommands := b.maxTurns * 8
	for b.commands < maxCommands {
		g, err := b.engine.GetGame(ctx, b.gameID)
		if err != nil {
			return nil, err
		}
		if g.Status == game.StatusFinished || g.TurnNumber > b.maxTurns {
			return g, nil
		}
		turn, err := b.engine.GetCurrentTurn(ctx, b.gameID)
		if err != nil {
			return nil, err
		}
		if err := b.step(ctx, turn); err != nil {
			if gameerr.CodeOf(err) == gameerr.CodeUnknown {
				return nil, err
			}
			// A rule rejected the move; give the turn away.
			if _, endErr := b.run(ctx, game.EndTurn{GameID: b.gameID, PlayerID: turn.PlayerID, TurnID: turn.ID}); endErr != nil {
				return nil, fmt.Errorf("recover from %v: %w", err, endErr)
			}
		}
	}
	return b.engine.GetGame(ctx, b.gameID)
}

func (b *bot) step(ctx context.Context, turn *rules.GameTurn) error {
	pid := turn.PlayerID
	switch turn.Phase {
	case rules.PhaseInBattle:
		return b.fight(ctx, turn)
	case rules.PhaseAwaitingLoot, rules.PhaseAwaitingPickup:
		if turn.PendingItem != nil {
			return b.resolveDecision(ctx, pid, turn.PendingItem.Item)
		}
		return b.pickUp(ctx, pid)
	}

	if turn.PendingTile != nil {
		if err := b.place(ctx, pid); err != nil {
			b.stuck[pid] = true
			return err
		}
		return nil
	}
	busy := turn.HasAction(rules.ActionMove) || turn.HasAction(rules.ActionPlaceTile) || turn.HasAction(rules.ActionFightMonster)
	if b.stuck[pid] && !busy {
		delete(b.stuck, pid)
		moved, err := b.wander(ctx, pid)
		if moved || err != nil {
			return err
		}
	}
	if !turn.HasAction(rules.ActionPickTile) {
		places, err := b.engine.GetAvailablePlacesForPlayer(ctx, b.gameID, pid)
		if err != nil {
			return err
		}
		if len(places) > 0 {
			_, err := b.run(ctx, game.PickTile{GameID: b.gameID, PlayerID: pid})
			if gameerr.CodeOf(err) != gameerr.CodeDeckEmpty {
				return err
			}
		}
	}

	here, err := b.position(ctx, pid)
	if err != nil {
		return err
	}
	view, err := b.engine.GetTile(ctx, b.gameID, here)
	if err != nil {
		return err
	}
	if view.Item != nil && view.Monster == nil && !b.declined[pid+"/"+view.Item.ID] {
		return b.pickUp(ctx, pid)
	}
	if !busy {
		moved, err := b.wander(ctx, pid)
		if moved || err != nil {
			return err
		}
	}
	_, err = b.run(ctx, game.EndTurn{GameID: b.gameID, PlayerID: pid, TurnID: turn.ID})
	return err
}

// fight finalizes the battle, throwing every damage spell at the boss.
func (b *bot) fight(ctx context.Context, turn *rules.GameTurn) error {
	pid := turn.PlayerID
	var spells []string
	if turn.Battle != nil && turn.Battle.Monster.Boss {
		inv, err := b.engine.GetInventory(ctx, b.gameID, pid)
		if err != nil {
			return err
		}
		for _, s := range inv.Items(tile.ItemSpell) {
			if s.Damage > 0 {
				spells = append(spells, s.ID)
			}
		}
	}
	_, err := b.run(ctx, game.FinalizeBattle{
		GameID:                b.gameID,
		PlayerID:              pid,
		TurnID:                turn.ID,
		SelectedConsumableIDs: spells,
		PickupItem:            true,
	})
	return err
}

// wander moves one step: toward the boss when it is on the map, anywhere otherwise.
// Monsters count as reachable so bots seek out fights.
func (b *bot) wander(ctx context.Context, pid string) (bool, error) {
	here, err := b.position(ctx, pid)
	if err != nil {
		return false, err
	}
	reachable, err := b.engine.GetReachablePositions(ctx, b.gameID, pid, true)
	if err != nil || len(reachable) == 0 {
		return false, err
	}
	f, err := b.engine.GetField(ctx, b.gameID)
	if err != nil {
		return false, err
	}
	to := reachable[b.rng.Intn(len(reachable))]
	if next, ok := towardBoss(f, here); ok {
		for _, pos := range reachable {
			if pos == next {
				to = next
			}
		}
	}
	_, err = b.run(ctx, game.MovePlayer{GameID: b.gameID, PlayerID: pid, From: here, To: to})
	return err == nil, err
}

// towardBoss returns the first step of a shortest path from here to the boss.
func towardBoss(f *field.Field, here tile.Position) (tile.Position, bool) {
	var lair tile.Position
	found := false
	for pos, m := range f.Monsters {
		if m.Boss {
			lair, found = pos, true
		}
	}
	if !found || lair == here {
		return tile.Position{}, false
	}
	prev := map[tile.Position]tile.Position{here: here}
	queue := []tile.Position{here}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == lair {
			for prev[cur] != here {
				cur = prev[cur]
			}
			return cur, true
		}
		for _, n := range f.Neighbors(cur) {
			if _, seen := prev[n]; !seen {
				prev[n] = cur
				queue = append(queue, n)
			}
		}
	}
	return tile.Position{}, false
}

func (b *bot) position(ctx context.Context, pid string) (tile.Position, error) {
	st, err := b.engine.GetPlayerStatus(ctx, b.gameID, pid)
	if err != nil {
		return tile.Position{}, err
	}
	return st.Position, nil
}

// place tries the open positions in random order until one accepts the tile.
func (b *bot) place(ctx context.Context, pid string) error {
	places, err := b.engine.GetAvailablePlacesForPlayer(ctx, b.gameID, pid)
	if err != nil {
		return err
	}
	b.rng.Shuffle(len(places), func(i, j int) { places[i], places[j] = places[j], places[i] })
	var lastErr error = gameerr.New(gameerr.CodeNoValidOrientation, "nowhere to place the tile")
	for _, pos := range places {
		_, err := b.run(ctx, game.PlaceTile{GameID: b.gameID, PlayerID: pid, Position: pos})
		if err == nil {
			return nil
		}
		if gameerr.CodeOf(err) == gameerr.CodeUnknown {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (b *bot) pickUp(ctx context.Context, pid string) error {
	here, err := b.position(ctx, pid)
	if err != nil {
		return err
	}
	view, err := b.engine.GetTile(ctx, b.gameID, here)
	if err != nil {
		return err
	}
	res, err := b.run(ctx, game.PickItem{GameID: b.gameID, PlayerID: pid, Position: here})
	if errors.Is(err, gameerr.ErrInventoryFull) {
		return nil
	}
	if err != nil || res.Decision != nil || view.Item == nil {
		return err
	}
	// A second key is left where it lies.
	after, err := b.engine.GetTile(ctx, b.gameID, here)
	if err != nil {
		return err
	}
	if after.Item != nil && after.Item.ID == view.Item.ID {
		b.declined[pid+"/"+view.Item.ID] = true
	}
	return nil
}

// resolveDecision swaps the weakest held item of the category for item when
// item is better, and leaves it on the ground otherwise.
func (b *bot) resolveDecision(ctx context.Context, pid string, item tile.Item) error {
	inv, err := b.engine.GetInventory(ctx, b.gameID, pid)
	if err != nil {
		return err
	}
	held := inv.Items(item.Type)
	weakest := -1
	for i, it := range held {
		if weakest < 0 || worth(it) < worth(held[weakest]) {
			weakest = i
		}
	}
	if weakest >= 0 && (item.EndsGame || worth(item) > worth(held[weakest])) {
		_, err := b.run(ctx, game.ReplaceInventoryItem{GameID: b.gameID, PlayerID: pid, ReplaceItemID: held[weakest].ID})
		return err
	}
	b.declined[pid+"/"+item.ID] = true
	_, err = b.run(ctx, game.SkipItemPickup{GameID: b.gameID, PlayerID: pid})
	return err
}

func worth(it tile.Item) int {
	return it.Damage + it.Value
}

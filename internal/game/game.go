package game

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dungeonforge/dungeon-server-go/internal/game/battle"
	"github.com/dungeonforge/dungeon-server-go/internal/game/field"
	"github.com/dungeonforge/dungeon-server-go/internal/game/inventory"
	"github.com/dungeonforge/dungeon-server-go/internal/game/movement"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

const (
	// MaxPlayers is the roster limit of a game.
	MaxPlayers = 4
	// DefaultMaxHP is the hit points a player joins with.
	DefaultMaxHP = 5
	// DefaultDeckSize is used when CreateGame leaves the deck size unset.
	DefaultDeckSize = 40
)

// Status is the lifecycle state of a game.
type Status int

const (
	StatusLobby Status = iota
	StatusStarted
	StatusTurnInProgress
	StatusFinished
)

var statusNames = map[Status]string{
	StatusLobby:          "LOBBY",
	StatusStarted:        "STARTED",
	StatusTurnInProgress: "TURN_IN_PROGRESS",
	StatusFinished:       "FINISHED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int(s))
}

// ParseStatus resolves a status name such as "LOBBY", ignoring case.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Overrides pins dice and draw order for one game. Only test and
// verification harnesses supply them.
type Overrides struct {
	Dice []int       `json:"dice,omitempty"`
	Deck []tile.Spec `json:"deck,omitempty"`
	Seed *int64      `json:"seed,omitempty"`
}

func (o *Overrides) clone() *Overrides {
	if o == nil {
		return nil
	}
	cp := &Overrides{Dice: append([]int(nil), o.Dice...)}
	for _, s := range o.Deck {
		cp.Deck = append(cp.Deck, s.Clone())
	}
	if o.Seed != nil {
		seed := *o.Seed
		cp.Seed = &seed
	}
	return cp
}

// Game is the root aggregate that sequences everything else.
type Game struct {
	ID              string         `json:"id"`
	Version         int64          `json:"version"`
	Status          Status         `json:"status"`
	PlayerIDs       []string       `json:"player_ids"`
	CurrentPlayerID string         `json:"current_player_id,omitempty"`
	CurrentTurnID   string         `json:"current_turn_id,omitempty"`
	TurnNumber      int            `json:"turn_number"`
	WinnerID        string         `json:"winner_id,omitempty"`
	Tie             bool           `json:"tie,omitempty"`
	Winners         []string       `json:"winners,omitempty"`
	Scores          map[string]int `json:"scores,omitempty"`
	Seed            int64          `json:"seed"`
	BattleCount     int            `json:"battle_count"`
	LastBattle      *battle.Battle `json:"last_battle,omitempty"`
	EventSeq        int64          `json:"event_seq"`
	DeckSize        int            `json:"deck_size"`
	Overrides       *Overrides     `json:"overrides,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	FinishedAt      time.Time      `json:"finished_at,omitempty"`
}

// TurnID derives the id of the n-th turn of the game.
func (g *Game) TurnID(n int) string {
	return tile.DeterministicID(g.ID, fmt.Sprintf("turn/%d", n))
}

// IsPastTurn reports whether turnID names a turn of this game that is no longer current.
func (g *Game) IsPastTurn(turnID string) bool {
	for n := g.TurnNumber - 1; n >= 1; n-- {
		if g.TurnID(n) == turnID {
			return true
		}
	}
	return false
}

// HasPlayer reports whether playerID joined the game.
func (g *Game) HasPlayer(playerID string) bool {
	for _, id := range g.PlayerIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

// NextPlayer returns the player after playerID in join order, wrapping around.
func (g *Game) NextPlayer(playerID string) string {
	for i, id := range g.PlayerIDs {
		if id == playerID {
			return g.PlayerIDs[(i+1)%len(g.PlayerIDs)]
		}
	}
	if len(g.PlayerIDs) == 0 {
		return ""
	}
	return g.PlayerIDs[0]
}

// InProgress reports whether turns are being played.
func (g *Game) InProgress() bool {
	return g.Status == StatusStarted || g.Status == StatusTurnInProgress
}

// Clone returns a deep copy.
func (g *Game) Clone() *Game {
	cp := *g
	cp.PlayerIDs = append([]string(nil), g.PlayerIDs...)
	cp.Winners = append([]string(nil), g.Winners...)
	if g.Scores != nil {
		cp.Scores = make(map[string]int, len(g.Scores))
		for id, s := range g.Scores {
			cp.Scores[id] = s
		}
	}
	cp.Overrides = g.Overrides.clone()
	cp.LastBattle = g.LastBattle.Clone()
	return &cp
}

// Player is one participant of one game.
type Player struct {
	ID        string              `json:"id"`
	GameID    string              `json:"game_id"`
	Version   int64               `json:"version"`
	Name      string              `json:"name"`
	HP        int                 `json:"hp"`
	MaxHP     int                 `json:"max_hp"`
	Ready     bool                `json:"ready"`
	IsAI      bool                `json:"is_ai"`
	Inventory inventory.Inventory `json:"inventory"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

// NewPlayer creates a player at full health.
func NewPlayer(id, gameID, name string) *Player {
	return &Player{
		ID:     id,
		GameID: gameID,
		Name:   name,
		HP:     DefaultMaxHP,
		MaxHP:  DefaultMaxHP,
	}
}

// Stunned reports whether the player is at zero hit points.
func (p *Player) Stunned() bool {
	return p.HP == 0
}

// Damage lowers hp, never below zero, and returns the amount actually lost.
func (p *Player) Damage(n int) int {
	if n > p.HP {
		n = p.HP
	}
	p.HP -= n
	return n
}

// Heal restores the player to full health and returns the amount gained.
func (p *Player) Heal() int {
	gained := p.MaxHP - p.HP
	p.HP = p.MaxHP
	return gained
}

// Clone returns a deep copy.
func (p *Player) Clone() *Player {
	cp := *p
	cp.Inventory = p.Inventory.Clone()
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// State is every aggregate of one game, loaded and saved as one unit of work.
type State struct {
	Game     *Game              `json:"game"`
	Players  map[string]*Player `json:"players"`
	Turn     *rules.GameTurn    `json:"turn,omitempty"`
	Field    *field.Field       `json:"field"`
	Movement *movement.Movement `json:"movement"`
	Deck     *tile.Deck         `json:"deck"`
	// Finished holds turns that ended during the current command and are no
	// longer the game's current turn.
	Finished []*rules.GameTurn `json:"-"`
}

// Player returns the player with id.
func (s *State) Player(id string) (*Player, bool) {
	p, ok := s.Players[id]
	return p, ok
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	cp := &State{
		Game:     s.Game.Clone(),
		Players:  make(map[string]*Player, len(s.Players)),
		Turn:     s.Turn.Clone(),
		Field:    s.Field.Clone(),
		Movement: s.Movement.Clone(),
	}
	for id, p := range s.Players {
		cp.Players[id] = p.Clone()
	}
	deck := *s.Deck
	deck.Specs = make([]tile.Spec, len(s.Deck.Specs))
	for i, spec := range s.Deck.Specs {
		deck.Specs[i] = spec.Clone()
	}
	if s.Deck.Held != nil {
		held := s.Deck.Held.Clone()
		deck.Held = &held
	}
	cp.Deck = &deck
	for _, t := range s.Finished {
		cp.Finished = append(cp.Finished, t.Clone())
	}
	return cp
}

// Aggregate kinds used as storage keys.
const (
	KindGame     = "game"
	KindPlayer   = "player"
	KindTurn     = "turn"
	KindField    = "field"
	KindMovement = "movement"
	KindDeck     = "deck"
)

// Aggregate is a reference to one versioned part of a State.
type Aggregate struct {
	Kind    string
	ID      string
	Version *int64
	Value   any
}

// Key identifies the aggregate across a repository.
func (a Aggregate) Key() string {
	return AggregateKey(a.Kind, a.ID)
}

// AggregateKey builds the storage key of an aggregate.
func AggregateKey(kind, id string) string {
	return kind + "/" + id
}

// PlayerAggregateID scopes a player identity to one game.
func PlayerAggregateID(gameID, playerID string) string {
	return gameID + "/" + playerID
}

// Aggregates lists every aggregate of the state in a stable order.
func (s *State) Aggregates() []Aggregate {
	out := []Aggregate{
		{Kind: KindGame, ID: s.Game.ID, Version: &s.Game.Version, Value: s.Game},
	}
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.Players[id]
		out = append(out, Aggregate{Kind: KindPlayer, ID: PlayerAggregateID(s.Game.ID, id), Version: &p.Version, Value: p})
	}
	for _, t := range s.Finished {
		out = append(out, Aggregate{Kind: KindTurn, ID: t.ID, Version: &t.Version, Value: t})
	}
	if s.Turn != nil {
		out = append(out, Aggregate{Kind: KindTurn, ID: s.Turn.ID, Version: &s.Turn.Version, Value: s.Turn})
	}
	if s.Field != nil {
		out = append(out, Aggregate{Kind: KindField, ID: s.Field.ID, Version: &s.Field.Version, Value: s.Field})
	}
	if s.Movement != nil {
		out = append(out, Aggregate{Kind: KindMovement, ID: s.Movement.ID, Version: &s.Movement.Version, Value: s.Movement})
	}
	if s.Deck != nil {
		out = append(out, Aggregate{Kind: KindDeck, ID: s.Deck.ID, Version: &s.Deck.Version, Value: s.Deck})
	}
	return out
}

// Versions records aggregate versions as observed at load, by aggregate key.
// A missing key means the aggregate did not exist yet.
type Versions map[string]int64

// Versions captures the current version of every aggregate.
func (s *State) Versions() Versions {
	out := make(Versions)
	for _, a := range s.Aggregates() {
		out[a.Key()] = *a.Version
	}
	return out
}

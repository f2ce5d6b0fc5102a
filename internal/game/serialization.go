package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dungeonforge/dungeon-server-go/internal/game/tile"
)

// Snapshot is a point-in-time copy of a game, kept for replays and checksums.
// The state is held as JSON so the snapshot survives gob encoding unchanged.
type Snapshot struct {
	GameID    string
	Command   string
	Timestamp time.Time
	State     []byte
	// Checksum is the hash computed when the snapshot was taken.
	Checksum string
}

// NewSnapshot captures st after command ran.
func NewSnapshot(st *State, command string, at time.Time) *Snapshot {
	data, err := json.Marshal(st)
	if err != nil {
		// State only holds plain values; encoding cannot fail.
		panic(fmt.Sprintf("encode snapshot of game %s: %v", st.Game.ID, err))
	}
	snap := &Snapshot{
		GameID:    st.Game.ID,
		Command:   command,
		Timestamp: at,
		State:     data,
	}
	snap.Checksum = hashString(buildDeterministicRepresentation(st))
	return snap
}

// Restore decodes the captured state.
func (s *Snapshot) Restore() (*State, error) {
	var st State
	if err := json.Unmarshal(s.State, &st); err != nil {
		return nil, fmt.Errorf("decode snapshot of game %s: %w", s.GameID, err)
	}
	return &st, nil
}

// SerializationChecksum is a deterministic checksum of a game state.
// Identical games produce identical hashes regardless of when they were captured.
type SerializationChecksum struct {
	Hash      string `json:"hash"`      // SHA-256 of the deterministic representation
	Timestamp string `json:"timestamp"` // when the checksum was computed
	Version   int    `json:"version"`   // representation version
}

// ComputeChecksum hashes the deterministic representation of the captured state.
func (s *Snapshot) ComputeChecksum() (*SerializationChecksum, error) {
	st, err := s.Restore()
	if err != nil {
		return nil, err
	}
	return &SerializationChecksum{
		Hash:      hashString(buildDeterministicRepresentation(st)),
		Timestamp: s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		Version:   1,
	}, nil
}

// VerifyChecksum reports whether the captured state still hashes to expected.
func (s *Snapshot) VerifyChecksum(expected *SerializationChecksum) (bool, error) {
	computed, err := s.ComputeChecksum()
	if err != nil {
		return false, fmt.Errorf("failed to compute checksum: %w", err)
	}
	return computed.Hash == expected.Hash, nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func itemIDs(items []tile.Item) string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return strings.Join(ids, ",")
}

// buildDeterministicRepresentation renders the state as canonical text:
// maps in sorted key order, no timestamps, ordered lists kept in order.
func buildDeterministicRepresentation(st *State) string {
	var buf bytes.Buffer
	g := st.Game

	fmt.Fprintf(&buf, "GAME:%s|%s|%s|%d|%s|%t|%d|%d\n",
		g.ID, g.Status, g.CurrentPlayerID, g.TurnNumber, g.WinnerID, g.Tie, g.BattleCount, g.Seed)
	buf.WriteString("PLAYER_ORDER:" + strings.Join(g.PlayerIDs, ",") + "\n")
	if len(g.Winners) > 0 {
		buf.WriteString("WINNERS:" + strings.Join(g.Winners, ",") + "\n")
	}

	ids := make([]string, 0, len(st.Players))
	for id := range st.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := st.Players[id]
		fmt.Fprintf(&buf, "PLAYER:%s|%d|%d|%t\n", id, p.HP, p.MaxHP, p.IsAI)
		fmt.Fprintf(&buf, "  KEYS:%s\n  WEAPONS:%s\n  SPELLS:%s\n  TREASURES:%s\n",
			itemIDs(p.Inventory.Keys), itemIDs(p.Inventory.Weapons),
			itemIDs(p.Inventory.Spells), itemIDs(p.Inventory.Treasures))
		if pos, ok := st.Movement.PositionOf(id); ok {
			fmt.Fprintf(&buf, "  AT:%s|%t\n", pos, st.Movement.HasMovedAfterBattle(id))
		}
		if r, ok := st.Movement.RestrictionOf(id); ok {
			fmt.Fprintf(&buf, "  RESTRICTED:%s->%s\n", r.ReturnTo, r.Target)
		}
	}

	f := st.Field
	for _, pos := range f.Positions() {
		t := f.Tiles[pos]
		features := make([]string, len(t.Features))
		for i, ft := range t.Features {
			features[i] = string(ft)
		}
		sort.Strings(features)
		fmt.Fprintf(&buf, "TILE:%s|%s|%s|%t|%s\n", pos, t.ID, t.Orientation, t.Room, strings.Join(features, ","))
		for _, next := range f.Edges[pos] {
			fmt.Fprintf(&buf, "  EDGE:%s\n", next)
		}
		if partner, ok := f.Teleports[pos]; ok {
			fmt.Fprintf(&buf, "  TELEPORT:%s\n", partner)
		}
		if m, ok := f.Monsters[pos]; ok {
			fmt.Fprintf(&buf, "  MONSTER:%s|%d|%d\n", m.ID, m.HP, m.Damage)
		}
		if it, ok := f.Items[pos]; ok {
			fmt.Fprintf(&buf, "  ITEM:%s\n", it.ID)
		}
	}
	for _, pos := range f.PlacementsFor() {
		slot := f.Required[pos]
		fmt.Fprintf(&buf, "SLOT:%s|%s|%s\n", pos, slot.Required, slot.Blocked)
	}
	buf.WriteString("CONSUMED:" + strings.Join(f.ConsumedIDs(), ",") + "\n")

	d := st.Deck
	held := ""
	if d.Held != nil {
		held = d.Held.Tile.ID
	}
	fmt.Fprintf(&buf, "DECK:%d|%d|%d|%s\n", d.Remaining(), d.Drawn, d.Total, held)
	for _, spec := range d.Specs {
		fmt.Fprintf(&buf, "  NEXT:%s\n", spec.Tile.ID)
	}

	if turn := st.Turn; turn != nil {
		fmt.Fprintf(&buf, "TURN:%s|%s|%d|%s|%t|%t\n", turn.ID, turn.PlayerID, turn.Number, turn.Phase, turn.Ended, turn.Skipped)
		for i, a := range turn.Actions {
			fmt.Fprintf(&buf, "  %d:%s|%s|%s\n", i, a.Kind, a.TileID, a.ItemID)
		}
		if turn.PendingTile != nil {
			fmt.Fprintf(&buf, "  PENDING_TILE:%s|%s\n", turn.PendingTile.Tile.ID, turn.PendingTile.Tile.Orientation)
		}
		if turn.PendingItem != nil {
			fmt.Fprintf(&buf, "  PENDING_ITEM:%s|%s\n", turn.PendingItem.Item.ID, turn.PendingItem.Position)
		}
		if b := turn.Battle; b != nil {
			fmt.Fprintf(&buf, "  BATTLE:%s|%s|%v|%d|%s|%t\n", b.ID, b.Monster.ID, b.Dice, b.TotalDamage, b.Result, b.Completed)
		}
	}
	return buf.String()
}

// SerializeToBytes encodes the snapshot with gob, the format used by replay files.
func (s *Snapshot) SerializeToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeFromBytes decodes a snapshot produced by SerializeToBytes.
func DeserializeFromBytes(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// ValidateSerializationRoundtrip checks that a snapshot survives encoding with
// its checksum intact.
func ValidateSerializationRoundtrip(s *Snapshot) error {
	original, err := s.ComputeChecksum()
	if err != nil {
		return fmt.Errorf("failed to compute original checksum: %w", err)
	}
	data, err := s.SerializeToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize: %w", err)
	}
	decoded, err := DeserializeFromBytes(data)
	if err != nil {
		return fmt.Errorf("failed to deserialize: %w", err)
	}
	roundtrip, err := decoded.ComputeChecksum()
	if err != nil {
		return fmt.Errorf("failed to compute deserialized checksum: %w", err)
	}
	if original.Hash != roundtrip.Hash {
		return fmt.Errorf("checksum mismatch: original=%s, deserialized=%s", original.Hash, roundtrip.Hash)
	}
	return nil
}

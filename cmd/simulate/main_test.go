package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dungeonforge/dungeon-server-go/internal/storage"
)

func runSimulation(t *testing.T, seed int64) outcome {
	t.Helper()
	out, err := simulate(context.Background(), zap.NewNop(), storage.NewMemoryStore(), options{
		seed:     seed,
		players:  2,
		deckSize: 20,
		maxTurns: 40,
	})
	require.NoError(t, err)
	return out
}

func TestSimulationIsDeterministic(t *testing.T) {
	first := runSimulation(t, 7)
	second := runSimulation(t, 7)

	assert.Equal(t, first.checksum, second.checksum)
	assert.Equal(t, first.turns, second.turns)
	assert.Equal(t, first.commands, second.commands)
	assert.Equal(t, first.winners, second.winners)
	assert.Len(t, first.checksum, 64)
	assert.Positive(t, first.replay)
}

func TestSimulationPlaysTurns(t *testing.T) {
	out := runSimulation(t, 3)
	assert.Equal(t, "sim-3-1", out.gameID)
	assert.Positive(t, out.turns)
	assert.Positive(t, out.commands)
}

func TestSimulationDefeatsTheBoss(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 4, 5} {
		out, err := simulate(context.Background(), zap.NewNop(), storage.NewMemoryStore(), options{
			seed:     seed,
			players:  2,
			deckSize: 12,
			maxTurns: 300,
		})
		require.NoError(t, err, "seed %d", seed)
		assert.True(t, out.finished, "seed %d unfinished after %d turns", seed, out.turns)
		assert.NotEmpty(t, out.winners, "seed %d", seed)
	}
}

package gameerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestErrorIsComparesCode(t *testing.T) {
	err := WithMetadata(CodeNotYourTurn, "player-2 tried to act", map[string]string{"player_id": "p2"})
	wrapped := fmt.Errorf("move player: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotYourTurn))
	assert.False(t, errors.Is(wrapped, ErrTurnAlreadyEnded))
	assert.Equal(t, CodeNotYourTurn, CodeOf(wrapped))
	assert.Contains(t, err.Error(), "player_id=p2")
}

func TestCodeOfUnknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
}

func TestInventoryFullError(t *testing.T) {
	err := &InventoryFullError{Category: "weapon", Capacity: 2, CurrentItems: []string{"w1", "w2"}}

	assert.True(t, errors.Is(err, ErrInventoryFull))
	domain := err.AsDomain()
	assert.Equal(t, "weapon", domain.Metadata["category"])
	assert.Equal(t, "2", domain.Metadata["capacity"])
	assert.Equal(t, "w1,w2", domain.Metadata["current_items"])
}

func TestCodeKindAndGRPC(t *testing.T) {
	tests := []struct {
		code Code
		kind Kind
		grpc codes.Code
	}{
		{CodeNotYourTurn, KindLegality, codes.FailedPrecondition},
		{CodeNoValidOrientation, KindLegality, codes.InvalidArgument},
		{CodeInventoryFull, KindCapacity, codes.FailedPrecondition},
		{CodeGameAlreadyFull, KindRoster, codes.FailedPrecondition},
		{CodeNotFound, KindLookup, codes.NotFound},
		{CodeVersionConflict, KindConflict, codes.Aborted},
		{CodeInvariantViolation, KindInvariant, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.code.Kind())
			assert.Equal(t, tt.grpc, tt.code.GRPCCode())
		})
	}
}

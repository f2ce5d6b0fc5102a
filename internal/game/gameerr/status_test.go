package gameerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToGRPCStatusRoundTrip(t *testing.T) {
	err := WithMetadata(CodeNotYourTurn, "not your turn", map[string]string{"player_id": "p2"})

	st, ok := status.FromError(err.ToGRPCStatus())
	require.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	assert.Equal(t, "not your turn", st.Message())

	back := FromStatus(st.Err())
	require.NotNil(t, back)
	assert.Equal(t, CodeNotYourTurn, back.Code)
	assert.Equal(t, "p2", back.Metadata["player_id"])
	assert.True(t, errors.Is(back, ErrNotYourTurn))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
		code Code
	}{
		{"wrapped domain error", fmt.Errorf("load: %w", ErrNotFound), codes.NotFound, CodeNotFound},
		{"conflict", ErrVersionConflict, codes.Aborted, CodeVersionConflict},
		{"inventory full", &InventoryFullError{Category: "WEAPON", Capacity: 2, CurrentItems: []string{"a", "b"}}, codes.FailedPrecondition, CodeInventoryFull},
		{"plain error", errors.New("disk on fire"), codes.Internal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			converted := ToStatus(tt.err)
			assert.Equal(t, tt.want, status.Code(converted))
			back := FromStatus(converted)
			if tt.code == "" {
				assert.Nil(t, back)
				return
			}
			require.NotNil(t, back)
			assert.Equal(t, tt.code, back.Code)
		})
	}
}

func TestToStatusKeepsExistingStatus(t *testing.T) {
	in := status.Error(codes.Unauthenticated, "who are you")
	assert.Equal(t, in, ToStatus(in))
	assert.NoError(t, ToStatus(nil))
}

func TestInventoryFullStatusCarriesItems(t *testing.T) {
	full := &InventoryFullError{Category: "WEAPON", Capacity: 2, CurrentItems: []string{"axe", "sword"}}
	back := FromStatus(ToStatus(full))
	require.NotNil(t, back)
	assert.Equal(t, "axe,sword", back.Metadata["current_items"])
	assert.Equal(t, "2", back.Metadata["capacity"])
}

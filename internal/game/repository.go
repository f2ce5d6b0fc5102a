package game

import (
	"context"
)

// Repository loads and saves the aggregates of one game.
//
// Load returns fresh copies the caller may mutate freely. SaveAll writes every
// aggregate whose version moved past the one in expected, and fails with a
// VERSION_CONFLICT error without writing anything when any stored version
// differs from expected.
type Repository interface {
	Load(ctx context.Context, gameID string) (*State, error)
	SaveAll(ctx context.Context, state *State, expected Versions) error
}

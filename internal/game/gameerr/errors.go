// Package gameerr provides the structured error taxonomy shared by the rules engine.
//
// Every rejection carries a machine-readable Code plus the offending ids in
// Metadata so transports can render a precise message without parsing text.
package gameerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Legality errors
	CodeNotYourTurn                  Code = "NOT_YOUR_TURN"
	CodeTurnAlreadyEnded             Code = "TURN_ALREADY_ENDED"
	CodeInvalidTurnAction            Code = "INVALID_TURN_ACTION"
	CodePositionNotAdjacent          Code = "POSITION_NOT_ADJACENT"
	CodePositionAlreadyOccupied      Code = "POSITION_ALREADY_OCCUPIED"
	CodeNoValidOrientation           Code = "NO_VALID_ORIENTATION"
	CodeNoTransitionBetweenPositions Code = "NO_TRANSITION_BETWEEN_POSITIONS"
	CodeDestinationBlocked           Code = "DESTINATION_BLOCKED_BY_LIVING_MONSTER"
	CodeDeckEmpty                    Code = "DECK_EMPTY"
	CodeNoItemAtPosition             Code = "NO_ITEM_AT_POSITION"
	CodeItemAlreadyConsumed          Code = "ITEM_ALREADY_CONSUMED"
	CodeInvalidSpellTarget           Code = "INVALID_SPELL_TARGET"

	// Capacity decision point
	CodeInventoryFull Code = "INVENTORY_FULL"

	// Inventory errors
	CodeItemNotFound                    Code = "ITEM_NOT_FOUND"
	CodeCategoryAtCapacityDuringReplace Code = "CATEGORY_AT_CAPACITY_DURING_REPLACE"

	// Roster errors
	CodeGameAlreadyFull     Code = "CANNOT_ADD_PLAYER_TO_ALREADY_FULL_GAME"
	CodeGameAlreadyPrepared Code = "CANNOT_ADD_PLAYER_TO_ALREADY_PREPARED_GAME"
	CodeGameHasNoPlayers    Code = "GAME_HAS_NO_PLAYERS"
	CodeGameNotStarted      Code = "GAME_NOT_STARTED"
	CodeGameFinished        Code = "GAME_FINISHED"

	// Lookup / storage errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeVersionConflict Code = "VERSION_CONFLICT"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeOverridesDenied Code = "OVERRIDES_DENIED"

	// Invariant violations never surface from a correct engine.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

// Kind groups codes into the families callers react to differently.
type Kind string

const (
	KindLegality  Kind = "legality"
	KindCapacity  Kind = "capacity"
	KindRoster    Kind = "roster"
	KindLookup    Kind = "lookup"
	KindConflict  Kind = "conflict"
	KindInvariant Kind = "invariant"
)

// Kind reports the family of the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeInventoryFull:
		return KindCapacity
	case CodeGameAlreadyFull, CodeGameAlreadyPrepared, CodeGameHasNoPlayers:
		return KindRoster
	case CodeNotFound, CodeItemNotFound:
		return KindLookup
	case CodeVersionConflict:
		return KindConflict
	case CodeInvariantViolation, CodeCategoryAtCapacityDuringReplace, CodeUnknown:
		return KindInvariant
	default:
		return KindLegality
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument,
		CodeNoValidOrientation,
		CodePositionNotAdjacent,
		CodeNoTransitionBetweenPositions,
		CodeInvalidSpellTarget:
		return codes.InvalidArgument

	case CodeNotYourTurn,
		CodeTurnAlreadyEnded,
		CodeInvalidTurnAction,
		CodePositionAlreadyOccupied,
		CodeDestinationBlocked,
		CodeDeckEmpty,
		CodeNoItemAtPosition,
		CodeItemAlreadyConsumed,
		CodeInventoryFull,
		CodeGameAlreadyFull,
		CodeGameAlreadyPrepared,
		CodeGameHasNoPlayers,
		CodeGameNotStarted,
		CodeGameFinished:
		return codes.FailedPrecondition

	case CodeNotFound, CodeItemNotFound:
		return codes.NotFound

	case CodeVersionConflict:
		return codes.Aborted

	case CodeOverridesDenied:
		return codes.PermissionDenied

	default:
		return codes.Internal
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Offending ids and values
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Metadata) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Metadata[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error carrying offending ids.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is comparisons; only the code is compared.
var (
	ErrNotYourTurn                  = New(CodeNotYourTurn, "not your turn")
	ErrTurnAlreadyEnded             = New(CodeTurnAlreadyEnded, "turn already ended")
	ErrInvalidTurnAction            = New(CodeInvalidTurnAction, "invalid turn action")
	ErrPositionNotAdjacent          = New(CodePositionNotAdjacent, "position not adjacent")
	ErrPositionAlreadyOccupied      = New(CodePositionAlreadyOccupied, "position already occupied")
	ErrNoValidOrientation           = New(CodeNoValidOrientation, "no valid orientation")
	ErrNoTransitionBetweenPositions = New(CodeNoTransitionBetweenPositions, "no transition between positions")
	ErrDestinationBlocked           = New(CodeDestinationBlocked, "destination blocked by living monster")
	ErrInventoryFull                = New(CodeInventoryFull, "inventory full")
	ErrItemNotFound                 = New(CodeItemNotFound, "item not found")
	ErrGameAlreadyFull              = New(CodeGameAlreadyFull, "game already full")
	ErrGameAlreadyPrepared          = New(CodeGameAlreadyPrepared, "game already prepared")
	ErrNotFound                     = New(CodeNotFound, "not found")
	ErrVersionConflict              = New(CodeVersionConflict, "version conflict")
)

// CodeOf extracts the code from err, or CodeUnknown when err is not a domain error.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// InventoryFullError is the structured decision point returned when a category is at capacity.
type InventoryFullError struct {
	Category     string
	Capacity     int
	CurrentItems []string
}

// Error implements the error interface.
func (e *InventoryFullError) Error() string {
	return fmt.Sprintf("%s: %s at capacity %d (%s)", CodeInventoryFull, e.Category, e.Capacity, strings.Join(e.CurrentItems, ","))
}

// Is lets errors.Is(err, ErrInventoryFull) match.
func (e *InventoryFullError) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == CodeInventoryFull
	}
	_, ok := target.(*InventoryFullError)
	return ok
}

// AsDomain converts the decision point into a generic domain error for transports.
func (e *InventoryFullError) AsDomain() *Error {
	return WithMetadata(CodeInventoryFull, "inventory full", map[string]string{
		"category":      e.Category,
		"capacity":      fmt.Sprintf("%d", e.Capacity),
		"current_items": strings.Join(e.CurrentItems, ","),
	})
}

// Package service hosts the game engine: lifecycle state machine, target
// chain, kill verification, zone and heartbeat enforcement, and the
// transport-agnostic player operations.
package service

import "errors"

// GameError carries a stable code that transports surface verbatim.
type GameError struct {
	Code    string
	Message string
}

func (e *GameError) Error() string { return e.Code + ": " + e.Message }

// Validation errors (caller's fault).
var (
	ErrInvalidQr          = &GameError{Code: "InvalidQr", Message: "qr payload did not decode for this game"}
	ErrOutOfRange         = &GameError{Code: "OutOfRange", Message: "too far from target"}
	ErrNotYourTarget      = &GameError{Code: "NotYourTarget", Message: "scanned player is not your target"}
	ErrTargetNotFound     = &GameError{Code: "TargetNotFound", Message: "no such player in this game"}
	ErrTargetNotAlive     = &GameError{Code: "TargetNotAlive", Message: "target is already eliminated"}
	ErrHunterNotAlive     = &GameError{Code: "HunterNotAlive", Message: "you are eliminated"}
	ErrGameNotActive      = &GameError{Code: "GameNotActive", Message: "game is not in the hunt"}
	ErrBlePresenceMissing = &GameError{Code: "BlePresenceMissing", Message: "target bluetooth id not seen nearby"}
	ErrNoTargetPosition   = &GameError{Code: "NoTargetPosition", Message: "target has no known position"}
	ErrBadCoordinate      = &GameError{Code: "BadCoordinate", Message: "coordinate outside valid range"}
	ErrNotCheckedIn       = &GameError{Code: "NotCheckedIn", Message: "referenced player has not checked in"}
)

// State errors.
var (
	ErrNotFound          = &GameError{Code: "NotFound", Message: "not found"}
	ErrAuthFailed        = &GameError{Code: "AuthFailed", Message: "auth signature rejected"}
	ErrPhaseMismatch     = &GameError{Code: "PhaseMismatch", Message: "operation not valid in this phase"}
	ErrAlreadyCheckedIn  = &GameError{Code: "AlreadyCheckedIn", Message: "player already checked in"}
	ErrAlreadyEliminated = &GameError{Code: "AlreadyEliminated", Message: "player already eliminated"}
)

// CodeOf extracts the stable code from an error, or "Internal".
func CodeOf(err error) string {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return "Internal"
}

package registry

import "errors"

// Every rejected call returns exactly one of these. NoSuchProof and NotExists
// describe the same condition for different calls and stay distinct.
var (
	ErrAlreadyClaimed = errors.New("proof already claimed")
	ErrTooLong        = errors.New("proof too long")
	ErrNoSuchProof    = errors.New("no such proof")
	ErrNotExists      = errors.New("proof does not exist")
	ErrNotOwner       = errors.New("not the proof owner")
)

var ErrInvalidMaxClaimLength = errors.New("max claim length must be positive")

// IsRejection reports whether err is a validation failure of a registry call
// as opposed to a storage fault.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrTooLong),
		errors.Is(err, ErrNoSuchProof),
		errors.Is(err, ErrNotExists),
		errors.Is(err, ErrNotOwner):
		return true
	default:
		return false
	}
}

// Package storeerr defines the tagged error taxonomy returned by the store.
package storeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a store failure. Callers branch on the kind rather than on
// concrete error types.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindNotStarted
	KindAlreadyExists
	KindLocked
	KindNotEnoughSpace
	KindStorageCorrupted
	KindNotFound
	KindMaybeInUse
	KindInvalidFraction
	KindUnableToCreateStorage
	KindStartFailure
	KindInvalidArgument
	KindIO
)

var kindNames = [...]string{
	KindUnknown:               "unknown",
	KindNotStarted:            "store not started",
	KindAlreadyExists:         "already exists",
	KindLocked:                "locked",
	KindNotEnoughSpace:        "not enough free space",
	KindStorageCorrupted:      "storage corrupted",
	KindNotFound:              "not found",
	KindMaybeInUse:            "maybe in use",
	KindInvalidFraction:       "fraction must be within [0, 1]",
	KindUnableToCreateStorage: "unable to create storage",
	KindStartFailure:          "start failure",
	KindInvalidArgument:       "invalid argument",
	KindIO:                    "i/o failure",
}

var kindCodes = [...]string{
	KindUnknown:               "unknown",
	KindNotStarted:            "not_started",
	KindAlreadyExists:         "already_exists",
	KindLocked:                "locked",
	KindNotEnoughSpace:        "not_enough_space",
	KindStorageCorrupted:      "storage_corrupted",
	KindNotFound:              "not_found",
	KindMaybeInUse:            "maybe_in_use",
	KindInvalidFraction:       "invalid_fraction",
	KindUnableToCreateStorage: "unable_to_create_storage",
	KindStartFailure:          "start_failure",
	KindInvalidArgument:       "invalid_argument",
	KindIO:                    "io",
}

// Code returns a stable snake_case identifier for k.
func (k Kind) Code() string {
	if k < 0 || int(k) >= len(kindCodes) {
		return "unknown"
	}
	return kindCodes[k]
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is a store failure tagged with a Kind.
type Error struct {
	Op   string // operation, e.g. "save"
	Key  string // caller key, if any
	Kind Kind
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := "filestore"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. Op, Key and the
// cause of target are ignored, so sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns an *Error for op and key wrapping cause.
func New(op, key string, kind Kind, cause error) *Error {
	return &Error{Op: op, Key: key, Kind: kind, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinels, one per kind, for use with errors.Is.
var (
	ErrNotStarted            = &Error{Kind: KindNotStarted}
	ErrAlreadyExists         = &Error{Kind: KindAlreadyExists}
	ErrLocked                = &Error{Kind: KindLocked}
	ErrNotEnoughSpace        = &Error{Kind: KindNotEnoughSpace}
	ErrStorageCorrupted      = &Error{Kind: KindStorageCorrupted}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrMaybeInUse            = &Error{Kind: KindMaybeInUse}
	ErrInvalidFraction       = &Error{Kind: KindInvalidFraction}
	ErrUnableToCreateStorage = &Error{Kind: KindUnableToCreateStorage}
	ErrStartFailure          = &Error{Kind: KindStartFailure}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
	ErrIO                    = &Error{Kind: KindIO}
)

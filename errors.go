package filestore

import "github.com/meigma/filestore/internal/storeerr"

// Error is the error type returned by Store operations.
type Error = storeerr.Error

// ErrorKind classifies an Error.
type ErrorKind = storeerr.Kind

// Error kinds re-exported from storeerr.
const (
	KindUnknown               = storeerr.KindUnknown
	KindNotStarted            = storeerr.KindNotStarted
	KindAlreadyExists         = storeerr.KindAlreadyExists
	KindLocked                = storeerr.KindLocked
	KindNotEnoughSpace        = storeerr.KindNotEnoughSpace
	KindStorageCorrupted      = storeerr.KindStorageCorrupted
	KindNotFound              = storeerr.KindNotFound
	KindMaybeInUse            = storeerr.KindMaybeInUse
	KindInvalidFraction       = storeerr.KindInvalidFraction
	KindUnableToCreateStorage = storeerr.KindUnableToCreateStorage
	KindStartFailure          = storeerr.KindStartFailure
	KindInvalidArgument       = storeerr.KindInvalidArgument
	KindIO                    = storeerr.KindIO
)

// Sentinel errors re-exported from storeerr. Each matches, via errors.Is,
// any Error of the same kind.
var (
	// ErrNotStarted is returned when an operation is attempted before Start
	// or after Stop.
	ErrNotStarted = storeerr.ErrNotStarted

	// ErrAlreadyExists is returned when saving a key that is already stored.
	ErrAlreadyExists = storeerr.ErrAlreadyExists

	// ErrLocked is returned when another writer is saving the same key.
	ErrLocked = storeerr.ErrLocked

	// ErrNotEnoughSpace is returned when a write would exceed capacity.
	ErrNotEnoughSpace = storeerr.ErrNotEnoughSpace

	// ErrStorageCorrupted is returned when the directory hierarchy is missing
	// or unwritable, or when stored content fails verification.
	ErrStorageCorrupted = storeerr.ErrStorageCorrupted

	// ErrNotFound is returned when a key is not stored or has expired.
	ErrNotFound = storeerr.ErrNotFound

	// ErrMaybeInUse is returned when a blob could not be deleted, likely
	// because it is open elsewhere or still being written.
	ErrMaybeInUse = storeerr.ErrMaybeInUse

	// ErrInvalidFraction is returned when a purge fraction is outside [0, 1].
	ErrInvalidFraction = storeerr.ErrInvalidFraction

	// ErrUnableToCreateStorage is returned by New when the root cannot be created.
	ErrUnableToCreateStorage = storeerr.ErrUnableToCreateStorage

	// ErrStartFailure is returned by Start when the store cannot be initialized.
	ErrStartFailure = storeerr.ErrStartFailure

	// ErrInvalidArgument is returned for empty keys, negative lifetimes and
	// invalid configuration.
	ErrInvalidArgument = storeerr.ErrInvalidArgument

	// ErrIO is returned for read or write failures not covered by another kind.
	ErrIO = storeerr.ErrIO
)

// KindOf returns the kind of err, or KindUnknown if err is not an Error.
func KindOf(err error) ErrorKind {
	return storeerr.KindOf(err)
}

package errs

import "fmt"

var (
	ErrNotFound    = fmt.Errorf("not found")
	ErrConflict    = fmt.Errorf("conflict")
	ErrFenced      = fmt.Errorf("fenced")
	ErrExpired     = fmt.Errorf("expired")
	ErrUnavailable = fmt.Errorf("unavailable")
	ErrEmpty       = fmt.Errorf("empty")
)

func NewErrNotFound(kind string) error {
	return fmt.Errorf("%s %w", kind, ErrNotFound)
}

// NewErrConflict signals an optimistic-concurrency race on a record.
// Callers re-read the record and retry a bounded number of times.
func NewErrConflict(kind string) error {
	return fmt.Errorf("%s %w", kind, ErrConflict)
}

// NewErrFenced signals that the supplied lease id no longer matches the
// active lease. The caller must treat its result as irrelevant, not retry.
func NewErrFenced(kind string) error {
	return fmt.Errorf("%s %w", kind, ErrFenced)
}

func NewErrExpired(kind string) error {
	return fmt.Errorf("%s %w", kind, ErrExpired)
}

func NewErrUnavailable(kind string) error {
	return fmt.Errorf("%s %w", kind, ErrUnavailable)
}

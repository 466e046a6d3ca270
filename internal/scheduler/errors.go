package scheduler

import (
	"errors"

	errs "schedq/internal/errors"
)

func isConflict(err error) bool {
	return errors.Is(err, errs.ErrConflict)
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}

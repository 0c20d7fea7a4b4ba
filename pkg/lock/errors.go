package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/spike-events/spike-directory/pkg/models"
)

var (
	// ErrConflict reports that another principal holds the lock. Errors
	// matching it are *ConflictError values.
	ErrConflict = errors.New("lock: held by another principal")

	// ErrNotFound reports that no lock exists for the requested pair.
	ErrNotFound = errors.New("lock: not found")

	// ErrConstraintViolation reports a lost race against the unique
	// (object, object_id) index.
	ErrConstraintViolation = errors.New("lock: unique constraint violation")

	// ErrInvalidArgument reports a malformed request, such as a zero TTL.
	ErrInvalidArgument = errors.New("lock: invalid argument")
)

// ConflictError carries the lock that blocked a mutation and, when the
// directory knows it, the user holding it.
type ConflictError struct {
	Lock   models.Lock
	Holder *models.User
}

func (e *ConflictError) Error() string {
	if e.Lock.HolderUID == "" {
		return fmt.Sprintf("lock: %s/%d is locked", e.Lock.Object, e.Lock.ObjectID)
	}
	return fmt.Sprintf("lock: %s/%d is held by %s since %s",
		e.Lock.Object, e.Lock.ObjectID, e.Lock.HolderUID, e.Lock.CreatedAt.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

package store

import (
	"errors"
	"fmt"
)

// ErrPersistence matches every *PersistenceError.
var ErrPersistence = errors.New("persistence failure")

// PersistenceError reports a failed durable write. The in-memory state is
// left exactly as it was before the failed operation.
type PersistenceError struct {
	Op     string
	Driver string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.Driver, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

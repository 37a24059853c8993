package storage

import "fmt"

// ErrNotFound reports that a backend holds no object at the requested
// path. Callers probe for it with errors.As; the inner error keeps the
// backend-specific cause.
type ErrNotFound struct {
	Inner error
	Path  string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("backend has no object at %s", e.Path)
}

func (e *ErrNotFound) Unwrap() error {
	return e.Inner
}

// ErrAlreadyExists reports that a rename-without-replace found its
// destination already occupied. The commit protocol relies on it to
// detect version collisions.
type ErrAlreadyExists struct {
	Inner error
	Path  string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("backend already holds an object at %s", e.Path)
}

func (e *ErrAlreadyExists) Unwrap() error {
	return e.Inner
}

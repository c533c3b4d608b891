package core

import "fmt"

// ValidationError reports a request the service refuses before touching the datastore.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError is returned when no row matched the requested id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// ConflictError wraps a uniqueness violation raised by the datastore.
type ConflictError struct {
	Resource string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with this ID already exists", e.Resource)
}

func (e *ConflictError) Unwrap() error { return e.Err }

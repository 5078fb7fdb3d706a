package repository

import "errors"

// ErrNotFound indicates an entity was not located inside the caller's scope.
// Rows owned by another tenant surface as this same error.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates the storage layer rejected the input.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrConflict indicates a write violated a state invariant, e.g. a second
// terminal transition on an agent run.
var ErrConflict = errors.New("repository: conflict")

// ErrTenantBinding indicates the tenant identity could not be bound to the
// unit of work. No storage operation ran.
var ErrTenantBinding = errors.New("repository: tenant binding failed")

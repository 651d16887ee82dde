// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden indicates a cross-tenant access attempt.
var ErrForbidden = errors.New("forbidden: entity belongs to another tenant")

// ErrConflict indicates the entity is not in a state that permits the operation.
var ErrConflict = errors.New("conflict: invalid state transition")

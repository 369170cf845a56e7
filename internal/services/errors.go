package services

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing scheme, submission, criterion or job.
type NotFoundError struct {
	Resource string
	ID       interface{}
}

func NewNotFoundError(resource string, id interface{}) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

// StateError reports an operation against an object in the wrong state, e.g.
// completing a submission with unevaluated criteria.
type StateError struct {
	Resource string
	ID       interface{}
	Message  string
}

func NewStateError(resource string, id interface{}, message string) *StateError {
	return &StateError{Resource: resource, ID: id, Message: message}
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Resource, e.ID, e.Message)
}

// ConflictError reports a structural conflict, e.g. deleting a scheme that
// active submissions still reference. Optimistic-version mismatches are NOT
// errors; they are typed outcomes on the write results.
type ConflictError struct {
	Resource string
	ID       interface{}
	Message  string
}

func NewConflictError(resource string, id interface{}, message string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Message: message}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Resource, e.ID, e.Message)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsStateError(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}

func IsConflictError(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

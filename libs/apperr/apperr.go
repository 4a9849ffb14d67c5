// Package apperr is the error taxonomy shared by the booking and scheduler
// services. Callers detect a category with errors.As; HTTPStatus maps it to a
// response code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError is malformed or incomplete caller input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError is a request that is well formed but not allowed in the
// entity's current state.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(msg string) error {
	return &ConflictError{Msg: msg}
}

// StoreError wraps a failure of the underlying data store.
type StoreError struct {
	Op       string
	EntityID string
	Err      error
}

func (e *StoreError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func Store(op, entityID string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, EntityID: entityID, Err: err}
}

// PartialWriteError means the appointment was persisted but some of its
// notifications were not.
type PartialWriteError struct {
	AppointmentID string
	Err           error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("appointment %s saved without reminders: %v", e.AppointmentID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// TransportError is a failed or timed-out outbound send.
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport timeout: %v", e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
		transport  *TransportError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to an HTTP caller. Store details
// stay in the logs.
func PublicMessage(err error) string {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
		partial    *PartialWriteError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &conflict):
		return conflict.Error()
	case errors.As(err, &partial):
		return "appointment " + partial.AppointmentID + " saved but reminders could not be scheduled"
	default:
		return "internal error"
	}
}

package services

import (
	"errors"
	"fmt"

	"github.com/ruralpay/payqueue/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	// ErrInsufficientFunds is recorded on the transaction as a terminal outcome. Operations
	// report it through Outcome rather than as a returned error.
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrDuplicateOperation = errors.New("operation already in progress")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrAlreadyExists      = errors.New("already exists")
)

// StateError describes a transition attempted from the wrong status.
type StateError struct {
	ID     string
	Status models.Status
	Op     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s transaction %s in status %s", e.Op, e.ID, e.Status)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func stateError(txn *models.Transaction, op string) error {
	return &StateError{ID: txn.ID, Status: txn.Status, Op: op}
}

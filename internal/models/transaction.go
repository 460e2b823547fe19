package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Urgency is the requester-declared class of a transfer.
type Urgency string

const (
	UrgencyNormal  Urgency = "NORMAL"
	UrgencyEMI     Urgency = "EMI"
	UrgencyMedical Urgency = "MEDICAL"
)

// ParseUrgency normalizes case and rejects unknown classes.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToUpper(strings.TrimSpace(s)))
	switch u {
	case UrgencyNormal, UrgencyEMI, UrgencyMedical:
		return u, nil
	case "":
		return UrgencyNormal, nil
	}
	return "", fmt.Errorf("unknown urgency %q", s)
}

// Status is a transfer state.
type Status string

const (
	StatusCreated       Status = "CREATED"
	StatusLocked        Status = "LOCKED"
	StatusQueued        Status = "QUEUED"
	StatusPendingManual Status = "PENDING_MANUAL"
	StatusReserved      Status = "RESERVED"
	StatusCompleted     Status = "COMPLETED"
	StatusFailed        Status = "FAILED"
	StatusCancelled     Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Eligible reports whether the transfer may be reserved.
func (s Status) Eligible() bool {
	return s == StatusQueued || s == StatusPendingManual
}

// Transaction is a transfer request and its lifecycle. Rows are kept forever.
type Transaction struct {
	ID                string          `json:"id" db:"id"`
	FromAccountID     string          `json:"from_account_id" db:"from_account_id"`
	ToAccountID       string          `json:"to_account_id" db:"to_account_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Urgency           Urgency         `json:"urgency" db:"urgency"`
	Status            Status          `json:"status" db:"status"`
	BasePriority      float64         `json:"base_priority" db:"base_priority"`
	EffectivePriority *float64        `json:"effective_priority,omitempty" db:"effective_priority"`
	UnlockAt          *time.Time      `json:"unlock_at,omitempty" db:"unlock_at"`
	FailureReason     *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	ReservedAt        *time.Time      `json:"reserved_at,omitempty" db:"reserved_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// HoldsFunds reports whether a reservation is outstanding for this transfer.
func (t *Transaction) HoldsFunds() bool {
	return t.Status == StatusReserved
}

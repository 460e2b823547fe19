package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a balance-affecting event.
type EntryType string

const (
	EntryReserve EntryType = "RESERVE"
	EntryRelease EntryType = "RELEASE"
	EntryDebit   EntryType = "DEBIT"
	EntryCredit  EntryType = "CREDIT"
)

// LedgerEntry is a write-once audit record. BalanceAfter and ReservedAfter are the
// account snapshot right after the event was applied.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	EntryType     EntryType       `json:"entry_type" db:"entry_type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	ReservedAfter decimal.Decimal `json:"reserved_after" db:"reserved_after"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

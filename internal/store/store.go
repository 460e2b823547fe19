// Package store persists accounts, transactions and ledger entries. Every balance
// change goes through InTx so row locks and the writes share one database transaction.
package store

import (
	"context"
	"errors"

	"github.com/ruralpay/payqueue/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when inserting an id that already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict means an account row changed between read and write.
	ErrConflict = errors.New("optimistic lock failed")
)

var pendingStatuses = []models.Status{models.StatusQueued, models.StatusPendingManual, models.StatusReserved}

// Mutation is the complete set of writes for one state transition. Account rows carry
// the version they were read at; Apply bumps it.
type Mutation struct {
	Accounts    []models.Account
	Transaction *models.Transaction
	Entries     []models.LedgerEntry
}

// Empty reports whether applying m would write nothing.
func (m Mutation) Empty() bool {
	return len(m.Accounts) == 0 && m.Transaction == nil && len(m.Entries) == 0
}

// Store is implemented by Postgres and Memory.
type Store interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// ListByStatus returns matching transactions oldest first.
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Transaction, error)
	// NextPending returns the QUEUED, PENDING_MANUAL or RESERVED transaction with the
	// highest base priority, oldest first among equals.
	NextPending(ctx context.Context) (*models.Transaction, error)
	LedgerEntries(ctx context.Context, transactionID string) ([]models.LedgerEntry, error)
	// InTx runs fn inside one transaction. Returning an error from fn discards every
	// write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the locked view handed to InTx callbacks.
type Tx interface {
	LockTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// LockAccounts locks the rows in ascending id order regardless of argument order.
	LockAccounts(ctx context.Context, ids ...string) (map[string]*models.Account, error)
	Apply(ctx context.Context, m Mutation) error
}

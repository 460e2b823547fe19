package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/payqueue/internal/models"
	"github.com/ruralpay/payqueue/internal/store"
	"github.com/shopspring/decimal"
)

// The planners below are pure: they take the locked rows and return the writes. Callers
// own locking and Apply. Ledger amounts are signed by their effect on the column they
// move (reserved for RESERVE/RELEASE, balance for DEBIT/CREDIT).

const reasonInsufficientBalance = "insufficient balance"

var newEntryID = func() string { return uuid.NewString() }

func entry(txn *models.Transaction, account models.Account, kind models.EntryType, amount decimal.Decimal, now time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID:            newEntryID(),
		TransactionID: txn.ID,
		AccountID:     account.ID,
		EntryType:     kind,
		Amount:        amount,
		BalanceAfter:  account.Balance,
		ReservedAfter: account.ReservedAmount,
		CreatedAt:     now,
	}
}

// PlanReserve earmarks the amount on the source account. It returns ErrInsufficientFunds
// when balance - reserved - minimum would not cover the amount.
func PlanReserve(txn models.Transaction, from models.Account, minimum decimal.Decimal, now time.Time) (store.Mutation, error) {
	if !txn.Status.Eligible() {
		return store.Mutation{}, stateError(&txn, "reserve")
	}
	if from.ID != txn.FromAccountID {
		return store.Mutation{}, fmt.Errorf("reserve %s: account %s is not the source", txn.ID, from.ID)
	}
	if from.Available(minimum).LessThan(txn.Amount) {
		return store.Mutation{}, fmt.Errorf("reserve %s: available %s < %s: %w",
			txn.ID, from.Available(minimum), txn.Amount, ErrInsufficientFunds)
	}

	from.ReservedAmount = from.ReservedAmount.Add(txn.Amount)

	txn.Status = models.StatusReserved
	txn.ReservedAt = &now
	txn.UpdatedAt = now

	return store.Mutation{
		Accounts:    []models.Account{from},
		Transaction: &txn,
		Entries:     []models.LedgerEntry{entry(&txn, from, models.EntryReserve, txn.Amount, now)},
	}, nil
}

// PlanFinalize moves reserved funds from source to destination.
func PlanFinalize(txn models.Transaction, from, to models.Account, now time.Time) (store.Mutation, error) {
	if txn.Status != models.StatusReserved {
		return store.Mutation{}, stateError(&txn, "finalize")
	}
	if from.ID != txn.FromAccountID || to.ID != txn.ToAccountID {
		return store.Mutation{}, fmt.Errorf("finalize %s: accounts do not match transaction", txn.ID)
	}
	if from.ReservedAmount.LessThan(txn.Amount) {
		return store.Mutation{}, fmt.Errorf("finalize %s: reserved %s < %s on account %s",
			txn.ID, from.ReservedAmount, txn.Amount, from.ID)
	}

	from.Balance = from.Balance.Sub(txn.Amount)
	from.ReservedAmount = from.ReservedAmount.Sub(txn.Amount)
	to.Balance = to.Balance.Add(txn.Amount)

	txn.Status = models.StatusCompleted
	txn.CompletedAt = &now
	txn.EffectivePriority = nil
	txn.UpdatedAt = now

	return store.Mutation{
		Accounts:    []models.Account{from, to},
		Transaction: &txn,
		Entries: []models.LedgerEntry{
			entry(&txn, from, models.EntryDebit, txn.Amount.Neg(), now),
			entry(&txn, to, models.EntryCredit, txn.Amount, now),
		},
	}, nil
}

// PlanRollback moves a non-terminal transaction to FAILED or CANCELLED. from is only
// read when the transaction holds a reservation and may be nil otherwise.
func PlanRollback(txn models.Transaction, from *models.Account, status models.Status, reason string, now time.Time) (store.Mutation, error) {
	if status != models.StatusFailed && status != models.StatusCancelled {
		return store.Mutation{}, fmt.Errorf("rollback %s: %s is not a rollback status", txn.ID, status)
	}
	if txn.Status.Terminal() {
		return store.Mutation{}, stateError(&txn, "roll back")
	}

	var m store.Mutation
	if txn.HoldsFunds() {
		if from == nil || from.ID != txn.FromAccountID {
			return store.Mutation{}, fmt.Errorf("rollback %s: source account required to release funds", txn.ID)
		}
		if from.ReservedAmount.LessThan(txn.Amount) {
			return store.Mutation{}, fmt.Errorf("rollback %s: reserved %s < %s on account %s",
				txn.ID, from.ReservedAmount, txn.Amount, from.ID)
		}
		released := *from
		released.ReservedAmount = released.ReservedAmount.Sub(txn.Amount)
		m.Accounts = []models.Account{released}
		m.Entries = []models.LedgerEntry{entry(&txn, released, models.EntryRelease, txn.Amount.Neg(), now)}
	}

	txn.Status = status
	txn.FailureReason = &reason
	txn.EffectivePriority = nil
	txn.UpdatedAt = now
	m.Transaction = &txn
	return m, nil
}

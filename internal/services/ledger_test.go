package services

import (
	"testing"
	"time"

	"github.com/ruralpay/payqueue/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planFixtures() (models.Transaction, models.Account, models.Account) {
	txn := models.Transaction{
		ID:            "tx-1",
		FromAccountID: "account1",
		ToAccountID:   "account2",
		Amount:        decimal.NewFromInt(1000),
		Status:        models.StatusQueued,
	}
	from := models.Account{ID: "account1", Balance: decimal.NewFromInt(5000), Tier: models.TierBasic, Version: 1}
	to := models.Account{ID: "account2", Balance: decimal.NewFromInt(2000), Tier: models.TierBasic, Version: 3}
	return txn, from, to
}

func TestPlanReserve(t *testing.T) {
	now := time.Now()

	t.Run("successful reservation", func(t *testing.T) {
		txn, from, _ := planFixtures()
		m, err := PlanReserve(txn, from, decimal.NewFromInt(100), now)
		require.NoError(t, err)

		require.Len(t, m.Accounts, 1)
		assert.True(t, decimal.NewFromInt(1000).Equal(m.Accounts[0].ReservedAmount))
		assert.True(t, decimal.NewFromInt(5000).Equal(m.Accounts[0].Balance))
		assert.Equal(t, 1, m.Accounts[0].Version)

		assert.Equal(t, models.StatusReserved, m.Transaction.Status)
		assert.Equal(t, now, *m.Transaction.ReservedAt)

		require.Len(t, m.Entries, 1)
		assert.Equal(t, models.EntryReserve, m.Entries[0].EntryType)
		assert.True(t, decimal.NewFromInt(1000).Equal(m.Entries[0].ReservedAfter))
	})

	t.Run("exactly the available amount", func(t *testing.T) {
		txn, from, _ := planFixtures()
		from.Balance = decimal.NewFromInt(1100)
		_, err := PlanReserve(txn, from, decimal.NewFromInt(100), now)
		assert.NoError(t, err)
	})

	t.Run("insufficient balance counts reserved and floor", func(t *testing.T) {
		txn, from, _ := planFixtures()
		from.ReservedAmount = decimal.NewFromInt(3950)
		_, err := PlanReserve(txn, from, decimal.NewFromInt(100), now)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Contains(t, err.Error(), "insufficient balance")
	})

	t.Run("wrong status", func(t *testing.T) {
		txn, from, _ := planFixtures()
		txn.Status = models.StatusLocked
		_, err := PlanReserve(txn, from, decimal.Zero, now)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestPlanFinalize(t *testing.T) {
	now := time.Now()

	t.Run("successful transfer", func(t *testing.T) {
		txn, from, to := planFixtures()
		txn.Status = models.StatusReserved
		from.ReservedAmount = decimal.NewFromInt(1000)

		m, err := PlanFinalize(txn, from, to, now)
		require.NoError(t, err)

		require.Len(t, m.Accounts, 2)
		assert.True(t, decimal.NewFromInt(4000).Equal(m.Accounts[0].Balance))
		assert.True(t, m.Accounts[0].ReservedAmount.IsZero())
		assert.True(t, decimal.NewFromInt(3000).Equal(m.Accounts[1].Balance))

		require.Len(t, m.Entries, 2)
		assert.Equal(t, models.EntryDebit, m.Entries[0].EntryType)
		assert.True(t, decimal.NewFromInt(-1000).Equal(m.Entries[0].Amount))
		assert.True(t, decimal.NewFromInt(4000).Equal(m.Entries[0].BalanceAfter))
		assert.Equal(t, models.EntryCredit, m.Entries[1].EntryType)
		assert.True(t, decimal.NewFromInt(3000).Equal(m.Entries[1].BalanceAfter))

		assert.Equal(t, models.StatusCompleted, m.Transaction.Status)
		assert.Nil(t, m.Transaction.EffectivePriority)
	})

	t.Run("not reserved", func(t *testing.T) {
		txn, from, to := planFixtures()
		_, err := PlanFinalize(txn, from, to, now)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("already completed", func(t *testing.T) {
		txn, from, to := planFixtures()
		txn.Status = models.StatusCompleted
		_, err := PlanFinalize(txn, from, to, now)
		var stateErr *StateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, "finalize", stateErr.Op)
	})

	t.Run("reservation missing on the account", func(t *testing.T) {
		txn, from, to := planFixtures()
		txn.Status = models.StatusReserved
		_, err := PlanFinalize(txn, from, to, now)
		assert.Error(t, err)
	})
}

func TestPlanRollback(t *testing.T) {
	now := time.Now()

	t.Run("releases a reservation", func(t *testing.T) {
		txn, from, _ := planFixtures()
		txn.Status = models.StatusReserved
		from.ReservedAmount = decimal.NewFromInt(1000)

		m, err := PlanRollback(txn, &from, models.StatusCancelled, "cancelled by operator", now)
		require.NoError(t, err)
		require.Len(t, m.Accounts, 1)
		assert.True(t, m.Accounts[0].ReservedAmount.IsZero())
		require.Len(t, m.Entries, 1)
		assert.Equal(t, models.EntryRelease, m.Entries[0].EntryType)
		assert.Equal(t, models.StatusCancelled, m.Transaction.Status)
		assert.Equal(t, "cancelled by operator", *m.Transaction.FailureReason)
	})

	t.Run("reservation smaller than the amount", func(t *testing.T) {
		txn, from, _ := planFixtures()
		txn.Status = models.StatusReserved
		from.ReservedAmount = txn.Amount.Sub(decimal.NewFromInt(1))

		m, err := PlanRollback(txn, &from, models.StatusFailed, "operator", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reserved")
		assert.Nil(t, m.Transaction)
		assert.Empty(t, m.Entries)
	})

	t.Run("nothing to release before reservation", func(t *testing.T) {
		txn, _, _ := planFixtures()
		m, err := PlanRollback(txn, nil, models.StatusFailed, "insufficient balance", now)
		require.NoError(t, err)
		assert.Empty(t, m.Accounts)
		assert.Empty(t, m.Entries)
		assert.Equal(t, models.StatusFailed, m.Transaction.Status)
	})

	t.Run("terminal transaction", func(t *testing.T) {
		txn, _, _ := planFixtures()
		txn.Status = models.StatusCancelled
		_, err := PlanRollback(txn, nil, models.StatusCancelled, "again", now)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("not a rollback status", func(t *testing.T) {
		txn, _, _ := planFixtures()
		_, err := PlanRollback(txn, nil, models.StatusCompleted, "", now)
		assert.Error(t, err)
	})
}

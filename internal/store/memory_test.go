package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruralpay/payqueue/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	s := NewMemory()
	now := time.Now()
	for _, id := range []string{"acc-1", "acc-2"} {
		require.NoError(t, s.CreateAccount(context.Background(), &models.Account{
			ID: id, Balance: decimal.NewFromInt(1000), Tier: models.TierBasic, CreatedAt: now, UpdatedAt: now,
		}))
	}
	return s
}

func TestMemory_Accounts(t *testing.T) {
	ctx := context.Background()
	s := seedMemory(t)

	err := s.CreateAccount(ctx, &models.Account{ID: "acc-1"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetAccount(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	account, err := s.GetAccount(ctx, "acc-2")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(account.Balance))
}

func TestMemory_Transactions(t *testing.T) {
	ctx := context.Background()
	s := seedMemory(t)
	base := time.Now()

	add := func(id string, status models.Status, priority float64, offset time.Duration) {
		require.NoError(t, s.CreateTransaction(ctx, &models.Transaction{
			ID: id, FromAccountID: "acc-1", ToAccountID: "acc-2", Amount: decimal.NewFromInt(1),
			Status: status, BasePriority: priority, CreatedAt: base.Add(offset),
		}))
	}
	add("old-low", models.StatusQueued, 2, 0)
	add("new-high", models.StatusPendingManual, 8, 2*time.Second)
	add("old-high", models.StatusQueued, 8, time.Second)
	add("locked", models.StatusLocked, 20, 0)

	t.Run("duplicate", func(t *testing.T) {
		err := s.CreateTransaction(ctx, &models.Transaction{ID: "old-low", FromAccountID: "acc-1", ToAccountID: "acc-2"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("unknown account", func(t *testing.T) {
		err := s.CreateTransaction(ctx, &models.Transaction{ID: "x", FromAccountID: "acc-1", ToAccountID: "ghost"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("next pending prefers priority then age", func(t *testing.T) {
		txn, err := s.NextPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, "old-high", txn.ID)
	})

	t.Run("list by status is oldest first", func(t *testing.T) {
		list, err := s.ListByStatus(ctx, models.StatusQueued, models.StatusPendingManual)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"old-low", "old-high", "new-high"},
			[]string{list[0].ID, list[1].ID, list[2].ID})
	})
}

func TestMemory_InTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit publishes staged writes", func(t *testing.T) {
		s := seedMemory(t)
		require.NoError(t, s.CreateTransaction(ctx, &models.Transaction{
			ID: "tx-1", FromAccountID: "acc-1", ToAccountID: "acc-2", Status: models.StatusQueued,
		}))

		err := s.InTx(ctx, func(tx Tx) error {
			accounts, err := tx.LockAccounts(ctx, "acc-1")
			if err != nil {
				return err
			}
			from := *accounts["acc-1"]
			from.ReservedAmount = decimal.NewFromInt(10)
			if err := tx.Apply(ctx, Mutation{
				Accounts:    []models.Account{from},
				Transaction: &models.Transaction{ID: "tx-1", Status: models.StatusReserved},
				Entries:     []models.LedgerEntry{{ID: "le-1", TransactionID: "tx-1", EntryType: models.EntryReserve}},
			}); err != nil {
				return err
			}

			// staged rows are visible inside the same transaction
			again, err := tx.LockAccounts(ctx, "acc-1")
			if err != nil {
				return err
			}
			assert.Equal(t, 1, again["acc-1"].Version)
			return nil
		})
		require.NoError(t, err)

		account, _ := s.GetAccount(ctx, "acc-1")
		assert.True(t, decimal.NewFromInt(10).Equal(account.ReservedAmount))
		txn, _ := s.GetTransaction(ctx, "tx-1")
		assert.Equal(t, models.StatusReserved, txn.Status)
		entries, _ := s.LedgerEntries(ctx, "tx-1")
		assert.Len(t, entries, 1)
	})

	t.Run("error discards staged writes", func(t *testing.T) {
		s := seedMemory(t)
		boom := errors.New("boom")

		err := s.InTx(ctx, func(tx Tx) error {
			accounts, _ := tx.LockAccounts(ctx, "acc-1")
			from := *accounts["acc-1"]
			from.Balance = decimal.Zero
			if err := tx.Apply(ctx, Mutation{Accounts: []models.Account{from}}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		account, _ := s.GetAccount(ctx, "acc-1")
		assert.True(t, decimal.NewFromInt(1000).Equal(account.Balance))
		assert.Equal(t, 0, account.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		s := seedMemory(t)
		err := s.InTx(ctx, func(tx Tx) error {
			return tx.Apply(ctx, Mutation{Accounts: []models.Account{{ID: "acc-1", Version: 7}}})
		})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

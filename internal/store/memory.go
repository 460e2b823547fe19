package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/payqueue/internal/models"
)

// Memory keeps everything in process. InTx holds a store-wide lock for the whole
// callback, which is coarser than row locks but gives the same isolation. Callbacks
// must not call back into the Store itself.
type Memory struct {
	mu           sync.Mutex
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	entries      []models.LedgerEntry
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]models.Account),
		transactions: make(map[string]models.Transaction),
	}
}

func cloneTransaction(t models.Transaction) models.Transaction {
	if t.EffectivePriority != nil {
		v := *t.EffectivePriority
		t.EffectivePriority = &v
	}
	t.UnlockAt = cloneTime(t.UnlockAt)
	t.ReservedAt = cloneTime(t.ReservedAt)
	t.CompletedAt = cloneTime(t.CompletedAt)
	if t.FailureReason != nil {
		v := *t.FailureReason
		t.FailureReason = &v
	}
	return t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (s *Memory) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("account %s: %w", account.ID, ErrDuplicate)
	}
	s.accounts[account.ID] = *account
	return nil
}

func (s *Memory) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return &account, nil
}

func (s *Memory) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[txn.ID]; ok {
		return fmt.Errorf("transaction %s: %w", txn.ID, ErrDuplicate)
	}
	for _, id := range []string{txn.FromAccountID, txn.ToAccountID} {
		if _, ok := s.accounts[id]; !ok {
			return fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
	}
	s.transactions[txn.ID] = cloneTransaction(*txn)
	return nil
}

func (s *Memory) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	txn = cloneTransaction(txn)
	return &txn, nil
}

func (s *Memory) ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[models.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []models.Transaction
	for _, txn := range s.transactions {
		if wanted[txn.Status] {
			out = append(out, cloneTransaction(txn))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) NextPending(ctx context.Context) (*models.Transaction, error) {
	pending, err := s.ListByStatus(ctx, pendingStatuses...)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("pending transaction: %w", ErrNotFound)
	}
	// pending is oldest first, so a stable sort on priority keeps the age tie-break.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].BasePriority > pending[j].BasePriority
	})
	return &pending[0], nil
}

func (s *Memory) LedgerEntries(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:        s,
		accounts:     make(map[string]models.Account),
		transactions: make(map[string]models.Transaction),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, account := range tx.accounts {
		s.accounts[id] = account
	}
	for id, txn := range tx.transactions {
		s.transactions[id] = txn
	}
	s.entries = append(s.entries, tx.entries...)
	return nil
}

// memTx stages writes until the callback returns. Reads see staged rows first.
type memTx struct {
	store        *Memory
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	entries      []models.LedgerEntry
}

func (t *memTx) account(id string) (models.Account, bool) {
	if account, ok := t.accounts[id]; ok {
		return account, true
	}
	account, ok := t.store.accounts[id]
	return account, ok
}

func (t *memTx) transaction(id string) (models.Transaction, bool) {
	if txn, ok := t.transactions[id]; ok {
		return txn, true
	}
	txn, ok := t.store.transactions[id]
	return txn, ok
}

func (t *memTx) LockTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txn, ok := t.transaction(id)
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	txn = cloneTransaction(txn)
	return &txn, nil
}

func (t *memTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*models.Account, error) {
	locked := make(map[string]*models.Account, len(ids))
	for _, id := range sortedUnique(ids) {
		account, ok := t.account(id)
		if !ok {
			return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		locked[id] = &account
	}
	return locked, nil
}

func (t *memTx) Apply(ctx context.Context, m Mutation) error {
	now := time.Now().UTC()
	for _, account := range m.Accounts {
		current, ok := t.account(account.ID)
		if !ok || current.Version != account.Version {
			return fmt.Errorf("account %s: %w", account.ID, ErrConflict)
		}
		account.Version++
		account.UpdatedAt = now
		t.accounts[account.ID] = account
	}
	if m.Transaction != nil {
		if _, ok := t.transaction(m.Transaction.ID); !ok {
			return fmt.Errorf("transaction %s: %w", m.Transaction.ID, ErrNotFound)
		}
		t.transactions[m.Transaction.ID] = cloneTransaction(*m.Transaction)
	}
	t.entries = append(t.entries, m.Entries...)
	return nil
}

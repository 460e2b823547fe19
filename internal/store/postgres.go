package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/payqueue/internal/models"
)

const (
	accountColumns     = "id, balance, reserved_amount, tier, risk_score, version, created_at, updated_at"
	transactionColumns = "id, from_account_id, to_account_id, amount, urgency, status, base_priority, " +
		"effective_priority, unlock_at, failure_reason, created_at, reserved_at, completed_at, updated_at"
	ledgerColumns = "id, transaction_id, account_id, entry_type, amount, balance_after, reserved_after, created_at"

	uniqueViolation = "23505"
)

// Postgres is the database/sql store backed by lib/pq.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account models.Account
		tier    string
	)
	err := row.Scan(&account.ID, &account.Balance, &account.ReservedAmount, &tier,
		&account.RiskScore, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if account.Tier, err = models.ParseTier(tier); err != nil {
		return nil, fmt.Errorf("account %s: %w", account.ID, err)
	}
	return &account, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var txn models.Transaction
	err := row.Scan(&txn.ID, &txn.FromAccountID, &txn.ToAccountID, &txn.Amount, &txn.Urgency,
		&txn.Status, &txn.BasePriority, &txn.EffectivePriority, &txn.UnlockAt, &txn.FailureReason,
		&txn.CreatedAt, &txn.ReservedAt, &txn.CompletedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}

func (s *Postgres) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.Balance, account.ReservedAmount, account.Tier.String(),
		account.RiskScore, account.Version, account.CreatedAt, account.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", account.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return account, nil
}

func (s *Postgres) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		txn.ID, txn.FromAccountID, txn.ToAccountID, txn.Amount, txn.Urgency, txn.Status,
		txn.BasePriority, txn.EffectivePriority, txn.UnlockAt, txn.FailureReason,
		txn.CreatedAt, txn.ReservedAt, txn.CompletedAt, txn.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", txn.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return getTransaction(ctx, s.db, id, "")
}

func getTransaction(ctx context.Context, q queryer, id, suffix string) (*models.Transaction, error) {
	txn, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`+suffix, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return txn, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s *Postgres) ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = ANY($1)
		ORDER BY created_at, id`, pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

func (s *Postgres) NextPending(ctx context.Context) (*models.Transaction, error) {
	txn, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = ANY($1)
		ORDER BY base_priority DESC, created_at ASC, id ASC
		LIMIT 1`,
		pq.Array(statusStrings(pendingStatuses))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending transaction: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transaction: %w", err)
	}
	return txn, nil
}

func (s *Postgres) LedgerEntries(ctx context.Context, transactionID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY seq`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.EntryType, &e.Amount,
			&e.BalanceAfter, &e.ReservedAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, id, " FOR UPDATE")
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...string) (map[string]*models.Account, error) {
	// Lock accounts in consistent order to prevent deadlocks
	ordered := sortedUnique(ids)
	locked := make(map[string]*models.Account, len(ordered))
	for _, id := range ordered {
		account, err := scanAccount(t.tx.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return nil, notFound(err, "account", id)
		}
		locked[id] = account
	}
	return locked, nil
}

func (t *pgTx) Apply(ctx context.Context, m Mutation) error {
	now := time.Now().UTC()
	for _, account := range m.Accounts {
		result, err := t.tx.ExecContext(ctx, `
			UPDATE accounts
			SET balance = $1, reserved_amount = $2, version = version + 1, updated_at = $3
			WHERE id = $4 AND version = $5`,
			account.Balance, account.ReservedAmount, now, account.ID, account.Version)
		if err != nil {
			return fmt.Errorf("failed to update account %s: %w", account.ID, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return fmt.Errorf("account %s: %w", account.ID, ErrConflict)
		}
	}

	if txn := m.Transaction; txn != nil {
		result, err := t.tx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $1, effective_priority = $2, unlock_at = $3, failure_reason = $4,
				reserved_at = $5, completed_at = $6, updated_at = $7
			WHERE id = $8`,
			txn.Status, txn.EffectivePriority, txn.UnlockAt, txn.FailureReason,
			txn.ReservedAt, txn.CompletedAt, txn.UpdatedAt, txn.ID)
		if err != nil {
			return fmt.Errorf("failed to update transaction %s: %w", txn.ID, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return fmt.Errorf("transaction %s: %w", txn.ID, ErrNotFound)
		}
	}

	for _, e := range m.Entries {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+ledgerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.TransactionID, e.AccountID, e.EntryType, e.Amount,
			e.BalanceAfter, e.ReservedAfter, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

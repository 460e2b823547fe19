package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/payqueue/internal/config"
	"github.com/ruralpay/payqueue/internal/metrics"
	"github.com/ruralpay/payqueue/internal/models"
	"github.com/ruralpay/payqueue/internal/notify"
	"github.com/ruralpay/payqueue/internal/priority"
	"github.com/ruralpay/payqueue/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxStaleSkips bounds how many stale queue heads ProcessNext discards in one call.
const maxStaleSkips = 16

// Notifier receives committed transitions.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Event) {}

// TransferConfig holds the admission and reservation rules.
type TransferConfig struct {
	Threshold    decimal.Decimal
	HoldDuration time.Duration
	Minimums     map[models.Tier]decimal.Decimal
}

// NewTransferConfig converts the loaded configuration. Unknown tier names are rejected.
func NewTransferConfig(cfg *config.Config) (TransferConfig, error) {
	minimums := make(map[models.Tier]decimal.Decimal, len(cfg.Reserve.Minimums))
	for name, amount := range cfg.Reserve.Minimums {
		tier, err := models.ParseTier(name)
		if err != nil {
			return TransferConfig{}, fmt.Errorf("reserve.minimums: %w", err)
		}
		minimums[tier] = amount
	}
	return TransferConfig{
		Threshold:    cfg.TimeLock.Threshold,
		HoldDuration: cfg.TimeLock.HoldDuration,
		Minimums:     minimums,
	}, nil
}

// TransferService is the transaction state machine. It is the only writer of account
// balances and reservations.
type TransferService struct {
	store    store.Store
	queue    *PriorityQueue
	holds    *TimeLock
	calc     *priority.Calculator
	cfg      TransferConfig
	locker   Locker
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*TransferService)

func WithLocker(l Locker) Option { return func(s *TransferService) { s.locker = l } }

func WithNotifier(n Notifier) Option { return func(s *TransferService) { s.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *TransferService) { s.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(s *TransferService) { s.logger = l } }

// WithClock replaces time.Now for admission, aging and ledger timestamps.
func WithClock(now func() time.Time) Option { return func(s *TransferService) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *TransferService) { s.newID = f } }

func NewTransferService(st store.Store, queue *PriorityQueue, holds *TimeLock, calc *priority.Calculator, cfg TransferConfig, opts ...Option) *TransferService {
	s := &TransferService{
		store:    st,
		queue:    queue,
		holds:    holds,
		calc:     calc,
		cfg:      cfg,
		locker:   NewLocalLocker(30 * time.Second),
		notifier: nopNotifier{},
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	queue.now = s.now
	return s
}

func (s *TransferService) clock() time.Time {
	return s.now().UTC()
}

func (s *TransferService) minimum(tier models.Tier) decimal.Decimal {
	return s.cfg.Minimums[tier]
}

// storeErr lifts store sentinels into service sentinels, keeping the original chain.
func storeErr(err error) error {
	if errors.Is(err, store.ErrNotFound) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// TransferRequest is a new transfer. ID is the caller's idempotency key and may be
// empty.
type TransferRequest struct {
	ID            string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Urgency       models.Urgency
}

// TransferResult reports the admitted transaction. Duplicate is set when ID matched an
// existing transaction, which is returned unchanged.
type TransferResult struct {
	Transaction *models.Transaction
	Duplicate   bool
}

// Outcome is the result of an operator action that may terminate the transfer. Failure
// is ErrInsufficientFunds when reservation was refused; the transaction is then FAILED
// and the action itself did not error.
type Outcome struct {
	Transaction *models.Transaction
	Failure     error
}

func (o *Outcome) Succeeded() bool {
	return o != nil && o.Failure == nil
}

// Actor identifies who asks for a cancellation.
type Actor struct {
	AccountID string
	Operator  bool
}

// CreateTransfer prices and admits a transfer. Amounts above the threshold are held;
// everything else is queued.
func (s *TransferService) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.FromAccountID == "" || req.ToAccountID == "" {
		return nil, fmt.Errorf("%w: source and destination are required", ErrInvalidRequest)
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if req.Urgency == "" {
		req.Urgency = models.UrgencyNormal
	}

	if req.ID != "" {
		existing, err := s.store.GetTransaction(ctx, req.ID)
		if err == nil {
			s.logger.Info("[TRANSFER] Duplicate transaction detected",
				zap.String("transaction_id", req.ID), zap.String("status", string(existing.Status)))
			return &TransferResult{Transaction: existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	} else {
		req.ID = s.newID()
	}

	from, err := s.store.GetAccount(ctx, req.FromAccountID)
	if err != nil {
		return nil, storeErr(err)
	}
	if _, err := s.store.GetAccount(ctx, req.ToAccountID); err != nil {
		return nil, storeErr(err)
	}

	now := s.clock()
	txn := &models.Transaction{
		ID:            req.ID,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Urgency:       req.Urgency,
		Status:        models.StatusCreated,
		BasePriority:  s.calc.Base(req.Urgency, from.Tier, from.RiskScore),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if txn.Amount.GreaterThan(s.cfg.Threshold) {
		unlockAt := now.Add(s.cfg.HoldDuration)
		txn.Status = models.StatusLocked
		txn.UnlockAt = &unlockAt
	} else {
		effective := s.calc.Effective(txn.BasePriority, now, now)
		txn.Status = models.StatusQueued
		txn.EffectivePriority = &effective
	}

	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, getErr := s.store.GetTransaction(ctx, txn.ID)
			if getErr != nil {
				return nil, getErr
			}
			return &TransferResult{Transaction: existing, Duplicate: true}, nil
		}
		return nil, storeErr(err)
	}

	// The row is the source of truth; a failed ranked-set write is repaired by Rebuild.
	if txn.Status == models.StatusLocked {
		if err := s.holds.Hold(ctx, txn.ID, *txn.UnlockAt); err != nil {
			s.logger.Error("[TRANSFER] Failed to hold transaction", zap.String("transaction_id", txn.ID), zap.Error(err))
		}
	} else {
		if _, err := s.queue.Enqueue(ctx, txn.ID, txn.BasePriority, txn.CreatedAt); err != nil {
			s.logger.Error("[TRANSFER] Failed to enqueue transaction", zap.String("transaction_id", txn.ID), zap.Error(err))
		}
		s.notifier.Notify(ctx, notify.Event{Type: notify.EventQueueChanged, TransactionID: txn.ID, OccurredAt: now})
	}
	if _, err := s.settle(ctx, txn.ID); err != nil {
		s.logger.Error("[TRANSFER] Failed to recheck admitted transaction", zap.String("transaction_id", txn.ID), zap.Error(err))
	}

	s.logger.Info("[TRANSFER] Transaction admitted",
		zap.String("transaction_id", txn.ID),
		zap.String("status", string(txn.Status)),
		zap.String("amount", txn.Amount.String()),
		zap.Float64("base_priority", txn.BasePriority))
	s.metrics.RecordCreated(string(txn.Status))
	s.notifier.Notify(ctx, notify.StatusChanged(txn, models.StatusCreated))
	s.refreshGauges(ctx)

	return &TransferResult{Transaction: txn}, nil
}

// reserveLocked runs Reservation against already locked rows. On insufficient funds it
// applies the FAILED transition instead and returns the refusal as Outcome.Failure.
func (s *TransferService) reserveLocked(ctx context.Context, tx store.Tx, txn *models.Transaction, from *models.Account, now time.Time) (Outcome, error) {
	m, err := PlanReserve(*txn, *from, s.minimum(from.Tier), now)
	if errors.Is(err, ErrInsufficientFunds) {
		failed, planErr := PlanRollback(*txn, nil, models.StatusFailed, reasonInsufficientBalance, now)
		if planErr != nil {
			return Outcome{}, planErr
		}
		if applyErr := tx.Apply(ctx, failed); applyErr != nil {
			return Outcome{}, applyErr
		}
		return Outcome{Transaction: failed.Transaction, Failure: err}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := tx.Apply(ctx, m); err != nil {
		return Outcome{}, err
	}
	return Outcome{Transaction: m.Transaction}, nil
}

// Reserve moves a QUEUED or PENDING_MANUAL transfer to RESERVED. The transfer stays in
// the queue until it is finalized or rolled back.
func (s *TransferService) Reserve(ctx context.Context, id string) (*Outcome, error) {
	var (
		previous models.Status
		out      Outcome
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !txn.Status.Eligible() {
			return stateError(txn, "reserve")
		}
		previous = txn.Status
		accounts, err := tx.LockAccounts(ctx, txn.FromAccountID)
		if err != nil {
			return err
		}
		out, err = s.reserveLocked(ctx, tx, txn, accounts[txn.FromAccountID], s.clock())
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	s.afterTransition(ctx, out.Transaction, previous)
	return &out, nil
}

// Finalize settles a RESERVED transfer. A second call fails with ErrInvalidState.
func (s *TransferService) Finalize(ctx context.Context, id string) (*models.Transaction, error) {
	var done *models.Transaction
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if txn.Status != models.StatusReserved {
			return stateError(txn, "finalize")
		}
		accounts, err := tx.LockAccounts(ctx, txn.FromAccountID, txn.ToAccountID)
		if err != nil {
			return err
		}
		m, err := PlanFinalize(*txn, *accounts[txn.FromAccountID], *accounts[txn.ToAccountID], s.clock())
		if err != nil {
			return err
		}
		if err := tx.Apply(ctx, m); err != nil {
			return err
		}
		done = m.Transaction
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	s.afterTransition(ctx, done, models.StatusReserved)
	return done, nil
}

// Complete reserves (when not yet reserved) and finalizes in one database transaction,
// guarded by a per-transaction advisory lock.
func (s *TransferService) Complete(ctx context.Context, id string) (*Outcome, error) {
	handle, ok, err := s.locker.TryLock(ctx, "complete:"+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrDuplicateOperation)
	}
	defer func() {
		if err := handle.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("[TRANSFER] Failed to release lock", zap.String("transaction_id", id), zap.Error(err))
		}
	}()

	var (
		previous models.Status
		out      Outcome
	)
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		previous = txn.Status
		if !txn.Status.Eligible() && txn.Status != models.StatusReserved {
			return stateError(txn, "complete")
		}

		accounts, err := tx.LockAccounts(ctx, txn.FromAccountID, txn.ToAccountID)
		if err != nil {
			return err
		}
		now := s.clock()
		if txn.Status.Eligible() {
			reserved, err := s.reserveLocked(ctx, tx, txn, accounts[txn.FromAccountID], now)
			if err != nil {
				return err
			}
			if reserved.Failure != nil {
				out = reserved
				return nil
			}
			txn = reserved.Transaction
			// Re-read to pick up the bumped versions.
			if accounts, err = tx.LockAccounts(ctx, txn.FromAccountID, txn.ToAccountID); err != nil {
				return err
			}
		}

		m, err := PlanFinalize(*txn, *accounts[txn.FromAccountID], *accounts[txn.ToAccountID], now)
		if err != nil {
			return err
		}
		if err := tx.Apply(ctx, m); err != nil {
			return err
		}
		out.Transaction = m.Transaction
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	s.afterTransition(ctx, out.Transaction, previous)
	return &out, nil
}

// nextCandidate picks the queue head, or the static store ordering when the queue is
// empty.
func (s *TransferService) nextCandidate(ctx context.Context) (string, bool, error) {
	entry, err := s.queue.PeekTop(ctx)
	if err == nil {
		return entry.ID, true, nil
	}
	if !errors.Is(err, ErrQueueEmpty) {
		return "", false, err
	}
	txn, err := s.store.NextPending(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, ErrQueueEmpty
	}
	if err != nil {
		return "", false, err
	}
	return txn.ID, false, nil
}

// ProcessNext completes the highest ranked pending transfer. Queue heads that no longer
// match a pending transaction are dropped and the next head is tried.
func (s *TransferService) ProcessNext(ctx context.Context) (*Outcome, error) {
	for i := 0; i < maxStaleSkips; i++ {
		id, fromQueue, err := s.nextCandidate(ctx)
		if err != nil {
			return nil, err
		}
		out, err := s.Complete(ctx, id)
		stale := errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound)
		if err != nil && fromQueue && stale {
			s.logger.Warn("[PROCESS_NEXT] Dropping stale queue entry", zap.String("transaction_id", id), zap.Error(err))
			if rmErr := s.queue.Remove(ctx, id); rmErr != nil {
				return nil, rmErr
			}
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("process next: gave up after %d stale queue entries", maxStaleSkips)
}

// Fail rolls a non-terminal transfer back to FAILED, releasing any reservation.
func (s *TransferService) Fail(ctx context.Context, id, reason string) (*models.Transaction, error) {
	if reason == "" {
		reason = "failed by operator"
	}
	return s.rollback(ctx, id, models.StatusFailed, "fail", reason, func(*models.Transaction) error { return nil })
}

// Cancel terminates a transfer as CANCELLED. Owners may cancel only while LOCKED;
// operators may cancel any non-terminal transfer.
func (s *TransferService) Cancel(ctx context.Context, id string, actor Actor) (*models.Transaction, error) {
	reason := "cancelled by owner"
	if actor.Operator {
		reason = "cancelled by operator"
	}
	return s.rollback(ctx, id, models.StatusCancelled, "cancel", reason, func(txn *models.Transaction) error {
		if actor.Operator {
			return nil
		}
		if actor.AccountID == "" || actor.AccountID != txn.FromAccountID {
			return fmt.Errorf("%w: only the source account owner may cancel", ErrForbidden)
		}
		if txn.Status.Terminal() {
			return nil
		}
		if txn.Status != models.StatusLocked {
			return fmt.Errorf("%w: transfer is no longer cancellable by its owner", ErrForbidden)
		}
		return nil
	})
}

func (s *TransferService) rollback(ctx context.Context, id string, status models.Status, op, reason string, authorize func(*models.Transaction) error) (*models.Transaction, error) {
	var (
		previous models.Status
		done     *models.Transaction
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(txn); err != nil {
			return err
		}
		if txn.Status.Terminal() {
			return stateError(txn, op)
		}
		previous = txn.Status

		var from *models.Account
		if txn.HoldsFunds() {
			accounts, err := tx.LockAccounts(ctx, txn.FromAccountID)
			if err != nil {
				return err
			}
			from = accounts[txn.FromAccountID]
		}
		m, err := PlanRollback(*txn, from, status, reason, s.clock())
		if err != nil {
			return err
		}
		if err := tx.Apply(ctx, m); err != nil {
			return err
		}
		done = m.Transaction
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	s.afterTransition(ctx, done, previous)
	return done, nil
}

// afterTransition brings the ranked sets, metrics and listeners in line with a
// committed transition. Ranked-set removals are no-ops when absent.
func (s *TransferService) afterTransition(ctx context.Context, txn *models.Transaction, previous models.Status) {
	if txn == nil || txn.Status == previous {
		return
	}
	if txn.Status.Terminal() {
		if err := s.queue.Remove(ctx, txn.ID); err != nil {
			s.logger.Error("[TRANSFER] Failed to dequeue transaction", zap.String("transaction_id", txn.ID), zap.Error(err))
		}
		if _, err := s.holds.Cancel(ctx, txn.ID); err != nil {
			s.logger.Error("[TRANSFER] Failed to drop hold", zap.String("transaction_id", txn.ID), zap.Error(err))
		}
		s.notifier.Notify(ctx, notify.Event{Type: notify.EventQueueChanged, TransactionID: txn.ID, OccurredAt: txn.UpdatedAt})
	}

	switch txn.Status {
	case models.StatusCompleted:
		s.metrics.RecordCompleted()
	case models.StatusFailed:
		label := "operator"
		if txn.FailureReason != nil && *txn.FailureReason == reasonInsufficientBalance {
			label = "insufficient_balance"
		}
		s.metrics.RecordFailed(label)
	case models.StatusCancelled:
		s.metrics.RecordCancelled()
	}

	s.logger.Info("[TRANSFER] Status changed",
		zap.String("transaction_id", txn.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(txn.Status)))
	s.notifier.Notify(ctx, notify.StatusChanged(txn, previous))
	s.refreshGauges(ctx)
}

// settle rereads id after a ranked-set write and drops it from both sets if the row is
// terminal. A transition that commits while the write is in flight removes the member
// before it lands; the reread catches that case. It reports whether id was dropped.
func (s *TransferService) settle(ctx context.Context, id string) (bool, error) {
	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return false, err
	}
	if !txn.Status.Terminal() {
		return false, nil
	}
	if err := s.queue.Remove(ctx, id); err != nil {
		return false, err
	}
	if _, err := s.holds.Cancel(ctx, id); err != nil {
		return false, err
	}
	s.logger.Info("[TRANSFER] Dropped terminal transaction from ranked sets",
		zap.String("transaction_id", id),
		zap.String("status", string(txn.Status)))
	return true, nil
}

// Mature moves a held transfer into the queue. It is safe to call repeatedly: a
// transfer that already matured is re-enqueued and its hold dropped, and a terminal one
// only loses its hold.
func (s *TransferService) Mature(ctx context.Context, id string) error {
	var (
		txn        *models.Transaction
		transition bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		txn = locked
		if txn.Status != models.StatusLocked {
			return nil
		}
		now := s.clock()
		effective := s.calc.Effective(txn.BasePriority, txn.CreatedAt, now)
		matured := *txn
		matured.Status = models.StatusPendingManual
		matured.EffectivePriority = &effective
		matured.UpdatedAt = now
		if err := tx.Apply(ctx, store.Mutation{Transaction: &matured}); err != nil {
			return err
		}
		txn, transition = &matured, true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("[UNLOCK] Hold without transaction, dropping", zap.String("transaction_id", id))
		_, relErr := s.holds.Release(ctx, id)
		return relErr
	}
	if err != nil {
		return err
	}

	if !txn.Status.Terminal() {
		// Enqueue before releasing so a crash in between leaves the hold to retry.
		if _, err := s.queue.Enqueue(ctx, txn.ID, txn.BasePriority, txn.CreatedAt); err != nil {
			return err
		}
		if _, err := s.settle(ctx, txn.ID); err != nil {
			return err
		}
	}
	if _, err := s.holds.Release(ctx, txn.ID); err != nil {
		return err
	}

	if transition {
		s.logger.Info("[UNLOCK] Transaction matured", zap.String("transaction_id", txn.ID))
		s.notifier.Notify(ctx, notify.Event{
			Type:          notify.EventTransactionUnlocked,
			TransactionID: txn.ID,
			AccountID:     txn.FromAccountID,
			Status:        txn.Status,
			OccurredAt:    txn.UpdatedAt,
		})
		s.notifier.Notify(ctx, notify.Event{Type: notify.EventQueueChanged, TransactionID: txn.ID, OccurredAt: txn.UpdatedAt})
		s.notifier.Notify(ctx, notify.StatusChanged(txn, models.StatusLocked))
	}
	return nil
}

// ReleaseMatured matures every hold due at now and returns how many were processed.
// Failures on one hold do not stop the others.
func (s *TransferService) ReleaseMatured(ctx context.Context, now time.Time) (int, error) {
	due, err := s.holds.Matured(ctx, now)
	if err != nil {
		return 0, err
	}
	var (
		released int
		errs     []error
	)
	for _, h := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Mature(ctx, h.ID); err != nil {
			errs = append(errs, fmt.Errorf("mature %s: %w", h.ID, err))
			continue
		}
		released++
	}
	if released > 0 {
		s.refreshGauges(ctx)
	}
	return released, errors.Join(errs...)
}

// Rerank refreshes every queued rank for now.
func (s *TransferService) Rerank(ctx context.Context, now time.Time) (int, error) {
	n, err := s.queue.RerankAll(ctx, now)
	s.refreshGauges(ctx)
	return n, err
}

// RebuildStats counts what Rebuild restored and pruned.
type RebuildStats struct {
	Queued int `json:"queued"`
	Held   int `json:"held"`
	Pruned int `json:"pruned"`
}

// Rebuild restores both ranked sets from transaction rows, then prunes members whose
// rows are missing or no longer belong in that set.
func (s *TransferService) Rebuild(ctx context.Context) (RebuildStats, error) {
	var stats RebuildStats

	pending, err := s.store.ListByStatus(ctx, models.StatusQueued, models.StatusPendingManual, models.StatusReserved)
	if err != nil {
		return stats, err
	}
	for _, txn := range pending {
		if _, err := s.queue.Enqueue(ctx, txn.ID, txn.BasePriority, txn.CreatedAt); err != nil {
			return stats, err
		}
		stats.Queued++
	}

	locked, err := s.store.ListByStatus(ctx, models.StatusLocked)
	if err != nil {
		return stats, err
	}
	for _, txn := range locked {
		unlockAt := txn.CreatedAt.Add(s.cfg.HoldDuration)
		if txn.UnlockAt != nil {
			unlockAt = *txn.UnlockAt
		}
		if err := s.holds.Hold(ctx, txn.ID, unlockAt); err != nil {
			return stats, err
		}
		stats.Held++
	}

	pruned, err := s.prune(ctx)
	stats.Pruned = pruned
	if err != nil {
		return stats, err
	}

	s.logger.Info("[REBUILD] Ranked sets restored",
		zap.Int("queued", stats.Queued),
		zap.Int("held", stats.Held),
		zap.Int("pruned", stats.Pruned))
	s.refreshGauges(ctx)
	return stats, nil
}

// prune removes queue members whose row is not pending and holds whose row is not
// LOCKED.
func (s *TransferService) prune(ctx context.Context) (int, error) {
	stale := func(id string, keep func(models.Status) bool) (bool, error) {
		txn, err := s.store.GetTransaction(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return !keep(txn.Status), nil
	}

	var pruned int
	queued, err := s.queue.TopN(ctx, 0)
	if err != nil {
		return pruned, err
	}
	for _, e := range queued {
		drop, err := stale(e.ID, func(st models.Status) bool {
			return st == models.StatusQueued || st == models.StatusPendingManual || st == models.StatusReserved
		})
		if err != nil {
			return pruned, err
		}
		if !drop {
			continue
		}
		if err := s.queue.Remove(ctx, e.ID); err != nil {
			return pruned, err
		}
		s.logger.Info("[REBUILD] Pruned stale queue member", zap.String("transaction_id", e.ID))
		pruned++
	}

	held, err := s.holds.Held(ctx)
	if err != nil {
		return pruned, err
	}
	for _, h := range held {
		drop, err := stale(h.ID, func(st models.Status) bool { return st == models.StatusLocked })
		if err != nil {
			return pruned, err
		}
		if !drop {
			continue
		}
		if _, err := s.holds.Cancel(ctx, h.ID); err != nil {
			return pruned, err
		}
		s.logger.Info("[REBUILD] Pruned stale hold", zap.String("transaction_id", h.ID))
		pruned++
	}
	return pruned, nil
}

func (s *TransferService) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	queued, err := s.queue.Size(ctx)
	if err != nil {
		queued = -1
	}
	held, err := s.holds.Size(ctx)
	if err != nil {
		held = -1
	}
	s.metrics.UpdateSetSizes(queued, held)
}

func (s *TransferService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, id)
	return txn, storeErr(err)
}

func (s *TransferService) LedgerEntries(ctx context.Context, id string) ([]models.LedgerEntry, error) {
	return s.store.LedgerEntries(ctx, id)
}

func (s *TransferService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	return account, storeErr(err)
}

// AccountRequest is the admin insert of a seeded account.
type AccountRequest struct {
	ID        string
	Balance   decimal.Decimal
	Tier      models.Tier
	RiskScore int
}

func (s *TransferService) CreateAccount(ctx context.Context, req AccountRequest) (*models.Account, error) {
	if req.ID == "" || req.Balance.IsNegative() || req.RiskScore < 0 || req.RiskScore > 10 {
		return nil, fmt.Errorf("%w: id, non-negative balance and risk 0-10 are required", ErrInvalidRequest)
	}
	now := s.clock()
	account := &models.Account{
		ID:             req.ID,
		Balance:        req.Balance,
		ReservedAmount: decimal.Zero,
		Tier:           req.Tier,
		RiskScore:      req.RiskScore,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return nil, err
	}
	return account, nil
}

// QueueSnapshot is the current queue size and its head.
type QueueSnapshot struct {
	Size    int64        `json:"size"`
	Entries []QueueEntry `json:"entries"`
}

func (s *TransferService) QueueSnapshot(ctx context.Context, k int) (*QueueSnapshot, error) {
	size, err := s.queue.Size(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.queue.TopN(ctx, k)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []QueueEntry{}
	}
	return &QueueSnapshot{Size: size, Entries: entries}, nil
}

func (s *TransferService) HeldSnapshot(ctx context.Context) ([]HeldEntry, error) {
	return s.holds.Held(ctx)
}

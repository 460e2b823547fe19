package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/payqueue/internal/config"
	"github.com/ruralpay/payqueue/internal/models"
	"github.com/ruralpay/payqueue/internal/notify"
	"github.com/ruralpay/payqueue/internal/priority"
	"github.com/ruralpay/payqueue/internal/rankedset"
	"github.com/ruralpay/payqueue/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, e notify.Event) {
	m.Called(ctx, e)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) TryLock(ctx context.Context, key string) (LockHandle, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(LockHandle), args.Bool(1), args.Error(2)
}

// recordingNotifier keeps every event for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// hookSet runs onAdd before each Add reaches the wrapped set.
type hookSet struct {
	rankedset.Set
	onAdd func(id string)
}

func (h *hookSet) Add(ctx context.Context, m rankedset.Member) error {
	if h.onAdd != nil {
		h.onAdd(m.ID)
	}
	return h.Set.Add(ctx, m)
}

// slowSink takes delay to publish each event.
type slowSink struct {
	delay time.Duration
	mu    sync.Mutex
	seen  []notify.Event
}

func (s *slowSink) Publish(ctx context.Context, e notify.Event) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, e)
	return nil
}

func (s *slowSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// fakeClock is a settable clock shared by the service and its queue.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *TransferService
	store    *store.Memory
	queue    *PriorityQueue
	holds    *TimeLock
	clock    *fakeClock
	notifier *recordingNotifier
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cfg := config.Default()
	transferCfg, err := NewTransferConfig(cfg)
	require.NoError(t, err)

	calc := priority.NewCalculator(cfg.Priority)
	h := &harness{
		store:    store.NewMemory(),
		queue:    NewPriorityQueue(rankedset.NewMemory(rankedset.Descending), calc),
		holds:    NewTimeLock(rankedset.NewMemory(rankedset.Ascending)),
		clock:    &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	var seq int
	var seqMu sync.Mutex
	base := []Option{
		WithClock(h.clock.Now),
		WithNotifier(h.notifier),
		WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("tx-%02d", seq)
		}),
	}
	h.svc = NewTransferService(h.store, h.queue, h.holds, calc, transferCfg, append(base, opts...)...)
	return h
}

// withSets builds a second service over h's store and clock using the given sets.
func (h *harness) withSets(t *testing.T, queueSet, holdSet rankedset.Set) (*TransferService, *PriorityQueue, *TimeLock) {
	t.Helper()
	cfg := config.Default()
	transferCfg, err := NewTransferConfig(cfg)
	require.NoError(t, err)
	calc := priority.NewCalculator(cfg.Priority)
	queue := NewPriorityQueue(queueSet, calc)
	holds := NewTimeLock(holdSet)
	return NewTransferService(h.store, queue, holds, calc, transferCfg, WithClock(h.clock.Now)), queue, holds
}

func (h *harness) account(t *testing.T, id string, balance int64, tier models.Tier, risk int) {
	t.Helper()
	_, err := h.svc.CreateAccount(context.Background(), AccountRequest{
		ID: id, Balance: decimal.NewFromInt(balance), Tier: tier, RiskScore: risk,
	})
	require.NoError(t, err)
}

func (h *harness) transfer(t *testing.T, from, to string, amount int64, urgency models.Urgency) *models.Transaction {
	t.Helper()
	res, err := h.svc.CreateTransfer(context.Background(), TransferRequest{
		FromAccountID: from, ToAccountID: to, Amount: decimal.NewFromInt(amount), Urgency: urgency,
	})
	require.NoError(t, err)
	return res.Transaction
}

func (h *harness) balances(t *testing.T, id string) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	account, err := h.svc.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account.Balance, account.ReservedAmount
}

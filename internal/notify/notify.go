// Package notify fans committed state transitions out to event sinks. Delivery is best
// effort: sink failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ruralpay/payqueue/internal/metrics"
	"github.com/ruralpay/payqueue/internal/models"
	"go.uber.org/zap"
)

type EventType string

const (
	EventQueueChanged        EventType = "queue.changed"
	EventTransactionUnlocked EventType = "transaction.unlocked"
	EventStatusChanged       EventType = "transaction.status_changed"
)

type Event struct {
	Type           EventType     `json:"type"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	AccountID      string        `json:"account_id,omitempty"`
	Status         models.Status `json:"status,omitempty"`
	PreviousStatus models.Status `json:"previous_status,omitempty"`
	Amount         string        `json:"amount,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// StatusChanged builds the event for a transaction that moved from previous to its
// current status.
func StatusChanged(txn *models.Transaction, previous models.Status) Event {
	e := Event{
		Type:           EventStatusChanged,
		TransactionID:  txn.ID,
		AccountID:      txn.FromAccountID,
		Status:         txn.Status,
		PreviousStatus: previous,
		Amount:         txn.Amount.String(),
		OccurredAt:     txn.UpdatedAt,
	}
	if txn.FailureReason != nil {
		e.Reason = *txn.FailureReason
	}
	return e
}

// Sink delivers one event somewhere.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Notifier queues events on a bounded buffer and publishes them to every sink in order
// from a single worker. Notify never blocks: when the buffer is full the event is dropped
// and counted.
type Notifier struct {
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	events    chan envelope
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	done      chan struct{}
}

type envelope struct {
	ctx   context.Context
	event Event
}

type Option func(*Notifier)

// WithBuffer sets how many events may wait for delivery. Defaults to 1024.
func WithBuffer(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.events = make(chan envelope, size)
		}
	}
}

// WithTimeout bounds each sink publish. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func New(logger *zap.Logger, sinks []Sink, opts ...Option) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		sinks:   sinks,
		logger:  logger,
		timeout: 5 * time.Second,
		events:  make(chan envelope, 1024),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start launches the delivery worker. Events queued before Start are delivered once it
// runs. Calling Start more than once is harmless.
func (n *Notifier) Start() {
	if n == nil {
		return
	}
	n.startOnce.Do(func() {
		go n.run()
	})
}

// Close stops accepting events and waits until the buffered ones are delivered or ctx
// is done.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()

	n.Start()
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifier close: %w", ctx.Err())
	}
}

// Notify queues e for delivery. Cancelling ctx after the transition committed does not
// cancel delivery.
func (n *Notifier) Notify(ctx context.Context, e Event) {
	if n == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.drop(e, "notifier closed")
		return
	}
	select {
	case n.events <- envelope{ctx: context.WithoutCancel(ctx), event: e}:
	default:
		n.drop(e, "buffer full")
	}
}

func (n *Notifier) drop(e Event, reason string) {
	n.metrics.RecordNotificationDropped()
	n.logger.Warn("[NOTIFY] Event dropped",
		zap.String("event", string(e.Type)),
		zap.String("transaction_id", e.TransactionID),
		zap.String("reason", reason))
}

func (n *Notifier) run() {
	defer close(n.done)
	for env := range n.events {
		n.deliver(env.ctx, env.event)
	}
}

func (n *Notifier) deliver(ctx context.Context, e Event) {
	for _, sink := range n.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, n.timeout)
		if err := sink.Publish(sinkCtx, e); err != nil {
			n.logger.Warn("[NOTIFY] Event delivery failed",
				zap.String("event", string(e.Type)),
				zap.String("transaction_id", e.TransactionID),
				zap.Error(err))
		}
		cancel()
	}
}

package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ruralpay/payqueue/internal/rankedset"
)

// HeldEntry is a transaction parked until UnlockAt.
type HeldEntry struct {
	ID       string    `json:"id"`
	UnlockAt time.Time `json:"unlock_at"`
}

// TimeLock is the hold set, ranked by unlock time in whole seconds, earliest first.
type TimeLock struct {
	set rankedset.Set
}

// NewTimeLock wraps an Ascending set.
func NewTimeLock(set rankedset.Set) *TimeLock {
	return &TimeLock{set: set}
}

func (l *TimeLock) Hold(ctx context.Context, id string, unlockAt time.Time) error {
	if err := l.set.Add(ctx, rankedset.Member{ID: id, Score: float64(unlockAt.Unix())}); err != nil {
		return fmt.Errorf("hold %s: %w", id, err)
	}
	return nil
}

// Matured lists holds whose unlock second is at or before now. It does not remove them.
func (l *TimeLock) Matured(ctx context.Context, now time.Time) ([]HeldEntry, error) {
	members, err := l.set.RangeByScore(ctx, math.Inf(-1), float64(now.Unix()))
	if err != nil {
		return nil, err
	}
	return heldEntries(members), nil
}

// Release removes id after it matured.
func (l *TimeLock) Release(ctx context.Context, id string) (bool, error) {
	return l.set.Remove(ctx, id)
}

// Cancel removes id ahead of maturity. Reversing the transaction is the caller's job.
func (l *TimeLock) Cancel(ctx context.Context, id string) (bool, error) {
	return l.set.Remove(ctx, id)
}

// Held lists every hold, earliest unlock first.
func (l *TimeLock) Held(ctx context.Context) ([]HeldEntry, error) {
	members, err := l.set.Top(ctx, 0)
	if err != nil {
		return nil, err
	}
	return heldEntries(members), nil
}

func (l *TimeLock) Size(ctx context.Context) (int64, error) {
	return l.set.Len(ctx)
}

func heldEntries(members []rankedset.Member) []HeldEntry {
	out := make([]HeldEntry, len(members))
	for i, m := range members {
		out[i] = HeldEntry{ID: m.ID, UnlockAt: time.Unix(int64(m.Score), 0).UTC()}
	}
	return out
}

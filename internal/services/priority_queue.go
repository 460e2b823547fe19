package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ruralpay/payqueue/internal/priority"
	"github.com/ruralpay/payqueue/internal/rankedset"
)

// QueueEntry is one ranked transaction. EffectivePriority is the cached rank, refreshed
// by RerankAll rather than on read.
type QueueEntry struct {
	ID                string    `json:"id"`
	BasePriority      float64   `json:"base_priority"`
	EffectivePriority float64   `json:"effective_priority"`
	CreatedAt         time.Time `json:"created_at"`
}

type queuePayload struct {
	Base      float64   `json:"base"`
	CreatedAt time.Time `json:"createdAt"`
}

// PriorityQueue ranks eligible transactions by effective priority, highest first.
type PriorityQueue struct {
	set  rankedset.Set
	calc *priority.Calculator
	now  func() time.Time
}

// NewPriorityQueue wraps a Descending set.
func NewPriorityQueue(set rankedset.Set, calc *priority.Calculator) *PriorityQueue {
	return &PriorityQueue{set: set, calc: calc, now: time.Now}
}

// Enqueue inserts or re-ranks id and returns the rank it was stored with.
func (q *PriorityQueue) Enqueue(ctx context.Context, id string, base float64, createdAt time.Time) (float64, error) {
	payload, err := json.Marshal(queuePayload{Base: base, CreatedAt: createdAt.UTC()})
	if err != nil {
		return 0, err
	}
	rank := q.calc.Effective(base, createdAt, q.now())
	if err := q.set.Add(ctx, rankedset.Member{ID: id, Score: rank, Payload: string(payload)}); err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", id, err)
	}
	return rank, nil
}

// Remove drops id. Absent ids are not an error.
func (q *PriorityQueue) Remove(ctx context.Context, id string) error {
	if _, err := q.set.Remove(ctx, id); err != nil {
		return fmt.Errorf("dequeue %s: %w", id, err)
	}
	return nil
}

func (q *PriorityQueue) Contains(ctx context.Context, id string) (bool, error) {
	_, ok, err := q.set.Get(ctx, id)
	return ok, err
}

func decodeEntry(m rankedset.Member) (QueueEntry, error) {
	var p queuePayload
	if err := json.Unmarshal([]byte(m.Payload), &p); err != nil {
		return QueueEntry{}, fmt.Errorf("queue entry %s: %w", m.ID, err)
	}
	return QueueEntry{ID: m.ID, BasePriority: p.Base, EffectivePriority: m.Score, CreatedAt: p.CreatedAt}, nil
}

func decodeEntries(members []rankedset.Member) ([]QueueEntry, error) {
	out := make([]QueueEntry, 0, len(members))
	for _, m := range members {
		e, err := decodeEntry(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ranked orders entries by rank, then earlier creation, then id.
func ranked(entries []QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.EffectivePriority != b.EffectivePriority {
			return a.EffectivePriority > b.EffectivePriority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// PeekTop returns the highest ranked entry without removing it.
func (q *PriorityQueue) PeekTop(ctx context.Context) (QueueEntry, error) {
	entries, err := q.TopN(ctx, 1)
	if err != nil {
		return QueueEntry{}, err
	}
	if len(entries) == 0 {
		return QueueEntry{}, ErrQueueEmpty
	}
	return entries[0], nil
}

// TopN returns up to k entries in rank order. Members tied with the k-th rank are all
// considered so the earlier-created one wins the cut.
func (q *PriorityQueue) TopN(ctx context.Context, k int) ([]QueueEntry, error) {
	members, err := q.set.Top(ctx, k)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	if k > 0 {
		last := members[len(members)-1].Score
		ties, err := q.set.RangeByScore(ctx, last, last)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(members))
		for _, m := range members {
			seen[m.ID] = true
		}
		for _, m := range ties {
			if !seen[m.ID] {
				members = append(members, m)
			}
		}
	}

	entries, err := decodeEntries(members)
	if err != nil {
		return nil, err
	}
	ranked(entries)
	if k > 0 && len(entries) > k {
		entries = entries[:k]
	}
	return entries, nil
}

// RerankAll recomputes every member's rank from its stored base priority and creation
// time. Members removed concurrently stay removed. It returns how many ranks changed.
func (q *PriorityQueue) RerankAll(ctx context.Context, now time.Time) (int, error) {
	members, err := q.set.Top(ctx, 0)
	if err != nil {
		return 0, err
	}

	var (
		changed int
		errs    []error
	)
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		entry, err := decodeEntry(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok, err := q.set.UpdateScore(ctx, m.ID, q.calc.Effective(entry.BasePriority, entry.CreatedAt, now))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (q *PriorityQueue) Size(ctx context.Context) (int64, error) {
	return q.set.Len(ctx)
}

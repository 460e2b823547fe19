// Package rankedset is the sorted associative structure behind both the priority queue
// and the time-lock hold set. A set is keyed by member id and ordered by score; the
// Order decides which end is the "top".
package rankedset

import (
	"context"
	"errors"
	"math"
	"strconv"
)

// Order is the direction in which Top walks the set.
type Order int

const (
	// Descending puts the highest score first (priority queue).
	Descending Order = iota
	// Ascending puts the lowest score first (unlock time).
	Ascending
)

func (o Order) String() string {
	if o == Ascending {
		return "asc"
	}
	return "desc"
}

// ErrEmptyID is returned for operations on a blank member id.
var ErrEmptyID = errors.New("ranked set member id is empty")

// Member is one ranked entry. Payload is opaque to the set and travels with the member.
type Member struct {
	ID      string
	Score   float64
	Payload string
}

// Set is implemented by Redis (production) and Memory (local runs and tests).
// Membership operations on one member never depend on the rank of another, so
// concurrent callers only need per-call atomicity.
type Set interface {
	// Add inserts the member or replaces its score and payload.
	Add(ctx context.Context, m Member) error
	// UpdateScore changes the score of an existing member only. It reports whether the
	// stored score changed; absent members are left absent.
	UpdateScore(ctx context.Context, id string, score float64) (bool, error)
	// Remove deletes the member and reports whether it was present.
	Remove(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Member, bool, error)
	// Top returns up to n members in set order. n <= 0 returns every member.
	Top(ctx context.Context, n int) ([]Member, error)
	// RangeByScore returns members with min <= score <= max, lowest score first.
	RangeByScore(ctx context.Context, min, max float64) ([]Member, error)
	Len(ctx context.Context) (int64, error)
}

func formatScore(score float64) string {
	switch {
	case math.IsInf(score, 1):
		return "+inf"
	case math.IsInf(score, -1):
		return "-inf"
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}

package rankedset

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Set. Members are kept in a slice sorted in set order so Top
// is a prefix read; lookups go through the index map.
type Memory struct {
	mu      sync.RWMutex
	order   Order
	index   map[string]*Member
	members []*Member
}

// NewMemory creates an empty in-process set.
func NewMemory(order Order) *Memory {
	return &Memory{
		order: order,
		index: make(map[string]*Member),
	}
}

// before reports whether a sorts ahead of b. Equal scores fall back to id, reversed for
// Descending, which is the order Redis returns from ZREVRANGE.
func (s *Memory) before(a, b *Member) bool {
	if s.order == Descending {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID > b.ID
	}
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID < b.ID
}

func (s *Memory) position(m *Member) int {
	return sort.Search(len(s.members), func(i int) bool {
		return !s.before(s.members[i], m)
	})
}

func (s *Memory) insert(m *Member) {
	i := s.position(m)
	s.members = append(s.members, nil)
	copy(s.members[i+1:], s.members[i:])
	s.members[i] = m
	s.index[m.ID] = m
}

func (s *Memory) detach(m *Member) {
	i := s.position(m)
	for i < len(s.members) && s.members[i] != m {
		i++
	}
	if i < len(s.members) {
		s.members = append(s.members[:i], s.members[i+1:]...)
	}
	delete(s.index, m.ID)
}

func (s *Memory) Add(ctx context.Context, m Member) error {
	if m.ID == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[m.ID]; ok {
		s.detach(existing)
	}
	member := m
	s.insert(&member)
	return nil
}

func (s *Memory) UpdateScore(ctx context.Context, id string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.index[id]
	if !ok || existing.Score == score {
		return false, nil
	}
	updated := *existing
	updated.Score = score
	s.detach(existing)
	s.insert(&updated)
	return true, nil
}

func (s *Memory) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.index[id]
	if !ok {
		return false, nil
	}
	s.detach(existing)
	return true, nil
}

func (s *Memory) Get(ctx context.Context, id string) (Member, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.index[id]
	if !ok {
		return Member{}, false, nil
	}
	return *existing, true, nil
}

func (s *Memory) Top(ctx context.Context, n int) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.members) {
		n = len(s.members)
	}
	out := make([]Member, 0, n)
	for _, m := range s.members[:n] {
		out = append(out, *m)
	}
	return out, nil
}

// RangeByScore binary-searches the score bounds in the sorted slice. Results are in
// ascending score order with ties by id, whatever the set order.
func (s *Memory) RangeByScore(ctx context.Context, min, max float64) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.members)
	var lo, hi int
	if s.order == Descending {
		lo = sort.Search(n, func(i int) bool { return s.members[i].Score <= max })
		hi = sort.Search(n, func(i int) bool { return s.members[i].Score < min })
	} else {
		lo = sort.Search(n, func(i int) bool { return s.members[i].Score >= min })
		hi = sort.Search(n, func(i int) bool { return s.members[i].Score > max })
	}
	if lo >= hi {
		return nil, nil
	}

	out := make([]Member, 0, hi-lo)
	if s.order == Descending {
		// descending ties are id-desc, so walking backwards gives score asc, id asc
		for i := hi - 1; i >= lo; i-- {
			out = append(out, *s.members[i])
		}
	} else {
		for _, m := range s.members[lo:hi] {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Memory) Len(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.members)), nil
}

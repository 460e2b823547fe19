package rankedset

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setFactory func(t *testing.T, order Order) Set

func implementations() map[string]setFactory {
	return map[string]setFactory{
		"memory": func(t *testing.T, order Order) Set {
			return NewMemory(order)
		},
		"redis": func(t *testing.T, order Order) Set {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedis(client, "test:"+order.String(), order)
		},
	}
}

func ids(members []Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.ID
	}
	return out
}

func TestSet_Contract(t *testing.T) {
	ctx := context.Background()

	for name, newSet := range implementations() {
		t.Run(name+"/descending top", func(t *testing.T) {
			s := newSet(t, Descending)
			require.NoError(t, s.Add(ctx, Member{ID: "a", Score: 1, Payload: "pa"}))
			require.NoError(t, s.Add(ctx, Member{ID: "b", Score: 5}))
			require.NoError(t, s.Add(ctx, Member{ID: "c", Score: 3, Payload: "pc"}))

			top, err := s.Top(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, ids(top))
			assert.Equal(t, "pc", top[1].Payload)

			all, err := s.Top(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c", "a"}, ids(all))

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
		})

		t.Run(name+"/ascending top", func(t *testing.T) {
			s := newSet(t, Ascending)
			require.NoError(t, s.Add(ctx, Member{ID: "late", Score: 200}))
			require.NoError(t, s.Add(ctx, Member{ID: "early", Score: 100}))

			top, err := s.Top(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"early"}, ids(top))
		})

		t.Run(name+"/add replaces score and payload", func(t *testing.T) {
			s := newSet(t, Descending)
			require.NoError(t, s.Add(ctx, Member{ID: "a", Score: 1, Payload: "old"}))
			require.NoError(t, s.Add(ctx, Member{ID: "a", Score: 9, Payload: "new"}))

			m, ok, err := s.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 9.0, m.Score)
			assert.Equal(t, "new", m.Payload)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})

		t.Run(name+"/update score only touches present members", func(t *testing.T) {
			s := newSet(t, Descending)
			require.NoError(t, s.Add(ctx, Member{ID: "a", Score: 1, Payload: "keep"}))

			changed, err := s.UpdateScore(ctx, "a", 4)
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = s.UpdateScore(ctx, "a", 4)
			require.NoError(t, err)
			assert.False(t, changed)

			changed, err = s.UpdateScore(ctx, "ghost", 10)
			require.NoError(t, err)
			assert.False(t, changed)

			_, ok, err := s.Get(ctx, "ghost")
			require.NoError(t, err)
			assert.False(t, ok)

			m, _, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 4.0, m.Score)
			assert.Equal(t, "keep", m.Payload)
		})

		t.Run(name+"/remove", func(t *testing.T) {
			s := newSet(t, Ascending)
			require.NoError(t, s.Add(ctx, Member{ID: "a", Score: 1, Payload: "p"}))

			removed, err := s.Remove(ctx, "a")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = s.Remove(ctx, "a")
			require.NoError(t, err)
			assert.False(t, removed)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})

		t.Run(name+"/range by score", func(t *testing.T) {
			s := newSet(t, Ascending)
			require.NoError(t, s.Add(ctx, Member{ID: "t1", Score: 100}))
			require.NoError(t, s.Add(ctx, Member{ID: "t2", Score: 150}))
			require.NoError(t, s.Add(ctx, Member{ID: "t3", Score: 200}))

			got, err := s.RangeByScore(ctx, math.Inf(-1), 150)
			require.NoError(t, err)
			assert.Equal(t, []string{"t1", "t2"}, ids(got))

			got, err = s.RangeByScore(ctx, 150, 150)
			require.NoError(t, err)
			assert.Equal(t, []string{"t2"}, ids(got))

			got, err = s.RangeByScore(ctx, 201, math.Inf(1))
			require.NoError(t, err)
			assert.Empty(t, got)
		})

		t.Run(name+"/equal scores", func(t *testing.T) {
			s := newSet(t, Descending)
			require.NoError(t, s.Add(ctx, Member{ID: "x", Score: 2}))
			require.NoError(t, s.Add(ctx, Member{ID: "y", Score: 2}))

			got, err := s.RangeByScore(ctx, 2, 2)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"x", "y"}, ids(got))
		})

		t.Run(name+"/empty id", func(t *testing.T) {
			s := newSet(t, Descending)
			assert.ErrorIs(t, s.Add(ctx, Member{Score: 1}), ErrEmptyID)
		})
	}
}

func TestMemory_RangeByScoreMatchesRedis(t *testing.T) {
	ctx := context.Background()
	bounds := []float64{math.Inf(-1), -1, 0, 1, 1.5, 2, 3, 4, math.Inf(1)}

	for _, order := range []Order{Descending, Ascending} {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		mem := NewMemory(order)
		rds := NewRedis(client, "range:"+order.String(), order)
		for i := 0; i < 12; i++ {
			m := Member{ID: fmt.Sprintf("m-%02d", (i*7)%12), Score: float64(i % 4)}
			require.NoError(t, mem.Add(ctx, m))
			require.NoError(t, rds.Add(ctx, m))
		}

		for _, min := range bounds {
			for _, max := range bounds {
				want, err := rds.RangeByScore(ctx, min, max)
				require.NoError(t, err)
				got, err := mem.RangeByScore(ctx, min, max)
				require.NoError(t, err)
				assert.Equal(t, ids(want), ids(got), "%s [%v, %v]", order, min, max)
			}
		}
	}
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "+inf", formatScore(math.Inf(1)))
	assert.Equal(t, "-inf", formatScore(math.Inf(-1)))
	assert.Equal(t, "1712345678", formatScore(1712345678))
	assert.Equal(t, "2.5", formatScore(2.5))
}

func TestRedis_KeysShareName(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedis(client, "payqueue:queue", Descending)
	require.NoError(t, s.Add(context.Background(), Member{ID: "tx-1", Score: 3, Payload: "{}"}))

	assert.True(t, mr.Exists("payqueue:queue"))
	assert.Equal(t, "{}", mr.HGet("payqueue:queue:payload", "tx-1"))
}

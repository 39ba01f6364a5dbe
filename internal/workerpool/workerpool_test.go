package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExecutesEveryItem(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var sum int64
	err := Run(context.Background(), 2, items, func(_ context.Context, n int) error {
		atomic.AddInt64(&sum, int64(n))
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 15, sum)
}

func TestRunReturnsFirstError(t *testing.T) {
	items := []int{1, 2, 3}
	boom := errors.New("boom")
	err := Run(context.Background(), 0, items, func(_ context.Context, n int) error {
		if n == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	items := make([]int, 20)
	var inFlight, maxSeen int64
	err := Run(context.Background(), 3, items, func(_ context.Context, _ int) error {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			cur := atomic.LoadInt64(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt64(&maxSeen, cur, n) {
				break
			}
		}
		atomic.AddInt64(&inFlight, -1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, maxSeen, int64(3))
}

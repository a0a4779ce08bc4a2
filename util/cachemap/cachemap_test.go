package cachemap

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrInitCoalesces(t *testing.T) {
	m := New[string, int]()

	var calls atomic.Int32
	release := make(chan struct{})

	const n = 16
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := m.GetOrInit(context.Background(), "key", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			results[i], errs[i] = v, err
		}()
	}

	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i, v := range results {
		require.NoError(t, errs[i])
		require.Equal(t, 42, v)
	}
}

func TestGetOrInitErrorEvicts(t *testing.T) {
	m := New[string, int]()

	_, _, err := m.GetOrInit(context.Background(), "key", func(context.Context) (int, error) {
		return 0, context.DeadlineExceeded
	})
	require.Error(t, err)

	v, cached, err := m.GetOrInit(context.Background(), "key", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, 7, v)
}

func TestGetOrInitRecursion(t *testing.T) {
	m := New[string, int]()

	_, _, err := m.GetOrInit(context.Background(), "key", func(ctx context.Context) (int, error) {
		_, _, err := m.GetOrInit(ctx, "key", func(context.Context) (int, error) {
			return 0, nil
		})
		return 0, err
	})
	require.ErrorIs(t, err, ErrRecursiveCall)
}

func TestCachedHit(t *testing.T) {
	m := New[string, int]()
	m.Set("key", 1)

	v, cached, err := m.GetOrInit(context.Background(), "key", func(context.Context) (int, error) {
		t.Fatal("initializer should not run")
		return 0, nil
	})
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, 1, v)
}

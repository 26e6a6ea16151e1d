package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Subjects []string `json:"subjects"`
}

func TestRemember_ComputesOnce(t *testing.T) {
	m := NewMemo(nil, 0)
	var calls atomic.Int32
	fn := func(context.Context) (payload, error) {
		calls.Add(1)
		return payload{Subjects: []string{"stem"}}, nil
	}

	v1, err := Remember(context.Background(), m, "k", fn)
	require.NoError(t, err)
	v2, err := Remember(context.Background(), m, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemember_ConcurrentCallsShareResult(t *testing.T) {
	m := NewMemo(NewMemory(), time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Remember(context.Background(), m, "same", fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 42, r)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemember_ErrorsNotCached(t *testing.T) {
	m := NewMemo(nil, 0)
	calls := 0
	fail := func(context.Context) (string, error) {
		calls++
		return "", errors.New("upstream")
	}
	_, err := Remember(context.Background(), m, "k", fail)
	require.Error(t, err)
	_, err = Remember(context.Background(), m, "k", fail)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRemember_NilMemo(t *testing.T) {
	v, err := Remember(context.Background(), nil, "k", func(context.Context) (string, error) { return "x", nil })
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestMemory_TTL(t *testing.T) {
	mem := NewMemory()
	now := time.Now()
	mem.now = func() time.Time { return now }

	require.NoError(t, mem.Set(context.Background(), "a", []byte("1"), time.Second))
	require.NoError(t, mem.Set(context.Background(), "b", []byte("2"), 0))

	v, ok, err := mem.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(2 * time.Second)
	_, ok, _ = mem.Get(context.Background(), "a")
	assert.False(t, ok)
	_, ok, _ = mem.Get(context.Background(), "b")
	assert.True(t, ok)

	require.NoError(t, mem.Close())
	assert.Equal(t, 0, mem.Len())
}

func TestRedis_UnreachableFallsBackToCompute(t *testing.T) {
	r := NewRedis("127.0.0.1:1", "")
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, r.Ping(ctx))

	m := NewMemo(r, time.Minute)
	v, err := Remember(ctx, m, "k", func(context.Context) (string, error) { return "computed", nil })
	require.NoError(t, err)
	assert.Equal(t, "computed", v)
}

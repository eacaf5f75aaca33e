package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls atomic.Int32
	value []byte
	err   error
}

func (f *countingFetcher) fetch(_ context.Context) ([]byte, error) {
	f.calls.Add(1)
	return f.value, f.err
}

func TestGet_FetchesOnceThenServesCache(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	f := &countingFetcher{value: []byte(`["m1"]`)}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		val, err := qc.Get(ctx, cache.ModelsKey(), f.fetch)
		require.NoError(t, err)
		assert.Equal(t, []byte(`["m1"]`), val)
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.False(t, qc.Stats(cache.ModelsKey()).Stale)
}

func TestGet_KeysWithSeparatorInSegmentsStayDistinct(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	ctx := context.Background()
	fa := &countingFetcher{value: []byte(`"a"`)}
	fb := &countingFetcher{value: []byte(`"b"`)}

	a, err := qc.Get(ctx, cache.Key{"dataset", "x:y"}, fa.fetch)
	require.NoError(t, err)
	b, err := qc.Get(ctx, cache.Key{"dataset", "x", "y"}, fb.fetch)
	require.NoError(t, err)

	assert.Equal(t, []byte(`"a"`), a)
	assert.Equal(t, []byte(`"b"`), b)
	assert.Equal(t, int32(1), fb.calls.Load())
}

func TestInvalidate_IsIdempotent(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	f := &countingFetcher{value: []byte(`[]`)}
	ctx := context.Background()

	_, err := qc.Get(ctx, cache.ModelsKey(), f.fetch)
	require.NoError(t, err)

	for n := 1; n <= 5; n++ {
		before := f.calls.Load()
		for i := 0; i < n; i++ {
			qc.Invalidate(cache.ModelsKey())
		}
		_, err := qc.Get(ctx, cache.ModelsKey(), f.fetch)
		require.NoError(t, err)
		_, err = qc.Get(ctx, cache.ModelsKey(), f.fetch)
		require.NoError(t, err)

		assert.Equal(t, before+1, f.calls.Load(), "invalidating %d times should cause exactly one refetch", n)
	}
}

func TestInvalidate_DoesNoIO(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	f := &countingFetcher{value: []byte(`[]`)}

	qc.Invalidate(cache.DatasetsKey())
	qc.InvalidatePrefix(cache.TasksPrefix())

	assert.Equal(t, int32(0), f.calls.Load())
	assert.Equal(t, 1, qc.Stats(cache.DatasetsKey()).Invalidations)
}

func TestInvalidatePrefix_MatchesSegments(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	ctx := context.Background()
	f := &countingFetcher{value: []byte(`[]`)}

	for _, k := range []cache.Key{cache.TasksKey(24), cache.TasksKey(1), cache.ModelsKey()} {
		_, err := qc.Get(ctx, k, f.fetch)
		require.NoError(t, err)
	}

	qc.InvalidatePrefix(cache.TasksPrefix())

	assert.True(t, qc.Stats(cache.TasksKey(24)).Stale)
	assert.True(t, qc.Stats(cache.TasksKey(1)).Stale)
	assert.False(t, qc.Stats(cache.ModelsKey()).Stale)
}

func TestGet_CoalescesConcurrentFetches(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	release := make(chan struct{})
	var calls atomic.Int32

	fetch := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte(`"v"`), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = qc.Get(context.Background(), cache.TasksKey(24), fetch)
		}(i)
	}

	// Give every goroutine time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []byte(`"v"`), r)
	}
}

func TestInvalidate_DuringFetchKeepsEntryStale(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(context.Context) ([]byte, error) {
		close(started)
		<-release
		return []byte(`"old"`), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = qc.Get(context.Background(), cache.ModelsKey(), fetch)
	}()

	<-started
	qc.Invalidate(cache.ModelsKey())
	close(release)
	<-done

	assert.True(t, qc.Stats(cache.ModelsKey()).Stale, "value fetched before invalidation must not be considered fresh")

	f := &countingFetcher{value: []byte(`"new"`)}
	val, err := qc.Get(context.Background(), cache.ModelsKey(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"new"`), val)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGet_FetchErrorKeepsPreviousValue(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	ctx := context.Background()

	ok := &countingFetcher{value: []byte(`"v1"`)}
	_, err := qc.Get(ctx, cache.DatasetsKey(), ok.fetch)
	require.NoError(t, err)

	qc.Invalidate(cache.DatasetsKey())

	broken := &countingFetcher{err: errors.New("connection refused")}
	_, err = qc.Get(ctx, cache.DatasetsKey(), broken.fetch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "datasets")

	val, found := qc.Peek(ctx, cache.DatasetsKey())
	assert.True(t, found)
	assert.Equal(t, []byte(`"v1"`), val)
	assert.True(t, qc.Stats(cache.DatasetsKey()).Stale)
}

func TestRefresh_AlwaysFetches(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	f := &countingFetcher{value: []byte(`[]`)}
	ctx := context.Background()

	_, err := qc.Get(ctx, cache.TasksKey(24), f.fetch)
	require.NoError(t, err)
	_, err = qc.Refresh(ctx, cache.TasksKey(24), f.fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 2, qc.Stats(cache.TasksKey(24)).Fetches)
}

func TestSubscribe_ReceivesEventsUnderPrefix(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	ctx := context.Background()

	var mu sync.Mutex
	var events []cache.Event
	cancel := qc.Subscribe(cache.TasksPrefix(), func(ev cache.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	f := &countingFetcher{value: []byte(`[]`)}
	_, err := qc.Get(ctx, cache.TasksKey(24), f.fetch)
	require.NoError(t, err)
	qc.Invalidate(cache.TasksKey(24))
	qc.Invalidate(cache.ModelsKey())

	cancel()
	qc.Invalidate(cache.TasksKey(24))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, cache.EventUpdated, events[0].Kind)
	assert.Equal(t, cache.EventInvalidated, events[1].Kind)
	assert.Equal(t, "tasks:24", events[1].Key.String())
}

func TestRead_Typed(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	ctx := context.Background()

	type item struct {
		ID string `json:"id"`
	}
	got, err := cache.Read(ctx, qc, cache.ModelKey("m1"), func(context.Context) (item, error) {
		return item{ID: "m1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	peeked, ok := cache.PeekAs[item](ctx, qc, cache.ModelKey("m1"))
	assert.True(t, ok)
	assert.Equal(t, got, peeked)

	_, ok = cache.PeekAs[item](ctx, qc, cache.ModelKey("missing"))
	assert.False(t, ok)
}

func TestGet_RefetchesWhenStoreEvicted(t *testing.T) {
	qc := cache.NewQueryCache(cache.NewMemoryStore(), cache.WithTTL(30*time.Millisecond))
	f := &countingFetcher{value: []byte(`[]`)}
	ctx := context.Background()

	_, err := qc.Get(ctx, cache.ModelsKey(), f.fetch)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = qc.Get(ctx, cache.ModelsKey(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

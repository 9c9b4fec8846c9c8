package poster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/omdb-search-client/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond

	posterA = "https://img.example.com/a.jpg"
	posterB = "https://img.example.com/b.jpg"
	posterC = "https://img.example.com/c.jpg"
)

func newCache(t *testing.T, fetcher Fetcher, cfg Config) *Cache {
	t.Helper()
	c, err := New(fetcher, cfg)
	require.NoError(t, err)
	return c
}

func TestCache_LoadTwiceFetchesOnce(t *testing.T) {
	stub := &testutil.StubPosters{}
	c := newCache(t, stub, DefaultConfig())

	first, err := c.Load(context.Background(), posterA)
	require.NoError(t, err)
	second, err := c.Load(context.Background(), posterA)
	require.NoError(t, err)

	assert.Equal(t, testutil.PosterBytes(posterA), first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.Count(posterA))
	assert.True(t, c.Contains(posterA))
	assert.Equal(t, 1, c.Len())
}

func TestCache_EquivalentURLsShareEntry(t *testing.T) {
	stub := &testutil.StubPosters{}
	c := newCache(t, stub, DefaultConfig())

	_, err := c.Load(context.Background(), "HTTPS://IMG.example.com/a.jpg#frag")
	require.NoError(t, err)
	_, err = c.Load(context.Background(), posterA)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Total())
}

func TestCache_ConcurrentMissesCoalesce(t *testing.T) {
	stub := &testutil.StubPosters{Gate: make(chan struct{})}
	c := newCache(t, stub, DefaultConfig())

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Load(context.Background(), posterA)
		}(i)
	}

	require.Eventually(t, func() bool { return stub.Count(posterA) == 1 }, waitFor, tick)
	close(stub.Gate)
	wg.Wait()

	assert.Equal(t, 1, stub.Count(posterA))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, testutil.PosterBytes(posterA), results[i])
	}
}

func TestCache_WithoutCoalescingFetchesPerCaller(t *testing.T) {
	stub := &testutil.StubPosters{Gate: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Coalesce = false
	c := newCache(t, stub, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Load(context.Background(), posterA)
		}()
	}

	require.Eventually(t, func() bool { return stub.Count(posterA) == 2 }, waitFor, tick)
	close(stub.Gate)
	wg.Wait()

	assert.True(t, c.Contains(posterA))
}

func TestCache_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	stub := &testutil.StubPosters{Gate: make(chan struct{})}
	c := newCache(t, stub, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, posterA)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return stub.Count(posterA) == 1 }, waitFor, tick)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(stub.Gate)
	require.Eventually(t, func() bool { return c.Contains(posterA) }, waitFor, tick)
	assert.Equal(t, 1, stub.Count(posterA))
}

func TestCache_FailuresNotCachedByDefault(t *testing.T) {
	stub := &testutil.StubPosters{Fail: map[string]bool{posterA: true}}
	c := newCache(t, stub, DefaultConfig())

	_, err := c.Load(context.Background(), posterA)
	assert.ErrorIs(t, err, testutil.ErrStubPoster)
	_, err = c.Load(context.Background(), posterA)
	assert.ErrorIs(t, err, testutil.ErrStubPoster)

	assert.Equal(t, 2, stub.Count(posterA))
	assert.False(t, c.Contains(posterA))
}

func TestCache_FailureTTLReplaysError(t *testing.T) {
	stub := &testutil.StubPosters{Fail: map[string]bool{posterA: true}}
	cfg := DefaultConfig()
	cfg.FailureTTL = time.Hour
	c := newCache(t, stub, cfg)

	_, err := c.Load(context.Background(), posterA)
	require.ErrorIs(t, err, testutil.ErrStubPoster)
	_, err = c.Load(context.Background(), posterA)
	require.ErrorIs(t, err, testutil.ErrStubPoster)
	assert.Equal(t, 1, stub.Count(posterA))

	c.Purge()
	_, _ = c.Load(context.Background(), posterA)
	assert.Equal(t, 2, stub.Count(posterA))
}

func TestCache_FailureTTLExpires(t *testing.T) {
	stub := &testutil.StubPosters{Fail: map[string]bool{posterA: true}}
	cfg := DefaultConfig()
	cfg.FailureTTL = 20 * time.Millisecond
	c := newCache(t, stub, cfg)

	_, _ = c.Load(context.Background(), posterA)
	time.Sleep(40 * time.Millisecond)
	_, _ = c.Load(context.Background(), posterA)

	assert.Equal(t, 2, stub.Count(posterA))
}

func TestCache_MaxEntriesEvictsLeastRecentlyUsed(t *testing.T) {
	stub := &testutil.StubPosters{}
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c := newCache(t, stub, cfg)

	ctx := context.Background()
	for _, u := range []string{posterA, posterB} {
		_, err := c.Load(ctx, u)
		require.NoError(t, err)
	}
	// touch a so b becomes the eviction candidate
	_, err := c.Load(ctx, posterA)
	require.NoError(t, err)
	_, err = c.Load(ctx, posterC)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Contains(posterA))
	assert.False(t, c.Contains(posterB))
	assert.True(t, c.Contains(posterC))
}

func TestCache_LoadAsync(t *testing.T) {
	stub := &testutil.StubPosters{}
	c := newCache(t, stub, DefaultConfig())

	miss := c.LoadAsync(context.Background(), posterA)
	select {
	case r := <-miss:
		require.NoError(t, r.Err)
		assert.Equal(t, testutil.PosterBytes(posterA), r.Data)
	case <-time.After(waitFor):
		t.Fatal("async load did not complete")
	}

	hit := c.LoadAsync(context.Background(), posterA)
	select {
	case r := <-hit:
		require.NoError(t, r.Err)
		assert.Equal(t, testutil.PosterBytes(posterA), r.Data)
	default:
		t.Fatal("cache hit should be ready immediately")
	}
	assert.Equal(t, 1, stub.Count(posterA))
}

func TestCache_InvalidURL(t *testing.T) {
	stub := &testutil.StubPosters{}
	c := newCache(t, stub, DefaultConfig())

	_, err := c.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = c.Load(context.Background(), "/relative/a.jpg")
	assert.Error(t, err)

	r := <-c.LoadAsync(context.Background(), "  ")
	assert.ErrorIs(t, r.Err, ErrEmptyURL)

	assert.Zero(t, stub.Total())
	assert.False(t, c.Contains(""))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxEntries = -1
	_, err = New(&testutil.StubPosters{}, cfg)
	assert.Error(t, err)
}

func TestCache_Purge(t *testing.T) {
	stub := &testutil.StubPosters{}
	cfg := DefaultConfig()
	cfg.MaxEntries = 8
	c := newCache(t, stub, cfg)

	_, err := c.Load(context.Background(), posterA)
	require.NoError(t, err)
	c.Purge()

	assert.Zero(t, c.Len())
	assert.False(t, c.Contains(posterA))
}

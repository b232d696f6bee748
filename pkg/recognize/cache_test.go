package recognize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineCacheConstructsOncePerKey(t *testing.T) {
	factory := newFakeFactory(nil)
	factory.started = make(chan struct{}, 100)
	factory.gate = make(chan struct{})

	cache := NewEngineCache(factory.build, newTestLogger())
	pass := mustPass(t, "ch_sim", "en")

	const callers = 20
	var wg sync.WaitGroup
	engines := make([]Engine, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engines[i], errs[i] = cache.Get(context.Background(), pass)
		}(i)
	}

	<-factory.started
	// Give the other callers time to pile up behind the first construction.
	time.Sleep(50 * time.Millisecond)
	close(factory.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, engines[0], engines[i])
	}
	assert.Equal(t, 1, factory.constructions(pass.Key()))
	assert.Equal(t, 1, cache.Len())
}

func TestEngineCacheKeysByLanguageSet(t *testing.T) {
	factory := newFakeFactory(nil)
	cache := NewEngineCache(factory.build, newTestLogger())

	a, err := cache.Get(context.Background(), mustPass(t, "ch_sim", "en"))
	require.NoError(t, err)
	b, err := cache.Get(context.Background(), mustPass(t, "en", "ch_sim"))
	require.NoError(t, err)
	c, err := cache.Get(context.Background(), mustPass(t, "ch_tra", "en"))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, cache.Len())
}

func TestEngineCacheDoesNotCacheFailures(t *testing.T) {
	factory := newFakeFactory(nil)
	factory.err = errors.New("model download failed")
	cache := NewEngineCache(factory.build, newTestLogger())
	pass := mustPass(t, "ja", "en")

	_, err := cache.Get(context.Background(), pass)
	assert.Error(t, err)

	factory.mu.Lock()
	factory.err = nil
	factory.mu.Unlock()

	_, err = cache.Get(context.Background(), pass)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.constructions(pass.Key()))
}

func TestEngineCacheWaiterCanGiveUp(t *testing.T) {
	factory := newFakeFactory(nil)
	factory.started = make(chan struct{}, 1)
	factory.gate = make(chan struct{})
	cache := NewEngineCache(factory.build, newTestLogger())
	pass := mustPass(t, "ko", "en")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, pass)
		done <- err
	}()

	<-factory.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(factory.gate)
	engine, err := cache.Get(context.Background(), pass)
	require.NoError(t, err)
	assert.NotNil(t, engine)
	assert.Equal(t, 1, factory.constructions(pass.Key()))
}

func TestEngineCacheClose(t *testing.T) {
	factory := newFakeFactory(nil)
	cache := NewEngineCache(factory.build, newTestLogger())
	pass := mustPass(t, "ar", "en")

	_, err := cache.Get(context.Background(), pass)
	require.NoError(t, err)

	require.NoError(t, cache.Close())
	assert.True(t, factory.engine(pass.Key()).closed.Load())
	assert.Equal(t, 0, cache.Len())

	_, err = cache.Get(context.Background(), pass)
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestEngineCacheRejectsZeroPass(t *testing.T) {
	cache := NewEngineCache(newFakeFactory(nil).build, newTestLogger())

	_, err := cache.Get(context.Background(), Pass{})
	assert.ErrorIs(t, err, ErrInvalidPass)
}

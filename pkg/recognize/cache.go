package recognize

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrCacheClosed is returned by Get after Close.
var ErrCacheClosed = errors.New("engine cache closed")

// Engine runs recognition for the one pass it was constructed for.
type Engine interface {
	Recognize(ctx context.Context, image []byte) ([]Detection, error)
	Close() error
}

// EngineFactory constructs an engine for a pass. Construction is expected
// to be slow (model loading).
type EngineFactory func(ctx context.Context, pass Pass) (Engine, error)

// EngineCache holds one engine per pass key for the life of the process.
// Concurrent requests for a key that is still being built wait for the
// first construction instead of starting their own.
type EngineCache struct {
	factory EngineFactory
	logger  *logrus.Logger

	mu      sync.RWMutex
	engines map[string]Engine
	closed  bool

	group singleflight.Group
}

// NewEngineCache creates an empty cache.
func NewEngineCache(factory EngineFactory, logger *logrus.Logger) *EngineCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &EngineCache{
		factory: factory,
		logger:  logger,
		engines: make(map[string]Engine),
	}
}

// Get returns the engine for pass, constructing it on first use. A failed
// construction is not cached.
func (c *EngineCache) Get(ctx context.Context, pass Pass) (Engine, error) {
	if pass.IsZero() {
		return nil, ErrInvalidPass
	}
	key := pass.Key()

	c.mu.RLock()
	engine, ok := c.engines[key]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrCacheClosed
	}
	if ok {
		return engine, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.RLock()
		engine, ok := c.engines[key]
		c.mu.RUnlock()
		if ok {
			return engine, nil
		}

		c.logger.WithField("pass", key).Info("Constructing recognition engine")

		// Waiters share this construction, so one caller giving up must
		// not abort it for the rest.
		engine, err := c.factory(context.WithoutCancel(ctx), pass)
		engineConstructions.WithLabelValues(key, statusLabel(err)).Inc()
		if err != nil {
			c.logger.WithError(err).WithField("pass", key).Error("Failed to construct recognition engine")
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			engine.Close()
			return nil, ErrCacheClosed
		}
		c.engines[key] = engine
		return engine, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of constructed engines.
func (c *EngineCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.engines)
}

// Close shuts down every cached engine. Later Get calls fail.
func (c *EngineCache) Close() error {
	c.mu.Lock()
	engines := c.engines
	c.engines = make(map[string]Engine)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for key, engine := range engines {
		if err := engine.Close(); err != nil {
			c.logger.WithError(err).WithField("pass", key).Warn("Failed to close recognition engine")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

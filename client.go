package unirpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// Client hands out sessions for one or more PoolKeys. With Pooling set,
// each PoolKey gets its own pool, created on first use and kept until
// Close; otherwise every Session call opens a standalone session.
type Client struct {
	config      Config
	poolFactory PoolFactory
	log         logrus.FieldLogger

	pools *xsync.MapOf[uint64, *keyedPool]

	// constructor overrides session creation, for testing purposes only
	constructor func(ctx context.Context, config Config) (*Session, error)

	stopReaper chan struct{}
	reaperDone sync.WaitGroup
	closeOnce  sync.Once

	stats   sessionStatsCollector
	metrics *clientMetrics
}

// keyedPool wraps a pool and a circuit breaker with the key they serve.
type keyedPool struct {
	key            PoolKey
	config         Config
	pool           Pool                                // nil when pooling is off
	circuitBreaker *gobreaker.CircuitBreaker[*Session] // nil if not configured
}

// KeyedPoolStats contains stats for a single PoolKey.
type KeyedPoolStats struct {
	Key                  PoolKey
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

// NewClient creates a client for config. The config's PoolKey is the
// default one used by Session.
func NewClient(config Config) (*Client, error) {
	config = config.withDefaults()
	if config.Host == "" {
		return nil, fmt.Errorf("unirpc: no host configured")
	}
	if _, err := lookupEncoding(config.Encoding); err != nil {
		return nil, err
	}

	poolFactory := config.Pool
	if poolFactory == nil {
		poolFactory = NewQueuePool
	}

	c := &Client{
		config:      config,
		poolFactory: poolFactory,
		log:         config.Logger,
		pools:       xsync.NewMapOf[uint64, *keyedPool](),
		stopReaper:  make(chan struct{}),
	}
	c.metrics = newClientMetrics(c)

	if config.Pooling {
		c.reaperDone.Add(1)
		go c.reapLoop()
	}
	return c, nil
}

// Session returns a session for the client's own credentials.
// Close the session when done: pooled sessions go back to their pool.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	return c.SessionFor(ctx, c.config.Key())
}

// SessionFor returns a session for key, sharing every other setting
// with the client's config.
func (c *Client) SessionFor(ctx context.Context, key PoolKey) (*Session, error) {
	kp, err := c.getOrCreatePool(key)
	if err != nil {
		return nil, err
	}

	if kp.circuitBreaker == nil {
		return c.open(ctx, kp)
	}
	return kp.circuitBreaker.Execute(func() (*Session, error) {
		return c.open(ctx, kp)
	})
}

func (c *Client) open(ctx context.Context, kp *keyedPool) (*Session, error) {
	if kp.pool != nil {
		return kp.pool.Acquire(ctx)
	}
	return c.newSession(ctx, kp.config)
}

// getOrCreatePool returns the pool for key, creating it on first use.
func (c *Client) getOrCreatePool(key PoolKey) (*keyedPool, error) {
	hash := key.hash()
	if kp, ok := c.pools.Load(hash); ok {
		return kp, nil
	}

	var createErr error
	kp, _ := c.pools.LoadOrTryCompute(hash, func() (*keyedPool, bool) {
		kp, err := c.createPool(key)
		if err != nil {
			createErr = err
			return nil, true
		}
		return kp, false
	})
	if createErr != nil {
		return nil, createErr
	}
	return kp, nil
}

func (c *Client) createPool(key PoolKey) (*keyedPool, error) {
	config := c.config
	config.Host = key.Host
	config.User = key.User
	config.Account = key.Account
	config.Password = key.Password

	kp := &keyedPool{key: key, config: config}
	if c.config.NewCircuitBreaker != nil {
		kp.circuitBreaker = c.config.NewCircuitBreaker(key)
	}

	if config.Pooling {
		constructor := func(ctx context.Context) (*Session, error) {
			return c.newSession(ctx, config)
		}
		pool, err := c.poolFactory(key, constructor, config)
		if err != nil {
			return nil, err
		}
		kp.pool = pool
		c.metrics.registerPool(kp)
		c.log.WithField("pool", key.String()).Debug("pool created")
	}
	return kp, nil
}

// newSession opens a session that reports its calls to the client.
func (c *Client) newSession(ctx context.Context, config Config) (*Session, error) {
	if c.constructor != nil {
		return c.constructor(ctx, config)
	}

	s, err := NewSession(config)
	if err != nil {
		return nil, err
	}
	s.onCall = c.observeCall
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Client) observeCall(duration time.Duration, sent, recv int, err error) {
	c.stats.recordCall(duration, sent, recv, err)
	c.metrics.callDuration.Update(duration.Seconds())
}

// reapLoop evicts idle sessions from every pool on IdleRemoveInterval.
func (c *Client) reapLoop() {
	defer c.reaperDone.Done()

	ticker := time.NewTicker(c.config.IdleRemoveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopReaper:
			return
		case <-ticker.C:
			c.ReapIdle()
		}
	}
}

// ReapIdle runs one idle eviction pass over all pools and returns the
// number of sessions closed.
func (c *Client) ReapIdle() int {
	total := 0
	c.pools.Range(func(_ uint64, kp *keyedPool) bool {
		if kp.pool != nil {
			total += kp.pool.ReapIdle(c.config.IdleRemoveThreshold)
		}
		return true
	})
	return total
}

// AllPoolStats returns stats for every PoolKey the client has served.
func (c *Client) AllPoolStats() []KeyedPoolStats {
	var all []KeyedPoolStats
	c.pools.Range(func(_ uint64, kp *keyedPool) bool {
		all = append(all, kp.stats())
		return true
	})
	return all
}

// Stats returns call statistics aggregated over all sessions the client opened.
func (c *Client) Stats() SessionStats {
	return c.stats.snapshot()
}

func (kp *keyedPool) stats() KeyedPoolStats {
	stats := KeyedPoolStats{Key: kp.key}
	if kp.pool != nil {
		stats.PoolStats = kp.pool.Stats()
	}
	if kp.circuitBreaker != nil {
		stats.CircuitBreakerState = kp.circuitBreaker.State()
		stats.CircuitBreakerCounts = kp.circuitBreaker.Counts()
	}
	return stats
}

// Close stops the reaper and closes all pools.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopReaper)
		c.reaperDone.Wait()

		c.pools.Range(func(hash uint64, kp *keyedPool) bool {
			if kp.pool != nil {
				kp.pool.Close()
			}
			c.pools.Delete(hash)
			return true
		})
	})
}

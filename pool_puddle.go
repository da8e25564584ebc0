package unirpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/sirupsen/logrus"
)

// NewPuddlePool creates a pool backed by jackc/puddle.
// This is an alternative pool implementation: Config{Pool: unirpc.NewPuddlePool}.
func NewPuddlePool(key PoolKey, constructor func(ctx context.Context) (*Session, error), config Config) (Pool, error) {
	config = config.withDefaults()

	p := &puddlePool{
		minSize:   config.MinPoolSize,
		maxWait:   config.MaxWaitTime,
		timeout:   config.Timeout,
		log:       config.Logger.WithField("pool", key.String()),
		resources: make(map[*Session]*puddle.Resource[*Session]),
	}

	poolConfig := &puddle.Config[*Session]{
		Constructor: func(ctx context.Context) (*Session, error) {
			s, err := constructor(ctx)
			if err == nil {
				s.pool = p
				p.createdSessions.Add(1)
			}
			return s, err
		},
		Destructor: func(s *Session) {
			p.destroyedSessions.Add(1)
			_ = s.hardClose()
		},
		MaxSize: int32(config.MaxPoolSize),
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool

	if p.minSize > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.fill(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("unirpc: opening %d sessions for %s: %w", p.minSize, key, err)
		}
	}
	return p, nil
}

// puddlePool wraps puddle.Pool to implement our Pool interface.
type puddlePool struct {
	pool    *puddle.Pool[*Session]
	minSize int
	maxWait time.Duration
	timeout time.Duration
	log     logrus.FieldLogger

	mu        sync.Mutex
	resources map[*Session]*puddle.Resource[*Session]

	createdSessions   atomic.Int64
	destroyedSessions atomic.Int64
	unhealthy         atomic.Int64
	reaped            atomic.Int64
}

func (p *puddlePool) Acquire(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()

	for {
		res, err := p.pool.Acquire(ctx)
		if err != nil {
			switch {
			case errors.Is(err, puddle.ErrClosedPool):
				return nil, ErrPoolClosed
			case errors.Is(err, context.DeadlineExceeded):
				return nil, fmt.Errorf("%w: %w", ErrPoolTimeout, err)
			}
			return nil, err
		}

		s := res.Value()
		if !s.HealthCheck() {
			p.unhealthy.Add(1)
			p.discard(res)
			continue
		}

		p.mu.Lock()
		p.resources[s] = res
		p.mu.Unlock()
		return s, nil
	}
}

func (p *puddlePool) Release(s *Session) {
	p.mu.Lock()
	res, ok := p.resources[s]
	delete(p.resources, s)
	p.mu.Unlock()
	if !ok {
		p.log.WithField("session", s.ID()).Warn("release of a session the pool does not own")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	healthy := s.Reset(ctx) && s.HealthCheck()
	cancel()

	if healthy {
		res.Release()
		return
	}

	p.unhealthy.Add(1)
	p.discard(res)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.fill(ctx); err != nil {
			p.log.WithError(err).Warn("pool top-up failed")
		}
	}()
}

// discard takes res out of the pool and closes its session before
// returning, so the pool size is accurate for the next fill.
func (p *puddlePool) discard(res *puddle.Resource[*Session]) {
	s := res.Value()
	res.Hijack()
	p.destroyedSessions.Add(1)
	_ = s.hardClose()
}

// fill creates idle sessions until the pool holds minSize.
func (p *puddlePool) fill(ctx context.Context) error {
	for int(p.pool.Stat().TotalResources()) < p.minSize {
		if err := p.pool.CreateResource(ctx); err != nil {
			if errors.Is(err, puddle.ErrNotAvailable) || errors.Is(err, puddle.ErrClosedPool) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (p *puddlePool) ReapIdle(threshold time.Duration) int {
	idle := p.pool.AcquireAllIdle()
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].IdleDuration() > idle[j].IdleDuration()
	})

	total := int(p.pool.Stat().TotalResources())
	reaped := 0
	for _, res := range idle {
		if total > p.minSize && res.IdleDuration() > threshold {
			p.discard(res)
			total--
			reaped++
			continue
		}
		res.ReleaseUnused()
	}
	p.reaped.Add(int64(reaped))
	return reaped
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool statistics by converting puddle's stats to our format.
func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalSessions:     s.TotalResources(),
		IdleSessions:      s.IdleResources(),
		ActiveSessions:    s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedSessions:   uint64(p.createdSessions.Load()),
		DestroyedSessions: uint64(p.destroyedSessions.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
		Unhealthy:         uint64(p.unhealthy.Load()),
		Reaped:            uint64(p.reaped.Load()),
	}
}

package unirpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pior/unirpc/internal/coarsetime"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pool owns the sessions of one PoolKey.
type Pool interface {
	// Acquire returns a healthy session, creating one when the pool is
	// under its maximum size, or waits for a release up to MaxWaitTime.
	Acquire(ctx context.Context) (*Session, error)

	// Release resets and health-checks s, then makes it available again.
	// Sessions that fail are closed and the pool is topped up to its
	// minimum size in the background.
	Release(s *Session)

	// ReapIdle closes sessions idle for longer than threshold, oldest
	// first, never shrinking the pool below its minimum size.
	ReapIdle(threshold time.Duration) int

	// Stats returns a snapshot of pool statistics.
	Stats() PoolStats

	// Close closes idle sessions and makes sessions released later close
	// instead of returning to the pool.
	Close()
}

// PoolFactory builds a Pool around a session constructor.
type PoolFactory func(key PoolKey, constructor func(ctx context.Context) (*Session, error), config Config) (Pool, error)

// minWaitSlice bounds how finely Acquire splits its wait.
const minWaitSlice = time.Millisecond

// NewQueuePool creates the default pool: a FIFO queue of available
// sessions and a set of busy ones, guarded by one mutex. It opens
// MinPoolSize sessions before returning.
func NewQueuePool(key PoolKey, constructor func(ctx context.Context) (*Session, error), config Config) (Pool, error) {
	config = config.withDefaults()

	p := &queuePool{
		key:         key,
		constructor: constructor,
		minSize:     config.MinPoolSize,
		maxSize:     config.MaxPoolSize,
		maxWait:     config.MaxWaitTime,
		timeout:     config.Timeout,
		log:         config.Logger.WithField("pool", key.String()),
		busy:        make(map[*Session]struct{}, config.MaxPoolSize),
		signal:      make(chan struct{}, 1),
	}

	if p.minSize > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.fill(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("unirpc: opening %d sessions for %s: %w", p.minSize, key, err)
		}
	}
	return p, nil
}

type queuePool struct {
	key         PoolKey
	constructor func(ctx context.Context) (*Session, error)
	minSize     int
	maxSize     int
	maxWait     time.Duration
	timeout     time.Duration
	log         logrus.FieldLogger

	mu        sync.Mutex
	available []*Session // front is the longest idle
	busy      map[*Session]struct{}
	creating  int
	closed    bool

	// signal holds at most one pending "a session became available".
	signal chan struct{}

	topUps sync.WaitGroup
	stats  poolStatsCollector
}

// total counts sessions that exist or are being created. Requires p.mu.
func (p *queuePool) total() int {
	return len(p.available) + len(p.busy) + p.creating
}

// updateGauges requires p.mu.
func (p *queuePool) updateGauges() {
	p.stats.setGauges(len(p.available), len(p.busy))
}

func (p *queuePool) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *queuePool) Acquire(ctx context.Context) (*Session, error) {
	p.stats.recordAcquire()

	deadline := time.Now().Add(p.maxWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s, err := p.acquire(ctx, deadline)
	if err != nil {
		p.stats.recordAcquireError()
		return nil, err
	}
	return s, nil
}

// acquire never hands out a session that fails its health check; it
// discards it and starts over with whatever budget is left.
func (p *queuePool) acquire(ctx context.Context, deadline time.Time) (*Session, error) {
	s, err := p.take(ctx, deadline)
	if err != nil {
		return nil, err
	}
	if s.HealthCheck() {
		return s, nil
	}

	p.stats.recordUnhealthy()
	p.log.WithField("session", s.ID()).Debug("discarding unhealthy session")
	p.discard(s)

	if !time.Now().Before(deadline) {
		return nil, ErrPoolTimeout
	}
	return p.acquire(ctx, deadline)
}

// take pops the oldest available session or creates one while under the
// maximum. Otherwise it waits for a release in slices of a tenth of
// MaxWaitTime, retrying both between slices.
func (p *queuePool) take(ctx context.Context, deadline time.Time) (*Session, error) {
	slice := max(p.maxWait/10, minWaitSlice)
	var waitStart time.Time

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if len(p.available) > 0 {
			s := p.available[0]
			p.available[0] = nil
			p.available = p.available[1:]
			p.busy[s] = struct{}{}
			p.updateGauges()
			p.mu.Unlock()

			if !waitStart.IsZero() {
				p.stats.recordAcquireWait(time.Since(waitStart))
			}
			return s, nil
		}

		if p.total() < p.maxSize {
			p.creating++
			p.mu.Unlock()
			return p.create(ctx)
		}
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrPoolTimeout
		}
		if waitStart.IsZero() {
			waitStart = time.Now()
		}

		timer := time.NewTimer(min(slice, remaining))
		select {
		case <-p.signal:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", ErrPoolTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// create runs the constructor for a slot already reserved in p.creating
// and registers the session as busy.
func (p *queuePool) create(ctx context.Context) (*Session, error) {
	s, err := p.constructor(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		p.notify()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		_ = s.hardClose()
		return nil, ErrPoolClosed
	}
	s.pool = p
	p.busy[s] = struct{}{}
	p.updateGauges()
	p.mu.Unlock()

	p.stats.recordCreate()
	return s, nil
}

func (p *queuePool) Release(s *Session) {
	p.mu.Lock()
	if _, ok := p.busy[s]; !ok {
		p.mu.Unlock()
		p.log.WithField("session", s.ID()).Warn("release of a session the pool does not own")
		return
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		p.discard(s)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	healthy := s.Reset(ctx) && s.HealthCheck()
	cancel()

	if !healthy {
		p.stats.recordUnhealthy()
		p.log.WithField("session", s.ID()).Debug("released session failed reset or health check")
		p.discard(s)
		p.topUp()
		return
	}

	p.mu.Lock()
	delete(p.busy, s)
	if p.closed {
		p.updateGauges()
		p.mu.Unlock()
		p.destroy(s)
		return
	}
	s.idleSince = coarsetime.Now()
	p.available = append(p.available, s)
	p.updateGauges()
	p.mu.Unlock()

	p.notify()
}

// discard drops a busy session from the pool and closes it.
func (p *queuePool) discard(s *Session) {
	p.mu.Lock()
	delete(p.busy, s)
	p.updateGauges()
	p.mu.Unlock()

	p.destroy(s)
	p.notify()
}

func (p *queuePool) destroy(s *Session) {
	if err := s.hardClose(); err != nil {
		p.log.WithError(err).WithField("session", s.ID()).Debug("error closing session")
	}
	p.stats.recordDestroy()
}

// topUp refills the pool to its minimum size in the background.
// It reports whether a refill was started; a closed pool is never refilled.
func (p *queuePool) topUp() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.topUps.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.topUps.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.fill(ctx); err != nil {
			p.log.WithError(err).Warn("pool top-up failed")
		}
	}()
	return true
}

// fill creates sessions concurrently until the pool holds minSize.
func (p *queuePool) fill(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	need := p.minSize - p.total()
	if need <= 0 {
		p.mu.Unlock()
		return nil
	}
	p.creating += need
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for range need {
		g.Go(func() error {
			s, err := p.constructor(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.mu.Unlock()
				return err
			}
			if p.closed {
				p.mu.Unlock()
				_ = s.hardClose()
				return nil
			}
			s.pool = p
			s.idleSince = coarsetime.Now()
			p.available = append(p.available, s)
			p.updateGauges()
			p.mu.Unlock()

			p.stats.recordCreate()
			p.notify()
			return nil
		})
	}
	return g.Wait()
}

func (p *queuePool) ReapIdle(threshold time.Duration) int {
	p.mu.Lock()
	var victims []*Session
	for len(p.available) > 0 && len(p.available)+len(p.busy) > p.minSize {
		front := p.available[0]
		if front.idleDuration() <= threshold {
			break
		}
		p.available[0] = nil
		p.available = p.available[1:]
		victims = append(victims, front)
	}
	p.updateGauges()
	p.mu.Unlock()

	for _, s := range victims {
		p.destroy(s)
	}
	if len(victims) > 0 {
		p.stats.recordReaped(len(victims))
		p.log.WithField("count", len(victims)).Debug("reaped idle sessions")
	}
	return len(victims)
}

func (p *queuePool) Stats() PoolStats {
	return p.stats.snapshot()
}

func (p *queuePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.available
	p.available = nil
	p.updateGauges()
	p.mu.Unlock()

	p.notify()
	for _, s := range idle {
		p.destroy(s)
	}
	p.topUps.Wait()
}

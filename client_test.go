package unirpc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pior/unirpc/internal/testutils"
	"github.com/pior/unirpc/packet"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Logger: testLogger()})
	require.Error(t, err)

	_, err = NewClient(Config{Host: "h", Encoding: "no-such-charset", Logger: testLogger()})
	require.Error(t, err)
}

// stubClient returns a client whose sessions are in-memory pipes.
func stubClient(t *testing.T, config Config) (*Client, *sessionLog) {
	t.Helper()
	if config.Host == "" {
		config.Host = "db1"
	}
	config.Logger = testLogger()

	client, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	log := &sessionLog{}
	client.constructor = func(ctx context.Context, config Config) (*Session, error) {
		log.record(config)
		if err := log.failure(); err != nil {
			return nil, err
		}
		s, _ := pipeSession(t)
		return s, nil
	}
	return client, log
}

type sessionLog struct {
	mu      sync.Mutex
	configs []Config
	err     error
}

func (l *sessionLog) record(c Config) {
	l.mu.Lock()
	l.configs = append(l.configs, c)
	l.mu.Unlock()
}

func (l *sessionLog) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *sessionLog) failWith(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *sessionLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.configs)
}

func TestClient_StandaloneSessions(t *testing.T) {
	client, log := stubClient(t, Config{User: "alice", Account: "XDEMO"})

	s1, err := client.Session(t.Context())
	require.NoError(t, err)
	s2, err := client.Session(t.Context())
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, log.count())

	require.NoError(t, s1.Close())
	assert.Equal(t, StateClosed, s1.State())
	require.NoError(t, s2.Close())

	stats := client.AllPoolStats()
	require.Len(t, stats, 1)
	assert.Zero(t, stats[0].PoolStats.TotalSessions)
}

func TestClient_PoolPerKey(t *testing.T) {
	client, log := stubClient(t, Config{User: "alice", Account: "XDEMO", Pooling: true, MinPoolSize: 0, MaxPoolSize: 2})

	keyA := PoolKey{Host: "db1", User: "alice", Account: "XDEMO", Password: "a"}
	keyB := PoolKey{Host: "db1", User: "bob", Account: "XDEMO", Password: "b"}

	sa, err := client.SessionFor(t.Context(), keyA)
	require.NoError(t, err)
	require.NoError(t, sa.Close())

	sa2, err := client.SessionFor(t.Context(), keyA)
	require.NoError(t, err)
	assert.Same(t, sa, sa2, "released session is reused")
	require.NoError(t, sa2.Close())

	sb, err := client.SessionFor(t.Context(), keyB)
	require.NoError(t, err)
	defer sb.Close()
	assert.NotSame(t, sa, sb)

	require.Equal(t, 2, log.count())
	assert.Equal(t, "alice", log.configs[0].User)
	assert.Equal(t, "a", log.configs[0].Password)
	assert.Equal(t, "bob", log.configs[1].User)

	stats := client.AllPoolStats()
	require.Len(t, stats, 2)
	byUser := map[string]KeyedPoolStats{}
	for _, s := range stats {
		byUser[s.Key.User] = s
	}
	assert.Equal(t, uint64(2), byUser["alice"].PoolStats.AcquireCount)
	assert.Equal(t, int32(1), byUser["alice"].PoolStats.IdleSessions)
	assert.Equal(t, int32(1), byUser["bob"].PoolStats.ActiveSessions)
}

func TestClient_ConcurrentFirstUseCreatesOnePool(t *testing.T) {
	var created int
	var mu sync.Mutex
	factory := func(key PoolKey, constructor func(ctx context.Context) (*Session, error), config Config) (Pool, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return NewQueuePool(key, constructor, config)
	}

	client, _ := stubClient(t, Config{Pooling: true, MinPoolSize: 0, MaxPoolSize: 20, Pool: factory})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := client.Session(context.Background())
			if assert.NoError(t, err) {
				_ = s.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, client.AllPoolStats(), 1)
}

func TestClient_PoolCreationFailureIsNotCached(t *testing.T) {
	errBoom := errors.New("boom")
	client, log := stubClient(t, Config{Pooling: true, MinPoolSize: 1, MaxPoolSize: 2})

	log.failWith(errBoom)
	_, err := client.Session(t.Context())
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, client.AllPoolStats())

	log.failWith(nil)
	s, err := client.Session(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Len(t, client.AllPoolStats(), 1)
}

func TestClient_ReapIdle(t *testing.T) {
	client, _ := stubClient(t, Config{
		Pooling:             true,
		MinPoolSize:         0,
		MaxPoolSize:         5,
		IdleRemoveThreshold: 100 * time.Millisecond,
	})

	var sessions []*Session
	for range 3 {
		s, err := client.Session(t.Context())
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		require.NoError(t, s.Close())
	}

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 3, client.ReapIdle())
}

func TestClient_CircuitBreakerOpensOnTransportErrors(t *testing.T) {
	client, log := stubClient(t, Config{
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	log.failWith(&TransportError{Op: "dial", Code: CodeRPCRefused})

	for range 3 {
		_, err := client.Session(t.Context())
		var te *TransportError
		require.ErrorAs(t, err, &te)
	}

	_, err := client.Session(t.Context())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, ClassPool, Classify(err))
	assert.Equal(t, 3, log.count(), "an open breaker does not dial")

	stats := client.AllPoolStats()
	require.Len(t, stats, 1)
	assert.Equal(t, gobreaker.StateOpen, stats[0].CircuitBreakerState)
}

func TestClient_CircuitBreakerIgnoresServerErrors(t *testing.T) {
	client, log := stubClient(t, Config{
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	})
	log.failWith(&ServerError{Code: CodeBadLogin})

	for range 5 {
		_, err := client.Session(t.Context())
		var serverErr *ServerError
		require.ErrorAs(t, err, &serverErr)
	}
	assert.Equal(t, 5, log.count())
	assert.Equal(t, gobreaker.StateClosed, client.AllPoolStats()[0].CircuitBreakerState)
}

func TestClient_EndToEnd(t *testing.T) {
	server := newFakeServer(t, fakeOptions{
		call: func(req *packet.Packet) *packet.Packet {
			return testutils.Response(packet.Int(0), packet.Bytes([]byte("pong")))
		},
	})

	config := fakeConfig(server)
	config.Pooling = true
	config.MinPoolSize = 1
	config.MaxPoolSize = 2

	client, err := NewClient(config)
	require.NoError(t, err)
	defer client.Close()

	s, err := client.Session(t.Context())
	require.NoError(t, err)

	resp, err := s.Execute(t.Context(), packet.Int(int32(FuncExecute)), packet.Bytes([]byte("PING")))
	require.NoError(t, err)
	text, err := resp.ReadString(1)
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	require.NoError(t, s.Close())

	assert.Equal(t, 1, server.Connections())
	assert.Equal(t, uint64(4), client.Stats().Calls)

	var buf bytes.Buffer
	client.WriteMetrics(&buf)
	out := buf.String()
	assert.Contains(t, out, "unirpc_calls_total 4")
	assert.Contains(t, out, "unirpc_call_duration_seconds")
	labels := poolLabels(config.Key())
	assert.Contains(t, labels, `pool="alice@127.0.0.1/XDEMO"`)
	assert.Contains(t, out, "unirpc_pool_sessions_idle{"+labels+"} 1")
	assert.Contains(t, out, "unirpc_pool_acquires_total{"+labels+"} 1")
}

func TestClient_MetricsPerPassword(t *testing.T) {
	client, _ := stubClient(t, Config{Pooling: true, MinPoolSize: 0, MaxPoolSize: 2})

	keyA := PoolKey{Host: "db1", User: "alice", Account: "XDEMO", Password: "old"}
	keyB := PoolKey{Host: "db1", User: "alice", Account: "XDEMO", Password: "new"}
	require.NotEqual(t, poolLabels(keyA), poolLabels(keyB))

	sa, err := client.SessionFor(t.Context(), keyA)
	require.NoError(t, err)
	sb, err := client.SessionFor(t.Context(), keyB)
	require.NoError(t, err)
	require.NoError(t, sb.Close())
	defer sa.Close()

	var buf bytes.Buffer
	client.WriteMetrics(&buf)
	out := buf.String()
	assert.Contains(t, out, "unirpc_pool_sessions_active{"+poolLabels(keyA)+"} 1")
	assert.Contains(t, out, "unirpc_pool_sessions_idle{"+poolLabels(keyB)+"} 1")
	assert.NotContains(t, poolLabels(keyA), "old")
}

func TestClient_Close(t *testing.T) {
	client, _ := stubClient(t, Config{Pooling: true, MinPoolSize: 2, MaxPoolSize: 2})

	s, err := client.Session(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	client.Close()
	client.Close()

	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, client.AllPoolStats())
}

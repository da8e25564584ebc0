package unirpc

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/zeebo/xxh3"
)

// Service names of the MultiValue servers.
const (
	ServiceUniVerse = "uvcs"
	ServiceUniData  = "udcs"
)

// Config holds everything a Session, Pool or Client needs. It is
// produced by the caller (flags, env, ini files) and passed by value.
type Config struct {
	Host     string
	Port     int
	Service  string
	Account  string
	User     string
	Password string

	// Timeout bounds connect and every socket read or write.
	Timeout time.Duration

	// Encoding is the IANA name of the text encoding used for user,
	// account and other strings. NLS servers force UTF-8.
	Encoding string

	// SSL requests TLS during the pre-auth exchange.
	SSL bool
	TLS TLSConfig

	// Pooling makes Client hand out pooled sessions and announces
	// pooling support to the server at login.
	Pooling             bool
	MinPoolSize         int
	MaxPoolSize         int
	MaxWaitTime         time.Duration
	IdleRemoveThreshold time.Duration
	IdleRemoveInterval  time.Duration

	// CompressionThreshold is copied to every request packet.
	CompressionThreshold int

	// LogPackets dumps every packet at debug level.
	LogPackets bool

	// Logger receives the client's logs. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// Pool is the pool factory. If nil, NewQueuePool is used.
	// Alternative: Pool: unirpc.NewPuddlePool
	Pool PoolFactory

	// NewCircuitBreaker creates a circuit breaker guarding session
	// creation for one PoolKey. If nil, no circuit breaker is used.
	NewCircuitBreaker func(key PoolKey) *gobreaker.CircuitBreaker[*Session]
}

// TLSConfig locates the certificate material for SSL sessions.
type TLSConfig struct {
	CAFile        string // PEM bundle to verify the server; system roots if empty
	CertFile      string // client certificate, when the server requires client auth
	KeyFile       string
	CheckHostname bool
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Port:                31438,
		Service:             ServiceUniVerse,
		Timeout:             300 * time.Second,
		Encoding:            "UTF-8",
		MinPoolSize:         1,
		MaxPoolSize:         10,
		MaxWaitTime:         30 * time.Second,
		IdleRemoveThreshold: 300 * time.Second,
		IdleRemoveInterval:  300 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Service == "" {
		c.Service = d.Service
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Encoding == "" {
		c.Encoding = d.Encoding
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = d.MaxPoolSize
	}
	if c.MinPoolSize < 0 {
		c.MinPoolSize = 0
	}
	if c.MinPoolSize > c.MaxPoolSize {
		c.MinPoolSize = c.MaxPoolSize
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = d.MaxWaitTime
	}
	if c.IdleRemoveThreshold <= 0 {
		c.IdleRemoveThreshold = d.IdleRemoveThreshold
	}
	if c.IdleRemoveInterval <= 0 {
		c.IdleRemoveInterval = d.IdleRemoveInterval
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Address returns host:port.
func (c Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// PoolKey identifies one logical pool.
type PoolKey struct {
	Host     string
	User     string
	Account  string
	Password string
}

// Key returns the PoolKey of the config.
func (c Config) Key() PoolKey {
	return PoolKey{Host: c.Host, User: c.User, Account: c.Account, Password: c.Password}
}

// hash identifies the key in the pool registry so the password is not
// kept as a map key.
func (k PoolKey) hash() uint64 {
	h := xxh3.New()
	for _, s := range []string{k.Host, k.User, k.Account, k.Password} {
		h.WriteString(s)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// String omits the password.
func (k PoolKey) String() string {
	return k.User + "@" + k.Host + "/" + k.Account
}

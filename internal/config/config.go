// Package config provides configuration types and loading for the resilience layer.
//
// Configuration is read once at process start and is immutable for the lifetime
// of the instance. Retry policies and circuit breaker thresholds are defined
// per dependency; dependencies without an explicit entry fall back to defaults.
package config

import (
	"fmt"
	"time"
)

// Default values applied by Validate when a field is unset or out of range.
const (
	DefaultCacheTTL          = time.Hour
	DefaultTier1MaxEntries   = 10000
	DefaultTier1MaxBytes     = 64 << 20 // 64 MiB
	DefaultCompressThreshold = 4096
	DefaultKeyPrefix         = "relay:"

	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 200 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultJitterFraction = 0.25
	DefaultCallTimeout    = 30 * time.Second

	DefaultFailureThreshold = 5
	DefaultCoolDown         = 30 * time.Second
	DefaultHalfOpenMax      = 3
	DefaultSuccessThreshold = 2
	DefaultStateTTL         = time.Hour

	DefaultDeadLetterKey     = "relay:deadletter"
	DefaultDeadLetterMaxLen  = 10000
	DefaultAlertThreshold    = 25
	DefaultAlertWindow       = 5 * time.Minute
	DefaultRedisConnTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second

	DefaultAdminAddr   = ":9090"
	DefaultMetricsPath = "/metrics"
)

// Config is the root configuration for the resilience layer.
type Config struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Redis configures the shared store used by the Tier-2 cache,
	// circuit breaker state, and the dead-letter store.
	Redis RedisConfig `yaml:"redis" json:"redis"`

	// Cache configures the two cache tiers.
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Dependencies maps dependency names to their retry and breaker policies.
	Dependencies map[string]DependencyConfig `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// DeadLetter configures the dead-letter store.
	DeadLetter DeadLetterConfig `yaml:"deadLetter" json:"deadLetter"`

	// Admin configures the administrative HTTP server (metrics, health).
	Admin AdminConfig `yaml:"admin,omitempty" json:"admin,omitempty"`
}

// AdminConfig configures the administrative HTTP server.
type AdminConfig struct {
	// Enabled controls whether the admin server is started.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Addr is the listen address, host:port.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	// MetricsPath is the path serving Prometheus metrics.
	MetricsPath string `yaml:"metricsPath,omitempty" json:"metricsPath,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// RedisConfig configures the shared Redis store.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Format: redis://[user:password@]host:port[/db]
	URL string `yaml:"url" json:"url"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`

	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
}

// CacheConfig configures the two-tier cache.
type CacheConfig struct {
	// TTL is the default time-to-live for cached entries.
	TTL Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// Tier1MaxEntries bounds the number of entries in the process-local tier.
	Tier1MaxEntries int `yaml:"tier1MaxEntries,omitempty" json:"tier1MaxEntries,omitempty"`

	// Tier1MaxBytes bounds the total payload bytes in the process-local tier.
	Tier1MaxBytes int64 `yaml:"tier1MaxBytes,omitempty" json:"tier1MaxBytes,omitempty"`

	// CompressThreshold is the payload size in bytes above which Tier-2
	// values are stored compressed.
	CompressThreshold int `yaml:"compressThreshold,omitempty" json:"compressThreshold,omitempty"`

	// KeyPrefix is prepended to all Tier-2 keys.
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`

	// TTLJitter is the maximum fraction of jitter applied to Tier-2 TTLs
	// (0.0 to 1.0) to avoid synchronized expiry.
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// DependencyConfig holds the per-dependency resilience policies.
type DependencyConfig struct {
	Retry   RetryConfig   `yaml:"retry" json:"retry"`
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`

	// CallTimeout bounds each individual attempt against the dependency.
	CallTimeout Duration `yaml:"callTimeout,omitempty" json:"callTimeout,omitempty"`
}

// RetryConfig holds the retry policy for one dependency.
type RetryConfig struct {
	// MaxAttempts is the maximum number of calls to the dependency,
	// including the first one.
	MaxAttempts int `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`

	// BaseDelay is the backoff before the first retry.
	BaseDelay Duration `yaml:"baseDelay,omitempty" json:"baseDelay,omitempty"`

	// MaxDelay caps the computed backoff.
	MaxDelay Duration `yaml:"maxDelay,omitempty" json:"maxDelay,omitempty"`

	// JitterFraction is the multiplicative jitter fraction (0.0 to 1.0).
	JitterFraction float64 `yaml:"jitterFraction,omitempty" json:"jitterFraction,omitempty"`

	// RetryableKinds lists failure kinds that trigger a retry.
	// Empty means the default set: transient, throttled, timeout.
	RetryableKinds []string `yaml:"retryableKinds,omitempty" json:"retryableKinds,omitempty"`
}

// BreakerConfig holds the circuit breaker thresholds for one dependency.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`

	// CoolDown is how long the circuit stays open before allowing trials.
	CoolDown Duration `yaml:"coolDown,omitempty" json:"coolDown,omitempty"`

	// HalfOpenMax bounds concurrent trial calls in half-open state.
	HalfOpenMax int `yaml:"halfOpenMax,omitempty" json:"halfOpenMax,omitempty"`

	// SuccessThreshold is the number of consecutive trial successes that
	// closes the circuit.
	SuccessThreshold int `yaml:"successThreshold,omitempty" json:"successThreshold,omitempty"`

	// StateTTL bounds how long shared breaker state lives without updates.
	StateTTL Duration `yaml:"stateTTL,omitempty" json:"stateTTL,omitempty"`
}

// DeadLetterConfig configures the dead-letter store.
type DeadLetterConfig struct {
	// Key is the Redis list key holding dead-letter records.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// MaxLen caps the dead-letter list length; oldest records are trimmed.
	MaxLen int64 `yaml:"maxLen,omitempty" json:"maxLen,omitempty"`

	// AlertThreshold is the number of captures within AlertWindow that
	// triggers an operator notification.
	AlertThreshold int64 `yaml:"alertThreshold,omitempty" json:"alertThreshold,omitempty"`

	// AlertWindow is the sliding window for AlertThreshold.
	AlertWindow Duration `yaml:"alertWindow,omitempty" json:"alertWindow,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.Validate()
	return cfg
}

// Validate normalizes the configuration, applying defaults to unset or
// out-of-range fields. It returns an error only for values that cannot be
// corrected, such as a malformed retryable kind name.
func (c *Config) Validate() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Redis.ConnectTimeout <= 0 {
		c.Redis.ConnectTimeout = Duration(DefaultRedisConnTimeout)
	}
	if c.Redis.ReadTimeout <= 0 {
		c.Redis.ReadTimeout = Duration(DefaultRedisReadTimeout)
	}
	if c.Redis.WriteTimeout <= 0 {
		c.Redis.WriteTimeout = Duration(DefaultRedisWriteTimeout)
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = Duration(DefaultCacheTTL)
	}
	if c.Cache.Tier1MaxEntries <= 0 {
		c.Cache.Tier1MaxEntries = DefaultTier1MaxEntries
	}
	if c.Cache.Tier1MaxBytes <= 0 {
		c.Cache.Tier1MaxBytes = DefaultTier1MaxBytes
	}
	if c.Cache.CompressThreshold <= 0 {
		c.Cache.CompressThreshold = DefaultCompressThreshold
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = DefaultKeyPrefix
	}
	if c.Cache.TTLJitter < 0 || c.Cache.TTLJitter > 1 {
		c.Cache.TTLJitter = 0
	}

	if c.Admin.Addr == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
	if c.Admin.MetricsPath == "" {
		c.Admin.MetricsPath = DefaultMetricsPath
	}

	for name, dep := range c.Dependencies {
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("dependency %q: %w", name, err)
		}
		c.Dependencies[name] = dep
	}

	if c.DeadLetter.Key == "" {
		c.DeadLetter.Key = DefaultDeadLetterKey
	}
	if c.DeadLetter.MaxLen <= 0 {
		c.DeadLetter.MaxLen = DefaultDeadLetterMaxLen
	}
	if c.DeadLetter.AlertThreshold <= 0 {
		c.DeadLetter.AlertThreshold = DefaultAlertThreshold
	}
	if c.DeadLetter.AlertWindow <= 0 {
		c.DeadLetter.AlertWindow = Duration(DefaultAlertWindow)
	}

	return nil
}

// knownKinds are the failure kind names accepted in RetryableKinds.
var knownKinds = map[string]bool{
	"transient": true,
	"throttled": true,
	"timeout":   true,
	"permanent": true,
}

// Validate normalizes a DependencyConfig.
func (d *DependencyConfig) Validate() error {
	if d.Retry.MaxAttempts <= 0 {
		d.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if d.Retry.BaseDelay <= 0 {
		d.Retry.BaseDelay = Duration(DefaultBaseDelay)
	}
	if d.Retry.MaxDelay <= 0 {
		d.Retry.MaxDelay = Duration(DefaultMaxDelay)
	}
	if d.Retry.MaxDelay < d.Retry.BaseDelay {
		d.Retry.MaxDelay = d.Retry.BaseDelay
	}
	if d.Retry.JitterFraction < 0 || d.Retry.JitterFraction > 1 {
		d.Retry.JitterFraction = DefaultJitterFraction
	}
	for _, kind := range d.Retry.RetryableKinds {
		if !knownKinds[kind] {
			return fmt.Errorf("unknown retryable kind %q", kind)
		}
		if kind == "permanent" {
			return fmt.Errorf("permanent failures are never retryable")
		}
	}

	if d.Breaker.FailureThreshold <= 0 {
		d.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if d.Breaker.CoolDown <= 0 {
		d.Breaker.CoolDown = Duration(DefaultCoolDown)
	}
	if d.Breaker.HalfOpenMax <= 0 {
		d.Breaker.HalfOpenMax = DefaultHalfOpenMax
	}
	if d.Breaker.SuccessThreshold <= 0 {
		d.Breaker.SuccessThreshold = DefaultSuccessThreshold
	}
	if d.Breaker.StateTTL <= 0 {
		d.Breaker.StateTTL = Duration(DefaultStateTTL)
	}

	if d.CallTimeout <= 0 {
		d.CallTimeout = Duration(DefaultCallTimeout)
	}

	return nil
}

// Dependency returns the policy for the named dependency, falling back to a
// validated default policy when no explicit entry exists. The returned value
// is a copy; mutations do not affect the configuration.
func (c *Config) Dependency(name string) DependencyConfig {
	if dep, ok := c.Dependencies[name]; ok {
		return dep
	}
	var dep DependencyConfig
	_ = dep.Validate()
	return dep
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, Duration(DefaultCacheTTL), cfg.Cache.TTL)
	assert.Equal(t, DefaultTier1MaxEntries, cfg.Cache.Tier1MaxEntries)
	assert.Equal(t, int64(DefaultTier1MaxBytes), cfg.Cache.Tier1MaxBytes)
	assert.Equal(t, DefaultKeyPrefix, cfg.Cache.KeyPrefix)
	assert.Equal(t, DefaultDeadLetterKey, cfg.DeadLetter.Key)
}

func TestDependencyFallback(t *testing.T) {
	cfg := Default()

	dep := cfg.Dependency("unknown-service")
	assert.Equal(t, DefaultMaxAttempts, dep.Retry.MaxAttempts)
	assert.Equal(t, Duration(DefaultBaseDelay), dep.Retry.BaseDelay)
	assert.Equal(t, DefaultFailureThreshold, dep.Breaker.FailureThreshold)
	assert.Equal(t, Duration(DefaultCoolDown), dep.Breaker.CoolDown)
	assert.Equal(t, Duration(DefaultCallTimeout), dep.CallTimeout)
}

func TestValidateNormalizes(t *testing.T) {
	cfg := &Config{
		Cache: CacheConfig{TTLJitter: 1.5},
		Dependencies: map[string]DependencyConfig{
			"inference": {
				Retry: RetryConfig{
					MaxAttempts: 3,
					BaseDelay:   Duration(time.Second),
					MaxDelay:    Duration(100 * time.Millisecond),
				},
			},
		},
	}

	require.NoError(t, cfg.Validate())

	assert.Zero(t, cfg.Cache.TTLJitter, "out-of-range jitter resets to zero")

	dep := cfg.Dependency("inference")
	assert.Equal(t, 3, dep.Retry.MaxAttempts)
	// MaxDelay is raised to at least BaseDelay.
	assert.Equal(t, dep.Retry.BaseDelay, dep.Retry.MaxDelay)
}

func TestValidateRejectsBadKinds(t *testing.T) {
	tests := []struct {
		name  string
		kinds []string
	}{
		{name: "unknown kind", kinds: []string{"flaky"}},
		{name: "permanent kind", kinds: []string{"permanent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Dependencies: map[string]DependencyConfig{
					"svc": {Retry: RetryConfig{RetryableKinds: tt.kinds}},
				},
			}
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromBytes(t *testing.T) {
	yamlData := []byte(`
logging:
  level: debug
redis:
  url: redis://localhost:6379
cache:
  ttl: "30m"
  tier1MaxEntries: 100
dependencies:
  inference:
    retry:
      maxAttempts: 4
      baseDelay: "100ms"
      maxDelay: "5s"
      jitterFraction: 0.5
      retryableKinds: [transient, throttled, timeout]
    breaker:
      failureThreshold: 10
      coolDown: "1m"
    callTimeout: "20s"
deadLetter:
  key: "relay:dlq"
  maxLen: 500
`)

	cfg, err := LoadFromBytes(yamlData)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.Duration())
	assert.Equal(t, 100, cfg.Cache.Tier1MaxEntries)

	dep := cfg.Dependency("inference")
	assert.Equal(t, 4, dep.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, dep.Retry.BaseDelay.Duration())
	assert.Equal(t, 5*time.Second, dep.Retry.MaxDelay.Duration())
	assert.Equal(t, 0.5, dep.Retry.JitterFraction)
	assert.Equal(t, 10, dep.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, dep.Breaker.CoolDown.Duration())
	assert.Equal(t, 20*time.Second, dep.CallTimeout.Duration())

	assert.Equal(t, "relay:dlq", cfg.DeadLetter.Key)
	assert.Equal(t, int64(500), cfg.DeadLetter.MaxLen)
}

func TestLoadFromBytesInvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("logging: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("RELAY_REDIS_URL", "redis://env-host:6379")

	cfg, err := LoadFromBytes([]byte("redis:\n  url: ${RELAY_REDIS_URL}\ncache:\n  keyPrefix: ${RELAY_PREFIX:-fallback:}\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis://env-host:6379", cfg.Redis.URL)
	assert.Equal(t, "fallback:", cfg.Cache.KeyPrefix)
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalJSON(data))
	assert.Equal(t, d, parsed)

	require.NoError(t, parsed.UnmarshalJSON([]byte(`null`)))
	assert.Zero(t, parsed)
}

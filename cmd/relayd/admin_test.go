package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/deadletter"
	"github.com/askelement/relay/internal/health"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/resilience"
)

func newTestAdmin(t *testing.T) (*adminServer, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Default()
	layer, err := resilience.New(cfg,
		resilience.WithLogger(observability.NopLogger()),
		resilience.WithRedisClient(client),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = layer.Close() })

	checker := health.NewChecker("test")
	checker.Register("redis", health.PingCheck(layer.Ping))

	admin := newAdminServer(config.AdminConfig{
		Addr:        "127.0.0.1:0",
		MetricsPath: "/metrics",
	}, checker, layer, observability.NopLogger())

	return admin, mr
}

func serve(admin *adminServer, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	admin.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestAdminHealthz(t *testing.T) {
	admin, _ := newTestAdmin(t)

	rec := serve(admin, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAdminReadyzDegradedWhenRedisDown(t *testing.T) {
	admin, mr := newTestAdmin(t)
	mr.Close()

	rec := serve(admin, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp health.ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusDegraded, resp.Status)
}

func TestAdminMetrics(t *testing.T) {
	admin, _ := newTestAdmin(t)

	rec := serve(admin, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestAdminCircuitsEmpty(t *testing.T) {
	admin, _ := newTestAdmin(t)

	rec := serve(admin, "/circuits")

	assert.Equal(t, http.StatusOK, rec.Code)

	var states map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	assert.Empty(t, states)
}

func TestAdminDeadLetters(t *testing.T) {
	admin, mr := newTestAdmin(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	router := deadletter.NewRouter(client, nil, nil, observability.NopLogger())
	require.NoError(t, router.Capture(context.Background(), deadletter.Record{
		Dependency:    "inference",
		OperationType: "chat",
		FailureKind:   "transient",
	}))

	rec := serve(admin, "/deadletters?dependency=inference")

	assert.Equal(t, http.StatusOK, rec.Code)

	var records []deadletter.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "inference", records[0].Dependency)
}

func TestAdminDeadLettersBadLimit(t *testing.T) {
	admin, _ := newTestAdmin(t)

	rec := serve(admin, "/deadletters?limit=abc")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("RELAY_TEST_ENV", "value")

	assert.Equal(t, "value", getEnvOrDefault("RELAY_TEST_ENV", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("RELAY_TEST_ENV_UNSET", "fallback"))
}

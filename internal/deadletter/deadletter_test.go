package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/notify"
	"github.com/askelement/relay/internal/observability"
)

func newTestRouter(t *testing.T, cfg *config.DeadLetterConfig, sink notify.Sink) (*Router, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRouter(client, cfg, sink, observability.NopLogger()), mr
}

func TestCaptureAndList(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	ctx := context.Background()

	rec := Record{
		Dependency:    "inference",
		OperationType: "rag_query",
		Payload:       []byte("what is the meaning of life"),
		FailureKind:   "transient",
		Attempts:      5,
		LastError:     "upstream unavailable",
	}
	require.NoError(t, router.Capture(ctx, rec))

	records, err := router.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.NotEmpty(t, got.RequestID)
	assert.Equal(t, "inference", got.Dependency)
	assert.Equal(t, "rag_query", got.OperationType)
	assert.Equal(t, []byte("what is the meaning of life"), got.Payload)
	assert.Equal(t, "transient", got.FailureKind)
	assert.Equal(t, 5, got.Attempts)
	assert.False(t, got.LastFailedAt.IsZero())
	assert.False(t, got.FirstFailedAt.IsZero())
}

func TestCaptureKeepsExplicitRequestID(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, router.Capture(ctx, Record{
		RequestID:   "req-42",
		Dependency:  "quota",
		FailureKind: "permanent",
	}))

	records, err := router.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "req-42", records[0].RequestID)
}

func TestListFilter(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, router.Capture(ctx, Record{Dependency: "inference", FailureKind: "transient"}))
	require.NoError(t, router.Capture(ctx, Record{Dependency: "inference", FailureKind: "permanent"}))
	require.NoError(t, router.Capture(ctx, Record{Dependency: "quota", FailureKind: "transient"}))

	records, err := router.List(ctx, Filter{Dependency: "inference"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = router.List(ctx, Filter{FailureKind: "transient"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = router.List(ctx, Filter{Dependency: "inference", FailureKind: "permanent"})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = router.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCaptureTrimsToMaxLen(t *testing.T) {
	router, _ := newTestRouter(t, &config.DeadLetterConfig{MaxLen: 3}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, router.Capture(ctx, Record{
			RequestID:   string(rune('a' + i)),
			Dependency:  "inference",
			FailureKind: "transient",
		}))
	}

	n, err := router.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Oldest records were trimmed.
	records, err := router.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].RequestID)
	assert.Equal(t, "e", records[2].RequestID)
}

func TestCaptureNotifiesSink(t *testing.T) {
	var events []notify.Event
	sink := notify.FuncSink(func(_ context.Context, e notify.Event) {
		events = append(events, e)
	})

	router, _ := newTestRouter(t, nil, sink)
	require.NoError(t, router.Capture(context.Background(), Record{
		Dependency:  "transcription",
		FailureKind: "timeout",
		Attempts:    3,
	}))

	require.Len(t, events, 1)
	assert.Equal(t, notify.EventDeadLetter, events[0].Type)
	assert.Equal(t, "transcription", events[0].Dependency)
	assert.Equal(t, "timeout", events[0].Detail["kind"])
	assert.Equal(t, "3", events[0].Detail["attempts"])
}

func TestVolumeAlert(t *testing.T) {
	var events []notify.Event
	sink := notify.FuncSink(func(_ context.Context, e notify.Event) {
		events = append(events, e)
	})

	router, _ := newTestRouter(t, &config.DeadLetterConfig{
		AlertThreshold: 3,
		AlertWindow:    config.Duration(time.Minute),
	}, sink)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, router.Capture(ctx, Record{
			Dependency:  "inference",
			FailureKind: "transient",
		}))
	}

	var volumeEvents []notify.Event
	for _, e := range events {
		if e.Type == notify.EventDeadLetterVolume {
			volumeEvents = append(volumeEvents, e)
		}
	}

	// Fires exactly once, when the counter crosses the threshold.
	require.Len(t, volumeEvents, 1)
	assert.Equal(t, "3", volumeEvents[0].Detail["captures"])
}

func TestCaptureStoreFailure(t *testing.T) {
	var events []notify.Event
	sink := notify.FuncSink(func(_ context.Context, e notify.Event) {
		events = append(events, e)
	})

	router, mr := newTestRouter(t, nil, sink)
	mr.Close()

	err := router.Capture(context.Background(), Record{
		Dependency:  "inference",
		FailureKind: "transient",
	})
	require.Error(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, notify.EventDeadLetterStoreFailure, events[0].Type)
	assert.NotEmpty(t, events[0].Detail["error"])
}

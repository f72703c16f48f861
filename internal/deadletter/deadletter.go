// Package deadletter persists the final record of abandoned requests.
// Every request the resilience layer gives up on produces exactly one
// record in a capped Redis list, for offline inspection and replay.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/notify"
	"github.com/askelement/relay/internal/observability"
	"github.com/askelement/relay/internal/timeout"
)

// Record is one abandoned request.
type Record struct {
	// RequestID identifies the record for replay tooling. Assigned on
	// capture when empty.
	RequestID string `json:"requestId"`

	// Dependency is the dependency the request was bound for.
	Dependency string `json:"dependency"`

	// OperationType describes the logical operation, when known.
	OperationType string `json:"operationType,omitempty"`

	// Payload is the original request payload.
	Payload []byte `json:"payload,omitempty"`

	// FailureKind is the classified kind of the final failure.
	FailureKind string `json:"failureKind"`

	// Attempts is how many calls were made before giving up.
	Attempts int `json:"attempts"`

	// LastError is the final attempt's error text.
	LastError string `json:"lastError,omitempty"`

	// FirstFailedAt is when the first attempt failed.
	FirstFailedAt time.Time `json:"firstFailedAt"`

	// LastFailedAt is when the request was abandoned.
	LastFailedAt time.Time `json:"lastFailedAt"`
}

// Filter narrows List results.
type Filter struct {
	// Dependency keeps only records for this dependency. Empty matches all.
	Dependency string

	// FailureKind keeps only records with this kind. Empty matches all.
	FailureKind string

	// Limit caps the number of returned records. Zero means no cap.
	Limit int
}

// Router captures and lists dead-letter records.
type Router struct {
	logger         observability.Logger
	client         redis.UniversalClient
	sink           notify.Sink
	key            string
	maxLen         int64
	alertThreshold int64
	alertWindow    time.Duration
}

// NewRouter creates a dead-letter router on the given Redis client.
func NewRouter(
	client redis.UniversalClient, cfg *config.DeadLetterConfig,
	sink notify.Sink, logger observability.Logger,
) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}

	key := config.DefaultDeadLetterKey
	maxLen := int64(config.DefaultDeadLetterMaxLen)
	threshold := int64(config.DefaultAlertThreshold)
	window := config.DefaultAlertWindow

	if cfg != nil {
		if cfg.Key != "" {
			key = cfg.Key
		}
		if cfg.MaxLen > 0 {
			maxLen = cfg.MaxLen
		}
		if cfg.AlertThreshold != 0 {
			threshold = cfg.AlertThreshold
		}
		if d := cfg.AlertWindow.Duration(); d > 0 {
			window = d
		}
	}

	return &Router{
		logger:         logger,
		client:         client,
		sink:           sink,
		key:            key,
		maxLen:         maxLen,
		alertThreshold: threshold,
		alertWindow:    window,
	}
}

// Capture persists one record. This is the only write the resilience
// layer cannot silently drop: persistence failures are logged at Error
// and pushed to the operator sink.
func (r *Router) Capture(ctx context.Context, record Record) error {
	if record.RequestID == "" {
		record.RequestID = uuid.NewString()
	}
	if record.LastFailedAt.IsZero() {
		record.LastFailedAt = time.Now()
	}
	if record.FirstFailedAt.IsZero() {
		record.FirstFailedAt = record.LastFailedAt
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding dead-letter record: %w", err)
	}

	sctx, cancel := timeout.StoreContext(ctx)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.RPush(sctx, r.key, payload)
	pipe.LTrim(sctx, r.key, -r.maxLen, -1)
	if _, err := pipe.Exec(sctx); err != nil {
		recordCaptureFailure(record.Dependency)
		r.logger.Error("dead-letter record lost",
			observability.String("requestId", record.RequestID),
			observability.String("dependency", record.Dependency),
			observability.String("kind", record.FailureKind),
			observability.Error(err))
		r.sink.Notify(ctx, notify.Event{
			Type:       notify.EventDeadLetterStoreFailure,
			Dependency: record.Dependency,
			Timestamp:  time.Now(),
			Detail: map[string]string{
				"requestId": record.RequestID,
				"error":     err.Error(),
			},
		})
		return fmt.Errorf("persisting dead-letter record: %w", err)
	}

	recordCapture(record.Dependency, record.FailureKind)
	r.logger.Warn("request dead-lettered",
		observability.String("requestId", record.RequestID),
		observability.String("dependency", record.Dependency),
		observability.String("kind", record.FailureKind),
		observability.Int("attempts", record.Attempts))

	r.sink.Notify(ctx, notify.Event{
		Type:       notify.EventDeadLetter,
		Dependency: record.Dependency,
		Timestamp:  record.LastFailedAt,
		Detail: map[string]string{
			"requestId": record.RequestID,
			"kind":      record.FailureKind,
			"attempts":  strconv.Itoa(record.Attempts),
		},
	})

	r.checkVolume(ctx, record.Dependency)

	return nil
}

// checkVolume counts captures in the sliding alert window and notifies
// the operator sink when the threshold is crossed.
func (r *Router) checkVolume(ctx context.Context, dependency string) {
	if r.alertThreshold <= 0 {
		return
	}

	sctx, cancel := timeout.StoreContext(ctx)
	defer cancel()

	counterKey := r.key + ":volume"
	count, err := r.client.Incr(sctx, counterKey).Result()
	if err != nil {
		r.logger.Warn("dead-letter volume counter unavailable",
			observability.Error(err))
		return
	}
	if count == 1 {
		r.client.PExpire(sctx, counterKey, r.alertWindow)
	}

	if count == r.alertThreshold {
		r.logger.Error("dead-letter volume threshold crossed",
			observability.Int64("captures", count),
			observability.Duration("window", r.alertWindow))
		r.sink.Notify(ctx, notify.Event{
			Type:       notify.EventDeadLetterVolume,
			Dependency: dependency,
			Timestamp:  time.Now(),
			Detail: map[string]string{
				"captures": strconv.FormatInt(count, 10),
				"window":   r.alertWindow.String(),
			},
		})
	}
}

// List returns captured records matching the filter, oldest first.
func (r *Router) List(ctx context.Context, filter Filter) ([]Record, error) {
	sctx, cancel := timeout.StoreContext(ctx)
	defer cancel()

	raw, err := r.client.LRange(sctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dead-letter list: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var record Record
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			r.logger.Warn("skipping malformed dead-letter record",
				observability.Error(err))
			continue
		}
		if filter.Dependency != "" && record.Dependency != filter.Dependency {
			continue
		}
		if filter.FailureKind != "" && record.FailureKind != filter.FailureKind {
			continue
		}
		records = append(records, record)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}

	return records, nil
}

// Len returns the current number of stored records.
func (r *Router) Len(ctx context.Context) (int64, error) {
	sctx, cancel := timeout.StoreContext(ctx)
	defer cancel()

	return r.client.LLen(sctx, r.key).Result()
}

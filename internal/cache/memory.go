package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/observability"
)

// memoryTier implements the process-local Tier-1 cache: an LRU bounded by
// both entry count and total payload bytes. Eviction is synchronous and
// O(1) amortized via a doubly linked list plus hash map. The lock is held
// only for map/list operations, never across a network call.
type memoryTier struct {
	logger     observability.Logger
	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List
	curBytes int64

	hits   int64
	misses int64

	stopCh chan struct{}
}

// memoryEntry is one Tier-1 entry.
type memoryEntry struct {
	key       string
	value     []byte
	sizeBytes int64
	createdAt time.Time
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryTier creates the process-local cache tier.
func NewMemoryTier(cfg *config.CacheConfig, logger observability.Logger) Tier {
	if logger == nil {
		logger = observability.NopLogger()
	}

	maxEntries := cfg.Tier1MaxEntries
	if maxEntries <= 0 {
		maxEntries = config.DefaultTier1MaxEntries
	}
	maxBytes := cfg.Tier1MaxBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultTier1MaxBytes
	}

	t := &memoryTier{
		logger:     logger,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		defaultTTL: cfg.TTL.Duration(),
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stopCh:     make(chan struct{}),
	}

	go t.cleanupLoop()

	logger.Info("tier1 cache initialized",
		observability.Int("maxEntries", maxEntries),
		observability.Int64("maxBytes", maxBytes),
		observability.Duration("defaultTTL", t.defaultTTL))

	return t
}

// Get retrieves a value, updating recency. Expired entries are removed and
// reported as misses so a stale value is never served.
func (t *memoryTier) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"tier1", "get",
		).Observe(time.Since(start).Seconds())
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	elem, exists := t.items[key]
	if !exists {
		atomic.AddInt64(&t.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("tier1").Inc()
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if entry.expired(time.Now()) {
		t.removeElement(elem)
		atomic.AddInt64(&t.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("tier1").Inc()
		return nil, ErrCacheMiss
	}

	t.eviction.MoveToFront(elem)

	atomic.AddInt64(&t.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues("tier1").Inc()

	return entry.value, nil
}

// Set stores a value, evicting least-recently-used entries while either
// capacity bound is exceeded.
func (t *memoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"tier1", "set",
		).Observe(time.Since(start).Seconds())
	}()

	if ttl == 0 {
		ttl = t.defaultTTL
	}

	now := time.Now()
	entry := &memoryEntry{
		key:       key,
		value:     value,
		sizeBytes: int64(len(value)),
		createdAt: now,
	}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, exists := t.items[key]; exists {
		// Refresh is overwrite, never in-place mutation.
		old := elem.Value.(*memoryEntry)
		t.curBytes += entry.sizeBytes - old.sizeBytes
		elem.Value = entry
		t.eviction.MoveToFront(elem)
	} else {
		elem := t.eviction.PushFront(entry)
		t.items[key] = elem
		t.curBytes += entry.sizeBytes
	}

	for t.eviction.Len() > t.maxEntries || t.curBytes > t.maxBytes {
		if !t.evictOldest() {
			break
		}
	}

	GetCacheMetrics().sizeGauge.WithLabelValues("tier1").Set(float64(t.eviction.Len()))

	return nil
}

// Delete removes a value. Removing an absent key is a no-op.
func (t *memoryTier) Delete(_ context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"tier1", "delete",
		).Observe(time.Since(start).Seconds())
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, exists := t.items[key]; exists {
		t.removeElement(elem)
	}

	return nil
}

// Close stops the cleanup goroutine and drops all entries.
func (t *memoryTier) Close() error {
	close(t.stopCh)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = make(map[string]*list.Element)
	t.eviction.Init()
	t.curBytes = 0

	return nil
}

// Stats returns tier statistics.
func (t *memoryTier) Stats() Stats {
	t.mu.Lock()
	entries := int64(t.eviction.Len())
	bytes := t.curBytes
	t.mu.Unlock()

	return Stats{
		Hits:    atomic.LoadInt64(&t.hits),
		Misses:  atomic.LoadInt64(&t.misses),
		Entries: entries,
		Bytes:   bytes,
	}
}

// evictOldest removes the least-recently-used entry.
// Must be called with lock held.
func (t *memoryTier) evictOldest() bool {
	elem := t.eviction.Back()
	if elem == nil {
		return false
	}
	t.removeElement(elem)
	GetCacheMetrics().evictionsTotal.WithLabelValues("tier1").Inc()
	return true
}

// removeElement removes an element and its byte accounting.
// Must be called with lock held.
func (t *memoryTier) removeElement(elem *list.Element) {
	t.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	t.curBytes -= entry.sizeBytes
	delete(t.items, entry.key)
}

// cleanupLoop periodically removes expired entries.
func (t *memoryTier) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCh:
			return
		}
	}
}

// cleanup removes expired entries under a single lock so entries cannot be
// refreshed between scan and removal.
func (t *memoryTier) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := t.eviction.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*memoryEntry).expired(now) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		t.removeElement(elem)
	}

	if len(toRemove) > 0 {
		t.logger.Debug("tier1 cleanup completed",
			observability.Int("removed", len(toRemove)))
	}
}

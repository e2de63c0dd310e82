package tokenizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
)

// Store keeps encode results keyed by model and text.
type Store interface {
	Get(ctx context.Context, key string) ([]int, bool, error)
	Set(ctx context.Context, key string, ids []int) error
}

// CacheKey derives the store key for a model/text pair.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(sum[:])
}

// CacheOption configures a cached tokenizer.
type CacheOption func(*cached)

// WithCacheTimeout bounds every store round trip (default 200ms).
func WithCacheTimeout(d time.Duration) CacheOption {
	return func(c *cached) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCacheMetrics records hits and misses.
func WithCacheMetrics(m *metrics.Collector) CacheOption {
	return func(c *cached) {
		c.metrics = m
	}
}

// WithCacheLogger sets the logger used for store errors.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *cached) {
		if l != nil {
			c.logger = l
		}
	}
}

type cached struct {
	model   string
	inner   Tokenizer
	store   Store
	timeout time.Duration
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Cached wraps inner so that encode results are looked up in store first.
// Store failures are logged and fall through to inner. Decode is not cached.
func Cached(model string, inner Tokenizer, store Store, opts ...CacheOption) Tokenizer {
	c := &cached{
		model:   model,
		inner:   inner,
		store:   store,
		timeout: 200 * time.Millisecond,
		logger:  logging.WithComponent("tokenizer.cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode consults the store first. Each store round trip gets its own
// timeout; the inner encode is not bounded by it.
func (c *cached) Encode(text string) ([]int, error) {
	key := CacheKey(c.model, text)

	ids, ok, err := c.lookup(key)
	if err != nil {
		c.logger.Warn("encode cache lookup failed", "model", c.model, "error", err)
	} else if ok {
		c.metrics.RecordCacheLookup(true)
		return ids, nil
	}
	c.metrics.RecordCacheLookup(false)

	ids, err = c.inner.Encode(text)
	if err != nil {
		return nil, err
	}
	if err := c.save(key, ids); err != nil {
		c.logger.Warn("encode cache store failed", "model", c.model, "error", err)
	}
	return ids, nil
}

func (c *cached) lookup(key string) ([]int, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.store.Get(ctx, key)
}

func (c *cached) save(key string, ids []int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.store.Set(ctx, key, ids)
}

func (c *cached) Decode(ids []int) (string, error) {
	return c.inner.Decode(ids)
}

func (c *cached) Precise() bool {
	return c.inner.Precise()
}

// MemoryStore is an in-process Store holding at most capacity entries;
// the oldest entry is evicted first.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]int
	order    []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store. Non-positive capacity defaults to 1024.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string][]int),
	}
}

// Get returns a copy of the stored ids.
func (s *MemoryStore) Get(_ context.Context, key string) ([]int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]int(nil), ids...), true, nil
}

// Set stores a copy of ids.
func (s *MemoryStore) Set(_ context.Context, key string, ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		if len(s.order) >= s.capacity {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = append([]int(nil), ids...)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

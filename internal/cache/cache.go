package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

// DocumentCache is a bounded LRU with per-entry TTL in front of the document
// store's read path. A single mutex serializes every operation, including
// reads that only inspect expiry, so LRU order and counters stay consistent
// under concurrent access from the retrieval and ETL paths.
type DocumentCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[uuid.UUID, *entry]
	ttl time.Duration
	log *logger.Logger

	capacity  int
	hits      uint64
	misses    uint64
	evictions uint64
}

type entry struct {
	doc       *types.Document
	expiresAt time.Time
}

type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Evictions uint64 `json:"evictions"`
}

func New(capacity int, ttl time.Duration, baseLog *logger.Logger) (*DocumentCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be > 0")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0")
	}
	lru, err := simplelru.NewLRU[uuid.UUID, *entry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("init lru: %w", err)
	}
	return &DocumentCache{
		lru:      lru,
		ttl:      ttl,
		log:      baseLog.With("service", "DocumentCache"),
		capacity: capacity,
	}, nil
}

// Get returns the cached document and promotes it to most recently used.
// An expired entry is dropped and counted as a miss.
func (c *DocumentCache) Get(id uuid.UUID) (*types.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(id)
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.lru.Remove(id)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.doc, true
}

// Set inserts or refreshes the entry with a fresh expiry. When the cache is
// at capacity and the key is new, the least recently used entry is evicted.
func (c *DocumentCache) Set(id uuid.UUID, doc *types.Document) {
	if doc == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.lru.Add(id, &entry{doc: doc, expiresAt: time.Now().Add(c.ttl)})
	if evicted {
		c.evictions++
	}
}

// Delete removes the entry, reporting whether it was present.
func (c *DocumentCache) Delete(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(id)
}

func (c *DocumentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

func (c *DocumentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
		Evictions: c.evictions,
	}
}

// Package cache provides the in-process TTL cache for branch stock and
// catalog lookups. Branch databases are remote and slow; every read path
// goes through here first.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"conteo/pkg/logger"
)

// Namespace TTLs. Stock moves constantly, catalog data barely.
const (
	StockTTL = 5 * time.Minute
	ItemTTL  = time.Hour

	sweepPeriod = time.Minute
)

// StockKey is the cache key for one item's stock at one branch.
func StockKey(branchID int64, itemCode string) string {
	return fmt.Sprintf("stock:%d:%s", branchID, itemCode)
}

// ItemKey is the cache key for branch-independent item catalog info.
func ItemKey(itemCode string) string {
	return fmt.Sprintf("item:%s", itemCode)
}

// BranchItemsKey is the cache key for a filtered item listing on one
// branch. The filter set is digested so equivalent filters share an entry
// regardless of argument order.
func BranchItemsKey(branchID int64, filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(filters[k]))
		h.Write([]byte{0})
	}
	digest := hex.EncodeToString(h.Sum(nil))[:16]
	return fmt.Sprintf("branch_items:%d:%s", branchID, digest)
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Stats is a point-in-time snapshot for the ops surface.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a namespaced TTL cache. Safe for concurrent use. Expired
// entries are dropped lazily on read and periodically by the sweep loop.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits      uint64
	misses    uint64
	evictions uint64

	log *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(log *logger.Logger) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		log:     log.WithComponent("stock-cache"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (c *Cache) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(sweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
	c.log.Info("cache sweep loop started")
}

// Stop terminates the sweep loop and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

// Get returns the cached value for key, or ok=false on miss or expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
			c.evictions++
		}
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.value, true
}

// Set stores value under key with the TTL of the key's namespace.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, ttlFor(key))
}

// SetTTL stores value under key with an explicit TTL.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// GetMany looks up many keys at once and returns the hits.
func (c *Cache) GetMany(keys []string) map[string]any {
	now := time.Now()
	found := make(map[string]any, len(keys))
	var hits, misses uint64

	c.mu.RLock()
	for _, key := range keys {
		e, ok := c.entries[key]
		if ok && now.Before(e.expiresAt) {
			found[key] = e.value
			hits++
		} else {
			misses++
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	c.hits += hits
	c.misses += misses
	c.mu.Unlock()
	return found
}

// SetMany stores many values, each with its namespace TTL.
func (c *Cache) SetMany(values map[string]any) {
	now := time.Now()
	c.mu.Lock()
	for key, value := range values {
		c.entries[key] = cacheEntry{value: value, expiresAt: now.Add(ttlFor(key))}
	}
	c.mu.Unlock()
}

// Delete removes one key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateBranch drops every entry belonging to one branch: its stock
// entries and its filtered listings. Item catalog entries are branch
// independent and survive.
func (c *Cache) InvalidateBranch(branchID int64) int {
	stockPrefix := fmt.Sprintf("stock:%d:", branchID)
	listPrefix := fmt.Sprintf("branch_items:%d:", branchID)

	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, stockPrefix) || strings.HasPrefix(key, listPrefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += uint64(removed)
	c.mu.Unlock()

	c.log.Infow("branch cache invalidated", "branch_id", branchID, "removed", removed)
	return removed
}

// Flush drops everything.
func (c *Cache) Flush() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	c.evictions += uint64(n)
	c.mu.Unlock()
	return n
}

// GetStats returns a snapshot of cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += uint64(removed)
	c.mu.Unlock()

	if removed > 0 {
		c.log.Debugw("cache sweep", "removed", removed)
	}
}

func ttlFor(key string) time.Duration {
	if strings.HasPrefix(key, "stock:") {
		return StockTTL
	}
	return ItemTTL
}

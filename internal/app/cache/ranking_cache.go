// Package cache holds the in-memory fast paths in front of Postgres: the
// bounded top-N ranking cache and the idempotency index for allocations.
// The database stays the source of truth; both caches are advisory and
// self-heal from committed rows.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sifan077/ShortRank/internal/app/metrics"
	"github.com/sifan077/ShortRank/internal/app/model"
	"github.com/sifan077/ShortRank/internal/app/repository"
	"go.uber.org/zap"
)

// DefaultRankingCapacity bounds the ranking cache when no explicit capacity
// is configured.
const DefaultRankingCapacity = 100

// RankingSource provides the durable ranking aggregate and link snapshots
// used to (re)build the cache. Satisfied by repository.ShortLinkRepository.
type RankingSource interface {
	Ranking(ctx context.Context, limit int) ([]repository.RankingRow, error)
	GetByCode(ctx context.Context, code string) (*model.ShortLink, error)
}

// HitCounter provides the authoritative hit count for a link. Satisfied by
// repository.AccessEventRepository.
type HitCounter interface {
	CountByLink(ctx context.Context, shortLinkID int64) (int64, error)
}

// TopEntry is one row of the ranking served from the cache.
type TopEntry struct {
	Code      string
	TargetURL string
	Hits      int64
}

// RankingCache keeps the N codes with the highest hit counts in memory so
// ranking and per-code stat reads never scan the access log. It holds at
// most capacity entries; for any untracked code the true count is, to the
// cache's best knowledge, below the tracked minimum. Ties are broken by
// lexicographic code order, both when loading and when evicting, so the
// served ranking is deterministic.
type RankingCache struct {
	links    RankingSource
	counts   HitCounter
	logger   *zap.Logger
	metrics  *metrics.Metrics
	capacity int

	mu      sync.RWMutex
	hits    map[string]int64
	entries map[string]*model.ShortLink
}

// NewRankingCache returns an empty ranking cache bound to the given durable
// sources. capacity <= 0 falls back to DefaultRankingCapacity.
func NewRankingCache(links RankingSource, counts HitCounter, capacity int, logger *zap.Logger, m *metrics.Metrics) *RankingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultRankingCapacity
	}
	return &RankingCache{
		links:    links,
		counts:   counts,
		logger:   logger,
		metrics:  m,
		capacity: capacity,
		hits:     make(map[string]int64),
		entries:  make(map[string]*model.ShortLink),
	}
}

// Load rebuilds the cache from the durable ranking aggregate. The new state
// is assembled off to the side and swapped in under the write lock, so a
// concurrent GetTop sees either the previous complete set or the new one,
// never a mix.
func (c *RankingCache) Load(ctx context.Context) error {
	rows, err := c.links.Ranking(ctx, c.capacity)
	if err != nil {
		return fmt.Errorf("load ranking aggregate: %w", err)
	}

	hits := make(map[string]int64, len(rows))
	entries := make(map[string]*model.ShortLink, len(rows))
	for _, row := range rows {
		hits[row.Code] = row.Hits
		link, err := c.links.GetByCode(ctx, row.Code)
		if err != nil {
			// Keep the count; the snapshot backfills on the next hit.
			c.logger.Debug("ranking preload: snapshot unavailable",
				zap.String("code", row.Code), zap.Error(err))
			continue
		}
		entries[row.Code] = link
	}

	c.mu.Lock()
	c.hits = hits
	c.entries = entries
	c.mu.Unlock()

	c.metrics.RecordReload()
	c.metrics.SetRankingSize(len(hits))
	c.logger.Info("ranking cache loaded", zap.Int("entries", len(hits)))
	return nil
}

// RecordHit folds one committed access into the cache. Tracked codes are
// incremented in place. Untracked codes are admitted with their authoritative
// database count, evicting the current minimum entry when the cache is full
// and the newcomer's count strictly exceeds it.
func (c *RankingCache) RecordHit(ctx context.Context, link *model.ShortLink) error {
	if link == nil {
		return nil
	}

	c.mu.Lock()
	if _, tracked := c.hits[link.Code]; tracked {
		c.hits[link.Code]++
		if _, ok := c.entries[link.Code]; !ok {
			c.entries[link.Code] = link
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Untracked: fetch the authoritative count outside the lock so readers
	// are not blocked on a database round trip.
	dbCount, err := c.counts.CountByLink(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("count accesses for %s: %w", link.Code, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another writer may have admitted the code meanwhile.
	if _, tracked := c.hits[link.Code]; tracked {
		c.hits[link.Code]++
		if _, ok := c.entries[link.Code]; !ok {
			c.entries[link.Code] = link
		}
		return nil
	}

	if len(c.hits) < c.capacity {
		c.hits[link.Code] = dbCount
		c.entries[link.Code] = link
		c.metrics.SetRankingSize(len(c.hits))
		return nil
	}

	minCode, minHits := c.minEntryLocked()
	if dbCount <= minHits {
		return nil
	}

	delete(c.hits, minCode)
	delete(c.entries, minCode)
	c.hits[link.Code] = dbCount
	c.entries[link.Code] = link
	c.metrics.RecordEviction()
	c.logger.Debug("ranking cache eviction",
		zap.String("evicted", minCode),
		zap.Int64("evicted_hits", minHits),
		zap.String("admitted", link.Code),
		zap.Int64("admitted_hits", dbCount))
	return nil
}

// minEntryLocked returns the tracked code with the lowest count, breaking
// count ties by lexicographically smallest code. Caller holds mu.
func (c *RankingCache) minEntryLocked() (string, int64) {
	var (
		minCode string
		minHits int64
		found   bool
	)
	for code, hits := range c.hits {
		if !found || hits < minHits || (hits == minHits && code < minCode) {
			minCode, minHits = code, hits
			found = true
		}
	}
	return minCode, minHits
}

// GetTop returns every cached entry ordered by descending hit count, code
// ascending on ties. An empty cache triggers one lazy reload; beyond that
// the database is never consulted.
func (c *RankingCache) GetTop(ctx context.Context) ([]TopEntry, error) {
	c.mu.RLock()
	empty := len(c.hits) == 0
	c.mu.RUnlock()

	if empty {
		if err := c.Load(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	top := make([]TopEntry, 0, len(c.hits))
	for code, hits := range c.hits {
		entry := TopEntry{Code: code, Hits: hits}
		if link, ok := c.entries[code]; ok {
			entry.TargetURL = link.TargetURL
		}
		top = append(top, entry)
	}
	c.mu.RUnlock()

	sort.Slice(top, func(i, j int) bool {
		if top[i].Hits != top[j].Hits {
			return top[i].Hits > top[j].Hits
		}
		return top[i].Code < top[j].Code
	})
	return top, nil
}

// Lookup returns the cached snapshot for code, if tracked.
func (c *RankingCache) Lookup(code string) (*model.ShortLink, bool) {
	c.mu.RLock()
	link, ok := c.entries[code]
	c.mu.RUnlock()
	c.metrics.RecordRankingLookup(ok)
	return link, ok
}

// Contains reports whether code is currently tracked.
func (c *RankingCache) Contains(code string) bool {
	c.mu.RLock()
	_, ok := c.hits[code]
	c.mu.RUnlock()
	return ok
}

// HitCount returns the cached hit count for code, if tracked.
func (c *RankingCache) HitCount(code string) (int64, bool) {
	c.mu.RLock()
	hits, ok := c.hits[code]
	c.mu.RUnlock()
	return hits, ok
}

// Len returns the current number of tracked codes.
func (c *RankingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hits)
}

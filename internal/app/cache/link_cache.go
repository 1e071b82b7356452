package cache

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sifan077/ShortRank/internal/app/model"
)

const (
	// bloomCapacity sizes the filter for the expected total number of codes.
	bloomCapacity     = 1_000_000
	bloomFalsePositive = 0.01
)

// LinkCache is the idempotency index for allocations: committed links are
// indexed by code, by target URL and by the (code, url) pair so repeated
// identical requests resolve without a database round trip. It is unbounded
// (capped in practice by the table size), purely additive, and last-write-wins
// under concurrent Put of the same link.
//
// A bloom filter over every code ever indexed lets resolve answer a definite
// "never existed" without touching the database; positives fall through to
// the authoritative lookup.
type LinkCache struct {
	byCode sync.Map // code -> *model.ShortLink
	byURL  sync.Map // target url -> *model.ShortLink
	byPair sync.Map // code + "|" + target url -> *model.ShortLink

	mu    sync.Mutex
	codes *bloom.BloomFilter
}

// NewLinkCache returns an empty idempotency cache.
func NewLinkCache() *LinkCache {
	return &LinkCache{
		codes: bloom.NewWithEstimates(bloomCapacity, bloomFalsePositive),
	}
}

// Seed feeds all existing codes into the bloom filter, typically at startup
// from the full code listing.
func (c *LinkCache) Seed(codes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		c.codes.AddString(code)
	}
}

// Put indexes a committed link under all three keys. Only durably persisted
// rows may be passed in; a rolled-back row must never reach the cache.
func (c *LinkCache) Put(link *model.ShortLink) {
	if link == nil {
		return
	}
	c.byCode.Store(link.Code, link)
	c.byURL.Store(link.TargetURL, link)
	c.byPair.Store(pairKey(link.Code, link.TargetURL), link)

	c.mu.Lock()
	c.codes.AddString(link.Code)
	c.mu.Unlock()
}

// GetByPair returns the cached link for the exact (code, url) pair.
func (c *LinkCache) GetByPair(code, targetURL string) (*model.ShortLink, bool) {
	v, ok := c.byPair.Load(pairKey(code, targetURL))
	if !ok {
		return nil, false
	}
	return v.(*model.ShortLink), true
}

// GetByURL returns the cached link for a target URL.
func (c *LinkCache) GetByURL(targetURL string) (*model.ShortLink, bool) {
	v, ok := c.byURL.Load(targetURL)
	if !ok {
		return nil, false
	}
	return v.(*model.ShortLink), true
}

// GetByCode returns the cached link for a code.
func (c *LinkCache) GetByCode(code string) (*model.ShortLink, bool) {
	v, ok := c.byCode.Load(code)
	if !ok {
		return nil, false
	}
	return v.(*model.ShortLink), true
}

// ContainsCode reports whether code is indexed. A false return is not
// authoritative; the database must still be consulted before concluding the
// code is free.
func (c *LinkCache) ContainsCode(code string) bool {
	_, ok := c.byCode.Load(code)
	return ok
}

// MightContainCode reports whether code may exist anywhere in the system.
// False means the code was never seeded nor indexed, so a resolve can 404
// without a database query. True may be a false positive.
func (c *LinkCache) MightContainCode(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes.TestString(code)
}

func pairKey(code, targetURL string) string {
	return code + "|" + targetURL
}

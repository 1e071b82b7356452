package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/sifan077/ShortRank/internal/app/model"
)

func TestLinkCache_PutIndexesAllKeys(t *testing.T) {
	c := NewLinkCache()
	l := &model.ShortLink{ID: 1, Code: "abcde", TargetURL: "https://ex.com/x"}

	c.Put(l)

	if got, ok := c.GetByCode("abcde"); !ok || got.ID != 1 {
		t.Fatal("expected lookup by code to hit")
	}
	if got, ok := c.GetByURL("https://ex.com/x"); !ok || got.ID != 1 {
		t.Fatal("expected lookup by url to hit")
	}
	if got, ok := c.GetByPair("abcde", "https://ex.com/x"); !ok || got.ID != 1 {
		t.Fatal("expected lookup by pair to hit")
	}
	if !c.ContainsCode("abcde") {
		t.Fatal("expected ContainsCode to report the indexed code")
	}
}

func TestLinkCache_PairLookupIsExact(t *testing.T) {
	c := NewLinkCache()
	c.Put(&model.ShortLink{ID: 1, Code: "abcde", TargetURL: "https://ex.com/x"})

	if _, ok := c.GetByPair("abcde", "https://ex.com/other"); ok {
		t.Fatal("pair lookup must miss for a different url")
	}
	if _, ok := c.GetByPair("zzzzz", "https://ex.com/x"); ok {
		t.Fatal("pair lookup must miss for a different code")
	}
}

func TestLinkCache_MissesAreNotAuthoritative(t *testing.T) {
	c := NewLinkCache()
	if c.ContainsCode("nocde") {
		t.Fatal("empty cache must miss")
	}
	if _, ok := c.GetByURL("https://ex.com/unknown"); ok {
		t.Fatal("empty cache must miss by url")
	}
}

func TestLinkCache_BloomSeedAndDefiniteMiss(t *testing.T) {
	c := NewLinkCache()
	c.Seed([]string{"aaaaa", "bbbbb"})

	if !c.MightContainCode("aaaaa") {
		t.Fatal("seeded code must test positive")
	}
	if c.MightContainCode("qqqqq") {
		t.Fatal("unseen code should test negative with these parameters")
	}

	c.Put(&model.ShortLink{ID: 2, Code: "ccccc", TargetURL: "https://ex.com/c"})
	if !c.MightContainCode("ccccc") {
		t.Fatal("indexed code must test positive")
	}
}

func TestLinkCache_ConcurrentPut(t *testing.T) {
	c := NewLinkCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				code := fmt.Sprintf("cc%03d", j%20)
				c.Put(&model.ShortLink{
					ID:        int64(j + 1),
					Code:      code,
					TargetURL: "https://ex.com/" + code,
				})
				c.GetByCode(code)
				c.MightContainCode(code)
			}
		}(i)
	}
	wg.Wait()

	// Racing writers of the same key all stored the same logical record.
	for j := 0; j < 20; j++ {
		code := fmt.Sprintf("cc%03d", j)
		got, ok := c.GetByCode(code)
		if !ok || got.Code != code {
			t.Fatalf("expected %s to be retained after concurrent puts", code)
		}
	}
}

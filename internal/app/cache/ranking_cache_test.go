package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sifan077/ShortRank/internal/app/model"
	"github.com/sifan077/ShortRank/internal/app/repository"
)

type mockRankingSource struct {
	rankingFn   func(ctx context.Context, limit int) ([]repository.RankingRow, error)
	getByCodeFn func(ctx context.Context, code string) (*model.ShortLink, error)
}

func (m *mockRankingSource) Ranking(ctx context.Context, limit int) ([]repository.RankingRow, error) {
	if m.rankingFn != nil {
		return m.rankingFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockRankingSource) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	if m.getByCodeFn != nil {
		return m.getByCodeFn(ctx, code)
	}
	return &model.ShortLink{Code: code, TargetURL: "https://ex.com/" + code}, nil
}

type mockHitCounter struct {
	countFn func(ctx context.Context, shortLinkID int64) (int64, error)
}

func (m *mockHitCounter) CountByLink(ctx context.Context, shortLinkID int64) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, shortLinkID)
	}
	return 0, nil
}

func link(id int64, code string) *model.ShortLink {
	return &model.ShortLink{ID: id, Code: code, TargetURL: "https://ex.com/" + code}
}

func TestRankingCache_LoadAndGetTop(t *testing.T) {
	source := &mockRankingSource{
		rankingFn: func(ctx context.Context, limit int) ([]repository.RankingRow, error) {
			return []repository.RankingRow{
				{Code: "aaaaa", Hits: 30},
				{Code: "bbbbb", Hits: 20},
				{Code: "ccccc", Hits: 10},
			}, nil
		},
	}
	c := NewRankingCache(source, &mockHitCounter{}, 3, nil, nil)

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	top, err := c.GetTop(context.Background())
	if err != nil {
		t.Fatalf("GetTop returned error: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(top))
	}
	for i, want := range []string{"aaaaa", "bbbbb", "ccccc"} {
		if top[i].Code != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, top[i].Code)
		}
	}
	if top[0].TargetURL != "https://ex.com/aaaaa" {
		t.Fatalf("expected snapshot URL on top entry, got %q", top[0].TargetURL)
	}
}

func TestRankingCache_GetTopLazyLoadsWhenEmpty(t *testing.T) {
	loads := 0
	source := &mockRankingSource{
		rankingFn: func(ctx context.Context, limit int) ([]repository.RankingRow, error) {
			loads++
			return []repository.RankingRow{{Code: "xxxxx", Hits: 7}}, nil
		},
	}
	c := NewRankingCache(source, &mockHitCounter{}, 3, nil, nil)

	top, err := c.GetTop(context.Background())
	if err != nil {
		t.Fatalf("GetTop returned error: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected one lazy load, got %d", loads)
	}
	if len(top) != 1 || top[0].Code != "xxxxx" || top[0].Hits != 7 {
		t.Fatalf("unexpected top: %+v", top)
	}

	// Populated cache must not reload.
	if _, err := c.GetTop(context.Background()); err != nil {
		t.Fatalf("GetTop returned error: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected no further loads, got %d", loads)
	}
}

func TestRankingCache_RecordHitIncrementsTracked(t *testing.T) {
	counterCalls := 0
	counter := &mockHitCounter{
		countFn: func(ctx context.Context, shortLinkID int64) (int64, error) {
			counterCalls++
			return 5, nil
		},
	}
	c := NewRankingCache(&mockRankingSource{}, counter, 3, nil, nil)

	l := link(1, "aaaaa")
	if err := c.RecordHit(context.Background(), l); err != nil {
		t.Fatalf("RecordHit returned error: %v", err)
	}
	if counterCalls != 1 {
		t.Fatalf("expected one authoritative count fetch, got %d", counterCalls)
	}
	if hits, ok := c.HitCount("aaaaa"); !ok || hits != 5 {
		t.Fatalf("expected tracked count 5, got %d (tracked=%v)", hits, ok)
	}

	// Tracked codes increment in place, no further database count.
	if err := c.RecordHit(context.Background(), l); err != nil {
		t.Fatalf("RecordHit returned error: %v", err)
	}
	if counterCalls != 1 {
		t.Fatalf("tracked hit must not fetch the count again, got %d calls", counterCalls)
	}
	if hits, _ := c.HitCount("aaaaa"); hits != 6 {
		t.Fatalf("expected count 6 after increment, got %d", hits)
	}
}

func TestRankingCache_BoundAndEviction(t *testing.T) {
	const capacity = 5
	counts := map[int64]int64{}
	counter := &mockHitCounter{
		countFn: func(ctx context.Context, shortLinkID int64) (int64, error) {
			return counts[shortLinkID], nil
		},
	}
	c := NewRankingCache(&mockRankingSource{}, counter, capacity, nil, nil)

	// capacity+5 never-seen codes with strictly increasing authoritative counts.
	total := capacity + 5
	for i := 0; i < total; i++ {
		id := int64(i + 1)
		counts[id] = int64(i + 1)
		l := link(id, fmt.Sprintf("cod%02d", i))
		if err := c.RecordHit(context.Background(), l); err != nil {
			t.Fatalf("RecordHit returned error: %v", err)
		}
	}

	top, err := c.GetTop(context.Background())
	if err != nil {
		t.Fatalf("GetTop returned error: %v", err)
	}
	if len(top) != capacity {
		t.Fatalf("expected exactly %d entries, got %d", capacity, len(top))
	}
	// The five highest counts survive; the five lowest are absent.
	for i, entry := range top {
		wantHits := int64(total - i)
		if entry.Hits != wantHits {
			t.Fatalf("position %d: expected %d hits, got %d", i, wantHits, entry.Hits)
		}
	}
	for i := 0; i < 5; i++ {
		if c.Contains(fmt.Sprintf("cod%02d", i)) {
			t.Fatalf("low-count code cod%02d should have been evicted", i)
		}
	}
}

func TestRankingCache_NoEvictionWhenNotExceedingMinimum(t *testing.T) {
	counter := &mockHitCounter{
		countFn: func(ctx context.Context, shortLinkID int64) (int64, error) {
			// Newcomer count equal to the minimum: must be discarded.
			return 10, nil
		},
	}
	c := NewRankingCache(&mockRankingSource{}, counter, 2, nil, nil)

	seed := map[string]int64{"aaaaa": 10, "bbbbb": 20}
	source := &mockRankingSource{
		rankingFn: func(ctx context.Context, limit int) ([]repository.RankingRow, error) {
			return []repository.RankingRow{
				{Code: "bbbbb", Hits: seed["bbbbb"]},
				{Code: "aaaaa", Hits: seed["aaaaa"]},
			}, nil
		},
	}
	c.links = source
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if err := c.RecordHit(context.Background(), link(9, "zzzzz")); err != nil {
		t.Fatalf("RecordHit returned error: %v", err)
	}
	if c.Contains("zzzzz") {
		t.Fatal("newcomer with count equal to the minimum must stay untracked")
	}
	if !c.Contains("aaaaa") || !c.Contains("bbbbb") {
		t.Fatal("existing entries must survive a discarded contender")
	}
}

func TestRankingCache_EvictionTieBreakIsLexicographic(t *testing.T) {
	counter := &mockHitCounter{
		countFn: func(ctx context.Context, shortLinkID int64) (int64, error) {
			return 50, nil
		},
	}
	source := &mockRankingSource{
		rankingFn: func(ctx context.Context, limit int) ([]repository.RankingRow, error) {
			return []repository.RankingRow{
				{Code: "mmmmm", Hits: 10},
				{Code: "aaaaa", Hits: 10},
				{Code: "zzzzz", Hits: 10},
			}, nil
		},
	}
	c := NewRankingCache(source, counter, 3, nil, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if err := c.RecordHit(context.Background(), link(7, "nnnnn")); err != nil {
		t.Fatalf("RecordHit returned error: %v", err)
	}
	if c.Contains("aaaaa") {
		t.Fatal("expected the lexicographically smallest minimum entry to be evicted")
	}
	for _, code := range []string{"mmmmm", "zzzzz", "nnnnn"} {
		if !c.Contains(code) {
			t.Fatalf("expected %s to remain tracked", code)
		}
	}
}

func TestRankingCache_ConcurrentRecordHitAndGetTop(t *testing.T) {
	counter := &mockHitCounter{
		countFn: func(ctx context.Context, shortLinkID int64) (int64, error) {
			return shortLinkID, nil
		},
	}
	source := &mockRankingSource{
		rankingFn: func(ctx context.Context, limit int) ([]repository.RankingRow, error) {
			return []repository.RankingRow{{Code: "seed0", Hits: 1}}, nil
		},
	}
	c := NewRankingCache(source, counter, 8, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := link(int64(n+1), fmt.Sprintf("con%02d", n%10))
			for j := 0; j < 50; j++ {
				_ = c.RecordHit(context.Background(), l)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = c.GetTop(context.Background())
				_ = c.Load(context.Background())
			}
		}()
	}
	wg.Wait()

	if c.Len() > 8 {
		t.Fatalf("capacity exceeded under concurrency: %d entries", c.Len())
	}
}

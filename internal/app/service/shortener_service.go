package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/ShortRank/internal/app/cache"
	"github.com/sifan077/ShortRank/internal/app/codegen"
	"github.com/sifan077/ShortRank/internal/app/metrics"
	"github.com/sifan077/ShortRank/internal/app/model"
	"github.com/sifan077/ShortRank/internal/app/repository"
	"go.uber.org/zap"
)

// maxRandomAttempts bounds the random-code allocation loop. Each attempt
// draws a fresh code and runs fresh existence checks.
const maxRandomAttempts = 5

// ErrAllocationExhausted signals that no free random code was found within
// the retry budget. Fatal for the request; not retried further up the stack.
var ErrAllocationExhausted = errors.New("could not allocate a unique code after retries")

// AccessEventPublisher is the post-commit event sink for recorded accesses.
type AccessEventPublisher interface {
	Publish(event model.AccessRecorded) error
}

// ShortenerService orchestrates allocation, resolution, access recording and
// the ranking/stat queries.
type ShortenerService interface {
	Shorten(ctx context.Context, rawURL, customCode string) (*model.ShortLink, error)
	Resolve(ctx context.Context, code string) (*model.ShortLink, error)
	RecordAccess(ctx context.Context, link *model.ShortLink, userAgent, referer string) error
	Ranking(ctx context.Context) ([]cache.TopEntry, error)
	Stats(ctx context.Context, code string) (*CodeStats, error)
	StatsSummary(ctx context.Context) (*Summary, error)
	StatsSummaryByCode(ctx context.Context, code string) (*CodeSummary, error)
	ListStats(ctx context.Context, limit, offset int) ([]repository.StatsRow, error)
}

// Deps bundles the collaborators of the shortener service.
type Deps struct {
	Links     repository.ShortLinkRepository
	Accesses  repository.AccessEventRepository
	Ranking   *cache.RankingCache
	LinkCache *cache.LinkCache
	Tx        repository.TxRunner
	Publisher AccessEventPublisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type shortenerService struct {
	links     repository.ShortLinkRepository
	accesses  repository.AccessEventRepository
	ranking   *cache.RankingCache
	linkCache *cache.LinkCache
	tx        repository.TxRunner
	publisher AccessEventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewShortenerService returns a service implementation backed by the given
// repositories and caches.
func NewShortenerService(deps Deps) ShortenerService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &shortenerService{
		links:     deps.Links,
		accesses:  deps.Accesses,
		ranking:   deps.Ranking,
		linkCache: deps.LinkCache,
		tx:        deps.Tx,
		publisher: deps.Publisher,
		logger:    logger,
		metrics:   deps.Metrics,
	}
}

// Shorten allocates a short code for rawURL. With a custom code the call is
// idempotent for the exact (code, url) pair and conflicts for anything else;
// without one it reuses the URL's existing code or draws random codes until
// one persists.
func (s *shortenerService) Shorten(ctx context.Context, rawURL, customCode string) (*model.ShortLink, error) {
	targetURL, err := codegen.NormalizeURL(rawURL)
	if err != nil {
		s.metrics.RecordAllocation("invalid")
		return nil, err
	}

	if customCode != "" {
		return s.shortenCustom(ctx, targetURL, customCode)
	}
	return s.shortenRandom(ctx, targetURL)
}

func (s *shortenerService) shortenCustom(ctx context.Context, targetURL, code string) (*model.ShortLink, error) {
	// Re-submitting the same (code, url) pair returns the existing row.
	if existing, ok := s.linkCache.GetByPair(code, targetURL); ok {
		s.metrics.RecordAllocation("idempotent")
		return existing, nil
	}
	existing, err := s.links.GetByCodeAndURL(ctx, code, targetURL)
	if err == nil {
		s.linkCache.Put(existing)
		s.metrics.RecordAllocation("idempotent")
		return existing, nil
	}
	if !errors.Is(err, repository.ErrLinkNotFound) {
		return nil, fmt.Errorf("check code/url pair: %w", err)
	}

	claimed, err := s.codeClaimed(ctx, code)
	if err != nil {
		return nil, err
	}
	if claimed {
		s.logger.Warn("duplicate custom code", zap.String("code", code))
		s.metrics.RecordAllocation("duplicate")
		return nil, repository.ErrDuplicateCode
	}

	link, err := s.persist(ctx, targetURL, code)
	if err == nil {
		s.metrics.RecordAllocation("created")
		s.logger.Info("short link created",
			zap.String("code", link.Code), zap.Bool("custom", true))
		return link, nil
	}
	if errors.Is(err, repository.ErrDuplicateCode) {
		// A concurrent writer won the race; it may have inserted exactly
		// this pair.
		if existing, pairErr := s.links.GetByCodeAndURL(ctx, code, targetURL); pairErr == nil {
			s.linkCache.Put(existing)
			s.metrics.RecordAllocation("idempotent")
			return existing, nil
		}
		s.metrics.RecordAllocation("duplicate")
		return nil, repository.ErrDuplicateCode
	}
	return nil, err
}

func (s *shortenerService) shortenRandom(ctx context.Context, targetURL string) (*model.ShortLink, error) {
	// Re-shortening a known URL returns its existing code.
	if existing, ok := s.linkCache.GetByURL(targetURL); ok {
		s.metrics.RecordAllocation("idempotent")
		return existing, nil
	}
	existing, err := s.links.FindLatestByURL(ctx, targetURL)
	if err == nil {
		s.linkCache.Put(existing)
		s.metrics.RecordAllocation("idempotent")
		return existing, nil
	}
	if !errors.Is(err, repository.ErrLinkNotFound) {
		return nil, fmt.Errorf("check existing url: %w", err)
	}

	for attempt := 1; attempt <= maxRandomAttempts; attempt++ {
		code, err := codegen.RandomCode()
		if err != nil {
			return nil, err
		}

		claimed, err := s.codeClaimed(ctx, code)
		if err != nil {
			return nil, err
		}
		if claimed {
			s.logger.Debug("generated code already claimed",
				zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}

		link, err := s.persist(ctx, targetURL, code)
		if err == nil {
			s.metrics.RecordAllocation("created")
			s.logger.Info("short link created",
				zap.String("code", link.Code), zap.Int("attempt", attempt))
			return link, nil
		}
		if errors.Is(err, repository.ErrDuplicateCode) {
			// The racing writer may have created exactly our pair.
			if existing, pairErr := s.links.GetByCodeAndURL(ctx, code, targetURL); pairErr == nil {
				s.linkCache.Put(existing)
				s.metrics.RecordAllocation("idempotent")
				return existing, nil
			}
			s.logger.Warn("collision on generated code",
				zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}
		return nil, err
	}

	s.logger.Error("random code allocation exhausted",
		zap.Int("attempts", maxRandomAttempts))
	s.metrics.RecordAllocation("exhausted")
	return nil, ErrAllocationExhausted
}

// codeClaimed reports whether code is already taken, consulting the ranking
// cache and the idempotency cache before the database. A negative bloom
// probe skips the database round trip: the unique constraint still backstops
// a stale filter at persist time.
func (s *shortenerService) codeClaimed(ctx context.Context, code string) (bool, error) {
	if s.ranking.Contains(code) || s.linkCache.ContainsCode(code) {
		return true, nil
	}
	if !s.linkCache.MightContainCode(code) {
		return false, nil
	}
	exists, err := s.links.ExistsByCode(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check code existence: %w", err)
	}
	return exists, nil
}

// persist writes the new link inside a unit of work and indexes it into the
// idempotency cache only after the commit, so a rollback never leaves a
// speculative row in the cache.
func (s *shortenerService) persist(ctx context.Context, targetURL, code string) (*model.ShortLink, error) {
	link := &model.ShortLink{
		TargetURL: targetURL,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}
	err := s.tx.Do(ctx, func(txCtx context.Context) error {
		if err := s.links.Create(txCtx, link); err != nil {
			return err
		}
		repository.AfterCommit(txCtx, func() {
			s.linkCache.Put(link)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Resolve returns the link for code: ranking cache first, database fallback.
// A database hit feeds the idempotency cache but never the ranking cache;
// only recorded accesses grow the ranking.
func (s *shortenerService) Resolve(ctx context.Context, code string) (*model.ShortLink, error) {
	if link, ok := s.ranking.Lookup(code); ok {
		return link, nil
	}
	if link, ok := s.linkCache.GetByCode(code); ok {
		return link, nil
	}
	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	s.linkCache.Put(link)
	return link, nil
}

// RecordAccess appends one access event inside a unit of work. The ranking
// cache update and the JetStream publication run only after the commit; if
// the transaction rolls back they never run, and if they fail afterwards the
// error is logged and swallowed because the durable write already succeeded.
func (s *shortenerService) RecordAccess(ctx context.Context, link *model.ShortLink, userAgent, referer string) error {
	now := time.Now().UTC()
	event := &model.AccessEvent{
		ShortLinkID: link.ID,
		AccessedAt:  now,
		UserAgent:   userAgent,
		Referer:     referer,
	}

	return s.tx.Do(ctx, func(txCtx context.Context) error {
		if err := s.accesses.Create(txCtx, event); err != nil {
			return fmt.Errorf("persist access event: %w", err)
		}
		repository.AfterCommit(txCtx, func() {
			if err := s.ranking.RecordHit(ctx, link); err != nil {
				s.metrics.RecordAfterCommitFailure()
				s.logger.Warn("ranking cache update failed after commit",
					zap.String("code", link.Code), zap.Error(err))
			}
			if s.publisher != nil {
				if err := s.publisher.Publish(model.AccessRecorded{
					Code:       link.Code,
					TargetURL:  link.TargetURL,
					UserAgent:  userAgent,
					Referer:    referer,
					AccessedAt: now,
				}); err != nil {
					s.metrics.RecordAfterCommitFailure()
					s.logger.Warn("access event publish failed after commit",
						zap.String("code", link.Code), zap.Error(err))
				}
			}
		})
		return nil
	})
}

// Ranking serves the top list exclusively from the ranking cache; an empty
// cache triggers the cache's own lazy reload, never a service-level scan.
func (s *shortenerService) Ranking(ctx context.Context) ([]cache.TopEntry, error) {
	top, err := s.ranking.GetTop(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}
	return top, nil
}

// CodeStats is the per-code hit total.
type CodeStats struct {
	Code      string `json:"code"`
	TargetURL string `json:"url"`
	Hits      int64  `json:"hits"`
}

// DayHits is one day's bucket in a summary.
type DayHits struct {
	Day  string `json:"day"`
	Hits int64  `json:"hits"`
}

// Summary aggregates global access totals.
type Summary struct {
	Total     int64     `json:"total"`
	Last7Days int64     `json:"last7_days"`
	Daily     []DayHits `json:"daily"`
}

// CodeSummary aggregates access totals for one code.
type CodeSummary struct {
	Code      string    `json:"code"`
	TargetURL string    `json:"url"`
	Total     int64     `json:"total"`
	Last7Days int64     `json:"last7_days"`
	Daily     []DayHits `json:"daily"`
}

// Stats returns the hit total for one code, preferring the cached count over
// a full access-log scan.
func (s *shortenerService) Stats(ctx context.Context, code string) (*CodeStats, error) {
	link, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	hits, ok := s.ranking.HitCount(link.Code)
	if !ok {
		hits, err = s.accesses.CountByLink(ctx, link.ID)
		if err != nil {
			return nil, fmt.Errorf("count accesses: %w", err)
		}
	}
	return &CodeStats{Code: link.Code, TargetURL: link.TargetURL, Hits: hits}, nil
}

// StatsSummary computes global totals: all-time, trailing 7 days and the
// non-empty daily buckets of the last 7 UTC days.
func (s *shortenerService) StatsSummary(ctx context.Context) (*Summary, error) {
	total, err := s.accesses.CountAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("count accesses: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.Add(-7 * 24 * time.Hour)
	last7, err := s.accesses.CountSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("count recent accesses: %w", err)
	}

	daily, err := s.dailyBuckets(ctx, now, func(start, end time.Time) (int64, error) {
		return s.accesses.CountBetween(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}

	return &Summary{Total: total, Last7Days: last7, Daily: daily}, nil
}

// StatsSummaryByCode computes the same aggregates scoped to one code.
func (s *shortenerService) StatsSummaryByCode(ctx context.Context, code string) (*CodeSummary, error) {
	link, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}

	total, ok := s.ranking.HitCount(link.Code)
	if !ok {
		total, err = s.accesses.CountByLink(ctx, link.ID)
		if err != nil {
			return nil, fmt.Errorf("count accesses: %w", err)
		}
	}

	now := time.Now().UTC()
	cutoff := now.Add(-7 * 24 * time.Hour)
	last7, err := s.accesses.CountByLinkSince(ctx, link.ID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("count recent accesses: %w", err)
	}

	daily, err := s.dailyBuckets(ctx, now, func(start, end time.Time) (int64, error) {
		return s.accesses.CountByLinkBetween(ctx, link.ID, start, end)
	})
	if err != nil {
		return nil, err
	}

	return &CodeSummary{
		Code:      link.Code,
		TargetURL: link.TargetURL,
		Total:     total,
		Last7Days: last7,
		Daily:     daily,
	}, nil
}

// dailyBuckets collects non-empty per-day counts for the last 7 UTC days,
// oldest first.
func (s *shortenerService) dailyBuckets(ctx context.Context, now time.Time, count func(start, end time.Time) (int64, error)) ([]DayHits, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var daily []DayHits
	for i := 6; i >= 0; i-- {
		start := today.AddDate(0, 0, -i)
		end := start.AddDate(0, 0, 1)
		hits, err := count(start, end)
		if err != nil {
			return nil, fmt.Errorf("count daily bucket: %w", err)
		}
		if hits > 0 {
			daily = append(daily, DayHits{Day: start.Format("2006-01-02"), Hits: hits})
		}
	}
	return daily, nil
}

// ListStats returns the paginated per-link stats listing straight from the
// aggregate query.
func (s *shortenerService) ListStats(ctx context.Context, limit, offset int) ([]repository.StatsRow, error) {
	rows, err := s.links.ListStats(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	return rows, nil
}

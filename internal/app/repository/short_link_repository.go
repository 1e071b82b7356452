package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sifan077/ShortRank/internal/app/model"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("short link not found")
	// ErrDuplicateCode signals that the database rejected an insert because
	// the code (or code/url pair) is already taken.
	ErrDuplicateCode = errors.New("short code already in use")
)

// RankingRow is one row of the durable ranking aggregate.
type RankingRow struct {
	Code string `gorm:"column:code"`
	Hits int64  `gorm:"column:hits"`
}

// StatsRow is one row of the per-link stats listing.
type StatsRow struct {
	Code      string `gorm:"column:code"`
	TargetURL string `gorm:"column:target_url"`
	Hits      int64  `gorm:"column:hits"`
}

// ShortLinkRepository defines the data access contract for short links.
type ShortLinkRepository interface {
	Create(ctx context.Context, link *model.ShortLink) error
	GetByCode(ctx context.Context, code string) (*model.ShortLink, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	GetByCodeAndURL(ctx context.Context, code, targetURL string) (*model.ShortLink, error)
	FindLatestByURL(ctx context.Context, targetURL string) (*model.ShortLink, error)
	AllCodes(ctx context.Context) ([]string, error)
	Ranking(ctx context.Context, limit int) ([]RankingRow, error)
	ListStats(ctx context.Context, limit, offset int) ([]StatsRow, error)
}

type shortLinkRepository struct {
	db *gorm.DB
}

// NewShortLinkRepository returns a GORM-backed ShortLinkRepository.
func NewShortLinkRepository(db *gorm.DB) ShortLinkRepository {
	return &shortLinkRepository{db: db}
}

func (r *shortLinkRepository) Create(ctx context.Context, link *model.ShortLink) error {
	if err := dbFrom(ctx, r.db).WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return err
	}
	return nil
}

func (r *shortLinkRepository) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := dbFrom(ctx, r.db).WithContext(ctx).Where("code = ?", code).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *shortLinkRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.ShortLink{}).
		Where("code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *shortLinkRepository) GetByCodeAndURL(ctx context.Context, code, targetURL string) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := dbFrom(ctx, r.db).WithContext(ctx).
		Where("code = ? AND target_url = ?", code, targetURL).
		First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *shortLinkRepository) FindLatestByURL(ctx context.Context, targetURL string) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := dbFrom(ctx, r.db).WithContext(ctx).
		Where("target_url = ?", targetURL).
		Order("created_at DESC").
		First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *shortLinkRepository) AllCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.ShortLink{}).
		Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *shortLinkRepository) Ranking(ctx context.Context, limit int) ([]RankingRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []RankingRow
	if err := dbFrom(ctx, r.db).WithContext(ctx).
		Table("access_events AS a").
		Select("s.code AS code, COUNT(a.id) AS hits").
		Joins("JOIN short_links s ON s.id = a.short_link_id").
		Group("s.code").
		Order("hits DESC, code ASC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *shortLinkRepository) ListStats(ctx context.Context, limit, offset int) ([]StatsRow, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var rows []StatsRow
	if err := dbFrom(ctx, r.db).WithContext(ctx).
		Table("short_links AS s").
		Select("s.code AS code, s.target_url AS target_url, COUNT(a.id) AS hits").
		Joins("LEFT JOIN access_events a ON a.short_link_id = s.id").
		Group("s.id, s.code, s.target_url, s.created_at").
		Order("s.created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

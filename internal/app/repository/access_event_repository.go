package repository

import (
	"context"
	"time"

	"github.com/sifan077/ShortRank/internal/app/model"
	"gorm.io/gorm"
)

// AccessEventRepository defines the data access contract for the append-only
// access log.
type AccessEventRepository interface {
	Create(ctx context.Context, event *model.AccessEvent) error
	CountByLink(ctx context.Context, shortLinkID int64) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, cutoff time.Time) (int64, error)
	CountBetween(ctx context.Context, start, end time.Time) (int64, error)
	CountByLinkSince(ctx context.Context, shortLinkID int64, cutoff time.Time) (int64, error)
	CountByLinkBetween(ctx context.Context, shortLinkID int64, start, end time.Time) (int64, error)
}

type accessEventRepository struct {
	db *gorm.DB
}

// NewAccessEventRepository returns a GORM-backed AccessEventRepository.
func NewAccessEventRepository(db *gorm.DB) AccessEventRepository {
	return &accessEventRepository{db: db}
}

func (r *accessEventRepository) Create(ctx context.Context, event *model.AccessEvent) error {
	return dbFrom(ctx, r.db).WithContext(ctx).Create(event).Error
}

func (r *accessEventRepository) CountByLink(ctx context.Context, shortLinkID int64) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.AccessEvent{}).
		Where("short_link_id = ?", shortLinkID).
		Count(&count).Error
	return count, err
}

func (r *accessEventRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.AccessEvent{}).
		Count(&count).Error
	return count, err
}

func (r *accessEventRepository) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.AccessEvent{}).
		Where("accessed_at >= ?", cutoff).
		Count(&count).Error
	return count, err
}

func (r *accessEventRepository) CountBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.AccessEvent{}).
		Where("accessed_at >= ? AND accessed_at < ?", start, end).
		Count(&count).Error
	return count, err
}

func (r *accessEventRepository) CountByLinkSince(ctx context.Context, shortLinkID int64, cutoff time.Time) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.AccessEvent{}).
		Where("short_link_id = ? AND accessed_at >= ?", shortLinkID, cutoff).
		Count(&count).Error
	return count, err
}

func (r *accessEventRepository) CountByLinkBetween(ctx context.Context, shortLinkID int64, start, end time.Time) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).WithContext(ctx).
		Model(&model.AccessEvent{}).
		Where("short_link_id = ? AND accessed_at >= ? AND accessed_at < ?", shortLinkID, start, end).
		Count(&count).Error
	return count, err
}

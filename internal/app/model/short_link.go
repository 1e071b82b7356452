package model

import "time"

// ShortLink describes the canonical short-link row stored in Postgres.
// Rows are immutable after creation; the in-memory caches only ever hold
// read-only copies of committed rows.
type ShortLink struct {
	ID        int64     `db:"id" gorm:"primaryKey;autoIncrement"`
	TargetURL string    `db:"target_url" gorm:"column:target_url;type:text;not null;uniqueIndex:uk_code_target,priority:2"`
	Code      string    `db:"code" gorm:"size:5;not null;uniqueIndex;uniqueIndex:uk_code_target,priority:1"`
	CreatedAt time.Time `db:"created_at" gorm:"autoCreateTime"`
}

// TableName keeps the legacy table name used by the original schema.
func (ShortLink) TableName() string {
	return "short_links"
}

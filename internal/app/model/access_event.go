package model

import "time"

// AccessEvent is one recorded redirect against a ShortLink. Append-only.
type AccessEvent struct {
	ID          int64     `db:"id" gorm:"primaryKey;autoIncrement"`
	ShortLinkID int64     `db:"short_link_id" gorm:"not null;index"`
	AccessedAt  time.Time `db:"accessed_at" gorm:"not null;index"`
	UserAgent   string    `db:"user_agent" gorm:"type:text"`
	Referer     string    `db:"referer" gorm:"type:text"`
}

// TableName keeps the legacy table name used by the original schema.
func (AccessEvent) TableName() string {
	return "access_events"
}

const (
	AccessStreamName    = "ACCESSES"
	AccessStreamSubject = "accesses.recorded"
	AccessConsumerName  = "access-logger"
	AccessStreamMaxByte = 1024 * 1024 * 100 // 100MB
)

// AccessRecorded is the JetStream payload published after an access event
// has durably committed.
type AccessRecorded struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	TargetURL  string    `json:"target_url"`
	UserAgent  string    `json:"user_agent"`
	Referer    string    `json:"referer"`
	AccessedAt time.Time `json:"accessed_at"`
}

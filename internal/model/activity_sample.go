package model

import "time"

// ActivitySample is one observation of a tenant's liveness. Rows are only
// ever inserted or deleted.
type ActivitySample struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	Username     string     `gorm:"size:255;not null;index;index:ix_activity_user_time,priority:1"`
	Timestamp    time.Time  `gorm:"not null;index;index:ix_activity_user_time,priority:2"`
	LastActivity *time.Time
	Active       bool `gorm:"not null"`
}

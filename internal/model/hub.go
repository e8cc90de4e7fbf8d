package model

import "time"

// User mirrors the hub's users table in the primary datastore.
type User struct {
	ID           int64  `gorm:"primaryKey"`
	Name         string `gorm:"size:255;uniqueIndex;not null"`
	Admin        bool
	LastActivity *time.Time

	// Associations
	Spawners []Spawner `gorm:"foreignKey:UserID"`
}

// Spawner mirrors the hub's spawners table. The default server has an empty
// Name; ServerID is set only while the workload is running. State is the
// JSON blob owned by the spawner.
type Spawner struct {
	ID           int64  `gorm:"primaryKey"`
	UserID       int64  `gorm:"index;not null"`
	ServerID     *int64 `gorm:"column:server_id"`
	Name         string `gorm:"size:255"`
	State        string `gorm:"type:text"`
	Started      *time.Time
	LastActivity *time.Time
}

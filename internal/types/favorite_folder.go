package types

import (
	"time"
)

// FavoriteFolder mirrors one favorites folder of a logged-in user. MediaID is
// the platform's stable folder identifier.
type FavoriteFolder struct {
	MediaID    int64      `gorm:"column:media_id;primaryKey" json:"media_id"`
	Fid        int64      `gorm:"column:fid" json:"fid"`
	Mid        int64      `gorm:"column:mid;index" json:"mid"`
	Title      string     `gorm:"column:title;not null" json:"title"`
	MediaCount int        `gorm:"column:media_count" json:"media_count"`
	LastSyncAt *time.Time `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (FavoriteFolder) TableName() string { return "favorite_folder" }

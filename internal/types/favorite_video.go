package types

import (
	"time"
)

// FavoriteVideo is the folder membership row recorded by the last completed
// build of a folder. The diff engine compares the remote listing against
// these rows, and removal of vectors consults them across folders.
type FavoriteVideo struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MediaID   int64     `gorm:"column:media_id;not null;index:idx_folder_video,unique,priority:1" json:"media_id"`
	Bvid      string    `gorm:"column:bvid;not null;index:idx_folder_video,unique,priority:2;index:idx_video_bvid" json:"bvid"`
	Title     string    `gorm:"column:title" json:"title"`
	Author    string    `gorm:"column:author" json:"author,omitempty"`
	Attr      int       `gorm:"column:attr" json:"attr"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (FavoriteVideo) TableName() string { return "favorite_video" }

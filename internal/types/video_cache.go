package types

import (
	"time"
)

// VideoCache stores the best text content we have extracted for a video so
// far, together with the source tier it came from. A later build may upgrade
// the row to a higher tier but never downgrades it.
type VideoCache struct {
	Bvid      string        `gorm:"column:bvid;primaryKey" json:"bvid"`
	Title     string        `gorm:"column:title;not null" json:"title"`
	Author    string        `gorm:"column:author" json:"author,omitempty"`
	Cover     string        `gorm:"column:cover" json:"cover,omitempty"`
	Duration  int64         `gorm:"column:duration" json:"duration"`
	Content   string        `gorm:"column:content;type:text" json:"content"`
	Source    ContentSource `gorm:"column:source;not null" json:"source"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null" json:"updated_at"`
}

func (VideoCache) TableName() string { return "video_cache" }

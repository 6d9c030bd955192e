package types

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserSession holds the cookie jar obtained from a QR login. SessionID is
// minted server side and handed to the client; cookies never leave the server.
type UserSession struct {
	SessionID string         `gorm:"column:session_id;primaryKey" json:"session_id"`
	Mid       int64          `gorm:"column:mid;index" json:"mid"`
	Uname     string         `gorm:"column:uname" json:"uname"`
	Face      string         `gorm:"column:face" json:"face,omitempty"`
	Cookies   datatypes.JSON `gorm:"column:cookies" json:"-"`
	Active    bool           `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (UserSession) TableName() string { return "user_session" }

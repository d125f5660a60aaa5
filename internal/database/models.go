package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a local account bound to one WeRead identity (wr_vid). The session
// secrets are stored encrypted.
type User struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	WrVid         string `gorm:"uniqueIndex;size:32;not null" json:"wr_vid"`
	WrName        string `json:"wr_name"`
	WrAvatar      string `json:"wr_avatar"`
	WrGender      string `gorm:"size:8" json:"wr_gender"`
	WrLocalVid    string `json:"wr_localvid"`
	WrGid         string `json:"-"`
	WrPf          string `gorm:"size:8" json:"-"`
	SkeyEncrypted string `gorm:"type:text" json:"-"`
	RtEncrypted   string `gorm:"type:text" json:"-"`

	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BookCache holds one normalized book as JSON, shared by all users.
type BookCache struct {
	BookID    string    `gorm:"primaryKey;size:64"`
	Data      string    `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShelfSnapshot is the latest reconciled bookshelf of one user.
type ShelfSnapshot struct {
	UserKey   string    `gorm:"primaryKey;size:64"`
	Data      string    `gorm:"type:text;not null"`
	Source    string    `gorm:"size:128"`
	BookCount int
	FetchedAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns an id and timestamps.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate hook for User
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}

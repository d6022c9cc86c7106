package model

import (
	"strings"
	"time"
)

// User is a Telegram account that owns tasks and reminder settings.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName is the name used when greeting the user.
func (u *User) DisplayName() string {
	if name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName)); name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "there"
}

package models

import "gorm.io/gorm"

// User is a registered account holding a simulated cash balance.
type User struct {
	gorm.Model
	Username     string  `gorm:"uniqueIndex;not null"`
	PasswordHash string  `gorm:"not null"`
	Cash         float64 `gorm:"not null"`
}

package models

import "gorm.io/gorm"

// Transaction is a single executed buy or sell, recorded at the price quoted
// at execution time. Rows are append-only: a user's current holdings for a
// symbol are the sum of Shares across all their rows for that symbol.
type Transaction struct {
	gorm.Model
	UserID     uint   `gorm:"index;not null"`
	Symbol     string `gorm:"not null"`
	Name       string
	Shares     int // positive for buys, negative for sells
	Price      float64
	TotalPrice float64
}

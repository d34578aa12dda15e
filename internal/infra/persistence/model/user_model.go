// Package model holds the GORM persistence models. They mirror the tables created by the
// migrations and never leave the persistence layer.
package model

import "time"

// UserModel mirrors the 'users' table.
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Email        string    `gorm:"type:varchar(100);uniqueIndex:users_email_key;not null"`
	Name         string    `gorm:"type:varchar(50);not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName explicitly sets the table name for GORM.
func (UserModel) TableName() string {
	return "users"
}

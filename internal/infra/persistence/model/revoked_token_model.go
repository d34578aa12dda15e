package model

import "time"

// RevokedTokenModel mirrors the 'revoked_tokens' table. The token itself is never stored,
// only its SHA-256 digest.
type RevokedTokenModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	TokenHash string    `gorm:"type:char(64);uniqueIndex:revoked_tokens_token_hash_key;not null"`
	RevokedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index:revoked_tokens_expires_at_idx;not null"`
}

// TableName explicitly sets the table name for GORM.
func (RevokedTokenModel) TableName() string {
	return "revoked_tokens"
}

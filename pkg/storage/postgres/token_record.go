package postgres

import "time"

// TokenRecord is one persisted token set. Name lets several app
// registrations share a table.
type TokenRecord struct {
	ID uint `gorm:"primaryKey"`

	Name string `gorm:"type:text;not null;uniqueIndex:idx_token_name"`

	AccessToken      string    `gorm:"type:text;not null"`
	RefreshToken     string    `gorm:"type:text;not null"`
	ExpiresAt        time.Time `gorm:"not null"`
	RefreshExpiresAt time.Time `gorm:"not null"`
	IDToken          string    `gorm:"type:text"`
	Scope            string    `gorm:"type:text"`
	TokenType        string    `gorm:"type:varchar(32)"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the default table name for GORM.
func (TokenRecord) TableName() string {
	return "token_record"
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"schwabstream/internal/auth"
)

// TokenRepository persists the token set in postgres. It satisfies
// auth.Persister.
type TokenRepository struct {
	client *PostgresClient
	name   string
}

func NewTokenRepository(client *PostgresClient, name string) *TokenRepository {
	return &TokenRepository{client: client, name: name}
}

// Load returns auth.ErrNoToken when no row exists for the repository's name.
func (r *TokenRepository) Load(ctx context.Context) (auth.Token, error) {
	var rec TokenRecord
	err := r.client.DB.WithContext(ctx).Where("name = ?", r.name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.Token{}, auth.ErrNoToken
	}
	if err != nil {
		return auth.Token{}, fmt.Errorf("load token %s: %w", r.name, err)
	}
	return ToToken(rec), nil
}

// Save upserts the row so the table holds exactly one token set per name.
func (r *TokenRepository) Save(ctx context.Context, tok auth.Token) error {
	rec := ToTokenRecord(r.name, tok)
	tx := r.client.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "expires_at", "refresh_expires_at",
			"id_token", "scope", "token_type", "updated_at",
		}),
	}).Create(&rec)
	if tx.Error != nil {
		return fmt.Errorf("save token %s: %w", r.name, tx.Error)
	}
	return nil
}

// Delete removes the stored token set, forcing a new authorization.
func (r *TokenRepository) Delete(ctx context.Context) error {
	return r.client.DB.WithContext(ctx).
		Where("name = ?", r.name).
		Delete(&TokenRecord{}).Error
}

func ToTokenRecord(name string, tok auth.Token) TokenRecord {
	return TokenRecord{
		Name:             name,
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		ExpiresAt:        tok.ExpiresAt.UTC(),
		RefreshExpiresAt: tok.RefreshExpiresAt.UTC(),
		IDToken:          tok.IDToken,
		Scope:            tok.Scope,
		TokenType:        tok.TokenType,
	}
}

func ToToken(rec TokenRecord) auth.Token {
	return auth.Token{
		AccessToken:      rec.AccessToken,
		RefreshToken:     rec.RefreshToken,
		ExpiresAt:        rec.ExpiresAt,
		RefreshExpiresAt: rec.RefreshExpiresAt,
		IDToken:          rec.IDToken,
		Scope:            rec.Scope,
		TokenType:        rec.TokenType,
	}
}

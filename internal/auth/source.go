package auth

import (
	"context"
	"time"
)

// Source binds an Authority to one set of credentials and hands out bearer
// tokens, so consumers never hold the app secret.
type Source struct {
	authority *Authority
	creds     Credentials
}

func (a *Authority) Source(creds Credentials) *Source {
	return &Source{authority: a, creds: creds}
}

// AccessToken returns an access token valid for at least the refresh margin.
func (s *Source) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.authority.EnsureValid(ctx, s.creds)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// AccessTokenFor returns an access token that outlives horizon plus the
// refresh margin.
func (s *Source) AccessTokenFor(ctx context.Context, horizon time.Duration) (string, error) {
	tok, err := s.authority.EnsureValidFor(ctx, s.creds, horizon)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// ForceRefresh refreshes regardless of expiry, for a token the venue rejected.
func (s *Source) ForceRefresh(ctx context.Context) (string, error) {
	tok, err := s.authority.Refresh(ctx, s.creds)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

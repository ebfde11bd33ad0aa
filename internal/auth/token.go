package auth

import "time"

// RefreshTokenLifetime is how long the venue honours a refresh token after issuing it.
const RefreshTokenLifetime = 7 * 24 * time.Hour

// Token is the OAuth2 credential pair held by Store.
type Token struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"` // zero when unknown
	IDToken          string    `json:"id_token,omitempty"`
	Scope            string    `json:"scope,omitempty"`
	TokenType        string    `json:"token_type,omitempty"`
}

// IsZero reports whether no credential has been issued yet.
func (t Token) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// ValidFor reports whether the access token stays valid for at least margin after now.
func (t Token) ValidFor(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// RefreshExpired reports whether the refresh token is known to be past its lifetime.
func (t Token) RefreshExpired(now time.Time) bool {
	return !t.RefreshExpiresAt.IsZero() && !now.Before(t.RefreshExpiresAt)
}

// Credentials identify the registered application.
type Credentials struct {
	AppKey      string
	AppSecret   string
	RedirectURI string
}

// tokenResponse is the identity endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// toToken converts the payload issued at now. prev supplies the refresh token
// when the endpoint does not rotate it.
func (r tokenResponse) toToken(now time.Time, prev Token) Token {
	tok := Token{
		AccessToken:      r.AccessToken,
		RefreshToken:     r.RefreshToken,
		ExpiresAt:        now.Add(time.Duration(r.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(RefreshTokenLifetime),
		IDToken:          r.IDToken,
		Scope:            r.Scope,
		TokenType:        r.TokenType,
	}
	if tok.RefreshToken == "" || tok.RefreshToken == prev.RefreshToken {
		tok.RefreshToken = prev.RefreshToken
		tok.RefreshExpiresAt = prev.RefreshExpiresAt
	}
	return tok
}

package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL       = "https://api.schwabapi.com"
	DefaultRedirectURI   = "https://127.0.0.1"
	DefaultRefreshMargin = 60 * time.Second

	authorizePath = "/v1/oauth/authorize"
	tokenPath     = "/v1/oauth/token"
)

// Options tunes an Authority. Zero values fall back to defaults.
type Options struct {
	BaseURL        string
	RefreshMargin  time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	HTTPClient     *http.Client
}

// Authority performs the authorization-code and refresh-token exchanges
// against the identity endpoint and keeps Store current.
type Authority struct {
	store      *Store
	httpClient *http.Client
	baseURL    string
	margin     time.Duration
	attempts   int
	retryBase  time.Duration
	logger     *zap.Logger

	group singleflight.Group
	now   func() time.Time
}

func NewAuthority(store *Store, opts Options, logger *zap.Logger) *Authority {
	a := &Authority{
		store:      store,
		httpClient: opts.HTTPClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		margin:     opts.RefreshMargin,
		attempts:   opts.MaxAttempts,
		retryBase:  opts.RetryBaseDelay,
		logger:     logger.Named("auth"),
		now:        time.Now,
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if a.baseURL == "" {
		a.baseURL = DefaultBaseURL
	}
	if a.margin <= 0 {
		a.margin = DefaultRefreshMargin
	}
	if a.attempts <= 0 {
		a.attempts = 3
	}
	if a.retryBase <= 0 {
		a.retryBase = 500 * time.Millisecond
	}
	return a
}

func (a *Authority) Store() *Store { return a.store }

// AuthorizationURL is the page the operator opens to grant access.
func (a *Authority) AuthorizationURL(creds Credentials) string {
	q := url.Values{}
	q.Set("client_id", creds.AppKey)
	q.Set("scope", "readonly")
	q.Set("redirect_uri", redirectURI(creds))
	return a.baseURL + authorizePath + "?response_type=code&" + q.Encode()
}

// Authorize runs the interactive flow: print the URL, read back the redirect
// URL the browser landed on, exchange its code and store the token.
func (a *Authority) Authorize(ctx context.Context, creds Credentials, in io.Reader, out io.Writer) (Token, error) {
	fmt.Fprintf(out, "Open the following URL in a browser and log in:\n\n%s\n\n", a.AuthorizationURL(creds))
	fmt.Fprintln(out, "After approving, paste the full URL you were redirected to:")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Token{}, fmt.Errorf("read redirect url: %w", err)
		}
		return Token{}, errors.New("read redirect url: no input")
	}

	return a.ExchangeCode(ctx, creds, strings.TrimSpace(scanner.Text()))
}

// ExchangeCode trades the code embedded in redirectURL for a new token.
func (a *Authority) ExchangeCode(ctx context.Context, creds Credentials, redirectURL string) (Token, error) {
	code, err := ExtractCode(redirectURL)
	if err != nil {
		return Token{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI(creds))

	issued := a.now()
	resp, err := a.postToken(ctx, creds, form)
	if err != nil {
		return Token{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	tok := resp.toToken(issued, Token{})
	a.replace(ctx, tok)
	a.logger.Info("authorized", zap.Time("expires_at", tok.ExpiresAt), zap.Time("refresh_expires_at", tok.RefreshExpiresAt))
	if err := a.checkLifetime(tok); err != nil {
		return Token{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// ExtractCode pulls the authorization code out of a redirect URL.
func ExtractCode(redirectURL string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", errors.New("redirect url has no code parameter")
	}
	return code, nil
}

// EnsureValid returns a token valid for at least the refresh margin,
// refreshing first when the current one is about to expire.
func (a *Authority) EnsureValid(ctx context.Context, creds Credentials) (Token, error) {
	return a.EnsureValidFor(ctx, creds, 0)
}

// EnsureValidFor returns a token that stays valid for horizon plus the
// refresh margin, refreshing first when it would not.
func (a *Authority) EnsureValidFor(ctx context.Context, creds Credentials, horizon time.Duration) (Token, error) {
	tok := a.store.Get()
	if tok.IsZero() {
		return Token{}, ErrNoToken
	}
	if tok.ValidFor(a.now(), a.margin+horizon) {
		return tok, nil
	}
	return a.refresh(ctx, creds, horizon, "")
}

// Refresh exchanges the refresh token even if the access token still looks valid.
func (a *Authority) Refresh(ctx context.Context, creds Credentials) (Token, error) {
	cur := a.store.Get()
	if cur.IsZero() {
		return Token{}, ErrNoToken
	}
	return a.refresh(ctx, creds, 0, cur.AccessToken)
}

// refresh joins the in-flight exchange or starts one, so at most one exchange
// runs at a time. stale is an access token the caller wants replaced even if
// it has not expired. The result always satisfies the refresh margin.
func (a *Authority) refresh(ctx context.Context, creds Credentials, horizon time.Duration, stale string) (Token, error) {
	tok, err := a.joinRefresh(ctx, creds, horizon, stale)
	if err == nil && stale != "" && tok.AccessToken == stale {
		// the joined flight found stale still valid and did not exchange
		tok, err = a.joinRefresh(ctx, creds, horizon, stale)
	}
	if err != nil {
		return Token{}, err
	}
	if err := a.checkLifetime(tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// joinRefresh waits on the shared flight. The exchange runs detached from
// ctx; each caller waits only as long as its own ctx allows.
func (a *Authority) joinRefresh(ctx context.Context, creds Credentials, horizon time.Duration, stale string) (Token, error) {
	ch := a.group.DoChan("refresh", func() (any, error) {
		cur := a.store.Get()
		if cur.AccessToken != stale && cur.ValidFor(a.now(), a.margin+horizon) {
			return cur, nil
		}
		return a.exchangeRefresh(context.WithoutCancel(ctx), creds, cur)
	})

	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

// checkLifetime rejects a token that expires within the refresh margin.
func (a *Authority) checkLifetime(tok Token) error {
	if tok.ValidFor(a.now(), a.margin) {
		return nil
	}
	return fmt.Errorf("%w: expires at %s, margin %s", ErrShortLivedToken,
		tok.ExpiresAt.Format(time.RFC3339), a.margin)
}

func (a *Authority) exchangeRefresh(ctx context.Context, creds Credentials, cur Token) (Token, error) {
	if cur.RefreshToken == "" {
		return Token{}, fmt.Errorf("%w: no refresh token stored", ErrReauthorizationRequired)
	}
	if cur.RefreshExpired(a.now()) {
		return Token{}, fmt.Errorf("%w: refresh token expired at %s", ErrReauthorizationRequired,
			cur.RefreshExpiresAt.Format(time.RFC3339))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cur.RefreshToken)

	delay := a.retryBase
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		issued := a.now()
		resp, err := a.postToken(ctx, creds, form)
		if err == nil {
			tok := resp.toToken(issued, cur)
			a.replace(ctx, tok)
			a.logger.Info("token refreshed", zap.Int("attempt", attempt), zap.Time("expires_at", tok.ExpiresAt))
			return tok, nil
		}

		if isRevoked(err) {
			a.logger.Error("refresh token rejected", zap.Error(err))
			return Token{}, fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
		}
		if !isTransient(err) {
			return Token{}, fmt.Errorf("refresh token: %w", err)
		}

		lastErr = err
		if attempt == a.attempts {
			break
		}
		a.logger.Warn("refresh failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Token{}, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return Token{}, fmt.Errorf("refresh token after %d attempts: %w", a.attempts, lastErr)
}

// replace stores tok. Persistence failures are logged; the token is still used.
func (a *Authority) replace(ctx context.Context, tok Token) {
	if err := a.store.Replace(ctx, tok); err != nil {
		a.logger.Error("failed to persist token", zap.Error(err))
	}
}

func (a *Authority) postToken(ctx context.Context, creds Credentials, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(creds.AppKey, creds.AppSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &oauthErr)
		return tokenResponse{}, &endpointError{StatusCode: resp.StatusCode, Code: oauthErr.Error, Body: string(body)}
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return tokenResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if out.AccessToken == "" {
		return tokenResponse{}, errors.New("decode response: missing access_token")
	}
	if out.ExpiresIn <= 0 {
		return tokenResponse{}, fmt.Errorf("decode response: expires_in %d", out.ExpiresIn)
	}
	return out, nil
}

func isRevoked(err error) bool {
	var ee *endpointError
	if !errors.As(err, &ee) {
		return false
	}
	switch ee.Code {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	switch ee.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func isTransient(err error) bool {
	var ee *endpointError
	if errors.As(err, &ee) {
		return ee.StatusCode >= 500 || ee.StatusCode == http.StatusTooManyRequests
	}
	// transport failures and undecodable bodies
	return true
}

func redirectURI(creds Credentials) string {
	if creds.RedirectURI != "" {
		return creds.RedirectURI
	}
	return DefaultRedirectURI
}

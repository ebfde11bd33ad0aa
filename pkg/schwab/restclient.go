package schwab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewRESTClient builds a client limited to requestsPerMinute calls (default 120).
func NewRESTClient(baseURL string, timeout time.Duration, tokens TokenSource, requestsPerMinute int, logger *zap.Logger) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestLimit
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1),
		logger:     logger.Named("rest"),
	}
}

// AuthenticatedGet issues GET path?params with a bearer token and decodes the
// JSON body into out. A 401 forces one token refresh and a single retry.
func (c *RESTClient) AuthenticatedGet(ctx context.Context, path string, params url.Values, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	body, err := c.get(ctx, path, params, token)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("token rejected, refreshing", zap.String("path", path))
		if token, err = c.tokens.ForceRefresh(ctx); err != nil {
			return fmt.Errorf("refresh after 401: %w", err)
		}
		body, err = c.get(ctx, path, params, token)
	}
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *RESTClient) get(ctx context.Context, path string, params url.Values, token string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	// Execute the HTTP request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	// Check HTTP status code
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: string(body)}
	}
	return body, nil
}

func (c *RESTClient) GetUserPreferences(ctx context.Context) (UserPreference, error) {
	var pref UserPreference
	if err := c.AuthenticatedGet(ctx, userPreferencePath, nil, &pref); err != nil {
		return UserPreference{}, err
	}
	return pref, nil
}

// GetStreamerInfo returns the first streamer bundle of the user preferences.
func (c *RESTClient) GetStreamerInfo(ctx context.Context) (StreamerInfo, error) {
	pref, err := c.GetUserPreferences(ctx)
	if err != nil {
		return StreamerInfo{}, fmt.Errorf("get user preferences: %w", err)
	}
	if len(pref.StreamerInfo) == 0 {
		return StreamerInfo{}, errors.New("user preferences carry no streamer info")
	}
	info := pref.StreamerInfo[0]
	if info.StreamerSocketURL == "" {
		return StreamerInfo{}, errors.New("streamer info has no socket url")
	}
	return info, nil
}

// GetQuotes returns the raw quote per symbol. fields may be nil for all.
func (c *RESTClient) GetQuotes(ctx context.Context, symbols, fields []string, indicative bool) (map[string]json.RawMessage, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	params.Set("indicative", strconv.FormatBool(indicative))

	out := map[string]json.RawMessage{}
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/quotes", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) GetQuote(ctx context.Context, symbol string, fields []string) (map[string]json.RawMessage, error) {
	params := url.Values{}
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	out := map[string]json.RawMessage{}
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/"+url.PathEscape(symbol)+"/quotes", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) GetChains(ctx context.Context, p ChainParams) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	setIfNotEmpty(params, "contractType", p.ContractType)
	setIfNotEmpty(params, "strategy", p.Strategy)
	setIfNotEmpty(params, "fromDate", p.FromDate)
	setIfNotEmpty(params, "toDate", p.ToDate)
	if p.StrikeCount > 0 {
		params.Set("strikeCount", strconv.Itoa(p.StrikeCount))
	}
	if p.IncludeUnderlyingQuote {
		params.Set("includeUnderlyingQuote", "true")
	}

	var out json.RawMessage
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/chains", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) GetExpirationChain(ctx context.Context, symbol string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out json.RawMessage
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/expirationchain", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) GetPriceHistory(ctx context.Context, p PriceHistoryParams) (PriceHistory, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	setIfNotEmpty(params, "periodType", p.PeriodType)
	setIfNotEmpty(params, "frequencyType", p.FrequencyType)
	if p.Period > 0 {
		params.Set("period", strconv.Itoa(p.Period))
	}
	if p.Frequency > 0 {
		params.Set("frequency", strconv.Itoa(p.Frequency))
	}
	if p.StartDate > 0 {
		params.Set("startDate", strconv.FormatInt(p.StartDate, 10))
	}
	if p.EndDate > 0 {
		params.Set("endDate", strconv.FormatInt(p.EndDate, 10))
	}
	params.Set("needExtendedHoursData", strconv.FormatBool(p.NeedExtendedHoursData))
	params.Set("needPreviousClose", strconv.FormatBool(p.NeedPreviousClose))

	var out PriceHistory
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/pricehistory", params, &out); err != nil {
		return PriceHistory{}, err
	}
	return out, nil
}

// GetMovers returns the top movers of index. sort and frequency may be empty.
func (c *RESTClient) GetMovers(ctx context.Context, index, sort string, frequency int) (json.RawMessage, error) {
	params := url.Values{}
	setIfNotEmpty(params, "sort", sort)
	if frequency > 0 {
		params.Set("frequency", strconv.Itoa(frequency))
	}

	var out json.RawMessage
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/movers/"+url.PathEscape(index), params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMarketHours returns hours for the given markets on date (zero date = today).
func (c *RESTClient) GetMarketHours(ctx context.Context, markets []Market, date time.Time) (json.RawMessage, error) {
	names := make([]string, len(markets))
	for i, m := range markets {
		names[i] = string(m)
	}
	params := url.Values{}
	params.Set("markets", strings.Join(names, ","))
	if !date.IsZero() {
		params.Set("date", date.Format(time.DateOnly))
	}

	var out json.RawMessage
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/markets", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) GetMarketHour(ctx context.Context, market Market, date time.Time) (json.RawMessage, error) {
	params := url.Values{}
	if !date.IsZero() {
		params.Set("date", date.Format(time.DateOnly))
	}

	var out json.RawMessage
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/markets/"+string(market), params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstruments searches instruments. projection is one of symbol-search,
// symbol-regex, desc-search, desc-regex, search, fundamental.
func (c *RESTClient) GetInstruments(ctx context.Context, symbol, projection string) ([]Instrument, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("projection", projection)

	var out struct {
		Instruments []Instrument `json:"instruments"`
	}
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/instruments", params, &out); err != nil {
		return nil, err
	}
	return out.Instruments, nil
}

func (c *RESTClient) GetInstrumentByCUSIP(ctx context.Context, cusip string) ([]Instrument, error) {
	var out struct {
		Instruments []Instrument `json:"instruments"`
	}
	if err := c.AuthenticatedGet(ctx, marketDataPath+"/instruments/"+url.PathEscape(cusip), nil, &out); err != nil {
		return nil, err
	}
	return out.Instruments, nil
}

func setIfNotEmpty(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

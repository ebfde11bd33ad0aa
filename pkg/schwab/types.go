package schwab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TokenSource hands out bearer tokens that are valid at the time of the call.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// APIError is a non-2xx answer from a REST endpoint.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("schwab %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// UserPreference is the subset of /trader/v1/userPreference used for streaming.
type UserPreference struct {
	Accounts     []json.RawMessage `json:"accounts"`
	Offers       []json.RawMessage `json:"offers"`
	StreamerInfo []StreamerInfo    `json:"streamerInfo"`
}

// StreamerInfo is the credential bundle needed to open and log into the streamer.
type StreamerInfo struct {
	StreamerSocketURL      string `json:"streamerSocketUrl"`
	SchwabClientCustomerID string `json:"schwabClientCustomerId"`
	SchwabClientCorrelID   string `json:"schwabClientCorrelId"`
	SchwabClientChannel    string `json:"schwabClientChannel"`
	SchwabClientFunctionID string `json:"schwabClientFunctionId"`
}

// Request is one streamer command.
type Request struct {
	Service    Service           `json:"service"`
	Command    Command           `json:"command"`
	RequestID  string            `json:"requestid"`
	CustomerID string            `json:"SchwabClientCustomerId"`
	CorrelID   string            `json:"SchwabClientCorrelId"`
	Parameters map[string]string `json:"parameters"`
}

// RequestEnvelope is the outbound frame.
type RequestEnvelope struct {
	Requests []Request `json:"requests"`
}

// Response is an acknowledgment from the streamer for a request.
type Response struct {
	Service   Service `json:"service"`
	Command   Command `json:"command"`
	RequestID string  `json:"requestid"`
	Code      int     `json:"code"`
	Msg       string  `json:"msg"`
}

// Candle is one bar of GetPriceHistory.
type Candle struct {
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   int64           `json:"volume"`
	Datetime int64           `json:"datetime"` // ms since epoch
}

type PriceHistory struct {
	Symbol        string              `json:"symbol"`
	Empty         bool                `json:"empty"`
	Candles       []Candle            `json:"candles"`
	PreviousClose decimal.NullDecimal `json:"previousClose"`
}

// PriceHistoryParams mirrors the query parameters of /pricehistory. Zero values are omitted.
type PriceHistoryParams struct {
	Symbol                string
	PeriodType            string // day, month, year, ytd
	Period                int
	FrequencyType         string // minute, daily, weekly, monthly
	Frequency             int
	StartDate             int64 // ms since epoch
	EndDate               int64
	NeedExtendedHoursData bool
	NeedPreviousClose     bool
}

// ChainParams mirrors the query parameters of /chains. Zero values are omitted.
type ChainParams struct {
	Symbol                 string
	ContractType           string // CALL, PUT, ALL
	StrikeCount            int
	IncludeUnderlyingQuote bool
	Strategy               string
	FromDate               string // yyyy-MM-dd
	ToDate                 string
}

// Instrument is one entry of an instrument search.
type Instrument struct {
	Cusip       string `json:"cusip"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	AssetType   string `json:"assetType"`
}

package schwab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubTokens serves "token-N", bumping N on every forced refresh.
type stubTokens struct {
	mu        sync.Mutex
	current   string
	refreshes int
}

func (s *stubTokens) AccessToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *stubTokens) ForceRefresh(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.current = "refreshed"
	return s.current, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RESTClient, *stubTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := &stubTokens{current: "initial"}
	// generous limit so tests are not throttled
	return NewRESTClient(srv.URL, 5*time.Second, tokens, 60000, zap.NewNop()), tokens
}

// go test -v --run TestGetStreamerInfo
func TestGetStreamerInfo(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trader/v1/userPreference", r.URL.Path)
		assert.Equal(t, "Bearer initial", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"accounts":[],"streamerInfo":[{
			"streamerSocketUrl":"wss://streamer.example/ws",
			"schwabClientCustomerId":"cust",
			"schwabClientCorrelId":"corr",
			"schwabClientChannel":"N9",
			"schwabClientFunctionId":"APIAPP"}]}`))
	})

	info, err := client.GetStreamerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://streamer.example/ws", info.StreamerSocketURL)
	assert.Equal(t, "cust", info.SchwabClientCustomerID)
	assert.Equal(t, "corr", info.SchwabClientCorrelID)
	assert.Equal(t, "N9", info.SchwabClientChannel)
	assert.Equal(t, "APIAPP", info.SchwabClientFunctionID)
}

// go test -v --run TestGetStreamerInfoMissing
func TestGetStreamerInfoMissing(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"streamerInfo":[]}`))
	})

	_, err := client.GetStreamerInfo(context.Background())
	assert.Error(t, err)
}

// go test -v --run TestAuthenticatedGetRetriesOnce
func TestAuthenticatedGetRetriesOnce(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer refreshed" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"SPY":{"symbol":"SPY"}}`))
	})

	quotes, err := client.GetQuotes(context.Background(), []string{"SPY"}, nil, false)
	require.NoError(t, err)
	assert.Contains(t, quotes, "SPY")
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, []string{"Bearer initial", "Bearer refreshed"}, seen)
}

// go test -v --run TestAuthenticatedGetUnauthorizedTwice
func TestAuthenticatedGetUnauthorizedTwice(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	})

	err := client.AuthenticatedGet(context.Background(), "/marketdata/v1/quotes", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, 1, tokens.refreshes, "only one refresh per call")
}

// go test -v --run TestAuthenticatedGetAPIError
func TestAuthenticatedGetAPIError(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not here`))
	})

	_, err := client.GetExpirationChain(context.Background(), "SPY")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not here", apiErr.Body)
	assert.Zero(t, tokens.refreshes)
}

// go test -v --run TestGetPriceHistory
func TestGetPriceHistory(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/marketdata/v1/pricehistory", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "AAPL", q.Get("symbol"))
		assert.Equal(t, "day", q.Get("periodType"))
		assert.Equal(t, "minute", q.Get("frequencyType"))
		assert.Equal(t, "5", q.Get("frequency"))
		assert.Equal(t, "1700000000000", q.Get("startDate"))
		_, _ = w.Write([]byte(`{"symbol":"AAPL","empty":false,"previousClose":189.95,
			"candles":[{"open":190.1,"high":190.5,"low":189.9,"close":190.25,"volume":1200,"datetime":1700000000000}]}`))
	})

	hist, err := client.GetPriceHistory(context.Background(), PriceHistoryParams{
		Symbol:        "AAPL",
		PeriodType:    "day",
		FrequencyType: "minute",
		Frequency:     5,
		StartDate:     1700000000000,
	})
	require.NoError(t, err)
	require.Len(t, hist.Candles, 1)
	assert.Equal(t, "190.25", hist.Candles[0].Close.String())
	assert.True(t, hist.PreviousClose.Valid)
	assert.Equal(t, "189.95", hist.PreviousClose.Decimal.String())
}

// go test -v --run TestGetMarketHours
func TestGetMarketHours(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/marketdata/v1/markets", r.URL.Path)
		assert.Equal(t, "equity,option", r.URL.Query().Get("markets"))
		assert.Equal(t, "2026-03-02", r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(`{"equity":{}}`))
	})

	out, err := client.GetMarketHours(context.Background(), []Market{MarketEquity, MarketOption},
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.JSONEq(t, `{"equity":{}}`, string(out))
}

// go test -v --run TestGetInstruments
func TestGetInstruments(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/marketdata/v1/instruments":
			assert.Equal(t, "symbol-search", r.URL.Query().Get("projection"))
			_, _ = w.Write([]byte(`{"instruments":[{"cusip":"037833100","symbol":"AAPL","assetType":"EQUITY"}]}`))
		case "/marketdata/v1/instruments/037833100":
			_, _ = w.Write([]byte(`{"instruments":[{"cusip":"037833100","symbol":"AAPL"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	found, err := client.GetInstruments(context.Background(), "AAPL", "symbol-search")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "037833100", found[0].Cusip)

	byCusip, err := client.GetInstrumentByCUSIP(context.Background(), "037833100")
	require.NoError(t, err)
	require.Len(t, byCusip, 1)
	assert.Equal(t, "AAPL", byCusip[0].Symbol)
}

// go test -v --run TestNormalizeFields
func TestNormalizeFields(t *testing.T) {
	ids, err := NormalizeFields(ServiceLevelOneEquities, []string{"ask", "bid", "1", "bidPrice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, err = NormalizeFields(ServiceLevelOneEquities, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = NormalizeFields(ServiceLevelOneEquities, []string{"52"})
	assert.Error(t, err)

	_, err = NormalizeFields(ServiceLevelOneOptions, []string{"notAField"})
	assert.Error(t, err)

	ids, err = NormalizeFields(ServiceLevelOneOptions, []string{"strike", "delta"})
	require.NoError(t, err)
	assert.Equal(t, []string{"20", "28"}, ids)

	name, ok := FieldName(ServiceLevelOneEquities, 1)
	require.True(t, ok)
	assert.Equal(t, "bidPrice", name)
	_, ok = FieldName(ServiceLevelOneFutures, 41)
	assert.False(t, ok)
}

// go test -v --run TestWireFields
func TestWireFields(t *testing.T) {
	assert.Equal(t, "0,1,2", WireFields(ServiceLevelOneEquities, []string{"1", "2"}))
	assert.Equal(t, "0,3", WireFields(ServiceLevelOneEquities, []string{"0", "3"}))

	all := WireFields(ServiceLevelOneFutures, nil)
	assert.True(t, len(all) > 0)
	assert.Equal(t, "0,1,2", all[:5])
	assert.Contains(t, all, ",40")
	assert.NotContains(t, all, ",41")
}

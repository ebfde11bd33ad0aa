package schwab

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Field names per service, indexed by streamer field id. Id 0 is always the key.
var equityFieldNames = []string{
	"symbol", "bidPrice", "askPrice", "lastPrice", "bidSize", "askSize", "askId", "bidId",
	"totalVolume", "lastSize", "highPrice", "lowPrice", "closePrice", "exchangeId", "marginable",
	"description", "lastId", "openPrice", "netChange", "52WeekHigh", "52WeekLow", "peRatio",
	"annualDividendAmount", "dividendYield", "nav", "exchangeName", "dividendDate",
	"regularMarketQuote", "regularMarketTrade", "regularMarketLastPrice", "regularMarketLastSize",
	"regularMarketNetChange", "securityStatus", "markPrice", "quoteTime", "tradeTime",
	"regularMarketTradeTime", "bidTime", "askTime", "askMicId", "bidMicId", "lastMicId",
	"netPercentChange", "regularMarketPercentChange", "markPriceNetChange",
	"markPricePercentChange", "hardToBorrowQuantity", "hardToBorrowRate", "hardToBorrow",
	"shortable", "postMarketNetChange", "postMarketPercentChange",
}

var optionFieldNames = []string{
	"symbol", "description", "bidPrice", "askPrice", "lastPrice", "highPrice", "lowPrice",
	"closePrice", "totalVolume", "openInterest", "volatility", "moneyIntrinsicValue",
	"expirationYear", "multiplier", "digits", "openPrice", "bidSize", "askSize", "lastSize",
	"netChange", "strikePrice", "contractType", "underlying", "expirationMonth", "deliverables",
	"timeValue", "expirationDay", "daysToExpiration", "delta", "gamma", "theta", "vega", "rho",
	"securityStatus", "theoreticalOptionValue", "underlyingPrice", "uvExpirationType",
	"markPrice", "quoteTime", "tradeTime", "exchange", "exchangeName", "lastTradingDay",
	"settlementType", "netPercentChange", "markPriceNetChange", "markPricePercentChange",
	"impliedYield", "isPennyPilot", "optionRoot", "52WeekHigh", "52WeekLow",
	"indicativeAskPrice", "indicativeBidPrice", "indicativeQuoteTime", "exerciseType",
}

var futureFieldNames = []string{
	"symbol", "bidPrice", "askPrice", "lastPrice", "bidSize", "askSize", "bidId", "askId",
	"totalVolume", "lastSize", "quoteTime", "tradeTime", "highPrice", "lowPrice", "closePrice",
	"exchangeId", "description", "lastId", "openPrice", "netChange", "futurePercentChange",
	"exchangeName", "securityStatus", "openInterest", "mark", "tick", "tickAmount", "product",
	"futurePriceFormat", "futureTradingHours", "futureIsTradable", "futureMultiplier",
	"futureIsActive", "futureSettlementPrice", "futureActiveSymbol", "futureExpirationDate",
	"expirationStyle", "askTime", "bidTime", "quotedInSession", "settlementDate",
}

var serviceFields = map[Service][]string{
	ServiceLevelOneEquities: equityFieldNames,
	ServiceLevelOneOptions:  optionFieldNames,
	ServiceLevelOneFutures:  futureFieldNames,
}

// fieldAliases maps lower-cased short names to ids, per service.
var fieldAliases = func() map[Service]map[string]int {
	short := map[string]string{
		"bid": "bidprice", "ask": "askprice", "last": "lastprice", "high": "highprice",
		"low": "lowprice", "close": "closeprice", "open": "openprice", "mark": "markprice",
		"volume": "totalvolume", "strike": "strikeprice",
	}
	out := make(map[Service]map[string]int, len(serviceFields))
	for svc, names := range serviceFields {
		m := make(map[string]int, len(names)+len(short))
		for id, name := range names {
			m[strings.ToLower(name)] = id
		}
		for alias, target := range short {
			if id, ok := m[target]; ok {
				if _, taken := m[alias]; !taken {
					m[alias] = id
				}
			}
		}
		out[svc] = m
	}
	return out
}()

// FieldName returns the name of field id for service.
func FieldName(service Service, id int) (string, bool) {
	names, ok := serviceFields[service]
	if !ok || id < 0 || id >= len(names) {
		return "", false
	}
	return names[id], true
}

// ParseField resolves a numeric id or a field name (case-insensitive) to its id.
func ParseField(service Service, s string) (int, error) {
	names, ok := serviceFields[service]
	if !ok {
		return 0, fmt.Errorf("service %s has no fields", service)
	}
	if id, err := strconv.Atoi(s); err == nil {
		if id < 0 || id >= len(names) {
			return 0, fmt.Errorf("field id %d out of range for %s", id, service)
		}
		return id, nil
	}
	if id, ok := fieldAliases[service][strings.ToLower(s)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown field %q for %s", s, service)
}

// NormalizeFields converts names or ids to sorted, de-duplicated numeric ids.
// An empty input stays empty and means all fields.
func NormalizeFields(service Service, fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	seen := make(map[int]struct{}, len(fields))
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := ParseField(service, strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.Itoa(id)
	}
	return out, nil
}

// WireFields renders the "fields" parameter: all ids when fields is empty,
// otherwise the given ids with the key field 0 first.
func WireFields(service Service, fields []string) string {
	if len(fields) == 0 {
		names := serviceFields[service]
		all := make([]string, len(names))
		for i := range names {
			all[i] = strconv.Itoa(i)
		}
		return strings.Join(all, ",")
	}
	if fields[0] != "0" {
		fields = append([]string{"0"}, fields...)
	}
	return strings.Join(fields, ",")
}

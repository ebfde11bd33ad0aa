package stream

import (
	"time"

	"github.com/shopspring/decimal"

	"schwabstream/pkg/schwab"
)

// StreamerMessage is one decoded quote update. The concrete type is one of
// *LevelOneEquity, *LevelOneOption or *LevelOneFuture. Fields absent from a
// partial update are nil (or NullDecimal with Valid false).
type StreamerMessage interface {
	Service() schwab.Service
	Key() string
	isStreamerMessage()
}

// LevelOneEquity is a LEVELONE_EQUITIES update.
type LevelOneEquity struct {
	Symbol        string
	Timestamp     time.Time // envelope timestamp
	Delayed       *bool
	AssetMainType *string
	AssetSubType  *string
	Cusip         *string

	BidPrice                   decimal.NullDecimal
	AskPrice                   decimal.NullDecimal
	LastPrice                  decimal.NullDecimal
	BidSize                    *int64
	AskSize                    *int64
	AskID                      *string
	BidID                      *string
	TotalVolume                *int64
	LastSize                   *int64
	HighPrice                  decimal.NullDecimal
	LowPrice                   decimal.NullDecimal
	ClosePrice                 decimal.NullDecimal
	ExchangeID                 *string
	Marginable                 *bool
	Description                *string
	LastID                     *string
	OpenPrice                  decimal.NullDecimal
	NetChange                  decimal.NullDecimal
	High52Week                 decimal.NullDecimal
	Low52Week                  decimal.NullDecimal
	PERatio                    decimal.NullDecimal
	AnnualDividendAmount       decimal.NullDecimal
	DividendYield              decimal.NullDecimal
	NAV                        decimal.NullDecimal
	ExchangeName               *string
	DividendDate               *string
	RegularMarketQuote         *bool
	RegularMarketTrade         *bool
	RegularMarketLastPrice     decimal.NullDecimal
	RegularMarketLastSize      *int64
	RegularMarketNetChange     decimal.NullDecimal
	SecurityStatus             *string
	MarkPrice                  decimal.NullDecimal
	QuoteTime                  *time.Time
	TradeTime                  *time.Time
	RegularMarketTradeTime     *time.Time
	BidTime                    *time.Time
	AskTime                    *time.Time
	AskMICID                   *string
	BidMICID                   *string
	LastMICID                  *string
	NetPercentChange           decimal.NullDecimal
	RegularMarketPercentChange decimal.NullDecimal
	MarkPriceNetChange         decimal.NullDecimal
	MarkPricePercentChange     decimal.NullDecimal
	HardToBorrowQuantity       *int64
	HardToBorrowRate           decimal.NullDecimal
	HardToBorrow               *int64
	Shortable                  *int64
	PostMarketNetChange        decimal.NullDecimal
	PostMarketPercentChange    decimal.NullDecimal
}

func (*LevelOneEquity) Service() schwab.Service { return schwab.ServiceLevelOneEquities }

func (m *LevelOneEquity) Key() string { return m.Symbol }

func (*LevelOneEquity) isStreamerMessage() {}

func (m *LevelOneEquity) field(id int) any {
	switch id {
	case 1:
		return &m.BidPrice
	case 2:
		return &m.AskPrice
	case 3:
		return &m.LastPrice
	case 4:
		return &m.BidSize
	case 5:
		return &m.AskSize
	case 6:
		return &m.AskID
	case 7:
		return &m.BidID
	case 8:
		return &m.TotalVolume
	case 9:
		return &m.LastSize
	case 10:
		return &m.HighPrice
	case 11:
		return &m.LowPrice
	case 12:
		return &m.ClosePrice
	case 13:
		return &m.ExchangeID
	case 14:
		return &m.Marginable
	case 15:
		return &m.Description
	case 16:
		return &m.LastID
	case 17:
		return &m.OpenPrice
	case 18:
		return &m.NetChange
	case 19:
		return &m.High52Week
	case 20:
		return &m.Low52Week
	case 21:
		return &m.PERatio
	case 22:
		return &m.AnnualDividendAmount
	case 23:
		return &m.DividendYield
	case 24:
		return &m.NAV
	case 25:
		return &m.ExchangeName
	case 26:
		return &m.DividendDate
	case 27:
		return &m.RegularMarketQuote
	case 28:
		return &m.RegularMarketTrade
	case 29:
		return &m.RegularMarketLastPrice
	case 30:
		return &m.RegularMarketLastSize
	case 31:
		return &m.RegularMarketNetChange
	case 32:
		return &m.SecurityStatus
	case 33:
		return &m.MarkPrice
	case 34:
		return &m.QuoteTime
	case 35:
		return &m.TradeTime
	case 36:
		return &m.RegularMarketTradeTime
	case 37:
		return &m.BidTime
	case 38:
		return &m.AskTime
	case 39:
		return &m.AskMICID
	case 40:
		return &m.BidMICID
	case 41:
		return &m.LastMICID
	case 42:
		return &m.NetPercentChange
	case 43:
		return &m.RegularMarketPercentChange
	case 44:
		return &m.MarkPriceNetChange
	case 45:
		return &m.MarkPricePercentChange
	case 46:
		return &m.HardToBorrowQuantity
	case 47:
		return &m.HardToBorrowRate
	case 48:
		return &m.HardToBorrow
	case 49:
		return &m.Shortable
	case 50:
		return &m.PostMarketNetChange
	case 51:
		return &m.PostMarketPercentChange
	}
	return nil
}

// LevelOneOption is a LEVELONE_OPTIONS update.
type LevelOneOption struct {
	Symbol    string
	Timestamp time.Time
	Delayed   *bool

	Description            *string
	BidPrice               decimal.NullDecimal
	AskPrice               decimal.NullDecimal
	LastPrice              decimal.NullDecimal
	HighPrice              decimal.NullDecimal
	LowPrice               decimal.NullDecimal
	ClosePrice             decimal.NullDecimal
	TotalVolume            *int64
	OpenInterest           *int64
	Volatility             decimal.NullDecimal
	MoneyIntrinsicValue    decimal.NullDecimal
	ExpirationYear         *int64
	Multiplier             decimal.NullDecimal
	Digits                 *int64
	OpenPrice              decimal.NullDecimal
	BidSize                *int64
	AskSize                *int64
	LastSize               *int64
	NetChange              decimal.NullDecimal
	StrikePrice            decimal.NullDecimal
	ContractType           *string
	Underlying             *string
	ExpirationMonth        *int64
	Deliverables           *string
	TimeValue              decimal.NullDecimal
	ExpirationDay          *int64
	DaysToExpiration       *int64
	Delta                  decimal.NullDecimal
	Gamma                  decimal.NullDecimal
	Theta                  decimal.NullDecimal
	Vega                   decimal.NullDecimal
	Rho                    decimal.NullDecimal
	SecurityStatus         *string
	TheoreticalOptionValue decimal.NullDecimal
	UnderlyingPrice        decimal.NullDecimal
	UVExpirationType       *string
	MarkPrice              decimal.NullDecimal
	QuoteTime              *time.Time
	TradeTime              *time.Time
	Exchange               *string
	ExchangeName           *string
	LastTradingDay         *time.Time
	SettlementType         *string
	NetPercentChange       decimal.NullDecimal
	MarkPriceNetChange     decimal.NullDecimal
	MarkPricePercentChange decimal.NullDecimal
	ImpliedYield           decimal.NullDecimal
	IsPennyPilot           *bool
	OptionRoot             *string
	High52Week             decimal.NullDecimal
	Low52Week              decimal.NullDecimal
	IndicativeAskPrice     decimal.NullDecimal
	IndicativeBidPrice     decimal.NullDecimal
	IndicativeQuoteTime    *time.Time
	ExerciseType           *string
}

func (*LevelOneOption) Service() schwab.Service { return schwab.ServiceLevelOneOptions }

func (m *LevelOneOption) Key() string { return m.Symbol }

func (*LevelOneOption) isStreamerMessage() {}

func (m *LevelOneOption) field(id int) any {
	switch id {
	case 1:
		return &m.Description
	case 2:
		return &m.BidPrice
	case 3:
		return &m.AskPrice
	case 4:
		return &m.LastPrice
	case 5:
		return &m.HighPrice
	case 6:
		return &m.LowPrice
	case 7:
		return &m.ClosePrice
	case 8:
		return &m.TotalVolume
	case 9:
		return &m.OpenInterest
	case 10:
		return &m.Volatility
	case 11:
		return &m.MoneyIntrinsicValue
	case 12:
		return &m.ExpirationYear
	case 13:
		return &m.Multiplier
	case 14:
		return &m.Digits
	case 15:
		return &m.OpenPrice
	case 16:
		return &m.BidSize
	case 17:
		return &m.AskSize
	case 18:
		return &m.LastSize
	case 19:
		return &m.NetChange
	case 20:
		return &m.StrikePrice
	case 21:
		return &m.ContractType
	case 22:
		return &m.Underlying
	case 23:
		return &m.ExpirationMonth
	case 24:
		return &m.Deliverables
	case 25:
		return &m.TimeValue
	case 26:
		return &m.ExpirationDay
	case 27:
		return &m.DaysToExpiration
	case 28:
		return &m.Delta
	case 29:
		return &m.Gamma
	case 30:
		return &m.Theta
	case 31:
		return &m.Vega
	case 32:
		return &m.Rho
	case 33:
		return &m.SecurityStatus
	case 34:
		return &m.TheoreticalOptionValue
	case 35:
		return &m.UnderlyingPrice
	case 36:
		return &m.UVExpirationType
	case 37:
		return &m.MarkPrice
	case 38:
		return &m.QuoteTime
	case 39:
		return &m.TradeTime
	case 40:
		return &m.Exchange
	case 41:
		return &m.ExchangeName
	case 42:
		return &m.LastTradingDay
	case 43:
		return &m.SettlementType
	case 44:
		return &m.NetPercentChange
	case 45:
		return &m.MarkPriceNetChange
	case 46:
		return &m.MarkPricePercentChange
	case 47:
		return &m.ImpliedYield
	case 48:
		return &m.IsPennyPilot
	case 49:
		return &m.OptionRoot
	case 50:
		return &m.High52Week
	case 51:
		return &m.Low52Week
	case 52:
		return &m.IndicativeAskPrice
	case 53:
		return &m.IndicativeBidPrice
	case 54:
		return &m.IndicativeQuoteTime
	case 55:
		return &m.ExerciseType
	}
	return nil
}

// LevelOneFuture is a LEVELONE_FUTURES update.
type LevelOneFuture struct {
	Symbol    string
	Timestamp time.Time
	Delayed   *bool

	BidPrice              decimal.NullDecimal
	AskPrice              decimal.NullDecimal
	LastPrice             decimal.NullDecimal
	BidSize               *int64
	AskSize               *int64
	BidID                 *string
	AskID                 *string
	TotalVolume           *int64
	LastSize              *int64
	QuoteTime             *time.Time
	TradeTime             *time.Time
	HighPrice             decimal.NullDecimal
	LowPrice              decimal.NullDecimal
	ClosePrice            decimal.NullDecimal
	ExchangeID            *string
	Description           *string
	LastID                *string
	OpenPrice             decimal.NullDecimal
	NetChange             decimal.NullDecimal
	FuturePercentChange   decimal.NullDecimal
	ExchangeName          *string
	SecurityStatus        *string
	OpenInterest          *int64
	Mark                  decimal.NullDecimal
	Tick                  decimal.NullDecimal
	TickAmount            decimal.NullDecimal
	Product               *string
	FuturePriceFormat     *string
	FutureTradingHours    *string
	FutureIsTradable      *bool
	FutureMultiplier      decimal.NullDecimal
	FutureIsActive        *bool
	FutureSettlementPrice decimal.NullDecimal
	FutureActiveSymbol    *string
	FutureExpirationDate  *time.Time
	ExpirationStyle       *string
	AskTime               *time.Time
	BidTime               *time.Time
	QuotedInSession       *bool
	SettlementDate        *time.Time
}

func (*LevelOneFuture) Service() schwab.Service { return schwab.ServiceLevelOneFutures }

func (m *LevelOneFuture) Key() string { return m.Symbol }

func (*LevelOneFuture) isStreamerMessage() {}

func (m *LevelOneFuture) field(id int) any {
	switch id {
	case 1:
		return &m.BidPrice
	case 2:
		return &m.AskPrice
	case 3:
		return &m.LastPrice
	case 4:
		return &m.BidSize
	case 5:
		return &m.AskSize
	case 6:
		return &m.BidID
	case 7:
		return &m.AskID
	case 8:
		return &m.TotalVolume
	case 9:
		return &m.LastSize
	case 10:
		return &m.QuoteTime
	case 11:
		return &m.TradeTime
	case 12:
		return &m.HighPrice
	case 13:
		return &m.LowPrice
	case 14:
		return &m.ClosePrice
	case 15:
		return &m.ExchangeID
	case 16:
		return &m.Description
	case 17:
		return &m.LastID
	case 18:
		return &m.OpenPrice
	case 19:
		return &m.NetChange
	case 20:
		return &m.FuturePercentChange
	case 21:
		return &m.ExchangeName
	case 22:
		return &m.SecurityStatus
	case 23:
		return &m.OpenInterest
	case 24:
		return &m.Mark
	case 25:
		return &m.Tick
	case 26:
		return &m.TickAmount
	case 27:
		return &m.Product
	case 28:
		return &m.FuturePriceFormat
	case 29:
		return &m.FutureTradingHours
	case 30:
		return &m.FutureIsTradable
	case 31:
		return &m.FutureMultiplier
	case 32:
		return &m.FutureIsActive
	case 33:
		return &m.FutureSettlementPrice
	case 34:
		return &m.FutureActiveSymbol
	case 35:
		return &m.FutureExpirationDate
	case 36:
		return &m.ExpirationStyle
	case 37:
		return &m.AskTime
	case 38:
		return &m.BidTime
	case 39:
		return &m.QuotedInSession
	case 40:
		return &m.SettlementDate
	}
	return nil
}
